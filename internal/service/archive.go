package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/inkforge/inkforge/internal/model"
	"github.com/inkforge/inkforge/internal/repository"
)

// Archive errors.
var (
	ErrInvalidCursor = errors.New("invalid pagination cursor")
)

const (
	// MaxLibraryItems caps a single library listing.
	MaxLibraryItems = 20
)

// ArtifactStore is the append-only persistence behind the Archive.
type ArtifactStore interface {
	CreateArtifact(ctx context.Context, a *model.Artifact) error
	ListArtifactsByUser(ctx context.Context, userID string, limit int, cursor string) ([]*model.Artifact, string, error)
}

// Archive records delivered artifacts and lists them newest first.
type Archive struct {
	store ArtifactStore
	now   func() time.Time
}

// NewArchive creates a new Archive.
func NewArchive(store ArtifactStore) *Archive {
	return &Archive{store: store, now: time.Now}
}

// Write appends a new artifact for userID.
func (a *Archive) Write(ctx context.Context, userID, prompt, style, content string) (*model.Artifact, error) {
	artifact := &model.Artifact{
		ID:        ulid.Make().String(),
		UserID:    userID,
		Prompt:    strings.TrimSpace(prompt),
		Style:     model.NormalizeStyle(style),
		Content:   content,
		CreatedAt: a.now().UTC(),
	}

	if err := a.store.CreateArtifact(ctx, artifact); err != nil {
		return nil, fmt.Errorf("write artifact: %w", err)
	}
	return artifact, nil
}

// List returns the user's artifacts ordered newest first. limit is clamped
// to [1, MaxLibraryItems]; zero or negative selects the maximum.
func (a *Archive) List(ctx context.Context, userID string, limit int, cursor string) ([]*model.Artifact, string, error) {
	artifacts, next, err := a.store.ListArtifactsByUser(ctx, userID, clampLimit(limit), cursor)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidCursor) {
			return nil, "", ErrInvalidCursor
		}
		return nil, "", fmt.Errorf("list artifacts: %w", err)
	}
	if artifacts == nil {
		artifacts = []*model.Artifact{}
	}
	return artifacts, next, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxLibraryItems {
		return MaxLibraryItems
	}
	return limit
}
