package repository

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/inkforge/inkforge/internal/model"
)

// Common errors for artifact repository operations.
var (
	ErrArtifactOwnerMissing = errors.New("artifact owner does not exist")
	ErrInvalidCursor        = errors.New("invalid pagination cursor")
)

// PaginationCursor represents decoded cursor for pagination.
type PaginationCursor struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateArtifact appends an artifact. Artifacts are never updated.
func (r *Repository) CreateArtifact(ctx context.Context, a *model.Artifact) error {
	query := `
		INSERT INTO artifacts (id, user_id, prompt, style, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		a.ID,
		a.UserID,
		a.Prompt,
		a.Style,
		a.Content,
		a.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrArtifactOwnerMissing
		}
		return fmt.Errorf("failed to create artifact: %w", err)
	}

	return nil
}

// ListArtifactsByUser returns up to limit artifacts owned by userID, newest
// first, and a cursor for the next page when more remain.
func (r *Repository) ListArtifactsByUser(ctx context.Context, userID string, limit int, cursor string) ([]*model.Artifact, string, error) {
	query := `
		SELECT id, user_id, prompt, style, content, created_at
		FROM artifacts
		WHERE user_id = $1
	`
	args := []interface{}{userID}

	if cursor != "" {
		c, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", ErrInvalidCursor
		}
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, c.CreatedAt, c.ID)
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args)+1)
	args = append(args, limit+1) // Fetch one extra to determine hasMore

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	artifacts := make([]*model.Artifact, 0, limit)
	for rows.Next() {
		var a model.Artifact
		if err := rows.Scan(&a.ID, &a.UserID, &a.Prompt, &a.Style, &a.Content, &a.CreatedAt); err != nil {
			return nil, "", fmt.Errorf("failed to scan artifact: %w", err)
		}
		artifacts = append(artifacts, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("error iterating artifacts: %w", err)
	}

	var nextCursor string
	if len(artifacts) > limit {
		artifacts = artifacts[:limit] // Remove extra row
		last := artifacts[len(artifacts)-1]
		nextCursor = encodeCursor(&PaginationCursor{
			ID:        last.ID,
			CreatedAt: last.CreatedAt,
		})
	}

	return artifacts, nextCursor, nil
}

// encodeCursor encodes pagination cursor to base64.
func encodeCursor(cursor *PaginationCursor) string {
	data, _ := json.Marshal(cursor)
	return base64.URLEncoding.EncodeToString(data)
}

// decodeCursor decodes base64 pagination cursor.
func decodeCursor(s string) (*PaginationCursor, error) {
	data, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}

	var cursor PaginationCursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, err
	}
	if cursor.ID == "" || cursor.CreatedAt.IsZero() {
		return nil, ErrInvalidCursor
	}

	return &cursor, nil
}
