package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/inkforge/inkforge/internal/auth"
	"github.com/inkforge/inkforge/internal/handler/dto"
	"github.com/inkforge/inkforge/internal/middleware"
	"github.com/inkforge/inkforge/internal/model"
	"github.com/inkforge/inkforge/internal/service"
)

// ArtifactLister lists a user's artifacts newest first.
type ArtifactLister interface {
	List(ctx context.Context, userID string, limit int, cursor string) ([]*model.Artifact, string, error)
}

// LibraryHandler handles GET /api/library.
type LibraryHandler struct {
	archive ArtifactLister
	logger  *slog.Logger
}

// NewLibraryHandler creates a new LibraryHandler.
func NewLibraryHandler(archive ArtifactLister, logger *slog.Logger) *LibraryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LibraryHandler{archive: archive, logger: logger}
}

// List handles GET /api/library.
// Optional query: limit (1..20, default 20) and cursor from a previous page.
func (h *LibraryHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, msgUnauthorized)
		return
	}

	query := r.URL.Query()

	limit := 0
	if l := query.Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}

	images, next, err := h.archive.List(r.Context(), userID, limit, query.Get("cursor"))
	if err != nil {
		if errors.Is(err, service.ErrInvalidCursor) {
			writeError(w, http.StatusBadRequest, "Invalid cursor")
			return
		}
		h.logger.Error("library fetch failed",
			"error", err,
			"user_id", userID,
			"request_id", middleware.GetRequestID(r.Context()),
		)
		writeError(w, http.StatusInternalServerError, msgInternalError)
		return
	}

	writeJSON(w, http.StatusOK, dto.LibraryResponse{Images: images, NextCursor: next})
}
