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

// AccountReader exposes the caller's account views.
type AccountReader interface {
	Me(ctx context.Context, userID string) (*model.User, error)
	CreditHistory(ctx context.Context, userID string, limit int) ([]*model.CreditTransaction, error)
	DailyUsage(ctx context.Context, userID string, days int) ([]*model.DailyUsage, error)
}

// AccountHandler handles /api/me, /api/credits and /api/usage.
type AccountHandler struct {
	svc    AccountReader
	logger *slog.Logger
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(svc AccountReader, logger *slog.Logger) *AccountHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountHandler{svc: svc, logger: logger}
}

// Me handles GET /api/me. Clients re-read it after a generation to refresh
// the displayed balance.
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, msgUnauthorized)
		return
	}

	user, err := h.svc.Me(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToMeResponse(user))
}

// Credits handles GET /api/credits?limit=N.
func (h *AccountHandler) Credits(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, msgUnauthorized)
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}

	txs, err := h.svc.CreditHistory(r.Context(), userID, limit)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.CreditHistoryResponse{Transactions: txs})
}

// Usage handles GET /api/usage?days=N.
func (h *AccountHandler) Usage(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, msgUnauthorized)
		return
	}

	days := 0
	if d := r.URL.Query().Get("days"); d != "" {
		parsed, err := strconv.Atoi(d)
		if err != nil {
			writeError(w, http.StatusBadRequest, service.ErrInvalidDays.Error())
			return
		}
		days = parsed
	}

	rows, err := h.svc.DailyUsage(r.Context(), userID, days)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if days == 0 {
		days = service.DefaultUsageDays
	}

	writeJSON(w, http.StatusOK, dto.ToUsageResponse(days, rows))
}

func (h *AccountHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, service.ErrInvalidDays):
		writeError(w, http.StatusBadRequest, service.ErrInvalidDays.Error())
	default:
		h.logger.Error("internal_error",
			"error", err,
			"request_id", middleware.GetRequestID(r.Context()),
		)
		writeError(w, http.StatusInternalServerError, msgInternalError)
	}
}
