// Package dto defines the JSON shapes of the HTTP API.
package dto

import (
	"time"

	"github.com/inkforge/inkforge/internal/model"
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// LibraryResponse is the body of GET /api/library.
type LibraryResponse struct {
	Images     []*model.Artifact `json:"images"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// MeResponse is the body of GET /api/me.
type MeResponse struct {
	ID      string     `json:"id"`
	Email   string     `json:"email"`
	Name    string     `json:"name,omitempty"`
	Image   string     `json:"image,omitempty"`
	Credits int        `json:"credits"`
	Plan    model.Plan `json:"plan"`
}

// ToMeResponse converts a user to its API shape.
func ToMeResponse(u *model.User) MeResponse {
	return MeResponse{
		ID:      u.ID,
		Email:   u.Email,
		Name:    u.Name,
		Image:   u.Image,
		Credits: u.Credits,
		Plan:    u.Plan,
	}
}

// UsageDay is one day of GET /api/usage.
type UsageDay struct {
	Date          string `json:"date"` // YYYY-MM-DD, UTC
	Delivered     int64  `json:"delivered"`
	Refunded      int64  `json:"refunded"`
	PersistFailed int64  `json:"persist_failed"`
}

// UsageResponse is the body of GET /api/usage.
type UsageResponse struct {
	Days   int        `json:"days"`
	Totals UsageDay   `json:"totals"`
	Usage  []UsageDay `json:"usage"`
}

// ToUsageResponse converts daily counters, newest first, and sums them.
func ToUsageResponse(days int, rows []*model.DailyUsage) UsageResponse {
	resp := UsageResponse{Days: days, Usage: make([]UsageDay, 0, len(rows))}
	for _, row := range rows {
		resp.Usage = append(resp.Usage, UsageDay{
			Date:          row.Date.UTC().Format(time.DateOnly),
			Delivered:     row.Delivered,
			Refunded:      row.Refunded,
			PersistFailed: row.PersistFailed,
		})
		resp.Totals.Delivered += row.Delivered
		resp.Totals.Refunded += row.Refunded
		resp.Totals.PersistFailed += row.PersistFailed
	}
	return resp
}

// CreditHistoryResponse is the body of GET /api/credits.
type CreditHistoryResponse struct {
	Transactions []*model.CreditTransaction `json:"transactions"`
}
