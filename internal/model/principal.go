package model

import "time"

// Principal is an authenticated caller resolved from a session token.
// It is injected into the request context by the auth middleware and
// passed explicitly into service calls.
type Principal struct {
	UserID    string
	Email     string
	Name      string
	ExpiresAt time.Time
}

// IsValid returns true if the principal carries a usable user id.
func (p *Principal) IsValid() bool {
	return p != nil && p.UserID != ""
}
