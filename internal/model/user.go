// Package model defines domain entities for the application.
package model

import "time"

// Plan is the subscription tier of a user.
type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

// IsValid checks if the plan is a known value.
func (p Plan) IsValid() bool {
	return p == PlanFree || p == PlanPro
}

// DefaultStartingCredits is the balance granted to a user on first sign-in.
const DefaultStartingCredits = 3

// User represents an account that spends generation credits.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Image     string    `json:"image,omitempty"`
	Credits   int       `json:"credits"`
	Plan      Plan      `json:"plan"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanAfford returns true if the user holds at least amount credits.
// Advisory only: the ledger's conditional update is authoritative.
func (u *User) CanAfford(amount int) bool {
	return amount > 0 && u.Credits >= amount
}

// DisplayName returns the user's name, falling back to the email address.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}
