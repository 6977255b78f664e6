package model

import "time"

// CreditKind is the direction of a balance change.
type CreditKind string

const (
	CreditKindDebit  CreditKind = "debit"
	CreditKindCredit CreditKind = "credit"
)

// Reasons recorded in the credit journal.
const (
	CreditReasonReserve = "generation_reserve"
	CreditReasonRefund  = "generation_refund"
)

// CreditTransaction is one journaled balance change, written in the same
// database transaction as the change itself.
type CreditTransaction struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Kind         CreditKind `json:"kind"`
	Amount       int        `json:"amount"`
	BalanceAfter int        `json:"balance_after"`
	Reason       string     `json:"reason"`
	ReferenceID  string     `json:"reference_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
