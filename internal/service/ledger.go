// Package service provides business logic for the application.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/inkforge/inkforge/internal/metrics"
	"github.com/inkforge/inkforge/internal/model"
	"github.com/inkforge/inkforge/internal/repository"
)

// Ledger errors.
var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

// LedgerStore is the persistence behind the Ledger. Both operations must
// be atomic; DebitCredits must never leave a negative balance.
type LedgerStore interface {
	DebitCredits(ctx context.Context, userID string, amount int, reason, referenceID string) (int, error)
	CreditCredits(ctx context.Context, userID string, amount int, reason, referenceID string) (int, error)
}

// Ledger moves credits in fixed deltas. It holds no in-process lock:
// concurrent debits serialize in the store.
type Ledger struct {
	store   LedgerStore
	metrics metrics.Recorder
}

// NewLedger creates a new Ledger.
func NewLedger(store LedgerStore, recorder metrics.Recorder) *Ledger {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Ledger{store: store, metrics: recorder}
}

// Debit reserves amount credits and returns the new balance.
// Returns ErrInsufficientCredits or ErrUserNotFound without side effects.
func (l *Ledger) Debit(ctx context.Context, userID string, amount int, referenceID string) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	balance, err := l.store.DebitCredits(ctx, userID, amount, model.CreditReasonReserve, referenceID)
	switch {
	case err == nil:
		l.metrics.IncLedgerOperation("debit", "ok")
		return balance, nil
	case errors.Is(err, repository.ErrInsufficientCredits):
		l.metrics.IncLedgerOperation("debit", "insufficient")
		return 0, ErrInsufficientCredits
	case errors.Is(err, repository.ErrUserNotFound):
		l.metrics.IncLedgerOperation("debit", "not_found")
		return 0, ErrUserNotFound
	default:
		l.metrics.IncLedgerOperation("debit", "error")
		return 0, fmt.Errorf("debit credits: %w", err)
	}
}

// Credit returns amount credits to the user. It is only used to compensate
// an earlier Debit.
func (l *Ledger) Credit(ctx context.Context, userID string, amount int, referenceID string) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	balance, err := l.store.CreditCredits(ctx, userID, amount, model.CreditReasonRefund, referenceID)
	switch {
	case err == nil:
		l.metrics.IncLedgerOperation("credit", "ok")
		return balance, nil
	case errors.Is(err, repository.ErrUserNotFound):
		l.metrics.IncLedgerOperation("credit", "not_found")
		return 0, ErrUserNotFound
	default:
		l.metrics.IncLedgerOperation("credit", "error")
		return 0, fmt.Errorf("credit credits: %w", err)
	}
}
