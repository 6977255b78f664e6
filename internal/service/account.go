package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/inkforge/inkforge/internal/model"
	"github.com/inkforge/inkforge/internal/repository"
)

// Account errors.
var (
	ErrInvalidDays = errors.New("days must be between 1 and 90")
)

const (
	// DefaultUsageDays is the window used when none is requested.
	DefaultUsageDays = 30
	maxUsageDays     = 90
	maxCreditHistory = 50
)

// UserStore reads accounts and their credit journal.
type UserStore interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	ListCreditTransactions(ctx context.Context, userID string, limit int) ([]*model.CreditTransaction, error)
}

// UsageStore reads aggregated daily usage.
type UsageStore interface {
	ListDailyUsage(ctx context.Context, userID string, from, to time.Time) ([]*model.DailyUsage, error)
}

// AccountService exposes read-only views of a user's account.
type AccountService struct {
	users UserStore
	usage UsageStore
	now   func() time.Time
}

// NewAccountService creates a new AccountService. usage may be nil when the
// usage pipeline is disabled.
func NewAccountService(users UserStore, usage UsageStore) *AccountService {
	return &AccountService{users: users, usage: usage, now: time.Now}
}

// Me returns the caller's current account, including the balance.
func (s *AccountService) Me(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// CreditHistory returns the caller's most recent credit journal entries.
func (s *AccountService) CreditHistory(ctx context.Context, userID string, limit int) ([]*model.CreditTransaction, error) {
	if limit <= 0 || limit > maxCreditHistory {
		limit = maxCreditHistory
	}
	txs, err := s.users.ListCreditTransactions(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list credit transactions: %w", err)
	}
	if txs == nil {
		txs = []*model.CreditTransaction{}
	}
	return txs, nil
}

// DailyUsage returns the caller's usage for the last days days, newest
// first. days == 0 selects the default window.
func (s *AccountService) DailyUsage(ctx context.Context, userID string, days int) ([]*model.DailyUsage, error) {
	if days == 0 {
		days = DefaultUsageDays
	}
	if days < 1 || days > maxUsageDays {
		return nil, ErrInvalidDays
	}
	if s.usage == nil {
		return []*model.DailyUsage{}, nil
	}

	to := model.TruncateToDay(s.now())
	from := to.AddDate(0, 0, -(days - 1))

	usage, err := s.usage.ListDailyUsage(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list daily usage: %w", err)
	}
	if usage == nil {
		usage = []*model.DailyUsage{}
	}
	return usage, nil
}
