package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/inkforge/inkforge/internal/model"
	"github.com/inkforge/inkforge/internal/repository"
)

// fakeLedgerStore is an in-memory LedgerStore with the same conditional
// debit semantics as the database.
type fakeLedgerStore struct {
	mu        sync.Mutex
	balances  map[string]int
	journal   []model.CreditTransaction
	debits    int
	credits   int
	debitErr  error
	creditErr error
}

func newFakeLedgerStore(balances map[string]int) *fakeLedgerStore {
	return &fakeLedgerStore{balances: balances}
}

func (f *fakeLedgerStore) DebitCredits(ctx context.Context, userID string, amount int, reason, referenceID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.debits++
	if f.debitErr != nil {
		return 0, f.debitErr
	}
	balance, ok := f.balances[userID]
	if !ok {
		return 0, repository.ErrUserNotFound
	}
	if balance < amount {
		return 0, repository.ErrInsufficientCredits
	}
	balance -= amount
	f.balances[userID] = balance
	f.journal = append(f.journal, model.CreditTransaction{
		UserID: userID, Kind: model.CreditKindDebit, Amount: amount,
		BalanceAfter: balance, Reason: reason, ReferenceID: referenceID,
	})
	return balance, nil
}

func (f *fakeLedgerStore) CreditCredits(ctx context.Context, userID string, amount int, reason, referenceID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.credits++
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if f.creditErr != nil {
		return 0, f.creditErr
	}
	balance, ok := f.balances[userID]
	if !ok {
		return 0, repository.ErrUserNotFound
	}
	balance += amount
	f.balances[userID] = balance
	f.journal = append(f.journal, model.CreditTransaction{
		UserID: userID, Kind: model.CreditKindCredit, Amount: amount,
		BalanceAfter: balance, Reason: reason, ReferenceID: referenceID,
	})
	return balance, nil
}

func (f *fakeLedgerStore) balance(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[userID]
}

func (f *fakeLedgerStore) counts() (debits, credits int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.debits, f.credits
}

// fakeArtifactStore keeps artifacts in insertion order.
type fakeArtifactStore struct {
	mu        sync.Mutex
	artifacts []*model.Artifact
	writeErr  error
	listErr   error
	lastLimit int
}

func (f *fakeArtifactStore) CreateArtifact(ctx context.Context, a *model.Artifact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.artifacts = append(f.artifacts, a)
	return nil
}

func (f *fakeArtifactStore) ListArtifactsByUser(ctx context.Context, userID string, limit int, cursor string) ([]*model.Artifact, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	if f.listErr != nil {
		return nil, "", f.listErr
	}

	var owned []*model.Artifact
	for _, a := range f.artifacts {
		if a.UserID == userID {
			owned = append(owned, a)
		}
	}
	sort.SliceStable(owned, func(i, j int) bool {
		if owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].ID > owned[j].ID
		}
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})
	if len(owned) > limit {
		owned = owned[:limit]
	}
	return owned, "", nil
}

func (f *fakeArtifactStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.artifacts)
}

// fakeGateway returns a scripted outcome and counts calls.
type fakeGateway struct {
	mu     sync.Mutex
	calls  int
	invoke func(ctx context.Context, req model.GenerationRequest) model.GenerationOutcome
}

func (f *fakeGateway) Invoke(ctx context.Context, req model.GenerationRequest) model.GenerationOutcome {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.invoke(ctx, req)
}

func (f *fakeGateway) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func deliverSVG(ctx context.Context, req model.GenerationRequest) model.GenerationOutcome {
	return model.Delivered([]byte("<svg>"+req.Prompt+"</svg>"), model.SVGMediaType)
}

// fakePublisher records published events.
type fakePublisher struct {
	mu     sync.Mutex
	events []*model.GenerationEvent
}

func (f *fakePublisher) PublishAsync(event *model.GenerationEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakePublisher) outcomes() []model.GenerationOutcomeKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.GenerationOutcomeKind, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Outcome)
	}
	return out
}

// fakeUserStore serves AccountService tests.
type fakeUserStore struct {
	users   map[string]*model.User
	journal []*model.CreditTransaction
	err     error
}

func (f *fakeUserStore) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUserStore) ListCreditTransactions(ctx context.Context, userID string, limit int) ([]*model.CreditTransaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.journal, nil
}

type fakeUsageStore struct {
	from, to time.Time
	rows     []*model.DailyUsage
}

func (f *fakeUsageStore) ListDailyUsage(ctx context.Context, userID string, from, to time.Time) ([]*model.DailyUsage, error) {
	f.from, f.to = from, to
	return f.rows, nil
}

var errStore = errors.New("store unavailable")
