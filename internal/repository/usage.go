package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"github.com/inkforge/inkforge/internal/model"
)

// UsageRepository provides database access for generation events and
// their daily aggregates.
type UsageRepository struct {
	repo *Repository
}

// NewUsageRepository creates a new UsageRepository.
func NewUsageRepository(repo *Repository) *UsageRepository {
	return &UsageRepository{repo: repo}
}

// BulkInsert inserts multiple generation events with idempotency via ON CONFLICT DO NOTHING.
func (r *UsageRepository) BulkInsert(ctx context.Context, events []*model.GenerationEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}

	query := `
		INSERT INTO generation_events (
			id, event_id, transaction_id, user_id, outcome, reason,
			engine_duration_ms, occurred_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (event_id) DO NOTHING
	`

	for _, event := range events {
		batch.Queue(query,
			ulid.Make().String(),
			event.EventID,
			event.TransactionID,
			event.UserID,
			event.Outcome,
			nullableString(event.Reason),
			event.EngineDurationMs,
			event.OccurredAt,
		)
	}

	results := r.repo.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < len(events); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch insert event %d: %w", i, err)
		}
	}

	return nil
}

// UpdateDailyUsage recomputes the daily_usage rows touched by events.
// Counters are recalculated from generation_events, so replaying a batch
// never double counts.
func (r *UsageRepository) UpdateDailyUsage(ctx context.Context, events []*model.GenerationEvent) error {
	if len(events) == 0 {
		return nil
	}

	for _, key := range uniqueDailyKeys(events) {
		usage, err := r.recalculateDailyUsage(ctx, key.userID, key.date)
		if err != nil {
			return fmt.Errorf("recalculate daily usage %s:%s: %w", key.userID, key.date.Format("2006-01-02"), err)
		}
		if err := r.upsertDailyUsage(ctx, usage); err != nil {
			return fmt.Errorf("upsert daily usage %s:%s: %w", key.userID, key.date.Format("2006-01-02"), err)
		}
	}

	return nil
}

// ListDailyUsage returns a user's daily counters within [from, to], newest first.
func (r *UsageRepository) ListDailyUsage(ctx context.Context, userID string, from, to time.Time) ([]*model.DailyUsage, error) {
	query := `
		SELECT user_id, date, delivered, refunded, persist_failed, updated_at
		FROM daily_usage
		WHERE user_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date DESC
	`

	rows, err := r.repo.pool.Query(ctx, query, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query daily usage: %w", err)
	}
	defer rows.Close()

	usage := make([]*model.DailyUsage, 0)
	for rows.Next() {
		var u model.DailyUsage
		if err := rows.Scan(&u.UserID, &u.Date, &u.Delivered, &u.Refunded, &u.PersistFailed, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan daily usage: %w", err)
		}
		usage = append(usage, &u)
	}

	return usage, rows.Err()
}

type dailyUsageKey struct {
	userID string
	date   time.Time
}

func uniqueDailyKeys(events []*model.GenerationEvent) []dailyUsageKey {
	seen := make(map[dailyUsageKey]struct{})
	keys := make([]dailyUsageKey, 0, len(events))
	for _, event := range events {
		key := dailyUsageKey{userID: event.UserID, date: model.TruncateToDay(event.OccurredAt)}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}

func (r *UsageRepository) recalculateDailyUsage(ctx context.Context, userID string, date time.Time) (*model.DailyUsage, error) {
	start := model.TruncateToDay(date)
	end := start.Add(24 * time.Hour)

	query := `
		SELECT outcome
		FROM generation_events
		WHERE user_id = $1 AND occurred_at >= $2 AND occurred_at < $3
	`

	rows, err := r.repo.pool.Query(ctx, query, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("query generation events: %w", err)
	}
	defer rows.Close()

	events := make([]*model.GenerationEvent, 0)
	for rows.Next() {
		var outcome model.GenerationOutcomeKind
		if err := rows.Scan(&outcome); err != nil {
			return nil, fmt.Errorf("scan generation event: %w", err)
		}
		events = append(events, &model.GenerationEvent{Outcome: outcome})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate generation events: %w", err)
	}

	usage := accumulateDailyUsage(events)
	usage.UserID = userID
	usage.Date = start
	return usage, nil
}

func accumulateDailyUsage(events []*model.GenerationEvent) *model.DailyUsage {
	usage := &model.DailyUsage{}
	for _, event := range events {
		switch event.Outcome {
		case model.OutcomeDelivered:
			usage.Delivered++
		case model.OutcomeRefunded:
			usage.Refunded++
		case model.OutcomePersistFailed:
			usage.PersistFailed++
		}
	}
	return usage
}

func (r *UsageRepository) upsertDailyUsage(ctx context.Context, u *model.DailyUsage) error {
	query := `
		INSERT INTO daily_usage (user_id, date, delivered, refunded, persist_failed, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (user_id, date) DO UPDATE SET
			delivered = EXCLUDED.delivered,
			refunded = EXCLUDED.refunded,
			persist_failed = EXCLUDED.persist_failed,
			updated_at = NOW()
	`

	_, err := r.repo.pool.Exec(ctx, query, u.UserID, u.Date, u.Delivered, u.Refunded, u.PersistFailed)
	return err
}
