// Package usage streams finished generation transactions through Redis and
// folds them into per-user daily counters.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/inkforge/inkforge/internal/metrics"
	"github.com/inkforge/inkforge/internal/model"
)

const (
	// StreamKey is the Redis stream for generation events.
	StreamKey = "stream:generation_events"

	// DeadLetterStreamKey is the Redis stream for poison messages.
	DeadLetterStreamKey = "stream:generation_events:dlq"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 100000

	// PublishTimeout is the max time to wait for Redis publish.
	PublishTimeout = 100 * time.Millisecond
)

// EventPayload is the compact event format stored in the stream.
type EventPayload struct {
	TransactionID    string `json:"tx"`
	UserID           string `json:"uid"`
	Outcome          string `json:"o"`
	Reason           string `json:"r,omitempty"`
	EngineDurationMs int64  `json:"ms"`
	OccurredAt       int64  `json:"t"` // Unix milliseconds
}

// NewEventPayload converts a finished transaction into its stream form.
func NewEventPayload(event *model.GenerationEvent) EventPayload {
	return EventPayload{
		TransactionID:    event.TransactionID,
		UserID:           event.UserID,
		Outcome:          string(event.Outcome),
		Reason:           truncate(event.Reason, maxReasonLength),
		EngineDurationMs: event.EngineDurationMs,
		OccurredAt:       event.OccurredAt.UnixMilli(),
	}
}

// Event converts the payload back, using streamID as the idempotency key.
func (p EventPayload) Event(streamID string) *model.GenerationEvent {
	return &model.GenerationEvent{
		EventID:          streamID,
		TransactionID:    p.TransactionID,
		UserID:           p.UserID,
		Outcome:          model.GenerationOutcomeKind(p.Outcome),
		Reason:           p.Reason,
		EngineDurationMs: p.EngineDurationMs,
		OccurredAt:       time.UnixMilli(p.OccurredAt).UTC(),
	}
}

// Publisher enqueues generation events to the Redis stream.
type Publisher struct {
	redis   *redis.Client
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewPublisher creates a new usage event publisher.
func NewPublisher(client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		redis:   client,
		logger:  logger.With("component", "usage.publisher"),
		metrics: recorder,
	}
}

// Publish adds an event to the stream synchronously.
func (p *Publisher) Publish(ctx context.Context, event EventPayload) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	result, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"payload": string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}

	return result, nil
}

// PublishAsync publishes without blocking the caller.
// Errors are logged but not returned; usage counters are best effort and
// never affect the transaction that produced them.
func (p *Publisher) PublishAsync(event *model.GenerationEvent) {
	if event == nil {
		return
	}
	payload := NewEventPayload(event)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
		defer cancel()

		streamID, err := p.Publish(ctx, payload)
		if err != nil {
			p.logger.Warn("failed to publish generation event",
				"transaction_id", payload.TransactionID,
				"error", err,
			)
			p.metrics.IncUsageEventPublished("dropped")
			return
		}

		p.logger.Debug("generation event published",
			"transaction_id", payload.TransactionID,
			"stream_id", streamID,
		)
		p.metrics.IncUsageEventPublished("success")
	}()
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
