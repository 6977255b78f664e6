package model

import "time"

// GenerationOutcomeKind is the terminal state of a generation transaction.
type GenerationOutcomeKind string

const (
	OutcomeDelivered     GenerationOutcomeKind = "delivered"
	OutcomeRefunded      GenerationOutcomeKind = "refunded"
	OutcomePersistFailed GenerationOutcomeKind = "persist_failed"
)

// IsValid checks if the outcome kind is known.
func (k GenerationOutcomeKind) IsValid() bool {
	switch k {
	case OutcomeDelivered, OutcomeRefunded, OutcomePersistFailed:
		return true
	}
	return false
}

// GenerationEvent represents one finished generation transaction.
type GenerationEvent struct {
	EventID          string                `json:"event_id"` // Idempotency key (Redis stream ID)
	TransactionID    string                `json:"transaction_id"`
	UserID           string                `json:"user_id"`
	Outcome          GenerationOutcomeKind `json:"outcome"`
	Reason           string                `json:"reason,omitempty"`
	EngineDurationMs int64                 `json:"engine_duration_ms"`
	OccurredAt       time.Time             `json:"occurred_at"`
}

// DailyUsage holds per-user per-day generation counters.
type DailyUsage struct {
	UserID        string    `json:"user_id"`
	Date          time.Time `json:"date"` // UTC date (time component zeroed)
	Delivered     int64     `json:"delivered"`
	Refunded      int64     `json:"refunded"`
	PersistFailed int64     `json:"persist_failed"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TruncateToDay returns t truncated to midnight UTC.
func TruncateToDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
