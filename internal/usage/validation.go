package usage

import (
	"fmt"

	"github.com/inkforge/inkforge/internal/model"
)

const (
	maxIDLength     = 64
	maxReasonLength = 200
)

// ValidateEventPayload validates a payload read back from the stream.
func ValidateEventPayload(payload EventPayload) error {
	if payload.TransactionID == "" {
		return fmt.Errorf("transaction_id is required")
	}
	if len(payload.TransactionID) > maxIDLength {
		return fmt.Errorf("transaction_id too long")
	}
	if payload.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if len(payload.UserID) > maxIDLength {
		return fmt.Errorf("user_id too long")
	}
	if !model.GenerationOutcomeKind(payload.Outcome).IsValid() {
		return fmt.Errorf("unknown outcome %q", payload.Outcome)
	}
	if len(payload.Reason) > maxReasonLength {
		return fmt.Errorf("reason too long")
	}
	if payload.EngineDurationMs < 0 {
		return fmt.Errorf("engine_duration_ms must not be negative")
	}
	if payload.OccurredAt <= 0 {
		return fmt.Errorf("occurred_at must be set")
	}
	return nil
}
