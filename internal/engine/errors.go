package engine

import (
	"errors"
	"fmt"

	"github.com/inkforge/inkforge/internal/model"
)

// Sentinel errors for engine requests.
var (
	ErrInvalidRequest   = errors.New("invalid engine request")
	ErrResponseTooLarge = errors.New("engine response exceeds size limit")
)

// UpstreamError reports that the engine did not deliver an artifact.
type UpstreamError struct {
	Reason model.FailureReason
	Status int    // HTTP status, 0 when no response was received
	Body   string // truncated response body, if any
	Err    error
}

// NewUpstreamError builds an UpstreamError from a failed outcome.
func NewUpstreamError(o model.GenerationOutcome) *UpstreamError {
	return &UpstreamError{
		Reason: o.Reason,
		Status: o.UpstreamStatus,
		Body:   o.UpstreamBody,
		Err:    o.Err,
	}
}

// Message returns a client-safe description of the failure.
func (e *UpstreamError) Message() string {
	if e.Reason == model.ReasonUpstreamUnreachable {
		return "could not reach the generation engine"
	}
	return "generation engine rejected the request"
}

func (e *UpstreamError) Error() string {
	msg := e.Message()
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
