package model

// ReferenceImage is an optional image that steers the engine's style.
type ReferenceImage struct {
	Filename  string
	MediaType string
	Data      []byte
}

// GenerationRequest is the transient input of one generation transaction.
type GenerationRequest struct {
	UserID    string
	Prompt    string
	Style     string
	Reference *ReferenceImage
}

// FailureReason classifies why the engine did not deliver.
type FailureReason string

const (
	// ReasonUpstreamUnreachable covers refused connections, DNS failures and timeouts.
	ReasonUpstreamUnreachable FailureReason = "upstream_unreachable"
	// ReasonUpstreamRejected covers non-2xx responses from the engine.
	ReasonUpstreamRejected FailureReason = "upstream_rejected"
)

// GenerationOutcome is either Delivered (Payload set) or Failed (Reason set).
type GenerationOutcome struct {
	Payload   []byte
	MediaType string

	Reason         FailureReason
	UpstreamStatus int
	UpstreamBody   string
	Err            error
}

// Delivered returns true if the engine produced an artifact.
func (o GenerationOutcome) Delivered() bool {
	return o.Reason == ""
}

// Delivered builds a successful outcome.
func Delivered(payload []byte, mediaType string) GenerationOutcome {
	if mediaType == "" {
		mediaType = SVGMediaType
	}
	return GenerationOutcome{Payload: payload, MediaType: mediaType}
}

// Failed builds a failed outcome.
func Failed(reason FailureReason, status int, body string, err error) GenerationOutcome {
	return GenerationOutcome{
		Reason:         reason,
		UpstreamStatus: status,
		UpstreamBody:   body,
		Err:            err,
	}
}
