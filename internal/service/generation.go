package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/inkforge/inkforge/internal/engine"
	"github.com/inkforge/inkforge/internal/metrics"
	"github.com/inkforge/inkforge/internal/model"
)

// Generation errors.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrPromptRequired  = errors.New("prompt is required")
	ErrRefundFailed    = errors.New("refund failed")
)

// creditsPerGeneration is the fixed price of one transaction.
const creditsPerGeneration = 1

const reasonArtifactWriteFailed = "artifact_write_failed"

const (
	defaultRefundTimeout  = 10 * time.Second
	defaultPersistTimeout = 10 * time.Second
)

// Gateway invokes the generation engine once and classifies the result.
type Gateway interface {
	Invoke(ctx context.Context, req model.GenerationRequest) model.GenerationOutcome
}

// UsagePublisher receives finished transactions, fire-and-forget.
type UsagePublisher interface {
	PublishAsync(event *model.GenerationEvent)
}

// GenerationConfig configures the GenerationService.
type GenerationConfig struct {
	// RefundOnPersistFailure refunds the credit when the engine delivered
	// but the artifact could not be saved.
	RefundOnPersistFailure bool

	// RefundTimeout bounds a compensating credit. It runs detached from the
	// request context.
	RefundTimeout time.Duration

	// PersistTimeout bounds the artifact write, also detached.
	PersistTimeout time.Duration
}

// GenerateInput is the caller-supplied part of a generation request.
type GenerateInput struct {
	Prompt    string
	Style     string
	Reference *model.ReferenceImage
}

// GenerationResult is returned when the engine delivered.
type GenerationResult struct {
	TransactionID string
	Payload       []byte
	MediaType     string

	// Artifact is nil when the write failed; PersistFailed is then true.
	Artifact      *model.Artifact
	PersistFailed bool

	// Balance is the caller's balance after the transaction.
	Balance int
}

// GenerationService runs the credit-gated generation transaction:
// validate, reserve one credit, invoke the engine, then commit the artifact
// or refund the credit.
type GenerationService struct {
	ledger    *Ledger
	gateway   Gateway
	archive   *Archive
	publisher UsagePublisher
	metrics   metrics.Recorder
	logger    *slog.Logger
	cfg       GenerationConfig
}

// NewGenerationService creates a new GenerationService.
// publisher and recorder may be nil.
func NewGenerationService(
	ledger *Ledger,
	gateway Gateway,
	archive *Archive,
	publisher UsagePublisher,
	recorder metrics.Recorder,
	logger *slog.Logger,
	cfg GenerationConfig,
) *GenerationService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RefundTimeout <= 0 {
		cfg.RefundTimeout = defaultRefundTimeout
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = defaultPersistTimeout
	}
	return &GenerationService{
		ledger:    ledger,
		gateway:   gateway,
		archive:   archive,
		publisher: publisher,
		metrics:   recorder,
		logger:    logger.With("component", "generation"),
		cfg:       cfg,
	}
}

// Generate runs one transaction for principal.
//
// Errors: ErrUnauthenticated and ErrPromptRequired have no side effects;
// ErrInsufficientCredits and ErrUserNotFound leave the engine uncalled;
// *engine.UpstreamError means the credit was refunded; ErrRefundFailed
// means the engine failed and the refund could not be written.
func (s *GenerationService) Generate(ctx context.Context, principal *model.Principal, input GenerateInput) (*GenerationResult, error) {
	// Validating
	if !principal.IsValid() {
		s.metrics.IncGeneration(metrics.OutcomeRejected)
		return nil, ErrUnauthenticated
	}
	prompt := strings.TrimSpace(input.Prompt)
	if prompt == "" {
		s.metrics.IncGeneration(metrics.OutcomeRejected)
		return nil, ErrPromptRequired
	}
	style := model.NormalizeStyle(input.Style)
	userID := principal.UserID
	txID := ulid.Make().String()
	logger := s.logger.With("transaction_id", txID, "user_id", userID)

	// Reserving
	balance, err := s.ledger.Debit(ctx, userID, creditsPerGeneration, txID)
	if err != nil {
		s.metrics.IncGeneration(metrics.OutcomeRejected)
		return nil, err
	}

	// Invoking
	start := time.Now()
	outcome := s.invoke(ctx, model.GenerationRequest{
		UserID:    userID,
		Prompt:    prompt,
		Style:     style,
		Reference: input.Reference,
	})
	engineDuration := time.Since(start)

	if !outcome.Delivered() {
		s.metrics.ObserveEngineDuration(string(outcome.Reason), engineDuration)
		return nil, s.compensate(ctx, logger, txID, userID, outcome, engineDuration)
	}
	s.metrics.ObserveEngineDuration(metrics.OutcomeDelivered, engineDuration)

	// Committing
	result := &GenerationResult{
		TransactionID: txID,
		Payload:       outcome.Payload,
		MediaType:     model.SVGMediaType,
		Balance:       balance,
	}

	artifact, err := s.persist(ctx, userID, prompt, style, outcome.Payload)
	if err == nil {
		result.Artifact = artifact
		s.finish(txID, userID, model.OutcomeDelivered, "", engineDuration)
		logger.Info("generation delivered",
			"artifact_id", artifact.ID,
			"engine_duration_ms", engineDuration.Milliseconds(),
		)
		return result, nil
	}

	result.PersistFailed = true
	logger.Warn("artifact not saved after delivery",
		"error", err,
		"refund", s.cfg.RefundOnPersistFailure,
	)

	if s.cfg.RefundOnPersistFailure {
		if refunded, refundErr := s.refund(ctx, userID, txID); refundErr != nil {
			logger.Error("refund after persist failure failed", "error", refundErr)
			s.metrics.IncGeneration(metrics.OutcomeRefundFailed)
		} else {
			result.Balance = refunded
		}
	}

	s.finish(txID, userID, model.OutcomePersistFailed, reasonArtifactWriteFailed, engineDuration)
	return result, nil
}

// invoke calls the gateway, converting a panic into a failed outcome so the
// refund path still runs exactly once.
func (s *GenerationService) invoke(ctx context.Context, req model.GenerationRequest) (outcome model.GenerationOutcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = model.Failed(model.ReasonUpstreamUnreachable, 0, "", fmt.Errorf("engine gateway panic: %v", r))
		}
	}()

	if err := ctx.Err(); err != nil {
		return model.Failed(model.ReasonUpstreamUnreachable, 0, "", err)
	}
	return s.gateway.Invoke(ctx, req)
}

// compensate refunds the reserved credit after a failed outcome.
func (s *GenerationService) compensate(ctx context.Context, logger *slog.Logger, txID, userID string, outcome model.GenerationOutcome, engineDuration time.Duration) error {
	upstreamErr := engine.NewUpstreamError(outcome)

	if _, err := s.refund(ctx, userID, txID); err != nil {
		logger.Error("refund failed, credit lost",
			"reason", outcome.Reason,
			"upstream_status", outcome.UpstreamStatus,
			"upstream_error", outcome.Err,
			"error", err,
		)
		s.metrics.IncGeneration(metrics.OutcomeRefundFailed)
		return fmt.Errorf("%w: transaction %s: %v", ErrRefundFailed, txID, err)
	}

	logger.Warn("generation failed, credit refunded",
		"reason", outcome.Reason,
		"upstream_status", outcome.UpstreamStatus,
		"upstream_body", outcome.UpstreamBody,
		"upstream_error", outcome.Err,
		"engine_duration_ms", engineDuration.Milliseconds(),
	)
	s.finish(txID, userID, model.OutcomeRefunded, string(outcome.Reason), engineDuration)
	return upstreamErr
}

// refund issues the single compensating credit on a context detached from
// request cancellation.
func (s *GenerationService) refund(ctx context.Context, userID, txID string) (int, error) {
	refundCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RefundTimeout)
	defer cancel()
	return s.ledger.Credit(refundCtx, userID, creditsPerGeneration, txID)
}

// persist writes the artifact on a detached context: the credit is already
// spent, so a client disconnect must not lose the result.
func (s *GenerationService) persist(ctx context.Context, userID, prompt, style string, payload []byte) (*model.Artifact, error) {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PersistTimeout)
	defer cancel()
	return s.archive.Write(persistCtx, userID, prompt, style, model.EncodeDataURL(model.SVGMediaType, payload))
}

func (s *GenerationService) finish(txID, userID string, outcome model.GenerationOutcomeKind, reason string, engineDuration time.Duration) {
	s.metrics.IncGeneration(string(outcome))
	if s.publisher == nil {
		return
	}
	s.publisher.PublishAsync(&model.GenerationEvent{
		TransactionID:    txID,
		UserID:           userID,
		Outcome:          outcome,
		Reason:           reason,
		EngineDurationMs: engineDuration.Milliseconds(),
		OccurredAt:       time.Now().UTC(),
	})
}
