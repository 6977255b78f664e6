package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/inkforge/inkforge/internal/engine"
	"github.com/inkforge/inkforge/internal/metrics"
	"github.com/inkforge/inkforge/internal/model"
)

type generationEnv struct {
	svc       *GenerationService
	store     *fakeLedgerStore
	artifacts *fakeArtifactStore
	gateway   *fakeGateway
	publisher *fakePublisher
	recorder  *metrics.InMemoryRecorder
}

func newGenerationEnv(t *testing.T, balances map[string]int, cfg GenerationConfig) *generationEnv {
	t.Helper()
	env := &generationEnv{
		store:     newFakeLedgerStore(balances),
		artifacts: &fakeArtifactStore{},
		gateway:   &fakeGateway{invoke: deliverSVG},
		publisher: &fakePublisher{},
		recorder:  metrics.NewInMemory(),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.svc = NewGenerationService(
		NewLedger(env.store, env.recorder),
		env.gateway,
		NewArchive(env.artifacts),
		env.publisher,
		env.recorder,
		logger,
		cfg,
	)
	return env
}

func principal(userID string) *model.Principal {
	return &model.Principal{UserID: userID, Email: userID + "@example.com"}
}

func TestGenerate_Delivered(t *testing.T) {
	env := newGenerationEnv(t, map[string]int{"u1": 3}, GenerationConfig{})

	res, err := env.svc.Generate(context.Background(), principal("u1"), GenerateInput{Prompt: "  a red fox ", Style: ""})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if string(res.Payload) != "<svg>a red fox</svg>" {
		t.Errorf("payload = %q", res.Payload)
	}
	if res.MediaType != model.SVGMediaType {
		t.Errorf("media type = %q", res.MediaType)
	}
	if res.PersistFailed || res.Artifact == nil {
		t.Fatalf("expected persisted artifact, got %+v", res)
	}
	if res.Artifact.Style != model.DefaultStyle || res.Artifact.Prompt != "a red fox" {
		t.Errorf("unexpected artifact: %+v", res.Artifact)
	}
	if !strings.HasPrefix(res.Artifact.Content, "data:image/svg+xml;base64,") {
		t.Errorf("content is not an SVG data URL: %q", res.Artifact.Content)
	}
	if res.Balance != 2 || env.store.balance("u1") != 2 {
		t.Errorf("balance = %d (store %d), want 2", res.Balance, env.store.balance("u1"))
	}
	if res.TransactionID == "" {
		t.Error("expected transaction id")
	}

	debits, credits := env.store.counts()
	if debits != 1 || credits != 0 {
		t.Errorf("debits=%d credits=%d, want 1/0", debits, credits)
	}
	if got := env.publisher.outcomes(); len(got) != 1 || got[0] != model.OutcomeDelivered {
		t.Errorf("published outcomes = %v", got)
	}
	if env.store.journal[0].ReferenceID != res.TransactionID {
		t.Errorf("journal reference %q != transaction %q", env.store.journal[0].ReferenceID, res.TransactionID)
	}
	if env.recorder.Snapshot().Generations[metrics.OutcomeDelivered] != 1 {
		t.Error("expected delivered metric")
	}
}

func TestGenerate_ValidationHasNoSideEffects(t *testing.T) {
	tests := []struct {
		name      string
		principal *model.Principal
		prompt    string
		wantErr   error
	}{
		{"nil principal", nil, "fox", ErrUnauthenticated},
		{"principal without id", &model.Principal{Email: "x@example.com"}, "fox", ErrUnauthenticated},
		{"empty prompt", principal("u1"), "", ErrPromptRequired},
		{"blank prompt", principal("u1"), " \t\n", ErrPromptRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newGenerationEnv(t, map[string]int{"u1": 3}, GenerationConfig{})

			_, err := env.svc.Generate(context.Background(), tt.principal, GenerateInput{Prompt: tt.prompt})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}

			debits, credits := env.store.counts()
			if debits != 0 || credits != 0 || env.gateway.callCount() != 0 || env.artifacts.count() != 0 {
				t.Errorf("side effects: debits=%d credits=%d engine=%d artifacts=%d",
					debits, credits, env.gateway.callCount(), env.artifacts.count())
			}
		})
	}
}

func TestGenerate_InsufficientCredits(t *testing.T) {
	env := newGenerationEnv(t, map[string]int{"u1": 0}, GenerationConfig{})

	_, err := env.svc.Generate(context.Background(), principal("u1"), GenerateInput{Prompt: "fox"})
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if env.gateway.callCount() != 0 {
		t.Error("engine must not be called without a reservation")
	}
	if env.store.balance("u1") != 0 {
		t.Errorf("balance changed to %d", env.store.balance("u1"))
	}
}

func TestGenerate_UnknownUser(t *testing.T) {
	env := newGenerationEnv(t, map[string]int{}, GenerationConfig{})

	_, err := env.svc.Generate(context.Background(), principal("ghost"), GenerateInput{Prompt: "fox"})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if env.gateway.callCount() != 0 {
		t.Error("engine must not be called for unknown user")
	}
}

func TestGenerate_UpstreamFailureRefundsOnce(t *testing.T) {
	tests := []struct {
		name       string
		outcome    model.GenerationOutcome
		wantReason model.FailureReason
		wantMsg    string
	}{
		{
			name:       "unreachable",
			outcome:    model.Failed(model.ReasonUpstreamUnreachable, 0, "", errors.New("connection refused")),
			wantReason: model.ReasonUpstreamUnreachable,
			wantMsg:    "could not reach the generation engine",
		},
		{
			name:       "rejected",
			outcome:    model.Failed(model.ReasonUpstreamRejected, http.StatusInternalServerError, "model overloaded", nil),
			wantReason: model.ReasonUpstreamRejected,
			wantMsg:    "generation engine rejected the request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newGenerationEnv(t, map[string]int{"u1": 1}, GenerationConfig{})
			env.gateway.invoke = func(ctx context.Context, req model.GenerationRequest) model.GenerationOutcome {
				return tt.outcome
			}

			_, err := env.svc.Generate(context.Background(), principal("u1"), GenerateInput{Prompt: "fox"})

			var upstreamErr *engine.UpstreamError
			if !errors.As(err, &upstreamErr) {
				t.Fatalf("expected UpstreamError, got %v", err)
			}
			if upstreamErr.Reason != tt.wantReason || upstreamErr.Message() != tt.wantMsg {
				t.Errorf("unexpected upstream error: %+v (%s)", upstreamErr, upstreamErr.Message())
			}

			debits, credits := env.store.counts()
			if debits != 1 || credits != 1 {
				t.Errorf("debits=%d credits=%d, want exactly one of each", debits, credits)
			}
			if env.store.balance("u1") != 1 {
				t.Errorf("balance = %d, want restored to 1", env.store.balance("u1"))
			}
			if env.artifacts.count() != 0 {
				t.Error("no artifact may be written for a failed generation")
			}
			if got := env.publisher.outcomes(); len(got) != 1 || got[0] != model.OutcomeRefunded {
				t.Errorf("published outcomes = %v", got)
			}
		})
	}
}

func TestGenerate_GatewayPanicRefunds(t *testing.T) {
	env := newGenerationEnv(t, map[string]int{"u1": 2}, GenerationConfig{})
	env.gateway.invoke = func(ctx context.Context, req model.GenerationRequest) model.GenerationOutcome {
		panic("boom")
	}

	_, err := env.svc.Generate(context.Background(), principal("u1"), GenerateInput{Prompt: "fox"})

	var upstreamErr *engine.UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("expected UpstreamError after panic, got %v", err)
	}
	if _, credits := env.store.counts(); credits != 1 {
		t.Errorf("credits = %d, want 1", credits)
	}
	if env.store.balance("u1") != 2 {
		t.Errorf("balance = %d, want 2", env.store.balance("u1"))
	}
}

func TestGenerate_CancelledRequestStillRefunds(t *testing.T) {
	env := newGenerationEnv(t, map[string]int{"u1": 1}, GenerationConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	env.gateway.invoke = func(ctx context.Context, req model.GenerationRequest) model.GenerationOutcome {
		cancel()
		return model.Failed(model.ReasonUpstreamUnreachable, 0, "", ctx.Err())
	}

	_, err := env.svc.Generate(ctx, principal("u1"), GenerateInput{Prompt: "fox"})

	var upstreamErr *engine.UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if env.store.balance("u1") != 1 {
		t.Errorf("refund must survive request cancellation, balance = %d", env.store.balance("u1"))
	}
}

func TestGenerate_RefundFailure(t *testing.T) {
	env := newGenerationEnv(t, map[string]int{"u1": 1}, GenerationConfig{})
	env.store.creditErr = errStore
	env.gateway.invoke = func(ctx context.Context, req model.GenerationRequest) model.GenerationOutcome {
		return model.Failed(model.ReasonUpstreamRejected, http.StatusBadGateway, "", nil)
	}

	_, err := env.svc.Generate(context.Background(), principal("u1"), GenerateInput{Prompt: "fox"})
	if !errors.Is(err, ErrRefundFailed) {
		t.Fatalf("expected ErrRefundFailed, got %v", err)
	}
	if _, credits := env.store.counts(); credits != 1 {
		t.Errorf("refund attempted %d times, want 1", credits)
	}
	if env.recorder.Snapshot().Generations[metrics.OutcomeRefundFailed] != 1 {
		t.Error("expected refund_failed metric")
	}
}

func TestGenerate_PersistFailureKeepsCreditByDefault(t *testing.T) {
	env := newGenerationEnv(t, map[string]int{"u1": 2}, GenerationConfig{})
	env.artifacts.writeErr = errStore

	res, err := env.svc.Generate(context.Background(), principal("u1"), GenerateInput{Prompt: "fox"})
	if err != nil {
		t.Fatalf("content must still be returned, got %v", err)
	}
	if !res.PersistFailed || res.Artifact != nil {
		t.Errorf("expected persist failure flag, got %+v", res)
	}
	if len(res.Payload) == 0 {
		t.Error("expected payload")
	}
	if env.store.balance("u1") != 1 {
		t.Errorf("balance = %d, want 1 (credit kept)", env.store.balance("u1"))
	}
	if _, credits := env.store.counts(); credits != 0 {
		t.Errorf("unexpected refund")
	}
	if got := env.publisher.outcomes(); len(got) != 1 || got[0] != model.OutcomePersistFailed {
		t.Errorf("published outcomes = %v", got)
	}
}

func TestGenerate_PersistFailureRefundsWhenConfigured(t *testing.T) {
	env := newGenerationEnv(t, map[string]int{"u1": 2}, GenerationConfig{RefundOnPersistFailure: true})
	env.artifacts.writeErr = errStore

	res, err := env.svc.Generate(context.Background(), principal("u1"), GenerateInput{Prompt: "fox"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !res.PersistFailed {
		t.Error("expected persist failure flag")
	}
	if env.store.balance("u1") != 2 || res.Balance != 2 {
		t.Errorf("balance = %d (result %d), want refunded to 2", env.store.balance("u1"), res.Balance)
	}
	if _, credits := env.store.counts(); credits != 1 {
		t.Errorf("credits = %d, want exactly 1", credits)
	}
}

func TestGenerate_ConcurrentReservationsNeverOverdraw(t *testing.T) {
	const balance = 3
	const requests = 20

	env := newGenerationEnv(t, map[string]int{"u1": balance}, GenerationConfig{})

	var wg sync.WaitGroup
	var mu sync.Mutex
	results := map[string]int{}

	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Generate(context.Background(), principal("u1"), GenerateInput{Prompt: "fox"})
			key := "ok"
			switch {
			case err == nil:
			case errors.Is(err, ErrInsufficientCredits):
				key = "insufficient"
			default:
				key = err.Error()
			}
			mu.Lock()
			results[key]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if results["ok"] != balance || results["insufficient"] != requests-balance {
		t.Errorf("unexpected results: %+v", results)
	}
	if env.store.balance("u1") != 0 {
		t.Errorf("final balance = %d, want 0", env.store.balance("u1"))
	}
	if env.gateway.callCount() != balance {
		t.Errorf("engine calls = %d, want %d", env.gateway.callCount(), balance)
	}
	if env.artifacts.count() != balance {
		t.Errorf("artifacts = %d, want %d", env.artifacts.count(), balance)
	}
}

func TestGenerate_ForwardsReferenceAndStyle(t *testing.T) {
	env := newGenerationEnv(t, map[string]int{"u1": 1}, GenerationConfig{})

	var got model.GenerationRequest
	env.gateway.invoke = func(ctx context.Context, req model.GenerationRequest) model.GenerationOutcome {
		got = req
		return deliverSVG(ctx, req)
	}

	ref := &model.ReferenceImage{Filename: "ref.png", MediaType: "image/png", Data: []byte{1, 2}}
	_, err := env.svc.Generate(context.Background(), principal("u1"), GenerateInput{Prompt: "fox", Style: "sketch", Reference: ref})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got.UserID != "u1" || got.Style != "sketch" || got.Reference != ref {
		t.Errorf("unexpected gateway request: %+v", got)
	}
}
