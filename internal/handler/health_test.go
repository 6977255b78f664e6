package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubPinger struct {
	err error
}

func (s *stubPinger) Ping(ctx context.Context) error {
	return s.err
}

func TestHealthHandler_Healthz(t *testing.T) {
	h := NewHealthHandler(Dependency{Name: "postgres", Checker: &stubPinger{err: errors.New("down")}, Critical: true})

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("liveness must not depend on postgres, got %d", rec.Code)
	}
}

func TestHealthHandler_Readyz(t *testing.T) {
	refused := errors.New("connection refused")

	tests := []struct {
		name       string
		deps       []Dependency
		wantStatus int
		wantBody   string
		wantChecks map[string]string
	}{
		{
			name: "all healthy",
			deps: []Dependency{
				{Name: "postgres", Checker: &stubPinger{}, Critical: true},
				{Name: "redis", Checker: &stubPinger{}},
			},
			wantStatus: http.StatusOK,
			wantBody:   "ok",
			wantChecks: map[string]string{"postgres": "ok", "redis": "ok"},
		},
		{
			name: "critical dependency down",
			deps: []Dependency{
				{Name: "postgres", Checker: &stubPinger{err: refused}, Critical: true},
				{Name: "redis", Checker: &stubPinger{}},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "unhealthy",
			wantChecks: map[string]string{"postgres": "error: connection refused", "redis": "ok"},
		},
		{
			name: "optional dependency down",
			deps: []Dependency{
				{Name: "postgres", Checker: &stubPinger{}, Critical: true},
				{Name: "redis", Checker: &stubPinger{err: refused}},
			},
			wantStatus: http.StatusOK,
			wantBody:   "degraded",
			wantChecks: map[string]string{"postgres": "ok", "redis": "error: connection refused"},
		},
		{
			name: "both down",
			deps: []Dependency{
				{Name: "redis", Checker: &stubPinger{err: refused}},
				{Name: "postgres", Checker: &stubPinger{err: refused}, Critical: true},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "unhealthy",
		},
		{
			name:       "not configured",
			deps:       []Dependency{{Name: "postgres", Critical: true}},
			wantStatus: http.StatusOK,
			wantBody:   "ok",
			wantChecks: map[string]string{"postgres": "not configured"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.deps...)

			rec := httptest.NewRecorder()
			h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}

			var resp HealthResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != tt.wantBody {
				t.Errorf("status field = %q, want %q", resp.Status, tt.wantBody)
			}
			for name, want := range tt.wantChecks {
				if got := resp.Checks[name]; got != want {
					t.Errorf("check %s = %q, want %q", name, got, want)
				}
			}
		})
	}
}
