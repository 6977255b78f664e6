package handler

import (
	"context"
	"net/http"
	"sync"
	"time"
)

const readinessTimeout = 3 * time.Second

// HealthChecker is anything that can be pinged.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Dependency is one readiness check. A failing Critical dependency takes the
// instance out of rotation; a failing optional one only marks it degraded.
type Dependency struct {
	Name     string
	Checker  HealthChecker
	Critical bool
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	deps []Dependency
}

// NewHealthHandler creates a HealthHandler. Dependencies with a nil Checker
// report "not configured".
func NewHealthHandler(deps ...Dependency) *HealthHandler {
	return &HealthHandler{deps: deps}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz reports that the process is serving. GET /healthz
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Readyz pings every dependency concurrently. GET /readyz
//
// Postgres holds balances and artifacts, so it is critical. Redis only backs
// the principal cache, rate limits and usage stream, all of which degrade
// without failing a generation.
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	results := make([]error, len(h.deps))
	var wg sync.WaitGroup
	for i, dep := range h.deps {
		if dep.Checker == nil {
			continue
		}
		wg.Add(1)
		go func(i int, c HealthChecker) {
			defer wg.Done()
			results[i] = c.Ping(ctx)
		}(i, dep.Checker)
	}
	wg.Wait()

	resp := HealthResponse{Status: "ok", Checks: make(map[string]string, len(h.deps))}
	code := http.StatusOK
	for i, dep := range h.deps {
		switch {
		case dep.Checker == nil:
			resp.Checks[dep.Name] = "not configured"
		case results[i] != nil:
			resp.Checks[dep.Name] = "error: " + results[i].Error()
			if dep.Critical {
				resp.Status = "unhealthy"
				code = http.StatusServiceUnavailable
			} else if resp.Status == "ok" {
				resp.Status = "degraded"
			}
		default:
			resp.Checks[dep.Name] = "ok"
		}
	}

	writeJSON(w, code, resp)
}
