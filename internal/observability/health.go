package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// HealthResponse is the JSON response for the liveness endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ReadinessResponse is the JSON response for the readiness endpoint.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the result of a single readiness check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker can verify its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheckFunc adapts a function such as a client Ping to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

// HealthCheck implements HealthChecker.
func (f HealthCheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// ReadinessChecks holds the dependency checkers for the readiness endpoint.
type ReadinessChecks struct {
	// DefinitionsLoaded is always run. Nil counts as not loaded.
	DefinitionsLoaded func() bool

	// Stores are only checked when non-nil. A failure makes the service not
	// ready.
	SubmissionStore HealthChecker
	StateStore      HealthChecker
	Mirror          HealthChecker

	// Events is only checked when non-nil. Publishing is best effort, so a
	// failure degrades the service without taking it out of rotation.
	Events HealthChecker
}

// Readiness statuses.
const (
	StatusReady    = "ready"
	StatusDegraded = "degraded"
	StatusNotReady = "not_ready"
)

const checkTimeout = 2 * time.Second

// HandleHealth returns an HTTP handler for the liveness endpoint.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: Version,
			Commit:  Commit,
		})
	}
}

// HandleReady returns an HTTP handler for the readiness endpoint. Every
// configured check runs concurrently with its own timeout.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	required := map[string]HealthChecker{
		"submission_store": checks.SubmissionStore,
		"state_store":      checks.StateStore,
		"mirror":           checks.Mirror,
	}
	optional := map[string]HealthChecker{
		"events": checks.Events,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		results := make(map[string]CheckResult)
		var mu sync.Mutex
		var wg sync.WaitGroup

		run := func(name string, checker HealthChecker) {
			if checker == nil {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				res := runCheck(r.Context(), checker)
				mu.Lock()
				results[name] = res
				mu.Unlock()
			}()
		}
		run("definitions", HealthCheckFunc(func(context.Context) error {
			if checks.DefinitionsLoaded == nil || !checks.DefinitionsLoaded() {
				return errors.New("no definitions loaded")
			}
			return nil
		}))
		for name, c := range required {
			run(name, c)
		}
		for name, c := range optional {
			run(name, c)
		}
		wg.Wait()

		status := StatusReady
		for name, res := range results {
			if res.Status == "ok" {
				continue
			}
			if _, soft := optional[name]; soft {
				if status == StatusReady {
					status = StatusDegraded
				}
				continue
			}
			status = StatusNotReady
		}

		code := http.StatusOK
		if status == StatusNotReady {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, ReadinessResponse{Status: status, Checks: results})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// runCheck executes a health check with a per-check timeout.
func runCheck(parent context.Context, checker HealthChecker) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := checker.HealthCheck(ctx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return CheckResult{
			Status:    "error",
			LatencyMs: latency,
			Error:     err.Error(),
		}
	}
	return CheckResult{
		Status:    "ok",
		LatencyMs: latency,
	}
}
