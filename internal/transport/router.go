package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/formflow/internal/config"
	"github.com/pitabwire/formflow/internal/definition"
	"github.com/pitabwire/formflow/internal/persistence"
	"github.com/pitabwire/formflow/internal/session"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config      *config.Config
	Logger      *zap.Logger
	Registry    *definition.Registry
	Sessions    *session.Service
	Coordinator *persistence.Coordinator

	HealthHandler  http.Handler
	ReadyHandler   http.Handler
	MetricsHandler http.Handler
}

// NewRouter creates a chi.Router with the middleware pipeline and all route
// registrations. Health, readiness, and metrics endpoints skip request
// logging and the handler timeout.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	r.Get("/health", handlerOr(deps.HealthHandler, handleHealth))
	r.Get("/ready", handlerOr(deps.ReadyHandler, handleReady))
	metricsPath := deps.Config.Observability.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.Get(metricsPath, handlerOr(deps.MetricsHandler, handleMetrics))

	r.Route("/api", func(r chi.Router) {
		r.Use(BuildRequestContext)
		r.Use(RequestLogging(logger))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(MaxBody(deps.Config.Server.MaxBodyBytes))

		r.Get("/templates/manifest", handleGetManifest(deps.Registry))
		r.Get("/templates/{formId}", handleGetTemplate(deps.Registry))
		r.Get("/flows/{flowId}", handleGetFlow(deps.Registry))

		r.Post("/sessions", handleStartSession(deps.Sessions))
		r.Get("/sessions/{sessionId}", handleGetSession(deps.Sessions))
		r.Delete("/sessions/{sessionId}", handleResetSession(deps.Sessions))
		r.Post("/sessions/{sessionId}/steps/{stepId}", handleSubmitStep(deps.Sessions))
		r.Post("/sessions/{sessionId}/tabs/{formId}", handleNavigate(deps.Sessions))
		r.Get("/sessions/{sessionId}/prefill/{formId}", handlePrefill(deps.Sessions))
		r.Get("/sessions/{sessionId}/progress", handleProgress(deps.Sessions))

		r.Get("/form-submission", handleListSubmissions(deps.Coordinator))
		r.Get("/form-submission/{id}", handleGetSubmission(deps.Coordinator))
		r.Delete("/form-submission/{id}", handleDeleteSubmission(deps.Coordinator))
	})

	return r
}

func handlerOr(h http.Handler, fallback http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h.ServeHTTP
	}
	return fallback
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleReady(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
}
