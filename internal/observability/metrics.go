package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets  = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	storeDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets      = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for formflow.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Session metrics
	SessionStartsTotal      *prometheus.CounterVec
	SessionCompletionsTotal *prometheus.CounterVec
	SessionsActive          *prometheus.GaugeVec
	StepSubmissionsTotal    *prometheus.CounterVec
	StepDuration            *prometheus.HistogramVec
	ValidationFailuresTotal *prometheus.CounterVec

	// Persistence metrics
	PersistTotal     *prometheus.CounterVec
	PersistDuration  *prometheus.HistogramVec
	DivergencesTotal *prometheus.CounterVec

	// Audit and event metrics
	AuditRunsTotal       *prometheus.CounterVec
	AuditMismatchesTotal *prometheus.CounterVec
	EventsPublishedTotal *prometheus.CounterVec

	// System metrics
	DefinitionLoadTotal *prometheus.CounterVec
	DefinitionsLoaded   prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formflow_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formflow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formflow_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formflow_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Sessions
		SessionStartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formflow_session_starts_total",
			Help: "Total number of flow sessions started.",
		}, []string{"flow_id", "revision"}),
		SessionCompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formflow_session_completions_total",
			Help: "Total number of flow sessions completed.",
		}, []string{"flow_id"}),
		SessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "formflow_sessions_active",
			Help: "Number of sessions started and not yet completed or reset.",
		}, []string{"flow_id"}),
		StepSubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formflow_step_submissions_total",
			Help: "Total number of step submissions by result code.",
		}, []string{"flow_id", "step_id", "result"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formflow_step_submit_duration_seconds",
			Help:    "Step submission duration in seconds, persistence included.",
			Buckets: storeDurationBuckets,
		}, []string{"flow_id"}),
		ValidationFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formflow_validation_failures_total",
			Help: "Total number of rejected form payloads.",
		}, []string{"form_id"}),

		// Persistence
		PersistTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formflow_persist_total",
			Help: "Total number of dual-write persists by outcome.",
		}, []string{"mirror", "outcome"}),
		PersistDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formflow_persist_duration_seconds",
			Help:    "Dual-write persist duration in seconds.",
			Buckets: storeDurationBuckets,
		}, []string{"mirror"}),
		DivergencesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formflow_store_divergences_total",
			Help: "Total number of failed rollbacks leaving the database and mirror out of sync.",
		}, []string{"mirror"}),

		// Audit and events
		AuditRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formflow_audit_runs_total",
			Help: "Total number of mirror audits.",
		}, []string{"status"}),
		AuditMismatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formflow_audit_mismatches_total",
			Help: "Total number of mirror entries found missing or stale.",
		}, []string{"kind"}),
		EventsPublishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formflow_events_published_total",
			Help: "Total number of submission events published.",
		}, []string{"status"}),

		// System
		DefinitionLoadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formflow_definition_load_total",
			Help: "Total definition loads.",
		}, []string{"status"}),
		DefinitionsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "formflow_definitions_loaded",
			Help: "Number of loaded templates and flows.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Sessions
		m.SessionStartsTotal,
		m.SessionCompletionsTotal,
		m.SessionsActive,
		m.StepSubmissionsTotal,
		m.StepDuration,
		m.ValidationFailuresTotal,
		// Persistence
		m.PersistTotal,
		m.PersistDuration,
		m.DivergencesTotal,
		// Audit and events
		m.AuditRunsTotal,
		m.AuditMismatchesTotal,
		m.EventsPublishedTotal,
		// System
		m.DefinitionLoadTotal,
		m.DefinitionsLoaded,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordSessionStart records a session start.
func (m *Metrics) RecordSessionStart(flowID string, revision bool) {
	m.SessionStartsTotal.WithLabelValues(flowID, strconv.FormatBool(revision)).Inc()
	m.SessionsActive.WithLabelValues(flowID).Inc()
}

// RecordSessionCompletion records a session reaching its completion step.
func (m *Metrics) RecordSessionCompletion(flowID string) {
	m.SessionCompletionsTotal.WithLabelValues(flowID).Inc()
	m.SessionsActive.WithLabelValues(flowID).Dec()
}

// RecordSessionReset records an active session being discarded.
func (m *Metrics) RecordSessionReset(flowID string) {
	m.SessionsActive.WithLabelValues(flowID).Dec()
}

// RecordStepSubmission records a step submission and its result code, "ok"
// for accepted submissions.
func (m *Metrics) RecordStepSubmission(flowID, stepID, result string, duration time.Duration) {
	m.StepSubmissionsTotal.WithLabelValues(flowID, stepID, result).Inc()
	m.StepDuration.WithLabelValues(flowID).Observe(duration.Seconds())
}

// RecordValidationFailure records a rejected form payload.
func (m *Metrics) RecordValidationFailure(formID string) {
	m.ValidationFailuresTotal.WithLabelValues(formID).Inc()
}

// RecordPersist records a dual-write outcome.
func (m *Metrics) RecordPersist(mirror, outcome string, duration time.Duration) {
	m.PersistTotal.WithLabelValues(mirror, outcome).Inc()
	m.PersistDuration.WithLabelValues(mirror).Observe(duration.Seconds())
}

// RecordDivergence records a failed rollback.
func (m *Metrics) RecordDivergence(mirror string) {
	m.DivergencesTotal.WithLabelValues(mirror).Inc()
}

// RecordAuditRun records a mirror audit and the mismatches it found.
func (m *Metrics) RecordAuditRun(status string, missing, stale int) {
	m.AuditRunsTotal.WithLabelValues(status).Inc()
	m.AuditMismatchesTotal.WithLabelValues("missing").Add(float64(missing))
	m.AuditMismatchesTotal.WithLabelValues("stale").Add(float64(stale))
}

// RecordEventPublish records a submission event publish attempt.
func (m *Metrics) RecordEventPublish(status string) {
	m.EventsPublishedTotal.WithLabelValues(status).Inc()
}

// RecordDefinitionLoad records a definition load.
func (m *Metrics) RecordDefinitionLoad(status string) {
	m.DefinitionLoadTotal.WithLabelValues(status).Inc()
}

// SetDefinitionsLoaded sets the number of loaded definitions.
func (m *Metrics) SetDefinitionsLoaded(count float64) {
	m.DefinitionsLoaded.Set(count)
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = WithRouteContext(r)
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
