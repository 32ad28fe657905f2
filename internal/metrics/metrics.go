// Package metrics provides Prometheus metrics for the migration server.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrate_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "migrate_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Run metrics
	runsStartedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrate_runs_started_total",
			Help: "Total migration runs started",
		},
		[]string{"mode"},
	)

	runsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrate_runs_finished_total",
			Help: "Total migration runs finished",
		},
		[]string{"mode", "outcome"},
	)

	runsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "migrate_runs_active",
			Help: "Number of runs that have not reached a final state",
		},
	)

	stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "migrate_step_duration_seconds",
			Help:    "Workflow step duration in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"step"},
	)

	// Model metrics
	modelCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrate_model_calls_total",
			Help: "Total model invocations",
		},
		[]string{"operation", "status"},
	)

	modelCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "migrate_model_call_duration_seconds",
			Help:    "Model invocation duration in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"operation"},
	)

	contextTokens = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "migrate_context_tokens",
			Help:    "Tokens of source context sent for scaffolding",
			Buckets: prometheus.ExponentialBuckets(256, 2, 10),
		},
	)

	// Generated file metrics
	filesGeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrate_files_generated_total",
			Help: "Total target files generated",
		},
		[]string{"status"},
	)

	// Source metrics
	sourceFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrate_source_fetches_total",
			Help: "Total source repository fetches",
		},
		[]string{"backend", "operation", "status"},
	)

	// Export metrics
	exportBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrate_export_bytes_total",
			Help: "Total bytes written by exports",
		},
		[]string{"backend"},
	)

	exportOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "migrate_export_operation_duration_seconds",
			Help:    "Export storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	exportOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrate_export_operations_total",
			Help: "Total export storage operations",
		},
		[]string{"backend", "operation", "status"},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrate_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)

	sourceCacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrate_source_cache_lookups_total",
			Help: "Repository file cache lookups",
		},
		[]string{"result"},
	)

	rateLimitHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "migrate_rate_limit_hits_total",
			Help: "Total requests rejected by the run rate limiter",
		},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "migrate_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrate_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)

	sseEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "migrate_sse_events_dropped_total",
			Help: "SSE events dropped for slow subscribers",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	route := RouteLabel(path)
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordRunStarted records a new run of the given mode (snippet or repo).
func RecordRunStarted(mode string) {
	runsStartedTotal.WithLabelValues(mode).Inc()
	runsActive.Inc()
}

// RecordRunFinished records a run reaching completed or error.
func RecordRunFinished(mode string, success bool) {
	runsFinishedTotal.WithLabelValues(mode, outcome(success)).Inc()
	runsActive.Dec()
}

// RecordStep records how long a workflow step took.
func RecordStep(step string, duration time.Duration) {
	stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordModelCall records a model invocation.
func RecordModelCall(operation string, duration time.Duration, success bool) {
	modelCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
	modelCallsTotal.WithLabelValues(operation, outcome(success)).Inc()
}

// RecordContextTokens records the token size of a scaffolding context.
func RecordContextTokens(tokens int) {
	contextTokens.Observe(float64(tokens))
}

// RecordFileGenerated records the final status of a generated file.
func RecordFileGenerated(status string) {
	filesGeneratedTotal.WithLabelValues(status).Inc()
}

// RecordSourceFetch records a listing or content fetch.
func RecordSourceFetch(backend, operation string, success bool) {
	sourceFetchesTotal.WithLabelValues(backend, operation, outcome(success)).Inc()
}

// RecordExportOperation records a storage operation of an export backend.
func RecordExportOperation(backend, operation string, duration time.Duration, bytes int64, success bool) {
	exportOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	exportOperationsTotal.WithLabelValues(backend, operation, outcome(success)).Inc()
	if success && bytes > 0 {
		exportBytesTotal.WithLabelValues(backend).Add(float64(bytes))
	}
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordCacheLookup records a repository file cache hit or miss.
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	sourceCacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordRateLimitHit records a request rejected by the rate limiter.
func RecordRateLimitHit() {
	rateLimitHitsTotal.Inc()
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordSSEDrop records an event dropped for a slow subscriber.
func RecordSSEDrop() {
	sseEventsDropped.Inc()
}

// RouteLabel collapses run IDs and file paths so the path label stays
// bounded: /api/v1/runs/abc/files/src/a.ts becomes /api/v1/runs/{id}/files.
func RouteLabel(path string) string {
	const runs = "/api/v1/runs/"
	if !strings.HasPrefix(path, runs) {
		return path
	}
	rest := strings.TrimPrefix(path, runs)
	if rest == "" {
		return path
	}
	label := runs + "{id}"
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		sub := rest[i+1:]
		if j := strings.IndexByte(sub, '/'); j >= 0 {
			sub = sub[:j]
		}
		if sub != "" {
			label += "/" + sub
		}
	}
	return label
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
