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
	storeDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets      = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Case lifecycle metrics
	CaseCreationsTotal      *prometheus.CounterVec
	CaseTransitionsTotal    *prometheus.CounterVec
	CaseTransitionsBlocked  *prometheus.CounterVec
	CaseCompletionsTotal    *prometheus.CounterVec
	CaseOpenInstances       *prometheus.GaugeVec
	TaskStatusUpdatesTotal  *prometheus.CounterVec
	TransitionDuration      *prometheus.HistogramVec

	// Access control metrics
	AccessDenialsTotal *prometheus.CounterVec

	// Notification metrics
	NotificationsPublishedTotal *prometheus.CounterVec
	NotificationFailuresTotal   prometheus.Counter

	// Definition metrics
	DefinitionLoadTotal *prometheus.CounterVec
	DefinitionsLoaded   prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grantflow_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grantflow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grantflow_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grantflow_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Cases
		CaseCreationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grantflow_case_creations_total",
			Help: "Total number of cases created.",
		}, []string{"workflow_code"}),
		CaseTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grantflow_case_transitions_total",
			Help: "Total number of committed case transitions.",
		}, []string{"workflow_code", "action"}),
		CaseTransitionsBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grantflow_case_transitions_blocked_total",
			Help: "Total number of transition attempts rejected by a gate.",
		}, []string{"workflow_code", "reason"}),
		CaseCompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grantflow_case_completions_total",
			Help: "Total number of cases completed.",
		}, []string{"workflow_code"}),
		CaseOpenInstances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "grantflow_case_open_instances",
			Help: "Number of open cases.",
		}, []string{"workflow_code"}),
		TaskStatusUpdatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grantflow_task_status_updates_total",
			Help: "Total number of task status updates.",
		}, []string{"workflow_code", "status"}),
		TransitionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grantflow_transition_duration_seconds",
			Help:    "Transition attempt duration in seconds, including store writes.",
			Buckets: storeDurationBuckets,
		}, []string{"workflow_code"}),

		// Access control
		AccessDenialsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grantflow_access_denials_total",
			Help: "Total number of role-based access denials.",
		}, []string{"operation"}),

		// Notifications
		NotificationsPublishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grantflow_notifications_published_total",
			Help: "Total number of status-changed notifications published.",
		}, []string{"channel"}),
		NotificationFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grantflow_notification_failures_total",
			Help: "Total number of failed notification publishes.",
		}),

		// Definitions
		DefinitionLoadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grantflow_definition_load_total",
			Help: "Total workflow definition loads.",
		}, []string{"status"}),
		DefinitionsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grantflow_definitions_loaded",
			Help: "Number of loaded workflow definitions.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Cases
		m.CaseCreationsTotal,
		m.CaseTransitionsTotal,
		m.CaseTransitionsBlocked,
		m.CaseCompletionsTotal,
		m.CaseOpenInstances,
		m.TaskStatusUpdatesTotal,
		m.TransitionDuration,
		// Access control
		m.AccessDenialsTotal,
		// Notifications
		m.NotificationsPublishedTotal,
		m.NotificationFailuresTotal,
		// Definitions
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

// RecordCaseCreation records a case creation.
func (m *Metrics) RecordCaseCreation(workflowCode string) {
	m.CaseCreationsTotal.WithLabelValues(workflowCode).Inc()
	m.CaseOpenInstances.WithLabelValues(workflowCode).Inc()
}

// RecordCaseTransition records a committed transition.
func (m *Metrics) RecordCaseTransition(workflowCode, action string, duration time.Duration) {
	m.CaseTransitionsTotal.WithLabelValues(workflowCode, action).Inc()
	m.TransitionDuration.WithLabelValues(workflowCode).Observe(duration.Seconds())
}

// RecordCaseTransitionBlocked records a transition rejected by a gate.
func (m *Metrics) RecordCaseTransitionBlocked(workflowCode, reason string) {
	m.CaseTransitionsBlocked.WithLabelValues(workflowCode, reason).Inc()
}

// RecordCaseCompletion records a case reaching a terminal position.
func (m *Metrics) RecordCaseCompletion(workflowCode string) {
	m.CaseCompletionsTotal.WithLabelValues(workflowCode).Inc()
	m.CaseOpenInstances.WithLabelValues(workflowCode).Dec()
}

// RecordTaskStatusUpdate records a task status update.
func (m *Metrics) RecordTaskStatusUpdate(workflowCode, status string) {
	m.TaskStatusUpdatesTotal.WithLabelValues(workflowCode, status).Inc()
}

// RecordAccessDenial records a role-based denial.
func (m *Metrics) RecordAccessDenial(operation string) {
	m.AccessDenialsTotal.WithLabelValues(operation).Inc()
}

// RecordNotificationPublished records a published status-changed payload.
func (m *Metrics) RecordNotificationPublished(channel string) {
	m.NotificationsPublishedTotal.WithLabelValues(channel).Inc()
}

// RecordNotificationFailure records a failed publish.
func (m *Metrics) RecordNotificationFailure() {
	m.NotificationFailuresTotal.Inc()
}

// RecordDefinitionLoad records a workflow definition load attempt.
func (m *Metrics) RecordDefinitionLoad(status string) {
	m.DefinitionLoadTotal.WithLabelValues(status).Inc()
}

// SetDefinitionsLoaded sets the number of loaded workflow definitions.
func (m *Metrics) SetDefinitionsLoaded(count float64) {
	m.DefinitionsLoaded.Set(count)
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
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
