package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code", "service"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "service"},
	)

	// Engine metrics
	sessionsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adherence_sessions_created_total",
			Help: "Total number of confirmation sessions created",
		},
		[]string{"service"},
	)

	remindersSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adherence_reminders_sent_total",
			Help: "Total number of reminder messages accepted by the transport",
		},
		[]string{"accepted", "service"},
	)

	eventsLoggedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adherence_events_logged_total",
			Help: "Total number of medication log events written",
		},
		[]string{"status", "source", "service"},
	)

	logsReconciledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adherence_logs_reconciled_total",
			Help: "Total number of log rows rewritten by reconciliation",
		},
		[]string{"service"},
	)

	tickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adherence_tick_duration_seconds",
			Help:    "Duration of due-window tick and expiry sweep runs",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
		},
		[]string{"job", "service"},
	)

	deliveryAlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adherence_delivery_alerts_total",
			Help: "Total number of operational delivery alerts raised",
		},
		[]string{"error_code", "service"},
	)
)

// MetricsCollector handles Prometheus metrics collection
type MetricsCollector struct {
	serviceName string
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(serviceName string) *MetricsCollector {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		sessionsCreatedTotal,
		remindersSentTotal,
		eventsLoggedTotal,
		logsReconciledTotal,
		tickDuration,
		deliveryAlertsTotal,
	)

	return &MetricsCollector{
		serviceName: serviceName,
	}
}

// RecordHTTPRequest records HTTP request metrics
func (m *MetricsCollector) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, endpoint, statusCode, m.serviceName).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, m.serviceName).Observe(duration.Seconds())
}

// RecordSessionCreated records a confirmation session creation
func (m *MetricsCollector) RecordSessionCreated() {
	sessionsCreatedTotal.WithLabelValues(m.serviceName).Inc()
}

// RecordReminderSent records a reminder send attempt
func (m *MetricsCollector) RecordReminderSent(accepted bool) {
	remindersSentTotal.WithLabelValues(strconv.FormatBool(accepted), m.serviceName).Inc()
}

// RecordEventLogged records a medication log event write
func (m *MetricsCollector) RecordEventLogged(status, source string) {
	eventsLoggedTotal.WithLabelValues(status, source, m.serviceName).Inc()
}

// RecordLogsReconciled records reconciliation rewrites
func (m *MetricsCollector) RecordLogsReconciled(count int) {
	logsReconciledTotal.WithLabelValues(m.serviceName).Add(float64(count))
}

// RecordJobDuration records how long a batch job took
func (m *MetricsCollector) RecordJobDuration(job string, duration time.Duration) {
	tickDuration.WithLabelValues(job, m.serviceName).Observe(duration.Seconds())
}

// RecordDeliveryAlert records an operational delivery alert
func (m *MetricsCollector) RecordDeliveryAlert(errorCode string) {
	deliveryAlertsTotal.WithLabelValues(errorCode, m.serviceName).Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.Handler()
}

// HTTPMiddleware creates middleware for HTTP request metrics
func (m *MetricsCollector) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		m.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(wrapper.statusCode), time.Since(start))
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
