package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "threatwatch",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "threatwatch",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// Poll metrics
	pollTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "threatwatch",
			Subsystem: "poll",
			Name:      "total",
			Help:      "Total number of source polls by outcome",
		},
		[]string{"source", "status"},
	)

	pollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "threatwatch",
			Subsystem: "poll",
			Name:      "duration_seconds",
			Help:      "Duration of a full fetch-to-dispatch poll in seconds",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"source"},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "threatwatch",
			Subsystem: "poll",
			Name:      "queue_depth",
			Help:      "Number of sources waiting in the scheduler queue",
		},
	)

	sourceHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "threatwatch",
			Subsystem: "source",
			Name:      "consecutive_failures",
			Help:      "Consecutive failed polls per source",
		},
		[]string{"source"},
	)

	// Correlation metrics
	indicatorsMerged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "threatwatch",
			Subsystem: "correlation",
			Name:      "indicators_total",
			Help:      "Indicators merged, by whether the record was created or updated",
		},
		[]string{"type", "outcome"},
	)

	recordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "threatwatch",
			Subsystem: "correlation",
			Name:      "records_skipped_total",
			Help:      "Raw records dropped because they failed normalization",
		},
		[]string{"source"},
	)

	// Notification metrics
	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "threatwatch",
			Subsystem: "notification",
			Name:      "created_total",
			Help:      "Threat notifications created",
		},
		[]string{"kind", "severity"},
	)

	sinkFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "threatwatch",
			Subsystem: "notification",
			Name:      "sink_failures_total",
			Help:      "Failed pushes to downstream sinks",
		},
		[]string{"sink"},
	)

	ticketsOpened = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "threatwatch",
			Subsystem: "ticket",
			Name:      "opened_total",
			Help:      "Tickets opened for action-required notifications",
		},
		[]string{"priority"},
	)

	escalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "threatwatch",
			Subsystem: "ticket",
			Name:      "escalations_total",
			Help:      "SLA escalations by outcome",
		},
		[]string{"status"},
	)
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns a middleware that records Prometheus metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		routePattern := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			routePattern = rctx.RoutePattern()
		}

		status := strconv.Itoa(wrapped.statusCode)

		httpRequestsTotal.WithLabelValues(r.Method, routePattern, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, routePattern, status).Observe(time.Since(start).Seconds())
	})
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordPoll records one scheduler poll of a source
func RecordPoll(source, status string, duration time.Duration) {
	pollTotal.WithLabelValues(source, status).Inc()
	pollDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// SetQueueDepth sets the number of queued sources
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// SetSourceFailures sets the consecutive failure gauge for a source
func SetSourceFailures(source string, failures int) {
	sourceHealth.WithLabelValues(source).Set(float64(failures))
}

// RecordIndicator records a merged indicator; created is false for updates
func RecordIndicator(indicatorType string, created bool) {
	outcome := "updated"
	if created {
		outcome = "created"
	}
	indicatorsMerged.WithLabelValues(indicatorType, outcome).Inc()
}

// RecordSkippedRecord records a record dropped during normalization
func RecordSkippedRecord(source string) {
	recordsSkipped.WithLabelValues(source).Inc()
}

// RecordNotification records a created notification
func RecordNotification(kind, severity string) {
	notificationsTotal.WithLabelValues(kind, severity).Inc()
}

// RecordSinkFailure records a failed push to a sink
func RecordSinkFailure(sink string) {
	sinkFailures.WithLabelValues(sink).Inc()
}

// RecordTicketOpened records a ticket opened at the given priority
func RecordTicketOpened(priority int) {
	ticketsOpened.WithLabelValues(strconv.Itoa(priority)).Inc()
}

// RecordEscalation records an escalation attempt outcome: escalated, notified or failed
func RecordEscalation(status string) {
	escalationsTotal.WithLabelValues(status).Inc()
}
