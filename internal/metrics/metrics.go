package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for TrackGate
type Metrics struct {
	// Event pipeline
	EventsTotal            *prometheus.CounterVec
	ForwardDurationSeconds prometheus.Histogram
	RateLimitExceededTotal prometheus.Counter

	// Notifications
	NotificationsTotal *prometheus.CounterVec

	// Export queue
	ExportEnqueuedTotal    prometheus.Counter
	ExportDeliveredTotal   prometheus.Counter
	ExportQuarantinedTotal prometheus.Counter
	QueuePending           prometheus.Gauge
	QueueQuarantined       prometheus.Gauge

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// System metrics
	UptimeSeconds prometheus.Gauge
	Goroutines    prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trackgate_events_total",
				Help: "Total number of processed events",
			},
			[]string{"partner", "outcome"},
		),
		ForwardDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trackgate_forward_duration_seconds",
				Help:    "Outbound forward call duration in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		RateLimitExceededTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "trackgate_ratelimit_exceeded_total",
				Help: "Total number of rate limit exceeded events",
			},
		),

		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trackgate_notifications_total",
				Help: "Total number of notification delivery attempts",
			},
			[]string{"channel", "result"},
		),

		ExportEnqueuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "trackgate_export_enqueued_total",
				Help: "Total number of jobs added to the export queue",
			},
		),
		ExportDeliveredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "trackgate_export_delivered_total",
				Help: "Total number of jobs exported to spreadsheets",
			},
		),
		ExportQuarantinedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "trackgate_export_quarantined_total",
				Help: "Total number of jobs moved to quarantine",
			},
		),
		QueuePending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "trackgate_queue_pending",
				Help: "Number of export jobs waiting for the sweeper",
			},
		),
		QueueQuarantined: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "trackgate_queue_quarantined",
				Help: "Number of export jobs in quarantine",
			},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trackgate_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trackgate_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trackgate_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "trackgate_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "trackgate_goroutines",
				Help: "Number of active goroutines",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.EventsTotal,
		m.ForwardDurationSeconds,
		m.RateLimitExceededTotal,
		m.NotificationsTotal,
		m.ExportEnqueuedTotal,
		m.ExportDeliveredTotal,
		m.ExportQuarantinedTotal,
		m.QueuePending,
		m.QueueQuarantined,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.UptimeSeconds,
		m.Goroutines,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncEvent increments the processed event counter
func IncEvent(partner, outcome string) {
	m := Global()
	if m != nil {
		m.EventsTotal.WithLabelValues(partner, outcome).Inc()
	}
}

// ObserveForwardDuration records one forward call duration
func ObserveForwardDuration(seconds float64) {
	m := Global()
	if m != nil {
		m.ForwardDurationSeconds.Observe(seconds)
	}
}

// IncRateLimitExceeded increments rate limit exceeded counter
func IncRateLimitExceeded() {
	m := Global()
	if m != nil {
		m.RateLimitExceededTotal.Inc()
	}
}

// IncNotification increments the notification attempt counter
func IncNotification(channel, result string) {
	m := Global()
	if m != nil {
		m.NotificationsTotal.WithLabelValues(channel, result).Inc()
	}
}

// IncExportEnqueued increments the enqueued job counter
func IncExportEnqueued() {
	m := Global()
	if m != nil {
		m.ExportEnqueuedTotal.Inc()
	}
}

// IncExportDelivered increments the delivered job counter
func IncExportDelivered() {
	m := Global()
	if m != nil {
		m.ExportDeliveredTotal.Inc()
	}
}

// IncExportQuarantined increments the quarantined job counter
func IncExportQuarantined() {
	m := Global()
	if m != nil {
		m.ExportQuarantinedTotal.Inc()
	}
}

// SetQueueGauges updates the export queue size gauges
func SetQueueGauges(pending, quarantined int64) {
	m := Global()
	if m != nil {
		m.QueuePending.Set(float64(pending))
		m.QueueQuarantined.Set(float64(quarantined))
	}
}

// IncAPIErrors increments API error counter
func IncAPIErrors(errorType string) {
	m := Global()
	if m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
