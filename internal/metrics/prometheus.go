package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the bridge
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	ActiveSessions        prometheus.Gauge
	SessionsOpened        prometheus.Counter
	EstablishmentFailures prometheus.Counter
	SessionDuration       prometheus.Histogram

	// Frame metrics
	FramesForwarded prometheus.Counter
	FramesDropped   *prometheus.CounterVec

	// Finalize metrics
	Finalizations *prometheus.CounterVec
	ResultsSent   *prometheus.CounterVec
	DrainDuration prometheus.Histogram
	DrainTimeouts prometheus.Counter
	BackendErrors prometheus.Counter
}

// NewMetrics creates all metrics on a private registry, so several
// instances can coexist in tests.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		// Session metrics
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamvoice_active_sessions",
			Help: "Current number of registered recognition sessions",
		}),
		SessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamvoice_sessions_opened_total",
			Help: "Total number of recognition sessions opened",
		}),
		EstablishmentFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamvoice_establishment_failures_total",
			Help: "Total number of connections that failed to open a recognition session",
		}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamvoice_session_duration_seconds",
			Help:    "Lifetime of recognition sessions",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4 minutes
		}),

		// Frame metrics
		FramesForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamvoice_frames_forwarded_total",
			Help: "Total number of audio frames forwarded to the backend",
		}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamvoice_frames_dropped_total",
			Help: "Total number of inbound frames dropped",
		}, []string{"reason"}),

		// Finalize metrics
		Finalizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamvoice_finalizations_total",
			Help: "Total number of finalized sessions by trigger",
		}, []string{"reason"}),
		ResultsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamvoice_results_sent_total",
			Help: "Total number of result messages by outcome",
		}, []string{"outcome"}),
		DrainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamvoice_drain_duration_seconds",
			Help:    "Time spent draining backend responses",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		}),
		DrainTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamvoice_drain_timeouts_total",
			Help: "Total number of drains cut short by the deadline",
		}),
		BackendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamvoice_backend_errors_total",
			Help: "Total number of mid-stream backend send or receive failures",
		}),
	}

	m.registry.MustRegister(
		m.ActiveSessions,
		m.SessionsOpened,
		m.EstablishmentFailures,
		m.SessionDuration,
		m.FramesForwarded,
		m.FramesDropped,
		m.Finalizations,
		m.ResultsSent,
		m.DrainDuration,
		m.DrainTimeouts,
		m.BackendErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler returns the /metrics handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// RecordSessionOpened increments the opened counter and the active gauge
func (m *Metrics) RecordSessionOpened() {
	m.SessionsOpened.Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionClosed decrements the active gauge and records the lifetime
func (m *Metrics) RecordSessionClosed(durationSeconds float64) {
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordEstablishmentFailure increments the establishment failure counter
func (m *Metrics) RecordEstablishmentFailure() {
	m.EstablishmentFailures.Inc()
}

// RecordFrameForwarded increments the forwarded frame counter
func (m *Metrics) RecordFrameForwarded() {
	m.FramesForwarded.Inc()
}

// RecordFrameDropped increments the dropped frame counter for reason
func (m *Metrics) RecordFrameDropped(reason string) {
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// RecordFinalization records a finalize trigger
func (m *Metrics) RecordFinalization(reason string) {
	m.Finalizations.WithLabelValues(reason).Inc()
}

// RecordResultSent records the outcome of the result message
func (m *Metrics) RecordResultSent(outcome string) {
	m.ResultsSent.WithLabelValues(outcome).Inc()
}

// RecordDrain records a drain duration and whether it hit the deadline
func (m *Metrics) RecordDrain(durationSeconds float64, timedOut bool) {
	m.DrainDuration.Observe(durationSeconds)
	if timedOut {
		m.DrainTimeouts.Inc()
	}
}

// RecordBackendError increments the backend error counter
func (m *Metrics) RecordBackendError() {
	m.BackendErrors.Inc()
}
