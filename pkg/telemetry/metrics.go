package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the Converge engine.
type Metrics struct {
	config MetricsConfig

	// Intent metrics
	intentsSubmitted *prometheus.CounterVec

	// Reconciliation pass metrics
	passesStarted   *prometheus.CounterVec
	passesCompleted *prometheus.CounterVec
	passDuration    *prometheus.HistogramVec

	// Provider metrics
	providerCalls    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	providerErrors   *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// Drift detection metrics
	driftScans      prometheus.Counter
	driftDetections *prometheus.CounterVec

	// Resource inventory metrics
	resourcesByPhase *prometheus.GaugeVec

	// System metrics
	activePasses prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
// A disabled configuration yields a no-op instance; every record method is
// nil-safe.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		intentsSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "intents_submitted_total",
				Help:      "Total number of intent submissions",
			},
			[]string{"kind", "outcome"},
		),

		passesStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "passes_started_total",
				Help:      "Total number of reconciliation passes started",
			},
			[]string{"kind"},
		),
		passesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "passes_completed_total",
				Help:      "Total number of reconciliation passes completed",
			},
			[]string{"kind", "phase"},
		),
		passDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pass_duration_seconds",
				Help:      "Duration of reconciliation passes in seconds",
				Buckets:   buckets,
			},
			[]string{"kind", "phase"},
		),

		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Total number of provider calls",
			},
			[]string{"provider", "operation"},
		),
		providerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_call_duration_seconds",
				Help:      "Duration of provider calls in seconds",
				Buckets:   buckets,
			},
			[]string{"provider", "operation"},
		),
		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_errors_total",
				Help:      "Total number of provider errors",
			},
			[]string{"provider", "operation"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		driftScans: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drift_scans_total",
				Help:      "Total number of drift detection scans",
			},
		),
		driftDetections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drift_detections_total",
				Help:      "Total number of drift detections",
			},
			[]string{"kind", "status"},
		),

		resourcesByPhase: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resources_by_phase",
				Help:      "Current number of managed resources by phase",
			},
			[]string{"kind", "phase"},
		),

		activePasses: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_passes",
				Help:      "Current number of in-flight reconciliation passes",
			},
		),
	}

	registry.MustRegister(
		m.intentsSubmitted,
		m.passesStarted,
		m.passesCompleted,
		m.passDuration,
		m.providerCalls,
		m.providerDuration,
		m.providerErrors,
		m.errorsByClass,
		m.errorsByCode,
		m.driftScans,
		m.driftDetections,
		m.resourcesByPhase,
		m.activePasses,
	)

	return m, nil
}

// Intent Metrics

// RecordIntent records an intent submission and its outcome
// (accepted, rejected).
func (m *Metrics) RecordIntent(kind, outcome string) {
	if m.intentsSubmitted == nil {
		return
	}
	m.intentsSubmitted.WithLabelValues(kind, outcome).Inc()
}

// Pass Metrics

// RecordPassStarted increments the counter for started passes.
func (m *Metrics) RecordPassStarted(kind string) {
	if m.passesStarted == nil {
		return
	}
	m.passesStarted.WithLabelValues(kind).Inc()
	m.activePasses.Inc()
}

// RecordPassCompleted records a completed pass with its final phase and duration.
func (m *Metrics) RecordPassCompleted(kind, phase string, duration time.Duration) {
	if m.passesCompleted == nil {
		return
	}
	m.passesCompleted.WithLabelValues(kind, phase).Inc()
	m.passDuration.WithLabelValues(kind, phase).Observe(duration.Seconds())
	m.activePasses.Dec()
}

// Provider Metrics

// RecordProviderCall records a provider call with its duration.
func (m *Metrics) RecordProviderCall(provider, operation string, duration time.Duration) {
	if m.providerCalls == nil {
		return
	}
	m.providerCalls.WithLabelValues(provider, operation).Inc()
	m.providerDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// RecordProviderError records a provider error.
func (m *Metrics) RecordProviderError(provider, operation string) {
	if m.providerErrors == nil {
		return
	}
	m.providerErrors.WithLabelValues(provider, operation).Inc()
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Drift Metrics

// RecordDriftScan increments the drift scan counter.
func (m *Metrics) RecordDriftScan() {
	if m.driftScans == nil {
		return
	}
	m.driftScans.Inc()
}

// RecordDriftDetection records a drift detection with its status
// (drifted, missing).
func (m *Metrics) RecordDriftDetection(kind, status string) {
	if m.driftDetections == nil {
		return
	}
	m.driftDetections.WithLabelValues(kind, status).Inc()
}

// Inventory Metrics

// SetResourcesByPhase sets the current count of resources in a phase.
func (m *Metrics) SetResourcesByPhase(kind, phase string, count float64) {
	if m.resourcesByPhase == nil {
		return
	}
	m.resourcesByPhase.WithLabelValues(kind, phase).Set(count)
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
