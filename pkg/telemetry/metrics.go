package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for cuebridge. A nil *Metrics or one
// created with metrics disabled accepts every call and records nothing.
type Metrics struct {
	config MetricsConfig

	// Call metrics
	calls        *prometheus.CounterVec
	callDuration *prometheus.HistogramVec

	// Pipeline metrics
	instances     *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
	panics        *prometheus.CounterVec

	// Pool metrics
	workersInFlight prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
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

		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calls_total",
				Help:      "Total number of evaluation calls by result code",
			},
			[]string{"code"},
		),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "call_duration_seconds",
				Help:      "Duration of evaluation calls in seconds",
				Buckets:   buckets,
			},
			[]string{"code"},
		),

		instances: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "instances_total",
				Help:      "Total number of instances processed by outcome",
			},
			[]string{"outcome"},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Duration of pipeline phases in seconds",
				Buckets:   buckets,
			},
			[]string{"phase"},
		),
		panics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "panics_recovered_total",
				Help:      "Total number of recovered panics by site",
			},
			[]string{"site"},
		),

		workersInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "workers_in_flight",
				Help:      "Current number of running extraction workers",
			},
		),
	}

	registry.MustRegister(
		m.calls,
		m.callDuration,
		m.instances,
		m.phaseDuration,
		m.panics,
		m.workersInFlight,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// RecordCall records a finished evaluation call with its result code.
func (m *Metrics) RecordCall(code string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.calls.WithLabelValues(code).Inc()
	m.callDuration.WithLabelValues(code).Observe(duration.Seconds())
}

// RecordInstance records the outcome of one instance.
func (m *Metrics) RecordInstance(outcome string) {
	if !m.enabled() {
		return
	}
	m.instances.WithLabelValues(outcome).Inc()
}

// RecordPhase records the duration of a pipeline phase.
func (m *Metrics) RecordPhase(phase string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordPanic records a recovered panic.
func (m *Metrics) RecordPanic(site string) {
	if !m.enabled() {
		return
	}
	m.panics.WithLabelValues(site).Inc()
}

// WorkerStarted increments the in-flight worker gauge.
func (m *Metrics) WorkerStarted() {
	if !m.enabled() {
		return
	}
	m.workersInFlight.Inc()
}

// WorkerFinished decrements the in-flight worker gauge.
func (m *Metrics) WorkerFinished() {
	if !m.enabled() {
		return
	}
	m.workersInFlight.Dec()
}

// Registry returns the private registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
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

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves metrics until ctx is done. It returns once the
// listener is closed.
func (m *Metrics) StartMetricsServer(ctx context.Context, logger *Logger) error {
	if !m.enabled() {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Infof("Serving metrics on %s%s", m.config.ListenAddress, path)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
