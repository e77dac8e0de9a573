package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the launch path. All collectors
// live in a private registry so several drivers can run in one process.
// A disabled Metrics has no registry and every Record method is a no-op.
type Metrics struct {
	config   MetricsConfig
	registry *prometheus.Registry
	server   *http.Server

	launchesStarted   *prometheus.CounterVec
	launchesCompleted *prometheus.CounterVec
	launchDuration    *prometheus.HistogramVec

	providerMerges   *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	providerErrors   *prometheus.CounterVec

	dispatches    *prometheus.CounterVec
	policyDenials *prometheus.CounterVec

	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	evaluatorsByState *prometheus.GaugeVec
}

// NewMetrics creates the collectors described by cfg.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	m := &Metrics{config: cfg}
	if !cfg.Enabled {
		return m, nil
	}

	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	m.registry = prometheus.NewRegistry()
	factory := promauto.With(m.registry)
	ns := cfg.Namespace

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return factory.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: name, Help: help, Buckets: buckets}, labels)
	}

	m.launchesStarted = counter("launches_started_total",
		"Evaluator launches started, by process type.", "process_type")
	m.launchesCompleted = counter("launches_completed_total",
		"Evaluator launches finished, by outcome.", "status")
	m.launchDuration = histogram("launch_duration_seconds",
		"Time from launch request to dispatch outcome.", "status")

	m.providerMerges = counter("provider_merges_total",
		"Provider fragments merged into root contexts.", "provider")
	m.providerDuration = histogram("provider_call_duration_seconds",
		"Time spent producing one provider fragment.", "provider")
	m.providerErrors = counter("provider_errors_total",
		"Provider failures and merge conflicts.", "provider")

	m.dispatches = counter("dispatches_total",
		"Descriptors handed to a dispatcher chain.", "dispatcher", "status")
	m.policyDenials = counter("policy_denials_total",
		"Launches rejected by admission policy.", "policy")

	m.errorsByClass = counter("errors_by_class_total",
		"Classified errors, by class.", "class")
	m.errorsByCode = counter("errors_by_code_total",
		"Classified errors, by code.", "code")

	m.evaluatorsByState = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "evaluators",
		Help:      "Evaluators currently in each lifecycle state.",
	}, []string{"state"})

	return m, nil
}

func (m *Metrics) enabled() bool { return m != nil && m.registry != nil }

// RecordLaunchStarted counts a launch entering assembly.
func (m *Metrics) RecordLaunchStarted(processType string) {
	if !m.enabled() {
		return
	}
	m.launchesStarted.WithLabelValues(processType).Inc()
}

// RecordLaunchCompleted counts a finished launch and observes its duration.
func (m *Metrics) RecordLaunchCompleted(status string, d time.Duration) {
	if !m.enabled() {
		return
	}
	m.launchesCompleted.WithLabelValues(status).Inc()
	m.launchDuration.WithLabelValues(status).Observe(d.Seconds())
}

// RecordProviderMerge counts one merged provider fragment.
func (m *Metrics) RecordProviderMerge(provider string, d time.Duration) {
	if !m.enabled() {
		return
	}
	m.providerMerges.WithLabelValues(provider).Inc()
	m.providerDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) RecordProviderError(provider string) {
	if !m.enabled() {
		return
	}
	m.providerErrors.WithLabelValues(provider).Inc()
}

// RecordDispatch counts a dispatch attempt through the named chain.
func (m *Metrics) RecordDispatch(dispatcher string, err error) {
	if !m.enabled() {
		return
	}
	status := "ok"
	if err != nil {
		status = "failed"
	}
	m.dispatches.WithLabelValues(dispatcher, status).Inc()
}

func (m *Metrics) RecordPolicyDenial(policy string) {
	if !m.enabled() {
		return
	}
	m.policyDenials.WithLabelValues(policy).Inc()
}

// RecordError counts an error by class, and by code when it has one.
func (m *Metrics) RecordError(class, code string) {
	if !m.enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
	if code != "" {
		m.errorsByCode.WithLabelValues(code).Inc()
	}
}

// RecordTransition moves one evaluator between lifecycle states. An empty
// from means the evaluator was just allocated.
func (m *Metrics) RecordTransition(from, to string) {
	if !m.enabled() {
		return
	}
	if from != "" {
		m.evaluatorsByState.WithLabelValues(from).Dec()
	}
	m.evaluatorsByState.WithLabelValues(to).Inc()
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// StartMetricsServer serves Handler on the configured address in the
// background. Serve failures are logged, never returned.
func (m *Metrics) StartMetricsServer(logger *Logger) error {
	if !m.enabled() {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := m.server

	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).WithField("address", srv.Addr).Error("Metrics server stopped")
		}
	}()
	return nil
}

// Shutdown stops the metrics server if it was started.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
