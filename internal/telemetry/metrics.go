package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rappen/RappSack/pkg/schema"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "rappsack"

// MetricsConfig configures the metrics collector.
type MetricsConfig struct {
	Enabled   bool
	Namespace string
	Buckets   []float64
	// GoCollectors adds the Go runtime and process collectors.
	GoCollectors bool
}

// Metrics records plugin invocations and gate violations on its own
// registry. A disabled Metrics accepts every call and records nothing.
type Metrics struct {
	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	violations  *prometheus.CounterVec
	requests    *prometheus.CounterVec

	namespace string
	registry  *prometheus.Registry
}

// NewMetrics creates a collector with the given configuration.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{}
	}
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5}
	}

	registry := prometheus.NewRegistry()
	m := &Metrics{
		namespace: namespace,
		registry:  registry,
		invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plugin_invocations_total",
				Help:      "Plugin invocations by outcome",
			},
			[]string{"plugin", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "plugin_invocation_duration_seconds",
				Help:      "Duration of plugin invocations in seconds",
				Buckets:   buckets,
			},
			[]string{"plugin"},
		),
		violations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gate_violations_total",
				Help:      "Unmet needs by rule",
			},
			[]string{"plugin", "rule"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_requests_total",
				Help:      "Webhook requests by HTTP status code",
			},
			[]string{"code"},
		),
	}
	registry.MustRegister(m.invocations, m.duration, m.violations, m.requests)
	if cfg.GoCollectors {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Enabled reports whether metrics are being recorded.
func (m *Metrics) Enabled() bool { return m != nil && m.registry != nil }

// ObserveInvocation counts one invocation and records its duration.
func (m *Metrics) ObserveInvocation(plugin string, status schema.InvocationStatus, d time.Duration) {
	if !m.Enabled() {
		return
	}
	m.invocations.WithLabelValues(plugin, string(status)).Inc()
	m.duration.WithLabelValues(plugin).Observe(d.Seconds())
}

// ObserveViolation counts one unmet need.
func (m *Metrics) ObserveViolation(plugin, rule string) {
	if !m.Enabled() {
		return
	}
	m.violations.WithLabelValues(plugin, rule).Inc()
}

// ObserveRequest counts one webhook response.
func (m *Metrics) ObserveRequest(code int) {
	if !m.Enabled() {
		return
	}
	m.requests.WithLabelValues(strconv.Itoa(code)).Inc()
}

// RegisterGauge exposes a value sampled at scrape time.
func (m *Metrics) RegisterGauge(name, help string, sample func() float64) error {
	if !m.Enabled() {
		return nil
	}
	return m.registry.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: m.namespace, Name: name, Help: help},
		sample,
	))
}

// Registry returns the underlying registry, nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if !m.Enabled() {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format. A
// disabled collector answers 404.
func (m *Metrics) Handler() http.Handler {
	if !m.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
