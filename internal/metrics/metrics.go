package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application. A nil *Metrics
// is valid and records nothing, so callers never guard their calls.
type Metrics struct {
	registry *prometheus.Registry

	// Run metrics
	RunsTotal    *prometheus.CounterVec
	RunDuration  *prometheus.HistogramVec
	RunsInFlight prometheus.Gauge

	// Tool metrics
	ToolCallsTotal      *prometheus.CounterVec
	ToolCallDuration    *prometheus.HistogramVec
	ToolCallErrorsTotal *prometheus.CounterVec

	// Connection metrics
	ConnectionsReady     prometheus.Gauge
	ConnectionOpensTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_runs_total",
				Help: "Total number of agent runs",
			},
			[]string{"provider", "outcome"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agent_run_duration_seconds",
				Help:    "Duration of agent runs in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		RunsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "agent_runs_in_flight",
				Help: "Number of agent runs currently executing",
			},
		),

		ToolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_calls_total",
				Help: "Total number of tool calls",
			},
			[]string{"tool_name", "status"},
		),
		ToolCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tool_call_duration_seconds",
				Help:    "Duration of tool calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool_name"},
		),
		ToolCallErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_call_errors_total",
				Help: "Total number of tool calls that produced error results",
			},
			[]string{"tool_name"},
		),

		ConnectionsReady: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mcp_connections_ready",
				Help: "Number of protocol server connections currently ready",
			},
		),
		ConnectionOpensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcp_connection_opens_total",
				Help: "Total number of connection open attempts",
			},
			[]string{"server", "status"},
		),
	}

	m.registerMetrics()

	return m
}

func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.RunsTotal)
	m.registry.MustRegister(m.RunDuration)
	m.registry.MustRegister(m.RunsInFlight)

	m.registry.MustRegister(m.ToolCallsTotal)
	m.registry.MustRegister(m.ToolCallDuration)
	m.registry.MustRegister(m.ToolCallErrorsTotal)

	m.registry.MustRegister(m.ConnectionsReady)
	m.registry.MustRegister(m.ConnectionOpensTotal)
}

// RecordRun records one completed run with its outcome label.
func (m *Metrics) RecordRun(provider string, duration time.Duration, outcome string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(provider, outcome).Inc()
	m.RunDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordToolCall records one tool call. Error results count as status
// "error" and feed the error counter.
func (m *Metrics) RecordToolCall(name string, duration time.Duration, isError bool) {
	if m == nil {
		return
	}
	status := "ok"
	if isError {
		status = "error"
		m.ToolCallErrorsTotal.WithLabelValues(name).Inc()
	}
	m.ToolCallsTotal.WithLabelValues(name, status).Inc()
	m.ToolCallDuration.WithLabelValues(name).Observe(duration.Seconds())
}

// RecordConnectionOpen records one connection open attempt.
func (m *Metrics) RecordConnectionOpen(server string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.ConnectionOpensTotal.WithLabelValues(server, status).Inc()
}

// SetConnectionsReady sets the ready connection gauge.
func (m *Metrics) SetConnectionsReady(n int) {
	if m == nil {
		return
	}
	m.ConnectionsReady.Set(float64(n))
}

// RunStarted increments the in-flight gauge and returns a done func.
func (m *Metrics) RunStarted() func() {
	if m == nil {
		return func() {}
	}
	m.RunsInFlight.Inc()
	return func() { m.RunsInFlight.Dec() }
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
