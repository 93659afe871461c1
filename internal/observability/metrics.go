package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects gateway metrics via Prometheus.
type Metrics struct {
	// ActiveSessions gauges agent loops currently in flight.
	ActiveSessions prometheus.Gauge

	// LoopSteps counts model round trips by agent type.
	// Labels: agent_type
	LoopSteps *prometheus.CounterVec

	// ModelRequestDuration measures model call latency in seconds.
	// Labels: provider, model
	ModelRequestDuration *prometheus.HistogramVec

	// ModelTokensUsed tracks token consumption.
	// Labels: provider, type (prompt|completion)
	ModelTokensUsed *prometheus.CounterVec

	// ActionCounter counts browser action executions.
	// Labels: action, outcome (ok|error)
	ActionCounter *prometheus.CounterVec

	// WireEvents counts wire protocol events by tag.
	// Labels: tag
	WireEvents *prometheus.CounterVec

	// LoopFinishes counts loop terminations by reason.
	// Labels: reason (stop|max-steps|cancelled|error|tool-calls)
	LoopFinishes *prometheus.CounterVec
}

// NewMetrics creates and registers all gateway metrics with the given
// registerer. Pass prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "skipper_active_sessions",
			Help: "Number of agent loops currently running.",
		}),
		LoopSteps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skipper_loop_steps_total",
			Help: "Model round trips taken by agent loops.",
		}, []string{"agent_type"}),
		ModelRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "skipper_model_request_duration_seconds",
			Help:    "Model endpoint call latency.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"provider", "model"}),
		ModelTokensUsed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skipper_model_tokens_total",
			Help: "Tokens consumed by model calls.",
		}, []string{"provider", "type"}),
		ActionCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skipper_browser_actions_total",
			Help: "Browser actions executed.",
		}, []string{"action", "outcome"}),
		WireEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skipper_wire_events_total",
			Help: "Wire protocol events emitted, by frame tag.",
		}, []string{"tag"}),
		LoopFinishes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skipper_loop_finishes_total",
			Help: "Agent loop terminations by finish reason.",
		}, []string{"reason"}),
	}
}

// NewTestMetrics creates metrics on a private registry for tests.
func NewTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
