package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects gateway-level Prometheus metrics.
type Metrics struct {
	// ChunkCounter counts emitted stream chunks.
	// Labels: type (content|reasoning|hot_code|status|error)
	ChunkCounter *prometheus.CounterVec

	// ProviderRequestDuration measures provider streaming call latency.
	// Labels: provider, model
	ProviderRequestDuration *prometheus.HistogramVec

	// ProviderRequestCounter counts provider calls.
	// Labels: provider, model, status (success|error)
	ProviderRequestCounter *prometheus.CounterVec

	// ToolExecutionCounter counts platform tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures platform tool execution time.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ActiveRuns is the number of runs with a live stream.
	ActiveRuns prometheus.Gauge

	// RunOutcomes counts terminal run statuses.
	// Labels: status (completed|cancelled|failed|expired)
	RunOutcomes *prometheus.CounterVec

	// SSESubscribers tracks connected SSE subscribers per endpoint.
	// Labels: endpoint (completions|subscribe)
	SSESubscribers *prometheus.GaugeVec
}

// NewMetrics registers and returns the gateway metrics on reg. Pass nil
// to use the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ChunkCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "strand",
			Name:      "chunks_emitted_total",
			Help:      "Stream chunks emitted, by chunk type.",
		}, []string{"type"}),

		ProviderRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "strand",
			Name:      "provider_request_duration_seconds",
			Help:      "Provider streaming call latency.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"provider", "model"}),

		ProviderRequestCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "strand",
			Name:      "provider_requests_total",
			Help:      "Provider streaming calls, by outcome.",
		}, []string{"provider", "model", "status"}),

		ToolExecutionCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "strand",
			Name:      "tool_executions_total",
			Help:      "Platform tool executions, by outcome.",
		}, []string{"tool_name", "status"}),

		ToolExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "strand",
			Name:      "tool_execution_duration_seconds",
			Help:      "Platform tool execution time.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool_name"}),

		ActiveRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "strand",
			Name:      "active_runs",
			Help:      "Runs with a live provider stream.",
		}),

		RunOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "strand",
			Name:      "run_outcomes_total",
			Help:      "Terminal run statuses.",
		}, []string{"status"}),

		SSESubscribers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "strand",
			Name:      "sse_subscribers",
			Help:      "Connected SSE subscribers.",
		}, []string{"endpoint"}),
	}
}
