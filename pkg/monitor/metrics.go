package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the research loop. The web channel serves
// these on /metrics.
var (
	// TurnsTotal counts completed research turns by outcome
	// (ok, degraded, fatal).
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scholar",
		Name:      "turns_total",
		Help:      "Research turns processed, by outcome.",
	}, []string{"outcome"})

	// ToolRoundsPerTurn observes how many tool-calling rounds each turn used.
	ToolRoundsPerTurn = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scholar",
		Name:      "tool_rounds_per_turn",
		Help:      "Tool-calling rounds used per research turn.",
		Buckets:   prometheus.LinearBuckets(0, 1, 8),
	})

	// ToolExecutions counts tool dispatches by tool name and outcome
	// (ok, failed, invalid_arguments, unknown_tool, panicked).
	ToolExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scholar",
		Name:      "tool_executions_total",
		Help:      "Tool executions, by tool and outcome.",
	}, []string{"tool", "outcome"})

	// ToolDuration observes wall time per tool execution.
	ToolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scholar",
		Name:      "tool_duration_seconds",
		Help:      "Tool execution duration in seconds.",
		Buckets:   durationBuckets(),
	}, []string{"tool"})

	// StreamChunksTotal counts chunks forwarded to channels during final
	// answer synthesis.
	StreamChunksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scholar",
		Name:      "stream_chunks_total",
		Help:      "Answer stream chunks forwarded to channels.",
	})
)

func durationBuckets() []float64 {
	return []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
}

// ObserveToolExecution records one tool dispatch.
func ObserveToolExecution(tool, outcome string, seconds float64) {
	ToolExecutions.WithLabelValues(tool, outcome).Inc()
	ToolDuration.WithLabelValues(tool).Observe(seconds)
}

// ObserveTurn records one completed research turn.
func ObserveTurn(outcome string, rounds int) {
	TurnsTotal.WithLabelValues(outcome).Inc()
	ToolRoundsPerTurn.Observe(float64(rounds))
}
