// Package metrics defines the Prometheus collectors exported at /metrics.
// Collectors are registered on the default registry at init; callers just
// record.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TurnsTotal counts completed turns by agent and outcome. Outcome is
	// "completed", "cancelled", or the failure kind.
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "maestro",
		Name:      "turns_total",
		Help:      "Completed turns by agent and outcome.",
	}, []string{"agent_id", "outcome"})

	// TurnDuration observes wall time per turn.
	TurnDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "maestro",
		Name:      "turn_duration_seconds",
		Help:      "Turn wall time by agent.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"agent_id"})

	// ToolCallsTotal counts tool invocations by server and result.
	ToolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "maestro",
		Name:      "tool_calls_total",
		Help:      "Tool invocations by MCP server and result.",
	}, []string{"server_id", "result"})

	// MCPReconnectsTotal counts reconnect attempts per server.
	MCPReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "maestro",
		Name:      "mcp_reconnects_total",
		Help:      "MCP reconnect attempts by server.",
	}, []string{"server_id"})

	// StreamEventsTotal counts sink events delivered, by type.
	StreamEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "maestro",
		Name:      "stream_events_total",
		Help:      "Stream events delivered to consumers, by event type.",
	}, []string{"type"})

	// ExtractionsTotal counts background extraction runs by result
	// ("stored", "skipped", "failed", "empty").
	ExtractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "maestro",
		Name:      "extractions_total",
		Help:      "Background user-context extraction runs by result.",
	}, []string{"result"})

	// RoutingDecisionsTotal counts routing decisions by source
	// ("explicit", "single", "cache", "model", "fallback").
	RoutingDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "maestro",
		Name:      "routing_decisions_total",
		Help:      "Routing decisions by source.",
	}, []string{"source"})

	// BufferSize gauges the current buffer occupancy.
	BufferSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "maestro",
		Name:      "buffer_items",
		Help:      "Current item count in the conversation buffer.",
	})
)
