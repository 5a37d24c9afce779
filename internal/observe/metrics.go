// Package observe provides application-wide observability primitives for
// VoiceMesh: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all VoiceMesh metrics.
const meterName = "github.com/voicemesh/voicemesh"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ToolExecutionDuration tracks tool execution latency. Use with
	// attributes: attribute.String("tool", ...), attribute.String("kind", ...)
	ToolExecutionDuration metric.Float64Histogram

	// HandoffDuration tracks the gateway-side handoff protocol latency, from
	// handoff_request receipt to successor session_init sent.
	HandoffDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// AudioChunks counts forwarded PCM16 chunks. Use with attribute:
	//   attribute.String("direction", "upstream"|"downstream")
	AudioChunks metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// Handoffs counts completed handoffs. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	Handoffs metric.Int64Counter

	// HandoffFailures counts refused or failed handoffs. Use with attribute:
	//   attribute.String("reason", ...)
	HandoffFailures metric.Int64Counter

	// PhantomActions counts detected phantom tool commitments. Use with
	// attributes: attribute.String("agent_id", ...), attribute.String("tool", ...)
	PhantomActions metric.Int64Counter

	// MemoryErrors counts degraded session-memory operations.
	MemoryErrors metric.Int64Counter

	// ModelTokens counts voice-model token usage. Use with attribute:
	//   attribute.String("direction", "input"|"output")
	ModelTokens metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live gateway sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveBridges tracks the number of open voice-model streams.
	ActiveBridges metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for conversational latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ToolExecutionDuration, err = m.Float64Histogram("voicemesh.tool_execution.duration",
		metric.WithDescription("Latency of tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HandoffDuration, err = m.Float64Histogram("voicemesh.handoff.duration",
		metric.WithDescription("Latency of the gateway handoff protocol."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicemesh.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.AudioChunks, err = m.Int64Counter("voicemesh.audio.chunks",
		metric.WithDescription("Total forwarded PCM16 chunks by direction."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("voicemesh.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.Handoffs, err = m.Int64Counter("voicemesh.handoffs",
		metric.WithDescription("Total completed session handoffs by source and target agent."),
	); err != nil {
		return nil, err
	}
	if met.HandoffFailures, err = m.Int64Counter("voicemesh.handoff.failures",
		metric.WithDescription("Total refused or failed handoffs by reason."),
	); err != nil {
		return nil, err
	}
	if met.PhantomActions, err = m.Int64Counter("voicemesh.phantom.actions",
		metric.WithDescription("Total detected phantom tool commitments by agent and tool."),
	); err != nil {
		return nil, err
	}
	if met.MemoryErrors, err = m.Int64Counter("voicemesh.memory.errors",
		metric.WithDescription("Total degraded session-memory operations."),
	); err != nil {
		return nil, err
	}
	if met.ModelTokens, err = m.Int64Counter("voicemesh.model.tokens",
		metric.WithDescription("Total voice-model tokens by direction."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voicemesh.active_sessions",
		metric.WithDescription("Number of live gateway sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveBridges, err = m.Int64UpDownCounter("voicemesh.active_bridges",
		metric.WithDescription("Number of open voice-model streams."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordToolCall records a tool call counter increment with the standard
// attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordHandoff records a completed handoff.
func (m *Metrics) RecordHandoff(ctx context.Context, from, to string) {
	m.Handoffs.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordPhantomAction records a detected phantom tool commitment.
func (m *Metrics) RecordPhantomAction(ctx context.Context, agentID, tool string) {
	m.PhantomActions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("agent_id", agentID),
			attribute.String("tool", tool),
		),
	)
}

// RecordUsage records voice-model token usage for one usage event.
func (m *Metrics) RecordUsage(ctx context.Context, inputTokens, outputTokens int64) {
	m.ModelTokens.Add(ctx, inputTokens,
		metric.WithAttributes(attribute.String("direction", "input")))
	m.ModelTokens.Add(ctx, outputTokens,
		metric.WithAttributes(attribute.String("direction", "output")))
}
