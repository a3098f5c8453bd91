// Package observe provides application-wide observability primitives for
// Voxgate: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Voxgate metrics.
const meterName = "github.com/MrWong99/voxgate"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ToolExecutionDuration tracks tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// SessionDuration tracks total session lifetime from creation to close.
	SessionDuration metric.Float64Histogram

	// --- Counters ---

	// UpstreamEvents counts events serialised to the model service. Use with
	// attribute: attribute.String("kind", ...)
	UpstreamEvents metric.Int64Counter

	// DownstreamEvents counts events received from the model service. Use
	// with attribute: attribute.String("kind", ...)
	DownstreamEvents metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// AudioChunksDropped counts microphone chunks discarded by backpressure.
	AudioChunksDropped metric.Int64Counter

	// BargeIns counts user interruptions of model speech.
	BargeIns metric.Int64Counter

	// SessionCloses counts session terminations. Use with attribute:
	//   attribute.String("reason", ...) — "graceful", "forced", "idle", "error"
	SessionCloses metric.Int64Counter

	// --- Error counters ---

	// StreamErrors counts model stream errors. Use with attribute:
	//   attribute.String("type", ...)
	StreamErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live model sessions.
	ActiveSessions metric.Int64UpDownCounter

	// SocketConnections tracks the number of connected WebSocket clients.
	SocketConnections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for tool and pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// sessionBuckets defines histogram bucket boundaries (in seconds) for whole
// session lifetimes.
var sessionBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ToolExecutionDuration, err = m.Float64Histogram("voxgate.tool_execution.duration",
		metric.WithDescription("Latency of tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("voxgate.session.duration",
		metric.WithDescription("Session lifetime from creation to close."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.UpstreamEvents, err = m.Int64Counter("voxgate.upstream.events",
		metric.WithDescription("Total events sent to the model service by kind."),
	); err != nil {
		return nil, err
	}
	if met.DownstreamEvents, err = m.Int64Counter("voxgate.downstream.events",
		metric.WithDescription("Total events received from the model service by kind."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("voxgate.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunksDropped, err = m.Int64Counter("voxgate.audio.chunks_dropped",
		metric.WithDescription("Microphone chunks discarded by backpressure."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("voxgate.barge_ins",
		metric.WithDescription("User interruptions of model speech."),
	); err != nil {
		return nil, err
	}
	if met.SessionCloses, err = m.Int64Counter("voxgate.session.closes",
		metric.WithDescription("Session terminations by reason."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.StreamErrors, err = m.Int64Counter("voxgate.stream.errors",
		metric.WithDescription("Model stream errors by type."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxgate.active_sessions",
		metric.WithDescription("Number of live model sessions."),
	); err != nil {
		return nil, err
	}
	if met.SocketConnections, err = m.Int64UpDownCounter("voxgate.socket_connections",
		metric.WithDescription("Number of connected WebSocket clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxgate.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordUpstreamEvent records one event serialised to the model service.
func (m *Metrics) RecordUpstreamEvent(ctx context.Context, kind string) {
	m.UpstreamEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordDownstreamEvent records one event received from the model service.
func (m *Metrics) RecordDownstreamEvent(ctx context.Context, kind string) {
	m.DownstreamEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
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

// RecordToolExecution records one tool execution latency sample.
func (m *Metrics) RecordToolExecution(ctx context.Context, tool string, d time.Duration) {
	m.ToolExecutionDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("tool", tool)),
	)
}

// RecordSessionClose records a session termination with its reason.
func (m *Metrics) RecordSessionClose(ctx context.Context, reason string) {
	m.SessionCloses.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordStreamError records a model stream error with its protocol type.
func (m *Metrics) RecordStreamError(ctx context.Context, errType string) {
	m.StreamErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", errType)),
	)
}
