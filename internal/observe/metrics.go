// Package observe provides application-wide observability primitives for
// voxbridge: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all voxbridge metrics.
const meterName = "github.com/MrWong99/voxbridge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// SessionDuration tracks how long bridged sessions stay open.
	SessionDuration metric.Float64Histogram

	// UpstreamConnectDuration tracks dial plus session configuration time.
	UpstreamConnectDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts completed turns handed to the router. Use with attribute:
	//   attribute.String("role", ...)
	Turns metric.Int64Counter

	// UpstreamEvents counts decoded upstream events. Use with attribute:
	//   attribute.String("type", ...)
	UpstreamEvents metric.Int64Counter

	// AudioChunks counts audio frames. Use with attributes:
	//   attribute.String("direction", "inbound"|"outbound"), attribute.String("status", ...)
	AudioChunks metric.Int64Counter

	// --- Error counters ---

	// SinkErrors counts failed sink deliveries. Use with attribute:
	//   attribute.String("sink", ...)
	SinkErrors metric.Int64Counter

	// SinkDropped counts events dropped because a sink queue was full. Use
	// with attribute:
	//   attribute.String("sink", ...)
	SinkDropped metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live bridged sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// connection setup latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// sessionBuckets covers conversations from a few seconds up to an hour.
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
	if met.SessionDuration, err = m.Float64Histogram("voxbridge.session.duration",
		metric.WithDescription("Lifetime of a bridged session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UpstreamConnectDuration, err = m.Float64Histogram("voxbridge.upstream.connect.duration",
		metric.WithDescription("Latency of connecting and configuring the upstream realtime session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Turns, err = m.Int64Counter("voxbridge.turns",
		metric.WithDescription("Total completed conversation turns by role."),
	); err != nil {
		return nil, err
	}
	if met.UpstreamEvents, err = m.Int64Counter("voxbridge.upstream.events",
		metric.WithDescription("Total upstream events received by type."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunks, err = m.Int64Counter("voxbridge.audio.chunks",
		metric.WithDescription("Total audio chunks by direction and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.SinkErrors, err = m.Int64Counter("voxbridge.sink.errors",
		metric.WithDescription("Total failed sink deliveries by sink."),
	); err != nil {
		return nil, err
	}
	if met.SinkDropped, err = m.Int64Counter("voxbridge.sink.dropped",
		metric.WithDescription("Total events dropped on a full sink queue by sink."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxbridge.active_sessions",
		metric.WithDescription("Number of live bridged sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxbridge.http.request.duration",
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

// RecordTurn records one completed turn for role.
func (m *Metrics) RecordTurn(ctx context.Context, role string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

// RecordUpstreamEvent records one decoded upstream event.
func (m *Metrics) RecordUpstreamEvent(ctx context.Context, eventType string) {
	m.UpstreamEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

// RecordAudioChunk records one audio frame in direction with status.
func (m *Metrics) RecordAudioChunk(ctx context.Context, direction, status string) {
	m.AudioChunks.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("direction", direction),
			attribute.String("status", status),
		),
	)
}

// RecordSinkError records a failed delivery to sink.
func (m *Metrics) RecordSinkError(ctx context.Context, sink string) {
	m.SinkErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink)))
}

// RecordSinkDropped records an event dropped by sink's full queue.
func (m *Metrics) RecordSinkDropped(ctx context.Context, sink string) {
	m.SinkDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink)))
}

// RecordUpstreamConnect records the time spent bringing the upstream session
// up, tagged with status.
func (m *Metrics) RecordUpstreamConnect(ctx context.Context, d time.Duration, status string) {
	m.UpstreamConnectDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// SessionStarted increments the active session gauge.
func (m *Metrics) SessionStarted(ctx context.Context) {
	m.ActiveSessions.Add(ctx, 1)
}

// SessionEnded decrements the active session gauge and records the session
// lifetime.
func (m *Metrics) SessionEnded(ctx context.Context, lifetime time.Duration) {
	m.ActiveSessions.Add(ctx, -1)
	m.SessionDuration.Record(ctx, lifetime.Seconds())
}
