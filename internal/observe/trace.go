package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of every voxbridge span.
const tracerName = "github.com/MrWong99/voxbridge"

// Span names used across the bridge.
const (
	SpanSession         = "bridge.session"
	SpanUpstreamConnect = "upstream.connect"
)

// AttrSessionID is the span attribute carrying the bridged session id.
const AttrSessionID = attribute.Key("session.id")

// Tracer returns the voxbridge tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. The caller must end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartSessionSpan starts the span covering one bridged session. It is a
// child of any span already in ctx, usually the HTTP upgrade request.
func StartSessionSpan(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanSession, trace.WithAttributes(AttrSessionID.String(sessionID)))
}

// CorrelationID returns the trace id of the span in ctx, or "" without one.
// HTTP clients see it as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with args attached and, when ctx holds
// a span context, trace_id and span_id.
func Logger(ctx context.Context, args ...any) *slog.Logger {
	l := slog.Default()
	if len(args) > 0 {
		l = l.With(args...)
	}
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
