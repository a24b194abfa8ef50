package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// installTracer makes an in-memory tracer provider global for one test.
func installTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// lockedBuffer is an io.Writer safe for concurrent log writes.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// captureLogs routes the default logger into a buffer for one test.
func captureLogs(t *testing.T) *lockedBuffer {
	t.Helper()
	buf := &lockedBuffer{}
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return buf
}

func TestStartSessionSpan_TagsSessionID(t *testing.T) {
	exp := installTracer(t)

	ctx, span := StartSessionSpan(context.Background(), "sess-42")
	if CorrelationID(ctx) == "" {
		t.Fatal("session span has no trace id")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != SpanSession {
		t.Fatalf("spans = %+v, want one %q", spans, SpanSession)
	}
	var got string
	for _, kv := range spans[0].Attributes {
		if kv.Key == AttrSessionID {
			got = kv.Value.AsString()
		}
	}
	if got != "sess-42" {
		t.Errorf("%s = %q, want sess-42", AttrSessionID, got)
	}
}

func TestStartSpan_UpstreamConnectIsChildOfSession(t *testing.T) {
	exp := installTracer(t)

	ctx, session := StartSessionSpan(context.Background(), "sess-1")
	_, connect := StartSpan(ctx, SpanUpstreamConnect)
	connect.End()
	session.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}
	child, parent := spans[0], spans[1]
	if child.Name != SpanUpstreamConnect || parent.Name != SpanSession {
		t.Fatalf("span order = %q, %q", child.Name, parent.Name)
	}
	if child.Parent.SpanID() != parent.SpanContext.SpanID() {
		t.Error("upstream.connect is not a child of bridge.session")
	}
	if child.SpanContext.TraceID() != parent.SpanContext.TraceID() {
		t.Error("upstream.connect started a new trace")
	}
}

func TestLogger_SessionSpanCarriesIDs(t *testing.T) {
	installTracer(t)
	logs := captureLogs(t)

	ctx, span := StartSessionSpan(context.Background(), "sess-7")
	defer span.End()
	Logger(ctx, "session_id", "sess-7").Info("bridge: session active")

	out := logs.String()
	for _, want := range []string{
		"session_id=sess-7",
		"trace_id=" + CorrelationID(ctx),
		"span_id=" + span.SpanContext().SpanID().String(),
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log line missing %q: %s", want, out)
		}
	}
}

func TestLogger_WithoutSpan(t *testing.T) {
	logs := captureLogs(t)

	Logger(context.Background(), "session_id", "sess-8").Info("bridge: websocket upgrade failed")
	if CorrelationID(context.Background()) != "" {
		t.Error("CorrelationID without a span should be empty")
	}

	out := logs.String()
	if !strings.Contains(out, "session_id=sess-8") {
		t.Errorf("log line missing session_id: %s", out)
	}
	if strings.Contains(out, "trace_id") {
		t.Errorf("log line has trace_id without a span: %s", out)
	}
}
