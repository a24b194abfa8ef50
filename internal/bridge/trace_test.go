package bridge

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/pkg/provider/realtime"
	"github.com/MrWong99/voxbridge/pkg/provider/realtime/mock"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) lines(substr string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, l := range strings.Split(b.buf.String(), "\n") {
		if strings.Contains(l, substr) {
			out = append(out, l)
		}
	}
	return out
}

// installTelemetry swaps in an in-memory tracer and a buffered default
// logger for one test. Tests using it must not run in parallel.
func installTelemetry(t *testing.T) (*tracetest.InMemoryExporter, *syncBuffer) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prevTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	logs := &syncBuffer{}
	prevLog := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug})))

	t.Cleanup(func() {
		slog.SetDefault(prevLog)
		otel.SetTracerProvider(prevTP)
		_ = tp.Shutdown(context.Background())
	})
	return exp, logs
}

func TestBridge_SessionSpanAndLogs(t *testing.T) {
	exp, logs := installTelemetry(t)

	h := newHarness(t, textOnly())
	h.start()
	h.client.sendControl(t, "ping")
	h.client.expect(t, "pong")
	h.client.disconnect()
	if err := h.wait(t); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	var session, connect *tracetest.SpanStub
	spans := exp.GetSpans()
	for i := range spans {
		switch spans[i].Name {
		case observe.SpanSession:
			session = &spans[i]
		case observe.SpanUpstreamConnect:
			connect = &spans[i]
		}
	}
	if session == nil || connect == nil {
		t.Fatalf("recorded spans = %d, want %s and %s", len(spans), observe.SpanSession, observe.SpanUpstreamConnect)
	}
	if connect.Parent.SpanID() != session.SpanContext.SpanID() {
		t.Error("upstream.connect is not a child of bridge.session")
	}

	active := logs.lines("bridge: session active")
	if len(active) != 1 {
		t.Fatalf("session active lines = %q", active)
	}
	traceID := session.SpanContext.TraceID().String()
	for _, want := range []string{"session_id=sess-1", "trace_id=" + traceID, "span_id="} {
		if !strings.Contains(active[0], want) {
			t.Errorf("log line missing %q: %s", want, active[0])
		}
	}
}

func TestWSHandler_LogsWithRequestTrace(t *testing.T) {
	_, logs := installTelemetry(t)

	h, err := NewWSHandler(WSHandlerConfig{
		NewLink:  func() realtime.Link { return mock.New() },
		Registry: NewRegistry(),
	})
	if err != nil {
		t.Fatal(err)
	}

	// A plain GET is not a websocket upgrade, so Accept fails and logs.
	req := httptest.NewRequest(http.MethodGet, "/ws/session/"+testSessionID, nil)
	req.SetPathValue("sessionID", testSessionID)
	ctx, span := observe.StartSpan(req.Context(), "http.request")
	defer span.End()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(ctx))

	if rec.Code == http.StatusOK || rec.Code == http.StatusSwitchingProtocols {
		t.Fatalf("status = %d, want an upgrade error", rec.Code)
	}
	failed := logs.lines("bridge: websocket upgrade failed")
	if len(failed) != 1 {
		t.Fatalf("upgrade failure lines = %q", failed)
	}
	for _, want := range []string{"session_id=" + testSessionID, "trace_id=" + observe.CorrelationID(ctx)} {
		if !strings.Contains(failed[0], want) {
			t.Errorf("log line missing %q: %s", want, failed[0])
		}
	}
}
