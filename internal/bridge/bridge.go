// Package bridge relays one live conversation between a client socket and an
// upstream realtime speech endpoint.
//
// A [Bridge] owns exactly one upstream [realtime.Link], one [Accumulator] and
// one [Router] per client connection. While active it runs two loops: the
// client loop forwards audio and control messages upstream, and the upstream
// loop folds streamed output into complete turns and routes them to the client
// and any registered sinks (the turn store, the avatar service). The
// accumulator belongs to the upstream loop alone; the loops share nothing else
// but the link and the client channel, both of which are safe for concurrent
// use.
//
// Shutdown order is fixed: stop both loops, disconnect upstream exactly once,
// drain the router, notify the client if the session failed, and close the
// client channel exactly once.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/pkg/memory"
	"github.com/MrWong99/voxbridge/pkg/provider/realtime"
)

var (
	// ErrBridgeClosed is returned by [Bridge.Run] on a bridge that was closed
	// or has already run.
	ErrBridgeClosed = errors.New("bridge: closed")

	// ErrUpstreamLost is wrapped by the error [Bridge.Run] returns when the
	// upstream stream ended while the session was active.
	ErrUpstreamLost = errors.New("bridge: upstream connection lost")

	errClientGone = errors.New("bridge: client disconnected")
)

// State is the lifecycle stage of a [Bridge].
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConfiguringSession
	StateActive
	StateClosing
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConfiguringSession:
		return "configuring_session"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Status is a point-in-time snapshot of a bridge for administration.
type Status struct {
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	Connected bool      `json:"upstream_connected"`
	Mode      string    `json:"mode"`
	StartedAt time.Time `json:"started_at"`
}

// Config tunes a [Bridge]. Zero durations select defaults.
type Config struct {
	// SessionID is threaded through every routed event and log line.
	SessionID string

	// Options are sent upstream once the link is connected.
	Options realtime.SessionOptions

	// ConnectTimeout bounds connect plus configure. Default: 10s.
	ConnectTimeout time.Duration

	// PollInterval bounds each upstream read so the loop observes
	// cancellation promptly. Default: 250ms.
	PollInterval time.Duration

	// DrainTimeout bounds how long shutdown waits for sinks. Default: 3s.
	DrainTimeout time.Duration

	// SinkQueueSize and SinkTimeout configure the router.
	SinkQueueSize int
	SinkTimeout   time.Duration

	Metrics *observe.Metrics
}

func (c *Config) applyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 3 * time.Second
	}
	if c.Metrics == nil {
		c.Metrics = observe.DefaultMetrics()
	}
}

// Bridge is one bridged session. Create with [New], register extra sinks on
// [Bridge.Router], then call [Bridge.Run].
type Bridge struct {
	cfg     Config
	link    realtime.Link
	client  ClientChannel
	router  *Router
	metrics *observe.Metrics
	log     *slog.Logger

	state     atomic.Int32
	startedAt time.Time

	mu           sync.Mutex
	started      bool
	closed       bool
	cancel       context.CancelFunc
	done         chan struct{}
	linkClosed   bool
	clientClosed bool

	// audioFailures is only touched by the client loop.
	audioFailures int
}

// New creates an idle bridge. The client forwarder is registered on the
// router before any other sink.
func New(link realtime.Link, client ClientChannel, cfg Config) *Bridge {
	cfg.applyDefaults()
	log := slog.Default().With("session_id", cfg.SessionID)
	b := &Bridge{
		cfg:     cfg,
		link:    link,
		client:  client,
		metrics: cfg.Metrics,
		log:     log,
		router: NewRouter(RouterConfig{
			QueueSize: cfg.SinkQueueSize,
			Timeout:   cfg.SinkTimeout,
			Metrics:   cfg.Metrics,
			Logger:    log,
		}),
		done: make(chan struct{}),
	}
	// Registration on a fresh router cannot fail.
	_ = b.router.Register("client", b.forward, KindTranscript, KindResponse, KindControl, KindAudio)
	return b
}

// Router returns the bridge's router for registering additional sinks.
func (b *Bridge) Router() *Router { return b.router }

// SessionID returns the session this bridge serves.
func (b *Bridge) SessionID() string { return b.cfg.SessionID }

// State returns the current lifecycle state.
func (b *Bridge) State() State { return State(b.state.Load()) }

func (b *Bridge) setState(s State) {
	prev := State(b.state.Swap(int32(s)))
	if prev != s {
		b.log.Debug("bridge: state change", "from", prev.String(), "to", s.String())
	}
}

// Status returns a snapshot for administration endpoints.
func (b *Bridge) Status() Status {
	mode := "text"
	if b.cfg.Options.AudioEnabled() {
		mode = "audio"
	}
	b.mu.Lock()
	startedAt := b.startedAt
	b.mu.Unlock()
	return Status{
		SessionID: b.cfg.SessionID,
		State:     b.State().String(),
		Connected: b.link.Connected(),
		Mode:      mode,
		StartedAt: startedAt,
	}
}

// Run drives the session until the client leaves, the upstream is lost, ctx
// is cancelled or [Bridge.Close] is called. It always leaves the bridge in
// [StateClosed] with the upstream disconnected and the client closed.
//
// A client disconnect or cancellation is a normal end and returns nil. An
// upstream failure returns an error wrapping the cause.
func (b *Bridge) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.closed || b.started {
		b.mu.Unlock()
		return ErrBridgeClosed
	}
	b.started = true
	b.startedAt = time.Now()
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.mu.Unlock()
	defer close(b.done)
	defer cancel()

	ctx, span := observe.StartSessionSpan(ctx, b.cfg.SessionID)
	defer span.End()
	// Loops and shutdown log with the session's trace ids; the router keeps
	// the logger it was built with.
	b.log = observe.Logger(ctx, "session_id", b.cfg.SessionID)

	b.metrics.SessionStarted(ctx)
	defer func() { b.metrics.SessionEnded(context.Background(), time.Since(b.startedAt)) }()

	if err := b.establish(ctx); err != nil {
		notice := msgUpstreamUnavailable
		if ctx.Err() != nil {
			// Closed while connecting; nobody failed.
			notice, err = "", nil
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, "upstream unavailable")
			b.log.Error("bridge: upstream unavailable", "err", err)
		}
		b.shutdown(notice)
		return err
	}

	b.setState(StateActive)
	b.log.Info("bridge: session active", "mode", b.Status().Mode)

	err := b.serve(ctx)
	switch {
	case errors.Is(err, ErrUpstreamLost):
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream lost")
		b.log.Warn("bridge: upstream lost", "err", err)
		b.shutdown(msgUpstreamLost)
		return err
	case errors.Is(err, errClientGone):
		b.log.Info("bridge: client disconnected")
	}
	b.shutdown("")
	return nil
}

// establish connects and configures the upstream session.
func (b *Bridge) establish(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, observe.SpanUpstreamConnect)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, b.cfg.ConnectTimeout)
	defer cancel()
	start := time.Now()

	b.setState(StateConnecting)
	if err := b.link.Connect(ctx); err != nil {
		b.metrics.RecordUpstreamConnect(ctx, time.Since(start), "error")
		span.RecordError(err)
		return fmt.Errorf("bridge: connect upstream: %w", err)
	}

	// Configuration is sent optimistically: the session is usable as soon as
	// session.update is on the wire, and session.updated is only logged.
	b.setState(StateConfiguringSession)
	if err := b.link.Configure(ctx, b.cfg.Options); err != nil {
		b.metrics.RecordUpstreamConnect(ctx, time.Since(start), "error")
		span.RecordError(err)
		return fmt.Errorf("bridge: configure upstream: %w", err)
	}

	b.metrics.RecordUpstreamConnect(ctx, time.Since(start), "ok")
	return nil
}

// serve runs both loops until one of them ends the session.
func (b *Bridge) serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.clientLoop(gctx) })
	g.Go(func() error { return b.upstreamLoop(gctx) })
	return g.Wait()
}

// ── Client → upstream ─────────────────────────────────────────────────────────

func (b *Bridge) clientLoop(ctx context.Context) error {
	for {
		frame, err := b.client.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !errors.Is(err, io.EOF) {
				b.log.Warn("bridge: client read failed", "err", err)
			}
			return fmt.Errorf("%w: %w", errClientGone, err)
		}

		switch frame.Type {
		case FrameBinary:
			b.sendAudio(ctx, frame.Data)
		case FrameText:
			b.handleControl(ctx, frame.Data)
		}
	}
}

// sendAudio forwards one chunk. Failures are logged and never end the
// session; after the first warning they drop to debug level.
func (b *Bridge) sendAudio(ctx context.Context, chunk []byte) {
	if err := b.link.SendAudio(ctx, chunk); err != nil {
		b.metrics.RecordAudioChunk(ctx, "inbound", "error")
		b.audioFailures++
		level := slog.LevelDebug
		if b.audioFailures == 1 {
			level = slog.LevelWarn
		}
		b.log.Log(ctx, level, "bridge: audio chunk not forwarded",
			"err", err,
			"bytes", len(chunk),
			"failures", b.audioFailures)
		return
	}
	b.metrics.RecordAudioChunk(ctx, "inbound", "ok")
}

func (b *Bridge) handleControl(ctx context.Context, data []byte) {
	msg, err := decodeControl(data)
	if err != nil {
		b.log.Warn("bridge: ignoring malformed client message", "err", err)
		return
	}

	switch msg.Type {
	case controlPing:
		b.control(framePong, "")
	case controlStartRecording:
		b.control(frameRecordingStarted, "")
	case controlStopRecording:
		if err := b.link.CommitInput(ctx); err != nil {
			b.log.Warn("bridge: commit input failed", "err", err)
		}
		b.control(frameRecordingStopped, "")
	default:
		b.log.Debug("bridge: ignoring unknown client message", "type", msg.Type)
	}
}

// ── Upstream → client and sinks ───────────────────────────────────────────────

func (b *Bridge) upstreamLoop(ctx context.Context) error {
	var acc Accumulator
	for {
		pollCtx, cancel := context.WithTimeout(ctx, b.cfg.PollInterval)
		evt, err := b.link.NextEvent(pollCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				if acc.Pending() {
					b.log.Debug("bridge: discarding partial response", "bytes", acc.Discard())
				}
				return nil
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if acc.Pending() {
				b.log.Debug("bridge: discarding partial response", "bytes", acc.Discard())
			}
			return fmt.Errorf("%w: %w", ErrUpstreamLost, err)
		}

		b.metrics.RecordUpstreamEvent(ctx, string(evt.Type))
		b.handleUpstream(ctx, &acc, evt)
	}
}

func (b *Bridge) handleUpstream(ctx context.Context, acc *Accumulator, evt realtime.Event) {
	switch evt.Type {
	case realtime.EventTextDelta:
		acc.TextDelta(evt.Text)
	case realtime.EventTextDone:
		b.complete(ctx, acc.TextDone(evt.Text))
	case realtime.EventTranscriptionCompleted:
		b.complete(ctx, acc.TranscriptionCompleted(evt.Text))
	case realtime.EventAudioDelta:
		if !b.cfg.Options.AudioEnabled() || len(evt.Audio) == 0 {
			return
		}
		b.router.Dispatch(Event{
			Kind:      KindAudio,
			SessionID: b.cfg.SessionID,
			Audio:     acc.AudioDelta(evt.Audio),
		})
	case realtime.EventAudioDone:
		b.log.Debug("bridge: assistant audio complete", "bytes", acc.AudioDone())
	case realtime.EventError:
		b.log.Warn("bridge: upstream error", "message", evt.Message, "code", evt.Code)
		b.control(frameError, evt.Message)
	case realtime.EventWarning:
		b.log.Warn("bridge: upstream warning", "message", evt.Message)
	case realtime.EventSessionCreated, realtime.EventSessionUpdated:
		b.log.Debug("bridge: upstream session event", "type", evt.WireType)
	default:
		b.log.Debug("bridge: upstream event", "type", evt.WireType)
	}
}

// complete routes a finished turn. Empty completions are dropped: they are
// neither persisted nor forwarded.
func (b *Bridge) complete(ctx context.Context, c Completion) {
	if c.Empty() {
		b.log.Debug("bridge: dropping empty completion", "role", string(c.Role))
		return
	}
	b.metrics.RecordTurn(ctx, string(c.Role))

	kind := KindResponse
	if c.Role == memory.RoleUser {
		kind = KindTranscript
	}
	b.router.Dispatch(Event{
		Kind:      kind,
		SessionID: b.cfg.SessionID,
		Role:      c.Role,
		Text:      c.Text,
	})
}

func (b *Bridge) control(frameType, message string) {
	b.router.Dispatch(Event{
		Kind:      KindControl,
		SessionID: b.cfg.SessionID,
		Control:   frameType,
		Message:   message,
	})
}

// forward is the client sink.
func (b *Bridge) forward(ctx context.Context, evt Event) error {
	switch evt.Kind {
	case KindTranscript:
		return b.client.WriteJSON(ctx, outboundMessage{Type: frameTranscript, Text: evt.Text})
	case KindResponse:
		return b.client.WriteJSON(ctx, outboundMessage{Type: frameTextResponse, Text: evt.Text})
	case KindControl:
		return b.client.WriteJSON(ctx, outboundMessage{Type: evt.Control, Message: evt.Message})
	case KindAudio:
		err := b.client.WriteBinary(ctx, evt.Audio)
		status := "ok"
		if err != nil {
			status = "error"
		}
		b.metrics.RecordAudioChunk(ctx, "outbound", status)
		return err
	}
	return nil
}

// ── Shutdown ──────────────────────────────────────────────────────────────────

// Close ends the session. If Run is active it is cancelled and Close waits
// for it to finish tearing down or for ctx to expire. Calling Close on a
// bridge that never ran releases the link and client directly. Close is safe
// to call any number of times.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	first := !b.closed
	b.closed = true
	started, cancel := b.started, b.cancel
	b.mu.Unlock()

	if !started {
		if first {
			b.shutdown("")
			close(b.done)
		}
		return nil
	}

	if cancel != nil {
		cancel()
	}
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("bridge: close: %w", ctx.Err())
	}
}

// Done is closed once the bridge has fully shut down.
func (b *Bridge) Done() <-chan struct{} { return b.done }

// shutdown releases every resource in order. notice, when non-empty, is sent
// to the client as an error frame after all routed frames.
func (b *Bridge) shutdown(notice string) {
	b.setState(StateClosing)

	b.disconnectUpstream()

	drainCtx, cancel := context.WithTimeout(context.Background(), b.cfg.DrainTimeout)
	defer cancel()
	if err := b.router.Close(drainCtx); err != nil {
		b.log.Warn("bridge: sinks not drained", "err", err)
	}

	if notice != "" {
		if err := b.client.WriteJSON(drainCtx, errorMessage(notice)); err != nil {
			b.log.Debug("bridge: error notice not delivered", "err", err)
		}
	}

	b.closeClient()
	b.setState(StateClosed)
	b.log.Info("bridge: session closed")
}

func (b *Bridge) disconnectUpstream() {
	b.mu.Lock()
	if b.linkClosed {
		b.mu.Unlock()
		return
	}
	b.linkClosed = true
	b.mu.Unlock()

	if err := b.link.Disconnect(); err != nil {
		b.log.Warn("bridge: upstream disconnect failed", "err", err)
	}
}

func (b *Bridge) closeClient() {
	b.mu.Lock()
	if b.clientClosed {
		b.mu.Unlock()
		return
	}
	b.clientClosed = true
	b.mu.Unlock()

	if err := b.client.Close("session closed"); err != nil {
		b.log.Debug("bridge: client close", "err", err)
	}
}
