// Package openai implements the realtime.Link interface for OpenAI's Realtime
// API.
//
// It holds a single WebSocket connection to the Realtime endpoint and exchanges
// JSON events according to the Realtime protocol. Client audio is sent as
// base64-encoded PCM16 in input_audio_buffer.append events. A background
// goroutine owns the read side of the socket and hands decoded events to
// [Link.NextEvent] over a buffered channel, so callers may poll with short
// deadlines without tearing the connection down.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxbridge/pkg/provider/realtime"
)

var _ realtime.Link = (*Link)(nil)

const (
	defaultModel       = "gpt-4o-realtime-preview"
	defaultBaseURL     = "wss://api.openai.com/v1/realtime"
	defaultEventBuffer = 64

	// readLimit bounds a single inbound frame. Audio deltas for long
	// responses regularly exceed the library default of 32 KiB.
	readLimit = 4 << 20
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Link.
type Option func(*Link)

// WithModel sets the OpenAI model used for the session.
func WithModel(model string) Option {
	return func(l *Link) {
		if model != "" {
			l.model = model
		}
	}
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(u string) Option {
	return func(l *Link) {
		if u != "" {
			l.baseURL = u
		}
	}
}

// WithHTTPClient sets the HTTP client used for the WebSocket handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(l *Link) { l.httpClient = c }
}

// WithEventBuffer sets how many decoded events may queue before the read
// goroutine applies backpressure to the socket.
func WithEventBuffer(n int) Option {
	return func(l *Link) {
		if n > 0 {
			l.eventBuffer = n
		}
	}
}

// ── Link ───────────────────────────────────────────────────────────────────────

// Link is one connection to the OpenAI Realtime endpoint. Create one per
// session with [New]; it cannot be reconnected after [Link.Disconnect].
type Link struct {
	apiKey      string
	model       string
	baseURL     string
	httpClient  *http.Client
	eventBuffer int

	mu           sync.Mutex
	conn         *websocket.Conn
	connected    bool
	closed       bool
	configured   bool
	opts         realtime.SessionOptions
	pendingAudio int
	readErr      error

	events chan realtime.Event
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an unconnected Link with the given API key and options.
func New(apiKey string, opts ...Option) *Link {
	l := &Link{
		apiKey:      apiKey,
		model:       defaultModel,
		baseURL:     defaultBaseURL,
		eventBuffer: defaultEventBuffer,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Connect dials the Realtime endpoint and starts the read goroutine. Calling
// Connect on an already-connected link is a no-op.
func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return realtime.ErrClosed
	}
	if l.connected {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	u, err := url.Parse(l.baseURL)
	if err != nil {
		return fmt.Errorf("openai: parse base url: %w", err)
	}
	q := u.Query()
	q.Set("model", l.model)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPClient: l.httpClient,
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + l.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return fmt.Errorf("openai: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		// Disconnect raced with the dial.
		conn.Close(websocket.StatusNormalClosure, "session closed")
		return realtime.ErrClosed
	}
	l.conn = conn
	l.connected = true
	l.events = make(chan realtime.Event, l.eventBuffer)
	l.ctx, l.cancel = context.WithCancel(context.Background())
	go l.readLoop(l.ctx, conn, l.events)
	return nil
}

// Connected reports whether the transport is open.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// Options returns the options recorded by the last successful Configure.
func (l *Link) Options() realtime.SessionOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opts
}

// Configure sends the session.update event. It may only be called once per
// connection.
func (l *Link) Configure(ctx context.Context, opts realtime.SessionOptions) error {
	l.mu.Lock()
	if !l.connected {
		l.mu.Unlock()
		return realtime.ErrNotConnected
	}
	if l.configured {
		l.mu.Unlock()
		return errors.New("openai: session already configured")
	}
	l.configured = true
	l.opts = opts
	l.mu.Unlock()

	if err := l.writeJSON(ctx, sessionUpdateMessage{Type: "session.update", Session: toSessionParams(opts)}); err != nil {
		return fmt.Errorf("openai: session update: %w", err)
	}
	return nil
}

// SendAudio delivers one PCM16 chunk as an input_audio_buffer.append event.
func (l *Link) SendAudio(ctx context.Context, chunk []byte) error {
	if !l.Connected() {
		return realtime.ErrNotConnected
	}
	if len(chunk) == 0 {
		return nil
	}
	err := l.writeJSON(ctx, appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(chunk),
	})
	if err != nil {
		return fmt.Errorf("openai: append audio: %w", err)
	}
	l.mu.Lock()
	l.pendingAudio += len(chunk)
	l.mu.Unlock()
	return nil
}

// CommitInput sends input_audio_buffer.commit for any buffered audio. Without
// server-side turn detection it also requests a response. With nothing
// buffered it sends nothing and returns nil.
func (l *Link) CommitInput(ctx context.Context) error {
	l.mu.Lock()
	if !l.connected {
		l.mu.Unlock()
		return realtime.ErrNotConnected
	}
	pending := l.pendingAudio
	l.pendingAudio = 0
	manual := !l.opts.TurnDetection.Enabled()
	l.mu.Unlock()

	if pending == 0 {
		return nil
	}
	if err := l.writeJSON(ctx, typedMessage{Type: "input_audio_buffer.commit"}); err != nil {
		return fmt.Errorf("openai: commit: %w", err)
	}
	if manual {
		if err := l.writeJSON(ctx, typedMessage{Type: "response.create"}); err != nil {
			return fmt.Errorf("openai: response create: %w", err)
		}
	}
	return nil
}

// NextEvent returns the next decoded event. It returns ctx.Err() when ctx
// expires first, and [realtime.ErrClosed] or the transport error once the
// stream has ended.
func (l *Link) NextEvent(ctx context.Context) (realtime.Event, error) {
	l.mu.Lock()
	events := l.events
	l.mu.Unlock()
	if events == nil {
		return realtime.Event{}, realtime.ErrNotConnected
	}

	select {
	case evt, ok := <-events:
		if !ok {
			return realtime.Event{}, l.streamErr()
		}
		return evt, nil
	case <-ctx.Done():
		return realtime.Event{}, ctx.Err()
	}
}

// Disconnect closes the WebSocket. Safe to call any number of times.
func (l *Link) Disconnect() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.connected = false
	conn := l.conn
	cancel := l.cancel
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		// The peer may already be gone; the close handshake error carries
		// no information the caller can act on.
		_ = conn.Close(websocket.StatusNormalClosure, "session closed")
	}
	return nil
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (l *Link) writeJSON(ctx context.Context, v any) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return realtime.ErrNotConnected
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// readLoop reads events from the WebSocket until it fails or ctx is
// cancelled. It owns events and closes it on exit.
func (l *Link) readLoop(ctx context.Context, conn *websocket.Conn, events chan<- realtime.Event) {
	defer close(events)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			l.finish(ctx, err)
			return
		}

		evt, err := decodeEvent(data)
		if err != nil {
			slog.Warn("openai: skipping malformed event", "err", err, "bytes", len(data))
			continue
		}
		switch evt.Type {
		case realtime.EventUnknown:
			slog.Debug("openai: skipping unknown event", "type", evt.WireType)
			continue
		case realtime.EventInputCommitted:
			// Server VAD committed the buffer on its own.
			l.mu.Lock()
			l.pendingAudio = 0
			l.mu.Unlock()
		}

		select {
		case events <- evt:
		case <-ctx.Done():
			l.finish(ctx, ctx.Err())
			return
		}
	}
}

// finish records why the read side ended and marks the link disconnected.
func (l *Link) finish(ctx context.Context, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = false
	if l.readErr != nil {
		return
	}
	switch {
	case ctx.Err() != nil, websocket.CloseStatus(err) == websocket.StatusNormalClosure:
		l.readErr = realtime.ErrClosed
	default:
		l.readErr = fmt.Errorf("openai: read: %w", err)
	}
}

func (l *Link) streamErr() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr == nil {
		return realtime.ErrClosed
	}
	return l.readErr
}
