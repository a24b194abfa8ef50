package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/pkg/memory"
)

// ErrRouterClosed is returned by [Router.Register] after [Router.Close].
var ErrRouterClosed = errors.New("bridge: router closed")

// Kind classifies routed events.
type Kind string

const (
	// KindTranscript carries a completed user transcription.
	KindTranscript Kind = "transcript"

	// KindResponse carries a completed assistant response.
	KindResponse Kind = "response"

	// KindControl carries a client-visible control frame such as an
	// acknowledgement or a non-fatal error.
	KindControl Kind = "control"

	// KindAudio carries one chunk of assistant audio.
	KindAudio Kind = "audio"
)

// lossy reports whether events of kind k may be dropped when a sink falls
// behind. Only audio is; a late chunk is worthless and the stream recovers.
func (k Kind) lossy() bool { return k == KindAudio }

// Event is the unit the router fans out to sinks.
type Event struct {
	Kind      Kind
	SessionID string

	// Role and Text are set for transcript and response events.
	Role memory.Role
	Text string

	// Audio is set for audio events.
	Audio []byte

	// Control is the outbound frame type for control events; Message is its
	// optional human-readable payload.
	Control string
	Message string

	At time.Time
}

// Handler consumes routed events. A returned error is logged and counted; it
// never reaches other sinks or the dispatcher.
type Handler func(ctx context.Context, evt Event) error

// RouterConfig tunes a [Router]. Zero values select defaults.
type RouterConfig struct {
	// QueueSize is the backlog at which a sink starts dropping audio.
	// Default: 64.
	QueueSize int

	// Timeout bounds a single handler invocation. Default: 5s.
	Timeout time.Duration

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Router dispatches completed events to registered sinks.
//
// Every sink owns a FIFO queue drained by its own goroutine, so a slow or
// failing sink only ever delays itself. Events for one sink are delivered in
// dispatch order. Once a sink's backlog reaches the queue size, further audio
// for that sink is dropped; transcripts, responses and control frames are
// still queued so no completed turn is ever lost.
type Router struct {
	queueSize int
	timeout   time.Duration
	metrics   *observe.Metrics
	log       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	sinks  []*sink
	closed bool

	closeOnce sync.Once
	closeErr  error
}

type sink struct {
	name   string
	kinds  []Kind
	handle Handler

	mu     sync.Mutex
	queue  []Event
	closed bool
	// wake holds at most one pending signal for the worker.
	wake chan struct{}
}

// push appends evt unless it is lossy and the backlog is at limit.
func (s *sink) push(evt Event, limit int) bool {
	s.mu.Lock()
	if len(s.queue) >= limit && evt.Kind.lossy() {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, evt)
	s.mu.Unlock()
	s.signal()
	return true
}

// pop blocks until an event is queued or the sink is closed and empty.
func (s *sink) pop() (Event, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			evt := s.queue[0]
			s.queue[0] = Event{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return evt, true
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return Event{}, false
		}
		<-s.wake
	}
}

func (s *sink) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signal()
}

func (s *sink) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// NewRouter returns a router with no sinks.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		queueSize: cfg.QueueSize,
		timeout:   cfg.Timeout,
		metrics:   cfg.Metrics,
		log:       cfg.Logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Register adds a sink named name that receives every event of the given
// kinds. Sinks are enqueued in registration order; delivery across sinks is
// concurrent.
func (r *Router) Register(name string, h Handler, kinds ...Kind) error {
	if h == nil {
		return fmt.Errorf("bridge: register %q: nil handler", name)
	}
	if len(kinds) == 0 {
		return fmt.Errorf("bridge: register %q: no kinds", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRouterClosed
	}
	s := &sink{
		name:   name,
		kinds:  slices.Clone(kinds),
		handle: h,
		queue:  make([]Event, 0, r.queueSize),
		wake:   make(chan struct{}, 1),
	}
	r.sinks = append(r.sinks, s)
	r.wg.Add(1)
	go r.run(s)
	return nil
}

// Dispatch enqueues evt for every sink subscribed to evt.Kind without
// blocking. It returns the number of sinks that accepted the event; only
// audio is ever refused. After [Router.Close] it returns 0.
func (r *Router) Dispatch(evt Event) int {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return 0
	}

	accepted := 0
	for _, s := range r.sinks {
		if !slices.Contains(s.kinds, evt.Kind) {
			continue
		}
		if s.push(evt, r.queueSize) {
			accepted++
			continue
		}
		r.metrics.RecordSinkDropped(r.ctx, s.name)
		r.log.Debug("bridge: sink behind, dropping audio",
			"sink", s.name,
			"kind", string(evt.Kind))
	}
	return accepted
}

// Close stops intake and waits for queued events to drain. If ctx expires
// first, in-flight handlers are cancelled and ctx.Err() is returned. Close is
// idempotent; later calls return the first call's result.
func (r *Router) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		for _, s := range r.sinks {
			s.close()
		}
		r.mu.Unlock()

		done := make(chan struct{})
		go func() {
			r.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			r.closeErr = fmt.Errorf("bridge: drain sinks: %w", ctx.Err())
		}
		r.cancel()
	})
	return r.closeErr
}

func (r *Router) run(s *sink) {
	defer r.wg.Done()
	for {
		evt, ok := s.pop()
		if !ok {
			return
		}
		r.deliver(s, evt)
	}
}

func (r *Router) deliver(s *sink, evt Event) {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			r.metrics.RecordSinkError(ctx, s.name)
			r.log.Error("bridge: sink panicked",
				"sink", s.name,
				"kind", string(evt.Kind),
				"panic", p)
		}
	}()

	if err := s.handle(ctx, evt); err != nil {
		r.metrics.RecordSinkError(ctx, s.name)
		r.log.Warn("bridge: sink failed",
			"sink", s.name,
			"kind", string(evt.Kind),
			"err", err)
	}
}
