// Package mock provides a scriptable test double for realtime.Link.
//
// Tests push upstream events with [Link.Emit] and end the stream with
// [Link.End]; every write-side call is recorded for assertion.
//
// Example:
//
//	link := mock.New()
//	go func() {
//	    link.Emit(realtime.Event{Type: realtime.EventTextDelta, Text: "Hel"})
//	    link.Emit(realtime.Event{Type: realtime.EventTextDone})
//	}()
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxbridge/pkg/provider/realtime"
)

var _ realtime.Link = (*Link)(nil)

// Link is a mock implementation of realtime.Link. The zero value is not
// usable; construct with [New].
type Link struct {
	mu sync.Mutex

	// ConnectErr, if non-nil, is returned by Connect.
	ConnectErr error

	// ConfigureErr, if non-nil, is returned by Configure.
	ConfigureErr error

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CommitErr, if non-nil, is returned by every CommitInput call.
	CommitErr error

	connected bool
	events    chan realtime.Event
	ended     chan struct{}
	endOnce   sync.Once
	endErr    error

	// --- Call records ---

	connectCalls    int
	configureCalls  []realtime.SessionOptions
	audioChunks     [][]byte
	commitCalls     int
	disconnectCalls int
}

// New returns a Link whose event stream is unbuffered, so [Link.Emit]
// returns only after the consumer has taken the event.
func New() *Link {
	return &Link{
		events: make(chan realtime.Event),
		ended:  make(chan struct{}),
	}
}

// Connect records the call and returns ConnectErr.
func (l *Link) Connect(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connectCalls++
	if l.ConnectErr != nil {
		return l.ConnectErr
	}
	l.connected = true
	return nil
}

// Configure records the options and returns ConfigureErr.
func (l *Link) Configure(_ context.Context, opts realtime.SessionOptions) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.configureCalls = append(l.configureCalls, opts)
	return l.ConfigureErr
}

// SendAudio records a copy of chunk. It returns ErrNotConnected when not
// connected, SendAudioErr otherwise.
func (l *Link) SendAudio(_ context.Context, chunk []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return realtime.ErrNotConnected
	}
	if l.SendAudioErr != nil {
		return l.SendAudioErr
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	l.audioChunks = append(l.audioChunks, cp)
	return nil
}

// CommitInput records the call and returns CommitErr.
func (l *Link) CommitInput(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return realtime.ErrNotConnected
	}
	l.commitCalls++
	return l.CommitErr
}

// NextEvent returns the next emitted event, ctx.Err(), or the error passed
// to End once the stream has ended.
func (l *Link) NextEvent(ctx context.Context) (realtime.Event, error) {
	select {
	case evt := <-l.events:
		return evt, nil
	case <-l.ended:
		l.mu.Lock()
		defer l.mu.Unlock()
		return realtime.Event{}, l.endErr
	case <-ctx.Done():
		return realtime.Event{}, ctx.Err()
	}
}

// Connected reports whether Connect succeeded and Disconnect has not been
// called.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// Disconnect records the call and ends the event stream.
func (l *Link) Disconnect() error {
	l.mu.Lock()
	l.disconnectCalls++
	l.connected = false
	l.mu.Unlock()
	l.End(realtime.ErrClosed)
	return nil
}

// Emit delivers evt to the next NextEvent call. It returns false if the
// stream ended or ctx expired before the event was consumed.
func (l *Link) Emit(ctx context.Context, evt realtime.Event) bool {
	select {
	case l.events <- evt:
		return true
	case <-l.ended:
		return false
	case <-ctx.Done():
		return false
	}
}

// End terminates the event stream; subsequent NextEvent calls return err.
// Only the first call has an effect.
func (l *Link) End(err error) {
	l.endOnce.Do(func() {
		l.mu.Lock()
		if err == nil {
			err = realtime.ErrClosed
		}
		l.endErr = err
		l.mu.Unlock()
		close(l.ended)
	})
}

// ConnectCalls returns how many times Connect was called.
func (l *Link) ConnectCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connectCalls
}

// ConfigureCalls returns a copy of the options passed to Configure.
func (l *Link) ConfigureCalls() []realtime.SessionOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]realtime.SessionOptions, len(l.configureCalls))
	copy(out, l.configureCalls)
	return out
}

// AudioChunks returns the chunks accepted by SendAudio, in order.
func (l *Link) AudioChunks() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]byte, len(l.audioChunks))
	copy(out, l.audioChunks)
	return out
}

// CommitCalls returns how many times CommitInput was called while connected.
func (l *Link) CommitCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.commitCalls
}

// DisconnectCalls returns how many times Disconnect was called.
func (l *Link) DisconnectCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.disconnectCalls
}
