package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// FrameType distinguishes client frames.
type FrameType int

const (
	// FrameText is a JSON control message.
	FrameText FrameType = iota + 1

	// FrameBinary is raw little-endian PCM16 mono audio.
	FrameBinary
)

// Frame is one message read from a [ClientChannel].
type Frame struct {
	Type FrameType
	Data []byte
}

// ClientChannel is the duplex socket to the end user.
//
// Read must return [io.EOF] once the peer has closed the channel cleanly and
// ctx.Err() when ctx expires; an expired Read must leave the channel usable.
// Writes may be called concurrently with each other and with Read. Close must
// be idempotent.
type ClientChannel interface {
	Read(ctx context.Context) (Frame, error)
	WriteJSON(ctx context.Context, v any) error
	WriteBinary(ctx context.Context, data []byte) error
	Close(reason string) error
}

// clientReadLimit bounds a single inbound client frame.
const clientReadLimit = 1 << 20

var _ ClientChannel = (*WSChannel)(nil)

// WSChannel adapts a [websocket.Conn] to [ClientChannel].
//
// A background goroutine owns the socket's read side, so cancelling a Read
// never closes the connection. The goroutine exits once the connection is
// closed.
type WSChannel struct {
	conn *websocket.Conn

	frames chan readResult
	done   chan struct{}

	// peerGone is set once the read side has failed.
	peerGone atomic.Bool

	mu     sync.Mutex
	closed bool
}

type readResult struct {
	frame Frame
	err   error
}

// NewWSChannel wraps an accepted connection and starts reading from it.
func NewWSChannel(conn *websocket.Conn) *WSChannel {
	conn.SetReadLimit(clientReadLimit)
	c := &WSChannel{
		conn:   conn,
		frames: make(chan readResult),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *WSChannel) readLoop() {
	for {
		typ, data, err := c.conn.Read(context.Background())
		var res readResult
		switch {
		case err != nil:
			c.peerGone.Store(true)
			res.err = classifyReadErr(err)
		case typ == websocket.MessageBinary:
			res.frame = Frame{Type: FrameBinary, Data: data}
		default:
			res.frame = Frame{Type: FrameText, Data: data}
		}

		select {
		case c.frames <- res:
		case <-c.done:
			return
		}
		if err != nil {
			close(c.frames)
			return
		}
	}
}

func classifyReadErr(err error) error {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusNoStatusRcvd:
		return io.EOF
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return io.EOF
	}
	return fmt.Errorf("bridge: read client frame: %w", err)
}

// Read returns the next frame.
func (c *WSChannel) Read(ctx context.Context) (Frame, error) {
	select {
	case res, ok := <-c.frames:
		if !ok {
			return Frame{}, io.EOF
		}
		return res.frame, res.err
	case <-c.done:
		return Frame{}, io.EOF
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// WriteJSON sends v as a text frame.
func (c *WSChannel) WriteJSON(ctx context.Context, v any) error {
	if err := wsjson.Write(ctx, c.conn, v); err != nil {
		return fmt.Errorf("bridge: write client frame: %w", err)
	}
	return nil
}

// WriteBinary sends data as a binary frame.
func (c *WSChannel) WriteBinary(ctx context.Context, data []byte) error {
	if err := c.conn.Write(ctx, websocket.MessageBinary, data); err != nil {
		return fmt.Errorf("bridge: write client audio: %w", err)
	}
	return nil
}

// Close performs a normal-closure handshake. Only the first call touches the
// socket; a peer that already went away is not an error. The websocket
// library gives up on a peer that never answers after five seconds.
func (c *WSChannel) Close(reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	err := c.conn.Close(websocket.StatusNormalClosure, reason)
	if err == nil || c.peerGone.Load() || isAlreadyClosed(err) {
		return nil
	}
	return fmt.Errorf("bridge: close client: %w", err)
}

func isAlreadyClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		websocket.CloseStatus(err) != -1
}
