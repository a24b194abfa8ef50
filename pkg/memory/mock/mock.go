// Package mock provides an in-memory test double for [memory.TurnStore].
//
// The mock records every call for assertion and exposes exported fields that
// control what it returns. It is safe for concurrent use.
//
// Typical usage:
//
//	store := &mock.TurnStore{CreateMessageErr: errors.New("db down")}
//
//	// inject store into the system under test …
//
//	if got := store.CallCount(); got != 1 {
//	    t.Errorf("expected 1 CreateMessage call, got %d", got)
//	}
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/voxbridge/pkg/memory"
)

var _ memory.TurnStore = (*TurnStore)(nil)

// Call records the arguments of a single CreateMessage invocation.
type Call struct {
	SessionID string
	Role      memory.Role
	Content   string
}

// TurnStore is a configurable test double for [memory.TurnStore].
type TurnStore struct {
	mu sync.Mutex

	calls []Call

	// CreateMessageErr is returned by every CreateMessage call when non-nil.
	CreateMessageErr error

	// FailFirst makes the first FailFirst calls return CreateMessageErr (or a
	// generic error when that is nil); later calls succeed.
	FailFirst int

	// Delay blocks each call for the given duration or until ctx is done.
	Delay time.Duration

	// PingErr is returned by Ping.
	PingErr error
}

// CreateMessage records the call and returns a synthetic turn or the
// configured error.
func (m *TurnStore) CreateMessage(ctx context.Context, sessionID string, role memory.Role, content string) (memory.Turn, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{SessionID: sessionID, Role: role, Content: content})
	n := len(m.calls)
	delay := m.Delay
	err := m.CreateMessageErr
	if m.FailFirst > 0 {
		err = nil
		if n <= m.FailFirst {
			err = m.CreateMessageErr
			if err == nil {
				err = fmt.Errorf("mock: create message failure %d", n)
			}
		}
	}
	m.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return memory.Turn{}, ctx.Err()
		}
	}
	if err != nil {
		return memory.Turn{}, err
	}
	if !role.IsValid() {
		return memory.Turn{}, memory.ErrInvalidRole
	}
	return memory.Turn{
		ID:        fmt.Sprintf("turn-%d", n),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Ping returns PingErr.
func (m *TurnStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PingErr
}

// Calls returns a copy of all recorded invocations.
func (m *TurnStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times CreateMessage was invoked.
func (m *TurnStore) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset clears all recorded calls.
func (m *TurnStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
