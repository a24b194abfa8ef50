package bridge

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrSessionActive is returned by [Registry.Add] when a live bridge already
// serves the session.
var ErrSessionActive = errors.New("bridge: session already active")

// Registry maps session IDs to live bridges for administration. It holds no
// protocol state and is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	bridges map[string]*Bridge
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{bridges: make(map[string]*Bridge)}
}

// Add registers b under its session ID.
func (r *Registry) Add(b *Bridge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bridges[b.SessionID()]; ok {
		return ErrSessionActive
	}
	r.bridges[b.SessionID()] = b
	return nil
}

// Remove unregisters b. A different bridge registered under the same ID is
// left in place.
func (r *Registry) Remove(b *Bridge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bridges[b.SessionID()] == b {
		delete(r.bridges, b.SessionID())
	}
}

// Get returns the bridge serving sessionID.
func (r *Registry) Get(sessionID string) (*Bridge, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bridges[sessionID]
	return b, ok
}

// Len returns the number of registered bridges.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bridges)
}

// Statuses returns a snapshot of every registered bridge ordered by session
// ID.
func (r *Registry) Statuses() []Status {
	out := make([]Status, 0, r.Len())
	for _, b := range r.snapshot() {
		out = append(out, b.Status())
	}
	slices.SortFunc(out, func(a, b Status) int { return strings.Compare(a.SessionID, b.SessionID) })
	return out
}

// StopAll closes every registered bridge concurrently and waits until they
// have shut down or ctx expires. It returns the number of bridges stopped.
func (r *Registry) StopAll(ctx context.Context) (int, error) {
	bridges := r.snapshot()
	var g errgroup.Group
	for _, b := range bridges {
		g.Go(func() error { return b.Close(ctx) })
	}
	return len(bridges), g.Wait()
}

func (r *Registry) snapshot() []*Bridge {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Bridge, 0, len(r.bridges))
	for _, b := range r.bridges {
		out = append(out, b)
	}
	return out
}
