package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ TurnStore = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [TurnStore].
// It is suitable for single-process deployments without a database and for
// testing. The zero value is ready to use.
type MemStore struct {
	mu    sync.RWMutex
	turns map[string][]Turn
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{turns: make(map[string][]Turn)}
}

// CreateMessage implements [TurnStore.CreateMessage].
func (s *MemStore) CreateMessage(ctx context.Context, sessionID string, role Role, content string) (Turn, error) {
	if !role.IsValid() {
		return Turn{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if err := ctx.Err(); err != nil {
		return Turn{}, err
	}

	t := Turn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turns == nil {
		s.turns = make(map[string][]Turn)
	}
	s.turns[sessionID] = append(s.turns[sessionID], t)
	return t, nil
}

// Turns returns a copy of all turns recorded for sessionID, oldest first.
func (s *MemStore) Turns(sessionID string) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.turns[sessionID])
}

// Ping always succeeds.
func (s *MemStore) Ping(context.Context) error { return nil }
