// Package memory defines the durable conversation log that receives every
// completed turn of a bridged session.
//
// The bridge never writes partial text: a [Turn] is only created once an
// utterance is complete. Storage backends implement [TurnStore]; the
// PostgreSQL implementation lives in the postgres sub-package and [MemStore]
// serves single-process deployments and tests.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidRole is returned when a turn is created with a role other than
// [RoleUser] or [RoleAssistant].
var ErrInvalidRole = errors.New("memory: invalid role")

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// IsValid reports whether r is a recognised role.
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is one complete utterance appended to a session's conversation log.
type Turn struct {
	// ID uniquely identifies the turn.
	ID string

	// SessionID is the externally owned session identifier.
	SessionID string

	// Role is who spoke.
	Role Role

	// Content is the complete utterance text.
	Content string

	// CreatedAt is when the turn was recorded.
	CreatedAt time.Time
}

// TurnStore is the append-only persistence collaborator for completed turns.
type TurnStore interface {
	// CreateMessage appends a turn for sessionID and returns the stored
	// record. It returns [ErrInvalidRole] for an unknown role and a wrapped
	// error on storage failure.
	CreateMessage(ctx context.Context, sessionID string, role Role, content string) (Turn, error)
}

// Pinger is implemented by stores that can report their reachability. It is
// used by readiness probes.
type Pinger interface {
	Ping(ctx context.Context) error
}
