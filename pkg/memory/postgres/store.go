package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voxbridge/pkg/memory"
)

var _ memory.TurnStore = (*Store)(nil)

// Store is the PostgreSQL-backed conversation log. It holds a single
// [pgxpool.Pool] and is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a connection pool to the PostgreSQL database at dsn,
// verifies connectivity, and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// CreateMessage implements [memory.TurnStore]. The role is validated before
// any round trip to the database.
func (s *Store) CreateMessage(ctx context.Context, sessionID string, role memory.Role, content string) (memory.Turn, error) {
	if !role.IsValid() {
		return memory.Turn{}, fmt.Errorf("postgres store: create message: %w: %q", memory.ErrInvalidRole, role)
	}

	const q = `
		INSERT INTO messages (id, session_id, role, content)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	id := uuid.New()
	var createdAt time.Time
	if err := s.pool.QueryRow(ctx, q, id.String(), sessionID, string(role), content).Scan(&createdAt); err != nil {
		return memory.Turn{}, fmt.Errorf("postgres store: create message: %w", err)
	}

	return memory.Turn{
		ID:        id.String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: createdAt.UTC(),
	}, nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
