// Package postgres provides a PostgreSQL-backed implementation of
// [memory.TurnStore].
//
// Completed turns are appended to a single messages table through a shared
// [pgxpool.Pool]. [Migrate] creates the table and its indexes idempotently,
// so a fresh database needs no manual setup.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	turn, err := store.CreateMessage(ctx, sessionID, memory.RoleUser, "hello")
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlMessages = `
CREATE TABLE IF NOT EXISTS messages (
    id          UUID         PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    role        TEXT         NOT NULL CHECK (role IN ('user', 'assistant')),
    content     TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_messages_session_created
    ON messages (session_id, created_at);
`

// Migrate creates the messages table and its indexes if they do not exist.
// It is safe to call on every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlMessages); err != nil {
		return fmt.Errorf("migrate messages: %w", err)
	}
	return nil
}
