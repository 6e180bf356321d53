package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Schema creates the journal table. Safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS issue_events (
	event_key   UUID PRIMARY KEY,
	event_type  TEXT NOT NULL,
	issue_id    TEXT,
	actor       TEXT,
	payload     JSONB NOT NULL,
	occurred_at TIMESTAMPTZ,
	received_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS issue_events_issue_id_idx ON issue_events (issue_id, received_at);
`

const insertEvent = `
	INSERT INTO issue_events (event_key, event_type, issue_id, actor, payload, occurred_at, received_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (event_key) DO NOTHING
`

// Execer runs a statement. *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// EnsureSchema creates the journal table and index if missing.
func EnsureSchema(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create issue_events: %w", err)
	}
	return nil
}
