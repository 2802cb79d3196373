package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlCalls = `
CREATE TABLE IF NOT EXISTS calls (
    call_id     TEXT         PRIMARY KEY,
    started_at  TIMESTAMPTZ  NOT NULL,
    ended_at    TIMESTAMPTZ,
    end_reason  TEXT         NOT NULL DEFAULT '',
    summary     JSONB        NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_calls_started_at
    ON calls (started_at DESC);
`

const ddlCallEntries = `
CREATE TABLE IF NOT EXISTS call_entries (
    id         BIGSERIAL    PRIMARY KEY,
    call_id    TEXT         NOT NULL REFERENCES calls (call_id) ON DELETE CASCADE,
    role       TEXT         NOT NULL,
    text       TEXT         NOT NULL,
    timestamp  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_call_entries_call_id
    ON call_entries (call_id, id);
`

// Migrate creates the call log tables if they do not exist. It is idempotent
// and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlCalls, ddlCallEntries} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("calllog migrate: %w", err)
		}
	}
	return nil
}
