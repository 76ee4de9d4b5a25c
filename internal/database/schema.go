package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema holds the pipeline tables. River's own tables are created by the
// river CLI migrations and are not managed here.
const schema = `
CREATE TABLE IF NOT EXISTS sales_threads (
	id                 UUID PRIMARY KEY,
	user_id            TEXT NOT NULL,
	lead_ref           TEXT,
	channel            TEXT NOT NULL CHECK (channel IN ('email', 'linkedin', 'web')),
	external_thread_id TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL CHECK (status IN ('awaiting_human', 'awaiting_prospect')),
	last_inbound_at    TIMESTAMPTZ,
	last_outbound_at   TIMESTAMPTZ,
	metadata           JSONB NOT NULL DEFAULT '{}',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (user_id, channel, external_thread_id)
);

CREATE TABLE IF NOT EXISTS sales_messages (
	id         UUID PRIMARY KEY,
	thread_id  UUID NOT NULL REFERENCES sales_threads(id),
	direction  TEXT NOT NULL CHECK (direction IN ('inbound', 'outbound', 'draft')),
	sender     TEXT NOT NULL DEFAULT '',
	recipient  TEXT NOT NULL DEFAULT '',
	subject    TEXT,
	body       TEXT NOT NULL,
	assets     JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_sales_messages_thread ON sales_messages(thread_id, created_at);

CREATE TABLE IF NOT EXISTS sales_actions (
	id         UUID PRIMARY KEY,
	thread_id  UUID NOT NULL REFERENCES sales_threads(id),
	kind       TEXT NOT NULL,
	note       TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_sales_actions_thread ON sales_actions(thread_id, created_at);

CREATE TABLE IF NOT EXISTS sales_policies (
	user_id    TEXT PRIMARY KEY,
	policy     JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Migrate applies the pipeline schema. Statements are idempotent so this runs
// on every startup.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
