package database

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id          UUID PRIMARY KEY,
		name        TEXT NOT NULL DEFAULT '',
		price       TEXT NOT NULL DEFAULT '',
		rating      TEXT NOT NULL DEFAULT '',
		image       TEXT NOT NULL DEFAULT '',
		product_url TEXT NOT NULL UNIQUE,
		source_url  TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_products_created_at ON products (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS outbox_event (
		id             UUID PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id   TEXT NOT NULL,
		event_type     TEXT NOT NULL,
		payload        JSONB NOT NULL,
		target_stream  TEXT NOT NULL,
		status         TEXT NOT NULL DEFAULT 'pending',
		retry_count    INT NOT NULL DEFAULT 0,
		error_message  TEXT,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		processed_at   TIMESTAMPTZ,
		next_retry_at  TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_event_pending ON outbox_event (status, next_retry_at)`,
}

// EnsureSchema creates the products and outbox tables when missing.
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
