package postgres

import (
	"context"
	"fmt"
)

// Schema creates the metadata store tables. Statements are idempotent.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS pipeline_runs (
		run_id          UUID PRIMARY KEY,
		pipeline        TEXT NOT NULL,
		run_name        TEXT NOT NULL,
		stack           TEXT NOT NULL,
		orchestrator    TEXT NOT NULL,
		submission_kind TEXT NOT NULL,
		backend_run_id  TEXT,
		experiment      TEXT,
		image           TEXT,
		status          TEXT,
		submitted_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS pipeline_runs_pipeline_idx ON pipeline_runs (pipeline, submitted_at DESC)`,
	`CREATE TABLE IF NOT EXISTS lifecycle_events (
		event_id         BIGSERIAL PRIMARY KEY,
		occurred_at      TIMESTAMPTZ NOT NULL,
		actor            TEXT NOT NULL,
		action           TEXT NOT NULL,
		resource_type    TEXT NOT NULL,
		resource_id      TEXT NOT NULL,
		from_state       TEXT,
		to_state         TEXT,
		payload          JSONB NOT NULL,
		integrity_sha256 TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS lifecycle_events_resource_idx ON lifecycle_events (resource_type, resource_id, occurred_at)`,
}

func Migrate(ctx context.Context, db DB) error {
	for i, stmt := range Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
