package archive

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS notifications (
		job_id     TEXT    NOT NULL,
		job_seq    INTEGER NOT NULL,
		job_name   TEXT    NOT NULL DEFAULT '',
		kind       TEXT    NOT NULL,
		title      TEXT    NOT NULL DEFAULT '',
		payload    TEXT    NOT NULL DEFAULT '{}',
		emitted_at TEXT    NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_notifications_job ON notifications(job_id)`,

	`CREATE TABLE IF NOT EXISTS scalars (
		job_id      TEXT NOT NULL,
		name        TEXT NOT NULL,
		value       REAL NOT NULL,
		reported_at TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_scalars_job ON scalars(job_id, name)`,
}

// migrate creates or updates the database schema to the latest version.
// All DDL uses IF NOT EXISTS, making migration idempotent.
func migrate(db *sql.DB) error {
	ctx := context.TODO()

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("archive: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("archive: read schema version: %w", err)
	}
	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("archive: applying schema: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("archive: record schema version: %w", err)
	}
	return nil
}
