package db

import (
	"context"
	"database/sql"
	"fmt"
)

// schema holds one step per schema version; step i brings the database to
// user_version i+1. Steps are append-only.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS session_records (
	id TEXT PRIMARY KEY,
	model TEXT NOT NULL,
	work_dir TEXT NOT NULL,
	cols INTEGER NOT NULL,
	rows INTEGER NOT NULL,
	pid INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	exit_code INTEGER,
	signal TEXT,
	started_at TEXT NOT NULL,
	ended_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_session_records_started_at ON session_records(started_at);`,

	// CloseStale scans by status on every startup.
	`CREATE INDEX IF NOT EXISTS idx_session_records_status ON session_records(status);`,
}

// SchemaVersion is the user_version a fully migrated database reports.
func SchemaVersion() int { return len(schema) }

// Migrate applies the schema steps the database has not seen yet. Each
// step commits together with its version bump.
func Migrate(ctx context.Context, conn *sql.DB) error {
	var current int
	if err := conn.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if current > len(schema) {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, len(schema))
	}

	for v := current + 1; v <= len(schema); v++ {
		if err := applyStep(ctx, conn, v); err != nil {
			return err
		}
	}
	return nil
}

func applyStep(ctx context.Context, conn *sql.DB, version int) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin schema step %d: %w", version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schema[version-1]); err != nil {
		return fmt.Errorf("failed schema step %d: %w", version, err)
	}
	// PRAGMA does not take bind parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, version)); err != nil {
		return fmt.Errorf("failed to record schema version %d: %w", version, err)
	}
	return tx.Commit()
}
