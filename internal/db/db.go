// Package db stores the history of aider sessions in sqlite.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// pragmas run on every new database handle. The pump goroutine records
// exits while the API reads, so writers wait instead of failing.
var pragmas = []string{
	`PRAGMA journal_mode = WAL`,
	`PRAGMA busy_timeout = 5000`,
	`PRAGMA synchronous = NORMAL`,
}

// DB is the session history store handle.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens or creates the database at path and brings its schema up to
// date.
func Open(ctx context.Context, path string) (*DB, error) {
	if path == "" {
		return nil, errors.New("database path cannot be empty")
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory for %q: %w", path, err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %q: %w", path, err)
	}
	// One connection keeps an in-memory database alive and serializes
	// writers on disk.
	conn.SetMaxOpenConns(1)

	if err := prepare(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("database %q: %w", path, err)
	}
	return &DB{conn: conn, path: path}, nil
}

func prepare(ctx context.Context, conn *sql.DB) error {
	for _, pragma := range pragmas {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return Migrate(ctx, conn)
}

func (d *DB) SQL() *sql.DB { return d.conn }

// Path is the file the database was opened from.
func (d *DB) Path() string { return d.path }

func (d *DB) Close() error {
	if d == nil || d.conn == nil {
		return nil
	}
	return d.conn.Close()
}
