package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	StatusRunning = "running"
	StatusExited  = "exited"
)

// SessionRecord is the persisted lifecycle of one aider process.
type SessionRecord struct {
	ID        string     `json:"id"`
	Model     string     `json:"model"`
	WorkDir   string     `json:"work_dir"`
	Cols      int        `json:"cols"`
	Rows      int        `json:"rows"`
	Pid       int        `json:"pid,omitempty"`
	Status    string     `json:"status"`
	ExitCode  *int       `json:"exit_code,omitempty"`
	Signal    string     `json:"signal,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

func NewID() string {
	return uuid.NewString()
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		ts = nowUTC()
	}
	return ts.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(v string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", v, err)
	}
	return ts, nil
}

func nullIfEmpty(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
