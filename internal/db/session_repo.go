package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const defaultListLimit = 50

type SessionRepo struct {
	db *sql.DB
}

func NewSessionRepo(db *sql.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

func (r *SessionRepo) Create(ctx context.Context, rec *SessionRecord) error {
	if rec.ID == "" {
		rec.ID = NewID()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = nowUTC()
	}
	if rec.Status == "" {
		rec.Status = StatusRunning
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO session_records (id, model, work_dir, cols, rows, pid, status, started_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, rec.ID, rec.Model, rec.WorkDir, rec.Cols, rec.Rows, rec.Pid, rec.Status, formatTimestamp(rec.StartedAt))
	if err != nil {
		return fmt.Errorf("failed to create session record: %w", err)
	}
	return nil
}

// MarkExited stores how the session ended. A record that has already been
// closed is left untouched.
func (r *SessionRepo) MarkExited(ctx context.Context, id string, exitCode int, signal string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE session_records
SET status = ?, exit_code = ?, signal = ?, ended_at = ?
WHERE id = ? AND status = ?
`, StatusExited, exitCode, nullIfEmpty(signal), formatTimestamp(nowUTC()), id, StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to close session record %q: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read updated rows for session record %q: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("session record %q not found or already closed", id)
	}
	return nil
}

// CloseStale marks records left running by a previous process as exited
// and returns how many were touched.
func (r *SessionRepo) CloseStale(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE session_records SET status = ?, ended_at = ? WHERE status = ?
`, StatusExited, formatTimestamp(nowUTC()), StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to close stale session records: %w", err)
	}
	return res.RowsAffected()
}

func (r *SessionRepo) Get(ctx context.Context, id string) (*SessionRecord, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, model, work_dir, cols, rows, pid, status, exit_code, signal, started_at, ended_at
FROM session_records
WHERE id = ?
`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session record %q: %w", id, err)
	}
	return rec, nil
}

// ListRecent returns the newest records first. A non-positive limit uses
// the default.
func (r *SessionRepo) ListRecent(ctx context.Context, limit int) ([]*SessionRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, model, work_dir, cols, rows, pid, status, exit_code, signal, started_at, ended_at
FROM session_records
ORDER BY started_at DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list session records: %w", err)
	}
	defer rows.Close()

	records := []*SessionRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating session records: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*SessionRecord, error) {
	var rec SessionRecord
	var exitCode sql.NullInt64
	var signal, endedAtRaw sql.NullString
	var startedAtRaw string

	if err := s.Scan(&rec.ID, &rec.Model, &rec.WorkDir, &rec.Cols, &rec.Rows, &rec.Pid, &rec.Status, &exitCode, &signal, &startedAtRaw, &endedAtRaw); err != nil {
		return nil, err
	}

	if exitCode.Valid {
		code := int(exitCode.Int64)
		rec.ExitCode = &code
	}
	rec.Signal = signal.String

	var err error
	rec.StartedAt, err = parseTimestamp(startedAtRaw)
	if err != nil {
		return nil, err
	}
	if endedAtRaw.Valid {
		var endedAt time.Time
		endedAt, err = parseTimestamp(endedAtRaw.String)
		if err != nil {
			return nil, err
		}
		rec.EndedAt = &endedAt
	}
	return &rec, nil
}
