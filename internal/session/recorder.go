package session

import (
	"context"
	"time"

	"github.com/user/aiderterm/internal/db"
	"github.com/user/aiderterm/internal/pty"
)

// SessionInfo describes a freshly started session.
type SessionInfo struct {
	ID        string
	Model     string
	WorkDir   string
	Cols      uint16
	Rows      uint16
	Pid       int
	StartedAt time.Time
}

// Recorder keeps session history. Errors are logged by the coordinator and
// never affect the session.
type Recorder interface {
	SessionStarted(ctx context.Context, info SessionInfo) error
	SessionExited(ctx context.Context, id string, exit pty.ExitInfo) error
}

type repoRecorder struct {
	repo *db.SessionRepo
}

// NewRepoRecorder stores history in the session_records table.
func NewRepoRecorder(repo *db.SessionRepo) Recorder {
	return &repoRecorder{repo: repo}
}

func (r *repoRecorder) SessionStarted(ctx context.Context, info SessionInfo) error {
	return r.repo.Create(ctx, &db.SessionRecord{
		ID:        info.ID,
		Model:     info.Model,
		WorkDir:   info.WorkDir,
		Cols:      int(info.Cols),
		Rows:      int(info.Rows),
		Pid:       info.Pid,
		StartedAt: info.StartedAt,
	})
}

func (r *repoRecorder) SessionExited(ctx context.Context, id string, exit pty.ExitInfo) error {
	return r.repo.MarkExited(ctx, id, exit.Code, exit.Signal)
}
