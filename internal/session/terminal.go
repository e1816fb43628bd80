package session

import (
	"time"

	"github.com/user/aiderterm/internal/pty"
)

// Terminal is the slice of *pty.Session the coordinator drives.
type Terminal interface {
	Write(p []byte) (int, error)
	Resize(cols, rows uint16) error
	Kill() error
	Events() <-chan pty.Event
	Pid() int
}

// SpawnFunc starts a child attached to a terminal.
type SpawnFunc func(name string, args []string, opts pty.Options) (Terminal, error)

func spawnPTY(name string, args []string, opts pty.Options) (Terminal, error) {
	s, err := pty.Spawn(name, args, opts)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// State is the coordinator lifecycle position.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// ExitEvent is delivered once per session.
type ExitEvent struct {
	SessionID string
	Model     string
	pty.ExitInfo
}

// Status is a point-in-time snapshot for status surfaces.
type Status struct {
	State     string        `json:"state"`
	Running   bool          `json:"running"`
	SessionID string        `json:"sessionId,omitempty"`
	Model     string        `json:"model,omitempty"`
	WorkDir   string        `json:"workDir,omitempty"`
	Cols      uint16        `json:"cols,omitempty"`
	Rows      uint16        `json:"rows,omitempty"`
	Pid       int           `json:"pid,omitempty"`
	StartedAt *time.Time    `json:"startedAt,omitempty"`
	Pending   *PendingStart `json:"pending,omitempty"`
}

type activeSession struct {
	id        string
	term      Terminal
	model     string
	workDir   string
	startedAt time.Time

	// done is closed after the exit event has been delivered.
	done chan struct{}
}
