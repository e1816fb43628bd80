package session

import (
	"errors"
	"fmt"
)

// ErrNotRunning is returned by write paths when no aider session is live.
var ErrNotRunning = errors.New("session: aider is not running")

// ProcessStartError wraps a failed spawn. The underlying error is usually a
// *pty.SpawnError.
type ProcessStartError struct {
	Model string
	Err   error
}

func (e *ProcessStartError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("session: start aider: %v", e.Err)
	}
	return fmt.Sprintf("session: start aider with model %q: %v", e.Model, e.Err)
}

func (e *ProcessStartError) Unwrap() error { return e.Err }

// WriteError is a failed write to a live session.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("session: %s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// CallbackError reports a subscriber that panicked. The panic is contained
// and the remaining subscribers still run.
type CallbackError struct {
	Event string
	Value any
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("session: %s callback panicked: %v", e.Event, e.Value)
}
