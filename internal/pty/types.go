package pty

import (
	"errors"
	"fmt"
)

// EventType distinguishes the kind of event produced by a Session.
type EventType int

const (
	// EventOutput indicates that a chunk of data was read from the PTY.
	EventOutput EventType = iota
	// EventExit indicates that the child process has exited. It is the last
	// event delivered before the channel is closed.
	EventExit
)

// Event is a single notification emitted by a Session.
type Event struct {
	Type EventType
	Data []byte
	Exit ExitInfo
}

// ExitInfo describes how the child process terminated.
type ExitInfo struct {
	Code   int
	Signal string
}

func (e ExitInfo) String() string {
	if e.Signal != "" {
		return fmt.Sprintf("signal %s", e.Signal)
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

// Options configures the process started by Spawn.
type Options struct {
	Cols uint16
	Rows uint16
	Env  []string
	Dir  string
}

// ErrClosed is returned by Write and Resize once the session is gone.
var ErrClosed = errors.New("pty: session is closed")

// SpawnError reports that the executable could not be located or the OS
// refused to allocate a pseudo-terminal for it.
type SpawnError struct {
	Name string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("pty: spawn %q: %v", e.Name, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }
