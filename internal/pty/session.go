package pty

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	creackpty "github.com/creack/pty"
)

const (
	defaultCols    = 120
	defaultRows    = 30
	readBufferSize = 4096
	eventBuffer    = 1024

	// drainTimeout bounds how long the exit event waits for the read pump
	// after the child has been reaped.
	drainTimeout = 500 * time.Millisecond
)

// Session wraps a child process running inside a PTY.
type Session struct {
	name      string
	createdAt time.Time

	cmd  *exec.Cmd
	ptmx *os.File

	events   chan Event
	readDone chan struct{}
	exited   chan struct{}
	pumps    sync.WaitGroup

	mu       sync.Mutex
	cols     uint16
	rows     uint16
	closed   bool
	killOnce sync.Once
}

// Spawn allocates a PTY sized to opts and starts the named executable
// attached to it. A zero size falls back to 120x30.
func Spawn(name string, args []string, opts Options) (*Session, error) {
	if name == "" {
		return nil, &SpawnError{Name: name, Err: errors.New("executable name must not be empty")}
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, &SpawnError{Name: name, Err: err}
	}

	cmd := exec.Command(path, args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = opts.Env
	}

	cols, rows := opts.Cols, opts.Rows
	if cols == 0 {
		cols = defaultCols
	}
	if rows == 0 {
		rows = defaultRows
	}

	ptmx, err := creackpty.StartWithSize(cmd, &creackpty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, &SpawnError{Name: name, Err: err}
	}

	s := &Session{
		name:      name,
		createdAt: time.Now(),
		cmd:       cmd,
		ptmx:      ptmx,
		events:    make(chan Event, eventBuffer),
		readDone:  make(chan struct{}),
		exited:    make(chan struct{}),
		cols:      cols,
		rows:      rows,
	}

	s.pumps.Add(2)
	go s.readPump()
	go s.waitExit()
	go func() {
		s.pumps.Wait()
		close(s.events)
	}()

	return s, nil
}

// readPump reads data from the PTY fd and sends EventOutput events.
// It runs until the PTY is closed or any read error occurs.
func (s *Session) readPump() {
	defer s.pumps.Done()
	defer close(s.readDone)

	buf := make([]byte, readBufferSize)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case s.events <- Event{Type: EventOutput, Data: data}:
			case <-s.exited:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// waitExit reaps the child, lets the read pump drain whatever is still
// buffered in the PTY and then emits the single EventExit.
func (s *Session) waitExit() {
	defer s.pumps.Done()

	_ = s.cmd.Wait()

	select {
	case <-s.readDone:
	case <-time.After(drainTimeout):
		// A grandchild may still hold the slave side open.
		_ = s.ptmx.Close()
		select {
		case <-s.readDone:
		case <-time.After(drainTimeout):
		}
	}

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	_ = s.ptmx.Close()

	s.events <- Event{Type: EventExit, Exit: exitInfo(s.cmd.ProcessState)}
	close(s.exited)
}

func exitInfo(state *os.ProcessState) ExitInfo {
	if state == nil {
		return ExitInfo{Code: -1}
	}
	info := ExitInfo{Code: state.ExitCode()}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		info.Signal = ws.Signal().String()
	}
	return info
}

// Name returns the executable name the session was spawned with.
func (s *Session) Name() string { return s.name }

// Pid returns the child's process id.
func (s *Session) Pid() int {
	if s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// CreatedAt returns the spawn time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Events returns the read-only channel of session events.
func (s *Session) Events() <-chan Event { return s.events }

// Size returns the current window size.
func (s *Session) Size() (cols, rows uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// Write sends data to the PTY (and therefore to the child process's stdin).
func (s *Session) Write(data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	return s.ptmx.Write(data)
}

// Resize changes the PTY window size.
func (s *Session) Resize(cols, rows uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if err := creackpty.Setsize(s.ptmx, &creackpty.Winsize{
		Cols: cols,
		Rows: rows,
	}); err != nil {
		return err
	}

	s.cols = cols
	s.rows = rows
	return nil
}

// Kill terminates the child's process group with SIGKILL and releases the
// PTY. It is safe to call Kill multiple times.
func (s *Session) Kill() error {
	var err error
	s.killOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if s.cmd.Process != nil {
			// The child leads its own session, so its pgid equals its pid.
			if kerr := syscall.Kill(-s.cmd.Process.Pid, syscall.SIGKILL); kerr != nil {
				if perr := s.cmd.Process.Kill(); perr != nil && !errors.Is(perr, os.ErrProcessDone) {
					err = perr
				}
			}
		}

		_ = s.ptmx.Close()
	})
	return err
}
