package session

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/user/aiderterm/internal/parser"
	"github.com/user/aiderterm/internal/pty"
)

// fakeTerminal stands in for a pty.Session. A cooperative terminal exits
// when it receives the exit command.
type fakeTerminal struct {
	pid         int
	cooperative bool
	events      chan pty.Event

	mu       sync.Mutex
	writes   []string
	resizes  []Size
	killed   bool
	closed   bool
	writeErr error

	exitOnce sync.Once
}

func newFakeTerminal(pid int, cooperative bool) *fakeTerminal {
	return &fakeTerminal{pid: pid, cooperative: cooperative, events: make(chan pty.Event, 64)}
}

func (f *fakeTerminal) Write(p []byte) (int, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return 0, pty.ErrClosed
	}
	if f.writeErr != nil {
		err := f.writeErr
		f.mu.Unlock()
		return 0, err
	}
	f.writes = append(f.writes, string(p))
	quit := f.cooperative && string(p) == exitCommand
	f.mu.Unlock()

	if quit {
		go f.exit(pty.ExitInfo{Code: 0})
	}
	return len(p), nil
}

func (f *fakeTerminal) Resize(cols, rows uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return pty.ErrClosed
	}
	f.resizes = append(f.resizes, Size{Cols: cols, Rows: rows})
	return nil
}

func (f *fakeTerminal) Kill() error {
	f.mu.Lock()
	f.killed = true
	f.mu.Unlock()
	f.exit(pty.ExitInfo{Code: -1, Signal: "killed"})
	return nil
}

func (f *fakeTerminal) Events() <-chan pty.Event { return f.events }

func (f *fakeTerminal) Pid() int { return f.pid }

func (f *fakeTerminal) output(s string) {
	f.events <- pty.Event{Type: pty.EventOutput, Data: []byte(s)}
}

func (f *fakeTerminal) exit(info pty.ExitInfo) {
	f.exitOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		f.events <- pty.Event{Type: pty.EventExit, Exit: info}
		close(f.events)
	})
}

func (f *fakeTerminal) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func (f *fakeTerminal) wasKilled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.killed
}

func (f *fakeTerminal) setWriteErr(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

type spawnCall struct {
	name string
	args []string
	opts pty.Options
	term *fakeTerminal
}

// fakeSpawner hands out fake terminals and remembers how it was called.
type fakeSpawner struct {
	cooperative bool
	err         error
	onSpawn     func(args []string)

	mu    sync.Mutex
	calls []spawnCall
}

func (s *fakeSpawner) spawn(name string, args []string, opts pty.Options) (Terminal, error) {
	if s.onSpawn != nil {
		s.onSpawn(args)
	}
	if s.err != nil {
		return nil, &pty.SpawnError{Name: name, Err: s.err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	term := newFakeTerminal(1000+len(s.calls), s.cooperative)
	s.calls = append(s.calls, spawnCall{name: name, args: args, opts: opts, term: term})
	return term, nil
}

func (s *fakeSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *fakeSpawner) call(i int) spawnCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[i]
}

func (s *fakeSpawner) last() spawnCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[len(s.calls)-1]
}

func newTestCoordinator(t *testing.T, sp *fakeSpawner, mutate ...func(*Config)) *Coordinator {
	t.Helper()
	cfg := Config{
		StopGrace:   100 * time.Millisecond,
		ExitMargin:  time.Second,
		IdleFlush:   10 * time.Millisecond,
		Environ:     func() []string { return []string{"PATH=/usr/bin", "HOME=/nonexistent"} },
		ConfigPaths: []string{},
		Spawn:       sp.spawn,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c := New(cfg)
	t.Cleanup(c.Dispose)
	return c
}

// collector gathers callback deliveries.
type collector struct {
	mu      sync.Mutex
	data    []string
	exits   []ExitEvent
	errs    []error
	prompts []string
}

func (r *collector) attach(c *Coordinator) {
	c.OnData(func(text string) {
		r.mu.Lock()
		r.data = append(r.data, text)
		r.mu.Unlock()
	})
	c.OnExit(func(ev ExitEvent) {
		r.mu.Lock()
		r.exits = append(r.exits, ev)
		r.mu.Unlock()
	})
	c.OnError(func(err error) {
		r.mu.Lock()
		r.errs = append(r.errs, err)
		r.mu.Unlock()
	})
	c.OnPrompt(func(p parser.Prompt) {
		r.mu.Lock()
		r.prompts = append(r.prompts, p.Text)
		r.mu.Unlock()
	})
}

func (r *collector) text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.data, "")
}

func (r *collector) exitEvents() []ExitEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ExitEvent(nil), r.exits...)
}

func (r *collector) failures() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *collector) promptTexts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.prompts...)
}

var errBrokenPipe = errors.New("broken pipe")
