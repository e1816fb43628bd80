// Package session owns the single aider child: its lifecycle, the pump
// that answers cursor queries and classifies prompts, and the callbacks
// that carry output to the display surface.
package session

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/aiderterm/internal/launch"
	"github.com/user/aiderterm/internal/parser"
	"github.com/user/aiderterm/internal/pty"
)

const (
	defaultExecutable = "aider"
	defaultStopGrace  = time.Second
	defaultExitMargin = 2 * time.Second
	defaultIdleFlush  = 50 * time.Millisecond

	// exitCommand asks aider to quit on its own.
	exitCommand = "/exit\r"
)

type Config struct {
	// Executable is the command line for aider; its first word is looked up
	// on PATH. Defaults to "aider".
	Executable string
	// StopGrace is how long Stop waits after asking aider to exit before
	// killing it.
	StopGrace time.Duration
	// ExitMargin bounds the wait for the exit event after a kill.
	ExitMargin time.Duration
	// IdleFlush releases output held back by the cursor-query scanner once
	// the child has been quiet this long.
	IdleFlush time.Duration
	// Environ returns the ambient environment. Defaults to os.Environ.
	Environ     func() []string
	LocalBinDir string
	// ConfigPaths overrides where .aider.conf.yml is searched for.
	ConfigPaths []string
	Spawn       SpawnFunc
	Recorder    Recorder
	Logger      *slog.Logger
}

// Coordinator runs at most one aider session at a time.
//
// Lifecycle calls (StartWithSize, Stop, RequestStart, SurfaceReady, Dispose)
// are serialized. Exit handlers run on the pump goroutine and must not call
// lifecycle methods synchronously.
type Coordinator struct {
	cfg    Config
	logger *slog.Logger

	lifeMu sync.Mutex

	mu      sync.Mutex
	state   State
	active  *activeSession
	model   string
	workDir string
	surface *Size
	pending *PendingStart

	onData   handlers[DataHandler]
	onExit   handlers[ExitHandler]
	onError  handlers[ErrorHandler]
	onPrompt handlers[PromptHandler]
}

func New(cfg Config) *Coordinator {
	if cfg.Executable == "" {
		cfg.Executable = defaultExecutable
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	if cfg.ExitMargin <= 0 {
		cfg.ExitMargin = defaultExitMargin
	}
	if cfg.IdleFlush <= 0 {
		cfg.IdleFlush = defaultIdleFlush
	}
	if cfg.Environ == nil {
		cfg.Environ = os.Environ
	}
	if cfg.Spawn == nil {
		cfg.Spawn = spawnPTY
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:    cfg,
		logger: logger.With("component", "session"),
	}
}

// StartWithSize spawns aider at the given size. A running session is
// stopped first and its exit is reported before the new one starts.
func (c *Coordinator) StartWithSize(ctx context.Context, model, workDir string, cols, rows uint16) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	return c.startLocked(ctx, model, workDir, cols, rows)
}

func (c *Coordinator) startLocked(ctx context.Context, model, workDir string, cols, rows uint16) error {
	c.stopLocked()

	c.mu.Lock()
	c.state = StateStarting
	c.mu.Unlock()

	name, prefix, err := launch.SplitCommand(c.cfg.Executable)
	if err != nil {
		return c.failStartLocked(model, workDir, err)
	}

	l := launch.Build(launch.Options{
		Model:       model,
		WorkDir:     workDir,
		Environ:     c.cfg.Environ(),
		LocalBinDir: c.cfg.LocalBinDir,
		ConfigPaths: c.cfg.ConfigPaths,
		Logger:      c.logger,
	})

	term, err := c.cfg.Spawn(name, append(prefix, l.Args...), pty.Options{
		Cols: cols,
		Rows: rows,
		Env:  l.Environ(),
		Dir:  workDir,
	})
	if err != nil {
		return c.failStartLocked(model, workDir, err)
	}

	sess := &activeSession{
		id:        uuid.NewString(),
		term:      term,
		model:     model,
		workDir:   workDir,
		startedAt: time.Now().UTC(),
		done:      make(chan struct{}),
	}

	c.mu.Lock()
	c.active = sess
	c.state = StateRunning
	c.model = model
	c.workDir = workDir
	c.surface = &Size{Cols: cols, Rows: rows}
	c.mu.Unlock()

	c.logger.Info("aider started", "session_id", sess.id, "model", model, "work_dir", workDir,
		"pid", term.Pid(), "cols", cols, "rows", rows)

	if c.cfg.Recorder != nil {
		info := SessionInfo{
			ID:        sess.id,
			Model:     model,
			WorkDir:   workDir,
			Cols:      cols,
			Rows:      rows,
			Pid:       term.Pid(),
			StartedAt: sess.startedAt,
		}
		if err := c.cfg.Recorder.SessionStarted(ctx, info); err != nil {
			c.logger.Warn("failed to record session start", "session_id", sess.id, "error", err)
		}
	}

	go c.pump(sess)
	return nil
}

func (c *Coordinator) failStartLocked(model, workDir string, err error) error {
	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
	startErr := &ProcessStartError{Model: model, Err: err}
	c.logger.Error("failed to start aider", "model", model, "work_dir", workDir, "error", err)
	c.emitError(startErr)
	return startErr
}

// Stop asks aider to exit, waits the grace period, then kills the process
// group. It returns once the exit has been reported or the exit margin has
// passed. Stop on an idle coordinator is a no-op.
func (c *Coordinator) Stop() {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	c.stopLocked()
}

func (c *Coordinator) stopLocked() {
	c.mu.Lock()
	sess := c.active
	if sess == nil {
		c.mu.Unlock()
		return
	}
	c.state = StateStopping
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.active == sess {
			c.active = nil
		}
		c.state = StateIdle
		c.mu.Unlock()
	}()

	if _, err := sess.term.Write([]byte(exitCommand)); err != nil {
		c.logger.Debug("exit command not delivered", "session_id", sess.id, "error", err)
	}

	grace := time.NewTimer(c.cfg.StopGrace)
	select {
	case <-sess.done:
	case <-grace.C:
	}
	grace.Stop()

	if err := sess.term.Kill(); err != nil {
		c.logger.Debug("kill after grace failed", "session_id", sess.id, "error", err)
	}

	margin := time.NewTimer(c.cfg.ExitMargin)
	defer margin.Stop()
	select {
	case <-sess.done:
	case <-margin.C:
		c.logger.Warn("aider did not report exit after kill", "session_id", sess.id)
	}
}

// Dispose kills any session without the graceful exit and drops every
// subscriber and pending start.
func (c *Coordinator) Dispose() {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	c.mu.Lock()
	sess := c.active
	c.pending = nil
	c.mu.Unlock()

	c.onData.clear()
	c.onExit.clear()
	c.onError.clear()
	c.onPrompt.clear()

	if sess == nil {
		return
	}
	if err := sess.term.Kill(); err != nil {
		c.logger.Debug("kill on dispose failed", "session_id", sess.id, "error", err)
	}
	margin := time.NewTimer(c.cfg.ExitMargin)
	defer margin.Stop()
	select {
	case <-sess.done:
	case <-margin.C:
	}

	c.mu.Lock()
	if c.active == sess {
		c.active = nil
	}
	c.state = StateIdle
	c.mu.Unlock()
}

// pump drains the terminal until it exits.
func (c *Coordinator) pump(sess *activeSession) {
	defer close(sess.done)

	logger := c.logger.With("session_id", sess.id)
	ic := parser.NewInterceptor(parser.InterceptorConfig{
		Respond: func(reply []byte) error {
			_, err := sess.term.Write(reply)
			return err
		},
		Forward: c.emitData,
		Prompt:  c.emitPrompt,
		Logger:  logger,
	})

	// One timer serves the whole session; idle is nil while it is disarmed.
	timer := time.NewTimer(c.cfg.IdleFlush)
	timer.Stop()
	defer timer.Stop()
	var idle <-chan time.Time

	events := sess.term.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				ic.Close()
				c.finish(sess, pty.ExitInfo{Code: -1})
				return
			}
			switch ev.Type {
			case pty.EventOutput:
				ic.Feed(ev.Data)
				if idle != nil && !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				idle = nil
				if ic.Pending() > 0 {
					timer.Reset(c.cfg.IdleFlush)
					idle = timer.C
				}
			case pty.EventExit:
				ic.Close()
				c.finish(sess, ev.Exit)
				return
			}
		case <-idle:
			idle = nil
			ic.Flush()
		}
	}
}

func (c *Coordinator) finish(sess *activeSession, exit pty.ExitInfo) {
	c.mu.Lock()
	if c.active == sess && c.state == StateRunning {
		c.active = nil
		c.state = StateIdle
	}
	c.mu.Unlock()

	c.logger.Info("aider exited", "session_id", sess.id, "model", sess.model, "exit", exit.String())

	if c.cfg.Recorder != nil {
		if err := c.cfg.Recorder.SessionExited(context.Background(), sess.id, exit); err != nil {
			c.logger.Warn("failed to record session exit", "session_id", sess.id, "error", err)
		}
	}
	c.emitExit(ExitEvent{SessionID: sess.id, Model: sess.model, ExitInfo: exit})
}

// running returns the live session, or nil while idle, starting or
// stopping.
func (c *Coordinator) running() *activeSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return nil
	}
	return c.active
}

// SendMessage types one chat line into aider. Control characters are
// stripped so a message can never inject keystrokes.
func (c *Coordinator) SendMessage(text string) error {
	sess := c.running()
	if sess == nil {
		return ErrNotRunning
	}
	return c.write(sess, "send message", []byte(parser.Sanitize(text)+"\r"))
}

// SendRawData forwards keystrokes unchanged.
func (c *Coordinator) SendRawData(data string) error {
	sess := c.running()
	if sess == nil {
		return ErrNotRunning
	}
	return c.write(sess, "send raw data", []byte(data))
}

// RespondToPrompt answers an interactive prompt with one of its options.
func (c *Coordinator) RespondToPrompt(option string) error {
	keys, err := parser.ResponseKeys(option)
	if err != nil {
		return err
	}
	sess := c.running()
	if sess == nil {
		return ErrNotRunning
	}
	return c.write(sess, "respond to prompt", []byte(keys))
}

func (c *Coordinator) write(sess *activeSession, op string, data []byte) error {
	if _, err := sess.term.Write(data); err != nil {
		if errors.Is(err, pty.ErrClosed) {
			return ErrNotRunning
		}
		werr := &WriteError{Op: op, Err: err}
		c.logger.Warn("write to aider failed", "session_id", sess.id, "op", op, "error", err)
		c.emitError(werr)
		return werr
	}
	return nil
}

// Resize records the display size and applies it to a live session.
// Failures are logged only.
func (c *Coordinator) Resize(cols, rows uint16) {
	if cols == 0 || rows == 0 {
		return
	}
	c.mu.Lock()
	c.surface = &Size{Cols: cols, Rows: rows}
	sess := c.active
	c.mu.Unlock()

	if sess == nil {
		return
	}
	if err := sess.term.Resize(cols, rows); err != nil {
		c.logger.Warn("resize failed", "session_id", sess.id, "cols", cols, "rows", rows, "error", err)
	}
}

func (c *Coordinator) IsRunning() bool { return c.running() != nil }

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentModel is the model of the live session, or of the last one
// started.
func (c *Coordinator) CurrentModel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

func (c *Coordinator) WorkDir() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workDir
}

// Size is the last known display size. ok is false before the surface has
// reported one.
func (c *Coordinator) Size() (size Size, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.surface == nil {
		return Size{}, false
	}
	return *c.surface, true
}

func (c *Coordinator) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return ""
	}
	return c.active.id
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		State:   c.state.String(),
		Running: c.state == StateRunning,
		Model:   c.model,
		WorkDir: c.workDir,
	}
	if c.surface != nil {
		st.Cols, st.Rows = c.surface.Cols, c.surface.Rows
	}
	if c.active != nil {
		startedAt := c.active.startedAt
		st.SessionID = c.active.id
		st.Pid = c.active.term.Pid()
		st.StartedAt = &startedAt
	}
	if c.pending != nil {
		p := *c.pending
		st.Pending = &p
	}
	return st
}
