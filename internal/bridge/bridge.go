// Package bridge connects the session coordinator to the display surface:
// inbound envelopes become coordinator calls and coordinator events become
// outbound envelopes.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/user/aiderterm/internal/hub"
	"github.com/user/aiderterm/internal/parser"
	"github.com/user/aiderterm/internal/session"
)

// Surface is the outbound half of the hub.
type Surface interface {
	UpdateConversation(text string)
	ClearTerminal()
	ShowPrompt(text string, options []string, kind string)
	HidePrompt()
	Broadcast(msg any)
	Send(client *hub.Client, msg any)
}

type Config struct {
	Coordinator *session.Coordinator
	Surface     Surface
	// Model is used when neither the surface nor a previous session named
	// one.
	Model   string
	WorkDir string
	// Models is the catalog offered to the surface's model picker.
	Models []hub.ModelInfo
	Logger *slog.Logger
}

type Bridge struct {
	coord   *session.Coordinator
	surface Surface
	model   string
	workDir string
	models  []hub.ModelInfo
	logger  *slog.Logger

	mu            sync.Mutex
	promptVisible bool

	unsubscribe []func()
}

func New(cfg Config) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		coord:   cfg.Coordinator,
		surface: cfg.Surface,
		model:   cfg.Model,
		workDir: cfg.WorkDir,
		models:  cfg.Models,
		logger:  logger.With("component", "bridge"),
	}
	b.unsubscribe = []func(){
		b.coord.OnData(b.surface.UpdateConversation),
		b.coord.OnPrompt(b.onPrompt),
		b.coord.OnExit(b.onExit),
		b.coord.OnError(b.onError),
	}
	return b
}

// Close detaches the bridge from the coordinator.
func (b *Bridge) Close() {
	for _, fn := range b.unsubscribe {
		fn()
	}
}

func (b *Bridge) onPrompt(p parser.Prompt) {
	b.mu.Lock()
	b.promptVisible = true
	b.mu.Unlock()
	b.surface.ShowPrompt(p.Text, p.Options, string(p.Kind))
}

func (b *Bridge) onExit(ev session.ExitEvent) {
	b.hidePrompt()
	b.surface.UpdateConversation(fmt.Sprintf("\r\n[aider exited: %s]\r\n", ev.ExitInfo))
	b.broadcastStatus()
}

func (b *Bridge) onError(err error) {
	b.surface.Broadcast(hub.ErrorMessage{Command: hub.CmdError, Message: err.Error()})
}

func (b *Bridge) hidePrompt() {
	b.mu.Lock()
	visible := b.promptVisible
	b.promptVisible = false
	b.mu.Unlock()
	if visible {
		b.surface.HidePrompt()
	}
}

func (b *Bridge) status() hub.StatusMessage {
	st := b.coord.Status()
	return hub.StatusMessage{
		Command:   hub.CmdSessionStatus,
		State:     st.State,
		Running:   st.Running,
		SessionID: st.SessionID,
		Model:     st.Model,
		WorkDir:   st.WorkDir,
		Cols:      st.Cols,
		Rows:      st.Rows,
	}
}

func (b *Bridge) broadcastStatus() {
	b.surface.Broadcast(b.status())
}

// currentModel prefers the model of the live or last session.
func (b *Bridge) currentModel() string {
	if m := b.coord.CurrentModel(); m != "" {
		return m
	}
	return b.model
}

func (b *Bridge) currentWorkDir() string {
	if d := b.coord.WorkDir(); d != "" {
		return d
	}
	return b.workDir
}

// Handle is the hub handler for every inbound envelope.
func (b *Bridge) Handle(ctx context.Context, client *hub.Client, msg hub.ClientMessage) error {
	switch msg.Command {
	case hub.CmdWebviewReady:
		return b.handleWebviewReady(ctx, client, msg)
	case hub.CmdTerminalResize:
		return b.handleResize(ctx, msg)
	case hub.CmdTerminalInput:
		return b.handleTerminalInput(msg)
	case hub.CmdInteractiveResponse:
		return b.handleInteractiveResponse(msg)
	case hub.CmdSendToAider:
		return b.handleSendToAider(ctx, msg)
	case hub.CmdSendCurrentFile:
		return b.handleSendCurrentFile(msg)
	case hub.CmdStartNewChat:
		return b.handleStartNewChat(ctx)
	default:
		return fmt.Errorf("unknown command: %s", msg.Command)
	}
}

func (b *Bridge) handleWebviewReady(ctx context.Context, client *hub.Client, msg hub.ClientMessage) error {
	b.surface.Send(client, hub.ModelsMessage{
		Command: hub.CmdAvailableModels,
		Models:  b.models,
		Current: b.currentModel(),
	})
	if err := b.applySize(ctx, msg); err != nil {
		return err
	}
	b.surface.Send(client, b.status())
	return nil
}

func (b *Bridge) handleResize(ctx context.Context, msg hub.ClientMessage) error {
	return b.applySize(ctx, msg)
}

// applySize reports the surface size to the coordinator, which may start a
// pending session at exactly that size.
func (b *Bridge) applySize(ctx context.Context, msg hub.ClientMessage) error {
	cols, rows, ok := gridSize(msg)
	if !ok {
		return nil
	}
	started, err := b.coord.SurfaceReady(ctx, cols, rows)
	if err != nil {
		return err
	}
	if started {
		b.broadcastStatus()
	}
	return nil
}

func (b *Bridge) handleTerminalInput(msg hub.ClientMessage) error {
	if msg.Data == "" {
		return nil
	}
	// The coordinator already answered the child's cursor query.
	if msg.IsCPR || parser.IsCursorReport(msg.Data) {
		b.logger.Debug("dropping cursor report from surface")
		return nil
	}
	if err := b.coord.SendRawData(msg.Data); err != nil {
		if errors.Is(err, session.ErrNotRunning) {
			b.logger.Debug("terminal input while aider is not running")
			return nil
		}
		return err
	}
	return nil
}

func (b *Bridge) handleInteractiveResponse(msg hub.ClientMessage) error {
	if err := b.coord.RespondToPrompt(msg.Response); err != nil {
		return err
	}
	b.hidePrompt()
	return nil
}

func (b *Bridge) handleSendToAider(ctx context.Context, msg hub.ClientMessage) error {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return errors.New("message is empty")
	}
	model := msg.Model
	if model == "" {
		model = b.currentModel()
	}

	if err := b.ensureSession(ctx, model); err != nil {
		return err
	}
	return b.coord.SendMessage(text)
}

// ensureSession makes sure aider runs with model, restarting it when the
// model changed.
func (b *Bridge) ensureSession(ctx context.Context, model string) error {
	if b.coord.IsRunning() {
		if model == "" || model == b.coord.CurrentModel() {
			return nil
		}
		size, _ := b.coord.Size()
		b.logger.Info("switching model", "from", b.coord.CurrentModel(), "to", model)
		if err := b.coord.StartWithSize(ctx, model, b.currentWorkDir(), size.Cols, size.Rows); err != nil {
			return err
		}
		b.broadcastStatus()
		return nil
	}

	started, err := b.coord.RequestStart(ctx, model, b.currentWorkDir())
	if err != nil {
		return err
	}
	if !started {
		return errors.New("display is not ready; aider will start once it reports its size")
	}
	b.broadcastStatus()
	return nil
}

func (b *Bridge) handleSendCurrentFile(msg hub.ClientMessage) error {
	path := strings.TrimSpace(msg.Path)
	if path == "" {
		return errors.New("no file to add")
	}
	return b.coord.SendMessage("/add " + path)
}

func (b *Bridge) handleStartNewChat(ctx context.Context) error {
	b.coord.Stop()
	b.hidePrompt()
	b.surface.ClearTerminal()

	if _, err := b.coord.RequestStart(ctx, b.currentModel(), b.currentWorkDir()); err != nil {
		return err
	}
	b.broadcastStatus()
	return nil
}

func gridSize(msg hub.ClientMessage) (cols, rows uint16, ok bool) {
	if msg.Cols <= 0 || msg.Rows <= 0 || msg.Cols > 0xffff || msg.Rows > 0xffff {
		return 0, 0, false
	}
	return uint16(msg.Cols), uint16(msg.Rows), true
}
