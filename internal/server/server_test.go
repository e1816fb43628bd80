package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/user/aiderterm/internal/config"
	"github.com/user/aiderterm/internal/hub"
	"github.com/user/aiderterm/internal/pty"
	"github.com/user/aiderterm/internal/session"
)

type scriptedTerminal struct {
	events chan pty.Event
	once   sync.Once
}

func (s *scriptedTerminal) Write(p []byte) (int, error) {
	if strings.HasPrefix(string(p), "/exit") {
		s.exit(pty.ExitInfo{})
	}
	return len(p), nil
}

func (s *scriptedTerminal) Resize(uint16, uint16) error { return nil }

func (s *scriptedTerminal) Kill() error {
	s.exit(pty.ExitInfo{Code: -1, Signal: "killed"})
	return nil
}

func (s *scriptedTerminal) exit(info pty.ExitInfo) {
	s.once.Do(func() {
		s.events <- pty.Event{Type: pty.EventExit, Exit: info}
		close(s.events)
	})
}

func (s *scriptedTerminal) Events() <-chan pty.Event { return s.events }

func (s *scriptedTerminal) Pid() int { return 7 }

type spawnRecord struct {
	name string
	args []string
	opts pty.Options
}

type recordingSpawner struct {
	mu    sync.Mutex
	calls []spawnRecord
}

func (r *recordingSpawner) spawn(name string, args []string, opts pty.Options) (session.Terminal, error) {
	r.mu.Lock()
	r.calls = append(r.calls, spawnRecord{name: name, args: args, opts: opts})
	r.mu.Unlock()
	term := &scriptedTerminal{events: make(chan pty.Event, 4)}
	term.events <- pty.Event{Type: pty.EventOutput, Data: []byte("aider v0.50\r\n")}
	return term, nil
}

func (r *recordingSpawner) snapshot() []spawnRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]spawnRecord(nil), r.calls...)
}

func writeAiderConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".aider.conf.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write aider config: %v", err)
	}
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:       8765,
		Token:      "tok",
		Executable: "aider",
		Model:      "sonnet",
		WorkDir:    t.TempDir(),
		DBPath:     filepath.Join(t.TempDir(), "aiderterm.db"),
		StopGrace:  50 * time.Millisecond,
		LogLevel:   "info",
	}
}

func TestModelCatalogMergesConfiguredAndExtraModels(t *testing.T) {
	path := writeAiderConfig(t, "extra-models:\n  - gpt-4o\n  - name: Opus\n    id: opus\n  - sonnet\n")
	cfg := testConfig(t)

	models := modelCatalog(cfg, []string{path}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	want := []hub.ModelInfo{
		{Name: "sonnet", ID: "sonnet"},
		{Name: "gpt-4o", ID: "gpt-4o"},
		{Name: "Opus", ID: "opus"},
	}
	if len(models) != len(want) {
		t.Fatalf("models = %+v, want %+v", models, want)
	}
	for i := range want {
		if models[i] != want[i] {
			t.Fatalf("models[%d] = %+v, want %+v", i, models[i], want[i])
		}
	}
}

func TestSurfaceReadyStartsRequestedSession(t *testing.T) {
	cfg := testConfig(t)
	spawner := &recordingSpawner{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := New(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithSpawn(spawner.spawn), WithConfigPaths())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	go srv.hub.Run(ctx)
	started, err := srv.coord.RequestStart(ctx, cfg.Model, cfg.WorkDir)
	if err != nil || started {
		t.Fatalf("RequestStart() = %v, %v; want pending", started, err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		srv.Close()
	})

	url := fmt.Sprintf("ws://%s/ws?token=%s", strings.TrimPrefix(ts.URL, "http://"), cfg.Token)
	dialCtx, dialCancel := context.WithTimeout(ctx, 2*time.Second)
	defer dialCancel()
	conn, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ready, _ := json.Marshal(hub.ClientMessage{Command: hub.CmdWebviewReady, Cols: 120, Rows: 40})
	if err := conn.Write(dialCtx, websocket.MessageText, ready); err != nil {
		t.Fatalf("write error: %v", err)
	}

	seen := map[string]bool{}
	deadline := time.Now().Add(3 * time.Second)
	for !(seen[hub.CmdAvailableModels] && seen[hub.CmdUpdateConversation]) {
		if time.Now().After(deadline) {
			t.Fatalf("envelopes seen = %v", seen)
		}
		readCtx, readCancel := context.WithTimeout(ctx, 2*time.Second)
		_, data, err := conn.Read(readCtx)
		readCancel()
		if err != nil {
			t.Fatalf("read error: %v (seen %v)", err, seen)
		}
		var env map[string]any
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		cmd, _ := env["command"].(string)
		seen[cmd] = true
		if cmd == hub.CmdUpdateConversation && !strings.Contains(env["text"].(string), "aider v0.50") {
			t.Fatalf("conversation = %v", env)
		}
	}

	calls := spawner.snapshot()
	if len(calls) != 1 {
		t.Fatalf("spawn calls = %d, want 1", len(calls))
	}
	if calls[0].name != "aider" || calls[0].opts.Cols != 120 || calls[0].opts.Rows != 40 {
		t.Fatalf("spawn = %+v", calls[0])
	}
	if calls[0].opts.Dir != cfg.WorkDir {
		t.Fatalf("spawn dir = %q, want %q", calls[0].opts.Dir, cfg.WorkDir)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/status", nil)
	req.Header.Set("Authorization", "Bearer "+cfg.Token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("status request: %v", err)
	}
	defer resp.Body.Close()
	var status map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status["state"] != "running" || status["model"] != "sonnet" || status["clients"] != float64(1) {
		t.Fatalf("status = %v", status)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	cfg := testConfig(t)
	srv, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithSpawn((&recordingSpawner{}).spawn), WithConfigPaths())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(srv.Close)

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}

	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/sessions?token=tok", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}
