package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/user/aiderterm/internal/db"
	"github.com/user/aiderterm/internal/hub"
	"github.com/user/aiderterm/internal/pty"
	"github.com/user/aiderterm/internal/session"
)

type stubTerminal struct {
	events chan pty.Event
	mu     sync.Mutex
	writes []string
	once   sync.Once
}

func (s *stubTerminal) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, string(p))
	return len(p), nil
}

func (s *stubTerminal) Resize(uint16, uint16) error { return nil }

func (s *stubTerminal) Kill() error {
	s.once.Do(func() {
		s.events <- pty.Event{Type: pty.EventExit, Exit: pty.ExitInfo{Code: -1, Signal: "killed"}}
		close(s.events)
	})
	return nil
}

func (s *stubTerminal) Events() <-chan pty.Event { return s.events }

func (s *stubTerminal) Pid() int { return 99 }

type fixedClients int

func (f fixedClients) ClientCount() int { return int(f) }

type apiFixture struct {
	handler http.Handler
	coord   *session.Coordinator
	repo    *db.SessionRepo
	term    *stubTerminal
}

func openAPI(t *testing.T) *apiFixture {
	t.Helper()
	database, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	repo := db.NewSessionRepo(database.SQL())

	f := &apiFixture{repo: repo}
	f.coord = session.New(session.Config{
		StopGrace:   10 * time.Millisecond,
		Environ:     func() []string { return nil },
		ConfigPaths: []string{},
		Recorder:    session.NewRepoRecorder(repo),
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Spawn: func(string, []string, pty.Options) (session.Terminal, error) {
			f.term = &stubTerminal{events: make(chan pty.Event, 4)}
			return f.term, nil
		},
	})
	t.Cleanup(f.coord.Dispose)

	f.handler = NewRouter(Deps{
		Coordinator: f.coord,
		Sessions:    repo,
		Clients:     fixedClients(2),
		Models:      []hub.ModelInfo{{Name: "Sonnet", ID: "sonnet"}},
	}, "test-token")
	return f
}

func apiRequest(t *testing.T, h http.Handler, method, path string, body any, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("Authorization", "Bearer test-token")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if rr.Body.Len() == 0 {
		return
	}
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode body: %v body=%s", err, rr.Body.String())
	}
}

func TestAuthMiddleware(t *testing.T) {
	f := openAPI(t)
	unauth := apiRequest(t, f.handler, http.MethodGet, "/api/status", nil, false)
	if unauth.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d want %d", unauth.Code, http.StatusUnauthorized)
	}
	if ct := unauth.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unauthorized content type=%q", ct)
	}
	var body errorBody
	decodeBody(t, unauth, &body)
	if body.Error != "unauthorized" || body.Status != "Unauthorized" {
		t.Fatalf("unauthorized body=%+v", body)
	}
	wrong := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	wrong.Header.Set("Authorization", "Bearer wrong-token")
	wrongRR := httptest.NewRecorder()
	f.handler.ServeHTTP(wrongRR, wrong)
	if wrongRR.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status=%d want %d", wrongRR.Code, http.StatusUnauthorized)
	}
	auth := apiRequest(t, f.handler, http.MethodGet, "/api/status", nil, true)
	if auth.Code != http.StatusOK {
		t.Fatalf("status=%d want %d", auth.Code, http.StatusOK)
	}
	query := apiRequest(t, f.handler, http.MethodGet, "/api/status?token=test-token", nil, false)
	if query.Code != http.StatusOK {
		t.Fatalf("query token status=%d want %d", query.Code, http.StatusOK)
	}
}

func TestCORSPreflightSkipsAuth(t *testing.T) {
	f := openAPI(t)
	rr := apiRequest(t, f.handler, http.MethodOptions, "/api/status", nil, false)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status=%d want %d", rr.Code, http.StatusNoContent)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow origin=%q", got)
	}
}

func TestStatusReflectsCoordinator(t *testing.T) {
	f := openAPI(t)

	var idle map[string]any
	decodeBody(t, apiRequest(t, f.handler, http.MethodGet, "/api/status", nil, true), &idle)
	if idle["state"] != "idle" || idle["running"] != false || idle["clients"] != float64(2) {
		t.Fatalf("idle status=%v", idle)
	}

	if err := f.coord.StartWithSize(context.Background(), "sonnet", "/ws", 100, 30); err != nil {
		t.Fatalf("start: %v", err)
	}
	var running map[string]any
	decodeBody(t, apiRequest(t, f.handler, http.MethodGet, "/api/status", nil, true), &running)
	if running["state"] != "running" || running["model"] != "sonnet" || running["cols"] != float64(100) {
		t.Fatalf("running status=%v", running)
	}
	if running["sessionId"] == "" || running["pid"] != float64(99) {
		t.Fatalf("running status missing session details: %v", running)
	}
}

func TestModelsEndpoint(t *testing.T) {
	f := openAPI(t)
	var body modelsResponse
	decodeBody(t, apiRequest(t, f.handler, http.MethodGet, "/api/models", nil, true), &body)
	if len(body.Models) != 1 || body.Models[0].ID != "sonnet" {
		t.Fatalf("models=%+v", body)
	}
}

func TestSessionHistoryEndpoints(t *testing.T) {
	f := openAPI(t)
	if err := f.coord.StartWithSize(context.Background(), "sonnet", "/ws", 80, 24); err != nil {
		t.Fatalf("start: %v", err)
	}
	id := f.coord.SessionID()

	stop := apiRequest(t, f.handler, http.MethodPost, "/api/session/stop", nil, true)
	if stop.Code != http.StatusOK {
		t.Fatalf("stop status=%d body=%s", stop.Code, stop.Body.String())
	}

	var list []db.SessionRecord
	decodeBody(t, apiRequest(t, f.handler, http.MethodGet, "/api/sessions?limit=5", nil, true), &list)
	if len(list) != 1 || list[0].ID != id || list[0].Status != db.StatusExited {
		t.Fatalf("list=%+v", list)
	}

	var rec db.SessionRecord
	got := apiRequest(t, f.handler, http.MethodGet, "/api/sessions/"+id, nil, true)
	if got.Code != http.StatusOK {
		t.Fatalf("get status=%d", got.Code)
	}
	decodeBody(t, got, &rec)
	if rec.Signal != "killed" {
		t.Fatalf("record=%+v", rec)
	}

	missing := apiRequest(t, f.handler, http.MethodGet, "/api/sessions/nope", nil, true)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("missing status=%d want %d", missing.Code, http.StatusNotFound)
	}

	bad := apiRequest(t, f.handler, http.MethodGet, "/api/sessions?limit=zero", nil, true)
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status=%d want %d", bad.Code, http.StatusBadRequest)
	}
}

func TestSendMessageEndpoint(t *testing.T) {
	f := openAPI(t)

	idle := apiRequest(t, f.handler, http.MethodPost, "/api/session/message", map[string]any{"text": "hi"}, true)
	if idle.Code != http.StatusConflict {
		t.Fatalf("idle status=%d want %d", idle.Code, http.StatusConflict)
	}

	if err := f.coord.StartWithSize(context.Background(), "sonnet", "/ws", 80, 24); err != nil {
		t.Fatalf("start: %v", err)
	}
	empty := apiRequest(t, f.handler, http.MethodPost, "/api/session/message", map[string]any{"text": "  "}, true)
	if empty.Code != http.StatusBadRequest {
		t.Fatalf("empty status=%d want %d", empty.Code, http.StatusBadRequest)
	}
	unknown := apiRequest(t, f.handler, http.MethodPost, "/api/session/message", map[string]any{"text": "x", "extra": 1}, true)
	if unknown.Code != http.StatusBadRequest {
		t.Fatalf("unknown field status=%d want %d", unknown.Code, http.StatusBadRequest)
	}

	ok := apiRequest(t, f.handler, http.MethodPost, "/api/session/message", map[string]any{"text": "write a test"}, true)
	if ok.Code != http.StatusAccepted {
		t.Fatalf("send status=%d body=%s", ok.Code, ok.Body.String())
	}
	f.term.mu.Lock()
	defer f.term.mu.Unlock()
	if len(f.term.writes) != 1 || f.term.writes[0] != "write a test\r" {
		t.Fatalf("writes=%q", f.term.writes)
	}
}
