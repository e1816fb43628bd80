package api

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/user/aiderterm/internal/db"
	"github.com/user/aiderterm/internal/hub"
	"github.com/user/aiderterm/internal/session"
)

type clientCounter interface {
	ClientCount() int
}

type Deps struct {
	Coordinator *session.Coordinator
	Sessions    *db.SessionRepo
	Clients     clientCounter
	Models      []hub.ModelInfo
}

type handler struct {
	coord    *session.Coordinator
	sessions *db.SessionRepo
	clients  clientCounter
	models   []hub.ModelInfo
}

func NewRouter(deps Deps, token string) http.Handler {
	handler := &handler{
		coord:    deps.Coordinator,
		sessions: deps.Sessions,
		clients:  deps.Clients,
		models:   deps.Models,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", handler.getStatus)
	mux.HandleFunc("GET /api/models", handler.listModels)

	mux.HandleFunc("GET /api/sessions", handler.listSessions)
	mux.HandleFunc("GET /api/sessions/{id}", handler.getSession)

	mux.HandleFunc("POST /api/session/message", handler.sendMessage)
	mux.HandleFunc("POST /api/session/stop", handler.stopSession)

	wrapped := jsonMiddleware(corsMiddleware(authMiddleware(token)(mux)))
	return wrapped
}

func authMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				if tokenMatches(strings.TrimSpace(authHeader[7:]), token) {
					next.ServeHTTP(w, r)
					return
				}
			}

			if tokenMatches(r.URL.Query().Get("token"), token) {
				next.ServeHTTP(w, r)
				return
			}

			jsonError(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}

func tokenMatches(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return io.ErrUnexpectedEOF
	}
	return nil
}
