// Package server assembles the coordinator, hub, bridge and API into one
// HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/user/aiderterm/internal/api"
	"github.com/user/aiderterm/internal/bridge"
	"github.com/user/aiderterm/internal/config"
	"github.com/user/aiderterm/internal/db"
	"github.com/user/aiderterm/internal/hub"
	"github.com/user/aiderterm/internal/launch"
	"github.com/user/aiderterm/internal/session"
)

type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	db         *db.DB
	hub        *hub.Hub
	coord      *session.Coordinator
	bridge     *bridge.Bridge
	httpServer *http.Server
}

// Option adjusts the server before it is wired. Tests use it to replace
// the child process.
type Option func(*session.Config)

func WithSpawn(fn session.SpawnFunc) Option {
	return func(c *session.Config) { c.Spawn = fn }
}

// WithConfigPaths replaces the .aider.conf.yml search list.
func WithConfigPaths(paths ...string) Option {
	return func(c *session.Config) { c.ConfigPaths = append([]string{}, paths...) }
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	database, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sessions := db.NewSessionRepo(database.SQL())
	if n, err := sessions.CloseStale(ctx); err != nil {
		logger.Warn("failed to close stale session records", "error", err)
	} else if n > 0 {
		logger.Info("closed stale session records", "count", n)
	}

	coordCfg := session.Config{
		Executable:  cfg.Executable,
		StopGrace:   cfg.StopGrace,
		LocalBinDir: cfg.LocalBinDir,
		Recorder:    session.NewRepoRecorder(sessions),
		Logger:      logger,
	}
	for _, opt := range opts {
		opt(&coordCfg)
	}
	coord := session.New(coordCfg)

	h := hub.New(hub.Options{Token: cfg.Token, Logger: logger})
	models := modelCatalog(cfg, coordCfg.ConfigPaths, logger)
	b := bridge.New(bridge.Config{
		Coordinator: coord,
		Surface:     h,
		Model:       cfg.Model,
		WorkDir:     cfg.WorkDir,
		Models:      models,
		Logger:      logger,
	})
	h.SetHandler(b.Handle)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.HandleWebSocket)
	mux.Handle("/api/", api.NewRouter(api.Deps{
		Coordinator: coord,
		Sessions:    sessions,
		Clients:     h,
		Models:      models,
	}, cfg.Token))

	return &Server{
		cfg:    cfg,
		logger: logger,
		db:     database,
		hub:    h,
		coord:  coord,
		bridge: b,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", cfg.Port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// modelCatalog lists the configured model first, then the extra models
// from the user's .aider.conf.yml.
func modelCatalog(cfg *config.Config, configPaths []string, logger *slog.Logger) []hub.ModelInfo {
	l := launch.Build(launch.Options{
		Model:       cfg.Model,
		WorkDir:     cfg.WorkDir,
		Environ:     os.Environ(),
		ConfigPaths: configPaths,
		Logger:      logger,
	})
	models := make([]hub.ModelInfo, 0, 1+len(l.ExtraModels))
	seen := make(map[string]bool)
	if cfg.Model != "" {
		models = append(models, hub.ModelInfo{Name: cfg.Model, ID: cfg.Model})
		seen[cfg.Model] = true
	}
	for _, m := range l.ExtraModels {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		models = append(models, hub.ModelInfo{Name: m.Name, ID: m.ID})
	}
	return models
}

// Handler exposes the routed mux.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until ctx is cancelled, then stops aider and shuts the
// listener down. The first session is requested up front and begins once
// a client reports its size.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	if _, err := s.coord.RequestStart(ctx, s.cfg.Model, s.cfg.WorkDir); err != nil {
		s.logger.Warn("initial session request failed", "error", err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := s.httpServer.Shutdown(shutdownCtx)
		s.Close()
		return err
	}
}

// Close stops aider and releases the database. It is safe to call once
// the HTTP server is no longer serving.
func (s *Server) Close() {
	s.coord.Stop()
	s.bridge.Close()
	s.coord.Dispose()
	if err := s.db.Close(); err != nil {
		s.logger.Warn("failed to close database", "error", err)
	}
}
