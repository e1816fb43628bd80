package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/user/aiderterm/internal/config"
	"github.com/user/aiderterm/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	if cfg.PrintToken {
		fmt.Printf("\naiderterm running at http://localhost:%d?token=%s\n\n", cfg.Port, cfg.Token)
	} else {
		fmt.Printf("\naiderterm running at http://localhost:%d (run with -print-token to show the access URL)\n\n", cfg.Port)
	}
	logger.Info("aider session", "executable", cfg.Executable, "model", cfg.Model, "work_dir", cfg.WorkDir)

	if err := srv.Start(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
