// Package main implements the entry point for the taskstream server, which
// runs background tasks and streams their progress to browsers through an
// SSE gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/phrazzld/taskstream/internal/config"
	"github.com/phrazzld/taskstream/internal/platform/logger"
	"github.com/phrazzld/taskstream/internal/redact"
)

func main() {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("failed to load .env file: %v", err)
	}

	app, err := initializeApp()
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	if err := app.Run(context.Background()); err != nil {
		slog.Error("application stopped with error", "error", redact.Error(err))
		os.Exit(1)
	}
}

// initializeApp loads configuration, sets up logging and builds the
// application.
func initializeApp() (*application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	l, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	l.Info("Server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"worker_count", cfg.Task.WorkerCount,
		"queue_size", cfg.Task.QueueSize,
		"sse_enabled", cfg.SSE.Enabled)
	if cfg.SSE.Enabled {
		l.Debug("SSE gateway configuration",
			"gateway_url", redact.URL(cfg.SSE.GatewayURL),
			"callback_secret_present", cfg.SSE.CallbackSecret != "")
	}

	return newApplication(cfg, l)
}
