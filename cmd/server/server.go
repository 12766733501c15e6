package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// serverShutdownTimeout bounds closing idle HTTP connections once the
// coordinator has finished.
const serverShutdownTimeout = 10 * time.Second

// startHTTPServer serves router until the shutdown coordinator has
// terminated. The server keeps answering during the drain phase so
// readiness probes and task queries see the shutdown state.
func (app *application) startHTTPServer(ctx context.Context, router http.Handler) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: app.config.Server.ReadHeaderTimeout(),
	}

	serveErr := make(chan error, 1)
	go func() {
		app.logger.Info("Starting server", "port", app.config.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	return app.serveUntilShutdown(ctx, server, serveErr)
}

// serveUntilShutdown waits for the end of the shutdown sequence, starting
// it if ctx is cancelled or the listener fails, then closes server.
func (app *application) serveUntilShutdown(ctx context.Context, server *http.Server, serveErr <-chan error) error {
	var listenErr error

	select {
	case err := <-serveErr:
		listenErr = err
		app.logger.Error("Server failed", "error", err)
		app.coordinator.Initiate()
	case <-ctx.Done():
		app.logger.Info("Server context canceled, shutting down...")
		go app.coordinator.Initiate()
	case <-app.coordinator.Done():
	}

	<-app.coordinator.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("Server shutdown failed", "error", err)
		return errors.Join(listenErr, fmt.Errorf("server shutdown failed: %w", err))
	}

	app.logger.Info("Server shutdown completed")
	return listenErr
}
