package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/phrazzld/taskstream/internal/config"
	"github.com/phrazzld/taskstream/internal/events"
	"github.com/phrazzld/taskstream/internal/metrics"
	"github.com/phrazzld/taskstream/internal/shutdown"
	"github.com/phrazzld/taskstream/internal/sse"
	"github.com/phrazzld/taskstream/internal/task"
	"github.com/phrazzld/taskstream/internal/task/demo"
)

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	// Lifecycle
	coordinator *shutdown.Coordinator

	// Observability
	exporter *metrics.Exporter
	metrics  *metrics.Service
	updates  *metrics.UpdateCoordinator

	// Real-time delivery; registry is nil when SSE is disabled
	registry    *sse.Registry
	broadcaster events.Broadcaster

	// Task handling
	executor *task.Executor
	kinds    *demo.Registry
}

// newApplication creates a new application instance with all dependencies
// initialized and registered with the shutdown coordinator.
func newApplication(cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config:      cfg,
		logger:      logger,
		coordinator: shutdown.NewCoordinator(cfg.Shutdown.GracefulTimeout(), logger),
		exporter:    metrics.NewExporter(),
		kinds:       demo.NewRegistry(),
	}

	otel.SetMeterProvider(app.exporter.Provider())

	var err error
	app.metrics, err = metrics.NewService(app.exporter.Meter(metrics.InstrumentationName), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics service: %w", err)
	}
	app.coordinator.RegisterNotification(app.metrics.OnLifetimeEvent)

	app.broadcaster = events.NullBroadcaster{}
	if cfg.SSE.Enabled {
		app.registry, err = sse.NewRegistry(sse.Config{
			GatewayURL:  cfg.SSE.GatewayURL,
			HTTPTimeout: cfg.SSE.HTTPTimeout(),
		}, app.metrics, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SSE registry: %w", err)
		}
		app.broadcaster = events.NewEmitter(logger, app.registry)
	} else {
		logger.Info("SSE gateway disabled, task events will not be delivered")
	}

	app.executor = task.NewExecutor(task.Config{
		WorkerCount:      cfg.Task.WorkerCount,
		QueueSize:        cfg.Task.QueueSize,
		CleanupInterval:  cfg.Task.CleanupInterval(),
		PoolDrainTimeout: cfg.Task.PoolDrainTimeout(),
	}, app.broadcaster, app.coordinator, app.metrics, logger)

	app.updates = metrics.NewUpdateCoordinator(app.coordinator, logger)
	app.updates.RegisterUpdater("active_tasks", func() {
		app.metrics.SetActiveTasks(app.executor.ActiveCount())
	})
	if app.registry != nil {
		app.updates.RegisterUpdater("sse_connections", func() {
			app.metrics.SetConnectionCount(app.registry.Count())
		})
	}

	logger.Info("Application initialized successfully", "task_types", app.kinds.Kinds())
	return app, nil
}

// Run serves HTTP until the shutdown sequence has finished, then releases
// resources. Shutdown starts on SIGINT, SIGTERM or cancellation of ctx.
func (app *application) Run(ctx context.Context) error {
	router := app.setupRouter()

	app.updates.Start(app.config.Metrics.UpdateInterval())
	app.coordinator.HandleSignals(ctx)

	err := app.startHTTPServer(ctx, router)
	app.cleanup()
	if err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup handles release of application resources after shutdown.
func (app *application) cleanup() {
	app.updates.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.exporter.Shutdown(ctx); err != nil {
		app.logger.Error("Error shutting down metrics provider", "error", err)
	}

	result := app.coordinator.Result()
	app.logger.Info("Application shutdown completed",
		"clean", result.Clean,
		"not_ready", result.NotReady,
		"duration", result.Duration)
}
