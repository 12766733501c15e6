package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/phrazzld/taskstream/internal/api"
	apiMiddleware "github.com/phrazzld/taskstream/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)

	taskHandler := api.NewTaskHandler(app.executor, app.kinds, app.config.Task.TaskTimeout(), app.logger)

	r.Route("/api", func(r chi.Router) {
		r.Route("/tasks", taskHandler.Routes)

		// Gateway endpoints only exist when there is a gateway
		if app.registry != nil {
			sseHandler := api.NewSSEHandler(app.registry, app.logger)
			r.Route("/sse", func(r chi.Router) {
				sseHandler.Routes(r, apiMiddleware.CallbackSecret(app.config.SSE.CallbackSecret))
			})
		}
	})

	r.Route("/health", api.NewHealthHandler(app.coordinator).Routes)
	r.Get("/internal/metrics", api.NewMetricsHandler(app.exporter).Snapshot)

	return otelhttp.NewHandler(r, "taskstream",
		otelhttp.WithMeterProvider(app.exporter.Provider()))
}
