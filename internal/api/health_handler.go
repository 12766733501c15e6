package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/phrazzld/taskstream/internal/api/shared"
)

// ShutdownState reports whether the process has begun shutting down.
type ShutdownState interface {
	IsShuttingDown() bool
}

// HealthResponse is the body of the health endpoints
type HealthResponse struct {
	Status string `json:"status"`
	Ready  *bool  `json:"ready,omitempty"`
}

// HealthHandler serves liveness and readiness probes
type HealthHandler struct {
	state ShutdownState
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(state ShutdownState) *HealthHandler {
	return &HealthHandler{state: state}
}

// Routes mounts the probe endpoints on r.
func (h *HealthHandler) Routes(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
}

// Healthz handles GET /health/healthz. The process is alive for as long as
// it can answer.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ready := true
	shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{Status: "alive", Ready: &ready})
}

// Readyz handles GET /health/readyz. It fails once shutdown has begun so
// load balancers stop routing new work here.
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.state.IsShuttingDown() {
		shared.RespondWithJSON(w, r, http.StatusServiceUnavailable, HealthResponse{Status: "shutting down"})
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{Status: "ready"})
}
