package api

import (
	"context"
	"net/http"

	"github.com/phrazzld/taskstream/internal/api/shared"
	"github.com/phrazzld/taskstream/internal/metrics"
)

// MetricsSource reads the current state of the process instruments.
type MetricsSource interface {
	Snapshot(ctx context.Context) ([]metrics.Snapshot, error)
}

// MetricsResponse is the body of the metrics snapshot endpoint
type MetricsResponse struct {
	Metrics []metrics.Snapshot `json:"metrics"`
}

// MetricsHandler serves an on-demand snapshot of the metric instruments
type MetricsHandler struct {
	source MetricsSource
}

// NewMetricsHandler creates a new MetricsHandler
func NewMetricsHandler(source MetricsSource) *MetricsHandler {
	return &MetricsHandler{source: source}
}

// Snapshot handles GET /internal/metrics requests
func (h *MetricsHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.source.Snapshot(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to collect metrics", err)
		return
	}
	if snaps == nil {
		snaps = []metrics.Snapshot{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, MetricsResponse{Metrics: snaps})
}

var _ MetricsSource = (*metrics.Exporter)(nil)
