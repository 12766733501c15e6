package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/taskstream/internal/metrics"
)

type failingSource struct{}

func (failingSource) Snapshot(context.Context) ([]metrics.Snapshot, error) {
	return nil, errors.New("reader is shut down")
}

func TestMetricsHandler_Snapshot(t *testing.T) {
	exp := metrics.NewExporter()
	t.Cleanup(func() { _ = exp.Shutdown(context.Background()) })

	svc, err := metrics.NewService(exp.Meter("test"), testLogger())
	require.NoError(t, err)
	svc.RecordTaskExecution("DemoTask", metrics.OutcomeSuccess, time.Second)

	h := http.HandlerFunc(NewMetricsHandler(exp).Snapshot)
	rec := doRequest(t, h, http.MethodGet, "/internal/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp MetricsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	names := make([]string, 0, len(resp.Metrics))
	for _, m := range resp.Metrics {
		names = append(names, m.Name)
	}
	assert.Contains(t, names, "task_executions_total")
}

func TestMetricsHandler_CollectFailure(t *testing.T) {
	h := http.HandlerFunc(NewMetricsHandler(failingSource{}).Snapshot)
	rec := doRequest(t, h, http.MethodGet, "/internal/metrics", nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to collect metrics", decodeError(t, rec))
}
