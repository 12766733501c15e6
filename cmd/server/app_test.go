package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/taskstream/internal/config"
	"github.com/phrazzld/taskstream/internal/events"
	"github.com/phrazzld/taskstream/internal/sse"
	"github.com/phrazzld/taskstream/internal/task"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 0, LogLevel: "debug", ReadHeaderTimeoutSeconds: 5},
		Task: config.TaskConfig{
			WorkerCount:             2,
			QueueSize:               10,
			CleanupIntervalSeconds:  600,
			PoolDrainTimeoutSeconds: 1,
			TaskTimeoutSeconds:      30,
		},
		SSE:      config.SSEConfig{HTTPTimeoutSeconds: 2},
		Shutdown: config.ShutdownConfig{GracefulTimeoutSeconds: 2},
		Metrics:  config.MetricsConfig{UpdateIntervalSeconds: 1},
	}
}

// recordingGateway stands in for the SSE gateway and keeps every send.
type recordingGateway struct {
	mu    sync.Mutex
	sends []sse.SendRequest
}

func (g *recordingGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/internal/send" {
		http.NotFound(w, r)
		return
	}
	var req sse.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	g.mu.Lock()
	g.sends = append(g.sends, req)
	g.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// taskEvents decodes the task events delivered for taskID, in arrival order.
func (g *recordingGateway) taskEvents(taskID string) []events.EventType {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []events.EventType
	for _, s := range g.sends {
		if s.Event == nil || s.Event.Name != sse.TaskEventName {
			continue
		}
		var ev struct {
			Type   events.EventType `json:"event_type"`
			TaskID string           `json:"task_id"`
		}
		if err := json.Unmarshal([]byte(s.Event.Data), &ev); err != nil {
			continue
		}
		if ev.TaskID == taskID {
			out = append(out, ev.Type)
		}
	}
	return out
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func getStatus(t *testing.T, url string) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp.StatusCode
}

func startTask(t *testing.T, baseURL string, params task.Params) task.StartResponse {
	t.Helper()
	resp := postJSON(t, baseURL+"/api/tasks", map[string]any{"task_type": "demo_task", "params": params})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var started task.StartResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	return started
}

func TestApplication_TaskLifecycleWithoutSSE(t *testing.T) {
	app, err := newApplication(testConfig(), testLogger())
	require.NoError(t, err)
	t.Cleanup(app.cleanup)

	srv := httptest.NewServer(app.setupRouter())
	t.Cleanup(srv.Close)

	assert.Equal(t, http.StatusOK, getStatus(t, srv.URL+"/health/readyz"))
	assert.Equal(t, http.StatusNotFound, getStatus(t, srv.URL+"/api/sse/task-event"),
		"gateway routes are not mounted without a gateway")

	started := startTask(t, srv.URL, task.Params{"steps": 2, "delay": 0.01})

	require.Eventually(t, func() bool {
		info, ok := app.executor.GetStatus(started.TaskID)
		return ok && info.Status == task.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, http.StatusOK, getStatus(t, srv.URL+"/api/tasks/"+started.TaskID))

	app.coordinator.Initiate()

	assert.True(t, app.coordinator.Result().Clean)
	assert.Equal(t, http.StatusServiceUnavailable, getStatus(t, srv.URL+"/health/readyz"))
	assert.Equal(t, http.StatusOK, getStatus(t, srv.URL+"/health/healthz"))

	resp := postJSON(t, srv.URL+"/api/tasks", map[string]any{"task_type": "demo_task"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	assert.Equal(t, http.StatusOK, getStatus(t, srv.URL+"/internal/metrics"))
}

func TestApplication_StreamsTaskEventsToGateway(t *testing.T) {
	gateway := &recordingGateway{}
	gw := httptest.NewServer(gateway)
	t.Cleanup(gw.Close)

	cfg := testConfig()
	cfg.SSE.Enabled = true
	cfg.SSE.GatewayURL = gw.URL
	cfg.SSE.CallbackSecret = "s3cret"

	app, err := newApplication(cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(app.cleanup)

	srv := httptest.NewServer(app.setupRouter())
	t.Cleanup(srv.Close)

	callback := map[string]any{
		"action":  "connect",
		"token":   "tok-1",
		"request": map[string]any{"url": "/api/stream?request_id=session-1"},
	}
	resp := postJSON(t, srv.URL+"/api/sse/callback", callback)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/sse/callback?secret=s3cret", callback)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, app.registry.HasConnection("session-1"))

	started := startTask(t, srv.URL, task.Params{"steps": 2, "delay": 0.01})

	require.Eventually(t, func() bool {
		got := gateway.taskEvents(started.TaskID)
		return len(got) > 0 && got[len(got)-1] == events.TaskCompleted
	}, 2*time.Second, 10*time.Millisecond)

	got := gateway.taskEvents(started.TaskID)
	assert.Equal(t, events.TaskStarted, got[0])
	for _, ev := range got[1 : len(got)-1] {
		assert.Equal(t, events.ProgressUpdate, ev)
	}

	resp = postJSON(t, srv.URL+"/api/sse/task-event", map[string]any{
		"request_id": "session-1",
		"task_id":    "manual",
		"event_type": "task_started",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []events.EventType{events.TaskStarted}, gateway.taskEvents("manual"))

	app.coordinator.Initiate()
	assert.True(t, app.coordinator.Result().Clean)
}

func TestApplication_InvalidGatewayURL(t *testing.T) {
	cfg := testConfig()
	cfg.SSE.Enabled = true
	cfg.SSE.GatewayURL = "localhost:3001"

	_, err := newApplication(cfg, testLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, sse.ErrInvalidGatewayURL)
}

func TestApplication_RunStopsOnContextCancel(t *testing.T) {
	app, err := newApplication(testConfig(), testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	// Give the listener a moment to bind before cancelling.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	select {
	case <-app.coordinator.Done():
	default:
		t.Fatal("shutdown sequence did not finish")
	}
}
