package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/taskstream/internal/api/middleware"
	"github.com/phrazzld/taskstream/internal/events"
	"github.com/phrazzld/taskstream/internal/sse"
)

type sentEvent struct {
	sessionID string
	data      any
	eventName string
	channel   string
}

// MockConnectionRegistry records registry calls for handler tests
type MockConnectionRegistry struct {
	mu          sync.Mutex
	connected   map[string]string
	disconnects []string
	sent        []sentEvent
	SendOK      bool
}

func newMockRegistry() *MockConnectionRegistry {
	return &MockConnectionRegistry{connected: make(map[string]string), SendOK: true}
}

func (m *MockConnectionRegistry) OnConnect(_ context.Context, sessionID, token, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected[sessionID] = token
}

func (m *MockConnectionRegistry) OnDisconnect(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects = append(m.disconnects, token)
}

func (m *MockConnectionRegistry) HasConnection(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.connected[sessionID]
	return ok
}

func (m *MockConnectionRegistry) SendEvent(_ context.Context, sessionID string, data any, eventName, channel string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentEvent{sessionID, data, eventName, channel})
	return m.SendOK
}

func newSSERouter(registry ConnectionRegistry, secret string) http.Handler {
	h := NewSSEHandler(registry, testLogger())
	r := chi.NewRouter()
	r.Route("/api/sse", func(r chi.Router) {
		h.Routes(r, middleware.CallbackSecret(secret))
	})
	return r
}

func TestSSEHandler_Callback(t *testing.T) {
	tests := []struct {
		name           string
		body           any
		expectedStatus int
		expectedErrMsg string
		connected      string
		disconnected   string
	}{
		{
			name: "connect",
			body: CallbackRequest{
				Action:  CallbackConnect,
				Token:   "tok-1",
				Request: CallbackOrigin{URL: "/api/sse/stream?request_id=session-1"},
			},
			expectedStatus: http.StatusOK,
			connected:      "session-1",
		},
		{
			name: "connect_without_request_id",
			body: CallbackRequest{
				Action:  CallbackConnect,
				Token:   "tok-1",
				Request: CallbackOrigin{URL: "/api/sse/stream"},
			},
			expectedStatus: http.StatusBadRequest,
			expectedErrMsg: "Missing request_id in connection URL",
		},
		{
			name:           "disconnect",
			body:           CallbackRequest{Action: CallbackDisconnect, Token: "tok-1", Reason: "client_closed"},
			expectedStatus: http.StatusOK,
			disconnected:   "tok-1",
		},
		{
			name:           "unknown_action",
			body:           map[string]any{"action": "reconnect", "token": "tok-1"},
			expectedStatus: http.StatusBadRequest,
			expectedErrMsg: "Invalid action: invalid value",
		},
		{
			name:           "missing_token",
			body:           map[string]any{"action": "disconnect"},
			expectedStatus: http.StatusBadRequest,
			expectedErrMsg: "Invalid token: required field",
		},
		{
			name:           "malformed_json",
			body:           "{",
			expectedStatus: http.StatusBadRequest,
			expectedErrMsg: "Invalid request format",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			registry := newMockRegistry()
			rec := doRequest(t, newSSERouter(registry, ""), http.MethodPost, "/api/sse/callback", tc.body)

			assert.Equal(t, tc.expectedStatus, rec.Code)
			if tc.expectedErrMsg != "" {
				assert.Equal(t, tc.expectedErrMsg, decodeError(t, rec))
			} else {
				assert.JSONEq(t, `{}`, rec.Body.String())
			}

			if tc.connected != "" {
				assert.True(t, registry.HasConnection(tc.connected))
			}
			if tc.disconnected != "" {
				assert.Equal(t, []string{tc.disconnected}, registry.disconnects)
			}
		})
	}
}

func TestSSEHandler_CallbackSecret(t *testing.T) {
	router := newSSERouter(newMockRegistry(), "s3cret")
	body := CallbackRequest{Action: CallbackDisconnect, Token: "tok-1"}

	rec := doRequest(t, router, http.MethodPost, "/api/sse/callback", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/sse/callback?secret=s3cret", body)
	assert.Equal(t, http.StatusOK, rec.Code)

	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/sse/callback", bytes.NewReader(raw))
	req.Header.Set(middleware.CallbackSecretHeader, "s3cret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSSEHandler_SendTaskEvent(t *testing.T) {
	body := map[string]any{
		"request_id": "session-1",
		"task_id":    "task-1",
		"event_type": "progress_update",
		"data":       map[string]any{"text": "half", "value": 0.5},
	}

	t.Run("delivered", func(t *testing.T) {
		registry := newMockRegistry()
		registry.connected["session-1"] = "tok-1"

		rec := doRequest(t, newSSERouter(registry, ""), http.MethodPost, "/api/sse/task-event", body)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t,
			`{"requestId":"session-1","taskId":"task-1","eventType":"progress_update","delivered":true}`,
			rec.Body.String())

		require.Len(t, registry.sent, 1)
		sent := registry.sent[0]
		assert.Equal(t, "session-1", sent.sessionID)
		assert.Equal(t, sse.TaskEventName, sent.eventName)
		assert.Equal(t, sse.TaskEventChannel, sent.channel)
		event, ok := sent.data.(events.Event)
		require.True(t, ok)
		assert.Equal(t, events.ProgressUpdate, event.Type)
		assert.Equal(t, "task-1", event.TaskID)
	})

	t.Run("no_connection", func(t *testing.T) {
		registry := newMockRegistry()

		rec := doRequest(t, newSSERouter(registry, ""), http.MethodPost, "/api/sse/task-event", body)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "not_found", resp["status"])
		assert.Empty(t, registry.sent)
	})

	t.Run("send_failed", func(t *testing.T) {
		registry := newMockRegistry()
		registry.connected["session-1"] = "tok-1"
		registry.SendOK = false

		rec := doRequest(t, newSSERouter(registry, ""), http.MethodPost, "/api/sse/task-event", body)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "send_failed", resp["status"])
	})

	t.Run("unknown_event_type", func(t *testing.T) {
		bad := map[string]any{"request_id": "session-1", "task_id": "task-1", "event_type": "task_exploded"}
		rec := doRequest(t, newSSERouter(newMockRegistry(), ""), http.MethodPost, "/api/sse/task-event", bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
