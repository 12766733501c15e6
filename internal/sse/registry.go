package sse

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/phrazzld/taskstream/internal/events"
	"github.com/phrazzld/taskstream/internal/redact"
)

// Event name and channel label used for task events.
const (
	TaskEventName    = "task_event"
	TaskEventChannel = "task"
)

// Connection actions reported to Metrics.
const (
	ActionConnect    = "connect"
	ActionDisconnect = "disconnect"
	ActionSuperseded = "superseded"
	ActionStale      = "stale"
)

const (
	outcomeSuccess  = "success"
	outcomeError    = "error"
	outcomeNotFound = "not_found"
)

// Metrics receives gateway measurements.
type Metrics interface {
	RecordGatewaySend(channel, outcome string, duration time.Duration)
	RecordConnection(action string)
	SetConnectionCount(n int)
}

type nopMetrics struct{}

func (nopMetrics) RecordGatewaySend(string, string, time.Duration) {}
func (nopMetrics) RecordConnection(string)                         {}
func (nopMetrics) SetConnectionCount(int)                          {}

// Config holds registry settings.
type Config struct {
	// GatewayURL is the gateway base URL, e.g. http://localhost:3001.
	GatewayURL string

	// HTTPTimeout bounds each gateway call. Defaults to 5s.
	HTTPTimeout time.Duration

	// HTTPClient overrides the default pooled, instrumented client.
	HTTPClient *http.Client
}

// Connection is the live mapping for one session.
type Connection struct {
	SessionID string
	Token     string
	URL       string
}

// ConnectObserver is notified with the session id of every new connection.
// Errors and panics are logged and do not affect other observers.
type ConnectObserver func(sessionID string) error

// Registry keeps the session -> token mapping and ships events to the
// gateway. Both directions of the mapping change together under mu;
// network calls are never made while holding it.
type Registry struct {
	client  *GatewayClient
	metrics Metrics
	logger  *slog.Logger

	mu        sync.Mutex
	sessions  map[string]Connection
	tokens    map[string]string
	observers []ConnectObserver
}

// NewRegistry creates a registry for the gateway at cfg.GatewayURL. It
// returns ErrInvalidGatewayURL when the URL is malformed. A nil metrics
// records nothing.
func NewRegistry(cfg Config, metrics Metrics, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.HTTPTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		httpClient = cleanhttp.DefaultPooledClient()
		httpClient.Timeout = timeout
		httpClient.Transport = otelhttp.NewTransport(httpClient.Transport)
	}

	client, err := NewGatewayClient(cfg.GatewayURL, httpClient)
	if err != nil {
		return nil, err
	}

	logger = logger.With("component", "sse_registry")
	logger.Info("SSE gateway registry initialized", "send_url", redact.URL(client.SendURL()))

	return &Registry{
		client:   client,
		metrics:  metrics,
		logger:   logger,
		sessions: make(map[string]Connection),
		tokens:   make(map[string]string),
	}, nil
}

// RegisterOnConnect adds an observer called after every new connection.
func (r *Registry) RegisterOnConnect(fn ConnectObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// OnConnect records token as the live connection for sessionID. A previous
// token for the session is superseded and closed on the gateway, best
// effort. Repeating a connect for the current token only refreshes url.
func (r *Registry) OnConnect(ctx context.Context, sessionID, token, url string) {
	r.mu.Lock()
	existing, had := r.sessions[sessionID]
	if had && existing.Token == token {
		existing.URL = url
		r.sessions[sessionID] = existing
		r.mu.Unlock()
		r.logger.Debug("duplicate connect callback", "session_id", sessionID)
		return
	}

	var superseded string
	if had {
		superseded = existing.Token
		delete(r.tokens, superseded)
	}
	if previous, ok := r.tokens[token]; ok && previous != sessionID {
		delete(r.sessions, previous)
	}
	r.sessions[sessionID] = Connection{SessionID: sessionID, Token: token, URL: url}
	r.tokens[token] = sessionID

	count := len(r.sessions)
	observers := make([]ConnectObserver, len(r.observers))
	copy(observers, r.observers)
	r.mu.Unlock()

	r.logger.Info("registered SSE gateway connection",
		"session_id", sessionID,
		"superseded", superseded != "",
		"connection_count", count)
	r.metrics.RecordConnection(ActionConnect)
	r.metrics.SetConnectionCount(count)

	if superseded != "" {
		r.closeToken(ctx, sessionID, superseded)
	}

	for i, fn := range observers {
		r.notify(i, fn, sessionID)
	}
}

// OnDisconnect removes the mapping for token if it is still the live one
// for its session. Unknown and superseded tokens are ignored.
func (r *Registry) OnDisconnect(token string) {
	r.mu.Lock()
	sessionID, ok := r.tokens[token]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.tokens, token)

	current, live := r.sessions[sessionID]
	if !live || current.Token != token {
		r.mu.Unlock()
		r.logger.Debug("ignored disconnect for superseded token", "session_id", sessionID)
		return
	}
	delete(r.sessions, sessionID)
	count := len(r.sessions)
	r.mu.Unlock()

	r.logger.Info("unregistered SSE gateway connection",
		"session_id", sessionID,
		"connection_count", count)
	r.metrics.RecordConnection(ActionDisconnect)
	r.metrics.SetConnectionCount(count)
}

// HasConnection reports whether sessionID has a live connection.
func (r *Registry) HasConnection(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[sessionID]
	return ok
}

// Connection returns the live connection for sessionID.
func (r *Registry) Connection(sessionID string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.sessions[sessionID]
	return conn, ok
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// SendEvent delivers data as event eventName to sessionID, or to every live
// connection when sessionID is empty. It reports whether at least one send
// succeeded.
func (r *Registry) SendEvent(ctx context.Context, sessionID string, data any, eventName, channel string) bool {
	encoded, err := json.Marshal(data)
	if err != nil {
		r.logger.Error("failed to encode event data",
			"event_name", eventName,
			"channel", channel,
			"error", err)
		return false
	}

	if sessionID == "" {
		return r.broadcast(ctx, string(encoded), eventName, channel)
	}

	r.mu.Lock()
	conn, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		r.logger.Debug("no connection for session", "session_id", sessionID)
		return false
	}

	return r.sendToToken(ctx, conn, string(encoded), eventName, channel)
}

// BroadcastEvent delivers data to every live connection.
func (r *Registry) BroadcastEvent(ctx context.Context, data any, eventName, channel string) bool {
	return r.SendEvent(ctx, "", data, eventName, channel)
}

// BroadcastTaskEvent implements events.Broadcaster. The event is delivered
// to every connection in its {event_type, task_id, data} wire form.
func (r *Registry) BroadcastTaskEvent(ctx context.Context, taskID string, eventType events.EventType, data any) bool {
	return r.BroadcastEvent(ctx, events.Event{
		Type:   eventType,
		TaskID: taskID,
		Data:   data,
	}, TaskEventName, TaskEventChannel)
}

func (r *Registry) broadcast(ctx context.Context, encoded, eventName, channel string) bool {
	r.mu.Lock()
	targets := make([]Connection, 0, len(r.sessions))
	for _, conn := range r.sessions {
		targets = append(targets, conn)
	}
	r.mu.Unlock()

	if len(targets) == 0 {
		return false
	}

	delivered := 0
	for _, conn := range targets {
		if r.sendToToken(ctx, conn, encoded, eventName, channel) {
			delivered++
		}
	}

	r.logger.Debug("broadcast event",
		"event_name", eventName,
		"channel", channel,
		"targets", len(targets),
		"delivered", delivered)
	return delivered > 0
}

func (r *Registry) sendToToken(ctx context.Context, conn Connection, encoded, eventName, channel string) bool {
	start := time.Now()
	status, err := r.client.Send(ctx, SendRequest{
		Token: conn.Token,
		Event: &EventPayload{Name: eventName, Data: encoded},
	})
	duration := time.Since(start)

	switch {
	case err != nil:
		r.logger.Error("failed to send event to SSE gateway",
			"session_id", conn.SessionID,
			"event_name", eventName,
			"error", redact.Error(err))
		r.metrics.RecordGatewaySend(channel, outcomeError, duration)
		return false
	case status == http.StatusNotFound:
		r.removeStale(conn)
		r.metrics.RecordGatewaySend(channel, outcomeNotFound, duration)
		return false
	case status < 200 || status >= 300:
		r.logger.Warn("SSE gateway rejected event",
			"session_id", conn.SessionID,
			"event_name", eventName,
			"status", status)
		r.metrics.RecordGatewaySend(channel, outcomeError, duration)
		return false
	}

	r.metrics.RecordGatewaySend(channel, outcomeSuccess, duration)
	r.logger.Debug("sent event to SSE gateway",
		"session_id", conn.SessionID,
		"event_name", eventName,
		"duration", duration)
	return true
}

// removeStale drops conn if it is still the live mapping for its session.
func (r *Registry) removeStale(conn Connection) {
	r.mu.Lock()
	current, ok := r.sessions[conn.SessionID]
	if !ok || current.Token != conn.Token {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, conn.SessionID)
	delete(r.tokens, conn.Token)
	count := len(r.sessions)
	r.mu.Unlock()

	r.logger.Info("removed stale SSE gateway connection",
		"session_id", conn.SessionID,
		"connection_count", count)
	r.metrics.RecordConnection(ActionStale)
	r.metrics.SetConnectionCount(count)
}

func (r *Registry) closeToken(ctx context.Context, sessionID, token string) {
	r.metrics.RecordConnection(ActionSuperseded)

	status, err := r.client.Send(ctx, SendRequest{Token: token, Close: true})
	if err != nil {
		r.logger.Warn("failed to close superseded connection",
			"session_id", sessionID,
			"error", redact.Error(err))
		return
	}
	r.logger.Debug("closed superseded connection",
		"session_id", sessionID,
		"status", status)
}

func (r *Registry) notify(index int, fn ConnectObserver, sessionID string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("connect observer panicked",
				"observer_index", index,
				"session_id", sessionID,
				"panic", rec)
		}
	}()
	if err := fn(sessionID); err != nil {
		r.logger.Warn("connect observer failed",
			"observer_index", index,
			"session_id", sessionID,
			"error", err)
	}
}

var _ events.Broadcaster = (*Registry)(nil)
