package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/phrazzld/taskstream/internal/shutdown"
)

// InstrumentationName is the meter name used when no meter is supplied.
const InstrumentationName = "github.com/phrazzld/taskstream"

// Outcome labels.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
	OutcomeNotFound  = "not_found"
)

// Service owns every metric instrument of the process.
type Service struct {
	taskExecutions      metric.Int64Counter
	taskDuration        metric.Float64Histogram
	activeTasks         metric.Int64Gauge
	gatewaySends        metric.Int64Counter
	gatewaySendDuration metric.Float64Histogram
	connectionEvents    metric.Int64Counter
	connections         metric.Int64Gauge
	shuttingDown        metric.Int64Gauge
	shutdownDuration    metric.Float64Histogram

	mu            sync.Mutex
	shutdownStart time.Time

	logger *slog.Logger
}

// NewService creates the instruments on meter. A nil meter uses the global
// MeterProvider.
func NewService(meter metric.Meter, logger *slog.Logger) (*Service, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{logger: logger.With("component", "metrics_service")}
	var err error

	if s.taskExecutions, err = meter.Int64Counter("task_executions_total",
		metric.WithDescription("Finished task executions by kind and outcome")); err != nil {
		return nil, fmt.Errorf("failed to create task_executions_total: %w", err)
	}
	if s.taskDuration, err = meter.Float64Histogram("task_execution_duration_seconds",
		metric.WithDescription("Task execution duration"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create task_execution_duration_seconds: %w", err)
	}
	if s.activeTasks, err = meter.Int64Gauge("tasks_active",
		metric.WithDescription("Tasks that are pending or running")); err != nil {
		return nil, fmt.Errorf("failed to create tasks_active: %w", err)
	}
	if s.gatewaySends, err = meter.Int64Counter("sse_gateway_events_total",
		metric.WithDescription("Events sent to the SSE gateway by channel and outcome")); err != nil {
		return nil, fmt.Errorf("failed to create sse_gateway_events_total: %w", err)
	}
	if s.gatewaySendDuration, err = meter.Float64Histogram("sse_gateway_send_duration_seconds",
		metric.WithDescription("Duration of SSE gateway send calls"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create sse_gateway_send_duration_seconds: %w", err)
	}
	if s.connectionEvents, err = meter.Int64Counter("sse_gateway_connections_total",
		metric.WithDescription("Gateway connection lifecycle events by action")); err != nil {
		return nil, fmt.Errorf("failed to create sse_gateway_connections_total: %w", err)
	}
	if s.connections, err = meter.Int64Gauge("sse_gateway_active_connections",
		metric.WithDescription("Currently registered gateway connections")); err != nil {
		return nil, fmt.Errorf("failed to create sse_gateway_active_connections: %w", err)
	}
	if s.shuttingDown, err = meter.Int64Gauge("application_shutting_down",
		metric.WithDescription("Whether application is shutting down (1=yes, 0=no)")); err != nil {
		return nil, fmt.Errorf("failed to create application_shutting_down: %w", err)
	}
	if s.shutdownDuration, err = meter.Float64Histogram("graceful_shutdown_duration_seconds",
		metric.WithDescription("Duration of graceful shutdowns"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create graceful_shutdown_duration_seconds: %w", err)
	}

	return s, nil
}

// RecordTaskExecution counts a finished task and records its duration.
func (s *Service) RecordTaskExecution(kind, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("task_kind", kind),
		attribute.String("outcome", outcome),
	)
	s.taskExecutions.Add(context.Background(), 1, attrs)
	s.taskDuration.Record(context.Background(), duration.Seconds(), attrs)
}

// SetActiveTasks records the number of pending or running tasks.
func (s *Service) SetActiveTasks(n int) {
	s.activeTasks.Record(context.Background(), int64(n))
}

// RecordGatewaySend counts a gateway send and records its duration.
func (s *Service) RecordGatewaySend(channel, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("outcome", outcome),
	)
	s.gatewaySends.Add(context.Background(), 1, attrs)
	s.gatewaySendDuration.Record(context.Background(), duration.Seconds(), attrs)
}

// RecordConnection counts a connection lifecycle action (connect, disconnect, stale).
func (s *Service) RecordConnection(action string) {
	s.connectionEvents.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("action", action)))
}

// SetConnectionCount records the number of registered gateway connections.
func (s *Service) SetConnectionCount(n int) {
	s.connections.Record(context.Background(), int64(n))
}

// SetShutdownState records whether the process is shutting down and starts
// the shutdown duration clock.
func (s *Service) SetShutdownState(shuttingDown bool) {
	value := int64(0)
	if shuttingDown {
		value = 1
		s.mu.Lock()
		s.shutdownStart = time.Now()
		s.mu.Unlock()
	}
	s.shuttingDown.Record(context.Background(), value)
}

// OnLifetimeEvent drives the shutdown gauge and duration histogram.
func (s *Service) OnLifetimeEvent(event shutdown.LifetimeEvent) {
	switch event {
	case shutdown.PrepareShutdown:
		s.SetShutdownState(true)
	case shutdown.AfterShutdown:
		s.mu.Lock()
		start := s.shutdownStart
		s.mu.Unlock()
		if start.IsZero() {
			return
		}
		elapsed := time.Since(start)
		s.shutdownDuration.Record(context.Background(), elapsed.Seconds())
		s.logger.Info("recorded graceful shutdown duration", "duration", elapsed)
	}
}
