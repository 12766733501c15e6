package metrics

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/phrazzld/taskstream/internal/shutdown"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestService returns a Service backed by a manual reader.
func newTestService(t *testing.T) (*Service, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	svc, err := NewService(provider.Meter("test"), testLogger())
	require.NoError(t, err)
	return svc, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumValue(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func gaugeValue(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	gauge, ok := m.Data.(metricdata.Gauge[int64])
	require.True(t, ok, "metric %s is not an int64 gauge", m.Name)
	require.NotEmpty(t, gauge.DataPoints)
	return gauge.DataPoints[len(gauge.DataPoints)-1].Value
}

func TestService_RecordsTaskAndGatewayMetrics(t *testing.T) {
	t.Parallel()

	svc, reader := newTestService(t)

	svc.RecordTaskExecution("DemoTask", OutcomeSuccess, 50*time.Millisecond)
	svc.RecordTaskExecution("FailingTask", OutcomeError, 10*time.Millisecond)
	svc.SetActiveTasks(3)
	svc.RecordGatewaySend("task", OutcomeSuccess, time.Millisecond)
	svc.RecordConnection("connect")
	svc.RecordConnection("disconnect")
	svc.SetConnectionCount(2)

	got := collect(t, reader)

	assert.Equal(t, int64(2), sumValue(t, got["task_executions_total"]))
	assert.Equal(t, int64(3), gaugeValue(t, got["tasks_active"]))
	assert.Equal(t, int64(1), sumValue(t, got["sse_gateway_events_total"]))
	assert.Equal(t, int64(2), sumValue(t, got["sse_gateway_connections_total"]))
	assert.Equal(t, int64(2), gaugeValue(t, got["sse_gateway_active_connections"]))

	hist, ok := got["task_execution_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(2), count)
}

func TestService_LifetimeEvents(t *testing.T) {
	t.Parallel()

	svc, reader := newTestService(t)

	svc.OnLifetimeEvent(shutdown.PrepareShutdown)
	svc.OnLifetimeEvent(shutdown.Shutdown)
	svc.OnLifetimeEvent(shutdown.AfterShutdown)

	got := collect(t, reader)
	assert.Equal(t, int64(1), gaugeValue(t, got["application_shutting_down"]))

	hist, ok := got["graceful_shutdown_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
}

func TestService_NilMeterUsesGlobalProvider(t *testing.T) {
	t.Parallel()

	svc, err := NewService(nil, nil)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		svc.RecordTaskExecution("x", OutcomeSuccess, time.Second)
		svc.OnLifetimeEvent(shutdown.AfterShutdown)
	})
}

func TestUpdateCoordinator_PeriodicRuns(t *testing.T) {
	t.Parallel()

	c := NewUpdateCoordinator(nil, testLogger())

	var calls atomic.Int32
	c.RegisterUpdater("counter", func() { calls.Add(1) })
	c.RegisterUpdater("panicky", func() { panic("boom") })

	c.Start(10 * time.Millisecond)
	c.Start(10 * time.Millisecond)

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	c.Stop()
	stopped := calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, calls.Load(), "no runs after Stop")

	c.Stop()
}

func TestUpdateCoordinator_StopsOnShutdown(t *testing.T) {
	t.Parallel()

	coord := shutdown.NewCoordinator(time.Second, testLogger())
	c := NewUpdateCoordinator(coord, testLogger())

	var calls atomic.Int32
	c.RegisterUpdater("counter", func() { calls.Add(1) })
	c.Start(5 * time.Millisecond)

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, 5*time.Millisecond)

	coord.Initiate()

	stopped := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, calls.Load())
}

func TestUpdateCoordinator_RunOnce(t *testing.T) {
	t.Parallel()

	c := NewUpdateCoordinator(nil, testLogger())
	var calls int
	c.RegisterUpdater("a", func() { calls++ })
	c.RegisterUpdater("b", func() { calls++ })

	c.RunOnce()

	assert.Equal(t, 2, calls)
}

func TestExporter_Snapshot(t *testing.T) {
	t.Parallel()

	exp := NewExporter()
	t.Cleanup(func() { _ = exp.Shutdown(context.Background()) })

	svc, err := NewService(exp.Meter("test"), testLogger())
	require.NoError(t, err)

	svc.RecordTaskExecution("DemoTask", OutcomeSuccess, 2*time.Second)
	svc.RecordTaskExecution("DemoTask", OutcomeSuccess, time.Second)
	svc.SetActiveTasks(4)

	snaps, err := exp.Snapshot(context.Background())
	require.NoError(t, err)

	byName := make(map[string]Snapshot)
	for i, s := range snaps {
		if i > 0 {
			assert.LessOrEqual(t, snaps[i-1].Name, s.Name, "sorted by name")
		}
		byName[s.Name] = s
	}

	active := byName["tasks_active"]
	require.Len(t, active.Points, 1)
	assert.Equal(t, 4.0, active.Points[0].Value)

	hist := byName["task_execution_duration_seconds"]
	require.Len(t, hist.Points, 1)
	assert.Equal(t, uint64(2), hist.Points[0].Count)
	assert.InDelta(t, 3.0, hist.Points[0].Value, 1e-9)
	assert.Equal(t, "DemoTask", hist.Points[0].Attributes["task_kind"])
}
