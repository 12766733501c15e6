package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/taskstream/internal/config"
	"github.com/phrazzld/taskstream/internal/platform/logger"
)

// testLogBuffer is a synchronized buffer for capturing log output in tests
type testLogBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

// Write implements io.Writer interface for the testLogBuffer
func (b *testLogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// entries parses every JSON line written so far
func (b *testLogBuffer) entries(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), "log line is not JSON: %s", line)
		out = append(out, entry)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		level slog.Level
		ok    bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"warn", slog.LevelWarn, true},
		{"Warning", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"verbose", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
	}

	for _, tc := range cases {
		level, ok := logger.ParseLevel(tc.name)
		assert.Equal(t, tc.level, level, "level for %q", tc.name)
		assert.Equal(t, tc.ok, ok, "ok for %q", tc.name)
	}
}

func TestNew_FiltersByLevel(t *testing.T) {
	t.Parallel()

	buf := &testLogBuffer{}
	l := logger.New(buf, config.ServerConfig{LogLevel: "warn"})

	l.Info("dropped")
	l.Warn("kept", "component", "test")

	entries := buf.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0]["msg"])
	assert.Equal(t, "WARN", entries[0]["level"])
	assert.Equal(t, "test", entries[0]["component"])
}

func TestNew_InvalidLevelWarnsAndUsesInfo(t *testing.T) {
	t.Parallel()

	buf := &testLogBuffer{}
	l := logger.New(buf, config.ServerConfig{LogLevel: "chatty"})
	l.Debug("dropped")
	l.Info("kept")

	entries := buf.entries(t)
	require.Len(t, entries, 2)
	assert.Equal(t, "invalid log level configured, using default level", entries[0]["msg"])
	assert.Equal(t, "chatty", entries[0]["configured_level"])
	assert.Equal(t, "kept", entries[1]["msg"])
}

func TestSetup_SetsDefault(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	l, err := logger.Setup(config.ServerConfig{LogLevel: "debug"})
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Same(t, l, slog.Default())
	assert.True(t, l.Enabled(context.Background(), slog.LevelDebug))
}
