package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Task     TaskConfig     `mapstructure:"task" validate:"required"`
	SSE      SSEConfig      `mapstructure:"sse" validate:"required"`
	Shutdown ShutdownConfig `mapstructure:"shutdown" validate:"required"`
	Metrics  MetricsConfig  `mapstructure:"metrics" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port                     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel                 string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ReadHeaderTimeoutSeconds int    `mapstructure:"read_header_timeout_seconds" validate:"gt=0"`
}

// TaskConfig contains background task executor settings.
type TaskConfig struct {
	WorkerCount             int `mapstructure:"worker_count" validate:"gt=0"`
	QueueSize               int `mapstructure:"queue_size" validate:"gte=0"`
	CleanupIntervalSeconds  int `mapstructure:"cleanup_interval_seconds" validate:"gt=0"`
	PoolDrainTimeoutSeconds int `mapstructure:"pool_drain_timeout_seconds" validate:"gte=0"`

	// TaskTimeoutSeconds is passed to units of work as a hint; the executor
	// never enforces it.
	TaskTimeoutSeconds int `mapstructure:"task_timeout_seconds" validate:"gt=0"`
}

// SSEConfig contains SSE gateway integration settings.
type SSEConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	HTTPTimeoutSeconds int    `mapstructure:"http_timeout_seconds" validate:"gt=0"`
	CallbackSecret     string `mapstructure:"callback_secret"`

	// GatewayURL format is checked when the registry is built.
	GatewayURL string `mapstructure:"gateway_url" validate:"required_if=Enabled true"`
}

// ShutdownConfig contains graceful shutdown settings.
type ShutdownConfig struct {
	GracefulTimeoutSeconds int `mapstructure:"graceful_timeout_seconds" validate:"gt=0"`
}

// MetricsConfig contains periodic metrics update settings.
type MetricsConfig struct {
	UpdateIntervalSeconds int `mapstructure:"update_interval_seconds" validate:"gt=0"`
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// ReadHeaderTimeout returns the HTTP server read header timeout.
func (c ServerConfig) ReadHeaderTimeout() time.Duration { return seconds(c.ReadHeaderTimeoutSeconds) }

// CleanupInterval returns the task janitor period and retention window.
func (c TaskConfig) CleanupInterval() time.Duration { return seconds(c.CleanupIntervalSeconds) }

// TaskTimeout returns the advisory per-task timeout.
func (c TaskConfig) TaskTimeout() time.Duration { return seconds(c.TaskTimeoutSeconds) }

// PoolDrainTimeout returns how long shutdown waits for submitted work.
func (c TaskConfig) PoolDrainTimeout() time.Duration { return seconds(c.PoolDrainTimeoutSeconds) }

// HTTPTimeout returns the timeout of each gateway call.
func (c SSEConfig) HTTPTimeout() time.Duration { return seconds(c.HTTPTimeoutSeconds) }

// GracefulTimeout returns the total shutdown drain budget.
func (c ShutdownConfig) GracefulTimeout() time.Duration { return seconds(c.GracefulTimeoutSeconds) }

// UpdateInterval returns the metrics update period.
func (c MetricsConfig) UpdateInterval() time.Duration { return seconds(c.UpdateIntervalSeconds) }
