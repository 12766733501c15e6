package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every configuration environment variable,
// e.g. TASKSTREAM_SERVER_PORT.
const EnvPrefix = "TASKSTREAM"

// setDefaults registers every key, which also makes each key visible to
// AutomaticEnv during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.read_header_timeout_seconds", 5)

	v.SetDefault("task.worker_count", 4)
	v.SetDefault("task.queue_size", 100)
	v.SetDefault("task.cleanup_interval_seconds", 600)
	v.SetDefault("task.task_timeout_seconds", 300)
	v.SetDefault("task.pool_drain_timeout_seconds", 10)

	v.SetDefault("sse.enabled", false)
	v.SetDefault("sse.gateway_url", "")
	v.SetDefault("sse.http_timeout_seconds", 5)
	v.SetDefault("sse.callback_secret", "")

	v.SetDefault("shutdown.graceful_timeout_seconds", 30)

	v.SetDefault("metrics.update_interval_seconds", 60)
}

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return load(".")
}

func load(configPaths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
