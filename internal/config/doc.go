// Package config handles configuration loading, parsing, and validation
// from a config.yaml file and TASKSTREAM_ environment variables. It provides
// type-safe access to server, task executor, SSE gateway, shutdown and
// metrics settings while keeping configuration details separate from the
// components that use them.
package config
