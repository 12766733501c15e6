// Package logger provides structured logging functionality for the application.
//
// It utilizes Go's standard library log/slog package to implement structured JSON logging
// with configurable log levels. Components derive their own logger with a
// "component" attribute from the one built here.
package logger
