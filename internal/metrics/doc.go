// Package metrics records operational metrics for the task executor, the
// gateway connection registry and the shutdown sequence using OpenTelemetry
// instruments, and runs the periodic gauge refresh loop.
//
// Instruments are created from the meter passed to NewService; configure the
// global MeterProvider (or pass an SDK meter) to export them.
package metrics
