// Package api handles incoming HTTP requests, request validation and
// response formatting. It adapts HTTP to the task executor, the SSE
// connection registry and the shutdown coordinator, and maps their errors
// to status codes without leaking internal detail.
package api
