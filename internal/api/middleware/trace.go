package middleware

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/phrazzld/taskstream/internal/api/shared"
)

// TraceMiddleware adds a trace ID to the request context and echoes it in
// the X-Trace-ID response header. A well-formed incoming X-Trace-ID is kept,
// so gateway callbacks can be correlated with the gateway's own logs.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(shared.TraceIDHeader)
		if _, err := uuid.Parse(traceID); err != nil {
			traceID = shared.NewTraceID()
		}

		ctx := shared.WithTraceID(r.Context(), traceID)
		w.Header().Set(shared.TraceIDHeader, traceID)

		slog.Debug("request started",
			slog.String("trace_id", traceID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote_addr", r.RemoteAddr))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
