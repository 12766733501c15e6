package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/taskstream/internal/api/shared"
)

func TestTraceMiddleware(t *testing.T) {
	var seen string
	handler := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = shared.GetTraceID(r.Context())
	}))

	t.Run("generates trace id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		_, err := uuid.Parse(seen)
		require.NoError(t, err)
		assert.Equal(t, seen, rec.Header().Get(shared.TraceIDHeader))
	})

	t.Run("keeps valid incoming id", func(t *testing.T) {
		incoming := uuid.NewString()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(shared.TraceIDHeader, incoming)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, incoming, seen)
	})

	t.Run("replaces malformed incoming id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(shared.TraceIDHeader, "<script>")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.NotEqual(t, "<script>", seen)
		assert.NotEmpty(t, seen)
	})
}

func TestCallbackSecret(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name           string
		secret         string
		header         string
		query          string
		expectedStatus int
	}{
		{"disabled", "", "", "", http.StatusNoContent},
		{"header match", "s3cret", "s3cret", "", http.StatusNoContent},
		{"query match", "s3cret", "", "s3cret", http.StatusNoContent},
		{"missing", "s3cret", "", "", http.StatusUnauthorized},
		{"wrong", "s3cret", "guess", "", http.StatusUnauthorized},
		{"prefix only", "s3cret", "s3c", "", http.StatusUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			target := "/api/sse/callback"
			if tc.query != "" {
				target += "?secret=" + tc.query
			}
			req := httptest.NewRequest(http.MethodPost, target, nil)
			if tc.header != "" {
				req.Header.Set(CallbackSecretHeader, tc.header)
			}
			rec := httptest.NewRecorder()

			CallbackSecret(tc.secret)(ok).ServeHTTP(rec, req)

			assert.Equal(t, tc.expectedStatus, rec.Code)
		})
	}
}
