package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/phrazzld/taskstream/internal/api/shared"
)

// CallbackSecretHeader carries the shared secret on gateway callbacks.
const CallbackSecretHeader = "X-SSE-Callback-Secret"

// CallbackSecret rejects requests that do not present secret in the
// X-SSE-Callback-Secret header or the "secret" query parameter. An empty
// secret disables the check.
func CallbackSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		expected := []byte(secret)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get(CallbackSecretHeader)
			if presented == "" {
				presented = r.URL.Query().Get("secret")
			}

			if subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
				slog.Warn("rejected gateway callback with invalid secret",
					"trace_id", shared.GetTraceID(r.Context()),
					"remote_addr", r.RemoteAddr,
					"secret_present", presented != "")
				shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid callback secret")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
