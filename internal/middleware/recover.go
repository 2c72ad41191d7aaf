package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/carenest/authcore/internal/metrics"
)

// Recover turns a handler panic into a 500, counts it and logs it with the
// stack. Recover sits outside RequestID, so the ID is read back from the
// response header RequestID already set.
func (m *Middleware) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			err := recover()
			if err == nil {
				return
			}
			if err == http.ErrAbortHandler {
				panic(err)
			}

			metrics.HTTPPanicsTotal.WithLabelValues(r.Method).Inc()

			requestID := GetRequestID(r.Context())
			if requestID == "" {
				requestID = w.Header().Get("X-Request-ID")
			}
			m.log.WithRequestID(requestID).Error().
				Interface("panic", err).
				Bytes("stack", debug.Stack()).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("client_ip", ClientIP(r)).
				Msg("panic recovered")

			writeError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
		}()

		next.ServeHTTP(w, r)
	})
}
