package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"
)

// RateLimitConfig describes one fixed-window limit
type RateLimitConfig struct {
	Name   string
	Limit  int
	Window time.Duration
	KeyFn  func(*http.Request) string
}

// RateLimit counts requests per key in a fixed Redis window. Redis errors
// let the request through; login throttling is a second line behind MFA
// lockout.
func (m *Middleware) RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !m.cfg.Security.RateLimiting.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			key := "ratelimit:" + cfg.Name + ":" + cfg.KeyFn(r)
			count, ttl, err := m.rdb.IncrWindow(r.Context(), key, cfg.Window)
			if err != nil {
				m.log.Error().Err(err).Str("limit", cfg.Name).Msg("rate limit check failed")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(0, cfg.Limit-int(count))))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(ttl).Unix(), 10))

			if int(count) > cfg.Limit {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(ttl.Seconds()))))
				m.log.Warn().Str("limit", cfg.Name).Str("client_ip", ClientIP(r)).Msg("rate limit exceeded")
				writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests. Please try again later.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IPKey keys a limit by client address
func IPKey(r *http.Request) string {
	return ClientIP(r)
}

// UserKey keys a limit by authenticated user, for routes behind Auth
func UserKey(r *http.Request) string {
	if userID := GetUserID(r.Context()); userID != "" {
		return userID
	}
	return "anonymous"
}
