package router

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/carenest/authcore/internal/config"
	"github.com/carenest/authcore/internal/handler"
	"github.com/carenest/authcore/internal/middleware"
	"github.com/carenest/authcore/internal/model"
)

// New creates and configures the HTTP router
func New(h *handler.Handler, mw *middleware.Middleware, cfg *config.Config, verifier middleware.TokenVerifier) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoints (no auth required)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)
	mux.Handle("GET /metrics", promhttp.Handler())

	rl := cfg.Security.RateLimiting
	loginRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Name:   "login",
		Limit:  orDefault(rl.LoginLimit, 5),
		Window: orDefaultDuration(rl.LoginWindow, 15*time.Minute),
		KeyFn:  middleware.IPKey,
	})
	mfaLoginRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Name:   "mfa_login",
		Limit:  orDefault(rl.LoginLimit, 5),
		Window: orDefaultDuration(rl.LoginWindow, 15*time.Minute),
		KeyFn:  middleware.IPKey,
	})
	refreshRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Name:   "refresh",
		Limit:  orDefault(rl.DefaultLimit, 10),
		Window: orDefaultDuration(rl.DefaultWindow, time.Minute),
		KeyFn:  middleware.IPKey,
	})

	// Public authentication routes (rate limited)
	mux.Handle("POST /api/v1/auth/login", loginRateLimit(http.HandlerFunc(h.Login)))
	mux.Handle("POST /api/v1/auth/mfa", mfaLoginRateLimit(http.HandlerFunc(h.CompleteMFALogin)))
	mux.Handle("POST /api/v1/auth/token/refresh", refreshRateLimit(http.HandlerFunc(h.RefreshToken)))

	// Protected routes (require auth)
	authMw := mw.Auth(verifier)
	mux.Handle("POST /api/v1/auth/logout", authMw(http.HandlerFunc(h.Logout)))

	mfaRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Name:   "mfa",
		Limit:  orDefault(rl.DefaultLimit, 10),
		Window: orDefaultDuration(rl.DefaultWindow, time.Minute),
		KeyFn:  middleware.UserKey,
	})
	mux.Handle("GET /api/v1/mfa", authMw(http.HandlerFunc(h.GetMFAStatus)))
	mux.Handle("POST /api/v1/mfa/setup", authMw(mfaRateLimit(http.HandlerFunc(h.SetupMFA))))
	mux.Handle("POST /api/v1/mfa/enable", authMw(mfaRateLimit(http.HandlerFunc(h.EnableMFA))))
	mux.Handle("POST /api/v1/mfa/verify", authMw(mfaRateLimit(http.HandlerFunc(h.VerifyMFA))))
	mux.Handle("POST /api/v1/mfa/disable", authMw(mfaRateLimit(http.HandlerFunc(h.DisableMFA))))
	mux.Handle("POST /api/v1/mfa/backup-codes", authMw(mfaRateLimit(http.HandlerFunc(h.GenerateBackupCodes))))
	mux.Handle("GET /api/v1/mfa/whitelist", authMw(http.HandlerFunc(h.ListWhitelist)))
	mux.Handle("POST /api/v1/mfa/whitelist", authMw(http.HandlerFunc(h.AddWhitelistEntry)))
	mux.Handle("DELETE /api/v1/mfa/whitelist/{id}", authMw(http.HandlerFunc(h.RemoveWhitelistEntry)))

	// Admin routes
	adminOnly := mw.RequireRole(model.RoleAdmin)
	mux.Handle("POST /api/v1/admin/users/{id}/mfa/reset-lockout", authMw(adminOnly(http.HandlerFunc(h.AdminResetMFALockout))))

	// Apply middleware stack
	var handler http.Handler = mux

	if len(cfg.Security.CORS.AllowedOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins: cfg.Security.CORS.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
			MaxAge:         cfg.Security.CORS.MaxAge,
		}).Handler(handler)
	}

	handler = mw.SecurityHeaders(handler)
	handler = mw.Logger(handler)
	handler = mw.RealIP(handler)
	handler = mw.RequestID(handler)
	handler = mw.Tracing(handler)

	// Panic recovery (outermost)
	handler = mw.Recover(handler)

	return handler
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func orDefaultDuration(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}
