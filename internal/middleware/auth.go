package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/carenest/authcore/internal/auth"
	"github.com/carenest/authcore/internal/model"
)

// Context keys for authenticated user data
const (
	UserIDKey contextKey = "user_id"
	EmailKey  contextKey = "email"
	RoleKey   contextKey = "role"
	TokenKey  contextKey = "access_token"
)

// TokenVerifier validates a bearer token of the given type
type TokenVerifier interface {
	VerifyTokenType(ctx context.Context, token string, typ model.TokenType) (*auth.Claims, error)
}

// Auth rejects requests without a valid, unrevoked access token. Every
// rejection is the same 401 so callers learn nothing about why.
func (m *Middleware) Auth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				unauthorized(w)
				return
			}

			claims, err := verifier.VerifyTokenType(r.Context(), token, model.TokenTypeAccess)
			if err != nil {
				if !errors.Is(err, auth.ErrInvalidToken) && !errors.Is(err, auth.ErrTokenRevoked) {
					m.log.Error().Err(err).Msg("token verification failed")
					writeError(w, http.StatusServiceUnavailable, "unavailable", "Authentication is temporarily unavailable")
					return
				}
				unauthorized(w)
				return
			}

			ctx := r.Context()
			ctx = context.WithValue(ctx, UserIDKey, claims.Subject)
			ctx = context.WithValue(ctx, EmailKey, claims.String("email"))
			ctx = context.WithValue(ctx, RoleKey, model.Role(claims.String("role")))
			ctx = context.WithValue(ctx, TokenKey, token)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole allows only authenticated users holding role
func (m *Middleware) RequireRole(role model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetRole(r.Context()) != role {
				writeError(w, http.StatusForbidden, "forbidden", "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer" header
func BearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
}

// GetUserID returns the authenticated user's ID
func GetUserID(ctx context.Context) string {
	id, _ := ctx.Value(UserIDKey).(string)
	return id
}

// GetEmail returns the authenticated user's email
func GetEmail(ctx context.Context) string {
	email, _ := ctx.Value(EmailKey).(string)
	return email
}

// GetRole returns the authenticated user's role
func GetRole(ctx context.Context) model.Role {
	role, _ := ctx.Value(RoleKey).(model.Role)
	return role
}

// GetToken returns the raw access token of the request
func GetToken(ctx context.Context) string {
	token, _ := ctx.Value(TokenKey).(string)
	return token
}
