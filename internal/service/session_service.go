package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carenest/authcore/internal/auth"
	"github.com/carenest/authcore/internal/logger"
	"github.com/carenest/authcore/internal/metrics"
	"github.com/carenest/authcore/internal/model"
	"github.com/carenest/authcore/internal/repository"
)

// TokenBlacklist records revoked tokens until they expire
type TokenBlacklist interface {
	Add(ctx context.Context, token, userID string, expiresAt time.Time) error
	AddIfAbsent(ctx context.Context, token, userID string, expiresAt time.Time) (bool, error)
	IsBlacklisted(ctx context.Context, token string) (bool, error)
}

// UserLookup loads the account a token was issued to
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// SessionService issues, validates, rotates and revokes bearer tokens
type SessionService struct {
	tokens    *auth.TokenService
	blacklist TokenBlacklist
	users     UserLookup
	log       *logger.Logger
}

// NewSessionService creates a new SessionService
func NewSessionService(tokens *auth.TokenService, blacklist TokenBlacklist, users UserLookup, log *logger.Logger) *SessionService {
	return &SessionService{
		tokens:    tokens,
		blacklist: blacklist,
		users:     users,
		log:       log.WithComponent("session_service"),
	}
}

// VerifyToken decodes token and checks the blacklist. Decoding runs first
// so malformed or forged tokens never reach Redis.
func (s *SessionService) VerifyToken(ctx context.Context, token string) (*auth.Claims, error) {
	claims, err := s.tokens.DecodeToken(token)
	if err != nil {
		metrics.TokenValidationsTotal.WithLabelValues(metrics.OutcomeInvalid).Inc()
		return nil, err
	}

	revoked, err := s.blacklist.IsBlacklisted(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to check token revocation: %w", err)
	}
	if revoked {
		metrics.TokenValidationsTotal.WithLabelValues(metrics.OutcomeRevoked).Inc()
		return nil, auth.ErrTokenRevoked
	}

	metrics.TokenValidationsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	return claims, nil
}

// VerifyTokenType is VerifyToken plus a check of the type claim. A refresh
// token presented as an access token, or the reverse, is ErrInvalidToken.
func (s *SessionService) VerifyTokenType(ctx context.Context, token string, typ model.TokenType) (*auth.Claims, error) {
	claims, err := s.VerifyToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if claims.Type != typ {
		s.log.Debug().Str("want", string(typ)).Str("got", string(claims.Type)).Msg("token type mismatch")
		return nil, auth.ErrInvalidToken
	}
	return claims, nil
}

// IssueTokenPair signs a fresh access and refresh token for user
func (s *SessionService) IssueTokenPair(user *model.User) (*model.TokenPair, error) {
	access, err := s.tokens.CreateAccessToken(user.ID, map[string]interface{}{
		"email": user.Email,
		"role":  string(user.Role),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create access token: %w", err)
	}
	refresh, err := s.tokens.CreateRefreshToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh token: %w", err)
	}

	metrics.TokensIssuedTotal.WithLabelValues(string(model.TokenTypeAccess)).Inc()
	metrics.TokensIssuedTotal.WithLabelValues(string(model.TokenTypeRefresh)).Inc()

	return &model.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.tokens.AccessTokenTTL() / time.Second),
	}, nil
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// blacklisted with SET NX, so when the same token is presented twice at
// once only one caller gets a pair and the other sees ErrTokenRevoked.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*model.TokenPair, error) {
	claims, err := s.VerifyTokenType(ctx, refreshToken, model.TokenTypeRefresh)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, auth.ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token subject: %w", err)
	}

	added, err := s.blacklist.AddIfAbsent(ctx, refreshToken, claims.Subject, claims.ExpiresAt)
	if errors.Is(err, repository.ErrInvalidExpiry) {
		return nil, auth.ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to revoke token: %w", err)
	}
	if !added {
		metrics.TokenValidationsTotal.WithLabelValues(metrics.OutcomeRevoked).Inc()
		return nil, auth.ErrTokenRevoked
	}
	metrics.TokensRevokedTotal.Inc()

	pair, err := s.IssueTokenPair(user)
	if err != nil {
		return nil, err
	}

	s.log.AuditLog(user.ID, model.AuditActionTokenRefresh, model.AuditResourceSession, claims.ID, nil)
	return pair, nil
}

// Revoke blacklists token for the rest of its lifetime. Tokens that are
// invalid or already expired need no entry.
func (s *SessionService) Revoke(ctx context.Context, token string) error {
	claims, err := s.tokens.DecodeToken(token)
	if err != nil {
		return err
	}
	if err := s.revoke(ctx, token, claims); err != nil {
		return err
	}
	s.log.AuditLog(claims.Subject, model.AuditActionTokenRevoked, model.AuditResourceSession, claims.ID, map[string]interface{}{
		"type": string(claims.Type),
	})
	return nil
}

func (s *SessionService) revoke(ctx context.Context, token string, claims *auth.Claims) error {
	err := s.blacklist.Add(ctx, token, claims.Subject, claims.ExpiresAt)
	if errors.Is(err, repository.ErrInvalidExpiry) {
		// expires within the second; nothing left to revoke
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	metrics.TokensRevokedTotal.Inc()
	return nil
}
