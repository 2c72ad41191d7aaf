package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carenest/authcore/internal/auth"
	"github.com/carenest/authcore/internal/config"
	"github.com/carenest/authcore/internal/logger"
	"github.com/carenest/authcore/internal/model"
	"github.com/carenest/authcore/internal/repository"
)

// Common service errors
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailAlreadyExists = errors.New("email already registered")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrPasswordTooWeak    = errors.New("password does not meet requirements")
	ErrMFARequired        = errors.New("MFA verification required")
	ErrInvalidChallenge   = errors.New("invalid or expired MFA challenge")
)

// UserStore persists staff accounts
type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
}

// ChallengeStore holds short-lived MFA login challenges
type ChallengeStore interface {
	Create(ctx context.Context, userID string, ttl time.Duration) (string, error)
	Peek(ctx context.Context, token string) (string, error)
	Consume(ctx context.Context, token string) (string, error)
}

// AuthService handles sign-in: the password check, the MFA step and token
// issuance
type AuthService struct {
	users       UserStore
	mfa         *MFAService
	sessions    *SessionService
	challenges  ChallengeStore
	argonParams *auth.Argon2Params
	dummyHash   string
	cfg         *config.Config
	log         *logger.Logger
}

// NewAuthService creates a new AuthService
func NewAuthService(
	users UserStore,
	mfa *MFAService,
	sessions *SessionService,
	challenges ChallengeStore,
	cfg *config.Config,
	log *logger.Logger,
) (*AuthService, error) {
	params := auth.ParamsFromConfig(cfg.Security.Password)

	// compared against when the email is unknown, so both paths cost one hash
	dummy, err := auth.HashPassword(uuid.NewString(), params)
	if err != nil {
		return nil, err
	}

	return &AuthService{
		users:       users,
		mfa:         mfa,
		sessions:    sessions,
		challenges:  challenges,
		argonParams: params,
		dummyHash:   dummy,
		cfg:         cfg,
		log:         log.WithComponent("auth_service"),
	}, nil
}

// LoginRequest contains the credentials and client details for a login
type LoginRequest struct {
	Email     string
	Password  string
	IPAddress string
	UserAgent string
}

// LoginResult holds either tokens or an MFA challenge
type LoginResult struct {
	Tokens          *model.TokenPair    `json:"tokens,omitempty"`
	MFAChallenge    *model.MFAChallenge `json:"mfaChallenge,omitempty"`
	WhitelistBypass bool                `json:"-"`
}

// Login checks credentials. Users with MFA enabled get a challenge and
// ErrMFARequired, unless the request comes from one of their whitelisted
// addresses.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	user, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	hash := s.dummyHash
	if user != nil {
		hash = user.PasswordHash
	}
	match, err := auth.VerifyPassword(req.Password, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if user == nil || !match {
		if user != nil {
			s.log.AuditLog(user.ID, model.AuditActionLoginFailed, model.AuditResourceUser, user.ID, map[string]interface{}{
				"reason":     "invalid_password",
				"ip_address": req.IPAddress,
			})
		}
		return nil, ErrInvalidCredentials
	}

	enabled, err := s.mfa.IsEnabled(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	if enabled {
		if s.isWhitelisted(ctx, user.ID, req.IPAddress) {
			pair, err := s.sessions.IssueTokenPair(user)
			if err != nil {
				return nil, err
			}
			s.log.AuditLog(user.ID, model.AuditActionLoginIPBypass, model.AuditResourceUser, user.ID, map[string]interface{}{
				"ip_address": req.IPAddress,
			})
			return &LoginResult{Tokens: pair, WhitelistBypass: true}, nil
		}

		ttl := s.cfg.MFA.ChallengeTTL
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
		token, err := s.challenges.Create(ctx, user.ID, ttl)
		if err != nil {
			return nil, err
		}

		s.log.AuditLog(user.ID, model.AuditActionLogin, model.AuditResourceUser, user.ID, map[string]interface{}{
			"mfa_required": true,
			"ip_address":   req.IPAddress,
		})
		return &LoginResult{
			MFAChallenge: &model.MFAChallenge{
				Status:         "mfa_required",
				ChallengeToken: token,
				ExpiresAt:      time.Now().UTC().Add(ttl),
				Methods:        []string{string(model.MFAMethodTOTP), "backup_code"},
			},
		}, ErrMFARequired
	}

	pair, err := s.sessions.IssueTokenPair(user)
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("user_id", user.ID).Msg("user logged in")
	s.log.AuditLog(user.ID, model.AuditActionLogin, model.AuditResourceUser, user.ID, map[string]interface{}{
		"ip_address": req.IPAddress,
	})
	return &LoginResult{Tokens: pair}, nil
}

func (s *AuthService) isWhitelisted(ctx context.Context, userID, ip string) bool {
	if ip == "" {
		return false
	}
	check, err := s.mfa.CheckIPWhitelisted(ctx, userID, ip)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to check IP whitelist")
		return false
	}
	return check.IsWhitelisted
}

// MFALoginRequest completes a login that returned a challenge
type MFALoginRequest struct {
	ChallengeToken string
	Code           string
	IsBackupCode   bool
	IPAddress      string
}

// CompleteMFALogin verifies the second factor for a pending challenge and
// issues tokens. A wrong code keeps the challenge alive until it expires so
// the user can retry; lockout bounds the number of guesses. The returned
// VerifyResult is set whenever a code was checked.
func (s *AuthService) CompleteMFALogin(ctx context.Context, req MFALoginRequest) (*model.TokenPair, *model.VerifyResult, error) {
	userID, err := s.challenges.Peek(ctx, req.ChallengeToken)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, ErrInvalidChallenge
	}
	if err != nil {
		return nil, nil, err
	}

	var result *model.VerifyResult
	if req.IsBackupCode {
		result, err = s.mfa.VerifyBackupCode(ctx, userID, req.Code)
	} else {
		result, err = s.mfa.VerifyTOTP(ctx, userID, req.Code, false)
	}
	if err != nil {
		return nil, nil, err
	}
	if !result.Verified {
		if result.LockedUntil != nil {
			return nil, result, &LockoutError{LockedUntil: *result.LockedUntil}
		}
		return nil, result, ErrInvalidCode
	}

	// single use: a concurrent completion that got here first wins
	if _, err := s.challenges.Consume(ctx, req.ChallengeToken); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, result, ErrInvalidChallenge
		}
		return nil, result, err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, result, fmt.Errorf("failed to get user: %w", err)
	}

	pair, err := s.sessions.IssueTokenPair(user)
	if err != nil {
		return nil, result, err
	}

	s.log.Info().Str("user_id", user.ID).Msg("user logged in (MFA verified)")
	s.log.AuditLog(user.ID, model.AuditActionLogin, model.AuditResourceUser, user.ID, map[string]interface{}{
		"mfa_verified":    true,
		"via_backup_code": req.IsBackupCode,
		"ip_address":      req.IPAddress,
	})
	return pair, result, nil
}

// Logout revokes the access token and, when given, the refresh token
func (s *AuthService) Logout(ctx context.Context, accessToken, refreshToken string) error {
	claims, err := s.sessions.VerifyTokenType(ctx, accessToken, model.TokenTypeAccess)
	if err != nil {
		return err
	}
	if err := s.sessions.Revoke(ctx, accessToken); err != nil {
		return err
	}
	if refreshToken != "" {
		// a bad refresh token must not undo the access token revocation
		if err := s.sessions.Revoke(ctx, refreshToken); err != nil && !errors.Is(err, auth.ErrInvalidToken) {
			return err
		}
	}
	s.log.AuditLog(claims.Subject, model.AuditActionLogout, model.AuditResourceSession, claims.ID, nil)
	return nil
}

// CreateUser provisions a staff account
func (s *AuthService) CreateUser(ctx context.Context, email, password string, role model.Role) (*model.User, error) {
	normalized, err := auth.NormalizeEmail(email)
	if err != nil {
		return nil, ErrInvalidEmail
	}
	if role, err = model.ParseRole(string(role)); err != nil {
		return nil, err
	}
	if err := auth.ValidatePassword(password, s.cfg.Security.Password.MinLength); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPasswordTooWeak, err.Error())
	}

	hash, err := auth.HashPassword(password, s.argonParams)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &model.User{
		ID:           generateID("usr"),
		Email:        normalized,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailAlreadyExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.log.AuditLog(user.ID, model.AuditActionUserCreated, model.AuditResourceUser, user.ID, map[string]interface{}{
		"role": string(role),
	})
	return user, nil
}

// GetUser loads a user by ID
func (s *AuthService) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.users.GetByID(ctx, id)
}

// generateID creates a prefixed ID from a UUID without hyphens
func generateID(prefix string) string {
	clean := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return clean
	}
	return prefix + "_" + clean
}
