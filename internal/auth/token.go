package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/carenest/authcore/internal/config"
	"github.com/carenest/authcore/internal/logger"
	"github.com/carenest/authcore/internal/model"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretLength is the shortest HMAC key accepted, in bytes
const MinSecretLength = 32

var (
	// ErrInvalidToken is the only error token validation surfaces. The
	// underlying cause is logged, never returned.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrTokenRevoked is returned for a valid token found on the blacklist
	ErrTokenRevoked = errors.New("token has been revoked")
)

// protectedClaims are always computed by the service; caller-supplied
// values for them are discarded.
var protectedClaims = []string{"sub", "iat", "exp", "iss", "aud"}

// Claims is a validated token's payload
type Claims struct {
	Subject   string
	Issuer    string
	Audience  []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	ID        string
	Type      model.TokenType
	// Raw holds every claim, including caller-defined ones such as role
	Raw jwt.MapClaims
}

// String returns a custom string claim, or "" when absent
func (c *Claims) String(name string) string {
	v, _ := c.Raw[name].(string)
	return v
}

// TokenService signs and validates HMAC JWTs. The signing method is fixed by
// configuration; the token header never selects it.
type TokenService struct {
	cfg    config.TokenConfig
	method *jwt.SigningMethodHMAC
	key    []byte
	log    *logger.Logger
	now    func() time.Time
}

// NewTokenService creates a new TokenService
func NewTokenService(cfg config.TokenConfig, log *logger.Logger) (*TokenService, error) {
	var method *jwt.SigningMethodHMAC
	switch cfg.SigningAlgorithm {
	case "", "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", cfg.SigningAlgorithm)
	}

	if len(cfg.Secret) < MinSecretLength {
		return nil, fmt.Errorf("token secret must be at least %d bytes", MinSecretLength)
	}
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, errors.New("token issuer and audience are required")
	}

	return &TokenService{
		cfg:    cfg,
		method: method,
		key:    []byte(cfg.Secret),
		log:    log.WithComponent("token_service"),
		now:    time.Now,
	}, nil
}

// WithClock replaces the time source; tests use it to mint tokens in the past
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	clone := *s
	clone.now = now
	return &clone
}

// CreateToken signs a token for subject valid for ttl. claims are copied in
// first and then sub, iat, exp, iss and aud are set, so callers cannot
// override them. A jti is generated unless the caller supplied one.
func (s *TokenService) CreateToken(subject string, ttl time.Duration, claims map[string]interface{}) (string, error) {
	if subject == "" {
		return "", errors.New("token subject is required")
	}
	if ttl <= 0 {
		return "", errors.New("token ttl must be positive")
	}

	mc := jwt.MapClaims{}
	for k, v := range claims {
		mc[k] = v
	}
	for _, k := range protectedClaims {
		delete(mc, k)
	}

	now := s.now()
	mc["sub"] = subject
	mc["iat"] = jwt.NewNumericDate(now)
	mc["exp"] = jwt.NewNumericDate(now.Add(ttl))
	mc["iss"] = s.cfg.Issuer
	mc["aud"] = s.cfg.Audience
	if id, _ := mc["jti"].(string); id == "" {
		mc["jti"] = uuid.NewString()
	}

	signed, err := jwt.NewWithClaims(s.method, mc).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// CreateAccessToken signs a short-lived access token
func (s *TokenService) CreateAccessToken(subject string, claims map[string]interface{}) (string, error) {
	c := make(map[string]interface{}, len(claims)+1)
	for k, v := range claims {
		c[k] = v
	}
	c["type"] = string(model.TokenTypeAccess)
	return s.CreateToken(subject, s.cfg.AccessTokenTTL, c)
}

// CreateRefreshToken signs a long-lived refresh token carrying no custom claims
func (s *TokenService) CreateRefreshToken(subject string) (string, error) {
	return s.CreateToken(subject, s.cfg.RefreshTokenTTL, map[string]interface{}{
		"type": string(model.TokenTypeRefresh),
	})
}

// AccessTokenTTL returns the configured access token lifetime
func (s *TokenService) AccessTokenTTL() time.Duration {
	return s.cfg.AccessTokenTTL
}

// DecodeToken verifies the signature and every required claim. Any failure
// yields ErrInvalidToken.
func (s *TokenService) DecodeToken(tokenString string) (*Claims, error) {
	claims, err := s.decode(tokenString)
	if err != nil {
		s.log.Debug().Err(err).Msg("token rejected")
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *TokenService) decode(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("empty token")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(s.cfg.Leeway),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(s.now),
	)

	mc := jwt.MapClaims{}
	token, err := parser.ParseWithClaims(tokenString, mc, func(*jwt.Token) (interface{}, error) {
		return s.key, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token not valid")
	}

	sub, err := mc.GetSubject()
	if err != nil || sub == "" {
		return nil, errors.New("missing sub claim")
	}
	iat, err := mc.GetIssuedAt()
	if err != nil || iat == nil {
		return nil, errors.New("missing iat claim")
	}
	exp, err := mc.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, errors.New("missing exp claim")
	}
	iss, _ := mc.GetIssuer()
	aud, _ := mc.GetAudience()

	claims := &Claims{
		Subject:   sub,
		Issuer:    iss,
		Audience:  aud,
		IssuedAt:  iat.Time,
		ExpiresAt: exp.Time,
		Raw:       mc,
	}
	claims.ID, _ = mc["jti"].(string)

	if raw, ok := mc["type"].(string); ok {
		typ, err := model.ParseTokenType(raw)
		if err != nil {
			return nil, err
		}
		claims.Type = typ
	}

	return claims, nil
}
