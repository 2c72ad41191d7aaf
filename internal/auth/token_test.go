package auth_test

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carenest/authcore/internal/auth"
	"github.com/carenest/authcore/internal/config"
	"github.com/carenest/authcore/internal/logger"
	"github.com/carenest/authcore/internal/model"
)

const testSecret = "test-secret-0123456789abcdefghijklmnopqrstuvwxyz"

func testTokenConfig() config.TokenConfig {
	return config.TokenConfig{
		Secret:           testSecret,
		SigningAlgorithm: "HS256",
		Issuer:           "carenest",
		Audience:         "carenest-api",
		AccessTokenTTL:   15 * time.Minute,
		RefreshTokenTTL:  7 * 24 * time.Hour,
	}
}

func newTokenService(t *testing.T) *auth.TokenService {
	t.Helper()
	svc, err := auth.NewTokenService(testTokenConfig(), logger.Nop())
	require.NoError(t, err)
	return svc
}

func TestNewTokenService_RejectsWeakConfig(t *testing.T) {
	cfg := testTokenConfig()
	cfg.Secret = "too-short"
	_, err := auth.NewTokenService(cfg, logger.Nop())
	assert.Error(t, err)

	cfg = testTokenConfig()
	cfg.SigningAlgorithm = "RS256"
	_, err = auth.NewTokenService(cfg, logger.Nop())
	assert.Error(t, err)

	cfg = testTokenConfig()
	cfg.Audience = ""
	_, err = auth.NewTokenService(cfg, logger.Nop())
	assert.Error(t, err)
}

func TestCreateAndDecodeToken(t *testing.T) {
	svc := newTokenService(t)

	token, err := svc.CreateToken("usr_1", time.Hour, map[string]interface{}{"role": "admin"})
	require.NoError(t, err)

	claims, err := svc.DecodeToken(token)
	require.NoError(t, err)
	assert.Equal(t, "usr_1", claims.Subject)
	assert.Equal(t, "carenest", claims.Issuer)
	assert.Equal(t, []string{"carenest-api"}, claims.Audience)
	assert.Equal(t, "admin", claims.String("role"))
	assert.NotEmpty(t, claims.ID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt, 2*time.Second)
	assert.WithinDuration(t, time.Now(), claims.IssuedAt, 2*time.Second)
}

func TestAccessAndRefreshTokenTypes(t *testing.T) {
	svc := newTokenService(t)

	access, err := svc.CreateAccessToken("usr_1", map[string]interface{}{"type": "refresh"})
	require.NoError(t, err)
	refresh, err := svc.CreateRefreshToken("usr_1")
	require.NoError(t, err)

	ac, err := svc.DecodeToken(access)
	require.NoError(t, err)
	assert.Equal(t, model.TokenTypeAccess, ac.Type)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), ac.ExpiresAt, 2*time.Second)

	rc, err := svc.DecodeToken(refresh)
	require.NoError(t, err)
	assert.Equal(t, model.TokenTypeRefresh, rc.Type)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), rc.ExpiresAt, 2*time.Second)
}

func TestCreateToken_ProtectedClaimsCannotBeOverridden(t *testing.T) {
	svc := newTokenService(t)

	token, err := svc.CreateToken("usr_1", time.Hour, map[string]interface{}{
		"sub": "usr_admin",
		"exp": time.Now().Add(100 * 365 * 24 * time.Hour).Unix(),
		"iat": 0,
		"iss": "attacker",
		"aud": "other-api",
	})
	require.NoError(t, err)

	claims, err := svc.DecodeToken(token)
	require.NoError(t, err)
	assert.Equal(t, "usr_1", claims.Subject)
	assert.Equal(t, "carenest", claims.Issuer)
	assert.Equal(t, []string{"carenest-api"}, claims.Audience)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt, 2*time.Second)
}

func TestCreateToken_InvalidInput(t *testing.T) {
	svc := newTokenService(t)

	_, err := svc.CreateToken("", time.Hour, nil)
	assert.Error(t, err)

	_, err = svc.CreateToken("usr_1", 0, nil)
	assert.Error(t, err)
}

func TestDecodeToken_Expired(t *testing.T) {
	svc := newTokenService(t)
	past := svc.WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) })

	token, err := past.CreateToken("usr_1", time.Hour, nil)
	require.NoError(t, err)

	_, err = svc.DecodeToken(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestDecodeToken_IssuedInFuture(t *testing.T) {
	svc := newTokenService(t)
	future := svc.WithClock(func() time.Time { return time.Now().Add(time.Hour) })

	token, err := future.CreateToken("usr_1", time.Hour, nil)
	require.NoError(t, err)

	_, err = svc.DecodeToken(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestDecodeToken_Tampered(t *testing.T) {
	svc := newTokenService(t)

	token, err := svc.CreateToken("usr_1", time.Hour, map[string]interface{}{"role": "staff"})
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	for seg := range parts {
		for _, pos := range []int{0, len(parts[seg]) / 2, len(parts[seg]) - 1} {
			tampered := make([]string, 3)
			copy(tampered, parts)
			b := []byte(tampered[seg])
			if b[pos] == 'A' {
				b[pos] = 'B'
			} else {
				b[pos] = 'A'
			}
			tampered[seg] = string(b)

			_, err := svc.DecodeToken(strings.Join(tampered, "."))
			assert.ErrorIs(t, err, auth.ErrInvalidToken, "segment %d position %d", seg, pos)
		}
	}
}

func TestDecodeToken_ForgedClaims(t *testing.T) {
	svc := newTokenService(t)

	token, err := svc.CreateToken("usr_1", time.Hour, map[string]interface{}{"role": "staff"})
	require.NoError(t, err)
	parts := strings.Split(token, ".")

	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"usr_1","role":"admin","iss":"carenest","aud":"carenest-api","iat":1,"exp":9999999999}`))
	_, err = svc.DecodeToken(parts[0] + "." + payload + "." + parts[2])
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestDecodeToken_AlgorithmNone(t *testing.T) {
	svc := newTokenService(t)

	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "usr_1",
		"iss": "carenest",
		"aud": "carenest-api",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.DecodeToken(signed)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestDecodeToken_OtherHMACAlgorithm(t *testing.T) {
	svc := newTokenService(t)

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub": "usr_1",
		"iss": "carenest",
		"aud": "carenest-api",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = svc.DecodeToken(signed)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestDecodeToken_WrongIssuerOrAudience(t *testing.T) {
	svc := newTokenService(t)

	otherIssuer := testTokenConfig()
	otherIssuer.Issuer = "someone-else"
	issuerSvc, err := auth.NewTokenService(otherIssuer, logger.Nop())
	require.NoError(t, err)

	otherAudience := testTokenConfig()
	otherAudience.Audience = "billing-api"
	audienceSvc, err := auth.NewTokenService(otherAudience, logger.Nop())
	require.NoError(t, err)

	for name, other := range map[string]*auth.TokenService{"issuer": issuerSvc, "audience": audienceSvc} {
		t.Run(name, func(t *testing.T) {
			token, err := other.CreateToken("usr_1", time.Hour, nil)
			require.NoError(t, err)

			_, err = svc.DecodeToken(token)
			assert.ErrorIs(t, err, auth.ErrInvalidToken)
		})
	}
}

func TestDecodeToken_MissingRequiredClaims(t *testing.T) {
	svc := newTokenService(t)
	now := time.Now()

	full := func() jwt.MapClaims {
		return jwt.MapClaims{
			"sub": "usr_1",
			"iss": "carenest",
			"aud": "carenest-api",
			"iat": now.Unix(),
			"exp": now.Add(time.Hour).Unix(),
		}
	}

	for _, missing := range []string{"sub", "iat", "exp", "iss", "aud"} {
		t.Run(missing, func(t *testing.T) {
			claims := full()
			delete(claims, missing)
			signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
			require.NoError(t, err)

			_, err = svc.DecodeToken(signed)
			assert.ErrorIs(t, err, auth.ErrInvalidToken)
		})
	}
}

func TestDecodeToken_Malformed(t *testing.T) {
	svc := newTokenService(t)

	for _, token := range []string{"", "not-a-token", "a.b", "a.b.c", "..", "a.b.c.d"} {
		_, err := svc.DecodeToken(token)
		assert.ErrorIs(t, err, auth.ErrInvalidToken, "token %q", token)
	}
}

func TestDecodeToken_DifferentSecret(t *testing.T) {
	svc := newTokenService(t)

	cfg := testTokenConfig()
	cfg.Secret = strings.Repeat("x", 40)
	other, err := auth.NewTokenService(cfg, logger.Nop())
	require.NoError(t, err)

	token, err := other.CreateToken("usr_1", time.Hour, nil)
	require.NoError(t, err)

	_, err = svc.DecodeToken(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}
