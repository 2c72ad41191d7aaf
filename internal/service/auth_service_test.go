package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carenest/authcore/internal/auth"
	"github.com/carenest/authcore/internal/logger"
	"github.com/carenest/authcore/internal/model"
	"github.com/carenest/authcore/internal/repository"
	"github.com/carenest/authcore/internal/testutil"
)

const testPassword = "correct horse battery"

type authFixture struct {
	*mfaFixture
	auth     *AuthService
	sessions *SessionService
	users    *repository.UserRepository
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	cfg := testutil.NewTestConfig()
	db := testutil.NewTestDB(t)
	rdb, _ := testutil.NewTestRedis(t)

	users := repository.NewUserRepository(db)
	mfaRepo := repository.NewMFARepository(db)
	mf := &mfaFixture{repo: mfaRepo, mailer: &fakeMailer{}}
	mf.clock = &clock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	mf.svc = NewMFAService(mfaRepo, cfg, mf.mailer, logger.Nop()).WithClock(mf.clock.Now)

	sessions := NewSessionService(testutil.NewTestTokenService(t), repository.NewBlacklistRepository(rdb), users, logger.Nop())
	svc, err := NewAuthService(users, mf.svc, sessions, repository.NewChallengeRepository(rdb), cfg, logger.Nop())
	require.NoError(t, err)

	return &authFixture{mfaFixture: mf, auth: svc, sessions: sessions, users: users}
}

func (f *authFixture) createUser(t *testing.T, email string) *model.User {
	t.Helper()
	user, err := f.auth.CreateUser(context.Background(), email, testPassword, model.RoleStaff)
	require.NoError(t, err)
	return user
}

func TestCreateUser(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	user, err := f.auth.CreateUser(ctx, "  Jane@Example.COM ", testPassword, model.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", user.Email)
	assert.Equal(t, model.RoleAdmin, user.Role)
	assert.NotContains(t, user.PasswordHash, testPassword)

	_, err = f.auth.CreateUser(ctx, "jane@example.com", testPassword, model.RoleStaff)
	assert.ErrorIs(t, err, ErrEmailAlreadyExists)

	_, err = f.auth.CreateUser(ctx, "nope", testPassword, model.RoleStaff)
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, err = f.auth.CreateUser(ctx, "kim@example.com", "short", model.RoleStaff)
	assert.ErrorIs(t, err, ErrPasswordTooWeak)

	_, err = f.auth.CreateUser(ctx, "kim@example.com", testPassword, model.Role("owner"))
	assert.Error(t, err)
}

func TestLogin_WithoutMFA(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "jane@example.com")

	result, err := f.auth.Login(ctx, LoginRequest{Email: "jane@example.com", Password: testPassword, IPAddress: "10.0.0.1"})
	require.NoError(t, err)
	require.NotNil(t, result.Tokens)
	assert.Nil(t, result.MFAChallenge)

	claims, err := f.sessions.VerifyTokenType(ctx, result.Tokens.AccessToken, model.TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.Subject)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.createUser(t, "jane@example.com")

	_, err := f.auth.Login(ctx, LoginRequest{Email: "jane@example.com", Password: "wrong password!"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.auth.Login(ctx, LoginRequest{Email: "ghost@example.com", Password: testPassword})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_MFAChallenge(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "jane@example.com")
	secret := f.enable(t, user.ID, nil)

	result, err := f.auth.Login(ctx, LoginRequest{Email: "jane@example.com", Password: testPassword, IPAddress: "192.0.2.10"})
	assert.ErrorIs(t, err, ErrMFARequired)
	require.NotNil(t, result)
	require.NotNil(t, result.MFAChallenge)
	assert.Nil(t, result.Tokens)
	assert.Equal(t, "mfa_required", result.MFAChallenge.Status)
	assert.Len(t, result.MFAChallenge.ChallengeToken, 64)

	pair, verify, err := f.auth.CompleteMFALogin(ctx, MFALoginRequest{
		ChallengeToken: result.MFAChallenge.ChallengeToken,
		Code:           f.code(t, secret),
	})
	require.NoError(t, err)
	assert.True(t, verify.Verified)
	require.NotNil(t, pair)

	// the challenge is spent
	_, _, err = f.auth.CompleteMFALogin(ctx, MFALoginRequest{
		ChallengeToken: result.MFAChallenge.ChallengeToken,
		Code:           f.code(t, secret),
	})
	assert.ErrorIs(t, err, ErrInvalidChallenge)
}

func TestCompleteMFALogin_WrongCodeKeepsChallenge(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "jane@example.com")
	secret := f.enable(t, user.ID, nil)

	result, err := f.auth.Login(ctx, LoginRequest{Email: "jane@example.com", Password: testPassword})
	require.ErrorIs(t, err, ErrMFARequired)
	token := result.MFAChallenge.ChallengeToken

	_, verify, err := f.auth.CompleteMFALogin(ctx, MFALoginRequest{ChallengeToken: token, Code: f.wrongCode(t, secret)})
	assert.ErrorIs(t, err, ErrInvalidCode)
	require.NotNil(t, verify)
	assert.Equal(t, 4, verify.RemainingAttempts)

	pair, _, err := f.auth.CompleteMFALogin(ctx, MFALoginRequest{ChallengeToken: token, Code: f.code(t, secret)})
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
}

func TestCompleteMFALogin_Lockout(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "jane@example.com")
	secret := f.enable(t, user.ID, nil)

	result, err := f.auth.Login(ctx, LoginRequest{Email: "jane@example.com", Password: testPassword})
	require.ErrorIs(t, err, ErrMFARequired)
	req := MFALoginRequest{ChallengeToken: result.MFAChallenge.ChallengeToken, Code: f.wrongCode(t, secret)}

	for i := 0; i < 4; i++ {
		_, _, err = f.auth.CompleteMFALogin(ctx, req)
		require.ErrorIs(t, err, ErrInvalidCode)
	}
	_, verify, err := f.auth.CompleteMFALogin(ctx, req)
	var lockErr *LockoutError
	require.ErrorAs(t, err, &lockErr)
	require.NotNil(t, verify.LockedUntil)
	assert.Equal(t, *verify.LockedUntil, lockErr.LockedUntil)

	// even the right code is refused while locked
	req.Code = f.code(t, secret)
	_, _, err = f.auth.CompleteMFALogin(ctx, req)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestCompleteMFALogin_BackupCode(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "jane@example.com")
	secret := f.enable(t, user.ID, nil)

	codes, err := f.svc.GenerateBackupCodes(ctx, user.ID, f.code(t, secret), 2)
	require.NoError(t, err)

	result, err := f.auth.Login(ctx, LoginRequest{Email: "jane@example.com", Password: testPassword})
	require.ErrorIs(t, err, ErrMFARequired)

	pair, _, err := f.auth.CompleteMFALogin(ctx, MFALoginRequest{
		ChallengeToken: result.MFAChallenge.ChallengeToken,
		Code:           codes.Codes[0],
		IsBackupCode:   true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
}

func TestCompleteMFALogin_UnknownChallenge(t *testing.T) {
	f := newAuthFixture(t)
	_, _, err := f.auth.CompleteMFALogin(context.Background(), MFALoginRequest{ChallengeToken: "deadbeef", Code: "123456"})
	assert.ErrorIs(t, err, ErrInvalidChallenge)
}

func TestLogin_WhitelistBypass(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "jane@example.com")
	f.enable(t, user.ID, nil)

	_, err := f.svc.AddIPToWhitelist(ctx, user.ID, "10.0.0.0/24", nil)
	require.NoError(t, err)

	result, err := f.auth.Login(ctx, LoginRequest{Email: "jane@example.com", Password: testPassword, IPAddress: "10.0.0.50"})
	require.NoError(t, err)
	assert.True(t, result.WhitelistBypass)
	require.NotNil(t, result.Tokens)

	_, err = f.auth.Login(ctx, LoginRequest{Email: "jane@example.com", Password: testPassword, IPAddress: "10.0.1.50"})
	assert.ErrorIs(t, err, ErrMFARequired)
}

func TestLogout(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.createUser(t, "jane@example.com")

	result, err := f.auth.Login(ctx, LoginRequest{Email: "jane@example.com", Password: testPassword})
	require.NoError(t, err)
	pair := result.Tokens

	require.NoError(t, f.auth.Logout(ctx, pair.AccessToken, pair.RefreshToken))

	_, err = f.sessions.VerifyToken(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, auth.ErrTokenRevoked)
	_, err = f.sessions.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrTokenRevoked)

	assert.ErrorIs(t, f.auth.Logout(ctx, pair.AccessToken, ""), auth.ErrTokenRevoked)
	assert.ErrorIs(t, f.auth.Logout(ctx, pair.RefreshToken, ""), auth.ErrTokenRevoked)
}

func TestLogout_IgnoresBadRefreshToken(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.createUser(t, "jane@example.com")

	result, err := f.auth.Login(ctx, LoginRequest{Email: "jane@example.com", Password: testPassword})
	require.NoError(t, err)

	require.NoError(t, f.auth.Logout(ctx, result.Tokens.AccessToken, "garbage"))
	_, err = f.sessions.VerifyToken(ctx, result.Tokens.AccessToken)
	assert.ErrorIs(t, err, auth.ErrTokenRevoked)
}
