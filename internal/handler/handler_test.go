package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carenest/authcore/internal/config"
	"github.com/carenest/authcore/internal/handler"
	"github.com/carenest/authcore/internal/logger"
	"github.com/carenest/authcore/internal/middleware"
	"github.com/carenest/authcore/internal/model"
	"github.com/carenest/authcore/internal/repository"
	"github.com/carenest/authcore/internal/router"
	"github.com/carenest/authcore/internal/service"
	"github.com/carenest/authcore/internal/testutil"
)

const password = "correct horse battery"

type testServer struct {
	handler http.Handler
	authSvc *service.AuthService
	cfg     *config.Config
}

func newTestServer(t *testing.T, opts ...func(*config.Config)) *testServer {
	t.Helper()
	cfg := testutil.NewTestConfig()
	cfg.Security.RateLimiting.Enabled = false
	for _, opt := range opts {
		opt(cfg)
	}
	log := logger.Nop()

	db := testutil.NewTestDB(t)
	rdb, _ := testutil.NewTestRedis(t)
	users := repository.NewUserRepository(db)

	mfaSvc := service.NewMFAService(repository.NewMFARepository(db), cfg, nil, log)
	sessionSvc := service.NewSessionService(testutil.NewTestTokenService(t), repository.NewBlacklistRepository(rdb), users, log)
	authSvc, err := service.NewAuthService(users, mfaSvc, sessionSvc, repository.NewChallengeRepository(rdb), cfg, log)
	require.NoError(t, err)

	h := handler.New(db, rdb, log, cfg, authSvc, mfaSvc, sessionSvc)
	mw := middleware.New(rdb, log, cfg)
	return &testServer{handler: router.New(h, mw, cfg, sessionSvc), authSvc: authSvc, cfg: cfg}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return s.doFrom(t, "192.0.2.10:40000", nil, method, path, token, body)
}

// doFrom sends a request from the given peer address with extra headers
func (s *testServer) doFrom(t *testing.T, remote string, header http.Header, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = remote
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) createUser(t *testing.T, email string, role model.Role) *model.User {
	t.Helper()
	user, err := s.authSvc.CreateUser(t.Context(), email, password, role)
	require.NoError(t, err)
	return user
}

func (s *testServer) login(t *testing.T, email string) model.TokenPair {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pair model.TokenPair
	decode(t, rec, &pair)
	require.NotEmpty(t, pair.AccessToken)
	return pair
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

type errorBody struct {
	Error struct {
		Code              string `json:"code"`
		Message           string `json:"message"`
		RemainingAttempts *int   `json:"remainingAttempts"`
		LockedUntil       string `json:"lockedUntil"`
	} `json:"error"`
}

func totpCode(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{Period: 30, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1})
	require.NoError(t, err)
	return code
}

func wrongCode(t *testing.T, secret string) string {
	t.Helper()
	now := time.Now()
	valid := map[string]bool{}
	for _, d := range []time.Duration{-60 * time.Second, -30 * time.Second, 0, 30 * time.Second, 60 * time.Second} {
		valid[totpCode(t, secret, now.Add(d))] = true
	}
	for _, c := range []string{"000000", "111111", "222222", "333333", "444444", "555555"} {
		if !valid[c] {
			return c
		}
	}
	t.Fatal("no wrong code available")
	return ""
}

// enableMFA runs setup and confirmation over HTTP and returns the secret
func (s *testServer) enableMFA(t *testing.T, token string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/mfa/setup", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var setup model.MFASetupResponse
	decode(t, rec, &setup)
	assert.NotEmpty(t, setup.QRCode)
	assert.Contains(t, setup.QRURI, "otpauth://totp/")

	rec = s.do(t, http.MethodPost, "/api/v1/mfa/enable", token, map[string]string{"code": totpCode(t, setup.Secret, time.Now())})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return setup.Secret
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var body handler.HealthResponse
	decode(t, rec, &body)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "healthy", body.Services["redis"])

	rec = s.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)
	s.createUser(t, "jane@example.com", model.RoleStaff)

	pair := s.login(t, "jane@example.com")
	assert.Equal(t, "Bearer", pair.TokenType)

	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "jane@example.com", "password": "nope nope nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var body errorBody
	decode(t, rec, &body)
	assert.Equal(t, "invalid_credentials", body.Error.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "jane@example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "a@b.c", "password": "x", "extra": "y"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/api/v1/mfa", "/api/v1/mfa/whitelist"} {
		rec := s.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
	}

	rec := s.do(t, http.MethodGet, "/api/v1/mfa", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshAndLogout(t *testing.T) {
	s := newTestServer(t)
	s.createUser(t, "jane@example.com", model.RoleStaff)
	pair := s.login(t, "jane@example.com")

	// a refresh token is not an access token
	rec := s.do(t, http.MethodGet, "/api/v1/mfa", pair.RefreshToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/token/refresh", "", map[string]string{"refreshToken": pair.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var next model.TokenPair
	decode(t, rec, &next)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/token/refresh", "", map[string]string{"refreshToken": pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "refresh tokens are single use")

	rec = s.do(t, http.MethodPost, "/api/v1/auth/logout", next.AccessToken, map[string]string{"refreshToken": next.RefreshToken})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/mfa", next.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/v1/auth/token/refresh", "", map[string]string{"refreshToken": next.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMFAFlow(t *testing.T) {
	s := newTestServer(t)
	s.createUser(t, "jane@example.com", model.RoleStaff)
	pair := s.login(t, "jane@example.com")

	rec := s.do(t, http.MethodGet, "/api/v1/mfa", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status model.MFAStatus
	decode(t, rec, &status)
	assert.False(t, status.Enabled)

	secret := s.enableMFA(t, pair.AccessToken)

	rec = s.do(t, http.MethodPost, "/api/v1/mfa/setup", pair.AccessToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// login now yields a challenge
	rec = s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "jane@example.com", "password": password})
	require.Equal(t, http.StatusOK, rec.Code)
	var challenge model.MFAChallenge
	decode(t, rec, &challenge)
	assert.Equal(t, "mfa_required", challenge.Status)
	require.NotEmpty(t, challenge.ChallengeToken)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/mfa", "", map[string]interface{}{
		"challengeToken": challenge.ChallengeToken,
		"code":           wrongCode(t, secret),
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var body errorBody
	decode(t, rec, &body)
	assert.Equal(t, "invalid_code", body.Error.Code)
	require.NotNil(t, body.Error.RemainingAttempts)
	assert.Equal(t, 4, *body.Error.RemainingAttempts)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/mfa", "", map[string]interface{}{
		"challengeToken": challenge.ChallengeToken,
		"code":           totpCode(t, secret, time.Now()),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var mfaPair model.TokenPair
	decode(t, rec, &mfaPair)
	assert.NotEmpty(t, mfaPair.AccessToken)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/mfa", "", map[string]interface{}{
		"challengeToken": challenge.ChallengeToken,
		"code":           totpCode(t, secret, time.Now()),
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	decode(t, rec, &body)
	assert.Equal(t, "invalid_challenge", body.Error.Code)

	// backup codes
	rec = s.do(t, http.MethodPost, "/api/v1/mfa/backup-codes", mfaPair.AccessToken, map[string]interface{}{
		"code":  totpCode(t, secret, time.Now()),
		"count": 500,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	decode(t, rec, &body)
	assert.Equal(t, "validation_error", body.Error.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/mfa/backup-codes", mfaPair.AccessToken, map[string]interface{}{
		"code":  totpCode(t, secret, time.Now()),
		"count": 2,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var codes model.BackupCodesResponse
	decode(t, rec, &codes)
	require.Len(t, codes.Codes, 2)

	rec = s.do(t, http.MethodPost, "/api/v1/mfa/verify", mfaPair.AccessToken, map[string]interface{}{
		"code":         codes.Codes[0],
		"isBackupCode": true,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	// disable with the other backup code
	rec = s.do(t, http.MethodPost, "/api/v1/mfa/disable", mfaPair.AccessToken, map[string]interface{}{
		"code":         codes.Codes[1],
		"isBackupCode": true,
	})
	assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	s.login(t, "jane@example.com")
}

func TestMFALockout(t *testing.T) {
	s := newTestServer(t)
	s.createUser(t, "jane@example.com", model.RoleStaff)
	pair := s.login(t, "jane@example.com")
	secret := s.enableMFA(t, pair.AccessToken)
	wrong := wrongCode(t, secret)

	var rec *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		rec = s.do(t, http.MethodPost, "/api/v1/mfa/verify", pair.AccessToken, map[string]string{"code": wrong})
	}
	assert.Equal(t, http.StatusLocked, rec.Code)
	var body errorBody
	decode(t, rec, &body)
	assert.Equal(t, "mfa_locked", body.Error.Code)
	lockedUntil, err := time.Parse(time.RFC3339, body.Error.LockedUntil)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), lockedUntil, 5*time.Second)

	rec = s.do(t, http.MethodPost, "/api/v1/mfa/verify", pair.AccessToken, map[string]string{"code": totpCode(t, secret, time.Now())})
	assert.Equal(t, http.StatusLocked, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/mfa", pair.AccessToken, nil)
	var status model.MFAStatus
	decode(t, rec, &status)
	assert.True(t, status.Locked)
}

func TestWhitelistEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.createUser(t, "jane@example.com", model.RoleStaff)
	pair := s.login(t, "jane@example.com")

	rec := s.do(t, http.MethodPost, "/api/v1/mfa/whitelist", pair.AccessToken, map[string]string{"ipAddress": "192.0.2.0/24"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "requires MFA")

	s.enableMFA(t, pair.AccessToken)

	rec = s.do(t, http.MethodPost, "/api/v1/mfa/whitelist", pair.AccessToken, map[string]string{"ipAddress": "300.1.1.1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorBody
	decode(t, rec, &body)
	assert.Equal(t, "invalid_ip", body.Error.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/mfa/whitelist", pair.AccessToken, map[string]string{"ipAddress": "192.0.2.0/24"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var entry model.IPWhitelistEntry
	decode(t, rec, &entry)

	// the test client address is inside the range
	s.login(t, "jane@example.com")

	rec = s.do(t, http.MethodGet, "/api/v1/mfa/whitelist", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Entries []model.IPWhitelistEntry `json:"entries"`
	}
	decode(t, rec, &list)
	require.Len(t, list.Entries, 1)
	assert.Equal(t, entry.ID, list.Entries[0].ID)

	rec = s.do(t, http.MethodDelete, "/api/v1/mfa/whitelist/"+entry.ID, pair.AccessToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodDelete, "/api/v1/mfa/whitelist/"+entry.ID, pair.AccessToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogin_ForwardedForFromUntrustedPeer(t *testing.T) {
	s := newTestServer(t)
	s.createUser(t, "jane@example.com", model.RoleStaff)
	pair := s.login(t, "jane@example.com")
	s.enableMFA(t, pair.AccessToken)

	rec := s.do(t, http.MethodPost, "/api/v1/mfa/whitelist", pair.AccessToken, map[string]string{"ipAddress": "10.0.0.0/24"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	header := http.Header{}
	header.Set("X-Forwarded-For", "10.0.0.50")
	header.Set("X-Real-IP", "10.0.0.50")
	rec = s.doFrom(t, "203.0.113.66:5555", header, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"email": "jane@example.com", "password": password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var challenge model.MFAChallenge
	decode(t, rec, &challenge)
	assert.Equal(t, "mfa_required", challenge.Status)
	assert.NotEmpty(t, challenge.ChallengeToken)
}

func TestLogin_ForwardedForFromTrustedProxy(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.Server.TrustedProxies = []string{"203.0.113.0/24"}
	})
	s.createUser(t, "jane@example.com", model.RoleStaff)
	pair := s.login(t, "jane@example.com")
	s.enableMFA(t, pair.AccessToken)

	rec := s.do(t, http.MethodPost, "/api/v1/mfa/whitelist", pair.AccessToken, map[string]string{"ipAddress": "10.0.0.0/24"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	header := http.Header{}
	header.Set("X-Forwarded-For", "10.0.0.50")
	rec = s.doFrom(t, "203.0.113.66:5555", header, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"email": "jane@example.com", "password": password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tokens model.TokenPair
	decode(t, rec, &tokens)
	assert.NotEmpty(t, tokens.AccessToken, "whitelisted client behind a trusted proxy skips the challenge")
}

func TestAdminResetLockout(t *testing.T) {
	s := newTestServer(t)
	staff := s.createUser(t, "jane@example.com", model.RoleStaff)
	s.createUser(t, "boss@example.com", model.RoleAdmin)

	staffPair := s.login(t, "jane@example.com")
	secret := s.enableMFA(t, staffPair.AccessToken)
	wrong := wrongCode(t, secret)
	for i := 0; i < 5; i++ {
		s.do(t, http.MethodPost, "/api/v1/mfa/verify", staffPair.AccessToken, map[string]string{"code": wrong})
	}

	path := "/api/v1/admin/users/" + staff.ID + "/mfa/reset-lockout"
	rec := s.do(t, http.MethodPost, path, staffPair.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	adminPair := s.login(t, "boss@example.com")
	rec = s.do(t, http.MethodPost, path, adminPair.AccessToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/v1/mfa/verify", staffPair.AccessToken, map[string]string{"code": totpCode(t, secret, time.Now())})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/admin/users/usr_missing/mfa/reset-lockout", adminPair.AccessToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
