// Package testutil provides test helpers and fixtures.
package testutil

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/carenest/authcore/internal/auth"
	"github.com/carenest/authcore/internal/config"
	"github.com/carenest/authcore/internal/database"
	"github.com/carenest/authcore/internal/logger"
	"github.com/carenest/authcore/internal/model"
	"github.com/carenest/authcore/internal/repository"
)

// TestSecret is a token secret long enough for HMAC signing
const TestSecret = "test-secret-0123456789abcdefghijklmnopqrstuvwxyz"

// NewTestConfig returns defaults tuned for tests: sqlite in memory, cheap
// password hashing and a fixed token secret.
func NewTestConfig() *config.Config {
	cfg := config.Default()
	cfg.Database.Driver = config.DriverSQLite
	cfg.Database.Path = ":memory:"
	cfg.Security.Tokens.Secret = TestSecret
	cfg.Security.Password.Argon2Memory = 1024
	cfg.Security.Password.Argon2Iterations = 1
	cfg.Security.Password.Argon2Parallelism = 1
	cfg.Security.CORS.AllowedOrigins = nil
	return cfg
}

// NewTestDB creates an in-memory SQLite database with the schema applied
func NewTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(NewTestConfig().Database)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	require.NoError(t, database.Migrate(db))
	return db
}

// NewTestRedis starts an in-process Redis server. The returned miniredis
// handle lets tests move its clock forward.
func NewTestRedis(t *testing.T) (*database.Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return database.NewRedisFromClient(client), mr
}

// NewTestTokenService creates a TokenService with the test configuration
func NewTestTokenService(t *testing.T) *auth.TokenService {
	t.Helper()
	svc, err := auth.NewTokenService(NewTestConfig().Security.Tokens, logger.Nop())
	require.NoError(t, err)
	return svc
}

// NewTestUser stores a staff account with the given password
func NewTestUser(t *testing.T, repo *repository.UserRepository, email, password string, role model.Role) *model.User {
	t.Helper()
	hash, err := auth.HashPassword(password, auth.NewParams(1024, 1, 1))
	require.NoError(t, err)

	now := time.Now().UTC()
	user := &model.User{
		ID:           "usr_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, repo.Create(context.Background(), user))
	return user
}
