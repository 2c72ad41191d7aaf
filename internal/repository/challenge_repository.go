package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/carenest/authcore/internal/database"
	"github.com/redis/go-redis/v9"
)

const challengeKeyPrefix = "mfa_challenge:"

// ChallengeRepository holds pending MFA login challenges in Redis
type ChallengeRepository struct {
	rdb *database.Redis
}

// NewChallengeRepository creates a new ChallengeRepository
func NewChallengeRepository(rdb *database.Redis) *ChallengeRepository {
	return &ChallengeRepository{rdb: rdb}
}

// Create stores a challenge for userID and returns its opaque token
func (r *ChallengeRepository) Create(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate challenge token: %w", err)
	}
	token := hex.EncodeToString(buf)

	if err := r.rdb.SetWithTTL(ctx, challengeKeyPrefix+token, userID, ttl); err != nil {
		return "", fmt.Errorf("failed to store challenge: %w", err)
	}
	return token, nil
}

// Peek returns the user a challenge belongs to without consuming it
func (r *ChallengeRepository) Peek(ctx context.Context, token string) (string, error) {
	userID, err := r.rdb.GetString(ctx, challengeKeyPrefix+token)
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read challenge: %w", err)
	}
	return userID, nil
}

// Consume deletes the challenge and returns its user. A challenge can be
// consumed once.
func (r *ChallengeRepository) Consume(ctx context.Context, token string) (string, error) {
	userID, err := r.rdb.TakeString(ctx, challengeKeyPrefix+token)
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to consume challenge: %w", err)
	}
	return userID, nil
}
