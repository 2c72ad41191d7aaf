package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/carenest/authcore/internal/database"
	"github.com/carenest/authcore/internal/model"
	"github.com/redis/go-redis/v9"
)

const blacklistKeyPrefix = "blacklist:"

// ErrInvalidExpiry is returned when a token is blacklisted with an expiry
// that is unset or not in the future
var ErrInvalidExpiry = errors.New("blacklist expiry must be a future time")

// BlacklistRepository stores revoked tokens in Redis until they would have
// expired anyway
type BlacklistRepository struct {
	rdb *database.Redis
}

// NewBlacklistRepository creates a new BlacklistRepository
func NewBlacklistRepository(rdb *database.Redis) *BlacklistRepository {
	return &BlacklistRepository{rdb: rdb}
}

func blacklistKey(token string) string {
	return blacklistKeyPrefix + token
}

// Add revokes token until expiresAt. The entry is written with a single SET
// carrying its TTL, so it can never exist without one.
func (r *BlacklistRepository) Add(ctx context.Context, token, userID string, expiresAt time.Time) error {
	value, ttl, err := blacklistEntry(userID, expiresAt)
	if err != nil {
		return err
	}
	if err := r.rdb.SetWithTTL(ctx, blacklistKey(token), value, ttl); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	return nil
}

// AddIfAbsent revokes token like Add but only when no entry exists. It
// reports false when the token was already revoked, which lets exactly one
// caller win when the same token is spent concurrently.
func (r *BlacklistRepository) AddIfAbsent(ctx context.Context, token, userID string, expiresAt time.Time) (bool, error) {
	value, ttl, err := blacklistEntry(userID, expiresAt)
	if err != nil {
		return false, err
	}
	added, err := r.rdb.SetNXWithTTL(ctx, blacklistKey(token), value, ttl)
	if err != nil {
		return false, fmt.Errorf("failed to blacklist token: %w", err)
	}
	return added, nil
}

// blacklistEntry builds the stored value and a whole-second TTL
func blacklistEntry(userID string, expiresAt time.Time) (string, time.Duration, error) {
	if expiresAt.IsZero() {
		return "", 0, ErrInvalidExpiry
	}

	now := time.Now()
	secs := int64(expiresAt.Sub(now) / time.Second)
	if secs <= 0 {
		return "", 0, ErrInvalidExpiry
	}
	return userID + ":" + strconv.FormatInt(now.Unix(), 10), time.Duration(secs) * time.Second, nil
}

// IsBlacklisted reports whether token has been revoked
func (r *BlacklistRepository) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	n, err := r.rdb.Exists(ctx, blacklistKey(token))
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return n > 0, nil
}

// Remove lifts a revocation. It reports whether an entry existed.
func (r *BlacklistRepository) Remove(ctx context.Context, token string) (bool, error) {
	n, err := r.rdb.Delete(ctx, blacklistKey(token))
	if err != nil {
		return false, fmt.Errorf("failed to remove blacklist entry: %w", err)
	}
	return n > 0, nil
}

// Info returns who revoked token, when, and how long the entry has left. It
// returns nil when the token is not blacklisted.
func (r *BlacklistRepository) Info(ctx context.Context, token string) (*model.BlacklistInfo, error) {
	key := blacklistKey(token)

	pipe := r.rdb.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read blacklist entry: %w", err)
	}

	value, err := getCmd.Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blacklist entry: %w", err)
	}

	info := &model.BlacklistInfo{TTL: ttlCmd.Val()}

	// user IDs may contain ':'; the timestamp never does
	sep := strings.LastIndexByte(value, ':')
	if sep < 0 {
		info.UserID = value
		return info, nil
	}
	info.UserID = value[:sep]
	if ts, err := strconv.ParseInt(value[sep+1:], 10, 64); err == nil {
		info.BlacklistedAt = time.Unix(ts, 0).UTC()
	}
	return info, nil
}
