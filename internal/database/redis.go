package database

import (
	"context"
	"fmt"
	"time"

	"github.com/carenest/authcore/internal/config"
	"github.com/redis/go-redis/v9"
)

// Redis wraps the client shared by the revocation list, MFA challenges and
// the rate limiter
type Redis struct {
	*redis.Client
}

// NewRedis connects to Redis and verifies the connection with a PING
func NewRedis(cfg config.RedisConfig) (*Redis, error) {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 50
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  dialTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     poolSize,
		MinIdleConns: poolSize / 10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis at %s: %w", cfg.Addr(), err)
	}

	return NewRedisFromClient(client), nil
}

// NewRedisFromClient wraps an existing client
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{Client: client}
}

// HealthCheck verifies the Redis connection is healthy
func (r *Redis) HealthCheck(ctx context.Context) error {
	return r.Ping(ctx).Err()
}

// SetWithTTL writes key with an expiry in one SET command, so the key never
// exists without a TTL
func (r *Redis) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return r.Set(ctx, key, value, ttl).Err()
}

// SetNXWithTTL writes key with an expiry only if it does not exist yet. It
// reports whether this call created the key.
func (r *Redis) SetNXWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	return r.SetNX(ctx, key, value, ttl).Result()
}

// GetString retrieves a string value
func (r *Redis) GetString(ctx context.Context, key string) (string, error) {
	return r.Get(ctx, key).Result()
}

// TakeString atomically reads and deletes a key
func (r *Redis) TakeString(ctx context.Context, key string) (string, error) {
	return r.GetDel(ctx, key).Result()
}

// Delete removes keys and reports how many existed
func (r *Redis) Delete(ctx context.Context, keys ...string) (int64, error) {
	return r.Del(ctx, keys...).Result()
}

// Exists reports how many of keys exist
func (r *Redis) Exists(ctx context.Context, keys ...string) (int64, error) {
	return r.Client.Exists(ctx, keys...).Result()
}

// IncrWindow increments a fixed-window counter and returns the new count and
// the time left in the window. A counter found without an expiry gets one,
// so a lost EXPIRE cannot pin a client at its limit.
func (r *Redis) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	if _, err := r.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		ttl = pipe.TTL(ctx, key)
		return nil
	}); err != nil {
		return 0, 0, err
	}

	left := ttl.Val()
	if left < 0 {
		if err := r.Client.Expire(ctx, key, window).Err(); err != nil {
			return incr.Val(), window, err
		}
		left = window
	}
	return incr.Val(), left, nil
}
