package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oggyb/crewsnow/internal/config"
	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	Client *redis.Client
}

// NewRedisCache initializes Redis client from config.
// Only Addr is mandatory, Password/DB are optional.
func NewRedisCache(cfg *config.Config) *RedisCache {
	opts := &redis.Options{
		Addr:         cfg.Redis.Addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}
	if cfg.Redis.Password != "" {
		opts.Password = cfg.Redis.Password
	}
	if cfg.Redis.DB != 0 {
		opts.DB = cfg.Redis.DB
	}
	return &RedisCache{Client: redis.NewClient(opts)}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

// GetJSON loads key into dst. A miss returns (false, nil).
func (c *RedisCache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := c.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		// corrupt entry: drop it and report a miss
		_ = c.Client.Del(ctx, key).Err()
		return false, nil
	}
	return true, nil
}

// SetJSON stores v under key with the given TTL.
func (c *RedisCache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	return c.Client.Set(ctx, key, b, ttl).Err()
}

// AcquireWindow claims key for window. It returns false when the key is
// still held by an earlier claim. The check and the claim are one SET NX PX,
// so every instance sharing this Redis sees the same window.
func (c *RedisCache) AcquireWindow(ctx context.Context, key string, window time.Duration) (bool, error) {
	return c.Client.SetNX(ctx, key, time.Now().UnixMilli(), window).Result()
}

// KeyForLikeSpacing is the per-user like spacing window key.
func (c *RedisCache) KeyForLikeSpacing(userID string) string {
	return fmt.Sprintf("likes:spacing:%s", userID)
}

// KeyForCandidates is the raw scored-candidate cache key for a user and fetch size.
func (c *RedisCache) KeyForCandidates(userID string, limit int) string {
	return fmt.Sprintf("candidates:%s:%d", userID, limit)
}

// Del removes keys. Missing keys are not an error.
func (c *RedisCache) Del(ctx context.Context, keys ...string) error {
	return c.Client.Del(ctx, keys...).Err()
}

// KeyForLikeCount is the cached count of likes a user received.
func (c *RedisCache) KeyForLikeCount(userID string) string {
	return fmt.Sprintf("likes:count:%s", userID)
}
