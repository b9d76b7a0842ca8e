package redisx

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/docsage-ai/docsage-backend/internal/core"
)

const keyPrefix = "docsage"

// Client wraps go-redis with JSON cache helpers and a fixed-window rate
// budget. A nil *Client is valid: every method becomes a no-op, which is how
// the system runs without REDIS_URL.
type Client struct {
	rdb *redis.Client
}

func New(ctx context.Context, redisURL string) (*Client, error) {
	if redisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// CacheGetJSON reads key into dest. Returns false on miss or when the
// client is disabled.
func (c *Client) CacheGetJSON(ctx context.Context, key string, dest any) (bool, error) {
	if c == nil || c.rdb == nil {
		return false, nil
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return true, nil
}

func (c *Client) CacheSetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// budgetOps is the slice of redis the fixed-window budget needs.
type budgetOps interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	ExpireNX(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// EnforceRateLimit counts a call against the named per-minute budget shared
// by all processes on the same Redis. The window key includes the current
// UTC minute; INCR past the limit returns core.ErrThrottled. Disabled
// clients never throttle.
func (c *Client) EnforceRateLimit(ctx context.Context, name string, perMinute int) error {
	if c == nil || c.rdb == nil || perMinute <= 0 {
		return nil
	}
	return enforceBudget(ctx, c.rdb, name, perMinute, time.Now().UTC())
}

func enforceBudget(ctx context.Context, ops budgetOps, name string, perMinute int, now time.Time) error {
	key := RateLimitKey(name, now)
	n, err := ops.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("rate incr %s: %w", key, err)
	}
	// NX keeps the first caller's expiry; the window dies with the minute.
	if err := ops.ExpireNX(ctx, key, time.Minute).Err(); err != nil {
		return fmt.Errorf("rate expire %s: %w", key, err)
	}
	if n > int64(perMinute) {
		return fmt.Errorf("%s: %w", name, core.ErrThrottled)
	}
	return nil
}

// RateLimitKey builds the fixed-window key for a budget name at time t.
func RateLimitKey(name string, t time.Time) string {
	return fmt.Sprintf("%s:rl:%s:%s", keyPrefix, name, t.UTC().Format("200601021504"))
}

// CacheKey builds a namespaced cache key from parts.
func CacheKey(parts ...string) string {
	return keyPrefix + ":" + strings.Join(parts, ":")
}

// StableHash returns a short stable hex digest for cache keys.
func StableHash(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}
