package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/docsage-ai/docsage-backend/internal/core"
)

// fakeBudgetOps counts INCRs per window key in memory.
type fakeBudgetOps struct {
	counts     map[string]int64
	expireKeys []string
	expireTTL  time.Duration
}

func newFakeBudgetOps() *fakeBudgetOps {
	return &fakeBudgetOps{counts: map[string]int64{}}
}

func (f *fakeBudgetOps) Incr(ctx context.Context, key string) *redis.IntCmd {
	f.counts[key]++
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(f.counts[key])
	return cmd
}

func (f *fakeBudgetOps) ExpireNX(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.expireKeys = append(f.expireKeys, key)
	f.expireTTL = expiration
	cmd := redis.NewBoolCmd(ctx)
	cmd.SetVal(true)
	return cmd
}

func TestNilClientIsNoop(t *testing.T) {
	var c *Client
	ctx := context.Background()

	if err := c.EnforceRateLimit(ctx, "gemini:generate", 1); err != nil {
		t.Fatalf("nil client should never throttle: %v", err)
	}
	var out string
	hit, err := c.CacheGetJSON(ctx, "k", &out)
	if err != nil {
		t.Fatalf("nil client get: %v", err)
	}
	if hit {
		t.Fatalf("nil client reported a cache hit")
	}
	if err := c.CacheSetJSON(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("nil client set: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("nil client close: %v", err)
	}
}

func TestRateLimitKeyUsesUTCMinute(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	at := time.Date(2025, 6, 1, 15, 4, 59, 0, loc)

	got := RateLimitKey("gemini:generate", at)
	want := "docsage:rl:gemini:generate:202506011204"
	if got != want {
		t.Fatalf("rate limit key: want=%q got=%q", want, got)
	}
}

func TestBudgetThrottlesExactlyOnCrossing(t *testing.T) {
	ctx := context.Background()
	ops := newFakeBudgetOps()
	at := time.Date(2025, 6, 1, 12, 4, 10, 0, time.UTC)

	for i := 1; i <= 3; i++ {
		if err := enforceBudget(ctx, ops, "gemini:embed", 3, at); err != nil {
			t.Fatalf("call %d within budget throttled: %v", i, err)
		}
	}
	err := enforceBudget(ctx, ops, "gemini:embed", 3, at)
	if !core.IsThrottled(err) {
		t.Fatalf("crossing call: want throttled, got %v", err)
	}
	// Every call arms the window expiry so the key dies with the minute.
	if len(ops.expireKeys) != 4 || ops.expireTTL != time.Minute {
		t.Fatalf("expiry: keys=%d ttl=%v", len(ops.expireKeys), ops.expireTTL)
	}
}

func TestBudgetResetsOnNextMinute(t *testing.T) {
	ctx := context.Background()
	ops := newFakeBudgetOps()
	at := time.Date(2025, 6, 1, 12, 4, 59, 0, time.UTC)

	if err := enforceBudget(ctx, ops, "gemini:generate", 1, at); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if err := enforceBudget(ctx, ops, "gemini:generate", 1, at); !core.IsThrottled(err) {
		t.Fatalf("second call same minute: want throttled, got %v", err)
	}
	// One second later the window key changes and the budget is fresh.
	if err := enforceBudget(ctx, ops, "gemini:generate", 1, at.Add(time.Second)); err != nil {
		t.Fatalf("next minute should reset the budget: %v", err)
	}
}

func TestStableHashIsDeterministicAndSeparatorSafe(t *testing.T) {
	a := StableHash("model-a", "some text")
	b := StableHash("model-a", "some text")
	if a != b {
		t.Fatalf("hash not deterministic: %q vs %q", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("hash length: want=32 got=%d", len(a))
	}
	// "ab"+"c" must not collide with "a"+"bc".
	if StableHash("ab", "c") == StableHash("a", "bc") {
		t.Fatalf("hash collides across part boundaries")
	}
}

func TestCacheKey(t *testing.T) {
	got := CacheKey("gen", "abc123")
	if got != "docsage:gen:abc123" {
		t.Fatalf("cache key: want=%q got=%q", "docsage:gen:abc123", got)
	}
}
