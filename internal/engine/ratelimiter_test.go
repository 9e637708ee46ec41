package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRL(t *testing.T) *RateLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRateLimiter(client, logger)
}

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	rl := setupTestRL(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if !rl.Allow(ctx, "sub-1", 5) {
			t.Errorf("delivery %d should be allowed (limit=5)", i+1)
		}
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	rl := setupTestRL(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rl.Allow(ctx, "sub-1", 3)
	}

	if rl.Allow(ctx, "sub-1", 3) {
		t.Error("delivery should be deferred when over limit")
	}
}

func TestRateLimiter_ZeroLimit_AllowsAll(t *testing.T) {
	rl := setupTestRL(t)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		if !rl.Allow(ctx, "sub-1", 0) {
			t.Errorf("delivery %d should be allowed with limit=0 (unlimited)", i+1)
		}
	}
}

func TestRateLimiter_IsolationBetweenSubscriptions(t *testing.T) {
	rl := setupTestRL(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		rl.Allow(ctx, "sub-1", 2)
	}

	if rl.Allow(ctx, "sub-1", 2) {
		t.Error("sub-1 should be deferred")
	}

	if !rl.Allow(ctx, "sub-2", 2) {
		t.Error("sub-2 should be allowed — rate limits are per-subscription")
	}
}
