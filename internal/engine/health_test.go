package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/flowboard/webhook-engine/internal/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestHealth(t *testing.T) *HealthTracker {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewHealthTracker(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHealth_InitiallyUnset(t *testing.T) {
	h := newTestHealth(t)

	snap := h.Snapshot(context.Background(), "sub-1")
	if snap.LastStatus != domain.HealthUnset {
		t.Errorf("fresh subscription should have unset status, got %q", snap.LastStatus)
	}
	if snap.ConsecutiveFailures != 0 {
		t.Errorf("fresh subscription should have 0 failures, got %d", snap.ConsecutiveFailures)
	}
	if snap.LastTriggeredAt != nil {
		t.Error("fresh subscription should have no last triggered time")
	}
}

func TestHealth_FailureStreakAndReset(t *testing.T) {
	h := newTestHealth(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		h.RecordFailure(ctx, "sub-1", domain.HealthFailed)
	}

	snap := h.Snapshot(ctx, "sub-1")
	if snap.ConsecutiveFailures != 3 {
		t.Errorf("consecutive failures = %d, want 3", snap.ConsecutiveFailures)
	}
	if snap.LastStatus != domain.HealthFailed {
		t.Errorf("last status = %q, want failed", snap.LastStatus)
	}

	h.RecordSuccess(ctx, "sub-1")

	snap = h.Snapshot(ctx, "sub-1")
	if snap.ConsecutiveFailures != 0 {
		t.Errorf("success should reset the streak, got %d", snap.ConsecutiveFailures)
	}
	if snap.LastStatus != domain.HealthSuccess {
		t.Errorf("last status = %q, want success", snap.LastStatus)
	}
	if snap.LastTriggeredAt == nil {
		t.Error("success should record last triggered time")
	}
}

func TestHealth_TimeoutStatus(t *testing.T) {
	h := newTestHealth(t)
	ctx := context.Background()

	h.RecordFailure(ctx, "sub-1", domain.HealthTimeout)

	snap := h.Snapshot(ctx, "sub-1")
	if snap.LastStatus != domain.HealthTimeout {
		t.Errorf("timeouts should be distinguished, got %q", snap.LastStatus)
	}
}

func TestHealth_IndependentSubscriptions(t *testing.T) {
	h := newTestHealth(t)
	ctx := context.Background()

	h.RecordFailure(ctx, "sub-1", domain.HealthFailed)
	h.RecordSuccess(ctx, "sub-2")

	if h.Snapshot(ctx, "sub-1").ConsecutiveFailures != 1 {
		t.Error("sub-1 streak should be 1")
	}
	if h.Snapshot(ctx, "sub-2").ConsecutiveFailures != 0 {
		t.Error("sub-2 streak should be untouched")
	}
}

func TestHealth_Clear(t *testing.T) {
	h := newTestHealth(t)
	ctx := context.Background()

	h.RecordFailure(ctx, "sub-1", domain.HealthFailed)
	h.Clear(ctx, "sub-1")

	snap := h.Snapshot(ctx, "sub-1")
	if snap.LastStatus != domain.HealthUnset || snap.ConsecutiveFailures != 0 {
		t.Errorf("clear should drop all health state, got %+v", snap)
	}
}
