package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/flowboard/webhook-engine/internal/domain"
	"github.com/flowboard/webhook-engine/internal/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRouter(t *testing.T) (*Router, *store.MemoryStore, *Queue) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := store.NewMemory()
	queue := NewQueue(client)
	return NewRouter(mem, mem, queue, logger), mem, queue
}

func register(t *testing.T, mem *store.MemoryStore, events ...string) *domain.Subscription {
	t.Helper()

	sub, err := mem.CreateSubscription(context.Background(), domain.CreateSubscriptionRequest{
		Name:   "test endpoint",
		URL:    "https://example.com/hooks",
		Events: events,
	})
	if err != nil {
		t.Fatalf("create subscription failed: %v", err)
	}
	return sub
}

func TestTrigger_FanOut(t *testing.T) {
	router, mem, queue := newTestRouter(t)
	ctx := context.Background()

	subA := register(t, mem, domain.EventCardCreated)
	subB := register(t, mem, domain.EventCardCreated, domain.EventCardDeleted)
	register(t, mem, domain.EventTeamMemberAdded) // unrelated

	queued, err := router.Trigger(ctx, domain.EventCardCreated, json.RawMessage(`{"card_id":"c-1"}`))
	if err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	if queued != 2 {
		t.Fatalf("expected 2 deliveries queued, got %d", queued)
	}

	jobs, err := queue.PopReady(ctx, 10)
	if err != nil {
		t.Fatalf("pop failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs in queue, got %d", len(jobs))
	}

	// one pending ledger entry per match, starting at attempt zero
	seen := map[string]bool{}
	for _, job := range jobs {
		seen[job.SubscriptionID] = true

		attempt, err := mem.GetAttempt(ctx, job.AttemptID)
		if err != nil {
			t.Fatalf("attempt %s not in ledger: %v", job.AttemptID, err)
		}
		if attempt.Status != domain.StatusPending {
			t.Errorf("fan-out attempts start pending, got %q", attempt.Status)
		}
		if attempt.AttemptCount != 0 {
			t.Errorf("attempt count starts at 0, got %d", attempt.AttemptCount)
		}
		if job.Attempt != 1 {
			t.Errorf("first job carries attempt number 1, got %d", job.Attempt)
		}
	}
	if !seen[subA.ID] || !seen[subB.ID] {
		t.Errorf("both matching subscriptions should receive a job, saw %v", seen)
	}
}

func TestTrigger_NoMatchesIsNoOp(t *testing.T) {
	router, mem, queue := newTestRouter(t)
	ctx := context.Background()

	register(t, mem, domain.EventTeamMemberAdded)

	queued, err := router.Trigger(ctx, domain.EventCardCreated, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("trigger with zero matches must not fail: %v", err)
	}
	if queued != 0 {
		t.Errorf("expected 0 queued, got %d", queued)
	}

	depth, _ := queue.Depth(ctx)
	if depth != 0 {
		t.Errorf("no jobs should be queued, depth = %d", depth)
	}

	attempts, _ := mem.ListAttempts(ctx, "", "", 0)
	if len(attempts) != 0 {
		t.Errorf("no DeliveryAttempt should be created, got %d", len(attempts))
	}
}

func TestTrigger_SkipsDisabled(t *testing.T) {
	router, mem, _ := newTestRouter(t)
	ctx := context.Background()

	sub := register(t, mem, domain.EventCardCreated)
	if err := mem.SetSubscriptionEnabled(ctx, sub.ID, false); err != nil {
		t.Fatalf("disable failed: %v", err)
	}

	queued, err := router.Trigger(ctx, domain.EventCardCreated, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	if queued != 0 {
		t.Errorf("disabled subscription must not be fanned out to, queued %d", queued)
	}
}

func TestTrigger_UnknownEventType(t *testing.T) {
	router, _, _ := newTestRouter(t)

	_, err := router.Trigger(context.Background(), "card.exploded", json.RawMessage(`{}`))
	if !domain.IsValidation(err) {
		t.Errorf("unknown event type should be a ValidationError, got %v", err)
	}
}
