package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowboard/webhook-engine/internal/domain"
	"github.com/flowboard/webhook-engine/internal/store"
	"github.com/google/uuid"
)

// Router is the public trigger surface: business-event producers report that
// an event occurred and the router fans it out to every enabled matching
// subscription. Trigger returns once the delivery jobs are queued; it never
// waits for, or fails because of, delivery outcomes.
type Router struct {
	subs   store.SubscriptionStore
	ledger store.LedgerStore
	queue  *Queue
	logger *slog.Logger
}

func NewRouter(subs store.SubscriptionStore, ledger store.LedgerStore, queue *Queue, logger *slog.Logger) *Router {
	return &Router{
		subs:   subs,
		ledger: ledger,
		queue:  queue,
		logger: logger,
	}
}

// Trigger fans out one pending DeliveryAttempt per enabled subscription whose
// event set contains eventType, and returns the number queued. Zero matches
// is a no-op. An event type outside the catalog is a producer bug and is
// rejected before any lookup.
func (r *Router) Trigger(ctx context.Context, eventType string, payload json.RawMessage) (int, error) {
	if !domain.KnownEventType(eventType) {
		return 0, domain.Validation("event_type", "unknown event type "+eventType)
	}

	matches, err := r.subs.FindActiveFor(ctx, eventType)
	if err != nil {
		return 0, fmt.Errorf("finding matching subscriptions: %w", err)
	}

	if len(matches) == 0 {
		r.logger.Info("no matching subscriptions", "event_type", eventType)
		return 0, nil
	}

	now := time.Now().UTC()
	queued := 0
	for _, sub := range matches {
		attempt := &domain.DeliveryAttempt{
			ID:             uuid.NewString(),
			SubscriptionID: sub.ID,
			EventType:      eventType,
			Payload:        payload,
			Status:         domain.StatusPending,
			CreatedAt:      now,
		}

		if err := r.ledger.RecordAttempt(ctx, attempt); err != nil {
			r.logger.Error("failed to record delivery attempt",
				"error", err,
				"subscription_id", sub.ID,
				"event_type", eventType,
			)
			continue
		}

		job := DeliveryJob{
			AttemptID:      attempt.ID,
			SubscriptionID: sub.ID,
			EventType:      eventType,
			Payload:        payload,
			Attempt:        1,
			CreatedAt:      now,
		}
		if err := r.queue.Enqueue(ctx, job, now); err != nil {
			r.logger.Error("failed to queue delivery job",
				"error", err,
				"attempt_id", attempt.ID,
				"subscription_id", sub.ID,
			)
			continue
		}
		queued++
	}

	r.logger.Info("fan-out complete",
		"event_type", eventType,
		"deliveries_queued", queued,
	)
	return queued, nil
}

// QueueDepth exposes the current delivery queue depth for the dashboard.
func (r *Router) QueueDepth(ctx context.Context) (int64, error) {
	return r.queue.Depth(ctx)
}
