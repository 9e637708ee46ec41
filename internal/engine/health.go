package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/flowboard/webhook-engine/internal/domain"
	"github.com/redis/go-redis/v9"
)

// failureWarnThreshold is the consecutive-failure count at which an endpoint
// is logged as unhealthy.
const failureWarnThreshold = 5

// HealthTracker keeps per-subscription delivery health (last status,
// consecutive failure count, last successful trigger time) in a Redis hash.
// It is the delivery worker's narrow write-back path for health fields; the
// registry never touches these.
type HealthTracker struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

func NewHealthTracker(redisClient *redis.Client, logger *slog.Logger) *HealthTracker {
	return &HealthTracker{
		redisClient: redisClient,
		logger:      logger,
	}
}

func healthKey(subscriptionID string) string {
	return fmt.Sprintf("webhook:health:%s", subscriptionID)
}

// RecordSuccess marks a delivered webhook: last status success, failure
// streak reset, last triggered time updated.
func (h *HealthTracker) RecordSuccess(ctx context.Context, subscriptionID string) {
	err := h.redisClient.HSet(ctx, healthKey(subscriptionID),
		"last_status", domain.HealthSuccess,
		"consecutive_failures", 0,
		"last_triggered_at", time.Now().Unix(),
	).Err()
	if err != nil {
		h.logger.Error("failed to record delivery success", "error", err, "subscription_id", subscriptionID)
	}
}

// RecordFailure increments the failure streak and stores the failure kind
// (failed or timeout).
func (h *HealthTracker) RecordFailure(ctx context.Context, subscriptionID, status string) {
	key := healthKey(subscriptionID)

	failures, err := h.redisClient.HIncrBy(ctx, key, "consecutive_failures", 1).Result()
	if err != nil {
		h.logger.Error("failed to record delivery failure", "error", err, "subscription_id", subscriptionID)
		return
	}

	h.redisClient.HSet(ctx, key, "last_status", status)

	if failures == failureWarnThreshold {
		h.logger.Warn("endpoint unhealthy",
			"subscription_id", subscriptionID,
			"consecutive_failures", failures,
		)
	}
}

// Snapshot returns the current health state for a subscription. A
// subscription that has never been delivered to reports an unset status.
func (h *HealthTracker) Snapshot(ctx context.Context, subscriptionID string) domain.SubscriptionHealth {
	data, err := h.redisClient.HGetAll(ctx, healthKey(subscriptionID)).Result()
	if err != nil || len(data) == 0 {
		return domain.SubscriptionHealth{LastStatus: domain.HealthUnset}
	}

	health := domain.SubscriptionHealth{
		LastStatus: data["last_status"],
	}
	health.ConsecutiveFailures, _ = strconv.Atoi(data["consecutive_failures"])

	if ts, ok := data["last_triggered_at"]; ok && ts != "" {
		unix, _ := strconv.ParseInt(ts, 10, 64)
		if unix > 0 {
			at := time.Unix(unix, 0).UTC()
			health.LastTriggeredAt = &at
		}
	}
	return health
}

// Clear drops health state, called when a subscription is deleted.
func (h *HealthTracker) Clear(ctx context.Context, subscriptionID string) {
	if err := h.redisClient.Del(ctx, healthKey(subscriptionID)).Err(); err != nil {
		h.logger.Error("failed to clear health state", "error", err, "subscription_id", subscriptionID)
	}
}
