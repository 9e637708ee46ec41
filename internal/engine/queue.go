package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DeliveryQueueKey is the Redis sorted set holding pending delivery jobs,
// scored by the time they become ready to send.
const DeliveryQueueKey = "webhook:delivery_queue"

// DeliveryJob is one scheduled network try for one DeliveryAttempt. The
// subscription itself is looked up fresh at delivery time, so a disable or
// delete between scheduling and pickup is always observed.
type DeliveryJob struct {
	AttemptID      string          `json:"attempt_id"`
	SubscriptionID string          `json:"subscription_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	Attempt        int             `json:"attempt"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Queue is the Redis-backed delay queue for delivery jobs. Retries are
// re-enqueued with a future score instead of blocking a worker.
type Queue struct {
	client *redis.Client
}

func NewQueue(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// Enqueue schedules job to become ready at readyAt.
func (q *Queue) Enqueue(ctx context.Context, job DeliveryJob, readyAt time.Time) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}

	err = q.client.ZAdd(ctx, DeliveryQueueKey, redis.Z{
		Score:  float64(readyAt.UnixMicro()),
		Member: string(data),
	}).Err()
	if err != nil {
		return fmt.Errorf("queuing delivery job: %w", err)
	}
	return nil
}

// PopReady claims up to limit jobs whose ready time has passed. A job is
// only returned if the ZRem succeeds, so concurrent pollers never claim the
// same job twice.
func (q *Queue) PopReady(ctx context.Context, limit int64) ([]DeliveryJob, error) {
	now := float64(time.Now().UnixMicro())

	results, err := q.client.ZRangeByScore(ctx, DeliveryQueueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatFloat(now, 'f', -1, 64),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("polling delivery queue: %w", err)
	}

	var jobs []DeliveryJob
	for _, member := range results {
		removed, err := q.client.ZRem(ctx, DeliveryQueueKey, member).Result()
		if err != nil {
			return jobs, fmt.Errorf("claiming delivery job: %w", err)
		}
		if removed == 0 {
			// another poller claimed it first
			continue
		}

		var job DeliveryJob
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			return jobs, fmt.Errorf("unmarshaling delivery job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Depth returns the number of jobs waiting in the queue.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, DeliveryQueueKey).Result()
}
