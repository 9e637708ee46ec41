package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/flowboard/webhook-engine/internal/domain"
	"github.com/flowboard/webhook-engine/internal/engine"
	"github.com/flowboard/webhook-engine/internal/signer"
	"github.com/flowboard/webhook-engine/internal/store"
	ws "github.com/flowboard/webhook-engine/internal/websocket"
	"github.com/google/uuid"
)

const (
	userAgent = "Flowboard-Webhook/1.0"

	// response bodies are captured up to this many bytes
	maxResponseBody = 1024

	defaultBackoffBase    = time.Second
	maxBackoff            = 5 * time.Minute
	defaultRateLimitDelay = time.Second
)

// webhookBody is the wire envelope POSTed to endpoints. The signature is
// computed over these exact bytes.
type webhookBody struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// Deliverer executes delivery jobs: it drives each DeliveryAttempt through
// sending and into sent, retrying or failed, updates subscription health,
// and re-enqueues retries with exponential backoff. Retries of one attempt
// are sequential because the next job is only enqueued once the current
// outcome is known.
type Deliverer struct {
	httpClient  *http.Client
	subs        store.SubscriptionStore
	ledger      store.LedgerStore
	deadLetters store.DeadLetterStore
	queue       *engine.Queue
	health      *engine.HealthTracker
	rateLimiter *engine.RateLimiter
	hub         *ws.Hub
	logger      *slog.Logger

	backoffBase    time.Duration
	rateLimitDelay time.Duration
}

// NewDeliverer creates a deliverer. The HTTP client carries no global
// timeout; each attempt is bounded by its subscription's configured timeout
// through the request context.
func NewDeliverer(subs store.SubscriptionStore, ledger store.LedgerStore, deadLetters store.DeadLetterStore, queue *engine.Queue, health *engine.HealthTracker, rateLimiter *engine.RateLimiter, hub *ws.Hub, logger *slog.Logger) *Deliverer {
	return &Deliverer{
		httpClient:     &http.Client{},
		subs:           subs,
		ledger:         ledger,
		deadLetters:    deadLetters,
		queue:          queue,
		health:         health,
		rateLimiter:    rateLimiter,
		hub:            hub,
		logger:         logger,
		backoffBase:    defaultBackoffBase,
		rateLimitDelay: defaultRateLimitDelay,
	}
}

// Deliver processes one delivery job end to end.
func (d *Deliverer) Deliver(ctx context.Context, job engine.DeliveryJob) {
	sub, err := d.subs.GetSubscription(ctx, job.SubscriptionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// subscription deleted after scheduling; its ledger entries are
			// gone too, so there is nothing left to update
			d.logger.Info("dropping job for deleted subscription",
				"attempt_id", job.AttemptID,
				"subscription_id", job.SubscriptionID,
			)
			return
		}
		d.logger.Error("failed to load subscription", "error", err, "attempt_id", job.AttemptID)
		return
	}

	attempt, err := d.ledger.GetAttempt(ctx, job.AttemptID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return
		}
		d.logger.Error("failed to load delivery attempt", "error", err, "attempt_id", job.AttemptID)
		return
	}
	if attempt.Terminal() {
		return
	}

	if !sub.Enabled {
		// disabled after scheduling: no further network tries, the attempt
		// fails short of its budget
		attempt.Status = domain.StatusFailed
		attempt.LastError = "subscription disabled"
		d.record(ctx, attempt)
		d.broadcast("delivery_failed", sub, attempt, 0)
		d.logger.Info("delivery cancelled, subscription disabled",
			"attempt_id", attempt.ID,
			"subscription_id", sub.ID,
		)
		return
	}

	if !d.rateLimiter.Allow(ctx, sub.ID, sub.RateLimitPerSecond) {
		// defer without consuming the retry budget
		if err := d.queue.Enqueue(ctx, job, time.Now().Add(d.rateLimitDelay)); err != nil {
			d.logger.Error("failed to requeue rate-limited job", "error", err, "attempt_id", job.AttemptID)
		}
		return
	}

	now := time.Now().UTC()
	attempt.Status = domain.StatusSending
	attempt.AttemptCount = job.Attempt
	attempt.LastAttemptAt = &now
	d.record(ctx, attempt)

	start := time.Now()
	resp, sendErr := d.send(ctx, sub, job)
	elapsed := time.Since(start).Milliseconds()

	if resp != nil {
		attempt.LastResponse = resp
	}

	if sendErr == nil && resp != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		attempt.Status = domain.StatusSent
		attempt.LastError = ""
		d.record(ctx, attempt)
		d.health.RecordSuccess(ctx, sub.ID)
		d.broadcast("delivery_sent", sub, attempt, elapsed)
		d.logger.Info("delivery successful",
			"attempt_id", attempt.ID,
			"subscription_id", sub.ID,
			"attempt", attempt.AttemptCount,
			"status_code", resp.StatusCode,
			"response_time_ms", elapsed,
		)
		return
	}

	// failure: non-2xx response, connection error or timeout
	healthStatus := domain.HealthFailed
	switch {
	case sendErr != nil && errors.Is(sendErr, context.DeadlineExceeded):
		healthStatus = domain.HealthTimeout
		attempt.LastError = fmt.Sprintf("delivery timed out after %s", sub.Timeout)
	case sendErr != nil:
		attempt.LastError = fmt.Sprintf("request failed: %v", sendErr)
	default:
		attempt.LastError = fmt.Sprintf("endpoint returned %d", resp.StatusCode)
	}

	d.health.RecordFailure(ctx, sub.ID, healthStatus)

	budget := sub.MaxRetries + 1
	if attempt.AttemptCount < budget {
		attempt.Status = domain.StatusRetrying
		d.record(ctx, attempt)

		retry := job
		retry.Attempt = attempt.AttemptCount + 1
		readyAt := time.Now().Add(d.backoff(attempt.AttemptCount))
		if err := d.queue.Enqueue(ctx, retry, readyAt); err != nil {
			d.logger.Error("failed to schedule retry", "error", err, "attempt_id", attempt.ID)
		}

		d.broadcast("delivery_retrying", sub, attempt, elapsed)
		d.logger.Warn("delivery failed, retrying",
			"attempt_id", attempt.ID,
			"subscription_id", sub.ID,
			"attempt", attempt.AttemptCount,
			"of", budget,
			"error", attempt.LastError,
		)
		return
	}

	attempt.Status = domain.StatusFailed
	d.record(ctx, attempt)
	d.deadLetter(ctx, attempt)
	d.broadcast("delivery_dead_lettered", sub, attempt, elapsed)
	d.logger.Warn("delivery failed permanently",
		"attempt_id", attempt.ID,
		"subscription_id", sub.ID,
		"attempts", attempt.AttemptCount,
		"error", attempt.LastError,
	)
}

// send performs the network call, bounded by the subscription's timeout.
// It returns the response details when any response was received, and a
// non-nil error for connection failures and timeouts.
func (d *Deliverer) send(ctx context.Context, sub *domain.Subscription, job engine.DeliveryJob) (*domain.DeliveryResponse, error) {
	body, err := json.Marshal(webhookBody{
		ID:        job.AttemptID,
		Event:     job.EventType,
		Data:      job.Payload,
		Timestamp: job.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling webhook body: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, sub.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, sub.TargetURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	// custom headers first: they must never override the protocol headers
	for k, v := range sub.CustomHeaders {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Webhook-Signature", signer.Sign(sub.Secret, body))
	req.Header.Set("X-Webhook-Event", job.EventType)
	req.Header.Set("X-Webhook-ID", job.AttemptID)
	req.Header.Set("X-Webhook-Attempt", fmt.Sprintf("%d", job.Attempt))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		if reqCtx.Err() != nil {
			return nil, context.DeadlineExceeded
		}
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	return &domain.DeliveryResponse{
		StatusCode: resp.StatusCode,
		Body:       string(respBody),
		Headers:    resp.Header.Clone(),
	}, nil
}

// backoff returns the delay before retry number n+1, doubling per failed try.
func (d *Deliverer) backoff(n int) time.Duration {
	delay := d.backoffBase
	for i := 1; i < n; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

func (d *Deliverer) record(ctx context.Context, attempt *domain.DeliveryAttempt) {
	if err := d.ledger.RecordAttempt(ctx, attempt); err != nil {
		d.logger.Error("failed to record delivery attempt",
			"error", err,
			"attempt_id", attempt.ID,
			"subscription_id", attempt.SubscriptionID,
		)
	}
}

func (d *Deliverer) deadLetter(ctx context.Context, attempt *domain.DeliveryAttempt) {
	dl := &domain.DeadLetter{
		ID:             uuid.NewString(),
		AttemptID:      attempt.ID,
		SubscriptionID: attempt.SubscriptionID,
		EventType:      attempt.EventType,
		TotalAttempts:  attempt.AttemptCount,
		LastError:      attempt.LastError,
		CreatedAt:      time.Now().UTC(),
	}
	if attempt.LastResponse != nil {
		status := attempt.LastResponse.StatusCode
		dl.LastHTTPStatus = &status
	}
	if err := d.deadLetters.InsertDeadLetter(ctx, dl); err != nil {
		d.logger.Error("failed to insert dead letter", "error", err, "attempt_id", attempt.ID)
	}
}

func (d *Deliverer) broadcast(eventKind string, sub *domain.Subscription, attempt *domain.DeliveryAttempt, elapsedMs int64) {
	if d.hub == nil {
		return
	}
	event := ws.DeliveryEvent{
		Type:           eventKind,
		AttemptID:      attempt.ID,
		SubscriptionID: sub.ID,
		TargetURL:      sub.TargetURL,
		EventType:      attempt.EventType,
		Attempt:        attempt.AttemptCount,
		ResponseMs:     elapsedMs,
		Error:          attempt.LastError,
		Timestamp:      time.Now().UTC(),
	}
	if attempt.LastResponse != nil {
		code := attempt.LastResponse.StatusCode
		event.StatusCode = &code
	}
	d.hub.Broadcast(event)
}
