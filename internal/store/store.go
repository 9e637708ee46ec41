package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"

	"github.com/flowboard/webhook-engine/internal/domain"
	"github.com/google/uuid"
)

// Registry defaults applied when creation input omits the field.
const (
	DefaultMaxRetries = 3
	DefaultTimeout    = 30 * time.Second
	DefaultListLimit  = 50
)

// SubscriptionStore is the subscription registry: the single source of truth
// for subscription state. Implementations serialize mutations per id.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, req domain.CreateSubscriptionRequest) (*domain.Subscription, error)
	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]domain.Subscription, error)
	UpdateSubscription(ctx context.Context, id string, req domain.UpdateSubscriptionRequest) (*domain.Subscription, error)
	SetSubscriptionEnabled(ctx context.Context, id string, enabled bool) error
	// DeleteSubscription removes the subscription and cascades deletion of
	// its ledger entries and dead letters.
	DeleteSubscription(ctx context.Context, id string) error
	// FindActiveFor returns enabled subscriptions whose event set contains
	// eventType, in registration order.
	FindActiveFor(ctx context.Context, eventType string) ([]domain.Subscription, error)
}

// LedgerStore is the append-only record of delivery attempts.
type LedgerStore interface {
	// RecordAttempt upserts by attempt id; calling it twice with identical
	// fields leaves the ledger unchanged.
	RecordAttempt(ctx context.Context, attempt *domain.DeliveryAttempt) error
	GetAttempt(ctx context.Context, id string) (*domain.DeliveryAttempt, error)
	// ListAttempts returns attempts most-recent-first, optionally filtered
	// by subscription id and status. limit <= 0 means DefaultListLimit.
	ListAttempts(ctx context.Context, subscriptionID, status string, limit int) ([]domain.DeliveryAttempt, error)
	PurgeAttempts(ctx context.Context, subscriptionID string) error
}

// DeadLetterStore records deliveries that exhausted their retry budget.
type DeadLetterStore interface {
	InsertDeadLetter(ctx context.Context, dl *domain.DeadLetter) error
	ListDeadLetters(ctx context.Context, subscriptionID string, resolved bool, limit int) ([]domain.DeadLetter, error)
	GetDeadLetter(ctx context.Context, id string) (*domain.DeadLetter, error)
	ResolveDeadLetter(ctx context.Context, id, resolvedBy string) error
}

// DeliveryMetrics holds aggregated delivery statistics for the dashboard.
type DeliveryMetrics struct {
	TotalDeliveries     int     `json:"total_deliveries"`
	SentCount           int     `json:"sent_count"`
	FailedCount         int     `json:"failed_count"`
	SuccessRate         float64 `json:"success_rate"`
	DeadLetterCount     int     `json:"dead_letter_count"`
	ActiveSubscriptions int     `json:"active_subscriptions"`
}

// Store is the full persistence surface consumed by the API and the engine.
// PostgresStore backs production; MemoryStore backs dev mode and tests.
type Store interface {
	SubscriptionStore
	LedgerStore
	DeadLetterStore
	Metrics(ctx context.Context) (*DeliveryMetrics, error)
}

// validateCreate checks management input against the registry rules: a
// well-formed absolute URL, a non-empty event set drawn from the catalog,
// and non-negative policy numbers.
func validateCreate(req domain.CreateSubscriptionRequest) error {
	if req.Name == "" {
		return domain.Validation("name", "is required")
	}
	if err := validateTargetURL(req.URL); err != nil {
		return err
	}
	if err := validateEventTypes(req.Events); err != nil {
		return err
	}
	if req.MaxRetries != nil && *req.MaxRetries < 0 {
		return domain.Validation("max_retries", "must be non-negative")
	}
	if req.TimeoutSeconds != nil && *req.TimeoutSeconds <= 0 {
		return domain.Validation("timeout_seconds", "must be positive")
	}
	if req.RateLimitPerSecond != nil && *req.RateLimitPerSecond < 0 {
		return domain.Validation("rate_limit_per_second", "must be non-negative")
	}
	return nil
}

func validateUpdate(req domain.UpdateSubscriptionRequest) error {
	if req.URL != nil {
		if err := validateTargetURL(*req.URL); err != nil {
			return err
		}
	}
	if req.Events != nil {
		if err := validateEventTypes(req.Events); err != nil {
			return err
		}
	}
	if req.MaxRetries != nil && *req.MaxRetries < 0 {
		return domain.Validation("max_retries", "must be non-negative")
	}
	if req.TimeoutSeconds != nil && *req.TimeoutSeconds <= 0 {
		return domain.Validation("timeout_seconds", "must be positive")
	}
	if req.RateLimitPerSecond != nil && *req.RateLimitPerSecond < 0 {
		return domain.Validation("rate_limit_per_second", "must be non-negative")
	}
	return nil
}

func validateTargetURL(raw string) error {
	if raw == "" {
		return domain.Validation("url", "is required")
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return domain.Validation("url", "must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return domain.Validation("url", "scheme must be http or https")
	}
	return nil
}

func validateEventTypes(events []string) error {
	if len(events) == 0 {
		return domain.Validation("events", "at least one event type is required")
	}
	for _, et := range events {
		if !domain.KnownEventType(et) {
			return domain.Validation("events", "unknown event type "+et)
		}
	}
	return nil
}

// newSubscription validates req, applies registry defaults and mints the id
// and, when absent, the signing secret. Both store implementations create
// subscriptions through it so validation cannot drift between them.
func newSubscription(req domain.CreateSubscriptionRequest) (*domain.Subscription, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	secret := req.Secret
	if secret == "" {
		var err error
		secret, err = generateSecret()
		if err != nil {
			return nil, fmt.Errorf("generating secret: %w", err)
		}
	}

	sub := &domain.Subscription{
		ID:         uuid.NewString(),
		Name:       req.Name,
		TargetURL:  req.URL,
		EventTypes: append([]string(nil), req.Events...),
		Secret:     secret,
		Enabled:    true,
		MaxRetries: DefaultMaxRetries,
		Timeout:    DefaultTimeout,
	}
	if len(req.Headers) > 0 {
		sub.CustomHeaders = make(map[string]string, len(req.Headers))
		for k, v := range req.Headers {
			sub.CustomHeaders[k] = v
		}
	}
	if req.MaxRetries != nil {
		sub.MaxRetries = *req.MaxRetries
	}
	if req.TimeoutSeconds != nil {
		sub.Timeout = time.Duration(*req.TimeoutSeconds) * time.Second
	}
	if req.RateLimitPerSecond != nil {
		sub.RateLimitPerSecond = *req.RateLimitPerSecond
	}
	return sub, nil
}

// generateSecret returns a fresh signing key for subscriptions created
// without one.
func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(buf), nil
}
