package domain

import (
	"time"
)

// Delivery outcome values stored in SubscriptionHealth.LastStatus.
const (
	HealthUnset   = ""
	HealthSuccess = "success"
	HealthFailed  = "failed"
	HealthTimeout = "timeout"
)

// Subscription is a registered external endpoint interested in a subset of
// domain events. The secret is never serialized; only the signer reads it.
type Subscription struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	TargetURL          string            `json:"target_url"`
	EventTypes         []string          `json:"event_types"`
	Secret             string            `json:"-"`
	Enabled            bool              `json:"enabled"`
	MaxRetries         int               `json:"max_retries"`
	Timeout            time.Duration     `json:"timeout"`
	CustomHeaders      map[string]string `json:"custom_headers,omitempty"`
	RateLimitPerSecond int               `json:"rate_limit_per_second"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// SubscriptionHealth is delivery-derived state, written only by the delivery
// worker and merged into read responses.
type SubscriptionHealth struct {
	LastTriggeredAt     *time.Time `json:"last_triggered_at,omitempty"`
	LastStatus          string     `json:"last_status"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
}

// SubscribedTo reports whether the subscription's event set contains eventType.
func (s *Subscription) SubscribedTo(eventType string) bool {
	for _, et := range s.EventTypes {
		if et == eventType {
			return true
		}
	}
	return false
}

type CreateSubscriptionRequest struct {
	Name               string            `json:"name"`
	URL                string            `json:"url"`
	Events             []string          `json:"events"`
	Secret             string            `json:"secret,omitempty"`
	Headers            map[string]string `json:"headers,omitempty"`
	MaxRetries         *int              `json:"max_retries,omitempty"`
	TimeoutSeconds     *int              `json:"timeout_seconds,omitempty"`
	RateLimitPerSecond *int              `json:"rate_limit_per_second,omitempty"`
}

type UpdateSubscriptionRequest struct {
	Name               *string            `json:"name,omitempty"`
	URL                *string            `json:"url,omitempty"`
	Events             []string           `json:"events,omitempty"`
	Enabled            *bool              `json:"enabled,omitempty"`
	Headers            *map[string]string `json:"headers,omitempty"`
	MaxRetries         *int               `json:"max_retries,omitempty"`
	TimeoutSeconds     *int               `json:"timeout_seconds,omitempty"`
	RateLimitPerSecond *int               `json:"rate_limit_per_second,omitempty"`
}
