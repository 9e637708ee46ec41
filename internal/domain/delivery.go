package domain

import (
	"encoding/json"
	"net/http"
	"time"
)

// DeliveryAttempt states. A pending attempt has not been picked up yet;
// sending means a network call is in flight; retrying means a failure
// occurred with retry budget remaining. Sent and failed are terminal.
const (
	StatusPending  = "pending"
	StatusSending  = "sending"
	StatusSent     = "sent"
	StatusFailed   = "failed"
	StatusRetrying = "retrying"
)

// DeliveryResponse captures what the receiving endpoint answered. Present
// only when a response was received at all; timeouts and connection errors
// leave it nil.
type DeliveryResponse struct {
	StatusCode int         `json:"status_code"`
	Body       string      `json:"body,omitempty"`
	Headers    http.Header `json:"headers,omitempty"`
}

// DeliveryAttempt is one fan-out instance of one event to one subscription.
// It may span multiple network tries; AttemptCount never exceeds the
// subscription's maxRetries+1.
type DeliveryAttempt struct {
	ID             string           `json:"id"`
	SubscriptionID string           `json:"subscription_id"`
	EventType      string           `json:"event_type"`
	Payload        json.RawMessage  `json:"payload"`
	Status         string           `json:"status"`
	AttemptCount   int              `json:"attempt_count"`
	LastAttemptAt  *time.Time       `json:"last_attempt_at,omitempty"`
	LastResponse   *DeliveryResponse `json:"last_response,omitempty"`
	LastError      string           `json:"last_error,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Terminal reports whether the attempt can no longer change state.
func (a *DeliveryAttempt) Terminal() bool {
	return a.Status == StatusSent || a.Status == StatusFailed
}

// DeadLetter records a delivery attempt that exhausted its retry budget.
type DeadLetter struct {
	ID             string     `json:"id"`
	AttemptID      string     `json:"attempt_id"`
	SubscriptionID string     `json:"subscription_id"`
	EventType      string     `json:"event_type"`
	TotalAttempts  int        `json:"total_attempts"`
	LastError      string     `json:"last_error,omitempty"`
	LastHTTPStatus *int       `json:"last_http_status,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`
}
