package store

import (
	"context"
	"sync"
	"time"

	"github.com/flowboard/webhook-engine/internal/domain"
)

// MemoryStore is the process-local Store implementation used in dev mode and
// tests. Mutations are serialized per subscription id; unrelated
// subscriptions can be mutated concurrently.
type MemoryStore struct {
	mu       sync.RWMutex
	subs     map[string]*memSub
	subOrder []string

	ledgerMu     sync.RWMutex
	attempts     map[string]*domain.DeliveryAttempt
	attemptOrder []string

	dlMu        sync.RWMutex
	deadLetters map[string]*domain.DeadLetter
	dlOrder     []string
}

type memSub struct {
	mu  sync.Mutex
	sub domain.Subscription
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		subs:        make(map[string]*memSub),
		attempts:    make(map[string]*domain.DeliveryAttempt),
		deadLetters: make(map[string]*domain.DeadLetter),
	}
}

func (m *MemoryStore) CreateSubscription(ctx context.Context, req domain.CreateSubscriptionRequest) (*domain.Subscription, error) {
	sub, err := newSubscription(req)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	m.mu.Lock()
	m.subs[sub.ID] = &memSub{sub: *sub}
	m.subOrder = append(m.subOrder, sub.ID)
	m.mu.Unlock()

	out := copySubscription(*sub)
	return &out, nil
}

func (m *MemoryStore) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	m.mu.RLock()
	entry, ok := m.subs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}

	entry.mu.Lock()
	sub := copySubscription(entry.sub)
	entry.mu.Unlock()
	return &sub, nil
}

func (m *MemoryStore) ListSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	subs := make([]domain.Subscription, 0, len(m.subOrder))
	for _, id := range m.subOrder {
		entry := m.subs[id]
		entry.mu.Lock()
		subs = append(subs, copySubscription(entry.sub))
		entry.mu.Unlock()
	}
	return subs, nil
}

func (m *MemoryStore) UpdateSubscription(ctx context.Context, id string, req domain.UpdateSubscriptionRequest) (*domain.Subscription, error) {
	if err := validateUpdate(req); err != nil {
		return nil, err
	}

	m.mu.RLock()
	entry, ok := m.subs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if req.Name != nil {
		entry.sub.Name = *req.Name
	}
	if req.URL != nil {
		entry.sub.TargetURL = *req.URL
	}
	if req.Events != nil {
		entry.sub.EventTypes = append([]string(nil), req.Events...)
	}
	if req.Enabled != nil {
		entry.sub.Enabled = *req.Enabled
	}
	if req.Headers != nil {
		headers := make(map[string]string, len(*req.Headers))
		for k, v := range *req.Headers {
			headers[k] = v
		}
		entry.sub.CustomHeaders = headers
	}
	if req.MaxRetries != nil {
		entry.sub.MaxRetries = *req.MaxRetries
	}
	if req.TimeoutSeconds != nil {
		entry.sub.Timeout = time.Duration(*req.TimeoutSeconds) * time.Second
	}
	if req.RateLimitPerSecond != nil {
		entry.sub.RateLimitPerSecond = *req.RateLimitPerSecond
	}
	entry.sub.UpdatedAt = time.Now().UTC()

	sub := copySubscription(entry.sub)
	return &sub, nil
}

func (m *MemoryStore) SetSubscriptionEnabled(ctx context.Context, id string, enabled bool) error {
	m.mu.RLock()
	entry, ok := m.subs[id]
	m.mu.RUnlock()
	if !ok {
		return domain.ErrNotFound
	}

	entry.mu.Lock()
	entry.sub.Enabled = enabled
	entry.sub.UpdatedAt = time.Now().UTC()
	entry.mu.Unlock()
	return nil
}

func (m *MemoryStore) DeleteSubscription(ctx context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.subs[id]; !ok {
		m.mu.Unlock()
		return domain.ErrNotFound
	}
	delete(m.subs, id)
	for i, sid := range m.subOrder {
		if sid == id {
			m.subOrder = append(m.subOrder[:i], m.subOrder[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	if err := m.PurgeAttempts(ctx, id); err != nil {
		return err
	}
	m.purgeDeadLetters(id)
	return nil
}

func (m *MemoryStore) FindActiveFor(ctx context.Context, eventType string) ([]domain.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []domain.Subscription
	for _, id := range m.subOrder {
		entry := m.subs[id]
		entry.mu.Lock()
		if entry.sub.Enabled && entry.sub.SubscribedTo(eventType) {
			matches = append(matches, copySubscription(entry.sub))
		}
		entry.mu.Unlock()
	}
	return matches, nil
}

func (m *MemoryStore) RecordAttempt(ctx context.Context, attempt *domain.DeliveryAttempt) error {
	a := copyAttempt(*attempt)

	m.ledgerMu.Lock()
	if _, exists := m.attempts[a.ID]; !exists {
		m.attemptOrder = append(m.attemptOrder, a.ID)
	}
	m.attempts[a.ID] = &a
	m.ledgerMu.Unlock()
	return nil
}

func (m *MemoryStore) GetAttempt(ctx context.Context, id string) (*domain.DeliveryAttempt, error) {
	m.ledgerMu.RLock()
	a, ok := m.attempts[id]
	m.ledgerMu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := copyAttempt(*a)
	return &out, nil
}

func (m *MemoryStore) ListAttempts(ctx context.Context, subscriptionID, status string, limit int) ([]domain.DeliveryAttempt, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	m.ledgerMu.RLock()
	defer m.ledgerMu.RUnlock()

	attempts := make([]domain.DeliveryAttempt, 0, limit)
	for i := len(m.attemptOrder) - 1; i >= 0 && len(attempts) < limit; i-- {
		a := m.attempts[m.attemptOrder[i]]
		if subscriptionID != "" && a.SubscriptionID != subscriptionID {
			continue
		}
		if status != "" && a.Status != status {
			continue
		}
		attempts = append(attempts, copyAttempt(*a))
	}
	return attempts, nil
}

func (m *MemoryStore) PurgeAttempts(ctx context.Context, subscriptionID string) error {
	m.ledgerMu.Lock()
	defer m.ledgerMu.Unlock()

	kept := m.attemptOrder[:0]
	for _, id := range m.attemptOrder {
		if m.attempts[id].SubscriptionID == subscriptionID {
			delete(m.attempts, id)
			continue
		}
		kept = append(kept, id)
	}
	m.attemptOrder = kept
	return nil
}

func (m *MemoryStore) InsertDeadLetter(ctx context.Context, dl *domain.DeadLetter) error {
	d := *dl

	m.dlMu.Lock()
	if _, exists := m.deadLetters[d.ID]; !exists {
		m.dlOrder = append(m.dlOrder, d.ID)
	}
	m.deadLetters[d.ID] = &d
	m.dlMu.Unlock()
	return nil
}

func (m *MemoryStore) ListDeadLetters(ctx context.Context, subscriptionID string, resolved bool, limit int) ([]domain.DeadLetter, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	m.dlMu.RLock()
	defer m.dlMu.RUnlock()

	letters := make([]domain.DeadLetter, 0, limit)
	for i := len(m.dlOrder) - 1; i >= 0 && len(letters) < limit; i-- {
		dl := m.deadLetters[m.dlOrder[i]]
		if subscriptionID != "" && dl.SubscriptionID != subscriptionID {
			continue
		}
		if resolved != (dl.ResolvedAt != nil) {
			continue
		}
		letters = append(letters, *dl)
	}
	return letters, nil
}

func (m *MemoryStore) GetDeadLetter(ctx context.Context, id string) (*domain.DeadLetter, error) {
	m.dlMu.RLock()
	dl, ok := m.deadLetters[id]
	m.dlMu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *dl
	return &out, nil
}

func (m *MemoryStore) ResolveDeadLetter(ctx context.Context, id, resolvedBy string) error {
	m.dlMu.Lock()
	defer m.dlMu.Unlock()

	dl, ok := m.deadLetters[id]
	if !ok || dl.ResolvedAt != nil {
		return domain.ErrNotFound
	}
	now := time.Now().UTC()
	dl.ResolvedAt = &now
	dl.ResolvedBy = resolvedBy
	return nil
}

func (m *MemoryStore) purgeDeadLetters(subscriptionID string) {
	m.dlMu.Lock()
	defer m.dlMu.Unlock()

	kept := m.dlOrder[:0]
	for _, id := range m.dlOrder {
		if m.deadLetters[id].SubscriptionID == subscriptionID {
			delete(m.deadLetters, id)
			continue
		}
		kept = append(kept, id)
	}
	m.dlOrder = kept
}

func (m *MemoryStore) Metrics(ctx context.Context) (*DeliveryMetrics, error) {
	var metrics DeliveryMetrics

	m.ledgerMu.RLock()
	for _, a := range m.attempts {
		metrics.TotalDeliveries++
		switch a.Status {
		case domain.StatusSent:
			metrics.SentCount++
		case domain.StatusFailed:
			metrics.FailedCount++
		}
	}
	m.ledgerMu.RUnlock()

	if metrics.TotalDeliveries > 0 {
		metrics.SuccessRate = float64(metrics.SentCount) / float64(metrics.TotalDeliveries) * 100
	}

	m.dlMu.RLock()
	for _, dl := range m.deadLetters {
		if dl.ResolvedAt == nil {
			metrics.DeadLetterCount++
		}
	}
	m.dlMu.RUnlock()

	m.mu.RLock()
	for _, entry := range m.subs {
		entry.mu.Lock()
		if entry.sub.Enabled {
			metrics.ActiveSubscriptions++
		}
		entry.mu.Unlock()
	}
	m.mu.RUnlock()

	return &metrics, nil
}

func copySubscription(sub domain.Subscription) domain.Subscription {
	sub.EventTypes = append([]string(nil), sub.EventTypes...)
	if sub.CustomHeaders != nil {
		headers := make(map[string]string, len(sub.CustomHeaders))
		for k, v := range sub.CustomHeaders {
			headers[k] = v
		}
		sub.CustomHeaders = headers
	}
	return sub
}

func copyAttempt(a domain.DeliveryAttempt) domain.DeliveryAttempt {
	a.Payload = append([]byte(nil), a.Payload...)
	if a.LastAttemptAt != nil {
		at := *a.LastAttemptAt
		a.LastAttemptAt = &at
	}
	if a.LastResponse != nil {
		resp := *a.LastResponse
		resp.Headers = resp.Headers.Clone()
		a.LastResponse = &resp
	}
	return a
}
