package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flowboard/webhook-engine/internal/domain"
	"github.com/google/uuid"
)

func validCreateReq() domain.CreateSubscriptionRequest {
	return domain.CreateSubscriptionRequest{
		Name:   "billing hooks",
		URL:    "https://example.com/hooks",
		Events: []string{domain.EventCardCreated, domain.EventCardUpdated},
	}
}

func TestCreateSubscription_Defaults(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	sub, err := m.CreateSubscription(ctx, validCreateReq())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if sub.ID == "" {
		t.Error("id should be generated")
	}
	if !sub.Enabled {
		t.Error("subscriptions should start enabled")
	}
	if sub.MaxRetries != DefaultMaxRetries {
		t.Errorf("max retries = %d, want default %d", sub.MaxRetries, DefaultMaxRetries)
	}
	if sub.Timeout != DefaultTimeout {
		t.Errorf("timeout = %s, want default %s", sub.Timeout, DefaultTimeout)
	}
	if !strings.HasPrefix(sub.Secret, "whsec_") {
		t.Errorf("generated secret %q should carry the whsec_ prefix", sub.Secret)
	}
}

func TestCreateSubscription_SuppliedSecret(t *testing.T) {
	m := NewMemory()

	req := validCreateReq()
	req.Secret = "my-own-secret"

	sub, err := m.CreateSubscription(context.Background(), req)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if sub.Secret != "my-own-secret" {
		t.Errorf("supplied secret should be kept, got %q", sub.Secret)
	}
}

func TestCreateSubscription_Validation(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*domain.CreateSubscriptionRequest)
	}{
		{"missing name", func(r *domain.CreateSubscriptionRequest) { r.Name = "" }},
		{"missing url", func(r *domain.CreateSubscriptionRequest) { r.URL = "" }},
		{"relative url", func(r *domain.CreateSubscriptionRequest) { r.URL = "/hooks" }},
		{"bad scheme", func(r *domain.CreateSubscriptionRequest) { r.URL = "ftp://example.com/hooks" }},
		{"empty events", func(r *domain.CreateSubscriptionRequest) { r.Events = nil }},
		{"unknown event", func(r *domain.CreateSubscriptionRequest) { r.Events = []string{"card.exploded"} }},
		{"negative retries", func(r *domain.CreateSubscriptionRequest) {
			n := -1
			r.MaxRetries = &n
		}},
		{"zero timeout", func(r *domain.CreateSubscriptionRequest) {
			n := 0
			r.TimeoutSeconds = &n
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validCreateReq()
			tt.mutate(&req)

			_, err := m.CreateSubscription(ctx, req)
			if !domain.IsValidation(err) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestFindActiveFor(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	sub, err := m.CreateSubscription(ctx, validCreateReq())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	matches, err := m.FindActiveFor(ctx, domain.EventCardCreated)
	if err != nil {
		t.Fatalf("findActiveFor failed: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != sub.ID {
		t.Fatalf("expected the registered subscription, got %+v", matches)
	}

	// an event type outside the subscription's set does not match
	matches, _ = m.FindActiveFor(ctx, domain.EventTeamMemberAdded)
	if len(matches) != 0 {
		t.Errorf("expected no matches for unsubscribed event type, got %d", len(matches))
	}

	// disabling excludes the subscription
	if err := m.SetSubscriptionEnabled(ctx, sub.ID, false); err != nil {
		t.Fatalf("disable failed: %v", err)
	}
	matches, _ = m.FindActiveFor(ctx, domain.EventCardCreated)
	if len(matches) != 0 {
		t.Errorf("disabled subscription should be excluded, got %d matches", len(matches))
	}

	// re-enabling restores it
	if err := m.SetSubscriptionEnabled(ctx, sub.ID, true); err != nil {
		t.Fatalf("enable failed: %v", err)
	}
	matches, _ = m.FindActiveFor(ctx, domain.EventCardCreated)
	if len(matches) != 1 {
		t.Errorf("re-enabled subscription should match again")
	}
}

func TestFindActiveFor_RegistrationOrder(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		req := validCreateReq()
		req.Name = fmt.Sprintf("sub-%d", i)
		sub, err := m.CreateSubscription(ctx, req)
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		ids = append(ids, sub.ID)
	}

	matches, err := m.FindActiveFor(ctx, domain.EventCardCreated)
	if err != nil {
		t.Fatalf("findActiveFor failed: %v", err)
	}
	if len(matches) != 5 {
		t.Fatalf("expected 5 matches, got %d", len(matches))
	}
	for i, match := range matches {
		if match.ID != ids[i] {
			t.Errorf("position %d: got %s, want %s (registration order)", i, match.ID, ids[i])
		}
	}
}

func TestUpdateSubscription(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	sub, _ := m.CreateSubscription(ctx, validCreateReq())
	before := sub.UpdatedAt

	name := "renamed"
	retries := 7
	updated, err := m.UpdateSubscription(ctx, sub.ID, domain.UpdateSubscriptionRequest{
		Name:       &name,
		MaxRetries: &retries,
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	if updated.Name != "renamed" || updated.MaxRetries != 7 {
		t.Errorf("patched fields not applied: %+v", updated)
	}
	if updated.TargetURL != sub.TargetURL {
		t.Error("unpatched fields should be untouched")
	}
	if !updated.UpdatedAt.After(before) && !updated.UpdatedAt.Equal(before) {
		t.Error("updated_at should be refreshed")
	}

	_, err = m.UpdateSubscription(ctx, "unknown-id", domain.UpdateSubscriptionRequest{Name: &name})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown id, got %v", err)
	}

	bad := "not-a-url"
	_, err = m.UpdateSubscription(ctx, sub.ID, domain.UpdateSubscriptionRequest{URL: &bad})
	if !domain.IsValidation(err) {
		t.Errorf("expected ValidationError for bad url, got %v", err)
	}
}

func TestDeleteSubscription_CascadesLedger(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	sub, _ := m.CreateSubscription(ctx, validCreateReq())

	for i := 0; i < 3; i++ {
		attempt := &domain.DeliveryAttempt{
			ID:             uuid.NewString(),
			SubscriptionID: sub.ID,
			EventType:      domain.EventCardCreated,
			Payload:        json.RawMessage(`{}`),
			Status:         domain.StatusPending,
			CreatedAt:      time.Now(),
		}
		if err := m.RecordAttempt(ctx, attempt); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}

	if err := m.DeleteSubscription(ctx, sub.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if _, err := m.GetSubscription(ctx, sub.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("deleted subscription should be gone, got %v", err)
	}

	matches, _ := m.FindActiveFor(ctx, domain.EventCardCreated)
	for _, match := range matches {
		if match.ID == sub.ID {
			t.Error("deleted subscription must never be returned again")
		}
	}

	attempts, err := m.ListAttempts(ctx, sub.ID, "", 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(attempts) != 0 {
		t.Errorf("ledger should be purged on delete, got %d entries", len(attempts))
	}

	if err := m.DeleteSubscription(ctx, sub.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("double delete should report ErrNotFound, got %v", err)
	}
}

func TestRecordAttempt_Idempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	attempt := &domain.DeliveryAttempt{
		ID:             uuid.NewString(),
		SubscriptionID: "sub-1",
		EventType:      domain.EventCardCreated,
		Payload:        json.RawMessage(`{"n":1}`),
		Status:         domain.StatusPending,
		CreatedAt:      time.Now(),
	}

	if err := m.RecordAttempt(ctx, attempt); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := m.RecordAttempt(ctx, attempt); err != nil {
		t.Fatalf("re-record failed: %v", err)
	}

	attempts, _ := m.ListAttempts(ctx, "sub-1", "", 0)
	if len(attempts) != 1 {
		t.Fatalf("duplicate record should not add a second entry, got %d", len(attempts))
	}

	// upsert reflects the latest state
	attempt.Status = domain.StatusSent
	attempt.AttemptCount = 1
	if err := m.RecordAttempt(ctx, attempt); err != nil {
		t.Fatalf("update record failed: %v", err)
	}

	got, err := m.GetAttempt(ctx, attempt.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != domain.StatusSent || got.AttemptCount != 1 {
		t.Errorf("upsert should reflect latest state, got %+v", got)
	}
}

func TestListAttempts_OrderAndLimit(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 60; i++ {
		attempt := &domain.DeliveryAttempt{
			ID:             uuid.NewString(),
			SubscriptionID: "sub-1",
			EventType:      domain.EventCardCreated,
			Payload:        json.RawMessage(`{}`),
			Status:         domain.StatusPending,
			CreatedAt:      time.Now(),
		}
		m.RecordAttempt(ctx, attempt)
		ids = append(ids, attempt.ID)
	}

	attempts, err := m.ListAttempts(ctx, "sub-1", "", 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(attempts) != DefaultListLimit {
		t.Fatalf("default limit should apply, got %d entries", len(attempts))
	}
	if attempts[0].ID != ids[len(ids)-1] {
		t.Error("listing should be most-recent-first")
	}

	attempts, _ = m.ListAttempts(ctx, "sub-1", "", 10)
	if len(attempts) != 10 {
		t.Errorf("explicit limit should apply, got %d", len(attempts))
	}
}

func TestConcurrentMutations(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		sub, err := m.CreateSubscription(ctx, validCreateReq())
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		ids = append(ids, sub.ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(id string, i int) {
				defer wg.Done()
				name := fmt.Sprintf("worker-%d", i)
				if _, err := m.UpdateSubscription(ctx, id, domain.UpdateSubscriptionRequest{Name: &name}); err != nil {
					t.Errorf("concurrent update failed: %v", err)
				}
			}(id, i)
		}
	}
	wg.Wait()

	subs, _ := m.ListSubscriptions(ctx)
	if len(subs) != 4 {
		t.Fatalf("expected 4 subscriptions after concurrent updates, got %d", len(subs))
	}
}

func TestConcurrentRecord_DistinctAttempts(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			attempt := &domain.DeliveryAttempt{
				ID:             uuid.NewString(),
				SubscriptionID: "sub-1",
				EventType:      domain.EventCardCreated,
				Payload:        json.RawMessage(`{}`),
				Status:         domain.StatusPending,
				CreatedAt:      time.Now(),
			}
			if err := m.RecordAttempt(ctx, attempt); err != nil {
				t.Errorf("concurrent record failed: %v", err)
			}
		}()
	}
	wg.Wait()

	attempts, _ := m.ListAttempts(ctx, "sub-1", "", n)
	if len(attempts) != n {
		t.Errorf("no attempts may be lost under concurrent record: got %d, want %d", len(attempts), n)
	}
}

func TestDeadLetters(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	dl := &domain.DeadLetter{
		ID:             uuid.NewString(),
		AttemptID:      uuid.NewString(),
		SubscriptionID: "sub-1",
		EventType:      domain.EventCardCreated,
		TotalAttempts:  4,
		LastError:      "endpoint returned 500",
		CreatedAt:      time.Now(),
	}
	if err := m.InsertDeadLetter(ctx, dl); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	letters, err := m.ListDeadLetters(ctx, "sub-1", false, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("expected 1 unresolved dead letter, got %d", len(letters))
	}

	if err := m.ResolveDeadLetter(ctx, dl.ID, "oncall"); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	letters, _ = m.ListDeadLetters(ctx, "sub-1", false, 0)
	if len(letters) != 0 {
		t.Error("resolved dead letter should leave the unresolved list")
	}
	letters, _ = m.ListDeadLetters(ctx, "sub-1", true, 0)
	if len(letters) != 1 || letters[0].ResolvedBy != "oncall" {
		t.Errorf("resolved listing wrong: %+v", letters)
	}

	if err := m.ResolveDeadLetter(ctx, dl.ID, "again"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("double resolve should report ErrNotFound, got %v", err)
	}
}
