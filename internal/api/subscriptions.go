package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/flowboard/webhook-engine/internal/domain"
	"github.com/flowboard/webhook-engine/internal/engine"
	"github.com/flowboard/webhook-engine/internal/store"
	"github.com/go-chi/chi/v5"
)

// SubscriptionHandler is the management surface over the subscription
// registry. Secrets never appear in responses; the Subscription JSON tags
// already exclude them.
type SubscriptionHandler struct {
	store  store.Store
	health *engine.HealthTracker
}

func NewSubscriptionHandler(s store.Store, health *engine.HealthTracker) *SubscriptionHandler {
	return &SubscriptionHandler{store: s, health: health}
}

// subscriptionView is a subscription merged with its delivery health.
type subscriptionView struct {
	domain.Subscription
	Health domain.SubscriptionHealth `json:"health"`
}

func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := h.store.CreateSubscription(r.Context(), req)
	if err != nil {
		respondDomainError(w, err, "failed to create subscription")
		return
	}

	respondJSON(w, http.StatusCreated, sub)
}

func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	subs, err := h.store.ListSubscriptions(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}

	views := make([]subscriptionView, 0, len(subs))
	for _, sub := range subs {
		views = append(views, subscriptionView{
			Subscription: sub,
			Health:       h.health.Snapshot(r.Context(), sub.ID),
		})
	}

	respondJSON(w, http.StatusOK, views)
}

func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub, err := h.store.GetSubscription(r.Context(), id)
	if err != nil {
		respondDomainError(w, err, "failed to get subscription")
		return
	}

	view := subscriptionView{
		Subscription: *sub,
		Health:       h.health.Snapshot(r.Context(), id),
	}

	// ?deliveries=N embeds the N most recent ledger entries
	if raw := r.URL.Query().Get("deliveries"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			respondError(w, http.StatusBadRequest, "deliveries must be a positive integer")
			return
		}

		attempts, err := h.store.ListAttempts(r.Context(), id, "", limit)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to list deliveries")
			return
		}

		respondJSON(w, http.StatusOK, struct {
			subscriptionView
			RecentDeliveries []domain.DeliveryAttempt `json:"recent_deliveries"`
		}{view, attempts})
		return
	}

	respondJSON(w, http.StatusOK, view)
}

func (h *SubscriptionHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req domain.UpdateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := h.store.UpdateSubscription(r.Context(), id, req)
	if err != nil {
		respondDomainError(w, err, "failed to update subscription")
		return
	}

	respondJSON(w, http.StatusOK, sub)
}

func (h *SubscriptionHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

func (h *SubscriptionHandler) Disable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *SubscriptionHandler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := chi.URLParam(r, "id")

	if err := h.store.SetSubscriptionEnabled(r.Context(), id, enabled); err != nil {
		respondDomainError(w, err, "failed to toggle subscription")
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"enabled": enabled})
}

func (h *SubscriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.store.DeleteSubscription(r.Context(), id); err != nil {
		respondDomainError(w, err, "failed to delete subscription")
		return
	}

	h.health.Clear(r.Context(), id)

	w.WriteHeader(http.StatusNoContent)
}
