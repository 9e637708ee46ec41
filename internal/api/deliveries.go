package api

import (
	"net/http"
	"strconv"

	"github.com/flowboard/webhook-engine/internal/store"
	"github.com/go-chi/chi/v5"
)

type DeliveryHandler struct {
	store store.Store
}

func NewDeliveryHandler(s store.Store) *DeliveryHandler {
	return &DeliveryHandler{store: s}
}

func (h *DeliveryHandler) List(w http.ResponseWriter, r *http.Request) {
	subscriptionID := r.URL.Query().Get("subscription_id")
	status := r.URL.Query().Get("status")
	limitStr := r.URL.Query().Get("limit")

	limit := 0
	if limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}

	attempts, err := h.store.ListAttempts(r.Context(), subscriptionID, status, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list delivery attempts")
		return
	}

	respondJSON(w, http.StatusOK, attempts)
}

func (h *DeliveryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	attempt, err := h.store.GetAttempt(r.Context(), id)
	if err != nil {
		respondDomainError(w, err, "failed to get delivery attempt")
		return
	}

	respondJSON(w, http.StatusOK, attempt)
}
