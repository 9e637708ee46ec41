package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/flowboard/webhook-engine/internal/store"
	"github.com/go-chi/chi/v5"
)

type DeadLetterHandler struct {
	store store.Store
}

func NewDeadLetterHandler(s store.Store) *DeadLetterHandler {
	return &DeadLetterHandler{store: s}
}

func (h *DeadLetterHandler) List(w http.ResponseWriter, r *http.Request) {
	subscriptionID := r.URL.Query().Get("subscription_id")
	resolved := r.URL.Query().Get("resolved") == "true"

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}

	letters, err := h.store.ListDeadLetters(r.Context(), subscriptionID, resolved, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}

	respondJSON(w, http.StatusOK, letters)
}

func (h *DeadLetterHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	letter, err := h.store.GetDeadLetter(r.Context(), id)
	if err != nil {
		respondDomainError(w, err, "failed to get dead letter")
		return
	}

	respondJSON(w, http.StatusOK, letter)
}

type resolveRequest struct {
	ResolvedBy string `json:"resolved_by"`
}

func (h *DeadLetterHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.ResolvedBy == "" {
		req.ResolvedBy = "manual"
	}

	if err := h.store.ResolveDeadLetter(r.Context(), id, req.ResolvedBy); err != nil {
		respondDomainError(w, err, "failed to resolve dead letter")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}
