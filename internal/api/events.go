package api

import (
	"encoding/json"
	"net/http"

	"github.com/flowboard/webhook-engine/internal/domain"
	"github.com/flowboard/webhook-engine/internal/engine"
)

// EventHandler is the HTTP trigger surface consumed by business-event
// producers (the card/project CRUD handlers). Triggering is fire-and-forget:
// the response only confirms that delivery jobs were queued, never that any
// delivery succeeded.
type EventHandler struct {
	router *engine.Router
}

func NewEventHandler(router *engine.Router) *EventHandler {
	return &EventHandler{router: router}
}

type triggerEventRequest struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

type triggerEventResponse struct {
	EventType        string `json:"event_type"`
	DeliveriesQueued int    `json:"deliveries_queued"`
}

func (h *EventHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req triggerEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.EventType == "" {
		respondError(w, http.StatusBadRequest, "event_type is required")
		return
	}
	if len(req.Payload) == 0 || !json.Valid(req.Payload) {
		respondError(w, http.StatusBadRequest, "payload must be valid JSON")
		return
	}

	queued, err := h.router.Trigger(r.Context(), req.EventType, req.Payload)
	if err != nil {
		respondDomainError(w, err, "failed to trigger event")
		return
	}

	respondJSON(w, http.StatusAccepted, triggerEventResponse{
		EventType:        req.EventType,
		DeliveriesQueued: queued,
	})
}

// Catalog lists the closed set of event types subscriptions may reference.
func (h *EventHandler) Catalog(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string][]string{"event_types": domain.EventTypes()})
}
