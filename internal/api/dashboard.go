package api

import (
	"net/http"

	"github.com/flowboard/webhook-engine/internal/engine"
	"github.com/flowboard/webhook-engine/internal/store"
	ws "github.com/flowboard/webhook-engine/internal/websocket"
)

type DashboardHandler struct {
	store  store.Store
	router *engine.Router
	hub    *ws.Hub
}

func NewDashboardHandler(s store.Store, router *engine.Router, hub *ws.Hub) *DashboardHandler {
	return &DashboardHandler{store: s, router: router, hub: hub}
}

// Metrics returns aggregated system metrics for the dashboard.
func (h *DashboardHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.store.Metrics(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get metrics")
		return
	}

	queueDepth, err := h.router.QueueDepth(r.Context())
	if err != nil {
		queueDepth = 0
	}

	type metricsResponse struct {
		store.DeliveryMetrics
		QueueDepth       int64 `json:"queue_depth"`
		WebSocketClients int   `json:"websocket_clients"`
	}

	respondJSON(w, http.StatusOK, metricsResponse{
		DeliveryMetrics:  *metrics,
		QueueDepth:       queueDepth,
		WebSocketClients: h.hub.ClientCount(),
	})
}
