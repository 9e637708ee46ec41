package api

import (
	"net/http"

	"github.com/flowboard/webhook-engine/internal/engine"
	"github.com/flowboard/webhook-engine/internal/store"
	ws "github.com/flowboard/webhook-engine/internal/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(s store.Store, eventRouter *engine.Router, health *engine.HealthTracker, hub *ws.Hub) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// CORS for dashboard
	r.Use(corsMiddleware)

	subHandler := NewSubscriptionHandler(s, health)
	eventHandler := NewEventHandler(eventRouter)
	deliveryHandler := NewDeliveryHandler(s)
	dlqHandler := NewDeadLetterHandler(s)
	dashHandler := NewDashboardHandler(s, eventRouter, hub)

	// WebSocket delivery feed
	r.Get("/ws", hub.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler())

		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/", subHandler.Create)
			r.Get("/", subHandler.List)
			r.Get("/{id}", subHandler.Get)
			r.Patch("/{id}", subHandler.Update)
			r.Post("/{id}/enable", subHandler.Enable)
			r.Post("/{id}/disable", subHandler.Disable)
			r.Delete("/{id}", subHandler.Delete)
		})

		r.Route("/events", func(r chi.Router) {
			r.Post("/", eventHandler.Trigger)
			r.Get("/types", eventHandler.Catalog)
		})

		r.Route("/deliveries", func(r chi.Router) {
			r.Get("/", deliveryHandler.List)
			r.Get("/{id}", deliveryHandler.Get)
		})

		r.Route("/dead-letters", func(r chi.Router) {
			r.Get("/", dlqHandler.List)
			r.Get("/{id}", dlqHandler.Get)
			r.Post("/{id}/resolve", dlqHandler.Resolve)
		})

		r.Get("/metrics", dashHandler.Metrics)
	})

	return r
}

// corsMiddleware adds CORS headers for dashboard development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
