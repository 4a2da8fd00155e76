package http

import (
	"net/http"
	wsDelivery "wssimple/internal/delivery/websocket"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the base router. trustProxy rewrites RemoteAddr from
// X-Forwarded-For / X-Real-IP, which the per-IP connection cap keys on, so it
// must only be set behind a proxy that overwrites those headers.
func NewRouter(trustProxy bool) *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	if trustProxy {
		router.Use(middleware.RealIP)
	}
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	return router
}

func MapHttpRoutes(r chi.Router, httpHandler *HttpHandler, websocketHandler *wsDelivery.WebsocketHandler, authMiddleware *AuthMiddleware, metricsHandler http.Handler) {
	r.Get("/ws", websocketHandler.HandleWebSocket)
	r.Get("/healthz", httpHandler.Health)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	// Admin routes
	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.RequireAPIKey)

		r.Route("/connections", func(r chi.Router) {
			r.Get("/", httpHandler.ListConnections)
			r.Get("/{id}", httpHandler.GetConnection)
			r.Delete("/{id}", httpHandler.DisconnectConnection)
			r.Post("/{id}/send", httpHandler.SendToConnection)
			r.Get("/{id}/messages", httpHandler.ListMessages)
			r.Delete("/{id}/messages", httpHandler.DeleteMessages)
		})

		r.Post("/broadcast", httpHandler.Broadcast)
		r.Get("/users/{userId}/connections", httpHandler.ListUserConnections)
	})
}
