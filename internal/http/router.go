package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/SteamVC/pairchat/internal/handlers"
)

func NewRouter(h *handlers.RoomHandler, wsHandler *handlers.WebSocketHandler, metricsHandler http.Handler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/api/v1/healthz", handlers.Health)

	r.Route("/api/v1/room", func(r chi.Router) {
		r.Post("/create", h.Create)
		r.Get("/{code}", h.Get)
	})

	// WebSocketエンドポイント
	r.Get("/ws", wsHandler.HandleWebSocket)
	r.Handle("/metrics", metricsHandler)

	return r
}
