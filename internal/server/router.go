package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/deskmate-ai/deskmate/internal/api"
	"github.com/deskmate-ai/deskmate/internal/api/handlers"
	"github.com/deskmate-ai/deskmate/internal/api/middleware"
)

const maxBodyBytes int64 = 5 * 1024 * 1024

// RouterConfig holds the handlers the router wires up.
type RouterConfig struct {
	ChatHandler     *handlers.ChatHandler
	FeedbackHandler *handlers.FeedbackHandler
	StatsHandler    *handlers.StatsHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/chat", cfg.ChatHandler.Ask)
	r.Post("/chat/stream", cfg.ChatHandler.AskStream)

	r.Post("/feedback", cfg.FeedbackHandler.Record)
	r.Patch("/feedback/{id}", cfg.FeedbackHandler.Transition)

	r.Get("/stats", cfg.StatsHandler.Get)

	return r
}
