package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lol-draft-client/internal/hub"
	"github.com/DoyleJ11/lol-draft-client/internal/ws"
)

func SetupRoutes(h *hub.Hub, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, log.Named("ws")))

	r.Route("/games", func(r chi.Router) {
		r.Post("/", CreateGame(h))
		r.Route("/{code}", func(r chi.Router) {
			r.Post("/seats", AddSeat(h))
			r.Post("/start", StartGame(h))
			r.Post("/rounds", CompleteRound(h))
			r.Post("/seats/{seat}/kick", KickSeat(h))
			r.Get("/", GameState(h))
		})
	})
	return r
}
