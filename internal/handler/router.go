package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// Pinger is anything /health should check, typically the database pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthResponse struct {
	Status string `json:"status"`
}

type RouteRegistrar interface {
	RegisterRoutes(router chi.Router)
}

// NewRouter mounts the handlers behind the standard middleware stack. A nil
// pinger makes /health always report ok.
func NewRouter(pinger Pinger, handlers ...RouteRegistrar) *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if pinger != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := pinger.Ping(ctx); err != nil {
				log.Error().Err(err).Msg("Health check failed")
				respondWithJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable"})
				return
			}
		}
		respondWithJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
	})

	for _, h := range handlers {
		h.RegisterRoutes(router)
	}
	return router
}
