package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"lehengaTryOn/internal/config"
	"lehengaTryOn/internal/tryon"
)

// NewRouter wires routes and middleware.
func NewRouter(cfg *config.Config, handler tryon.Handler, logger zerolog.Logger) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(AccessLog(logger))
	router.Use(middleware.Recoverer)

	limiter := NewRateLimiter(cfg.HTTP.RateLimitPerMin)

	router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	router.Get("/", handler.Form)
	router.With(limiter.Middleware).Post("/tryon", handler.Submit)

	router.Route("/api", func(r chi.Router) {
		r.Get("/models", handler.Models)
		r.Get("/events", handler.StreamEvents)
		r.Group(func(r chi.Router) {
			r.Use(limiter.Middleware)
			r.Post("/tryon", handler.API)
			r.Post("/tryon/download", handler.Download)
		})
	})

	return router
}

// New constructs the HTTP server with routes and middleware.
func New(cfg *config.Config, handler tryon.Handler, logger zerolog.Logger) *http.Server {
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      NewRouter(cfg, handler, logger),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	logger.Info().Str("addr", srv.Addr).Msg("server ready")
	return srv
}
