package provider

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(corsMiddleware(s.opts.AllowedOrigin))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.HandleHealth)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}
	if s.opts.Events != nil {
		r.Method(http.MethodGet, "/ws/outcomes", s.opts.Events)
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(rateLimitMiddleware(s.opts.RateLimitRPS, s.opts.RateLimitBurst))

		api.Get("/backends", s.HandleBackends)

		api.Group(func(api chi.Router) {
			api.Use(middleware.Timeout(s.opts.RequestTimeout))
			api.Get("/search", s.HandleSearch)
			api.Get("/streamurl", s.HandleStreamURL)
		})

		// the handler bounds resolution itself so the byte relay can outlive it
		api.Get("/download", s.HandleDownload)
	})

	return r
}
