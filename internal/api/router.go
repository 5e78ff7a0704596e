// Package api is the JSON admin surface: run health, batch inspection,
// manual run control and a metrics snapshot. Deployment puts it behind
// its own auth; the handlers carry none.
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes wires the admin router.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/batches", h.ListBatches)
		r.Post("/batches/run", h.RunBatch)
		r.Get("/batches/{batchID}", h.GetBatch)
		r.Post("/batches/{batchID}/cancel", h.CancelBatch)
		r.Get("/metrics", h.Metrics)
		r.Get("/scheduler/jobs", h.SchedulerJobs)
	})

	return r
}
