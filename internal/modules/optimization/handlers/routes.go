package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all optimizer routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/optimizer", func(r chi.Router) {
		// Solvers
		r.Post("/allocate", h.HandleAllocate)
		r.Post("/sweep", h.HandleSweep)

		// Frontier
		r.Post("/frontier", h.HandleFrontier)
		r.Get("/frontier/stream", h.HandleFrontierStream)

		r.Get("/synthetic", h.HandleSynthetic)

		// Run history
		r.Get("/runs", h.HandleListRuns)
		r.Get("/runs/{id}", h.HandleGetRun)
	})
}
