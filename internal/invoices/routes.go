package invoices

import "github.com/go-chi/chi/v5"

// MountRoutes registers invoice endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/projects/{projectID}/invoices", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.generate)
		r.Post("/preview", h.preview)
	})
	r.Route("/invoices/{invoiceID}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Patch("/items", h.updateItems)
		r.Post("/validate", h.validate)
		r.Post("/account", h.account)
		r.Get("/export", h.export)
	})
}
