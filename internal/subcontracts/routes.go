package subcontracts

import "github.com/go-chi/chi/v5"

// MountRoutes registers subcontract endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/projects/{projectID}/subcontracts", h.create)
	r.Route("/subcontracts/{subcontractID}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Post("/items", h.addItem)
		r.Get("/bills", h.listBills)
		r.Post("/bills", h.createBill)
	})
	r.Route("/bills/{billID}", func(r chi.Router) {
		r.Get("/", h.getBill)
		r.Patch("/lines", h.updateLines)
		r.Post("/validate", h.validateBill)
		r.Post("/pay", h.payBill)
	})
}
