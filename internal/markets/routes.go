package markets

import "github.com/go-chi/chi/v5"

// MountRoutes registers the market structure endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/projects", h.createProject)
	r.Route("/projects/{projectID}", func(r chi.Router) {
		r.Get("/", h.getProject)
		r.Put("/settings", h.updateSettings)
		r.Post("/lots", h.addLot)
		r.Get("/articles", h.listArticles)
		r.Get("/progress", h.progress)
		r.Post("/import", h.importWorkbook)
	})
	r.Get("/import/template", h.importTemplate)
	r.Post("/lots/{lotID}/articles", h.addArticle)
	r.Post("/articles/{articleID}/tasks", h.addTask)
	r.Post("/tasks/{taskID}/subtasks", h.addSubtask)
	r.Patch("/subtasks/{subtaskID}", h.updateSubtask)
}
