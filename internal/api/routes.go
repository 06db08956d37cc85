package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the API router.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Post("/emails", h.SendEmail)
		r.Post("/emails/batch", h.SendEmailBatch)

		r.Get("/queue/stats", h.GetQueueStats)

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", h.GetCampaigns)
			r.Post("/", h.CreateCampaign)
			r.Get("/{campaignID}", h.GetCampaign)
			r.Delete("/{campaignID}", h.DeleteCampaign)
			r.Post("/{campaignID}/send", h.SendCampaign)
		})

		r.Route("/lists", func(r chi.Router) {
			r.Get("/", h.GetLists)
			r.Post("/", h.CreateList)
			r.Get("/{listID}", h.GetList)
			r.Get("/{listID}/recipients", h.GetListRecipients)
			r.Post("/{listID}/recipients", h.AddRecipient)
			r.Delete("/{listID}/recipients", h.RemoveRecipient)
		})

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", h.GetTemplates)
			r.Post("/", h.CreateTemplate)
			r.Get("/{templateID}", h.GetTemplate)
			r.Delete("/{templateID}", h.DeleteTemplate)
		})
	})

	return r
}
