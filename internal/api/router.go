// Package api assembles the HTTP router: middleware chain, CORS policy,
// and the full route table.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/scottatquimbi/quimbi-platform/internal/api/handlers"
	"github.com/scottatquimbi/quimbi-platform/internal/api/middleware"
	"github.com/scottatquimbi/quimbi-platform/internal/config"
	"github.com/scottatquimbi/quimbi-platform/internal/metrics"
	"github.com/scottatquimbi/quimbi-platform/internal/ratelimit"
	"github.com/scottatquimbi/quimbi-platform/internal/tenant"
)

// NewRouter creates the HTTP router with all API routes. The tenant
// router middleware runs after logging so refusals (429, 401) are still
// logged, and before telemetry so spans carry the tenant slug.
func NewRouter(cfg *config.Config, h *handlers.Handlers, registry *tenant.Registry, limiter *ratelimit.Limiter) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Correlation)
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Security.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-API-Key", "X-Admin-Key", "X-Correlation-ID"},
		ExposedHeaders:   []string{"X-Correlation-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.NewTenantRouter(registry, limiter).Middleware)
	if cfg.Telemetry.Enabled {
		r.Use(middleware.Telemetry)
	}

	// Health & metrics (public, never tenant-scoped)
	r.Get("/health", h.Health)
	r.Get("/health/live", h.HealthLive)
	r.Get("/health/ready", h.HealthReady)
	if cfg.EnablePrometheus {
		r.Handle("/metrics", metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		// Provider webhooks
		r.Post("/gorgias/webhook", h.ReceiveWebhook)
		r.Post("/webhooks/{provider}", h.ReceiveWebhook)

		// Tickets
		r.Route("/tickets", func(r chi.Router) {
			r.Get("/", h.ListTickets)
			r.Post("/", h.CreateTicket)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetTicket)
				r.Patch("/", h.UpdateTicket)
				r.Post("/messages", h.AppendMessage)
				r.Get("/notes", h.ListNotes)
				r.Post("/notes", h.AddNote)
				r.Get("/score-breakdown", h.ScoreBreakdown)
				r.Post("/reset-conversation", h.ResetConversation)
			})
		})

		// AI surface
		r.Route("/ai/tickets/{id}", func(r chi.Router) {
			r.Get("/recommendation", h.GetRecommendation)
			r.Get("/draft-response", h.GetDraft)
			r.Post("/draft-response/regenerate", h.RegenerateDraft)
			r.Patch("/recommendation/actions/{index}", h.MarkAction)
		})

		// MCP query surface
		r.Route("/mcp", func(r chi.Router) {
			r.Post("/query", h.MCPQuery)
			r.Post("/query/natural-language", h.MCPNaturalLanguage)
		})

		// Tenant administration
		r.Route("/admin/tenants", func(r chi.Router) {
			r.Get("/", h.ListTenants)
			r.Post("/", h.CreateTenant)
		})
	})

	return r
}
