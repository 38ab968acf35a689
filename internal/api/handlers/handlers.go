// Package handlers implements the HTTP surface of the support gateway:
// tickets, AI recommendations, the MCP query surface, provider webhooks,
// tenant administration, and health probes.
package handlers

import (
	"net/http"

	"github.com/scottatquimbi/quimbi-platform/internal/cache"
	"github.com/scottatquimbi/quimbi-platform/internal/ingest"
	"github.com/scottatquimbi/quimbi-platform/internal/nlquery"
	"github.com/scottatquimbi/quimbi-platform/internal/ratelimit"
	"github.com/scottatquimbi/quimbi-platform/internal/store"
	"github.com/scottatquimbi/quimbi-platform/internal/tenant"
	"github.com/scottatquimbi/quimbi-platform/internal/ticket"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store    store.Store
	Cache    cache.Cache
	Tickets  *ticket.Service
	Queries  *nlquery.Router
	Pipeline *ingest.Pipeline
	Registry *tenant.Registry

	// AdminKey gates the tenant administration surface.
	AdminKey string

	// NLQuota is the tighter per-client budget for the natural-language
	// query endpoint, on top of the global limiter.
	NLQuota *ratelimit.Limiter
}

// New creates a Handlers instance.
func New(st store.Store, c cache.Cache, tickets *ticket.Service, queries *nlquery.Router,
	pipeline *ingest.Pipeline, registry *tenant.Registry, adminKey string, nlQuota *ratelimit.Limiter) *Handlers {
	return &Handlers{
		Store:    st,
		Cache:    c,
		Tickets:  tickets,
		Queries:  queries,
		Pipeline: pipeline,
		Registry: registry,
		AdminKey: adminKey,
		NLQuota:  nlQuota,
	}
}

// ── Health ───────────────────────────────────────────────────

// HealthLive reports process liveness.
func (h *Handlers) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady reports readiness: the store must answer, the cache may be
// degraded without failing the probe.
func (h *Handlers) HealthReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"store": "ok", "cache": "ok"}
	status := http.StatusOK

	if err := h.Store.Ping(r.Context()); err != nil {
		checks["store"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if err := h.Cache.Ping(r.Context()); err != nil {
		checks["cache"] = "degraded: " + err.Error()
	}

	overall := "ready"
	if status != http.StatusOK {
		overall = "unavailable"
	}
	respondJSON(w, status, map[string]any{
		"status": overall,
		"checks": checks,
	})
}

// Health is the plain liveness alias.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.HealthLive(w, r)
}
