package handlers

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/scottatquimbi/quimbi-platform/internal/tenant"
	"github.com/scottatquimbi/quimbi-platform/pkg/models"
)

// requireAdmin gates the administration surface on X-Admin-Key.
func (h *Handlers) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	supplied := r.Header.Get("X-Admin-Key")
	if supplied == "" {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "X-Admin-Key required")
		return false
	}
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(h.AdminKey)) != 1 {
		respondError(w, http.StatusForbidden, "FORBIDDEN", "invalid admin key")
		return false
	}
	return true
}

// createTenantInput is the POST /api/admin/tenants body. The CRM config
// arrives in plaintext and is sealed before it touches the store.
type createTenantInput struct {
	Slug               string            `json:"slug"`
	Name               string            `json:"name"`
	CRMProvider        string            `json:"crm_provider"`
	Environment        string            `json:"environment"`
	WebhookIdentifiers map[string]string `json:"webhook_identifiers"`
	CRMConfig          map[string]string `json:"crm_config"`
	Features           map[string]bool   `json:"features"`
	Settings           map[string]string `json:"settings"`
}

// CreateTenant provisions a tenant and returns the one-time plaintext API
// key. Only the key's hash is persisted.
func (h *Handlers) CreateTenant(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	var in createTenantInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	if in.Slug == "" || in.Name == "" {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "slug and name are required")
		return
	}
	provider := models.CRMProvider(in.CRMProvider)
	if !provider.Valid() {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "unknown crm_provider")
		return
	}

	env := models.Environment(in.Environment)
	if env == "" {
		env = models.EnvProduction
	}

	apiKey, err := newAPIKey()
	if err != nil {
		respondServiceError(w, err)
		return
	}

	now := time.Now().UTC()
	t := &models.Tenant{
		ID:                 uuid.NewString(),
		Slug:               in.Slug,
		Name:               in.Name,
		CRMProvider:        provider,
		APIKeyHash:         tenant.HashAPIKey(apiKey),
		WebhookIdentifiers: in.WebhookIdentifiers,
		Features:           in.Features,
		Settings:           in.Settings,
		IsActive:           true,
		Environment:        env,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	var cfg models.CRMConfig
	if len(in.CRMConfig) > 0 {
		cfg = models.CRMConfig(in.CRMConfig)
	}
	if err := h.Registry.Provision(r.Context(), t, cfg); err != nil {
		respondServiceError(w, err)
		return
	}

	log.Info().Str("tenant", t.ID).Str("slug", t.Slug).Msg("tenant provisioned")
	respondJSON(w, http.StatusCreated, map[string]any{
		"tenant":  t,
		"api_key": apiKey,
	})
}

// ListTenants serves GET /api/admin/tenants. Secrets never appear: the
// tenant model excludes its key hash and sealed config from JSON.
func (h *Handlers) ListTenants(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	env := models.Environment(r.URL.Query().Get("environment"))
	tenants, err := h.Registry.ListActive(r.Context(), env)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if tenants == nil {
		tenants = []models.Tenant{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"tenants": tenants})
}

// newAPIKey mints a 32-byte random key with a recognizable prefix.
func newAPIKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return "qk_" + hex.EncodeToString(raw), nil
}
