package tenant

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/rs/zerolog/log"

	"github.com/scottatquimbi/quimbi-platform/internal/store"
	"github.com/scottatquimbi/quimbi-platform/pkg/models"
)

// Registry resolves tenants and decrypts their CRM configuration.
// Decrypted credentials are handed to callers and never logged.
type Registry struct {
	store  store.TenantStore
	cipher *Cipher
}

// NewRegistry creates a tenant registry.
func NewRegistry(s store.TenantStore, cipher *Cipher) *Registry {
	return &Registry{store: s, cipher: cipher}
}

// GetBySlug resolves a tenant by its subdomain slug.
func (r *Registry) GetBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	return r.store.GetTenantBySlug(ctx, slug)
}

// GetByAPIKey hashes a raw API key and resolves the owning tenant.
// Only the hash ever touches the store.
func (r *Registry) GetByAPIKey(ctx context.Context, rawKey string) (*models.Tenant, error) {
	return r.store.GetTenantByAPIKeyHash(ctx, HashAPIKey(rawKey))
}

// GetByAPIKeyHash resolves a tenant from an already-hashed key.
func (r *Registry) GetByAPIKeyHash(ctx context.Context, hash string) (*models.Tenant, error) {
	return r.store.GetTenantByAPIKeyHash(ctx, hash)
}

// FindByWebhookIdentifier matches a provider payload identifier, e.g.
// ("gorgias_domain", "quiltco").
func (r *Registry) FindByWebhookIdentifier(ctx context.Context, key, value string) (*models.Tenant, error) {
	return r.store.FindTenantByWebhookIdentifier(ctx, key, value)
}

// ListActive returns active tenants, optionally filtered by environment.
func (r *Registry) ListActive(ctx context.Context, env models.Environment) ([]models.Tenant, error) {
	return r.store.ListActiveTenants(ctx, env)
}

// DecryptConfig opens a tenant's CRM credentials. Fails with
// ErrConfigDecrypt if the ciphertext is invalid for the process key.
func (r *Registry) DecryptConfig(t *models.Tenant) (models.CRMConfig, error) {
	if len(t.EncryptedCRMConfig) == 0 {
		return nil, ErrConfigDecrypt
	}
	cfg, err := r.cipher.DecryptConfig(t.EncryptedCRMConfig)
	if err != nil {
		// Log the tenant, never the payload.
		log.Warn().Str("tenant", t.ID).Msg("CRM config decrypt failed")
		return nil, err
	}
	return cfg, nil
}

// Provision creates a tenant, sealing the submitted CRM credentials.
func (r *Registry) Provision(ctx context.Context, t *models.Tenant, cfg models.CRMConfig) error {
	if cfg != nil {
		sealed, err := r.cipher.EncryptConfig(cfg)
		if err != nil {
			return err
		}
		t.EncryptedCRMConfig = sealed
	}
	return r.store.CreateTenant(ctx, t)
}

// HashAPIKey is the canonical API key digest: hex SHA-256.
func HashAPIKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}
