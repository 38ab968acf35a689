package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/scottatquimbi/quimbi-platform/internal/metrics"
	"github.com/scottatquimbi/quimbi-platform/internal/ratelimit"
	"github.com/scottatquimbi/quimbi-platform/internal/tenant"
	"github.com/scottatquimbi/quimbi-platform/internal/webhook"
	"github.com/scottatquimbi/quimbi-platform/pkg/models"
)

// maxWebhookBody bounds how much of a webhook payload is buffered for
// identifier extraction and signature verification.
const maxWebhookBody = 1 << 20 // 1 MiB

// reservedSubdomains never identify a tenant.
var reservedSubdomains = map[string]bool{
	"api":        true,
	"www":        true,
	"staging":    true,
	"production": true,
	"admin":      true,
}

// publicPaths bypass rate limiting and tenant identification entirely,
// as do paths nested under them.
var publicPaths = []string{
	"/health",
	"/metrics",
	"/docs",
	"/openapi.json",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// webhookIdentifierFields maps a provider payload field to the tenant
// webhook-identifier key it is stored under. Dotted names descend into
// nested objects.
var webhookIdentifierFields = []struct {
	payloadField  string
	identifierKey string
}{
	{"account.domain", "gorgias_domain"},
	{"account.subdomain", "zendesk_subdomain"},
	{"organizationId", "salesforce_org_id"},
	{"app_id", "helpshift_app_id"},
	{"data.workspace_id", "intercom_workspace_id"},
	{"domain", "freshdesk_domain"},
}

// TenantRouter identifies the owning tenant for every request and binds it
// to the request context. Identification runs a ladder: subdomain slug,
// then X-API-Key, then webhook payload identifiers with signature
// verification; requests matching no rung continue anonymously. The rate
// limiter runs BEFORE identification so probes burn quota without
// learning whether a tenant exists.
type TenantRouter struct {
	registry *tenant.Registry
	limiter  *ratelimit.Limiter
}

// NewTenantRouter creates the tenant identification middleware.
func NewTenantRouter(registry *tenant.Registry, limiter *ratelimit.Limiter) *TenantRouter {
	return &TenantRouter{registry: registry, limiter: limiter}
}

// Middleware wires the router into an http.Handler chain.
func (tr *TenantRouter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		key := clientKey(r)
		if allowed, retryAfter := tr.limiter.Allow(key); !allowed {
			metrics.RateLimited.Inc()
			secs := int(retryAfter.Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED",
				fmt.Sprintf("rate limit exceeded, retry in %ds", secs))
			return
		}

		ten, cfg, status, code, msg := tr.identify(r)
		if status != 0 {
			writeError(w, status, code, msg)
			return
		}

		ctx := r.Context()
		if cfg != nil {
			ctx = context.WithValue(ctx, ctxKeyWebhook, &webhookBinding{tenant: ten, config: cfg})
		}
		if ten != nil {
			if !ten.IsActive {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "tenant is deactivated")
				return
			}
			ctx = tenant.WithContext(ctx, &tenant.Context{
				TenantID: ten.ID,
				Slug:     ten.Slug,
				Provider: string(ten.CRMProvider),
			})
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(tr.limiter.PerMinute()))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(tr.limiter.Remaining(key)))
		}

		// A panic below must not escape with the tenant still bound to a
		// half-written response. Convert it to a 500 and let the request
		// context, tenant binding included, die here.
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).
					Str("path", r.URL.Path).
					Msg("handler panic")
				writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
			}
		}()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// webhookBinding carries the verified webhook tenant and its decrypted
// CRM config to the webhook handler.
type webhookBinding struct {
	tenant *models.Tenant
	config models.CRMConfig
}

const ctxKeyWebhook contextKey = "webhook_binding"

// WebhookFromContext returns the verified webhook tenant and config, set
// only on signature-verified webhook requests.
func WebhookFromContext(ctx context.Context) (*models.Tenant, models.CRMConfig, bool) {
	if b, ok := ctx.Value(ctxKeyWebhook).(*webhookBinding); ok {
		return b.tenant, b.config, true
	}
	return nil, nil, false
}

// identify runs the identification ladder. It returns either a tenant
// (nil means anonymous) or a non-zero HTTP status describing a refusal.
// The CRM config is non-nil only for verified webhook requests.
func (tr *TenantRouter) identify(r *http.Request) (*models.Tenant, models.CRMConfig, int, string, string) {
	ctx := r.Context()

	if slug := subdomainSlug(r.Host); slug != "" {
		ten, err := tr.registry.GetBySlug(ctx, slug)
		if err == nil {
			return ten, nil, 0, "", ""
		}
		// An unknown slug is not a refusal: the gateway may be serving a
		// bare host that happens to have extra labels. Fall through.
	}

	if rawKey := r.Header.Get("X-API-Key"); rawKey != "" {
		ten, err := tr.registry.GetByAPIKey(ctx, rawKey)
		if err != nil {
			return nil, nil, http.StatusUnauthorized, "UNAUTHORIZED", "invalid API key"
		}
		return ten, nil, 0, "", ""
	}

	if isWebhookPath(r.URL.Path) {
		return tr.identifyWebhook(r)
	}

	return nil, nil, 0, "", ""
}

// identifyWebhook buffers the payload, matches a tenant by payload
// identifier, and verifies the provider signature before admitting the
// request. The buffered body is re-attached for the handler.
func (tr *TenantRouter) identifyWebhook(r *http.Request) (*models.Tenant, models.CRMConfig, int, string, string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		return nil, nil, http.StatusBadRequest, "VALIDATION_ERROR", "unreadable request body"
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, nil, http.StatusUnauthorized, "UNAUTHORIZED", "unidentifiable webhook payload"
	}

	var ten *models.Tenant
	for _, f := range webhookIdentifierFields {
		value, ok := lookupField(payload, f.payloadField)
		if !ok || value == "" {
			continue
		}
		if found, err := tr.registry.FindByWebhookIdentifier(r.Context(), f.identifierKey, value); err == nil {
			ten = found
			break
		}
	}
	if ten == nil {
		return nil, nil, http.StatusUnauthorized, "UNAUTHORIZED", "no tenant matches webhook identifiers"
	}

	cfg, err := tr.registry.DecryptConfig(ten)
	if err != nil {
		return nil, nil, http.StatusUnauthorized, "UNAUTHORIZED", "tenant webhook credentials unavailable"
	}

	provider := webhookProvider(r.URL.Path, ten.CRMProvider)
	signature := r.Header.Get(webhook.SignatureHeader(provider))
	if !webhook.Verify(provider, body, signature, cfg.WebhookSecret(), requestURL(r)) {
		log.Warn().
			Str("tenant", ten.ID).
			Str("provider", string(provider)).
			Msg("webhook signature rejected")
		return nil, nil, http.StatusUnauthorized, "UNAUTHORIZED", "webhook signature verification failed"
	}

	return ten, cfg, 0, "", ""
}

// subdomainSlug extracts a candidate tenant slug from the Host header.
// Bare hosts, IPs, localhost, and reserved labels yield "".
func subdomainSlug(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(host)
	if host == "localhost" || net.ParseIP(host) != nil {
		return ""
	}
	labels := strings.Split(host, ".")
	if len(labels) < 3 {
		return ""
	}
	slug := labels[0]
	if reservedSubdomains[slug] {
		return ""
	}
	return slug
}

// isWebhookPath reports whether the path accepts provider webhooks.
func isWebhookPath(path string) bool {
	return path == "/api/gorgias/webhook" || strings.HasPrefix(path, "/api/webhooks/")
}

// webhookProvider resolves which provider's signature scheme applies:
// the path names it for the generic endpoint, the tenant record otherwise.
func webhookProvider(path string, fallback models.CRMProvider) models.CRMProvider {
	if path == "/api/gorgias/webhook" {
		return models.ProviderGorgias
	}
	if rest, ok := strings.CutPrefix(path, "/api/webhooks/"); ok {
		p := models.CRMProvider(strings.SplitN(rest, "/", 2)[0])
		if p.Valid() {
			return p
		}
	}
	return fallback
}

// lookupField resolves a dotted payload field, returning string and
// number values as text.
func lookupField(payload map[string]any, field string) (string, bool) {
	parts := strings.Split(field, ".")
	var cur any = payload
	for _, part := range parts {
		obj, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		if cur, ok = obj[part]; !ok {
			return "", false
		}
	}
	switch v := cur.(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	}
	return "", false
}

// requestURL reconstructs the full URL providers sign (Salesforce).
func requestURL(r *http.Request) string {
	return scheme(r) + "://" + r.Host + r.URL.RequestURI()
}

// clientKey is the rate-limit bucket: the API key when supplied, else the
// client address (first X-Forwarded-For hop behind a proxy).
func clientKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return "key:" + key
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return "ip:" + strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return "ip:" + host
	}
	return "ip:" + r.RemoteAddr
}

// writeError emits the gateway error envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
