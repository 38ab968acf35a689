package middleware

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/scottatquimbi/quimbi-platform/internal/ratelimit"
	"github.com/scottatquimbi/quimbi-platform/internal/store"
	"github.com/scottatquimbi/quimbi-platform/internal/tenant"
	"github.com/scottatquimbi/quimbi-platform/pkg/models"
)

func testRegistry(t *testing.T) *tenant.Registry {
	t.Helper()
	key := bytes.Repeat([]byte("k"), 32)
	cipher, err := tenant.NewCipher(key)
	if err != nil {
		t.Fatalf("NewCipher() error = %v", err)
	}

	st := store.NewMemoryStore()
	reg := tenant.NewRegistry(st, cipher)
	err = reg.Provision(context.Background(), &models.Tenant{
		ID:          "ten-1",
		Slug:        "quiltco",
		CRMProvider: models.ProviderGorgias,
		APIKeyHash:  tenant.HashAPIKey("qk_live_123"),
		WebhookIdentifiers: map[string]string{
			"gorgias_domain": "quiltco",
		},
		IsActive:    true,
		Environment: models.EnvProduction,
	}, models.CRMConfig{"webhook_secret": "s"})
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	return reg
}

func routed(t *testing.T, limiter *ratelimit.Limiter, inner http.Handler) http.Handler {
	t.Helper()
	if limiter == nil {
		limiter = ratelimit.New(100, 1000)
	}
	return NewTenantRouter(testRegistry(t), limiter).Middleware(inner)
}

// captureTenant records the tenant bound to the request context.
func captureTenant(got **tenant.Context) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = tenant.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestTenantRouter_SubdomainIdentification(t *testing.T) {
	var got *tenant.Context
	h := routed(t, nil, captureTenant(&got))

	req := httptest.NewRequest(http.MethodGet, "/api/tickets", nil)
	req.Host = "quiltco.support.example.com"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got == nil || got.TenantID != "ten-1" {
		t.Errorf("bound tenant = %+v, want ten-1", got)
	}
	if rr.Header().Get("X-RateLimit-Remaining") == "" {
		t.Error("missing X-RateLimit-Remaining header")
	}
}

func TestTenantRouter_ReservedAndBareHosts(t *testing.T) {
	for _, host := range []string{"api.support.example.com", "localhost:8080", "127.0.0.1:8080", "example.com"} {
		var got *tenant.Context
		h := routed(t, nil, captureTenant(&got))

		req := httptest.NewRequest(http.MethodGet, "/api/tickets", nil)
		req.Host = host
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("host %s: status = %d", host, rr.Code)
		}
		if got != nil {
			t.Errorf("host %s: unexpectedly identified tenant %+v", host, got)
		}
	}
}

func TestTenantRouter_APIKey(t *testing.T) {
	var got *tenant.Context
	h := routed(t, nil, captureTenant(&got))

	req := httptest.NewRequest(http.MethodGet, "/api/tickets", nil)
	req.Header.Set("X-API-Key", "qk_live_123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK || got == nil || got.TenantID != "ten-1" {
		t.Errorf("status = %d, tenant = %+v", rr.Code, got)
	}
}

func TestTenantRouter_InvalidAPIKey(t *testing.T) {
	h := routed(t, nil, captureTenant(new(*tenant.Context)))

	req := httptest.NewRequest(http.MethodGet, "/api/tickets", nil)
	req.Header.Set("X-API-Key", "wrong")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "UNAUTHORIZED" {
		t.Errorf("code = %q", body.Error.Code)
	}
}

func TestTenantRouter_WebhookSignatureRejected(t *testing.T) {
	// A forged Gorgias webhook: the identifier matches a tenant but the
	// signature does not verify against the tenant's secret.
	called := false
	h := routed(t, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	body := `{"account":{"domain":"quiltco"},"id":1}`
	req := httptest.NewRequest(http.MethodPost, "/api/gorgias/webhook", bytes.NewBufferString(body))
	req.Header.Set("X-Gorgias-Signature", "deadbeef")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	if called {
		t.Error("handler ran despite rejected signature")
	}
}

func TestTenantRouter_WebhookSignatureAccepted(t *testing.T) {
	var got *tenant.Context
	var seenBody []byte
	h := routed(t, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = tenant.FromContext(r.Context())
		seenBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))

	body := []byte(`{"account":{"domain":"quiltco"},"id":1}`)
	mac := hmac.New(sha256.New, []byte("s"))
	mac.Write(body)

	req := httptest.NewRequest(http.MethodPost, "/api/gorgias/webhook", bytes.NewReader(body))
	req.Header.Set("X-Gorgias-Signature", hex.EncodeToString(mac.Sum(nil)))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rr.Code)
	}
	if got == nil || got.TenantID != "ten-1" {
		t.Errorf("bound tenant = %+v", got)
	}
	if !bytes.Equal(seenBody, body) {
		t.Errorf("handler body = %q, want the original payload re-attached", seenBody)
	}
}

func TestTenantRouter_WebhookUnknownIdentifier(t *testing.T) {
	h := routed(t, nil, captureTenant(new(*tenant.Context)))

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/gorgias",
		bytes.NewBufferString(`{"account":{"domain":"nobody"}}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
}

func TestTenantRouter_RateLimit(t *testing.T) {
	limiter := ratelimit.New(2, 1000)
	h := routed(t, limiter, captureTenant(new(*tenant.Context)))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/tickets", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/tickets", nil))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestTenantRouter_PublicPathsSkipLimiter(t *testing.T) {
	limiter := ratelimit.New(1, 1)
	h := routed(t, limiter, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("health request %d status = %d", i, rr.Code)
		}
	}
}

func TestIsPublicPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/health", true},
		{"/health/ready", true},
		{"/health/live", true},
		{"/metrics", true},
		{"/docs", true},
		{"/docs/index.html", true},
		{"/openapi.json", true},
		{"/healthz", false},
		{"/documents", false},
		{"/api/tickets", false},
		{"/", false},
	}
	for _, tt := range tests {
		if got := isPublicPath(tt.path); got != tt.want {
			t.Errorf("isPublicPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestTenantRouter_PanicBecomes500(t *testing.T) {
	h := routed(t, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/tickets", nil)
	req.Header.Set("X-API-Key", "qk_live_123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}

	// The router must keep serving cleanly after a panic.
	var got *tenant.Context
	h2 := routed(t, nil, captureTenant(&got))
	rr = httptest.NewRecorder()
	h2.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/tickets", nil))
	if rr.Code != http.StatusOK || got != nil {
		t.Errorf("follow-up status = %d, tenant = %+v", rr.Code, got)
	}
}

func TestSubdomainSlug(t *testing.T) {
	cases := []struct {
		host string
		want string
	}{
		{"quiltco.support.example.com", "quiltco"},
		{"quiltco.support.example.com:8080", "quiltco"},
		{"www.support.example.com", ""},
		{"admin.support.example.com", ""},
		{"example.com", ""},
		{"localhost", ""},
		{"10.0.0.5:9000", ""},
	}
	for _, tc := range cases {
		if got := subdomainSlug(tc.host); got != tc.want {
			t.Errorf("subdomainSlug(%q) = %q, want %q", tc.host, got, tc.want)
		}
	}
}
