package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/scottatquimbi/quimbi-platform/internal/analytics"
	"github.com/scottatquimbi/quimbi-platform/internal/cache"
	"github.com/scottatquimbi/quimbi-platform/internal/llm"
	"github.com/scottatquimbi/quimbi-platform/internal/nlquery"
	"github.com/scottatquimbi/quimbi-platform/internal/ratelimit"
	"github.com/scottatquimbi/quimbi-platform/internal/store"
	"github.com/scottatquimbi/quimbi-platform/internal/tenant"
	"github.com/scottatquimbi/quimbi-platform/internal/ticket"
	"github.com/scottatquimbi/quimbi-platform/pkg/models"
)

const testAdminKey = "test-admin-key-0123456789"

// withTenant binds the fixture tenant, standing in for the tenant router.
func withTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := tenant.WithContext(r.Context(), &tenant.Context{TenantID: "ten-1", Slug: "quiltco"})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newTestServer(t *testing.T) (http.Handler, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	an := analytics.NewService(st, cache.Disabled{})
	tickets := ticket.NewService(st, an, llm.Static{})
	queries := nlquery.NewRouter(llm.Static{}, st, cache.Disabled{}, true)

	cipher, err := tenant.NewCipher(bytes.Repeat([]byte("k"), 32))
	if err != nil {
		t.Fatalf("NewCipher() error = %v", err)
	}
	registry := tenant.NewRegistry(st, cipher)

	h := New(st, cache.Disabled{}, tickets, queries, nil, registry, testAdminKey,
		ratelimit.New(100, 1000))

	r := chi.NewRouter()
	r.Use(withTenant)
	r.Get("/health", h.Health)
	r.Route("/api", func(r chi.Router) {
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
		r.Route("/ai/tickets/{id}", func(r chi.Router) {
			r.Get("/recommendation", h.GetRecommendation)
			r.Get("/draft-response", h.GetDraft)
			r.Post("/draft-response/regenerate", h.RegenerateDraft)
			r.Patch("/recommendation/actions/{index}", h.MarkAction)
		})
		r.Route("/mcp", func(r chi.Router) {
			r.Post("/query", h.MCPQuery)
			r.Post("/query/natural-language", h.MCPNaturalLanguage)
		})
		r.Route("/admin/tenants", func(r chi.Router) {
			r.Get("/", h.ListTenants)
			r.Post("/", h.CreateTenant)
		})
	})
	return r, st
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	return body.Error.Code
}

func TestTicketLifecycleOverHTTP(t *testing.T) {
	h, _ := newTestServer(t)

	rr := doJSON(t, h, http.MethodPost, "/api/tickets", map[string]any{
		"customer_id":     "cust-1",
		"channel":         "email",
		"subject":         "Missing fat quarter",
		"initial_message": "My bundle was missing a fat quarter",
	}, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rr.Code, rr.Body)
	}
	var created models.Ticket
	if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.TicketNumber != "T-001" {
		t.Errorf("ticket_number = %q", created.TicketNumber)
	}

	// Fetch by display number.
	rr = doJSON(t, h, http.MethodGet, "/api/tickets/T-001", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	var detail struct {
		Ticket   models.Ticket          `json:"ticket"`
		Messages []models.TicketMessage `json:"messages"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&detail); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if detail.Ticket.ID != created.ID || len(detail.Messages) != 1 {
		t.Errorf("detail = %+v", detail)
	}
}

func TestGetTicket_NotFoundEnvelope(t *testing.T) {
	h, _ := newTestServer(t)
	rr := doJSON(t, h, http.MethodGet, "/api/tickets/T-999", nil, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	if code := errorCode(t, rr); code != "TICKET_NOT_FOUND" {
		t.Errorf("code = %q", code)
	}
}

func TestUpdateTicket_BadStatus(t *testing.T) {
	h, _ := newTestServer(t)
	doJSON(t, h, http.MethodPost, "/api/tickets", map[string]any{"subject": "Q"}, nil)

	rr := doJSON(t, h, http.MethodPatch, "/api/tickets/T-001", map[string]any{"status": "resolved-ish"}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if code := errorCode(t, rr); code != "VALIDATION_ERROR" {
		t.Errorf("code = %q", code)
	}
}

func TestListTickets_SmartOrderQueryParams(t *testing.T) {
	h, st := newTestServer(t)
	ctx := tenant.WithContext(context.Background(), &tenant.Context{TenantID: "ten-1"})
	st.UpsertCustomerProfile(ctx, "ten-1", &models.CustomerAnalytics{
		CustomerID:    "cust-1",
		LifetimeValue: 3000,
		Churn:         models.ChurnPrediction{Score: 0.9},
	})
	doJSON(t, h, http.MethodPost, "/api/tickets", map[string]any{
		"customer_id":     "cust-1",
		"subject":         "Cancel my order",
		"initial_message": "please cancel my order",
	}, nil)

	rr := doJSON(t, h, http.MethodGet, "/api/tickets?smart_order=true&topic_alerts=cancel", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var res struct {
		Tickets []struct {
			SmartScore        *float64 `json:"smart_score"`
			MatchesTopicAlert *bool    `json:"matches_topic_alert"`
		} `json:"tickets"`
		SmartOrderEnabled bool `json:"smart_order_enabled"`
		Matches           int  `json:"matches"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.SmartOrderEnabled || res.Matches != 1 {
		t.Errorf("flags = %+v", res)
	}
	if len(res.Tickets) != 1 || res.Tickets[0].SmartScore == nil || !*res.Tickets[0].MatchesTopicAlert {
		t.Errorf("tickets = %+v", res.Tickets)
	}
}

func TestDraftEndpoint(t *testing.T) {
	h, _ := newTestServer(t)
	doJSON(t, h, http.MethodPost, "/api/tickets", map[string]any{
		"subject":         "Cancel",
		"initial_message": "please cancel my order",
	}, nil)

	rr := doJSON(t, h, http.MethodGet, "/api/ai/tickets/T-001/draft-response", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body)
	}
	var res struct {
		DraftResponse string `json:"draft_response"`
		MessageCount  int    `json:"message_count"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.DraftResponse == "" || res.MessageCount != 1 {
		t.Errorf("draft = %+v", res)
	}
}

func TestMCPQuery(t *testing.T) {
	h, st := newTestServer(t)
	ctx := tenant.WithContext(context.Background(), &tenant.Context{TenantID: "ten-1"})
	st.UpsertCustomerProfile(ctx, "ten-1", &models.CustomerAnalytics{CustomerID: "c1", DominantSegments: []string{"loyal"}})

	rr := doJSON(t, h, http.MethodPost, "/api/mcp/query", map[string]any{
		"tool_name":  "query_segments",
		"parameters": map[string]any{},
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body)
	}
	var res struct {
		ToolName string         `json:"tool_name"`
		Result   map[string]int `json:"result"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.ToolName != "query_segments" || res.Result["loyal"] != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestMCPQuery_UnknownTool(t *testing.T) {
	h, _ := newTestServer(t)
	rr := doJSON(t, h, http.MethodPost, "/api/mcp/query", map[string]any{"tool_name": "drop_tables"}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestMCPNaturalLanguage_Quota(t *testing.T) {
	// The shared fixture carries a large quota; build one with a single
	// hourly slot.
	st := store.NewMemoryStore()
	an := analytics.NewService(st, cache.Disabled{})
	queries := nlquery.NewRouter(llm.Static{}, st, cache.Disabled{}, true)
	cipher, _ := tenant.NewCipher(bytes.Repeat([]byte("k"), 32))
	hs := New(st, cache.Disabled{}, ticket.NewService(st, an, llm.Static{}), queries, nil,
		tenant.NewRegistry(st, cipher), testAdminKey, ratelimit.New(100, 1))

	r := chi.NewRouter()
	r.Use(withTenant)
	r.Post("/api/mcp/query/natural-language", hs.MCPNaturalLanguage)

	rr := doJSON(t, r, http.MethodPost, "/api/mcp/query/natural-language?query=top+customers", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("first call status = %d: %s", rr.Code, rr.Body)
	}
	rr = doJSON(t, r, http.MethodPost, "/api/mcp/query/natural-language?query=again", nil, nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second call status = %d, want 429", rr.Code)
	}
	if code := errorCode(t, rr); code != "RATE_LIMITED" {
		t.Errorf("code = %q", code)
	}
}

func TestAdminTenants(t *testing.T) {
	h, _ := newTestServer(t)

	body := map[string]any{
		"slug":         "quiltco",
		"name":         "QuiltCo",
		"crm_provider": "gorgias",
		"crm_config":   map[string]string{"webhook_secret": "s"},
	}

	rr := doJSON(t, h, http.MethodPost, "/api/admin/tenants", body, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("missing key status = %d, want 401", rr.Code)
	}

	rr = doJSON(t, h, http.MethodPost, "/api/admin/tenants", body, map[string]string{"X-Admin-Key": "nope"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("wrong key status = %d, want 403", rr.Code)
	}

	rr = doJSON(t, h, http.MethodPost, "/api/admin/tenants", body, map[string]string{"X-Admin-Key": testAdminKey})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rr.Code, rr.Body)
	}
	var created struct {
		Tenant models.Tenant `json:"tenant"`
		APIKey string        `json:"api_key"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.APIKey == "" || created.Tenant.Slug != "quiltco" {
		t.Errorf("created = %+v", created)
	}

	rr = doJSON(t, h, http.MethodGet, "/api/admin/tenants", nil, map[string]string{"X-Admin-Key": testAdminKey})
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	var list struct {
		Tenants []models.Tenant `json:"tenants"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Tenants) != 1 {
		t.Errorf("tenants = %+v", list.Tenants)
	}
}
