package nlquery

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/scottatquimbi/quimbi-platform/internal/cache"
	"github.com/scottatquimbi/quimbi-platform/internal/llm"
	"github.com/scottatquimbi/quimbi-platform/internal/store"
	"github.com/scottatquimbi/quimbi-platform/internal/tenant"
	"github.com/scottatquimbi/quimbi-platform/pkg/models"
)

type scriptedAdapter struct {
	selection *llm.ToolSelection
	err       error
}

func (a scriptedAdapter) Recommend(ctx context.Context, in llm.RecommendInput) (*models.AIRecommendation, error) {
	return nil, errors.New("not used")
}

func (a scriptedAdapter) Draft(ctx context.Context, in llm.RecommendInput, opts llm.DraftOptions) (string, error) {
	return "", errors.New("not used")
}

func (a scriptedAdapter) RouteQuery(ctx context.Context, question string, tools []llm.ToolSpec) (*llm.ToolSelection, error) {
	return a.selection, a.err
}

func seededRouter(t *testing.T, adapter llm.Adapter, consolidated bool) (*Router, context.Context) {
	t.Helper()
	st := store.NewMemoryStore()
	ctx := tenant.WithContext(context.Background(), &tenant.Context{TenantID: "ten-1"})

	profiles := []*models.CustomerAnalytics{
		{CustomerID: "c1", LifetimeValue: 5000, TotalOrders: 20, Churn: models.ChurnPrediction{Score: 0.1}, DominantSegments: []string{"quilters"}},
		{CustomerID: "c2", LifetimeValue: 900, TotalOrders: 4, Churn: models.ChurnPrediction{Score: 0.8}, DominantSegments: []string{"quilters", "apparel"}},
		{CustomerID: "c3", LifetimeValue: 120, TotalOrders: 1, Churn: models.ChurnPrediction{Score: 0.6}},
	}
	for _, p := range profiles {
		if err := st.UpsertCustomerProfile(ctx, "ten-1", p); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return NewRouter(adapter, st, cache.Disabled{}, consolidated), ctx
}

func TestAsk_ToolSelectionDispatches(t *testing.T) {
	adapter := scriptedAdapter{selection: &llm.ToolSelection{
		ToolName:   "query_customers",
		Parameters: map[string]any{"min_churn": 0.5, "sort_by": "churn"},
	}}
	r, ctx := seededRouter(t, adapter, true)

	res, err := r.Ask(ctx, "who is about to churn?")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if res.QueryType != "query_customers" {
		t.Errorf("QueryType = %q", res.QueryType)
	}
	rows, ok := res.Result.([]models.CustomerAnalytics)
	if !ok {
		t.Fatalf("Result type = %T", res.Result)
	}
	if len(rows) != 2 || rows[0].CustomerID != "c2" {
		t.Errorf("rows = %+v, want c2 first (highest churn)", rows)
	}
}

func TestAsk_FreeTextPassthrough(t *testing.T) {
	adapter := scriptedAdapter{selection: &llm.ToolSelection{Text: "You have three customers."}}
	r, ctx := seededRouter(t, adapter, true)

	res, err := r.Ask(ctx, "how many customers?")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if res.QueryType != "general_response" || res.Message != "You have three customers." {
		t.Errorf("result = %+v", res)
	}
}

func TestAsk_AdapterDownFallback(t *testing.T) {
	adapter := scriptedAdapter{err: llm.ErrUnavailable}
	r, ctx := seededRouter(t, adapter, true)

	res, err := r.Ask(ctx, "anything")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if res.QueryType != "general_response" || !strings.Contains(res.Message, "temporarily unavailable") {
		t.Errorf("fallback = %+v", res)
	}
}

func TestExecute_UnknownTool(t *testing.T) {
	r, ctx := seededRouter(t, scriptedAdapter{}, true)
	if _, err := r.Execute(ctx, "drop_tables", nil); !errors.Is(err, ErrUnknownTool) {
		t.Errorf("error = %v, want ErrUnknownTool", err)
	}
	// Legacy tool names are outside the consolidated catalog.
	if _, err := r.Execute(ctx, "lookup_customer", nil); !errors.Is(err, ErrUnknownTool) {
		t.Errorf("error = %v, want ErrUnknownTool for v1 tool on v2 surface", err)
	}
}

func TestExecute_LegacySurface(t *testing.T) {
	r, ctx := seededRouter(t, scriptedAdapter{}, false)

	out, err := r.Execute(ctx, "analyze_customers", map[string]any{"analysis_type": "top_value", "limit": float64(2)})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	rows := out.([]models.CustomerAnalytics)
	if len(rows) != 2 || rows[0].CustomerID != "c1" {
		t.Errorf("rows = %+v, want c1 first (highest LTV)", rows)
	}

	got, err := r.Execute(ctx, "lookup_customer", map[string]any{"customer_id": "c2"})
	if err != nil {
		t.Fatalf("lookup_customer error = %v", err)
	}
	if got.(*models.CustomerAnalytics).CustomerID != "c2" {
		t.Errorf("lookup_customer = %+v", got)
	}
}

func TestExecute_Segments(t *testing.T) {
	r, ctx := seededRouter(t, scriptedAdapter{}, true)
	out, err := r.Execute(ctx, "query_segments", nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	segs := out.(map[string]int)
	if segs["quilters"] != 2 || segs["apparel"] != 1 {
		t.Errorf("segments = %v", segs)
	}
}

func TestExecute_PlanCampaign(t *testing.T) {
	r, ctx := seededRouter(t, scriptedAdapter{}, true)
	out, err := r.Execute(ctx, "plan_campaign", map[string]any{"goal": "retention"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	plan := out.(map[string]any)
	if plan["audience_size"].(int) != 2 {
		t.Errorf("plan = %v, want churn>=0.5 audience of 2", plan)
	}
}
