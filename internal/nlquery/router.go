package nlquery

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/scottatquimbi/quimbi-platform/internal/cache"
	"github.com/scottatquimbi/quimbi-platform/internal/llm"
	"github.com/scottatquimbi/quimbi-platform/internal/store"
	"github.com/scottatquimbi/quimbi-platform/internal/tenant"
)

// ErrUnknownTool is returned when a tool name is outside the catalog.
var ErrUnknownTool = errors.New("nlquery: unknown tool")

// Result is the uniform NL-query response.
type Result struct {
	QueryType string    `json:"query_type"` // tool name or "general_response"
	Result    any       `json:"result,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// adapterDownMessage is the fixed fallback when the model adapter cannot
// be reached.
const adapterDownMessage = "The query assistant is temporarily unavailable. " +
	"You can still query directly: POST /api/mcp/query with one of the supported tools."

// Router dispatches operator questions to analytics primitives.
type Router struct {
	adapter      llm.Adapter
	store        store.AnalyticsStore
	cache        cache.Cache
	consolidated bool
}

func NewRouter(adapter llm.Adapter, st store.AnalyticsStore, c cache.Cache, consolidated bool) *Router {
	return &Router{adapter: adapter, store: st, cache: c, consolidated: consolidated}
}

// Tools returns the active catalog.
func (r *Router) Tools() []llm.ToolSpec {
	if r.consolidated {
		return ConsolidatedTools
	}
	return LegacyTools
}

// Ask routes a free-text question. Tool selections dispatch to the store;
// free-text replies pass through verbatim; adapter outages return the
// fixed fallback message.
func (r *Router) Ask(ctx context.Context, question string) (*Result, error) {
	sel, err := r.adapter.RouteQuery(ctx, question, r.Tools())
	if err != nil {
		log.Warn().Err(err).Msg("query routing adapter failed")
		return &Result{
			QueryType: "general_response",
			Message:   adapterDownMessage,
			Timestamp: time.Now().UTC(),
		}, nil
	}
	if sel.ToolName == "" {
		return &Result{
			QueryType: "general_response",
			Message:   sel.Text,
			Timestamp: time.Now().UTC(),
		}, nil
	}
	out, err := r.Execute(ctx, sel.ToolName, sel.Parameters)
	if err != nil {
		return nil, err
	}
	return &Result{
		QueryType: sel.ToolName,
		Result:    out,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Execute runs one catalog tool directly (the POST /api/mcp/query path).
func (r *Router) Execute(ctx context.Context, tool string, params map[string]any) (any, error) {
	if !r.knownTool(tool) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, tool)
	}

	cacheKey := fmt.Sprintf("%s:%v", tool, params)
	var cached any
	if r.cache.Get(ctx, "query", cacheKey, &cached) {
		return cached, nil
	}

	var (
		out any
		err error
	)
	switch tool {
	case "query_customers", "analyze_customers":
		out, err = r.queryCustomers(ctx, params)
	case "query_segments", "analyze_segments":
		out, err = r.store.ListSegments(ctx, tenant.IDFromContext(ctx))
	case "forecast_business_metrics", "forecast_metrics":
		out, err = r.forecast(ctx, params)
	case "plan_campaign", "target_campaign":
		out, err = r.planCampaign(ctx, params)
	case "lookup_customer":
		out, err = r.store.GetCustomerProfile(ctx, tenant.IDFromContext(ctx), str(params, "customer_id"))
	case "analyze_behavior":
		out, err = r.analyzeBehavior(ctx, params)
	case "get_recommendations":
		out, err = r.recommendations(ctx, params)
	case "analyze_products":
		out, err = r.analyzeProducts(ctx, params)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, tool)
	}
	if err != nil {
		return nil, err
	}
	r.cache.SetTTL(ctx, "query", cacheKey, out, cache.TTLQueryResult)
	return out, nil
}

func (r *Router) knownTool(name string) bool {
	for _, tool := range r.Tools() {
		if tool.Name == name {
			return true
		}
	}
	return false
}

// ── Tool implementations ────────────────────────────────────

func (r *Router) queryCustomers(ctx context.Context, params map[string]any) (any, error) {
	q := store.CustomerQuery{
		Segment:  str(params, "segment"),
		MinLTV:   num(params, "min_ltv"),
		MinChurn: num(params, "min_churn"),
		SortBy:   str(params, "sort_by"),
		Limit:    intOr(params, "limit", 20),
	}
	// Legacy analysis_type folds into the consolidated filter shape.
	switch str(params, "analysis_type") {
	case "top_value":
		q.SortBy = "ltv"
	case "at_risk":
		q.MinChurn = 0.5
		q.SortBy = "churn"
	case "recent":
		q.SortBy = "recency"
	}
	return r.store.QueryCustomers(ctx, tenant.IDFromContext(ctx), q)
}

func (r *Router) forecast(ctx context.Context, params map[string]any) (any, error) {
	tenantID := tenant.IDFromContext(ctx)
	rows, err := r.store.QueryCustomers(ctx, tenantID, store.CustomerQuery{})
	if err != nil {
		return nil, err
	}

	horizon := intOr(params, "horizon_days", 30)
	metric := str(params, "metric")
	if metric == "" {
		metric = "revenue"
	}

	var totalLTV, avgChurn float64
	var totalOrders int
	for _, row := range rows {
		totalLTV += row.LifetimeValue
		avgChurn += row.Churn.Score
		totalOrders += row.TotalOrders
	}
	if len(rows) > 0 {
		avgChurn /= float64(len(rows))
	}

	out := map[string]any{
		"metric":       metric,
		"horizon_days": horizon,
		"customers":    len(rows),
	}
	switch metric {
	case "revenue":
		// Naive run-rate projection from lifetime value and tenure.
		monthly := totalLTV / 12
		out["projected"] = math.Round(monthly * float64(horizon) / 30)
	case "churn":
		out["avg_churn_score"] = avgChurn
		out["projected_churned"] = int(avgChurn * float64(len(rows)))
	case "orders":
		out["projected"] = int(float64(totalOrders) / 12 * float64(horizon) / 30)
	}
	return out, nil
}

func (r *Router) planCampaign(ctx context.Context, params map[string]any) (any, error) {
	q := store.CustomerQuery{
		Segment: str(params, "segment"),
		Limit:   intOr(params, "limit", 100),
	}
	goal := str(params, "goal")
	switch goal {
	case "retention":
		q.MinChurn = 0.5
		q.SortBy = "churn"
	case "winback":
		q.SortBy = "recency"
	case "upsell":
		q.MinLTV = 500
		q.SortBy = "ltv"
	}
	audience, err := r.store.QueryCustomers(ctx, tenant.IDFromContext(ctx), q)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(audience))
	for i, a := range audience {
		ids[i] = a.CustomerID
	}
	return map[string]any{
		"goal":          goal,
		"audience_size": len(ids),
		"customer_ids":  ids,
	}, nil
}

func (r *Router) analyzeBehavior(ctx context.Context, params map[string]any) (any, error) {
	tenantID := tenant.IDFromContext(ctx)
	if id := str(params, "customer_id"); id != "" {
		return r.store.GetCustomerProfile(ctx, tenantID, id)
	}
	rows, err := r.store.QueryCustomers(ctx, tenantID, store.CustomerQuery{Segment: str(params, "segment")})
	if err != nil {
		return nil, err
	}
	var ltv, aov float64
	var orders int
	for _, row := range rows {
		ltv += row.LifetimeValue
		aov += row.AvgOrderValue
		orders += row.TotalOrders
	}
	n := float64(len(rows))
	out := map[string]any{"customers": len(rows), "total_orders": orders}
	if n > 0 {
		out["avg_ltv"] = ltv / n
		out["avg_order_value"] = aov / n
	}
	return out, nil
}

func (r *Router) recommendations(ctx context.Context, params map[string]any) (any, error) {
	limit := intOr(params, "limit", 10)
	q := store.CustomerQuery{Limit: limit}
	focus := str(params, "focus")
	if focus == "growth" {
		q.SortBy = "ltv"
	} else {
		focus = "retention"
		q.MinChurn = 0.5
		q.SortBy = "churn"
	}
	rows, err := r.store.QueryCustomers(ctx, tenant.IDFromContext(ctx), q)
	if err != nil {
		return nil, err
	}
	recs := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		action := "offer a loyalty perk on their next order"
		if focus == "retention" {
			action = "reach out before they lapse; churn risk is " + string(row.Churn.RiskLevel)
		}
		recs = append(recs, map[string]any{
			"customer_id": row.CustomerID,
			"ltv":         row.LifetimeValue,
			"churn_score": row.Churn.Score,
			"action":      action,
		})
	}
	return map[string]any{"focus": focus, "recommendations": recs}, nil
}

func (r *Router) analyzeProducts(ctx context.Context, params map[string]any) (any, error) {
	// Product interest is approximated from dominant segments until the
	// order-line feed lands in the analytics schema.
	rows, err := r.store.QueryCustomers(ctx, tenant.IDFromContext(ctx), store.CustomerQuery{})
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	for _, row := range rows {
		for _, seg := range row.DominantSegments {
			counts[seg]++
		}
	}
	type entry struct {
		Segment   string `json:"segment"`
		Customers int    `json:"customers"`
	}
	entries := make([]entry, 0, len(counts))
	for seg, n := range counts {
		entries = append(entries, entry{Segment: seg, Customers: n})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Customers != entries[j].Customers {
			return entries[i].Customers > entries[j].Customers
		}
		return entries[i].Segment < entries[j].Segment
	})
	if limit := intOr(params, "limit", 10); len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// ── Parameter helpers ───────────────────────────────────────

func str(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func num(params map[string]any, key string) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func intOr(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	}
	return def
}
