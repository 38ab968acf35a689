// Package nlquery routes free-text operator questions to a closed catalog
// of analytics tools. The language model only selects a tool and its
// arguments; results always come from the store, never from the model.
package nlquery

import "github.com/scottatquimbi/quimbi-platform/internal/llm"

func enum(values ...string) map[string]any {
	return map[string]any{"type": "string", "enum": values}
}

func intParam(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func numParam(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}

func strParam(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

// ConsolidatedTools is the v2 catalog, enabled by USE_CONSOLIDATED_MCP_TOOLS.
var ConsolidatedTools = []llm.ToolSpec{
	{
		Name:        "query_customers",
		Description: "Filter and rank customers by value, churn, segment, or order history.",
		Parameters: map[string]any{
			"segment":   strParam("segment name to filter by"),
			"min_ltv":   numParam("minimum lifetime value"),
			"min_churn": numParam("minimum churn score 0..1"),
			"sort_by":   enum("ltv", "churn", "orders", "recency"),
			"limit":     intParam("max rows, default 20"),
		},
	},
	{
		Name:        "query_segments",
		Description: "List customer segments with membership counts.",
		Parameters:  map[string]any{},
	},
	{
		Name:        "forecast_business_metrics",
		Description: "Project revenue or churn over a horizon from current analytics.",
		Parameters: map[string]any{
			"metric":       enum("revenue", "churn", "orders"),
			"horizon_days": intParam("days ahead, default 30"),
		},
	},
	{
		Name:        "plan_campaign",
		Description: "Select a customer audience for an outreach campaign.",
		Parameters: map[string]any{
			"goal":    enum("retention", "winback", "upsell"),
			"segment": strParam("optional segment to restrict to"),
			"limit":   intParam("audience size cap, default 100"),
		},
	},
	{
		Name:        "analyze_products",
		Description: "Summarize product interest from recent conversations.",
		Parameters: map[string]any{
			"limit": intParam("max products, default 10"),
		},
	},
}

// LegacyTools is the v1 catalog kept for operators who have not migrated.
var LegacyTools = []llm.ToolSpec{
	{
		Name:        "analyze_customers",
		Description: "Filter and rank customers by value or churn.",
		Parameters: map[string]any{
			"analysis_type": enum("top_value", "at_risk", "recent"),
			"limit":         intParam("max rows, default 20"),
		},
	},
	{
		Name:        "analyze_segments",
		Description: "List customer segments with membership counts.",
		Parameters:  map[string]any{},
	},
	{
		Name:        "forecast_metrics",
		Description: "Project revenue or churn over a horizon.",
		Parameters: map[string]any{
			"metric":       enum("revenue", "churn", "orders"),
			"horizon_days": intParam("days ahead, default 30"),
		},
	},
	{
		Name:        "target_campaign",
		Description: "Select a customer audience for outreach.",
		Parameters: map[string]any{
			"goal":  enum("retention", "winback", "upsell"),
			"limit": intParam("audience size cap, default 100"),
		},
	},
	{
		Name:        "lookup_customer",
		Description: "Fetch one customer's full analytics profile.",
		Parameters: map[string]any{
			"customer_id": strParam("opaque customer id"),
		},
	},
	{
		Name:        "analyze_behavior",
		Description: "Describe purchase behavior for a segment or customer.",
		Parameters: map[string]any{
			"segment":     strParam("segment name"),
			"customer_id": strParam("optional customer id"),
		},
	},
	{
		Name:        "get_recommendations",
		Description: "Suggest next actions for at-risk or high-value customers.",
		Parameters: map[string]any{
			"focus": enum("retention", "growth"),
			"limit": intParam("max rows, default 10"),
		},
	},
	{
		Name:        "analyze_products",
		Description: "Summarize product interest from recent conversations.",
		Parameters: map[string]any{
			"limit": intParam("max products, default 10"),
		},
	},
}
