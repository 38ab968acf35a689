package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/scottatquimbi/quimbi-platform/pkg/models"
)

// Static is the deterministic fallback adapter used when no API key is
// configured and in tests. Output is templated from the computed urgency
// and priority, with no external calls.
type Static struct{}

func (Static) Recommend(ctx context.Context, in RecommendInput) (*models.AIRecommendation, error) {
	draft, _ := Static{}.Draft(ctx, in, DraftOptions{})

	actions := []models.RecommendedAction{
		{Priority: 1, Action: "Review the latest customer message"},
	}
	switch in.Urgency.Category {
	case models.CategoryCancelRequest:
		actions = append(actions, models.RecommendedAction{Priority: 2, Action: "Check whether the order has shipped before confirming the cancellation"})
	case models.CategoryAddressChange:
		actions = append(actions, models.RecommendedAction{Priority: 2, Action: "Verify the corrected address with the customer and update it before fulfillment"})
	case models.CategoryDamagedProduct, models.CategoryMissingItems:
		actions = append(actions, models.RecommendedAction{Priority: 2, Action: "Request photos and open a replacement or refund per policy"})
	case models.CategoryDelayedOrder:
		actions = append(actions, models.RecommendedAction{Priority: 2, Action: "Check the shipment status and share the carrier's latest scan"})
	}

	var warnings, talkingPoints []string
	if in.Analytics != nil {
		talkingPoints = in.Analytics.CommunicationHints
		if in.Analytics.Churn.RiskLevel == models.ChurnCritical {
			warnings = append(warnings, "Customer is at critical churn risk")
		}
	}

	return &models.AIRecommendation{
		Priority:      in.Priority.Priority,
		Actions:       actions,
		TalkingPoints: talkingPoints,
		Warnings:      warnings,
		DraftResponse: draft,
		DraftTone:     "warm",
	}, nil
}

func (Static) Draft(ctx context.Context, in RecommendInput, opts DraftOptions) (string, error) {
	var sb strings.Builder
	sb.WriteString("Hi")
	if in.Envelope != nil && in.Envelope.Customer.Name != "" {
		sb.WriteString(" " + firstName(in.Envelope.Customer.Name))
	}
	sb.WriteString(",\n\nThanks for reaching out. ")

	switch in.Urgency.Category {
	case models.CategoryCancelRequest:
		sb.WriteString("I see you'd like to cancel your order. I'm checking its status now and will confirm as soon as I have an answer.")
	case models.CategoryAddressChange:
		sb.WriteString("I see you need the shipping address corrected. Could you reply with the full address you'd like us to use? I'll update it right away if the order hasn't shipped.")
	case models.CategoryOrderEdit:
		sb.WriteString("I see you'd like to change your order. Let me check whether it's still editable and I'll follow up shortly.")
	case models.CategoryDamagedProduct:
		sb.WriteString("I'm sorry your item arrived damaged. Could you send a photo? We'll make it right.")
	case models.CategoryMissingItems:
		sb.WriteString("I'm sorry something was missing from your package. I'm looking into it and will follow up with next steps.")
	case models.CategoryDelayedOrder:
		sb.WriteString("I'm sorry your order is taking longer than expected. I'm checking with the carrier and will update you shortly.")
	default:
		sb.WriteString("I'm looking into your question and will get back to you shortly.")
	}

	sb.WriteString("\n\nBest,\nCustomer Care")
	return sb.String(), nil
}

func (Static) RouteQuery(ctx context.Context, question string, tools []ToolSpec) (*ToolSelection, error) {
	q := strings.ToLower(question)
	for _, tool := range tools {
		stem := strings.ReplaceAll(strings.TrimPrefix(strings.TrimPrefix(tool.Name, "analyze_"), "query_"), "_", " ")
		if stem != "" && strings.Contains(q, stem) {
			return &ToolSelection{ToolName: tool.Name, Parameters: map[string]any{}}, nil
		}
	}
	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
	}
	return &ToolSelection{Text: fmt.Sprintf("I couldn't map that question to an analytics tool. Available tools: %s.", strings.Join(names, ", "))}, nil
}

func firstName(full string) string {
	if i := strings.IndexByte(full, ' '); i > 0 {
		return full[:i]
	}
	return full
}
