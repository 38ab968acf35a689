package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog/log"

	"github.com/scottatquimbi/quimbi-platform/pkg/models"
)

const defaultModel = "claude-sonnet-4-5"

// draftGuardrails is prepended to every generation prompt. The model must
// never fabricate transactional facts.
const draftGuardrails = `You are a customer support assistant for a fabric and quilting retailer.
Rules you must never break:
- Never invent coupon codes, order numbers, or tracking numbers.
- Never promise a specific discount amount.
- Use only the literal product names that appear in the provided history.
- For product-category questions needing manufacturer detail, point the customer to the manufacturer's resource instead of guessing.
Write warmly and concretely; keep replies under 200 words.`

// Anthropic is the production Adapter backed by the Messages API.
type Anthropic struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropic builds the adapter. Model may be empty to take the default.
func NewAnthropic(apiKey, model string) *Anthropic {
	if model == "" {
		model = defaultModel
	}
	return &Anthropic{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

func (a *Anthropic) complete(ctx context.Context, system, user string, maxTokens int64) (string, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		log.Warn().Err(err).Msg("anthropic request failed")
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

// recommendationPayload is the JSON shape the model is asked to emit.
type recommendationPayload struct {
	Priority        string                     `json:"priority"`
	Actions         []models.RecommendedAction `json:"actions"`
	TalkingPoints   []string                   `json:"talking_points"`
	Warnings        []string                   `json:"warnings"`
	EstimatedImpact string                     `json:"estimated_impact"`
	DraftResponse   string                     `json:"draft_response"`
	DraftTone       string                     `json:"draft_tone"`
}

func (a *Anthropic) Recommend(ctx context.Context, in RecommendInput) (*models.AIRecommendation, error) {
	prompt := composeRecommendPrompt(in)
	raw, err := a.complete(ctx, draftGuardrails, prompt, 2048)
	if err != nil {
		return nil, err
	}
	var payload recommendationPayload
	if err := json.Unmarshal([]byte(extractJSON(raw)), &payload); err != nil {
		// Model answered in prose; keep it as the draft.
		return &models.AIRecommendation{
			Priority:      in.Priority.Priority,
			DraftResponse: strings.TrimSpace(raw),
		}, nil
	}
	rec := &models.AIRecommendation{
		Priority:        models.TicketPriority(payload.Priority),
		Actions:         payload.Actions,
		TalkingPoints:   payload.TalkingPoints,
		Warnings:        payload.Warnings,
		EstimatedImpact: payload.EstimatedImpact,
		DraftResponse:   payload.DraftResponse,
		DraftTone:       payload.DraftTone,
	}
	if rec.Priority == "" {
		rec.Priority = in.Priority.Priority
	}
	return rec, nil
}

func (a *Anthropic) Draft(ctx context.Context, in RecommendInput, opts DraftOptions) (string, error) {
	prompt := composeRecommendPrompt(in)
	var extra []string
	if opts.Tone != "" {
		extra = append(extra, "Tone: "+opts.Tone)
	}
	if opts.Length != "" {
		extra = append(extra, "Length: "+opts.Length)
	}
	if opts.Template != "" {
		extra = append(extra, "Follow this template:\n"+opts.Template)
	}
	if opts.IncludeOffer {
		extra = append(extra, "You may mention that a goodwill gesture is possible, without naming an amount.")
	}
	if len(extra) > 0 {
		prompt += "\n\nStyle directives:\n" + strings.Join(extra, "\n")
	}
	prompt += "\n\nReply with ONLY the customer-facing response text."
	return a.complete(ctx, draftGuardrails, prompt, 1024)
}

const routerSystem = `You route operator questions to analytics tools.
Pick exactly one tool from the catalog and answer with a JSON object:
{"tool_name": "...", "parameters": {...}}
Only use tool names and parameter values that appear in the catalog.
If no tool fits, answer the question directly in plain text instead.`

func (a *Anthropic) RouteQuery(ctx context.Context, question string, tools []ToolSpec) (*ToolSelection, error) {
	catalog, err := json.MarshalIndent(tools, "", "  ")
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf("Tool catalog:\n%s\n\nOperator question: %s", catalog, question)
	raw, err := a.complete(ctx, routerSystem, prompt, 1024)
	if err != nil {
		return nil, err
	}

	var sel ToolSelection
	if err := json.Unmarshal([]byte(extractJSON(raw)), &sel); err == nil && sel.ToolName != "" {
		return &sel, nil
	}
	return &ToolSelection{Text: strings.TrimSpace(raw)}, nil
}

// composeRecommendPrompt flattens the ticket context into the generation
// prompt. Analytics hints are marked as background only.
func composeRecommendPrompt(in RecommendInput) string {
	var sb strings.Builder

	if in.Ticket != nil {
		fmt.Fprintf(&sb, "Ticket %s (%s), status %s, priority %s\nSubject: %s\n",
			in.Ticket.TicketNumber, in.Ticket.Channel, in.Ticket.Status, in.Ticket.Priority, in.Ticket.Subject)
	} else if in.Envelope != nil {
		fmt.Fprintf(&sb, "Incoming %s conversation\nSubject: %s\n", in.Envelope.Source, in.Envelope.Ticket.Subject)
	}

	fmt.Fprintf(&sb, "Urgency: %s (%s)\nComputed priority: %s (%s)\n",
		in.Urgency.Level, in.Urgency.Category, in.Priority.Priority, in.Priority.Reason)

	if a := in.Analytics; a != nil {
		fmt.Fprintf(&sb, "\nCustomer: LTV $%.0f, %d orders, churn risk %s", a.LifetimeValue, a.TotalOrders, a.Churn.RiskLevel)
		if a.IsVIP {
			sb.WriteString(", crafter-club member")
		}
		sb.WriteString("\n")
		if len(a.CommunicationHints) > 0 {
			sb.WriteString("Background hints (never override what the customer states):\n")
			for _, h := range a.CommunicationHints {
				sb.WriteString("- " + h + "\n")
			}
		}
	}

	sb.WriteString("\nConversation (oldest first):\n")
	if in.Envelope != nil {
		for _, m := range in.Envelope.Messages {
			role := "customer"
			if m.FromAgent {
				role = "agent"
			}
			fmt.Fprintf(&sb, "[%s] %s\n", role, m.BodyText)
		}
	}
	for _, m := range in.Messages {
		role := "customer"
		if m.FromAgent {
			role = "agent"
		}
		fmt.Fprintf(&sb, "[%s] %s\n", role, m.Content)
	}

	sb.WriteString(`
Respond with a JSON object:
{"priority": "...", "actions": [{"priority": 1, "action": "...", "reasoning": "..."}],
 "talking_points": [...], "warnings": [...], "estimated_impact": "...",
 "draft_response": "...", "draft_tone": "..."}`)
	return sb.String()
}

// extractJSON pulls the first top-level JSON object out of a model reply
// that may be wrapped in prose or code fences.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
