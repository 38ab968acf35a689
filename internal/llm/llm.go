// Package llm defines the external language-model adapter used for draft
// generation, ticket recommendations, and natural-language tool routing.
// Callers never depend on a concrete provider; everything goes through
// Adapter so the gateway degrades to the static adapter when no API key
// is configured.
package llm

import (
	"context"
	"errors"

	"github.com/scottatquimbi/quimbi-platform/pkg/models"
)

// ErrUnavailable is returned when the adapter cannot reach its backend.
// Ingestion treats it as a soft failure; the draft endpoints surface it
// as an upstream failure.
var ErrUnavailable = errors.New("llm: adapter unavailable")

// RecommendInput is everything the adapter sees when asked for a full
// ticket recommendation (actions, talking points, draft).
type RecommendInput struct {
	Envelope  *models.WebhookEnvelope
	Ticket    *models.Ticket
	Messages  []models.TicketMessage
	Analytics *models.CustomerAnalytics
	Urgency   models.UrgencyClassification
	Priority  models.PriorityDecision
}

// DraftOptions tune a regenerated draft.
type DraftOptions struct {
	Tone         string
	Length       string
	IncludeOffer bool
	Template     string
}

// ToolSpec describes one entry of the closed NL-query tool catalog.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolSelection is the adapter's routing verdict: either a tool call, or
// free text to relay verbatim.
type ToolSelection struct {
	ToolName   string         `json:"tool_name,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Text       string         `json:"text,omitempty"`
}

// Adapter is the language-model boundary.
type Adapter interface {
	// Recommend produces the full recommendation for a ticket. The caller
	// stamps ids, expiry, and message count.
	Recommend(ctx context.Context, in RecommendInput) (*models.AIRecommendation, error)

	// Draft produces only the customer-facing reply text.
	Draft(ctx context.Context, in RecommendInput, opts DraftOptions) (string, error)

	// RouteQuery selects one tool from the catalog for a free-text
	// operator question, or returns free text.
	RouteQuery(ctx context.Context, question string, tools []ToolSpec) (*ToolSelection, error)
}
