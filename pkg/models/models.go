// Package models defines the domain entities shared across the Quimbi
// support intelligence gateway: tenants, tickets, messages, notes,
// AI recommendations, customer analytics, and the value types produced
// by the urgency, priority, and scoring engines.
package models

import (
	"strings"
	"time"
)

// ── Tenant ───────────────────────────────────────────────────

// CRMProvider identifies which ticketing platform a tenant uses.
type CRMProvider string

const (
	ProviderGorgias    CRMProvider = "gorgias"
	ProviderZendesk    CRMProvider = "zendesk"
	ProviderSalesforce CRMProvider = "salesforce"
	ProviderHelpshift  CRMProvider = "helpshift"
	ProviderIntercom   CRMProvider = "intercom"
	ProviderFreshdesk  CRMProvider = "freshdesk"
)

// KnownProviders lists every supported CRM provider.
var KnownProviders = []CRMProvider{
	ProviderGorgias, ProviderZendesk, ProviderSalesforce,
	ProviderHelpshift, ProviderIntercom, ProviderFreshdesk,
}

// Valid reports whether p is a supported provider tag.
func (p CRMProvider) Valid() bool {
	for _, k := range KnownProviders {
		if p == k {
			return true
		}
	}
	return false
}

// Environment is the deployment environment a tenant belongs to.
type Environment string

const (
	EnvProduction  Environment = "production"
	EnvStaging     Environment = "staging"
	EnvDevelopment Environment = "development"
)

// Tenant is a distinct customer of the platform. All tickets, messages,
// notes, recommendations, and cache entries are owned by exactly one tenant.
type Tenant struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`

	// StoreID is the legacy storefront identifier, kept for older
	// provisioning records.
	StoreID string `json:"store_id,omitempty"`

	CRMProvider CRMProvider `json:"crm_provider"`

	// EncryptedCRMConfig is opaque AES-GCM ciphertext. It decrypts to a
	// map of provider credentials including "webhook_secret". Never logged.
	EncryptedCRMConfig []byte `json:"-"`

	// APIKeyHash is the hex SHA-256 of the tenant's API key.
	APIKeyHash string `json:"-"`

	// WebhookIdentifiers maps provider payload fields to this tenant,
	// e.g. {"gorgias_domain": "quiltco"}.
	WebhookIdentifiers map[string]string `json:"webhook_identifiers,omitempty"`

	Features map[string]bool   `json:"features,omitempty"`
	Settings map[string]string `json:"settings,omitempty"`

	IsActive    bool        `json:"is_active"`
	Environment Environment `json:"environment"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CRMConfig is the decrypted credential map for a tenant's provider.
type CRMConfig map[string]string

// WebhookSecret returns the shared secret used to verify inbound
// provider signatures, or "" if not configured.
func (c CRMConfig) WebhookSecret() string { return c["webhook_secret"] }

// ── Ticket ───────────────────────────────────────────────────

type TicketStatus string

const (
	StatusOpen    TicketStatus = "open"
	StatusPending TicketStatus = "pending"
	StatusClosed  TicketStatus = "closed"
)

type TicketPriority string

const (
	PriorityUrgent TicketPriority = "urgent"
	PriorityHigh   TicketPriority = "high"
	PriorityNormal TicketPriority = "normal"
	PriorityLow    TicketPriority = "low"
)

// Ticket is a support conversation owned by a tenant.
type Ticket struct {
	ID       string `json:"id"`
	TenantID string `json:"-"`

	// TicketNumber is the short display number, e.g. "T-001".
	// Immutable once allocated.
	TicketNumber string `json:"ticket_number"`

	CustomerID string         `json:"customer_id"`
	Channel    string         `json:"channel"`
	Status     TicketStatus   `json:"status"`
	Priority   TicketPriority `json:"priority"`
	Subject    string         `json:"subject"`
	AssignedTo string         `json:"assigned_to,omitempty"`

	// Tags is an ordered set: no duplicates, insertion order preserved.
	Tags []string `json:"tags"`

	CustomFields map[string]string `json:"custom_fields,omitempty"`

	// Sentiment is a marker attached by upstream analysis ("frustrated"
	// boosts the smart-order score).
	Sentiment string `json:"sentiment,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// HasTag reports whether the ticket carries the tag (case-sensitive).
func (t *Ticket) HasTag(tag string) bool {
	for _, x := range t.Tags {
		if x == tag {
			return true
		}
	}
	return false
}

// AddTags unions tags into the ticket's ordered set. Duplicates are no-ops.
func (t *Ticket) AddTags(tags ...string) {
	for _, tag := range tags {
		if tag != "" && !t.HasTag(tag) {
			t.Tags = append(t.Tags, tag)
		}
	}
}

// RemoveTags subtracts tags from the set.
func (t *Ticket) RemoveTags(tags ...string) {
	drop := make(map[string]bool, len(tags))
	for _, tag := range tags {
		drop[tag] = true
	}
	kept := t.Tags[:0]
	for _, x := range t.Tags {
		if !drop[x] {
			kept = append(kept, x)
		}
	}
	t.Tags = kept
}

// ── Ticket Messages & Notes ──────────────────────────────────

// TicketMessage is one entry in a ticket's chronological conversation.
type TicketMessage struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	FromAgent bool      `json:"from_agent"`
	Content   string    `json:"content"`
	Author    string    `json:"author,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TicketNote is internal commentary on a ticket, never customer-visible.
type TicketNote struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	Content   string    `json:"content"`
	Author    string    `json:"author,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ── AI Recommendation ────────────────────────────────────────

// RecommendedAction is one step the agent should take, ordered by Priority.
type RecommendedAction struct {
	Priority    int        `json:"priority"`
	Action      string     `json:"action"`
	Reasoning   string     `json:"reasoning,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// AIRecommendation is cached language-model output bound to a ticket.
// At most one non-expired recommendation exists per ticket. A cached
// draft is stale whenever the ticket's message count has moved past
// MessageCount, regardless of ExpiresAt.
type AIRecommendation struct {
	ID       string `json:"id"`
	TicketID string `json:"ticket_id"`

	Priority        TicketPriority      `json:"priority"`
	Actions         []RecommendedAction `json:"actions"`
	TalkingPoints   []string            `json:"talking_points,omitempty"`
	Warnings        []string            `json:"warnings,omitempty"`
	EstimatedImpact string              `json:"estimated_impact,omitempty"`

	DraftResponse        string `json:"draft_response,omitempty"`
	DraftTone            string `json:"draft_tone,omitempty"`
	DraftPersonalization string `json:"draft_personalization,omitempty"`

	// MessageCount is the ticket's message count at generation time.
	MessageCount int `json:"message_count"`

	GeneratedAt time.Time `json:"generated_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Fresh reports whether the recommendation is usable for a ticket that
// currently has messageCount messages.
func (r *AIRecommendation) Fresh(now time.Time, messageCount int) bool {
	return r != nil && now.Before(r.ExpiresAt) && r.MessageCount == messageCount
}

// ── Customer Analytics (read model) ──────────────────────────

// ChurnRiskLevel is the banded churn score.
type ChurnRiskLevel string

const (
	ChurnLow      ChurnRiskLevel = "low"
	ChurnMedium   ChurnRiskLevel = "medium"
	ChurnHigh     ChurnRiskLevel = "high"
	ChurnCritical ChurnRiskLevel = "critical"
)

// ChurnPrediction is the narrow churn read model.
type ChurnPrediction struct {
	CustomerID string         `json:"customer_id"`
	Score      float64        `json:"score"`
	RiskLevel  ChurnRiskLevel `json:"risk_level"`
}

// CustomerAnalytics is the merged analytics read model. Owned by the
// external clustering/segmentation engine; the gateway only reads it.
type CustomerAnalytics struct {
	CustomerID string `json:"customer_id"`

	LifetimeValue         float64 `json:"lifetime_value"`
	TotalOrders           int     `json:"total_orders"`
	AvgOrderValue         float64 `json:"avg_order_value"`
	DaysSinceLastPurchase int     `json:"days_since_last_purchase"`
	TenureDays            int     `json:"tenure_days"`

	Churn ChurnPrediction `json:"churn"`

	ArchetypeID      string   `json:"archetype_id,omitempty"`
	DominantSegments []string `json:"dominant_segments,omitempty"`

	// CommunicationHints are background context derived from segments.
	// They never override explicit customer-stated facts.
	CommunicationHints []string `json:"communication_hints,omitempty"`

	// Tags are provider/loyalty tags (e.g. "LCC_Member").
	Tags []string `json:"tags,omitempty"`

	// IsVIP is true when any tag marks crafter-club membership.
	IsVIP bool `json:"is_vip"`
}

// ── Urgency / Priority value types ───────────────────────────

// UrgencyLevel orders the urgency tiers produced by keyword classification.
type UrgencyLevel string

const (
	UrgencyUrgent UrgencyLevel = "urgent"
	UrgencyHigh   UrgencyLevel = "high"
	UrgencyNormal UrgencyLevel = "normal"
)

// UrgencyCategory is the closed set of issue categories.
type UrgencyCategory string

const (
	CategoryCancelRequest  UrgencyCategory = "cancel_request"
	CategoryAddressChange  UrgencyCategory = "address_change"
	CategoryOrderEdit      UrgencyCategory = "order_edit"
	CategoryDamagedProduct UrgencyCategory = "damaged_product"
	CategoryMissingItems   UrgencyCategory = "missing_items"
	CategoryDelayedOrder   UrgencyCategory = "delayed_order"
	CategoryGeneral        UrgencyCategory = "general"
)

// UrgencyClassification is the result of the keyword engine.
type UrgencyClassification struct {
	Level           UrgencyLevel    `json:"urgency_level"`
	Category        UrgencyCategory `json:"category"`
	MatchedKeywords []string        `json:"matched_keywords"`
	ProviderTag     string          `json:"provider_tag,omitempty"`
}

// PriorityDecision is the combined urgency + customer-value outcome.
type PriorityDecision struct {
	Priority TicketPriority `json:"priority"`
	Reason   string         `json:"reason"`
	Tags     []string       `json:"tags"`
}

// ── Smart-order scoring ──────────────────────────────────────

// ScoreComponents holds the seven weighted contributions to a ticket's
// smart-order score.
type ScoreComponents struct {
	ChurnRisk     float64 `json:"churn_risk"`
	CustomerValue float64 `json:"customer_value"`
	Urgency       float64 `json:"urgency"`
	Age           float64 `json:"age"`
	Difficulty    float64 `json:"difficulty"`
	Sentiment     float64 `json:"sentiment"`
	TopicAlert    float64 `json:"topic_alert"`
}

// Total is the plain sum of all components.
func (c ScoreComponents) Total() float64 {
	return c.ChurnRisk + c.CustomerValue + c.Urgency + c.Age +
		c.Difficulty + c.Sentiment + c.TopicAlert
}

// ScoreBreakdown is the introspectable scoring report.
type ScoreBreakdown struct {
	TicketID   string          `json:"ticket_id"`
	Components ScoreComponents `json:"components"`
	Weights    map[string]float64 `json:"weights"`
	Total      float64         `json:"total"`

	// Echoed facts so operators can audit the ranking.
	CustomerID        string         `json:"customer_id,omitempty"`
	LifetimeValue     float64        `json:"lifetime_value"`
	ChurnScore        float64        `json:"churn_score"`
	Priority          TicketPriority `json:"priority"`
	AgeHours          float64        `json:"age_hours"`
	Sentiment         string         `json:"sentiment,omitempty"`
	MatchesTopicAlert bool           `json:"matches_topic_alert"`
}

// ── Webhook envelope ─────────────────────────────────────────

// TicketSource classifies where a conversation originated.
type TicketSource string

const (
	SourceRingCentral TicketSource = "ringcentral"
	SourceSMS         TicketSource = "sms"
	SourceEmail       TicketSource = "email"
	SourceChat        TicketSource = "chat"
	SourcePhone       TicketSource = "phone"
	SourceAPI         TicketSource = "api"
	SourceUnknown     TicketSource = "unknown"
)

// WebhookCustomer is the raw customer object embedded in provider payloads.
type WebhookCustomer struct {
	ID         string            `json:"id,omitempty"`
	ExternalID string            `json:"external_id,omitempty"`
	Email      string            `json:"email,omitempty"`
	Phone      string            `json:"phone,omitempty"`
	Name       string            `json:"name,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`

	// Integrations carries provider integration blocks, e.g. a Shopify
	// block with the storefront customer id.
	Integrations map[string]map[string]string `json:"integrations,omitempty"`

	// Embedded commerce metrics (primary over internal analytics).
	LifetimeValue float64  `json:"lifetime_value,omitempty"`
	TotalOrders   int      `json:"total_orders,omitempty"`
	Tags          []string `json:"tags,omitempty"`
}

// WebhookMessage is one message as delivered by a provider webhook.
type WebhookMessage struct {
	ID             string    `json:"id,omitempty"`
	Via            string    `json:"via,omitempty"`
	Channel        string    `json:"channel,omitempty"`
	FromAgent      bool      `json:"from_agent,omitempty"`
	CreatedByAgent bool      `json:"created_by_agent,omitempty"`
	BodyText       string    `json:"body_text,omitempty"`
	Subject        string    `json:"subject,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
}

// WebhookTicket is the provider-side ticket shape.
type WebhookTicket struct {
	ID       string   `json:"id,omitempty"`
	Subject  string   `json:"subject,omitempty"`
	Status   string   `json:"status,omitempty"`
	Channel  string   `json:"channel,omitempty"`
	Via      string   `json:"via,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// WebhookEnvelope is the canonical normalized shape every provider payload
// folds into: the ticket, its customer, and messages with the newest last.
type WebhookEnvelope struct {
	Provider CRMProvider      `json:"provider"`
	Ticket   WebhookTicket    `json:"ticket"`
	Customer WebhookCustomer  `json:"customer"`
	Messages []WebhookMessage `json:"messages"`
	Source   TicketSource     `json:"source"`
}

// LatestMessage returns the newest message, or nil when there are none.
func (e *WebhookEnvelope) LatestMessage() *WebhookMessage {
	if len(e.Messages) == 0 {
		return nil
	}
	return &e.Messages[len(e.Messages)-1]
}

// LatestCustomerText concatenates subject and the newest non-agent message
// body, the text the urgency engine classifies.
func (e *WebhookEnvelope) LatestCustomerText() string {
	var parts []string
	if e.Ticket.Subject != "" {
		parts = append(parts, e.Ticket.Subject)
	}
	for i := len(e.Messages) - 1; i >= 0; i-- {
		if !e.Messages[i].FromAgent && e.Messages[i].BodyText != "" {
			parts = append(parts, e.Messages[i].BodyText)
			break
		}
	}
	return strings.Join(parts, "\n")
}
