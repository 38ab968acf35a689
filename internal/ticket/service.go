// Package ticket implements the tenant-scoped ticket service: CRUD,
// conversation management, smart-ordered inbox listing, and the cached
// AI recommendation and draft surface.
package ticket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/scottatquimbi/quimbi-platform/internal/analytics"
	"github.com/scottatquimbi/quimbi-platform/internal/llm"
	"github.com/scottatquimbi/quimbi-platform/internal/scoring"
	"github.com/scottatquimbi/quimbi-platform/internal/store"
	"github.com/scottatquimbi/quimbi-platform/internal/tenant"
	"github.com/scottatquimbi/quimbi-platform/pkg/models"
)

// ErrValidation wraps client-input problems (bad enums, impossible ops).
var ErrValidation = errors.New("ticket: validation")

// ErrUpstream marks language-model failures on the draft endpoints.
var ErrUpstream = errors.New("ticket: upstream adapter failed")

const recommendationTTL = time.Hour

// Service is the ticket domain service. All operations read the tenant
// from ctx; the store enforces ownership.
type Service struct {
	store     store.Store
	analytics *analytics.Service
	adapter   llm.Adapter
	scorer    *scoring.Scorer
	now       func() time.Time
}

func NewService(st store.Store, an *analytics.Service, adapter llm.Adapter) *Service {
	return &Service{
		store:     st,
		analytics: an,
		adapter:   adapter,
		scorer:    scoring.New(),
		now:       time.Now,
	}
}

// ── Create / read ───────────────────────────────────────────

// CreateInput is the POST /api/tickets body.
type CreateInput struct {
	CustomerID     string                `json:"customer_id"`
	Channel        string                `json:"channel"`
	Subject        string                `json:"subject"`
	Priority       models.TicketPriority `json:"priority"`
	InitialMessage string                `json:"initial_message"`
	Author         string                `json:"author"`
}

// CreateTicket allocates a ticket number and persists the ticket with its
// opening message.
func (s *Service) CreateTicket(ctx context.Context, in CreateInput) (*models.Ticket, error) {
	if in.Subject == "" && in.InitialMessage == "" {
		return nil, fmt.Errorf("%w: subject or initial_message required", ErrValidation)
	}
	if in.Priority == "" {
		in.Priority = models.PriorityNormal
	}
	if !validPriority(in.Priority) {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrValidation, in.Priority)
	}

	tenantID := tenant.IDFromContext(ctx)
	number, err := s.store.NextTicketNumber(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	t := &models.Ticket{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		TicketNumber: number,
		CustomerID:   in.CustomerID,
		Channel:      in.Channel,
		Status:       models.StatusOpen,
		Priority:     in.Priority,
		Subject:      in.Subject,
		Tags:         []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateTicket(ctx, t); err != nil {
		return nil, err
	}
	if in.InitialMessage != "" {
		msg := &models.TicketMessage{
			ID:        uuid.NewString(),
			TicketID:  t.ID,
			Content:   in.InitialMessage,
			Author:    in.Author,
			CreatedAt: now,
		}
		if err := s.store.AppendMessage(ctx, msg); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// TicketDetail is the GET /api/tickets/{id} composite.
type TicketDetail struct {
	Ticket         *models.Ticket            `json:"ticket"`
	Messages       []models.TicketMessage    `json:"messages"`
	Analytics      *models.CustomerAnalytics `json:"customer_analytics,omitempty"`
	Recommendation *models.AIRecommendation  `json:"ai_recommendation,omitempty"`
}

// GetTicket resolves the identifier (UUID → id, otherwise ticket number)
// and returns the ticket with its conversation, analytics, and any fresh
// recommendation.
func (s *Service) GetTicket(ctx context.Context, idOrNumber string) (*TicketDetail, error) {
	t, err := s.lookup(ctx, idOrNumber)
	if err != nil {
		return nil, err
	}
	tenantID := tenant.IDFromContext(ctx)

	messages, err := s.store.ListMessages(ctx, tenantID, t.ID)
	if err != nil {
		return nil, err
	}

	detail := &TicketDetail{Ticket: t, Messages: messages}

	if t.CustomerID != "" {
		if a, err := s.analytics.GetCustomerAnalytics(ctx, t.CustomerID); err == nil {
			detail.Analytics = a
		} else if !store.IsNotFound(err) {
			log.Warn().Err(err).Str("customer_id", t.CustomerID).Msg("analytics fetch failed")
		}
	}

	if rec, err := s.store.GetRecommendation(ctx, tenantID, t.ID); err == nil {
		if rec.Fresh(s.now(), len(messages)) {
			detail.Recommendation = rec
		}
	}
	return detail, nil
}

func (s *Service) lookup(ctx context.Context, idOrNumber string) (*models.Ticket, error) {
	tenantID := tenant.IDFromContext(ctx)
	if _, err := uuid.Parse(idOrNumber); err == nil {
		return s.store.GetTicket(ctx, tenantID, idOrNumber)
	}
	return s.store.GetTicketByNumber(ctx, tenantID, idOrNumber)
}

// ── Listing ─────────────────────────────────────────────────

// ListInput is the query surface of GET /api/tickets.
type ListInput struct {
	Filter      store.TicketFilter
	Page        int
	Limit       int
	SmartOrder  bool
	TopicAlerts []string
}

// ListEntry is one row of the listing; smart-order rows carry the score.
type ListEntry struct {
	models.Ticket
	SmartScore        *float64 `json:"smart_score,omitempty"`
	MatchesTopicAlert *bool    `json:"matches_topic_alert,omitempty"`
}

// ListResult is the paginated response.
type ListResult struct {
	Tickets []ListEntry `json:"tickets"`
	Total   int         `json:"total"`
	Page    int         `json:"page"`
	Limit   int         `json:"limit"`

	SmartOrderEnabled bool `json:"smart_order_enabled"`
	TopicAlertsActive bool `json:"topic_alerts_active,omitempty"`
	Matches           int  `json:"matches,omitempty"`
}

// ListTickets lists with conventional sort, or defers ordering to the
// scorer when smart order is requested: fetch all candidates, score,
// sort, then paginate.
func (s *Service) ListTickets(ctx context.Context, in ListInput) (*ListResult, error) {
	if in.Page < 1 {
		in.Page = 1
	}
	if in.Limit < 1 || in.Limit > 200 {
		in.Limit = 25
	}
	tenantID := tenant.IDFromContext(ctx)

	if !in.SmartOrder {
		filter := in.Filter
		filter.Limit = in.Limit
		filter.Offset = (in.Page - 1) * in.Limit
		tickets, total, err := s.store.ListTickets(ctx, tenantID, filter)
		if err != nil {
			return nil, err
		}
		entries := make([]ListEntry, len(tickets))
		for i := range tickets {
			entries[i] = ListEntry{Ticket: tickets[i]}
		}
		return &ListResult{Tickets: entries, Total: total, Page: in.Page, Limit: in.Limit}, nil
	}

	filter := in.Filter
	filter.Limit = 0
	filter.Offset = 0
	tickets, total, err := s.store.ListTickets(ctx, tenantID, filter)
	if err != nil {
		return nil, err
	}

	inputs := make([]scoring.Input, len(tickets))
	for i := range tickets {
		t := &tickets[i]
		inputs[i] = scoring.Input{
			Ticket:      t,
			LatestText:  s.latestText(ctx, tenantID, t),
			Analytics:   s.analyticsOrNil(ctx, t.CustomerID),
			TopicAlerts: in.TopicAlerts,
		}
	}
	ranked := s.scorer.Rank(inputs)

	matches := 0
	entries := make([]ListEntry, 0, len(ranked))
	for _, r := range ranked {
		score := r.Breakdown.Total
		alert := r.Breakdown.MatchesTopicAlert
		if alert {
			matches++
		}
		entries = append(entries, ListEntry{
			Ticket:            *r.Ticket,
			SmartScore:        &score,
			MatchesTopicAlert: &alert,
		})
	}

	start := (in.Page - 1) * in.Limit
	if start > len(entries) {
		start = len(entries)
	}
	end := start + in.Limit
	if end > len(entries) {
		end = len(entries)
	}

	return &ListResult{
		Tickets:           entries[start:end],
		Total:             total,
		Page:              in.Page,
		Limit:             in.Limit,
		SmartOrderEnabled: true,
		TopicAlertsActive: len(in.TopicAlerts) > 0,
		Matches:           matches,
	}, nil
}

func (s *Service) latestText(ctx context.Context, tenantID string, t *models.Ticket) string {
	msgs, err := s.store.ListMessages(ctx, tenantID, t.ID)
	if err != nil || len(msgs) == 0 {
		return t.Subject
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if !msgs[i].FromAgent {
			return t.Subject + "\n" + msgs[i].Content
		}
	}
	return t.Subject
}

func (s *Service) analyticsOrNil(ctx context.Context, customerID string) *models.CustomerAnalytics {
	if customerID == "" {
		return nil
	}
	a, err := s.analytics.GetCustomerAnalytics(ctx, customerID)
	if err != nil {
		return nil
	}
	return a
}

// ── Mutation ────────────────────────────────────────────────

// AppendInput is the POST /api/tickets/{id}/messages body.
type AppendInput struct {
	FromAgent      bool   `json:"from_agent"`
	Content        string `json:"content"`
	Author         string `json:"author"`
	SendToCustomer bool   `json:"send_to_customer"`
	CloseTicket    bool   `json:"close_ticket"`
}

// AppendMessage persists a message, bumps updated_at, optionally closes
// the ticket, and invalidates the ticket's cached recommendation.
func (s *Service) AppendMessage(ctx context.Context, idOrNumber string, in AppendInput) (*models.TicketMessage, error) {
	if in.Content == "" {
		return nil, fmt.Errorf("%w: content required", ErrValidation)
	}
	t, err := s.lookup(ctx, idOrNumber)
	if err != nil {
		return nil, err
	}
	tenantID := tenant.IDFromContext(ctx)

	msg := &models.TicketMessage{
		ID:        uuid.NewString(),
		TicketID:  t.ID,
		FromAgent: in.FromAgent,
		Content:   in.Content,
		Author:    in.Author,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}

	if in.CloseTicket && t.Status != models.StatusClosed {
		now := s.now().UTC()
		t.Status = models.StatusClosed
		t.ClosedAt = &now
		t.UpdatedAt = now
		if err := s.store.UpdateTicket(ctx, t); err != nil {
			return nil, err
		}
	}

	// A new message stales any cached recommendation.
	if err := s.store.DeleteRecommendation(ctx, tenantID, t.ID); err != nil {
		log.Warn().Err(err).Str("ticket_id", t.ID).Msg("recommendation invalidation failed")
	}
	return msg, nil
}

// UpdateInput is the PATCH /api/tickets/{id} body. Nil fields are
// untouched. Tags replace, then AddTags union, then RemoveTags subtract.
type UpdateInput struct {
	Status     *models.TicketStatus   `json:"status"`
	Priority   *models.TicketPriority `json:"priority"`
	AssignedTo *string                `json:"assigned_to"`
	Tags       *[]string              `json:"tags"`
	AddTags    []string               `json:"add_tags"`
	RemoveTags []string               `json:"remove_tags"`
}

func (s *Service) UpdateTicket(ctx context.Context, idOrNumber string, in UpdateInput) (*models.Ticket, error) {
	t, err := s.lookup(ctx, idOrNumber)
	if err != nil {
		return nil, err
	}

	if in.Status != nil {
		switch *in.Status {
		case models.StatusOpen, models.StatusPending, models.StatusClosed:
		default:
			return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, *in.Status)
		}
		t.Status = *in.Status
		if t.Status == models.StatusClosed {
			if t.ClosedAt == nil {
				now := s.now().UTC()
				t.ClosedAt = &now
			}
		} else {
			t.ClosedAt = nil
		}
	}
	if in.Priority != nil {
		if !validPriority(*in.Priority) {
			return nil, fmt.Errorf("%w: unknown priority %q", ErrValidation, *in.Priority)
		}
		t.Priority = *in.Priority
	}
	if in.AssignedTo != nil {
		t.AssignedTo = *in.AssignedTo
	}

	if in.Tags != nil {
		t.Tags = []string{}
		t.AddTags(*in.Tags...)
	}
	t.AddTags(in.AddTags...)
	t.RemoveTags(in.RemoveTags...)

	t.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateTicket(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// AddNote records internal commentary.
func (s *Service) AddNote(ctx context.Context, idOrNumber, content, author string) (*models.TicketNote, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: content required", ErrValidation)
	}
	t, err := s.lookup(ctx, idOrNumber)
	if err != nil {
		return nil, err
	}
	note := &models.TicketNote{
		ID:        uuid.NewString(),
		TicketID:  t.ID,
		Content:   content,
		Author:    author,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.AddNote(ctx, note); err != nil {
		return nil, err
	}
	return note, nil
}

func (s *Service) ListNotes(ctx context.Context, idOrNumber string) ([]models.TicketNote, error) {
	t, err := s.lookup(ctx, idOrNumber)
	if err != nil {
		return nil, err
	}
	return s.store.ListNotes(ctx, tenant.IDFromContext(ctx), t.ID)
}

// ResetConversation deletes the ticket's messages, optionally keeping the
// opening one, and drops any cached recommendation.
func (s *Service) ResetConversation(ctx context.Context, idOrNumber string, keepFirst bool) error {
	t, err := s.lookup(ctx, idOrNumber)
	if err != nil {
		return err
	}
	tenantID := tenant.IDFromContext(ctx)
	if err := s.store.DeleteMessages(ctx, tenantID, t.ID, keepFirst); err != nil {
		return err
	}
	return s.store.DeleteRecommendation(ctx, tenantID, t.ID)
}

func validPriority(p models.TicketPriority) bool {
	switch p {
	case models.PriorityUrgent, models.PriorityHigh, models.PriorityNormal, models.PriorityLow:
		return true
	}
	return false
}
