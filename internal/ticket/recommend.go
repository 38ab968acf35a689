package ticket

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/scottatquimbi/quimbi-platform/internal/llm"
	"github.com/scottatquimbi/quimbi-platform/internal/priority"
	"github.com/scottatquimbi/quimbi-platform/internal/scoring"
	"github.com/scottatquimbi/quimbi-platform/internal/tenant"
	"github.com/scottatquimbi/quimbi-platform/pkg/models"
)

// GetRecommendation returns the ticket's cached recommendation when it is
// still fresh (unexpired AND generated at the current message count);
// otherwise it generates and caches a new one.
func (s *Service) GetRecommendation(ctx context.Context, idOrNumber string) (*models.AIRecommendation, error) {
	t, err := s.lookup(ctx, idOrNumber)
	if err != nil {
		return nil, err
	}
	tenantID := tenant.IDFromContext(ctx)

	count, err := s.store.CountMessages(ctx, tenantID, t.ID)
	if err != nil {
		return nil, err
	}
	if rec, err := s.store.GetRecommendation(ctx, tenantID, t.ID); err == nil && rec.Fresh(s.now(), count) {
		return rec, nil
	}
	return s.generate(ctx, t, count, llm.DraftOptions{})
}

// GetDraft returns just the draft text under the same freshness rule: a
// changed message count discards the cached entry regardless of expiry.
func (s *Service) GetDraft(ctx context.Context, idOrNumber string) (*models.AIRecommendation, error) {
	return s.GetRecommendation(ctx, idOrNumber)
}

// RegenerateDraft always produces a fresh entry, never consulting the
// cached one.
func (s *Service) RegenerateDraft(ctx context.Context, idOrNumber string, opts llm.DraftOptions) (*models.AIRecommendation, error) {
	t, err := s.lookup(ctx, idOrNumber)
	if err != nil {
		return nil, err
	}
	count, err := s.store.CountMessages(ctx, tenant.IDFromContext(ctx), t.ID)
	if err != nil {
		return nil, err
	}
	return s.generate(ctx, t, count, opts)
}

func (s *Service) generate(ctx context.Context, t *models.Ticket, messageCount int, opts llm.DraftOptions) (*models.AIRecommendation, error) {
	tenantID := tenant.IDFromContext(ctx)
	messages, err := s.store.ListMessages(ctx, tenantID, t.ID)
	if err != nil {
		return nil, err
	}

	an := s.analyticsOrNil(ctx, t.CustomerID)
	urgency := priority.ClassifyUrgency(s.latestText(ctx, tenantID, t))
	decision := priority.Decide(urgency, an)

	in := llm.RecommendInput{
		Ticket:    t,
		Messages:  messages,
		Analytics: an,
		Urgency:   urgency,
		Priority:  decision,
	}

	rec, err := s.adapter.Recommend(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if opts != (llm.DraftOptions{}) {
		draft, err := s.adapter.Draft(ctx, in, opts)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		rec.DraftResponse = draft
		rec.DraftTone = opts.Tone
	}

	now := s.now().UTC()
	rec.ID = uuid.NewString()
	rec.TicketID = t.ID
	rec.MessageCount = messageCount
	rec.GeneratedAt = now
	rec.ExpiresAt = now.Add(recommendationTTL)
	if err := s.store.SaveRecommendation(ctx, tenantID, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// MarkActionCompleted stamps or clears completed_at on one recommended
// action, addressed by its index.
func (s *Service) MarkActionCompleted(ctx context.Context, idOrNumber string, index int, completed bool) (*models.AIRecommendation, error) {
	t, err := s.lookup(ctx, idOrNumber)
	if err != nil {
		return nil, err
	}
	tenantID := tenant.IDFromContext(ctx)

	rec, err := s.store.GetRecommendation(ctx, tenantID, t.ID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(rec.Actions) {
		return nil, fmt.Errorf("%w: action index %d out of range", ErrValidation, index)
	}
	if completed {
		now := s.now().UTC()
		rec.Actions[index].CompletedAt = &now
	} else {
		rec.Actions[index].CompletedAt = nil
	}
	if err := s.store.SaveRecommendation(ctx, tenantID, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ScoreBreakdownDetail adds the echo context around the raw breakdown.
type ScoreBreakdownDetail struct {
	Breakdown models.ScoreBreakdown     `json:"breakdown"`
	Ticket    *models.Ticket            `json:"ticket"`
	Analytics *models.CustomerAnalytics `json:"customer_analytics,omitempty"`
}

// GetScoreBreakdown recomputes the smart-order score for one ticket so
// operators can introspect the ranking.
func (s *Service) GetScoreBreakdown(ctx context.Context, idOrNumber string, topicAlerts []string) (*ScoreBreakdownDetail, error) {
	t, err := s.lookup(ctx, idOrNumber)
	if err != nil {
		return nil, err
	}
	tenantID := tenant.IDFromContext(ctx)

	an := s.analyticsOrNil(ctx, t.CustomerID)
	breakdown := s.scorer.Score(scoring.Input{
		Ticket:      t,
		LatestText:  s.latestText(ctx, tenantID, t),
		Analytics:   an,
		TopicAlerts: topicAlerts,
	})
	return &ScoreBreakdownDetail{Breakdown: breakdown, Ticket: t, Analytics: an}, nil
}
