package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/scottatquimbi/quimbi-platform/internal/analytics"
	"github.com/scottatquimbi/quimbi-platform/internal/crm"
	"github.com/scottatquimbi/quimbi-platform/internal/identity"
	"github.com/scottatquimbi/quimbi-platform/internal/llm"
	"github.com/scottatquimbi/quimbi-platform/internal/metrics"
	"github.com/scottatquimbi/quimbi-platform/internal/priority"
	"github.com/scottatquimbi/quimbi-platform/internal/store"
	"github.com/scottatquimbi/quimbi-platform/internal/tenant"
	"github.com/scottatquimbi/quimbi-platform/pkg/models"
)

// recommendationTTL bounds how long an ingestion-produced recommendation
// stays fresh.
const recommendationTTL = time.Hour

// StatusAccepted / StatusSkipped are the synchronous pipeline outcomes.
const (
	StatusAccepted = "accepted"
	StatusSkipped  = "skipped"
)

// Outcome is what the webhook handler returns to the provider.
type Outcome struct {
	Status string              `json:"status"`
	Reason string              `json:"reason,omitempty"`
	Source models.TicketSource `json:"source,omitempty"`
}

// CustomerResolver narrows identity.Resolver for the pipeline.
type CustomerResolver interface {
	Resolve(ctx context.Context, c *models.WebhookCustomer) (string, error)
}

// AnalyticsReader narrows the analytics service.
type AnalyticsReader interface {
	GetCustomerAnalytics(ctx context.Context, customerID string) (*models.CustomerAnalytics, error)
}

// Pipeline wires the ingestion steps together. Normalization, filtering,
// resolution, and the analytics merge run synchronously; enrichment and
// write-back run on the worker pool.
type Pipeline struct {
	resolver  CustomerResolver
	analytics AnalyticsReader
	writeback crm.Writeback
	adapter   llm.Adapter
	recs      store.RecommendationStore
	pool      *Pool
}

func NewPipeline(resolver CustomerResolver, reader AnalyticsReader, wb crm.Writeback, adapter llm.Adapter, recs store.RecommendationStore, pool *Pool) *Pipeline {
	return &Pipeline{
		resolver:  resolver,
		analytics: reader,
		writeback: wb,
		adapter:   adapter,
		recs:      recs,
		pool:      pool,
	}
}

// Process handles one webhook delivery for an identified tenant. The
// returned outcome is final for skips; accepted envelopes continue
// asynchronously.
func (p *Pipeline) Process(ctx context.Context, ten *models.Tenant, cfg models.CRMConfig, body []byte) (*Outcome, error) {
	env, err := Normalize(ten.CRMProvider, body)
	if err != nil {
		metrics.WebhooksProcessed.WithLabelValues(string(ten.CRMProvider), "rejected").Inc()
		return nil, err
	}

	if reason := ShouldSkip(env); reason != "" {
		metrics.WebhooksProcessed.WithLabelValues(string(ten.CRMProvider), "skipped").Inc()
		log.Debug().
			Str("tenant_id", ten.ID).
			Str("ticket_id", env.Ticket.ID).
			Str("reason", reason).
			Msg("webhook skipped")
		return &Outcome{Status: StatusSkipped, Reason: reason, Source: env.Source}, nil
	}

	merged := p.resolveAndMerge(ctx, env)

	tc := tenant.FromContext(ctx)
	job := func(jobCtx context.Context) {
		if tc != nil {
			jobCtx = tenant.WithContext(jobCtx, tc)
		}
		p.enrich(jobCtx, ten, cfg, env, merged)
	}
	if err := p.pool.Submit(job); err != nil {
		// Shutdown or saturation: the provider will redeliver.
		metrics.WebhooksProcessed.WithLabelValues(string(ten.CRMProvider), "rejected").Inc()
		return nil, err
	}

	return &Outcome{Status: StatusAccepted, Source: env.Source}, nil
}

// resolveAndMerge runs customer resolution and the analytics merge.
// Both are soft: an unidentified customer or missing profile leaves the
// provider-embedded metrics as the only analytics.
func (p *Pipeline) resolveAndMerge(ctx context.Context, env *models.WebhookEnvelope) *models.CustomerAnalytics {
	var primary *models.CustomerAnalytics
	if env.Customer.LifetimeValue > 0 || env.Customer.TotalOrders > 0 || len(env.Customer.Tags) > 0 {
		primary = &models.CustomerAnalytics{
			LifetimeValue: env.Customer.LifetimeValue,
			TotalOrders:   env.Customer.TotalOrders,
			Tags:          env.Customer.Tags,
		}
	}

	customerID, err := p.resolver.Resolve(ctx, &env.Customer)
	if err != nil {
		if !errors.Is(err, identity.ErrUnidentified) {
			log.Warn().Err(err).Msg("customer resolution failed")
		}
		return analytics.Merge(primary, nil)
	}
	if primary != nil {
		primary.CustomerID = customerID
	}

	supplemental, err := p.analytics.GetCustomerAnalytics(ctx, customerID)
	if err != nil {
		if !store.IsNotFound(err) {
			log.Warn().Err(err).Str("customer_id", customerID).Msg("analytics fetch failed")
		}
		supplemental = nil
	}

	merged := analytics.Merge(primary, supplemental)
	if merged != nil && merged.CustomerID == "" {
		merged.CustomerID = customerID
	}
	return merged
}

// enrich runs the asynchronous steps: urgency, priority, provider
// write-back, draft generation, note post, recommendation persist, and
// the final structured event.
func (p *Pipeline) enrich(ctx context.Context, ten *models.Tenant, cfg models.CRMConfig, env *models.WebhookEnvelope, merged *models.CustomerAnalytics) {
	urgency := priority.ClassifyUrgency(env.LatestCustomerText())
	decision := priority.Decide(urgency, merged)

	// A failed priority write-back stops further write-backs for this
	// event; the provider retries the whole delivery. The recommendation
	// is still generated and persisted.
	writebackOK := true
	if err := p.writeback.UpdatePriorityAndTags(ctx, cfg, ten.CRMProvider, env.Ticket.ID, decision.Priority, unionTags(env.Ticket.Tags, decision.Tags)); err != nil {
		writebackOK = false
		log.Warn().Err(err).Str("ticket_id", env.Ticket.ID).Msg("priority write-back failed, note post suppressed")
	}

	notePosted := false
	rec, err := p.adapter.Recommend(ctx, llm.RecommendInput{
		Envelope:  env,
		Analytics: merged,
		Urgency:   urgency,
		Priority:  decision,
	})
	if err != nil {
		log.Warn().Err(err).Str("ticket_id", env.Ticket.ID).Msg("draft generation failed")
	} else {
		if rec.DraftResponse != "" && writebackOK {
			if err := p.writeback.PostInternalNote(ctx, cfg, ten.CRMProvider, env.Ticket.ID, rec.DraftResponse); err == nil {
				notePosted = true
			}
		}

		now := time.Now().UTC()
		rec.ID = uuid.NewString()
		rec.TicketID = env.Ticket.ID
		rec.MessageCount = len(env.Messages)
		rec.GeneratedAt = now
		rec.ExpiresAt = now.Add(recommendationTTL)
		if err := p.recs.SaveRecommendation(ctx, ten.ID, rec); err != nil {
			log.Error().Err(err).Str("ticket_id", env.Ticket.ID).Msg("recommendation persist failed")
		}
	}

	metrics.WebhooksProcessed.WithLabelValues(string(ten.CRMProvider), "processed").Inc()
	log.Info().
		Str("tenant_id", ten.ID).
		Str("ticket_id", env.Ticket.ID).
		Str("priority", string(decision.Priority)).
		Str("urgency_category", string(urgency.Category)).
		Str("source", string(env.Source)).
		Bool("lcc_member", merged != nil && merged.IsVIP).
		Bool("note_posted", notePosted).
		Msg("webhook processed")
}

func unionTags(existing, computed []string) []string {
	seen := make(map[string]bool, len(existing)+len(computed))
	out := make([]string, 0, len(existing)+len(computed))
	for _, set := range [][]string{existing, computed} {
		for _, tag := range set {
			if tag == "" || seen[tag] {
				continue
			}
			seen[tag] = true
			out = append(out, tag)
		}
	}
	return out
}
