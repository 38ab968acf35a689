// Package analytics reads the customer intelligence produced by the
// external segmentation engine and shapes it for agents: churn banding,
// communication-style hints, and a cached merged read model.
package analytics

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/scottatquimbi/quimbi-platform/internal/cache"
	"github.com/scottatquimbi/quimbi-platform/internal/priority"
	"github.com/scottatquimbi/quimbi-platform/internal/store"
	"github.com/scottatquimbi/quimbi-platform/internal/tenant"
	"github.com/scottatquimbi/quimbi-platform/pkg/models"
)

// Service reads customer analytics through the cache.
type Service struct {
	store store.AnalyticsStore
	cache cache.Cache
}

func NewService(st store.AnalyticsStore, c cache.Cache) *Service {
	return &Service{store: st, cache: c}
}

// ChurnBand maps a churn score in [0,1] to its risk band.
func ChurnBand(score float64) models.ChurnRiskLevel {
	switch {
	case score < 0.3:
		return models.ChurnLow
	case score < 0.5:
		return models.ChurnMedium
	case score < 0.7:
		return models.ChurnHigh
	default:
		return models.ChurnCritical
	}
}

// GetCustomerAnalytics returns the merged read model for one customer.
// Cache first, then the store; the populated result is cached for an hour.
func (s *Service) GetCustomerAnalytics(ctx context.Context, customerID string) (*models.CustomerAnalytics, error) {
	var cached models.CustomerAnalytics
	if s.cache.Get(ctx, "customer", customerID, &cached) {
		return &cached, nil
	}

	tenantID := tenant.IDFromContext(ctx)
	profile, err := s.store.GetCustomerProfile(ctx, tenantID, customerID)
	if err != nil {
		return nil, err
	}

	enrich(profile)

	if !s.cache.SetTTL(ctx, "customer", customerID, profile, cache.TTLCustomerProfile) {
		log.Debug().Str("customer_id", customerID).Msg("analytics cache write skipped")
	}
	return profile, nil
}

// GetChurnPrediction is the narrow churn read, cached for 30 minutes.
func (s *Service) GetChurnPrediction(ctx context.Context, customerID string) (*models.ChurnPrediction, error) {
	var cached models.ChurnPrediction
	if s.cache.Get(ctx, "churn", customerID, &cached) {
		return &cached, nil
	}

	profile, err := s.store.GetCustomerProfile(ctx, tenant.IDFromContext(ctx), customerID)
	if err != nil {
		return nil, err
	}
	pred := models.ChurnPrediction{
		CustomerID: customerID,
		Score:      profile.Churn.Score,
		RiskLevel:  ChurnBand(profile.Churn.Score),
	}
	s.cache.SetTTL(ctx, "churn", customerID, pred, cache.TTLChurnPrediction)
	return &pred, nil
}

// Merge overlays provider-embedded primary metrics onto the internal
// supplemental analytics. Provider facts (LTV, order counts, tags) win;
// internal data supplies churn, archetype, segments, and hints. Either
// side may be nil.
func Merge(primary *models.CustomerAnalytics, supplemental *models.CustomerAnalytics) *models.CustomerAnalytics {
	if primary == nil && supplemental == nil {
		return nil
	}
	if supplemental == nil {
		out := *primary
		enrich(&out)
		return &out
	}
	out := *supplemental
	if primary != nil {
		if primary.LifetimeValue > 0 {
			out.LifetimeValue = primary.LifetimeValue
		}
		if primary.TotalOrders > 0 {
			out.TotalOrders = primary.TotalOrders
		}
		if primary.AvgOrderValue > 0 {
			out.AvgOrderValue = primary.AvgOrderValue
		}
		if len(primary.Tags) > 0 {
			out.Tags = primary.Tags
		}
		if out.CustomerID == "" {
			out.CustomerID = primary.CustomerID
		}
	}
	enrich(&out)
	return &out
}

// enrich fills in the derived fields: churn band, VIP flag, and the
// communication hints.
func enrich(a *models.CustomerAnalytics) {
	a.Churn.RiskLevel = ChurnBand(a.Churn.Score)
	if a.Churn.CustomerID == "" {
		a.Churn.CustomerID = a.CustomerID
	}
	a.IsVIP = a.IsVIP || priority.IsVIP(a.Tags)
	a.CommunicationHints = communicationHints(a)
}

// communicationHints derives background-context phrasing guidance from the
// customer's segments and metrics. Hints never override explicit
// customer-stated facts.
func communicationHints(a *models.CustomerAnalytics) []string {
	var hints []string

	segs := strings.ToLower(strings.Join(a.DominantSegments, " "))

	switch {
	case strings.Contains(segs, "price_sensitive") || strings.Contains(segs, "discount"):
		hints = append(hints, "price-sensitive: lead with value, mention sales when relevant")
	case a.AvgOrderValue >= 150:
		hints = append(hints, "premium buyer: focus on quality and service, not discounts")
	}

	switch {
	case a.TotalOrders >= 10:
		hints = append(hints, fmt.Sprintf("frequent buyer (%d orders): acknowledge their loyalty", a.TotalOrders))
	case a.TotalOrders == 0 && a.TenureDays <= 30:
		hints = append(hints, "new account with no orders yet: welcome them, keep explanations simple")
	case a.TotalOrders <= 2 && a.TenureDays > 180:
		hints = append(hints, "long-standing account with low engagement: re-engagement opportunity")
	}

	if a.DaysSinceLastPurchase > 0 && a.DaysSinceLastPurchase <= 14 {
		hints = append(hints, "recent purchase: they likely have an active order in flight")
	}

	if strings.Contains(segs, "returner") || strings.Contains(segs, "high_return") {
		hints = append(hints, "history of returns: confirm fit and expectations before suggesting products")
	}

	if a.IsVIP {
		hints = append(hints, "crafter-club member: thank them for their membership")
	}

	return hints
}
