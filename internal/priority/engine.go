package priority

import (
	"fmt"
	"strings"

	"github.com/scottatquimbi/quimbi-platform/pkg/models"
)

// Thresholds for the high-value and retention rules.
const (
	highValueLTV        = 2000.0
	retentionChurnFloor = 0.5
)

// IsVIP reports crafter-club membership from the provider tag set. Any tag
// containing "lcc" counts (LCC_Member, lcc_member, LCC Member, and also
// LCCX), as does the spelled-out "Crafter Club" form.
func IsVIP(tags []string) bool {
	for _, tag := range tags {
		lower := strings.ToLower(tag)
		if strings.Contains(lower, "lcc") || strings.Contains(lower, "crafter club") {
			return true
		}
	}
	return false
}

// Decide combines the urgency classification with customer value signals
// into a priority and tag set. Rules are ordered; the first hit wins.
func Decide(urgency models.UrgencyClassification, analytics *models.CustomerAnalytics) models.PriorityDecision {
	var (
		vip   bool
		ltv   float64
		churn float64
	)
	if analytics != nil {
		vip = analytics.IsVIP || IsVIP(analytics.Tags)
		ltv = analytics.LifetimeValue
		churn = analytics.Churn.Score
	}

	urgent := urgency.Level == models.UrgencyUrgent
	high := urgency.Level == models.UrgencyHigh

	switch {
	case urgent && vip:
		return models.PriorityDecision{
			Priority: models.PriorityUrgent,
			Reason:   fmt.Sprintf("urgent %s from VIP customer", urgency.Category),
			Tags:     []string{"lcc_member", "vip", urgency.ProviderTag},
		}
	case urgent && ltv >= highValueLTV:
		return models.PriorityDecision{
			Priority: models.PriorityUrgent,
			Reason:   fmt.Sprintf("urgent %s from high-value customer (LTV %.0f)", urgency.Category, ltv),
			Tags:     []string{"high_value", urgency.ProviderTag},
		}
	case urgent:
		return models.PriorityDecision{
			Priority: models.PriorityUrgent,
			Reason:   fmt.Sprintf("urgent %s", urgency.Category),
			Tags:     []string{urgency.ProviderTag},
		}
	case vip:
		return models.PriorityDecision{
			Priority: models.PriorityHigh,
			Reason:   "VIP customer",
			Tags:     []string{"lcc_member", "vip"},
		}
	case high:
		return models.PriorityDecision{
			Priority: models.PriorityHigh,
			Reason:   fmt.Sprintf("high-priority %s", urgency.Category),
			Tags:     []string{urgency.ProviderTag},
		}
	case ltv >= highValueLTV && churn >= retentionChurnFloor:
		return models.PriorityDecision{
			Priority: models.PriorityHigh,
			Reason:   fmt.Sprintf("high-value customer at churn risk (LTV %.0f, churn %.2f)", ltv, churn),
			Tags:     []string{"high_value", "retention_priority"},
		}
	default:
		var tags []string
		if urgency.ProviderTag != "" {
			tags = append(tags, urgency.ProviderTag)
		}
		return models.PriorityDecision{
			Priority: models.PriorityNormal,
			Reason:   "no priority signals",
			Tags:     tags,
		}
	}
}
