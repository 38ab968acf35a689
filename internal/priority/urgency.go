// Package priority classifies customer messages into urgency tiers from a
// fixed keyword table and combines urgency with customer value signals
// (VIP, lifetime value, churn) into a priority decision plus tag set.
package priority

import (
	"strings"

	"github.com/scottatquimbi/quimbi-platform/pkg/models"
)

// categoryRule is one row of the classification table: a category, its
// tier, its patterns, and the provider tag to apply on match.
type categoryRule struct {
	category models.UrgencyCategory
	level    models.UrgencyLevel
	patterns []string
	tag      string
}

// urgencyRules is the fixed two-tier classification table. Urgent rows are
// checked before high rows; within a tier, first matching category wins.
// Matching is case-insensitive substring, so "cancelled within 24h" also
// matches cancel_request.
var urgencyRules = []categoryRule{
	// Tier: urgent
	{
		category: models.CategoryCancelRequest,
		level:    models.UrgencyUrgent,
		patterns: []string{"cancel my order", "cancel order", "need to cancel", "want to cancel", "please cancel"},
		tag:      "urgent_cancel_request",
	},
	{
		category: models.CategoryAddressChange,
		level:    models.UrgencyUrgent,
		patterns: []string{"change address", "edit address", "incorrect address", "wrong address", "ship to different address", "address is wrong", "shipped to wrong address"},
		tag:      "urgent_address_change",
	},
	{
		category: models.CategoryOrderEdit,
		level:    models.UrgencyUrgent,
		patterns: []string{"edit my order", "edit order", "change my order", "modify my order", "wrong item ordered"},
		tag:      "urgent_order_edit",
	},
	// Tier: high
	{
		category: models.CategoryDamagedProduct,
		level:    models.UrgencyHigh,
		patterns: []string{"broken", "damaged", "defective", "arrived broken"},
		tag:      "high_priority_damaged_product",
	},
	{
		category: models.CategoryMissingItems,
		level:    models.UrgencyHigh,
		patterns: []string{"missing item", "didn't receive", "item not in box"},
		tag:      "high_priority_missing_items",
	},
	{
		category: models.CategoryDelayedOrder,
		level:    models.UrgencyHigh,
		patterns: []string{"hasn't arrived", "delayed", "still waiting"},
		tag:      "high_priority_delayed_order",
	},
}

// ClassifyUrgency runs the keyword table over the customer message text.
// The first matching urgent category wins, then the first matching high
// category; otherwise (normal, general, no keywords).
func ClassifyUrgency(text string) models.UrgencyClassification {
	lower := strings.ToLower(text)

	for _, tier := range []models.UrgencyLevel{models.UrgencyUrgent, models.UrgencyHigh} {
		for _, rule := range urgencyRules {
			if rule.level != tier {
				continue
			}
			var matched []string
			for _, p := range rule.patterns {
				if strings.Contains(lower, p) {
					matched = append(matched, p)
				}
			}
			if len(matched) > 0 {
				return models.UrgencyClassification{
					Level:           rule.level,
					Category:        rule.category,
					MatchedKeywords: matched,
					ProviderTag:     rule.tag,
				}
			}
		}
	}

	return models.UrgencyClassification{
		Level:           models.UrgencyNormal,
		Category:        models.CategoryGeneral,
		MatchedKeywords: []string{},
	}
}
