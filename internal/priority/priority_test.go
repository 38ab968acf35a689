package priority

import (
	"strings"
	"testing"

	"github.com/scottatquimbi/quimbi-platform/pkg/models"
)

func TestClassifyUrgency_Table(t *testing.T) {
	cases := []struct {
		name     string
		text     string
		level    models.UrgencyLevel
		category models.UrgencyCategory
		tag      string
	}{
		{"cancel", "Please cancel my order", models.UrgencyUrgent, models.CategoryCancelRequest, "urgent_cancel_request"},
		{"cancel short", "I need to cancel asap", models.UrgencyUrgent, models.CategoryCancelRequest, "urgent_cancel_request"},
		{"address", "you shipped to wrong address!!", models.UrgencyUrgent, models.CategoryAddressChange, "urgent_address_change"},
		{"order edit", "can I modify my order before it ships", models.UrgencyUrgent, models.CategoryOrderEdit, "urgent_order_edit"},
		{"damaged", "the item arrived broken", models.UrgencyHigh, models.CategoryDamagedProduct, "high_priority_damaged_product"},
		{"missing", "there's a missing item in my package", models.UrgencyHigh, models.CategoryMissingItems, "high_priority_missing_items"},
		{"delayed", "my package hasn't arrived yet", models.UrgencyHigh, models.CategoryDelayedOrder, "high_priority_delayed_order"},
		{"normal", "What fabric is this?", models.UrgencyNormal, models.CategoryGeneral, ""},
		{"case insensitive", "CANCEL ORDER NOW", models.UrgencyUrgent, models.CategoryCancelRequest, "urgent_cancel_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyUrgency(tc.text)
			if got.Level != tc.level || got.Category != tc.category {
				t.Errorf("ClassifyUrgency(%q) = (%s, %s), want (%s, %s)",
					tc.text, got.Level, got.Category, tc.level, tc.category)
			}
			if got.ProviderTag != tc.tag {
				t.Errorf("ProviderTag = %q, want %q", got.ProviderTag, tc.tag)
			}
		})
	}
}

func TestClassifyUrgency_UrgentBeatsHigh(t *testing.T) {
	// Both "cancel order" (urgent) and "damaged" (high) present: urgent wins.
	got := ClassifyUrgency("the box was damaged so please cancel my order")
	if got.Level != models.UrgencyUrgent || got.Category != models.CategoryCancelRequest {
		t.Errorf("got (%s, %s), want (urgent, cancel_request)", got.Level, got.Category)
	}
}

func TestClassifyUrgency_MatchedKeywords(t *testing.T) {
	got := ClassifyUrgency("please cancel my order, I want to cancel it")
	if len(got.MatchedKeywords) < 2 {
		t.Errorf("MatchedKeywords = %v, want both matched phrases", got.MatchedKeywords)
	}
	got = ClassifyUrgency("hello")
	if got.MatchedKeywords == nil || len(got.MatchedKeywords) != 0 {
		t.Errorf("normal match should carry an empty, non-nil keyword list, got %v", got.MatchedKeywords)
	}
}

func TestIsVIP(t *testing.T) {
	cases := []struct {
		tags []string
		want bool
	}{
		{[]string{"LCC_Member"}, true},
		{[]string{"lcc_member"}, true},
		{[]string{"LCC Member"}, true},
		{[]string{"Crafter Club"}, true},
		{[]string{"LCCX"}, true},
		{[]string{"wholesale", "repeat_buyer"}, false},
		{nil, false},
	}
	for _, tc := range cases {
		if got := IsVIP(tc.tags); got != tc.want {
			t.Errorf("IsVIP(%v) = %v, want %v", tc.tags, got, tc.want)
		}
	}
}

func analyticsWith(tags []string, ltv, churn float64) *models.CustomerAnalytics {
	return &models.CustomerAnalytics{
		LifetimeValue: ltv,
		Tags:          tags,
		IsVIP:         IsVIP(tags),
		Churn:         models.ChurnPrediction{Score: churn},
	}
}

func hasTags(got []string, want ...string) bool {
	set := make(map[string]bool, len(got))
	for _, tag := range got {
		set[tag] = true
	}
	for _, tag := range want {
		if !set[tag] {
			return false
		}
	}
	return true
}

func TestDecide_UrgentCancelForVIP(t *testing.T) {
	urgency := ClassifyUrgency("Please cancel my order")
	decision := Decide(urgency, analyticsWith([]string{"LCC_Member"}, 500, 0.3))

	if decision.Priority != models.PriorityUrgent {
		t.Errorf("Priority = %s, want urgent", decision.Priority)
	}
	if !strings.Contains(decision.Reason, "VIP") {
		t.Errorf("Reason = %q, want VIP mentioned", decision.Reason)
	}
	if !hasTags(decision.Tags, "lcc_member", "vip", "urgent_cancel_request") {
		t.Errorf("Tags = %v", decision.Tags)
	}
}

func TestDecide_VIPNoUrgency(t *testing.T) {
	urgency := ClassifyUrgency("What fabric is this?")
	decision := Decide(urgency, analyticsWith([]string{"LCC_Member"}, 200, 0.2))

	if decision.Priority != models.PriorityHigh {
		t.Errorf("Priority = %s, want high", decision.Priority)
	}
	if !hasTags(decision.Tags, "lcc_member", "vip") {
		t.Errorf("Tags = %v", decision.Tags)
	}
}

func TestDecide_RuleOrder(t *testing.T) {
	cases := []struct {
		name     string
		text     string
		tags     []string
		ltv      float64
		churn    float64
		priority models.TicketPriority
		tagWant  []string
	}{
		{"urgent high value", "cancel my order", nil, 2500, 0.1, models.PriorityUrgent, []string{"high_value", "urgent_cancel_request"}},
		{"urgent plain", "cancel my order", nil, 100, 0.1, models.PriorityUrgent, []string{"urgent_cancel_request"}},
		{"high urgency", "it arrived broken", nil, 100, 0.1, models.PriorityHigh, []string{"high_priority_damaged_product"}},
		{"retention", "do you restock?", nil, 2500, 0.6, models.PriorityHigh, []string{"high_value", "retention_priority"}},
		{"normal", "do you restock?", nil, 100, 0.1, models.PriorityNormal, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision := Decide(ClassifyUrgency(tc.text), analyticsWith(tc.tags, tc.ltv, tc.churn))
			if decision.Priority != tc.priority {
				t.Errorf("Priority = %s, want %s", decision.Priority, tc.priority)
			}
			if !hasTags(decision.Tags, tc.tagWant...) {
				t.Errorf("Tags = %v, want superset of %v", decision.Tags, tc.tagWant)
			}
		})
	}
}

func TestDecide_NilAnalytics(t *testing.T) {
	decision := Decide(ClassifyUrgency("cancel my order"), nil)
	if decision.Priority != models.PriorityUrgent {
		t.Errorf("Priority = %s, want urgent even without analytics", decision.Priority)
	}
	decision = Decide(ClassifyUrgency("hello"), nil)
	if decision.Priority != models.PriorityNormal {
		t.Errorf("Priority = %s, want normal", decision.Priority)
	}
}
