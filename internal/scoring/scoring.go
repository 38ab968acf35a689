// Package scoring ranks inbox tickets by a weighted multi-component score
// so agents see the highest-impact conversations first.
package scoring

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/scottatquimbi/quimbi-platform/pkg/models"
)

// Component weights.
const (
	WeightChurn      = 3.0
	WeightValue      = 2.0
	WeightUrgency    = 1.5
	valueCap         = 10.0
	SentimentBoost   = 2.0
	TopicAlertBoost  = 5.0
	DifficultyEasy   = 1.0
	DifficultyHard   = -1.5
	ageHalfLifeHours = 24.0
)

// urgencyBase maps ticket priority to the raw urgency factor, multiplied
// by WeightUrgency.
var urgencyBase = map[models.TicketPriority]float64{
	models.PriorityUrgent: 4,
	models.PriorityHigh:   3,
	models.PriorityNormal: 1,
	models.PriorityLow:    0.5,
}

// DefaultDifficultyKeywords is the stock difficulty heuristic: easy
// patterns nudge a ticket up (quick wins), hard patterns push it down
// (multi-order or cross-system work that needs a senior agent).
var DefaultDifficultyKeywords = DifficultyKeywords{
	Easy: []string{"where is my order", "order status", "tracking", "when will", "how do i", "what is"},
	Hard: []string{"multiple orders", "several orders", "chargeback", "legal", "lawyer", "escalate", "warehouse", "wholesale account"},
}

// DifficultyKeywords configures the difficulty component per deployment.
type DifficultyKeywords struct {
	Easy []string
	Hard []string
}

// Input bundles everything the scorer reads for one ticket.
type Input struct {
	Ticket      *models.Ticket
	LatestText  string
	Analytics   *models.CustomerAnalytics
	TopicAlerts []string
}

// Scorer computes smart-order scores. The zero value is not usable; use New.
type Scorer struct {
	difficulty DifficultyKeywords
	now        func() time.Time
}

func New() *Scorer {
	return &Scorer{difficulty: DefaultDifficultyKeywords, now: time.Now}
}

// WithDifficulty overrides the difficulty keyword sets.
func (s *Scorer) WithDifficulty(kw DifficultyKeywords) *Scorer {
	s.difficulty = kw
	return s
}

// Score computes the full breakdown for one ticket. Absent analytics zero
// out the churn and value components; scoring never fails.
func (s *Scorer) Score(in Input) models.ScoreBreakdown {
	now := s.now()
	text := strings.ToLower(in.LatestText)

	var c models.ScoreComponents

	if in.Analytics != nil {
		c.ChurnRisk = in.Analytics.Churn.Score * WeightChurn
		c.CustomerValue = math.Min(in.Analytics.LifetimeValue/1000, valueCap) * WeightValue
	}

	base, ok := urgencyBase[in.Ticket.Priority]
	if !ok {
		base = urgencyBase[models.PriorityNormal]
	}
	c.Urgency = base * WeightUrgency

	ageHours := now.Sub(in.Ticket.CreatedAt).Hours()
	if ageHours > 0 {
		c.Age = 1 - math.Exp(-ageHours/ageHalfLifeHours)
	}

	c.Difficulty = s.difficultyScore(text)

	if strings.EqualFold(in.Ticket.Sentiment, "frustrated") {
		c.Sentiment = SentimentBoost
	}

	matchesAlert := false
	if in.Analytics != nil {
		for _, alert := range in.TopicAlerts {
			if alert != "" && strings.Contains(text, strings.ToLower(alert)) {
				matchesAlert = true
				c.TopicAlert = TopicAlertBoost
				break
			}
		}
	}

	breakdown := models.ScoreBreakdown{
		TicketID:   in.Ticket.ID,
		Components: c,
		Weights: map[string]float64{
			"churn_risk":     WeightChurn,
			"customer_value": WeightValue,
			"urgency":        WeightUrgency,
			"sentiment":      SentimentBoost,
			"topic_alert":    TopicAlertBoost,
		},
		Total:             c.Total(),
		CustomerID:        in.Ticket.CustomerID,
		Priority:          in.Ticket.Priority,
		AgeHours:          math.Max(ageHours, 0),
		Sentiment:         in.Ticket.Sentiment,
		MatchesTopicAlert: matchesAlert,
	}
	if in.Analytics != nil {
		breakdown.LifetimeValue = in.Analytics.LifetimeValue
		breakdown.ChurnScore = in.Analytics.Churn.Score
	}
	return breakdown
}

func (s *Scorer) difficultyScore(text string) float64 {
	for _, kw := range s.difficulty.Hard {
		if strings.Contains(text, kw) {
			return DifficultyHard
		}
	}
	for _, kw := range s.difficulty.Easy {
		if strings.Contains(text, kw) {
			return DifficultyEasy
		}
	}
	return 0
}

// Ranked pairs a ticket with its breakdown for sorted inbox listings.
type Ranked struct {
	Ticket    *models.Ticket
	Breakdown models.ScoreBreakdown
}

// Rank scores every input and sorts by total descending. Ties break by
// created_at ascending (older first), then ticket id.
func (s *Scorer) Rank(inputs []Input) []Ranked {
	out := make([]Ranked, 0, len(inputs))
	for _, in := range inputs {
		out = append(out, Ranked{Ticket: in.Ticket, Breakdown: s.Score(in)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Breakdown.Total != b.Breakdown.Total {
			return a.Breakdown.Total > b.Breakdown.Total
		}
		if !a.Ticket.CreatedAt.Equal(b.Ticket.CreatedAt) {
			return a.Ticket.CreatedAt.Before(b.Ticket.CreatedAt)
		}
		return a.Ticket.ID < b.Ticket.ID
	})
	return out
}
