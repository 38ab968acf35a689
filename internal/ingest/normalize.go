// Package ingest turns raw provider webhooks into enriched tickets: it
// normalizes payload shapes, filters automated and looping traffic,
// resolves the customer, computes urgency and priority, writes results
// back to the provider, and records an AI recommendation.
package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/scottatquimbi/quimbi-platform/pkg/models"
)

// flexID tolerates providers that send numeric ids where others send
// strings.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type rawCustomer struct {
	ID           flexID                       `json:"id"`
	ExternalID   flexID                       `json:"external_id"`
	Email        string                       `json:"email"`
	Phone        string                       `json:"phone"`
	Name         string                       `json:"name"`
	Meta         map[string]string            `json:"meta"`
	Integrations map[string]map[string]string `json:"integrations"`

	LifetimeValue float64  `json:"lifetime_value"`
	TotalOrders   int      `json:"total_orders"`
	Tags          []string `json:"tags"`
}

type rawMessage struct {
	ID             flexID    `json:"id"`
	Via            string    `json:"via"`
	Channel        string    `json:"channel"`
	FromAgent      bool      `json:"from_agent"`
	CreatedByAgent bool      `json:"created_by_agent"`
	BodyText       string    `json:"body_text"`
	Subject        string    `json:"subject"`
	CreatedAt      time.Time `json:"created_at"`
}

type rawTicket struct {
	ID       flexID       `json:"id"`
	Subject  string       `json:"subject"`
	Status   string       `json:"status"`
	Channel  string       `json:"channel"`
	Via      string       `json:"via"`
	Tags     []any        `json:"tags"`
	Customer rawCustomer  `json:"customer"`
	Messages []rawMessage `json:"messages"`
}

// rawPayload covers both delivery shapes: a whole ticket at the top
// level, or a {ticket, message} pair.
type rawPayload struct {
	rawTicket
	Ticket  *rawTicket  `json:"ticket"`
	Message *rawMessage `json:"message"`
}

// Normalize folds a provider payload into the canonical envelope with
// messages ordered oldest first.
func Normalize(provider models.CRMProvider, body []byte) (*models.WebhookEnvelope, error) {
	var raw rawPayload
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("ingest: malformed payload: %w", err)
	}

	t := raw.rawTicket
	if raw.Ticket != nil {
		t = *raw.Ticket
	}

	env := &models.WebhookEnvelope{
		Provider: provider,
		Ticket: models.WebhookTicket{
			ID:      string(t.ID),
			Subject: t.Subject,
			Status:  strings.ToLower(t.Status),
			Channel: strings.ToLower(t.Channel),
			Via:     strings.ToLower(t.Via),
			Tags:    normalizeTags(t.Tags),
		},
		Customer: models.WebhookCustomer{
			ID:            string(t.Customer.ID),
			ExternalID:    string(t.Customer.ExternalID),
			Email:         strings.ToLower(strings.TrimSpace(t.Customer.Email)),
			Phone:         t.Customer.Phone,
			Name:          t.Customer.Name,
			Meta:          t.Customer.Meta,
			Integrations:  t.Customer.Integrations,
			LifetimeValue: t.Customer.LifetimeValue,
			TotalOrders:   t.Customer.TotalOrders,
			Tags:          t.Customer.Tags,
		},
	}

	for _, m := range t.Messages {
		env.Messages = append(env.Messages, toMessage(m))
	}
	if raw.Message != nil {
		env.Messages = append(env.Messages, toMessage(*raw.Message))
	}
	sortMessagesByTime(env.Messages)

	env.Source = DetectSource(env)
	return env, nil
}

func toMessage(m rawMessage) models.WebhookMessage {
	return models.WebhookMessage{
		ID:             string(m.ID),
		Via:            strings.ToLower(m.Via),
		Channel:        strings.ToLower(m.Channel),
		FromAgent:      m.FromAgent,
		CreatedByAgent: m.CreatedByAgent,
		BodyText:       m.BodyText,
		Subject:        m.Subject,
		CreatedAt:      m.CreatedAt,
	}
}

// normalizeTags accepts either plain strings or provider tag objects with
// a "name" field.
func normalizeTags(tags []any) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		switch v := tag.(type) {
		case string:
			out = append(out, v)
		case map[string]any:
			if name, ok := v["name"].(string); ok {
				out = append(out, name)
			}
		}
	}
	return out
}

// sortMessagesByTime keeps newest last. Messages without timestamps keep
// their delivery order.
func sortMessagesByTime(msgs []models.WebhookMessage) {
	for i := 1; i < len(msgs); i++ {
		for j := i; j > 0; j-- {
			a, b := msgs[j-1], msgs[j]
			if a.CreatedAt.IsZero() || b.CreatedAt.IsZero() || !a.CreatedAt.After(b.CreatedAt) {
				break
			}
			msgs[j-1], msgs[j] = b, a
		}
	}
}

// DetectSource classifies the conversation origin from via, channel,
// subject, and the customer email.
func DetectSource(env *models.WebhookEnvelope) models.TicketSource {
	via := env.Ticket.Via
	channel := env.Ticket.Channel
	if m := env.LatestMessage(); m != nil {
		if m.Via != "" {
			via = m.Via
		}
		if m.Channel != "" {
			channel = m.Channel
		}
	}
	subject := strings.ToLower(env.Ticket.Subject)

	switch {
	case strings.Contains(via, "ringcentral") || strings.Contains(channel, "ringcentral"):
		return models.SourceRingCentral
	case channel == "sms" || via == "sms" || strings.Contains(subject, "new sms"):
		return models.SourceSMS
	case channel == "chat" || via == "chat":
		return models.SourceChat
	case channel == "phone" || via == "phone" || via == "voice":
		return models.SourcePhone
	case channel == "email" || via == "email":
		return models.SourceEmail
	case via == "api":
		return models.SourceAPI
	case env.Customer.Email != "":
		return models.SourceEmail
	default:
		return models.SourceUnknown
	}
}
