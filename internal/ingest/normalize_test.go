package ingest

import (
	"testing"
	"time"

	"github.com/scottatquimbi/quimbi-platform/pkg/models"
)

func TestNormalize_WholeTicketShape(t *testing.T) {
	body := []byte(`{
		"id": 12345,
		"subject": "Where is my order?",
		"status": "Open",
		"channel": "Email",
		"tags": [{"name": "LCC_Member"}, "repeat_buyer"],
		"customer": {
			"id": 99,
			"email": "Dana@Example.com",
			"lifetime_value": 1200,
			"total_orders": 6
		},
		"messages": [
			{"id": "m2", "body_text": "Any update?", "created_at": "2026-03-02T10:00:00Z"},
			{"id": "m1", "body_text": "Where is my order?", "created_at": "2026-03-01T10:00:00Z"}
		]
	}`)

	env, err := Normalize(models.ProviderGorgias, body)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if env.Ticket.ID != "12345" {
		t.Errorf("numeric id folded to %q", env.Ticket.ID)
	}
	if env.Ticket.Status != "open" || env.Customer.Email != "dana@example.com" {
		t.Errorf("normalization: status=%q email=%q", env.Ticket.Status, env.Customer.Email)
	}
	if len(env.Ticket.Tags) != 2 || env.Ticket.Tags[0] != "LCC_Member" {
		t.Errorf("tags = %v", env.Ticket.Tags)
	}
	if env.LatestMessage().ID != "m2" {
		t.Errorf("latest message = %q, want newest by timestamp", env.LatestMessage().ID)
	}
	if env.Source != models.SourceEmail {
		t.Errorf("source = %s", env.Source)
	}
}

func TestNormalize_TicketMessagePair(t *testing.T) {
	body := []byte(`{
		"ticket": {"id": "t-1", "subject": "Damaged item", "customer": {"email": "a@b.com"}},
		"message": {"id": "m-9", "body_text": "It arrived broken"}
	}`)

	env, err := Normalize(models.ProviderZendesk, body)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if env.Ticket.ID != "t-1" || len(env.Messages) != 1 || env.Messages[0].ID != "m-9" {
		t.Errorf("envelope = %+v", env)
	}
	if env.LatestCustomerText() != "Damaged item\nIt arrived broken" {
		t.Errorf("LatestCustomerText() = %q", env.LatestCustomerText())
	}
}

func TestNormalize_Malformed(t *testing.T) {
	if _, err := Normalize(models.ProviderGorgias, []byte("{not json")); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestDetectSource(t *testing.T) {
	mk := func(via, channel, subject, email string) *models.WebhookEnvelope {
		return &models.WebhookEnvelope{
			Ticket:   models.WebhookTicket{Via: via, Channel: channel, Subject: subject},
			Customer: models.WebhookCustomer{Email: email},
		}
	}
	cases := []struct {
		name string
		env  *models.WebhookEnvelope
		want models.TicketSource
	}{
		{"ringcentral via", mk("ringcentral-sms", "", "", ""), models.SourceRingCentral},
		{"sms channel", mk("", "sms", "", ""), models.SourceSMS},
		{"sms subject", mk("", "", "New SMS to +1555", ""), models.SourceSMS},
		{"chat", mk("", "chat", "", ""), models.SourceChat},
		{"phone", mk("voice", "", "", ""), models.SourcePhone},
		{"email channel", mk("", "email", "", ""), models.SourceEmail},
		{"api", mk("api", "", "", ""), models.SourceAPI},
		{"email fallback", mk("", "", "", "a@b.com"), models.SourceEmail},
		{"unknown", mk("", "", "", ""), models.SourceUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DetectSource(tc.env); got != tc.want {
				t.Errorf("DetectSource() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestSortMessages_ZeroTimestampsKeepOrder(t *testing.T) {
	msgs := []models.WebhookMessage{
		{ID: "a"},
		{ID: "b", CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "c"},
	}
	sortMessagesByTime(msgs)
	if msgs[0].ID != "a" || msgs[1].ID != "b" || msgs[2].ID != "c" {
		t.Errorf("order = %v", []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
	}
}
