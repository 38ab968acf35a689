package ingest

import (
	"strings"

	"github.com/scottatquimbi/quimbi-platform/pkg/models"
)

// Skip reasons surfaced in the pipeline outcome.
const (
	ReasonOwnInternalNote = "own_internal_note"
	ReasonOwnMessage      = "own_message"
	ReasonOptOutTag       = "ai_opt_out_tag"
	ReasonTicketState     = "ticket_state"
	ReasonNoReplySender   = "no_reply_sender"
	ReasonMarketingSender = "marketing_automation"
	ReasonSMSNotification = "sms_notification"
	ReasonEmptyBody       = "empty_body"
	ReasonAPIAutomation   = "api_automation"
)

// marketingDomains are automation platforms whose email we never treat as
// a customer conversation (unless it arrived over SMS, where these act as
// forwarders).
var marketingDomains = []string{
	"klaviyo.com",
	"mailchimp.com",
	"sendgrid.net",
	"constantcontact.com",
	"activecampaign.com",
}

var optOutTags = []string{"ai_ignore", "no-ai", "human-only"}

var forceTags = []string{"ai_force", "force-ai"}

// ShouldSkip applies the automation and loop filters in order. It returns
// the skip reason, or "" when the envelope should be processed. Manual
// override tags (ai_force, force-ai) dominate the API-automation filter.
func ShouldSkip(env *models.WebhookEnvelope) string {
	latest := env.LatestMessage()

	// Our own write-backs echo back as webhooks; never process them.
	if latest != nil {
		if latest.Via == "api" && latest.Channel == "internal-note" {
			return ReasonOwnInternalNote
		}
		if latest.FromAgent {
			return ReasonOwnMessage
		}
	}

	if hasAnyTag(env.Ticket.Tags, optOutTags) {
		return ReasonOptOutTag
	}

	switch env.Ticket.Status {
	case "closed", "spam", "deleted":
		return ReasonTicketState
	}

	ringCentralWithPhone := env.Source == models.SourceRingCentral && env.Customer.Phone != ""

	if strings.Contains(env.Customer.Email, "no-reply") || strings.Contains(env.Customer.Email, "noreply") {
		if !ringCentralWithPhone {
			return ReasonNoReplySender
		}
	}

	// SMS bypasses the marketing-domain filter: Klaviyo and friends are
	// forwarders there, not originators.
	if env.Source != models.SourceSMS && fromMarketingDomain(env.Customer.Email) {
		return ReasonMarketingSender
	}

	if strings.Contains(strings.ToLower(env.Ticket.Subject), "new sms to") {
		return ReasonSMSNotification
	}

	if m := latestCustomerMessage(env); m == nil || strings.TrimSpace(m.BodyText) == "" {
		if !ringCentralWithPhone {
			return ReasonEmptyBody
		}
	}

	if latest != nil && latest.Via == "api" && !anyCreatedByAgent(env.Messages) {
		if !hasAnyTag(env.Ticket.Tags, forceTags) {
			return ReasonAPIAutomation
		}
	}

	return ""
}

func hasAnyTag(tags []string, wanted []string) bool {
	for _, tag := range tags {
		lower := strings.ToLower(tag)
		for _, w := range wanted {
			if lower == w {
				return true
			}
		}
	}
	return false
}

func fromMarketingDomain(email string) bool {
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return false
	}
	host := email[at+1:]
	for _, domain := range marketingDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

func anyCreatedByAgent(msgs []models.WebhookMessage) bool {
	for _, m := range msgs {
		if m.CreatedByAgent {
			return true
		}
	}
	return false
}

// latestCustomerMessage returns the newest message that is neither an
// agent reply nor an internal note.
func latestCustomerMessage(env *models.WebhookEnvelope) *models.WebhookMessage {
	for i := len(env.Messages) - 1; i >= 0; i-- {
		m := &env.Messages[i]
		if m.FromAgent || m.Channel == "internal-note" {
			continue
		}
		return m
	}
	return nil
}
