// Package identity resolves the webhook-embedded customer object to an
// opaque customer id, walking a fixed extraction ladder that ends with a
// phone-number lookup against the external identity service.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/scottatquimbi/quimbi-platform/pkg/models"
)

// ErrUnidentified is returned when no ladder rung yields an identifier.
var ErrUnidentified = errors.New("identity: customer could not be identified")

// PhoneLookup resolves an E.164 phone number to a customer id. May return
// "" with a nil error when the number is unknown.
type PhoneLookup interface {
	LookupByPhone(ctx context.Context, e164 string) (string, error)
}

// Resolver walks the extraction ladder over a webhook customer object.
type Resolver struct {
	phones PhoneLookup
}

func NewResolver(phones PhoneLookup) *Resolver {
	return &Resolver{phones: phones}
}

// Resolve returns the first identifier found on the ladder:
// external_id, shopify meta, shopify integration block, provider id,
// phone lookup, then email as a last-resort opaque identifier.
func (r *Resolver) Resolve(ctx context.Context, c *models.WebhookCustomer) (string, error) {
	if c == nil {
		return "", ErrUnidentified
	}
	if c.ExternalID != "" {
		return c.ExternalID, nil
	}
	if id := c.Meta["shopify_customer_id"]; id != "" {
		return id, nil
	}
	if shopify := c.Integrations["shopify"]; shopify != nil {
		if id := shopify["customer_id"]; id != "" {
			return id, nil
		}
	}
	if c.ID != "" {
		return c.ID, nil
	}
	if c.Phone != "" && r.phones != nil {
		e164 := NormalizePhone(c.Phone)
		id, err := r.phones.LookupByPhone(ctx, e164)
		if err != nil {
			log.Warn().Err(err).Str("phone", e164).Msg("phone lookup failed")
		} else if id != "" {
			return id, nil
		}
	}
	if c.Email != "" {
		return c.Email, nil
	}
	return "", ErrUnidentified
}

// NormalizePhone converts a raw phone string to E.164: strip everything
// but digits, keep a leading +; 10 digits get a +1 prefix, 11 digits
// starting with 1 get a +, anything else is prefixed with + as-is.
func NormalizePhone(raw string) string {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	switch {
	case d == "":
		return ""
	case len(d) == 10:
		return "+1" + d
	case len(d) == 11 && d[0] == '1':
		return "+" + d
	default:
		return "+" + d
	}
}

// ── HTTP phone lookup client ────────────────────────────────

// HTTPPhoneLookup queries the identity service's phone endpoint.
type HTTPPhoneLookup struct {
	client *resty.Client
}

// NewHTTPPhoneLookup builds a lookup client for the given base URL.
func NewHTTPPhoneLookup(baseURL string) *HTTPPhoneLookup {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Second).
		SetRetryCount(1)
	return &HTTPPhoneLookup{client: client}
}

type phoneLookupResponse struct {
	CustomerID string `json:"customer_id"`
}

func (h *HTTPPhoneLookup) LookupByPhone(ctx context.Context, e164 string) (string, error) {
	var out phoneLookupResponse
	resp, err := h.client.R().
		SetContext(ctx).
		SetQueryParam("phone", e164).
		SetResult(&out).
		Get("/v1/identity/phone")
	if err != nil {
		return "", err
	}
	if resp.StatusCode() == 404 {
		return "", nil
	}
	if resp.IsError() {
		return "", errors.New("identity: phone lookup returned " + resp.Status())
	}
	return out.CustomerID, nil
}
