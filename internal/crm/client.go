// Package crm writes enrichment results back to the tenant's ticketing
// provider: priority and tag updates, and the internal note carrying the
// generated draft. Calls go through a circuit breaker so a flapping
// provider cannot stall ingestion.
package crm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/scottatquimbi/quimbi-platform/internal/metrics"
	"github.com/scottatquimbi/quimbi-platform/pkg/models"
)

// Writeback posts enrichment results to a provider.
type Writeback interface {
	// UpdatePriorityAndTags sets the provider-side ticket priority and
	// unions tags into its tag set.
	UpdatePriorityAndTags(ctx context.Context, cfg models.CRMConfig, provider models.CRMProvider, ticketID string, priority models.TicketPriority, tags []string) error

	// PostInternalNote attaches agent-only commentary. Notes carry
	// via=api and channel=internal-note so ingestion can recognize and
	// skip them when they echo back as webhooks.
	PostInternalNote(ctx context.Context, cfg models.CRMConfig, provider models.CRMProvider, ticketID, body string) error
}

// Client is the resty-backed Writeback.
type Client struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
}

func NewClient() *Client {
	return &Client{
		http: resty.New().SetTimeout(10 * time.Second),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "crm-writeback",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
	}
}

// WithBaseURLOverride points every provider call at base instead of the
// provider's real host. Tests use this with httptest servers.
func (c *Client) WithBaseURLOverride(base string) *Client {
	c.http.SetBaseURL(base)
	return c
}

// endpoint builds the provider-specific ticket URL. When a base URL
// override is set only the path is returned.
func (c *Client) endpoint(cfg models.CRMConfig, provider models.CRMProvider, path string) (string, error) {
	if c.http.BaseURL != "" {
		return path, nil
	}
	switch provider {
	case models.ProviderGorgias:
		domain := cfg["domain"]
		if domain == "" {
			return "", errors.New("crm: gorgias config missing domain")
		}
		return fmt.Sprintf("https://%s.gorgias.com%s", domain, path), nil
	case models.ProviderZendesk:
		subdomain := cfg["subdomain"]
		if subdomain == "" {
			return "", errors.New("crm: zendesk config missing subdomain")
		}
		return fmt.Sprintf("https://%s.zendesk.com%s", subdomain, path), nil
	case models.ProviderFreshdesk:
		domain := cfg["domain"]
		if domain == "" {
			return "", errors.New("crm: freshdesk config missing domain")
		}
		return fmt.Sprintf("https://%s.freshdesk.com%s", domain, path), nil
	case models.ProviderIntercom:
		return "https://api.intercom.io" + path, nil
	case models.ProviderHelpshift:
		domain := cfg["domain"]
		if domain == "" {
			return "", errors.New("crm: helpshift config missing domain")
		}
		return fmt.Sprintf("https://api.helpshift.com/v1/%s%s", domain, path), nil
	case models.ProviderSalesforce:
		instance := cfg["instance_url"]
		if instance == "" {
			return "", errors.New("crm: salesforce config missing instance_url")
		}
		return instance + path, nil
	default:
		return "", fmt.Errorf("crm: unsupported provider %q", provider)
	}
}

func (c *Client) authorize(req *resty.Request, cfg models.CRMConfig, provider models.CRMProvider) {
	switch provider {
	case models.ProviderGorgias:
		req.SetBasicAuth(cfg["api_user"], cfg["api_key"])
	case models.ProviderZendesk:
		req.SetBasicAuth(cfg["email"]+"/token", cfg["api_token"])
	case models.ProviderFreshdesk:
		req.SetBasicAuth(cfg["api_key"], "X")
	default:
		req.SetAuthToken(cfg["api_key"])
	}
}

func (c *Client) do(ctx context.Context, operation string, send func() (*resty.Response, error)) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := send()
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("crm: %s returned %s", operation, resp.Status())
		}
		return nil, nil
	})
	if err != nil {
		metrics.WritebackFailures.WithLabelValues(operation).Inc()
		log.Warn().Err(err).Str("operation", operation).Msg("provider write-back failed")
	}
	return err
}

func (c *Client) UpdatePriorityAndTags(ctx context.Context, cfg models.CRMConfig, provider models.CRMProvider, ticketID string, priority models.TicketPriority, tags []string) error {
	url, err := c.endpoint(cfg, provider, fmt.Sprintf("/api/tickets/%s", ticketID))
	if err != nil {
		return err
	}

	tagObjs := make([]map[string]string, 0, len(tags))
	for _, tag := range tags {
		tagObjs = append(tagObjs, map[string]string{"name": tag})
	}
	body := map[string]any{
		"priority": string(priority),
		"tags":     tagObjs,
	}

	return c.do(ctx, "update_priority", func() (*resty.Response, error) {
		req := c.http.R().SetContext(ctx).SetBody(body)
		c.authorize(req, cfg, provider)
		return req.Put(url)
	})
}

func (c *Client) PostInternalNote(ctx context.Context, cfg models.CRMConfig, provider models.CRMProvider, ticketID, note string) error {
	url, err := c.endpoint(cfg, provider, fmt.Sprintf("/api/tickets/%s/messages", ticketID))
	if err != nil {
		return err
	}

	body := map[string]any{
		"via":        "api",
		"channel":    "internal-note",
		"from_agent": true,
		"body_text":  note,
		"sender":     map[string]string{"email": cfg["sender_email"]},
	}

	return c.do(ctx, "post_note", func() (*resty.Response, error) {
		req := c.http.R().SetContext(ctx).SetBody(body)
		c.authorize(req, cfg, provider)
		return req.Post(url)
	})
}
