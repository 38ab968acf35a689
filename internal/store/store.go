// Package store provides the storage interface and implementations for the
// support gateway. The in-memory store is the zero-config default (local
// dev, tests); the PostgreSQL store is used when DATABASE_URL is set.
package store

import (
	"context"

	"github.com/scottatquimbi/quimbi-platform/pkg/models"
)

// Store is the primary storage interface. All service code depends on this
// interface, making it easy to swap between in-memory (tests) and
// PostgreSQL (production) implementations.
type Store interface {
	TenantStore
	TicketStore
	MessageStore
	NoteStore
	RecommendationStore
	AnalyticsStore

	// Ping checks if the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate bootstraps the schema (no-op for the in-memory store).
	Migrate(ctx context.Context) error
}

// ── Tenant Store ────────────────────────────────────────────

type TenantStore interface {
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*models.Tenant, error)
	GetTenantByAPIKeyHash(ctx context.Context, hash string) (*models.Tenant, error)

	// FindTenantByWebhookIdentifier matches a (key, value) pair from a
	// webhook payload, e.g. ("gorgias_domain", "quiltco").
	FindTenantByWebhookIdentifier(ctx context.Context, key, value string) (*models.Tenant, error)

	// ListActiveTenants returns active tenants, optionally filtered by
	// environment ("" = all environments).
	ListActiveTenants(ctx context.Context, env models.Environment) ([]models.Tenant, error)

	CreateTenant(ctx context.Context, t *models.Tenant) error
	UpdateTenant(ctx context.Context, t *models.Tenant) error

	// RefreshTenantOrders is the cross-store sales sync hook: it refreshes
	// the tenant's order-derived analytics rows. Implementations may no-op.
	RefreshTenantOrders(ctx context.Context, tenantID string) error
}

// ── Ticket Store ────────────────────────────────────────────

// TicketFilter defines optional filters for listing tickets.
type TicketFilter struct {
	Status     models.TicketStatus
	Priority   models.TicketPriority
	Channel    string
	AssignedTo string
	CustomerID string

	// Limit/Offset paginate the conventional listing. Limit<=0 means all,
	// which the smart-order path uses to fetch the full candidate set.
	Limit  int
	Offset int

	// SortAsc flips the default created_at desc ordering.
	SortAsc bool
}

type TicketStore interface {
	CreateTicket(ctx context.Context, t *models.Ticket) error
	GetTicket(ctx context.Context, tenantID, id string) (*models.Ticket, error)
	GetTicketByNumber(ctx context.Context, tenantID, number string) (*models.Ticket, error)
	UpdateTicket(ctx context.Context, t *models.Ticket) error
	ListTickets(ctx context.Context, tenantID string, filter TicketFilter) ([]models.Ticket, int, error)

	// NextTicketNumber allocates the tenant's next monotonic display
	// number, e.g. "T-042".
	NextTicketNumber(ctx context.Context, tenantID string) (string, error)
}

// ── Message Store ───────────────────────────────────────────

type MessageStore interface {
	// AppendMessage persists the message and bumps the ticket's
	// updated_at in the same critical section, preserving chronological
	// order under concurrent appends.
	AppendMessage(ctx context.Context, m *models.TicketMessage) error
	ListMessages(ctx context.Context, tenantID, ticketID string) ([]models.TicketMessage, error)
	CountMessages(ctx context.Context, tenantID, ticketID string) (int, error)

	// DeleteMessages removes messages from a ticket. keepFirst preserves
	// the opening message (conversation reset).
	DeleteMessages(ctx context.Context, tenantID, ticketID string, keepFirst bool) error
}

// ── Note Store ──────────────────────────────────────────────

type NoteStore interface {
	AddNote(ctx context.Context, n *models.TicketNote) error
	ListNotes(ctx context.Context, tenantID, ticketID string) ([]models.TicketNote, error)
}

// ── Recommendation Store ────────────────────────────────────

type RecommendationStore interface {
	// SaveRecommendation replaces any existing recommendation for the
	// ticket (at most one non-expired per ticket).
	SaveRecommendation(ctx context.Context, tenantID string, rec *models.AIRecommendation) error
	GetRecommendation(ctx context.Context, tenantID, ticketID string) (*models.AIRecommendation, error)
	DeleteRecommendation(ctx context.Context, tenantID, ticketID string) error
}

// ── Analytics Store (read model) ────────────────────────────

// CustomerQuery filters the analytics read model for the NL-query
// primitives.
type CustomerQuery struct {
	Segment  string
	MinLTV   float64
	MinChurn float64
	SortBy   string // ltv | churn | orders | recency
	Limit    int
}

// AnalyticsStore reads the customer analytics rows produced by the
// external segmentation engine. The gateway never writes them except
// through the sales-sync refresh hook.
type AnalyticsStore interface {
	GetCustomerProfile(ctx context.Context, tenantID, customerID string) (*models.CustomerAnalytics, error)
	QueryCustomers(ctx context.Context, tenantID string, q CustomerQuery) ([]models.CustomerAnalytics, error)
	ListSegments(ctx context.Context, tenantID string) (map[string]int, error)
	UpsertCustomerProfile(ctx context.Context, tenantID string, a *models.CustomerAnalytics) error
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// IsNotFound reports whether err is an ErrNotFound.
func IsNotFound(err error) bool {
	_, ok := err.(*ErrNotFound)
	return ok
}
