// In-memory Store implementation.
// Used when PostgreSQL is not configured (local dev, tests). All maps are
// guarded by a single RWMutex, which also serializes per-ticket mutations
// so concurrent message appends keep chronological order.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/scottatquimbi/quimbi-platform/pkg/models"
)

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu sync.RWMutex

	tenants  map[string]*models.Tenant            // key: id
	tickets  map[string]*models.Ticket             // key: id
	messages map[string][]*models.TicketMessage    // key: ticket id, chronological
	notes    map[string][]*models.TicketNote       // key: ticket id
	recs     map[string]*models.AIRecommendation   // key: tenant:ticket
	profiles map[string]*models.CustomerAnalytics  // key: tenant:customer

	// ticketSeq is the per-tenant monotonic ticket-number source.
	ticketSeq map[string]int
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:   make(map[string]*models.Tenant),
		tickets:   make(map[string]*models.Ticket),
		messages:  make(map[string][]*models.TicketMessage),
		notes:     make(map[string][]*models.TicketNote),
		recs:      make(map[string]*models.AIRecommendation),
		profiles:  make(map[string]*models.CustomerAnalytics),
		ticketSeq: make(map[string]int),
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error      { return nil }
func (m *MemoryStore) Close() error                        { return nil }
func (m *MemoryStore) Migrate(ctx context.Context) error   { return nil }

// ── Tenant Store ────────────────────────────────────────────

func (m *MemoryStore) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.tenants[id]; ok {
		return cloneTenant(t), nil
	}
	return nil, &ErrNotFound{Entity: "tenant", Key: id}
}

func (m *MemoryStore) GetTenantBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tenants {
		if t.Slug == slug {
			return cloneTenant(t), nil
		}
	}
	return nil, &ErrNotFound{Entity: "tenant", Key: slug}
}

func (m *MemoryStore) GetTenantByAPIKeyHash(ctx context.Context, hash string) (*models.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tenants {
		if t.APIKeyHash != "" && t.APIKeyHash == hash {
			return cloneTenant(t), nil
		}
	}
	return nil, &ErrNotFound{Entity: "tenant", Key: "api_key"}
}

func (m *MemoryStore) FindTenantByWebhookIdentifier(ctx context.Context, key, value string) (*models.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tenants {
		if t.WebhookIdentifiers[key] == value && value != "" {
			return cloneTenant(t), nil
		}
	}
	return nil, &ErrNotFound{Entity: "tenant", Key: key + "=" + value}
}

func (m *MemoryStore) ListActiveTenants(ctx context.Context, env models.Environment) ([]models.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Tenant, 0)
	for _, t := range m.tenants {
		if !t.IsActive {
			continue
		}
		if env != "" && t.Environment != env {
			continue
		}
		out = append(out, *cloneTenant(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (m *MemoryStore) CreateTenant(ctx context.Context, t *models.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tenants {
		if existing.Slug == t.Slug && existing.ID != t.ID {
			return fmt.Errorf("tenant slug %q already exists", t.Slug)
		}
	}
	m.tenants[t.ID] = cloneTenant(t)
	return nil
}

func (m *MemoryStore) UpdateTenant(ctx context.Context, t *models.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[t.ID]; !ok {
		return &ErrNotFound{Entity: "tenant", Key: t.ID}
	}
	t.UpdatedAt = time.Now().UTC()
	m.tenants[t.ID] = cloneTenant(t)
	return nil
}

func (m *MemoryStore) RefreshTenantOrders(ctx context.Context, tenantID string) error {
	// Order metrics live in the external commerce store; nothing to
	// refresh in memory.
	return nil
}

// ── Ticket Store ────────────────────────────────────────────

func (m *MemoryStore) CreateTicket(ctx context.Context, t *models.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tickets {
		if existing.TenantID == t.TenantID && existing.TicketNumber == t.TicketNumber {
			return fmt.Errorf("ticket number %q already exists", t.TicketNumber)
		}
	}
	m.tickets[t.ID] = cloneTicket(t)
	return nil
}

func (m *MemoryStore) GetTicket(ctx context.Context, tenantID, id string) (*models.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tickets[id]
	if !ok || t.TenantID != tenantID {
		return nil, &ErrNotFound{Entity: "ticket", Key: id}
	}
	return cloneTicket(t), nil
}

func (m *MemoryStore) GetTicketByNumber(ctx context.Context, tenantID, number string) (*models.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tickets {
		if t.TenantID == tenantID && t.TicketNumber == number {
			return cloneTicket(t), nil
		}
	}
	return nil, &ErrNotFound{Entity: "ticket", Key: number}
}

func (m *MemoryStore) UpdateTicket(ctx context.Context, t *models.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.tickets[t.ID]
	if !ok || existing.TenantID != t.TenantID {
		return &ErrNotFound{Entity: "ticket", Key: t.ID}
	}
	// TicketNumber is immutable once allocated.
	t.TicketNumber = existing.TicketNumber
	t.UpdatedAt = time.Now().UTC()
	m.tickets[t.ID] = cloneTicket(t)
	return nil
}

func (m *MemoryStore) ListTickets(ctx context.Context, tenantID string, f TicketFilter) ([]models.Ticket, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]models.Ticket, 0)
	for _, t := range m.tickets {
		if t.TenantID != tenantID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.Priority != "" && t.Priority != f.Priority {
			continue
		}
		if f.Channel != "" && t.Channel != f.Channel {
			continue
		}
		if f.AssignedTo != "" && t.AssignedTo != f.AssignedTo {
			continue
		}
		if f.CustomerID != "" && t.CustomerID != f.CustomerID {
			continue
		}
		matched = append(matched, *cloneTicket(t))
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		if f.SortAsc {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.CreatedAt.After(b.CreatedAt)
	})

	total := len(matched)
	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[f.Offset:]
		}
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func (m *MemoryStore) NextTicketNumber(ctx context.Context, tenantID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticketSeq[tenantID]++
	return fmt.Sprintf("T-%03d", m.ticketSeq[tenantID]), nil
}

// ── Message Store ───────────────────────────────────────────

func (m *MemoryStore) AppendMessage(ctx context.Context, msg *models.TicketMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[msg.TicketID]
	if !ok {
		return &ErrNotFound{Entity: "ticket", Key: msg.TicketID}
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	// Appends are serialized under mu, so created_at stays non-decreasing
	// within a ticket.
	if prev := m.messages[msg.TicketID]; len(prev) > 0 {
		if last := prev[len(prev)-1]; msg.CreatedAt.Before(last.CreatedAt) {
			msg.CreatedAt = last.CreatedAt
		}
	}
	m.messages[msg.TicketID] = append(m.messages[msg.TicketID], cloneMessage(msg))
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) ListMessages(ctx context.Context, tenantID, ticketID string) ([]models.TicketMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkTicketLocked(tenantID, ticketID); err != nil {
		return nil, err
	}
	msgs := m.messages[ticketID]
	out := make([]models.TicketMessage, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, *cloneMessage(msg))
	}
	return out, nil
}

func (m *MemoryStore) CountMessages(ctx context.Context, tenantID, ticketID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkTicketLocked(tenantID, ticketID); err != nil {
		return 0, err
	}
	return len(m.messages[ticketID]), nil
}

func (m *MemoryStore) DeleteMessages(ctx context.Context, tenantID, ticketID string, keepFirst bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkTicketLocked(tenantID, ticketID); err != nil {
		return err
	}
	msgs := m.messages[ticketID]
	if keepFirst && len(msgs) > 0 {
		m.messages[ticketID] = msgs[:1]
	} else {
		delete(m.messages, ticketID)
	}
	return nil
}

// ── Note Store ──────────────────────────────────────────────

func (m *MemoryStore) AddNote(ctx context.Context, n *models.TicketNote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tickets[n.TicketID]; !ok {
		return &ErrNotFound{Entity: "ticket", Key: n.TicketID}
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	clone := *n
	m.notes[n.TicketID] = append(m.notes[n.TicketID], &clone)
	return nil
}

func (m *MemoryStore) ListNotes(ctx context.Context, tenantID, ticketID string) ([]models.TicketNote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkTicketLocked(tenantID, ticketID); err != nil {
		return nil, err
	}
	notes := m.notes[ticketID]
	out := make([]models.TicketNote, 0, len(notes))
	for _, n := range notes {
		out = append(out, *n)
	}
	return out, nil
}

// ── Recommendation Store ────────────────────────────────────

func (m *MemoryStore) SaveRecommendation(ctx context.Context, tenantID string, rec *models.AIRecommendation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *rec
	m.recs[tenantID+":"+rec.TicketID] = &clone
	return nil
}

func (m *MemoryStore) GetRecommendation(ctx context.Context, tenantID, ticketID string) (*models.AIRecommendation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recs[tenantID+":"+ticketID]
	if !ok {
		return nil, &ErrNotFound{Entity: "recommendation", Key: ticketID}
	}
	clone := *rec
	return &clone, nil
}

func (m *MemoryStore) DeleteRecommendation(ctx context.Context, tenantID, ticketID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, tenantID+":"+ticketID)
	return nil
}

// ── Analytics Store ─────────────────────────────────────────

func (m *MemoryStore) GetCustomerProfile(ctx context.Context, tenantID, customerID string) (*models.CustomerAnalytics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[tenantID+":"+customerID]
	if !ok {
		return nil, &ErrNotFound{Entity: "customer", Key: customerID}
	}
	clone := *p
	return &clone, nil
}

func (m *MemoryStore) QueryCustomers(ctx context.Context, tenantID string, q CustomerQuery) ([]models.CustomerAnalytics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := tenantID + ":"
	all := make([]models.CustomerAnalytics, 0)
	for key, p := range m.profiles {
		if strings.HasPrefix(key, prefix) {
			all = append(all, *p)
		}
	}
	return filterProfiles(all, q), nil
}

func (m *MemoryStore) ListSegments(ctx context.Context, tenantID string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := tenantID + ":"
	segments := make(map[string]int)
	for key, p := range m.profiles {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		for _, s := range p.DominantSegments {
			segments[s]++
		}
	}
	return segments, nil
}

func (m *MemoryStore) UpsertCustomerProfile(ctx context.Context, tenantID string, a *models.CustomerAnalytics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *a
	m.profiles[tenantID+":"+a.CustomerID] = &clone
	return nil
}

// ── helpers ─────────────────────────────────────────────────

// checkTicketLocked verifies tenant ownership. Callers hold mu.
func (m *MemoryStore) checkTicketLocked(tenantID, ticketID string) error {
	t, ok := m.tickets[ticketID]
	if !ok || t.TenantID != tenantID {
		return &ErrNotFound{Entity: "ticket", Key: ticketID}
	}
	return nil
}

func cloneTenant(t *models.Tenant) *models.Tenant {
	clone := *t
	clone.WebhookIdentifiers = copyMap(t.WebhookIdentifiers)
	clone.Settings = copyMap(t.Settings)
	if t.Features != nil {
		clone.Features = make(map[string]bool, len(t.Features))
		for k, v := range t.Features {
			clone.Features[k] = v
		}
	}
	if t.EncryptedCRMConfig != nil {
		clone.EncryptedCRMConfig = append([]byte(nil), t.EncryptedCRMConfig...)
	}
	return &clone
}

func cloneTicket(t *models.Ticket) *models.Ticket {
	clone := *t
	clone.Tags = append([]string(nil), t.Tags...)
	clone.CustomFields = copyMap(t.CustomFields)
	if t.ClosedAt != nil {
		at := *t.ClosedAt
		clone.ClosedAt = &at
	}
	return &clone
}

func cloneMessage(msg *models.TicketMessage) *models.TicketMessage {
	clone := *msg
	return &clone
}

func copyMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func containsString(xs []string, want string) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}
