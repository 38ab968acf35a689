// PostgreSQL Store implementation backed by pgx.
// Selected when DATABASE_URL is set. Per-ticket mutation ordering relies on
// row locks (SELECT ... FOR UPDATE) inside transactions.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/scottatquimbi/quimbi-platform/pkg/models"
)

// PostgresStore implements Store over a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and verifies reachability.
func NewPostgresStore(ctx context.Context, connURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	log.Info().Msg("PostgreSQL store initialized")
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Migrate bootstraps the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS tenants (
		id            TEXT PRIMARY KEY,
		slug          TEXT NOT NULL UNIQUE,
		name          TEXT NOT NULL DEFAULT '',
		store_id      TEXT NOT NULL DEFAULT '',
		crm_provider  TEXT NOT NULL,
		crm_config    BYTEA,
		api_key_hash  TEXT NOT NULL DEFAULT '',
		webhook_idents JSONB NOT NULL DEFAULT '{}',
		features      JSONB NOT NULL DEFAULT '{}',
		settings      JSONB NOT NULL DEFAULT '{}',
		is_active     BOOLEAN NOT NULL DEFAULT TRUE,
		environment   TEXT NOT NULL DEFAULT 'production',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_tenants_api_key
		ON tenants (api_key_hash) WHERE api_key_hash <> '';

	CREATE TABLE IF NOT EXISTS ticket_counters (
		tenant_id TEXT PRIMARY KEY,
		seq       BIGINT NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS tickets (
		id            TEXT PRIMARY KEY,
		tenant_id     TEXT NOT NULL REFERENCES tenants(id),
		ticket_number TEXT NOT NULL,
		customer_id   TEXT NOT NULL DEFAULT '',
		channel       TEXT NOT NULL DEFAULT '',
		status        TEXT NOT NULL DEFAULT 'open',
		priority      TEXT NOT NULL DEFAULT 'normal',
		subject       TEXT NOT NULL DEFAULT '',
		assigned_to   TEXT NOT NULL DEFAULT '',
		tags          JSONB NOT NULL DEFAULT '[]',
		custom_fields JSONB NOT NULL DEFAULT '{}',
		sentiment     TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		closed_at     TIMESTAMPTZ,
		UNIQUE (tenant_id, ticket_number)
	);
	CREATE INDEX IF NOT EXISTS idx_tickets_tenant ON tickets (tenant_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS ticket_messages (
		id         TEXT PRIMARY KEY,
		ticket_id  TEXT NOT NULL REFERENCES tickets(id),
		from_agent BOOLEAN NOT NULL DEFAULT FALSE,
		content    TEXT NOT NULL DEFAULT '',
		author     TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_messages_ticket ON ticket_messages (ticket_id, created_at);

	CREATE TABLE IF NOT EXISTS ticket_notes (
		id         TEXT PRIMARY KEY,
		ticket_id  TEXT NOT NULL REFERENCES tickets(id),
		content    TEXT NOT NULL DEFAULT '',
		author     TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS ai_recommendations (
		tenant_id     TEXT NOT NULL,
		ticket_id     TEXT NOT NULL,
		payload       JSONB NOT NULL,
		message_count INT NOT NULL DEFAULT 0,
		generated_at  TIMESTAMPTZ NOT NULL,
		expires_at    TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (tenant_id, ticket_id)
	);

	CREATE TABLE IF NOT EXISTS customer_profiles (
		tenant_id   TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		payload     JSONB NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (tenant_id, customer_id)
	);`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// ── Tenant Store ────────────────────────────────────────────

const tenantCols = `id, slug, name, store_id, crm_provider, crm_config, api_key_hash,
	webhook_idents, features, settings, is_active, environment, created_at, updated_at`

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var t models.Tenant
	var idents, features, settings []byte
	err := row.Scan(&t.ID, &t.Slug, &t.Name, &t.StoreID, &t.CRMProvider,
		&t.EncryptedCRMConfig, &t.APIKeyHash, &idents, &features, &settings,
		&t.IsActive, &t.Environment, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(idents, &t.WebhookIdentifiers)
	_ = json.Unmarshal(features, &t.Features)
	_ = json.Unmarshal(settings, &t.Settings)
	return &t, nil
}

func (s *PostgresStore) getTenantWhere(ctx context.Context, where string, key string, args ...any) (*models.Tenant, error) {
	q := `SELECT ` + tenantCols + ` FROM tenants WHERE ` + where
	t, err := scanTenant(s.pool.QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "tenant", Key: key}
	}
	return t, err
}

func (s *PostgresStore) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	return s.getTenantWhere(ctx, "id = $1", id, id)
}

func (s *PostgresStore) GetTenantBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	return s.getTenantWhere(ctx, "slug = $1", slug, slug)
}

func (s *PostgresStore) GetTenantByAPIKeyHash(ctx context.Context, hash string) (*models.Tenant, error) {
	return s.getTenantWhere(ctx, "api_key_hash = $1 AND api_key_hash <> ''", "api_key", hash)
}

func (s *PostgresStore) FindTenantByWebhookIdentifier(ctx context.Context, key, value string) (*models.Tenant, error) {
	if value == "" {
		return nil, &ErrNotFound{Entity: "tenant", Key: key}
	}
	return s.getTenantWhere(ctx, "webhook_idents ->> $1 = $2", key+"="+value, key, value)
}

func (s *PostgresStore) ListActiveTenants(ctx context.Context, env models.Environment) ([]models.Tenant, error) {
	q := `SELECT ` + tenantCols + ` FROM tenants WHERE is_active`
	args := []any{}
	if env != "" {
		q += ` AND environment = $1`
		args = append(args, env)
	}
	q += ` ORDER BY slug`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateTenant(ctx context.Context, t *models.Tenant) error {
	idents, _ := json.Marshal(orEmptyMap(t.WebhookIdentifiers))
	features, _ := json.Marshal(t.Features)
	settings, _ := json.Marshal(orEmptyMap(t.Settings))
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tenants (`+tenantCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		t.ID, t.Slug, t.Name, t.StoreID, t.CRMProvider, t.EncryptedCRMConfig,
		t.APIKeyHash, idents, features, settings, t.IsActive, t.Environment,
		t.CreatedAt, t.UpdatedAt)
	return err
}

func (s *PostgresStore) UpdateTenant(ctx context.Context, t *models.Tenant) error {
	idents, _ := json.Marshal(orEmptyMap(t.WebhookIdentifiers))
	features, _ := json.Marshal(t.Features)
	settings, _ := json.Marshal(orEmptyMap(t.Settings))
	tag, err := s.pool.Exec(ctx, `
		UPDATE tenants SET name=$2, store_id=$3, crm_provider=$4, crm_config=$5,
			api_key_hash=$6, webhook_idents=$7, features=$8, settings=$9,
			is_active=$10, environment=$11, updated_at=NOW()
		WHERE id=$1`,
		t.ID, t.Name, t.StoreID, t.CRMProvider, t.EncryptedCRMConfig,
		t.APIKeyHash, idents, features, settings, t.IsActive, t.Environment)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "tenant", Key: t.ID}
	}
	return nil
}

func (s *PostgresStore) RefreshTenantOrders(ctx context.Context, tenantID string) error {
	// Order metrics are refreshed by re-stamping profile rows; the
	// heavy lifting lives in the commerce warehouse upstream.
	_, err := s.pool.Exec(ctx,
		`UPDATE customer_profiles SET updated_at = NOW() WHERE tenant_id = $1`, tenantID)
	return err
}

// ── Ticket Store ────────────────────────────────────────────

const ticketCols = `id, tenant_id, ticket_number, customer_id, channel, status, priority,
	subject, assigned_to, tags, custom_fields, sentiment, created_at, updated_at, closed_at`

func scanTicket(row pgx.Row) (*models.Ticket, error) {
	var t models.Ticket
	var tags, fields []byte
	err := row.Scan(&t.ID, &t.TenantID, &t.TicketNumber, &t.CustomerID, &t.Channel,
		&t.Status, &t.Priority, &t.Subject, &t.AssignedTo, &tags, &fields,
		&t.Sentiment, &t.CreatedAt, &t.UpdatedAt, &t.ClosedAt)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(tags, &t.Tags)
	_ = json.Unmarshal(fields, &t.CustomFields)
	return &t, nil
}

func (s *PostgresStore) CreateTicket(ctx context.Context, t *models.Ticket) error {
	tags, _ := json.Marshal(orEmptySlice(t.Tags))
	fields, _ := json.Marshal(orEmptyMap(t.CustomFields))
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tickets (`+ticketCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		t.ID, t.TenantID, t.TicketNumber, t.CustomerID, t.Channel, t.Status,
		t.Priority, t.Subject, t.AssignedTo, tags, fields, t.Sentiment,
		t.CreatedAt, t.UpdatedAt, t.ClosedAt)
	return err
}

func (s *PostgresStore) GetTicket(ctx context.Context, tenantID, id string) (*models.Ticket, error) {
	t, err := scanTicket(s.pool.QueryRow(ctx,
		`SELECT `+ticketCols+` FROM tickets WHERE id = $1 AND tenant_id = $2`, id, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "ticket", Key: id}
	}
	return t, err
}

func (s *PostgresStore) GetTicketByNumber(ctx context.Context, tenantID, number string) (*models.Ticket, error) {
	t, err := scanTicket(s.pool.QueryRow(ctx,
		`SELECT `+ticketCols+` FROM tickets WHERE ticket_number = $1 AND tenant_id = $2`, number, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "ticket", Key: number}
	}
	return t, err
}

func (s *PostgresStore) UpdateTicket(ctx context.Context, t *models.Ticket) error {
	tags, _ := json.Marshal(orEmptySlice(t.Tags))
	fields, _ := json.Marshal(orEmptyMap(t.CustomFields))
	tag, err := s.pool.Exec(ctx, `
		UPDATE tickets SET customer_id=$3, channel=$4, status=$5, priority=$6,
			subject=$7, assigned_to=$8, tags=$9, custom_fields=$10, sentiment=$11,
			updated_at=NOW(), closed_at=$12
		WHERE id=$1 AND tenant_id=$2`,
		t.ID, t.TenantID, t.CustomerID, t.Channel, t.Status, t.Priority,
		t.Subject, t.AssignedTo, tags, fields, t.Sentiment, t.ClosedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "ticket", Key: t.ID}
	}
	return nil
}

func (s *PostgresStore) ListTickets(ctx context.Context, tenantID string, f TicketFilter) ([]models.Ticket, int, error) {
	where := []string{"tenant_id = $1"}
	args := []any{tenantID}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Priority != "" {
		add("priority = $%d", f.Priority)
	}
	if f.Channel != "" {
		add("channel = $%d", f.Channel)
	}
	if f.AssignedTo != "" {
		add("assigned_to = $%d", f.AssignedTo)
	}
	if f.CustomerID != "" {
		add("customer_id = $%d", f.CustomerID)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM tickets WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := "created_at DESC, id"
	if f.SortAsc {
		order = "created_at ASC, id"
	}
	q := `SELECT ` + ticketCols + ` FROM tickets WHERE ` + cond + ` ORDER BY ` + order
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d OFFSET %d", f.Limit, f.Offset)
	} else if f.Offset > 0 {
		q += fmt.Sprintf(" OFFSET %d", f.Offset)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *t)
	}
	return out, total, rows.Err()
}

func (s *PostgresStore) NextTicketNumber(ctx context.Context, tenantID string) (string, error) {
	var seq int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO ticket_counters (tenant_id, seq) VALUES ($1, 1)
		ON CONFLICT (tenant_id) DO UPDATE SET seq = ticket_counters.seq + 1
		RETURNING seq`, tenantID).Scan(&seq)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("T-%03d", seq), nil
}

// ── Message Store ───────────────────────────────────────────

func (s *PostgresStore) AppendMessage(ctx context.Context, m *models.TicketMessage) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Row lock serializes concurrent appends per ticket.
	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT TRUE FROM tickets WHERE id = $1 FOR UPDATE`, m.TicketID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &ErrNotFound{Entity: "ticket", Key: m.TicketID}
		}
		return err
	}

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO ticket_messages (id, ticket_id, from_agent, content, author, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		m.ID, m.TicketID, m.FromAgent, m.Content, m.Author, m.CreatedAt); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE tickets SET updated_at = NOW() WHERE id = $1`, m.TicketID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ListMessages(ctx context.Context, tenantID, ticketID string) ([]models.TicketMessage, error) {
	if err := s.checkTicket(ctx, tenantID, ticketID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, ticket_id, from_agent, content, author, created_at
		FROM ticket_messages WHERE ticket_id = $1 ORDER BY created_at, id`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TicketMessage
	for rows.Next() {
		var m models.TicketMessage
		if err := rows.Scan(&m.ID, &m.TicketID, &m.FromAgent, &m.Content, &m.Author, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountMessages(ctx context.Context, tenantID, ticketID string) (int, error) {
	if err := s.checkTicket(ctx, tenantID, ticketID); err != nil {
		return 0, err
	}
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM ticket_messages WHERE ticket_id = $1`, ticketID).Scan(&n)
	return n, err
}

func (s *PostgresStore) DeleteMessages(ctx context.Context, tenantID, ticketID string, keepFirst bool) error {
	if err := s.checkTicket(ctx, tenantID, ticketID); err != nil {
		return err
	}
	if keepFirst {
		_, err := s.pool.Exec(ctx, `
			DELETE FROM ticket_messages WHERE ticket_id = $1 AND id <> (
				SELECT id FROM ticket_messages WHERE ticket_id = $1
				ORDER BY created_at, id LIMIT 1)`, ticketID)
		return err
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM ticket_messages WHERE ticket_id = $1`, ticketID)
	return err
}

// ── Note Store ──────────────────────────────────────────────

func (s *PostgresStore) AddNote(ctx context.Context, n *models.TicketNote) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ticket_notes (id, ticket_id, content, author, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		n.ID, n.TicketID, n.Content, n.Author, n.CreatedAt)
	return err
}

func (s *PostgresStore) ListNotes(ctx context.Context, tenantID, ticketID string) ([]models.TicketNote, error) {
	if err := s.checkTicket(ctx, tenantID, ticketID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, ticket_id, content, author, created_at
		FROM ticket_notes WHERE ticket_id = $1 ORDER BY created_at, id`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TicketNote
	for rows.Next() {
		var n models.TicketNote
		if err := rows.Scan(&n.ID, &n.TicketID, &n.Content, &n.Author, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ── Recommendation Store ────────────────────────────────────

func (s *PostgresStore) SaveRecommendation(ctx context.Context, tenantID string, rec *models.AIRecommendation) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO ai_recommendations (tenant_id, ticket_id, payload, message_count, generated_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (tenant_id, ticket_id) DO UPDATE SET
			payload = EXCLUDED.payload,
			message_count = EXCLUDED.message_count,
			generated_at = EXCLUDED.generated_at,
			expires_at = EXCLUDED.expires_at`,
		tenantID, rec.TicketID, payload, rec.MessageCount, rec.GeneratedAt, rec.ExpiresAt)
	return err
}

func (s *PostgresStore) GetRecommendation(ctx context.Context, tenantID, ticketID string) (*models.AIRecommendation, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `
		SELECT payload FROM ai_recommendations WHERE tenant_id = $1 AND ticket_id = $2`,
		tenantID, ticketID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "recommendation", Key: ticketID}
	}
	if err != nil {
		return nil, err
	}
	var rec models.AIRecommendation
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *PostgresStore) DeleteRecommendation(ctx context.Context, tenantID, ticketID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM ai_recommendations WHERE tenant_id = $1 AND ticket_id = $2`,
		tenantID, ticketID)
	return err
}

// ── Analytics Store ─────────────────────────────────────────

func (s *PostgresStore) GetCustomerProfile(ctx context.Context, tenantID, customerID string) (*models.CustomerAnalytics, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `
		SELECT payload FROM customer_profiles WHERE tenant_id = $1 AND customer_id = $2`,
		tenantID, customerID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "customer", Key: customerID}
	}
	if err != nil {
		return nil, err
	}
	var a models.CustomerAnalytics
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) QueryCustomers(ctx context.Context, tenantID string, q CustomerQuery) ([]models.CustomerAnalytics, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM customer_profiles WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	// Filtering and sorting happen on the decoded payloads; profile counts
	// per tenant are small enough that this stays cheap.
	var all []models.CustomerAnalytics
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var a models.CustomerAnalytics
		if err := json.Unmarshal(payload, &a); err != nil {
			continue
		}
		all = append(all, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return filterProfiles(all, q), nil
}

func (s *PostgresStore) ListSegments(ctx context.Context, tenantID string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM customer_profiles WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	segments := make(map[string]int)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var a models.CustomerAnalytics
		if err := json.Unmarshal(payload, &a); err != nil {
			continue
		}
		for _, seg := range a.DominantSegments {
			segments[seg]++
		}
	}
	return segments, rows.Err()
}

func (s *PostgresStore) UpsertCustomerProfile(ctx context.Context, tenantID string, a *models.CustomerAnalytics) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO customer_profiles (tenant_id, customer_id, payload, updated_at)
		VALUES ($1,$2,$3,NOW())
		ON CONFLICT (tenant_id, customer_id) DO UPDATE SET
			payload = EXCLUDED.payload, updated_at = NOW()`,
		tenantID, a.CustomerID, payload)
	return err
}

// ── helpers ─────────────────────────────────────────────────

func (s *PostgresStore) checkTicket(ctx context.Context, tenantID, ticketID string) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT TRUE FROM tickets WHERE id = $1 AND tenant_id = $2`, ticketID, tenantID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return &ErrNotFound{Entity: "ticket", Key: ticketID}
	}
	return err
}

// filterProfiles applies CustomerQuery semantics shared with the memory
// store: filter, sort, limit.
func filterProfiles(all []models.CustomerAnalytics, q CustomerQuery) []models.CustomerAnalytics {
	out := make([]models.CustomerAnalytics, 0, len(all))
	for _, a := range all {
		if q.MinLTV > 0 && a.LifetimeValue < q.MinLTV {
			continue
		}
		if q.MinChurn > 0 && a.Churn.Score < q.MinChurn {
			continue
		}
		if q.Segment != "" && !containsString(a.DominantSegments, q.Segment) {
			continue
		}
		out = append(out, a)
	}
	sortProfiles(out, q.SortBy)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func sortProfiles(xs []models.CustomerAnalytics, by string) {
	less := func(i, j int) bool { return xs[i].LifetimeValue > xs[j].LifetimeValue }
	switch by {
	case "churn":
		less = func(i, j int) bool { return xs[i].Churn.Score > xs[j].Churn.Score }
	case "orders":
		less = func(i, j int) bool { return xs[i].TotalOrders > xs[j].TotalOrders }
	case "recency":
		less = func(i, j int) bool { return xs[i].DaysSinceLastPurchase < xs[j].DaysSinceLastPurchase }
	}
	sort.SliceStable(xs, less)
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
