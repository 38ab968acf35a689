package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/scottatquimbi/quimbi-platform/internal/llm"
	"github.com/scottatquimbi/quimbi-platform/internal/store"
	"github.com/scottatquimbi/quimbi-platform/internal/tenant"
	"github.com/scottatquimbi/quimbi-platform/pkg/models"
)

type stubResolver struct{ id string }

func (s stubResolver) Resolve(ctx context.Context, c *models.WebhookCustomer) (string, error) {
	return s.id, nil
}

type stubAnalytics struct{ profile *models.CustomerAnalytics }

func (s stubAnalytics) GetCustomerAnalytics(ctx context.Context, customerID string) (*models.CustomerAnalytics, error) {
	if s.profile == nil {
		return nil, &store.ErrNotFound{Entity: "customer", Key: customerID}
	}
	return s.profile, nil
}

type recordingWriteback struct {
	mu          sync.Mutex
	priority    models.TicketPriority
	tags        []string
	notes       []string
	priorityErr error
}

func (w *recordingWriteback) UpdatePriorityAndTags(ctx context.Context, cfg models.CRMConfig, provider models.CRMProvider, ticketID string, p models.TicketPriority, tags []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.priorityErr != nil {
		return w.priorityErr
	}
	w.priority = p
	w.tags = tags
	return nil
}

func (w *recordingWriteback) PostInternalNote(ctx context.Context, cfg models.CRMConfig, provider models.CRMProvider, ticketID, body string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.notes = append(w.notes, body)
	return nil
}

func (w *recordingWriteback) noteCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.notes)
}

func testTenant() *models.Tenant {
	return &models.Tenant{ID: "ten-1", Slug: "quiltco", CRMProvider: models.ProviderGorgias, IsActive: true}
}

func runPipeline(t *testing.T, wb *recordingWriteback, profile *models.CustomerAnalytics, body []byte) (*Outcome, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	pool := NewPool(2, 16)
	p := NewPipeline(stubResolver{id: "cust-1"}, stubAnalytics{profile: profile}, wb, llm.Static{}, st, pool)

	ctx := tenant.WithContext(context.Background(), &tenant.Context{TenantID: "ten-1"})
	outcome, err := p.Process(ctx, testTenant(), models.CRMConfig{}, body)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Shutdown(drainCtx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	return outcome, st
}

func TestProcess_UrgentVIPEndToEnd(t *testing.T) {
	body := []byte(`{
		"id": "t-77",
		"subject": "Cancel",
		"status": "open",
		"channel": "email",
		"customer": {"id": "g-9", "email": "dana@example.com", "tags": ["LCC_Member"], "lifetime_value": 500},
		"messages": [{"id": "m1", "body_text": "Please cancel my order", "created_at": "2026-03-01T10:00:00Z"}]
	}`)

	wb := &recordingWriteback{}
	outcome, st := runPipeline(t, wb, &models.CustomerAnalytics{
		CustomerID: "cust-1",
		Churn:      models.ChurnPrediction{Score: 0.3},
	}, body)

	if outcome.Status != StatusAccepted {
		t.Fatalf("outcome = %+v", outcome)
	}
	if wb.priority != models.PriorityUrgent {
		t.Errorf("written-back priority = %s, want urgent", wb.priority)
	}
	found := map[string]bool{}
	for _, tag := range wb.tags {
		found[tag] = true
	}
	for _, want := range []string{"lcc_member", "vip", "urgent_cancel_request"} {
		if !found[want] {
			t.Errorf("written-back tags %v missing %q", wb.tags, want)
		}
	}
	if wb.noteCount() != 1 {
		t.Fatalf("notes posted = %d, want 1", wb.noteCount())
	}

	rec, err := st.GetRecommendation(context.Background(), "ten-1", "t-77")
	if err != nil {
		t.Fatalf("GetRecommendation() error = %v", err)
	}
	if rec.MessageCount != 1 || rec.Priority != models.PriorityUrgent {
		t.Errorf("recommendation = %+v", rec)
	}
	if !rec.ExpiresAt.After(rec.GeneratedAt) {
		t.Errorf("expiry %v not after generation %v", rec.ExpiresAt, rec.GeneratedAt)
	}
}

func TestProcess_OwnNoteLoopPrevention(t *testing.T) {
	// The note we posted echoes back as a webhook; it must be skipped
	// without posting a second note.
	body := []byte(`{
		"id": "t-77",
		"subject": "Cancel",
		"status": "open",
		"customer": {"id": "g-9", "email": "dana@example.com"},
		"messages": [
			{"id": "m1", "body_text": "Please cancel my order", "created_at": "2026-03-01T10:00:00Z"},
			{"id": "m2", "via": "api", "channel": "internal-note", "body_text": "draft", "created_at": "2026-03-01T10:01:00Z"}
		]
	}`)

	wb := &recordingWriteback{}
	outcome, _ := runPipeline(t, wb, nil, body)

	if outcome.Status != StatusSkipped || outcome.Reason != ReasonOwnInternalNote {
		t.Fatalf("outcome = %+v, want skipped/own_internal_note", outcome)
	}
	if wb.noteCount() != 0 {
		t.Errorf("notes posted = %d, want 0", wb.noteCount())
	}
}

func TestProcess_FailedPriorityWritebackSuppressesNote(t *testing.T) {
	// A rejected priority update must stop further write-backs for this
	// event; the recommendation is still persisted so the next delivery
	// finds it.
	body := []byte(`{
		"id": "t-88",
		"subject": "Cancel",
		"status": "open",
		"customer": {"id": "g-9", "email": "dana@example.com"},
		"messages": [{"id": "m1", "body_text": "Please cancel my order", "created_at": "2026-03-01T10:00:00Z"}]
	}`)

	wb := &recordingWriteback{priorityErr: errors.New("provider returned 503")}
	outcome, st := runPipeline(t, wb, nil, body)

	if outcome.Status != StatusAccepted {
		t.Fatalf("outcome = %+v", outcome)
	}
	if wb.noteCount() != 0 {
		t.Errorf("notes posted after failed priority write-back = %d, want 0", wb.noteCount())
	}
	if _, err := st.GetRecommendation(context.Background(), "ten-1", "t-88"); err != nil {
		t.Errorf("GetRecommendation() error = %v, want persisted recommendation", err)
	}
}

func TestProcess_MalformedPayload(t *testing.T) {
	st := store.NewMemoryStore()
	pool := NewPool(1, 4)
	defer pool.Shutdown(context.Background())
	p := NewPipeline(stubResolver{}, stubAnalytics{}, &recordingWriteback{}, llm.Static{}, st, pool)

	if _, err := p.Process(context.Background(), testTenant(), models.CRMConfig{}, []byte("{oops")); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestProcess_AfterShutdownRefused(t *testing.T) {
	st := store.NewMemoryStore()
	pool := NewPool(1, 4)
	pool.Shutdown(context.Background())
	p := NewPipeline(stubResolver{id: "c"}, stubAnalytics{}, &recordingWriteback{}, llm.Static{}, st, pool)

	body := []byte(`{"id":"t-1","status":"open","customer":{"email":"a@b.com"},"messages":[{"id":"m1","body_text":"hello"}]}`)
	if _, err := p.Process(context.Background(), testTenant(), models.CRMConfig{}, body); err == nil {
		t.Fatal("expected submit refusal after shutdown")
	}
}

func TestPool_DrainsQueuedJobs(t *testing.T) {
	pool := NewPool(2, 32)
	var done sync.WaitGroup
	var count int
	var mu sync.Mutex
	for i := 0; i < 20; i++ {
		done.Add(1)
		err := pool.Submit(func(ctx context.Context) {
			defer done.Done()
			mu.Lock()
			count++
			mu.Unlock()
		})
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if count != 20 {
		t.Errorf("jobs run = %d, want 20", count)
	}
}

func TestPool_SubmitDuringShutdown(t *testing.T) {
	// Submits racing Shutdown must return ErrShuttingDown or ErrQueueFull,
	// never panic on a closed queue.
	for i := 0; i < 50; i++ {
		pool := NewPool(2, 8)
		start := make(chan struct{})
		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for j := 0; j < 50; j++ {
					err := pool.Submit(func(context.Context) {})
					if err != nil && !errors.Is(err, ErrShuttingDown) && !errors.Is(err, ErrQueueFull) {
						t.Errorf("Submit() error = %v", err)
					}
				}
			}()
		}
		close(start)
		if err := pool.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown() error = %v", err)
		}
		wg.Wait()
		if err := pool.Submit(func(context.Context) {}); !errors.Is(err, ErrShuttingDown) {
			t.Errorf("Submit() after shutdown error = %v, want ErrShuttingDown", err)
		}
	}
}
