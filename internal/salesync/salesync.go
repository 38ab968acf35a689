// Package salesync schedules the nightly refresh of order-derived
// analytics for every active tenant. The segmentation engine owns the
// heavy computation; the gateway only triggers the per-tenant refresh
// hook and clears stale cache entries afterwards.
package salesync

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/scottatquimbi/quimbi-platform/internal/cache"
	"github.com/scottatquimbi/quimbi-platform/internal/store"
	"github.com/scottatquimbi/quimbi-platform/internal/tenant"
	"github.com/scottatquimbi/quimbi-platform/pkg/models"
)

// runTimeout bounds one full sync pass.
const runTimeout = 30 * time.Minute

// Syncer runs the scheduled order refresh.
type Syncer struct {
	store store.TenantStore
	cache cache.Cache
	cron  *cron.Cron
	hour  int
}

// New creates a Syncer firing daily at the given hour (0-23).
func New(st store.TenantStore, c cache.Cache, hour int) *Syncer {
	return &Syncer{
		store: st,
		cache: c,
		cron:  cron.New(),
		hour:  hour,
	}
}

// Start registers the daily schedule and launches the cron loop. With
// syncNow set, one pass runs immediately in the background.
func (s *Syncer) Start(syncNow bool) error {
	spec := fmt.Sprintf("0 %d * * *", s.hour)
	if _, err := s.cron.AddFunc(spec, s.runOnce); err != nil {
		return fmt.Errorf("sales sync schedule: %w", err)
	}
	s.cron.Start()
	log.Info().Int("hour", s.hour).Msg("sales sync scheduled")

	if syncNow {
		go s.runOnce()
	}
	return nil
}

// Stop halts the scheduler and waits for a running pass to finish.
func (s *Syncer) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Syncer) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	tenants, err := s.store.ListActiveTenants(ctx, "")
	if err != nil {
		log.Error().Err(err).Msg("sales sync: tenant listing failed")
		return
	}

	start := time.Now()
	refreshed := 0
	for _, t := range tenants {
		if err := s.refreshTenant(ctx, &t); err != nil {
			log.Warn().Err(err).Str("tenant", t.ID).Msg("sales sync: tenant refresh failed")
			continue
		}
		refreshed++
	}
	log.Info().
		Int("tenants", len(tenants)).
		Int("refreshed", refreshed).
		Dur("duration", time.Since(start)).
		Msg("sales sync pass complete")
}

// refreshTenant refreshes one tenant's order analytics and invalidates
// its cached customer entries so the next read sees fresh numbers.
func (s *Syncer) refreshTenant(ctx context.Context, t *models.Tenant) error {
	if err := s.store.RefreshTenantOrders(ctx, t.ID); err != nil {
		return err
	}
	tctx := tenant.WithContext(ctx, &tenant.Context{TenantID: t.ID, Slug: t.Slug})
	s.cache.DeletePattern(tctx, "customer", "*")
	s.cache.DeletePattern(tctx, "churn", "*")
	return nil
}
