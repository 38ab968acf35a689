// Package server is the public entry point for composing the support
// gateway: configuration, storage, cache, tenant registry, ingestion
// pipeline, and the HTTP router, wired together with one call.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
//	...
//	srv.Shutdown(ctx)
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/scottatquimbi/quimbi-platform/internal/analytics"
	"github.com/scottatquimbi/quimbi-platform/internal/api"
	"github.com/scottatquimbi/quimbi-platform/internal/api/handlers"
	"github.com/scottatquimbi/quimbi-platform/internal/cache"
	"github.com/scottatquimbi/quimbi-platform/internal/config"
	"github.com/scottatquimbi/quimbi-platform/internal/crm"
	"github.com/scottatquimbi/quimbi-platform/internal/identity"
	"github.com/scottatquimbi/quimbi-platform/internal/ingest"
	"github.com/scottatquimbi/quimbi-platform/internal/llm"
	"github.com/scottatquimbi/quimbi-platform/internal/nlquery"
	"github.com/scottatquimbi/quimbi-platform/internal/ratelimit"
	"github.com/scottatquimbi/quimbi-platform/internal/salesync"
	"github.com/scottatquimbi/quimbi-platform/internal/store"
	"github.com/scottatquimbi/quimbi-platform/internal/telemetry"
	"github.com/scottatquimbi/quimbi-platform/internal/tenant"
	"github.com/scottatquimbi/quimbi-platform/internal/ticket"
)

// nlHourlyQuota is the tighter budget for the natural-language endpoint.
const nlHourlyQuota = 50

// Server holds the initialized gateway.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the primary data store.
	Store store.Store

	// Port is the port the server should listen on.
	Port int

	cfg       *config.Config
	cache     cache.Cache
	limiter   *ratelimit.Limiter
	nlQuota   *ratelimit.Limiter
	pool      *ingest.Pool
	sync      *salesync.Syncer
	telemetry func(context.Context) error
}

// New initializes the gateway from environment configuration. Validation
// failures (weak admin key, bad encryption key, wildcard CORS in
// production) abort startup.
func New(ctx context.Context) (*Server, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	telemetryShutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	// Storage: PostgreSQL when configured, in-memory otherwise.
	var dataStore store.Store
	if cfg.Database.URL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		dataStore = pg
		log.Info().Msg("✅ PostgreSQL store initialized")
	} else {
		dataStore = store.NewMemoryStore()
		log.Info().Msg("✅ In-memory store initialized")
	}
	if err := dataStore.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	// Cache: Redis when configured and enabled, no-op otherwise.
	var c cache.Cache = cache.Disabled{}
	if cfg.Cache.Enabled && cfg.Cache.RedisURL != "" {
		redisCache, err := cache.NewRedis(cfg.Cache.RedisURL, time.Duration(cfg.Cache.DefaultTTL)*time.Second)
		if err != nil {
			log.Warn().Err(err).Msg("cache unavailable, continuing without")
		} else {
			c = redisCache
			log.Info().Msg("✅ Redis cache initialized")
		}
	}

	// Tenant registry with sealed CRM credentials.
	key, err := cfg.EncryptionKeyBytes()
	if err != nil {
		return nil, err
	}
	cipher, err := tenant.NewCipher(key)
	if err != nil {
		return nil, err
	}
	registry := tenant.NewRegistry(dataStore, cipher)

	// Rate limiting: the global limiter plus the NL-query quota.
	limiter := ratelimit.New(cfg.RateLimit.PerMinute, cfg.RateLimit.PerHour)
	limiter.Start(ctx, ratelimit.DefaultSweepInterval)
	nlQuota := ratelimit.New(cfg.RateLimit.PerMinute, nlHourlyQuota)

	// Language model adapter: Anthropic when a key is present, the
	// deterministic static adapter otherwise.
	var adapter llm.Adapter = llm.Static{}
	if cfg.LLM.AnthropicAPIKey != "" {
		adapter = llm.NewAnthropic(cfg.LLM.AnthropicAPIKey, "")
		log.Info().Msg("✅ Anthropic adapter initialized")
	} else {
		log.Info().Msg("language model key absent, using static adapter")
	}

	// Identity resolution, optionally backed by the phone-lookup service.
	var phones identity.PhoneLookup
	if cfg.LLM.PhoneLookupURL != "" {
		phones = identity.NewHTTPPhoneLookup(cfg.LLM.PhoneLookupURL)
	}
	resolver := identity.NewResolver(phones)

	analyticsSvc := analytics.NewService(dataStore, c)
	ticketSvc := ticket.NewService(dataStore, analyticsSvc, adapter)
	queries := nlquery.NewRouter(adapter, dataStore, c, cfg.UseConsolidatedTools)

	// Ingestion: bounded worker pool behind the webhook endpoints.
	pool := ingest.NewPool(0, 0)
	pipeline := ingest.NewPipeline(resolver, analyticsSvc, crm.NewClient(), adapter, dataStore, pool)

	var syncer *salesync.Syncer
	if cfg.Sync.EnableSalesSync {
		syncer = salesync.New(dataStore, c, cfg.Sync.SalesSyncHour)
		if err := syncer.Start(cfg.Sync.SyncOnStartup); err != nil {
			return nil, err
		}
	}

	h := handlers.New(dataStore, c, ticketSvc, queries, pipeline, registry, cfg.Security.AdminKey, nlQuota)
	router := api.NewRouter(cfg, h, registry, limiter)

	return &Server{
		Handler:   router,
		Store:     dataStore,
		Port:      cfg.Port,
		cfg:       cfg,
		cache:     c,
		limiter:   limiter,
		nlQuota:   nlQuota,
		pool:      pool,
		sync:      syncer,
		telemetry: telemetryShutdown,
	}, nil
}

// Shutdown drains the ingestion pool, stops the schedulers, and releases
// storage and cache connections. Call after the HTTP listener stops.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.sync != nil {
		s.sync.Stop()
	}
	s.limiter.Stop()
	s.nlQuota.Stop()

	if err := s.pool.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("ingestion pool did not drain before deadline")
	}

	if err := s.telemetry(ctx); err != nil {
		log.Warn().Err(err).Msg("telemetry shutdown failed")
	}
	if err := s.cache.Close(); err != nil {
		log.Warn().Err(err).Msg("cache close failed")
	}
	return s.Store.Close()
}
