// Package cache provides the tenant-namespaced Redis cache. The cache is a
// best-effort accelerator: every failure degrades to a miss (reads) or a
// silent no-op (writes), and the authoritative state always lives in the
// store. Keys are built by a single helper so tenant namespacing cannot be
// bypassed.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/scottatquimbi/quimbi-platform/internal/metrics"
	"github.com/scottatquimbi/quimbi-platform/internal/tenant"
)

// Default TTLs per entry class. Callers may override via SetTTL.
const (
	TTLCustomerProfile = time.Hour
	TTLChurnPrediction = 30 * time.Minute
	TTLQueryResult     = 10 * time.Minute
	TTLArchetype       = time.Hour
)

// Cache is the tenant-aware KV interface consumed by the analytics and
// ticket services.
type Cache interface {
	// Get unmarshals the cached value into dest. Returns false on miss or
	// any backend error.
	Get(ctx context.Context, prefix, suffix string, dest any) bool

	// Set stores the value with the default TTL. Failures are swallowed.
	Set(ctx context.Context, prefix, suffix string, value any) bool

	// SetTTL stores the value with an explicit TTL.
	SetTTL(ctx context.Context, prefix, suffix string, value any, ttl time.Duration) bool

	Delete(ctx context.Context, prefix, suffix string) bool

	// DeletePattern removes all keys matching the suffix glob under the
	// current namespace, e.g. DeletePattern(ctx, "customer", "*").
	DeletePattern(ctx context.Context, prefix, pattern string) int

	Exists(ctx context.Context, prefix, suffix string) bool

	// ClearAll flushes every key in the current tenant namespace.
	ClearAll(ctx context.Context) int

	Ping(ctx context.Context) error
	Close() error
}

// Key builds the namespaced cache key. When a tenant is bound to ctx the
// key lives under "tenant:{id}:", otherwise under "global:". This is the
// only place cache keys are constructed.
func Key(ctx context.Context, prefix, suffix string) string {
	if id := tenant.IDFromContext(ctx); id != "" {
		return "tenant:" + id + ":" + prefix + ":" + suffix
	}
	return "global:" + prefix + ":" + suffix
}

// namespacePattern is the glob covering the current namespace.
func namespacePattern(ctx context.Context, prefix, pattern string) string {
	if id := tenant.IDFromContext(ctx); id != "" {
		return "tenant:" + id + ":" + prefix + ":" + pattern
	}
	return "global:" + prefix + ":" + pattern
}

// ── Redis implementation ────────────────────────────────────

// Redis is the go-redis backed Cache.
type Redis struct {
	client     *redis.Client
	defaultTTL time.Duration
}

// NewRedis connects to Redis at url (redis:// form).
func NewRedis(url string, defaultTTL time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	if defaultTTL <= 0 {
		defaultTTL = TTLQueryResult
	}
	return &Redis{client: redis.NewClient(opts), defaultTTL: defaultTTL}, nil
}

// NewRedisWithClient wraps an existing client (tests use miniredis).
func NewRedisWithClient(client *redis.Client, defaultTTL time.Duration) *Redis {
	if defaultTTL <= 0 {
		defaultTTL = TTLQueryResult
	}
	return &Redis{client: client, defaultTTL: defaultTTL}
}

func (r *Redis) Get(ctx context.Context, prefix, suffix string, dest any) bool {
	key := Key(ctx, prefix, suffix)
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Warn().Err(err).Str("key", key).Msg("cache get failed, treating as miss")
		}
		metrics.CacheMisses.Inc()
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		metrics.CacheMisses.Inc()
		return false
	}
	metrics.CacheHits.Inc()
	return true
}

func (r *Redis) Set(ctx context.Context, prefix, suffix string, value any) bool {
	return r.SetTTL(ctx, prefix, suffix, value, r.defaultTTL)
}

func (r *Redis) SetTTL(ctx context.Context, prefix, suffix string, value any, ttl time.Duration) bool {
	raw, err := json.Marshal(value)
	if err != nil {
		return false
	}
	key := Key(ctx, prefix, suffix)
	if err := r.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache set failed")
		return false
	}
	return true
}

func (r *Redis) Delete(ctx context.Context, prefix, suffix string) bool {
	return r.client.Del(ctx, Key(ctx, prefix, suffix)).Err() == nil
}

func (r *Redis) DeletePattern(ctx context.Context, prefix, pattern string) int {
	glob := namespacePattern(ctx, prefix, pattern)
	deleted := 0
	iter := r.client.Scan(ctx, 0, glob, 100).Iterator()
	for iter.Next(ctx) {
		if r.client.Del(ctx, iter.Val()).Err() == nil {
			deleted++
		}
	}
	if err := iter.Err(); err != nil {
		log.Warn().Err(err).Str("pattern", glob).Msg("cache pattern delete failed")
	}
	return deleted
}

func (r *Redis) Exists(ctx context.Context, prefix, suffix string) bool {
	n, err := r.client.Exists(ctx, Key(ctx, prefix, suffix)).Result()
	return err == nil && n > 0
}

func (r *Redis) ClearAll(ctx context.Context) int {
	glob := "global:*"
	if id := tenant.IDFromContext(ctx); id != "" {
		glob = "tenant:" + id + ":*"
	}
	deleted := 0
	iter := r.client.Scan(ctx, 0, glob, 100).Iterator()
	for iter.Next(ctx) {
		if r.client.Del(ctx, iter.Val()).Err() == nil {
			deleted++
		}
	}
	return deleted
}

func (r *Redis) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }
func (r *Redis) Close() error                   { return r.client.Close() }

// ── Disabled implementation ─────────────────────────────────

// Disabled is the no-op cache used when ENABLE_CACHE=false or no Redis is
// configured. Every read misses; every write succeeds silently.
type Disabled struct{}

func (Disabled) Get(ctx context.Context, prefix, suffix string, dest any) bool { return false }
func (Disabled) Set(ctx context.Context, prefix, suffix string, value any) bool {
	return false
}
func (Disabled) SetTTL(ctx context.Context, prefix, suffix string, value any, ttl time.Duration) bool {
	return false
}
func (Disabled) Delete(ctx context.Context, prefix, suffix string) bool           { return false }
func (Disabled) DeletePattern(ctx context.Context, prefix, pattern string) int    { return 0 }
func (Disabled) Exists(ctx context.Context, prefix, suffix string) bool           { return false }
func (Disabled) ClearAll(ctx context.Context) int                                 { return 0 }
func (Disabled) Ping(ctx context.Context) error                                   { return nil }
func (Disabled) Close() error                                                     { return nil }
