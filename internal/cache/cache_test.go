package cache_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/scottatquimbi/quimbi-platform/internal/cache"
	"github.com/scottatquimbi/quimbi-platform/internal/tenant"
)

func newTestCache(t *testing.T) (*cache.Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := cache.NewRedisWithClient(client, time.Minute)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func tenantCtx(id string) context.Context {
	return tenant.WithContext(context.Background(), &tenant.Context{TenantID: id})
}

func TestKey_Namespacing(t *testing.T) {
	if got := cache.Key(tenantCtx("ten-1"), "customer", "c9"); got != "tenant:ten-1:customer:c9" {
		t.Errorf("Key(tenant ctx) = %q", got)
	}
	if got := cache.Key(context.Background(), "customer", "c9"); got != "global:customer:c9" {
		t.Errorf("Key(anonymous ctx) = %q", got)
	}
}

func TestSetGet_RoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := tenantCtx("ten-1")

	type profile struct {
		LTV float64 `json:"ltv"`
	}
	if !c.SetTTL(ctx, "customer", "c9", profile{LTV: 1200}, cache.TTLCustomerProfile) {
		t.Fatal("SetTTL() = false")
	}

	// Every key written after tenant binding is tenant-prefixed.
	for _, key := range mr.Keys() {
		if !strings.HasPrefix(key, "tenant:ten-1:") {
			t.Errorf("key %q escaped the tenant namespace", key)
		}
	}

	var got profile
	if !c.Get(ctx, "customer", "c9", &got) || got.LTV != 1200 {
		t.Errorf("Get() = %v", got)
	}
}

func TestGet_TenantIsolation(t *testing.T) {
	c, _ := newTestCache(t)
	c.Set(tenantCtx("ten-1"), "customer", "c9", "secret")

	var got string
	if c.Get(tenantCtx("ten-2"), "customer", "c9", &got) {
		t.Error("tenant ten-2 read ten-1's cache entry")
	}
	if c.Get(context.Background(), "customer", "c9", &got) {
		t.Error("anonymous context read a tenant cache entry")
	}
}

func TestGet_ExpiredIsMiss(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := tenantCtx("ten-1")
	c.SetTTL(ctx, "churn", "c9", 0.7, time.Second)

	mr.FastForward(2 * time.Second)

	var got float64
	if c.Get(ctx, "churn", "c9", &got) {
		t.Error("expired entry should miss")
	}
}

func TestDeletePattern(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := tenantCtx("ten-1")
	c.Set(ctx, "customer", "c1", 1)
	c.Set(ctx, "customer", "c2", 2)
	c.Set(ctx, "churn", "c1", 0.5)
	c.Set(tenantCtx("ten-2"), "customer", "c1", 3)

	deleted := c.DeletePattern(ctx, "customer", "*")
	if deleted != 2 {
		t.Errorf("DeletePattern() = %d, want 2", deleted)
	}

	var v int
	if c.Get(ctx, "customer", "c1", &v) {
		t.Error("customer entry survived pattern delete")
	}
	var f float64
	if !c.Get(ctx, "churn", "c1", &f) {
		t.Error("churn entry wrongly deleted")
	}
	// Other tenant untouched.
	if !c.Get(tenantCtx("ten-2"), "customer", "c1", &v) {
		t.Error("other tenant's entry wrongly deleted")
	}
}

func TestClearAll_ScopedToTenant(t *testing.T) {
	c, _ := newTestCache(t)
	c.Set(tenantCtx("ten-1"), "customer", "c1", 1)
	c.Set(tenantCtx("ten-1"), "query", "q1", 2)
	c.Set(tenantCtx("ten-2"), "customer", "c1", 3)

	if n := c.ClearAll(tenantCtx("ten-1")); n != 2 {
		t.Errorf("ClearAll() = %d, want 2", n)
	}
	var v int
	if !c.Get(tenantCtx("ten-2"), "customer", "c1", &v) {
		t.Error("ClearAll crossed tenant boundary")
	}
}

func TestGet_BackendDownDegradesToMiss(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := tenantCtx("ten-1")
	c.Set(ctx, "customer", "c1", 1)

	mr.Close()

	var v int
	if c.Get(ctx, "customer", "c1", &v) {
		t.Error("Get with backend down should report a miss")
	}
	// Writes fail silently.
	if c.Set(ctx, "customer", "c2", 2) {
		t.Error("Set with backend down should return false, not panic")
	}
}

func TestDisabledCache(t *testing.T) {
	var c cache.Cache = cache.Disabled{}
	ctx := tenantCtx("ten-1")
	if c.Set(ctx, "a", "b", 1) {
		t.Error("Disabled.Set should return false")
	}
	var v int
	if c.Get(ctx, "a", "b", &v) {
		t.Error("Disabled.Get should miss")
	}
	if err := c.Ping(ctx); err != nil {
		t.Errorf("Disabled.Ping() = %v", err)
	}
}
