package tenant

import "context"

type contextKey string

// ctxKeyTenant carries the bound tenant for the current request.
const ctxKeyTenant contextKey = "tenant"

// Context is the request-scoped tenant binding. It is attached by the
// tenant router middleware and cleared when the request finishes; nothing
// outside the request lifecycle may hold onto it.
type Context struct {
	TenantID string
	Slug     string
	Provider string
}

// WithContext binds a tenant to the request context.
func WithContext(ctx context.Context, tc *Context) context.Context {
	return context.WithValue(ctx, ctxKeyTenant, tc)
}

// FromContext returns the bound tenant, or nil in single-tenant
// (anonymous) mode.
func FromContext(ctx context.Context) *Context {
	if tc, ok := ctx.Value(ctxKeyTenant).(*Context); ok {
		return tc
	}
	return nil
}

// IDFromContext returns the bound tenant id, or "" when none is bound.
func IDFromContext(ctx context.Context) string {
	if tc := FromContext(ctx); tc != nil {
		return tc.TenantID
	}
	return ""
}
