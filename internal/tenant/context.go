// internal/tenant/context.go
//
// Carries the resolved *Tenant through a request context so
// downstream handlers can read it without re-resolving.
package tenant

import "context"

type ctxKey struct{}

// WithTenant returns a copy of ctx carrying t.
func WithTenant(ctx context.Context, t *Tenant) context.Context {
	return context.WithValue(ctx, ctxKey{}, t)
}

// FromContext returns the tenant stored by WithTenant, or nil.
func FromContext(ctx context.Context) *Tenant {
	t, _ := ctx.Value(ctxKey{}).(*Tenant)
	return t
}
