// internal/tenant/loader.go
//
// Directory fetch on a cache miss.
//
// Notes
// -----
//   - Runs at most once per host at a time when coalescing is on.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/tenantgate/internal/metrics"
	"github.com/yanizio/tenantgate/internal/tenant/meta"
)

// load asks the directory for host and repopulates the cache.  prev is the
// entry read before the miss, if any; it is the serve-stale candidate.
//
//  1. Found      → positive entry, kept in the store until the stale ceiling.
//  2. Not found  → negative entry for NegativeTTL.
//  3. Any fault  → prev when it is positive and within the ceiling,
//     otherwise ErrUnknownHost wrapping ErrDirectoryUnavailable.
func (r *Resolver) load(ctx context.Context, host string, prev *entry) (*Tenant, error) {
	rec, err := r.dir.FindByHost(ctx, host)
	now := r.now()

	switch {
	case err == nil:
		r.write(ctx, host, entry{Record: rec, FetchedAt: now}, r.staleCeiling())
		metrics.TenantResolveTotal.WithLabelValues("miss").Inc()
		return &Tenant{Record: *rec, FetchedAt: now}, nil

	case errors.Is(err, meta.ErrNotFound):
		r.write(ctx, host, entry{FetchedAt: now, Negative: true}, r.opts.NegativeTTL)
		metrics.TenantResolveTotal.WithLabelValues("unknown").Inc()
		return nil, fmt.Errorf("%w: %s", ErrUnknownHost, host)
	}

	if prev != nil && !prev.Negative && prev.Record != nil {
		if age := now.Sub(prev.FetchedAt); age <= r.staleCeiling() {
			r.log.Warn("serving stale tenant",
				zap.String("host", host),
				zap.String("tenant", prev.Record.ID),
				zap.Duration("age", age),
				zap.Error(err))
			metrics.TenantResolveTotal.WithLabelValues("stale").Inc()
			return &Tenant{Record: *prev.Record, FetchedAt: prev.FetchedAt, Stale: true}, nil
		}
	}

	r.log.Error("tenant directory lookup failed", zap.String("host", host), zap.Error(err))
	metrics.TenantResolveTotal.WithLabelValues("unavailable").Inc()
	return nil, fmt.Errorf("%w: %s: %w: %v", ErrUnknownHost, host, ErrDirectoryUnavailable, err)
}

func (r *Resolver) staleCeiling() time.Duration {
	return time.Duration(r.opts.StaleFactor) * r.opts.TTL
}
