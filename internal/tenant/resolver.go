// internal/tenant/resolver.go
//
// Host → tenant resolution through the shared cache.
//
// Context
// -------
// Resolver fronts the durable directory with entries in the shared
// key-value store.  Lookup order for a normalised, non-reserved host:
//
//  1. Fresh positive entry         → return it.
//  2. Fresh negative entry         → ErrUnknownHost.
//  3. Missing, stale, or unreadable → ask the directory (loader.go).
//
// Cache read failures are treated as misses and cache write failures are
// logged and ignored; only directory failures trigger the serve-stale
// policy.
//
// Notes
// -----
//   - Concurrent misses for the same host are coalesced through a
//     singleflight group when Options.Coalesce is set (the default).  The
//     group is per process; separate gate instances may still issue
//     duplicate, idempotent directory reads.
//   - Oxford commas, two spaces after periods.
package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/yanizio/tenantgate/internal/kv"
	"github.com/yanizio/tenantgate/internal/metrics"
	"github.com/yanizio/tenantgate/internal/tenant/meta"
)

// Policy names the behaviour applied when the directory is unreachable.
type Policy string

// PolicyServeStale serves a stale positive entry, bounded by the stale
// ceiling, and otherwise reports the host as unknown.
const PolicyServeStale Policy = "serve-stale"

var (
	// ErrUnknownHost is returned when the host maps to no tenant.
	ErrUnknownHost = errors.New("unknown host")

	// ErrDirectoryUnavailable is wrapped alongside ErrUnknownHost when the
	// directory failed and no usable stale entry existed.
	ErrDirectoryUnavailable = errors.New("tenant directory unavailable")
)

// Options tunes a Resolver.  Zero durations take the defaults.
type Options struct {
	TTL         time.Duration // freshness window, default 5m
	NegativeTTL time.Duration // unknown-host entries, default 30s
	StaleFactor int           // stale ceiling = StaleFactor × TTL, default 10
	Coalesce    bool          // singleflight concurrent misses
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		TTL:         5 * time.Minute,
		NegativeTTL: 30 * time.Second,
		StaleFactor: 10,
		Coalesce:    true,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TTL <= 0 {
		o.TTL = d.TTL
	}
	if o.NegativeTTL <= 0 {
		o.NegativeTTL = d.NegativeTTL
	}
	if o.StaleFactor < 1 {
		o.StaleFactor = d.StaleFactor
	}
	return o
}

// Resolver is safe for concurrent use.
type Resolver struct {
	store kv.Store
	dir   meta.Directory
	rules *HostRules
	opts  Options
	log   *zap.Logger
	sfg   singleflight.Group
	now   func() time.Time
}

// NewResolver wires a resolver.  rules nil selects the default host rules;
// log nil discards logs.
func NewResolver(store kv.Store, dir meta.Directory, rules *HostRules, opts Options, log *zap.Logger) *Resolver {
	if rules == nil {
		rules = NewHostRules(nil, nil, nil, "")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		store: store,
		dir:   dir,
		rules: rules,
		opts:  opts.withDefaults(),
		log:   log,
		now:   time.Now,
	}
}

// FailurePolicy reports the directory-failure policy.
func (r *Resolver) FailurePolicy() Policy { return PolicyServeStale }

// Normalize exposes the host rules so the pipeline can record the
// normalised host before resolution.
func (r *Resolver) Normalize(raw string) (string, error) {
	host, err := r.rules.Normalize(raw)
	if err != nil {
		return "", err
	}
	if r.rules.Rejected(host) {
		return host, fmt.Errorf("%w: reserved host %s", ErrRejected, host)
	}
	return host, nil
}

// Resolve normalises rawHost and returns its tenant.  Errors wrap
// ErrRejected or ErrUnknownHost.
func (r *Resolver) Resolve(ctx context.Context, rawHost string) (*Tenant, error) {
	host, err := r.Normalize(rawHost)
	if err != nil {
		metrics.TenantResolveTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	return r.ResolveHost(ctx, host)
}

// ResolveHost resolves an already normalised, non-reserved host.
func (r *Resolver) ResolveHost(ctx context.Context, host string) (*Tenant, error) {
	now := r.now()
	ent := r.read(ctx, host)
	if ent != nil {
		age := now.Sub(ent.FetchedAt)
		switch {
		case ent.Negative && age < r.opts.NegativeTTL:
			metrics.TenantResolveTotal.WithLabelValues("negative").Inc()
			return nil, fmt.Errorf("%w: %s", ErrUnknownHost, host)
		case !ent.Negative && ent.Record != nil && age < r.opts.TTL:
			metrics.TenantResolveTotal.WithLabelValues("hit").Inc()
			return &Tenant{Record: *ent.Record, FetchedAt: ent.FetchedAt}, nil
		}
	}

	if !r.opts.Coalesce {
		return r.load(ctx, host, ent)
	}
	// The shared call must outlive any single caller's cancellation; the
	// directory guard bounds it.
	v, err, _ := r.sfg.Do(host, func() (any, error) {
		return r.load(context.WithoutCancel(ctx), host, ent)
	})
	if err != nil {
		return nil, err
	}
	t := *v.(*Tenant)
	return &t, nil
}

// Invalidate deletes the cache entries for the given normalised hosts.
func (r *Resolver) Invalidate(ctx context.Context, hosts ...string) error {
	if len(hosts) == 0 {
		return nil
	}
	keys := make([]string, len(hosts))
	for i, h := range hosts {
		keys[i] = resolveKey(h)
	}
	if err := r.store.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("invalidate hosts: %w", err)
	}
	metrics.TenantInvalidateTotal.Add(float64(len(keys)))
	return nil
}

// InvalidateTenant deletes the cache entries of every host bound to
// tenantID and returns the hosts it purged.
func (r *Resolver) InvalidateTenant(ctx context.Context, tenantID string) ([]string, error) {
	hosts, err := r.dir.HostsByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("hosts for tenant %s: %w", tenantID, err)
	}
	if err := r.Invalidate(ctx, hosts...); err != nil {
		return nil, err
	}
	r.log.Info("tenant cache invalidated",
		zap.String("tenant", tenantID), zap.Strings("hosts", hosts))
	return hosts, nil
}

// read returns the cached entry or nil.  Any failure counts as a miss.
func (r *Resolver) read(ctx context.Context, host string) *entry {
	b, err := r.store.Get(ctx, resolveKey(host))
	if err != nil {
		if !errors.Is(err, kv.ErrMiss) {
			r.log.Warn("tenant cache read failed", zap.String("host", host), zap.Error(err))
		}
		return nil
	}
	var ent entry
	if err := json.Unmarshal(b, &ent); err != nil {
		r.log.Warn("tenant cache entry corrupt", zap.String("host", host), zap.Error(err))
		return nil
	}
	return &ent
}

func (r *Resolver) write(ctx context.Context, host string, ent entry, ttl time.Duration) {
	b, err := json.Marshal(ent)
	if err == nil {
		err = r.store.Set(ctx, resolveKey(host), b, ttl)
	}
	if err != nil {
		r.log.Warn("tenant cache write failed", zap.String("host", host), zap.Error(err))
	}
}
