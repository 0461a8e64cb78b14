// internal/billing/gate.go
//
// Billing status gate.
//
// Context
// -------
// Gate answers "may this tenant's site be served right now?" from a
// short-lived cache entry (`tenant:billing:<id>`, 60 s by default) in
// front of the directory.  The billing webhook drives the only write
// path, Update, which changes the directory first and then deletes the
// cache entry so the next Check is forced back to the directory.
//
// Failure policy is fail-closed: a directory error, timeout, or missing
// tenant yields StatusSuspended.  Those answers are never cached, so
// access returns as soon as the directory does.
//
// Notes
// -----
//   - Cache read errors are treated as misses; cache write errors are
//     logged and ignored.
//   - A cached value that is not a known status is ignored.
//   - Oxford commas, two spaces after periods.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/tenantgate/internal/kv"
	"github.com/yanizio/tenantgate/internal/metrics"
	"github.com/yanizio/tenantgate/internal/tenant/meta"
)

// Policy names the behaviour applied when the status cannot be read.
type Policy string

// PolicyFailClosed reports StatusSuspended whenever the lookup fails.
const PolicyFailClosed Policy = "fail-closed"

// DefaultTTL is the cache lifetime of a billing status.
const DefaultTTL = 60 * time.Second

// ErrInvalidStatus is returned by Update for unknown statuses.
var ErrInvalidStatus = errors.New("invalid billing status")

// CanAccess reports whether a tenant in status s may be served.
func CanAccess(s meta.Status) bool {
	return s == meta.StatusActive || s == meta.StatusTrial
}

func statusKey(tenantID string) string { return "tenant:billing:" + tenantID }

// Gate is safe for concurrent use.
type Gate struct {
	store  kv.Store
	dir    meta.Directory
	ttl    time.Duration
	events *EventLog
	log    *zap.Logger
}

// New wires a Gate.  ttl <= 0 selects DefaultTTL; log may be nil.
func New(store kv.Store, dir meta.Directory, ttl time.Duration, log *zap.Logger) *Gate {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{
		store:  store,
		dir:    dir,
		ttl:    ttl,
		events: NewEventLog(store),
		log:    log,
	}
}

// FailurePolicy reports the lookup-failure policy.
func (g *Gate) FailurePolicy() Policy { return PolicyFailClosed }

// Check returns the tenant's billing status.  It never returns an error;
// every failure is folded into StatusSuspended.
func (g *Gate) Check(ctx context.Context, tenantID string) meta.Status {
	key := statusKey(tenantID)

	b, err := g.store.Get(ctx, key)
	switch {
	case err == nil:
		if s := meta.Status(b); s.Valid() {
			metrics.BillingCheckTotal.WithLabelValues("hit").Inc()
			return s
		}
		g.log.Warn("ignoring malformed billing cache value",
			zap.String("tenant", tenantID), zap.ByteString("value", b))
	case !errors.Is(err, kv.ErrMiss):
		g.log.Warn("billing cache read failed", zap.String("tenant", tenantID), zap.Error(err))
	}

	s, err := g.dir.Status(ctx, tenantID)
	if err != nil {
		g.log.Error("billing lookup failed, treating tenant as suspended",
			zap.String("tenant", tenantID), zap.Error(err))
		metrics.BillingCheckTotal.WithLabelValues("failed").Inc()
		return meta.StatusSuspended
	}

	if err := g.store.Set(ctx, key, []byte(s), g.ttl); err != nil {
		g.log.Warn("billing cache write failed", zap.String("tenant", tenantID), zap.Error(err))
	}
	metrics.BillingCheckTotal.WithLabelValues("miss").Inc()
	return s
}

// Update records a status change from the billing webhook.  The directory
// is written first; only then is the cache entry deleted.  A failed
// directory write leaves the cache untouched.  A failed delete is
// returned so the webhook sender retries.
func (g *Gate) Update(ctx context.Context, tenantID string, s meta.Status) error {
	if !s.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}

	// Best-effort previous value for the event log only.
	old, err := g.dir.Status(ctx, tenantID)
	if err != nil && !errors.Is(err, meta.ErrNotFound) {
		g.log.Debug("previous billing status unavailable", zap.String("tenant", tenantID), zap.Error(err))
	}

	if err := g.dir.SetStatus(ctx, tenantID, s); err != nil {
		return fmt.Errorf("set billing status for %s: %w", tenantID, err)
	}
	if err := g.store.Delete(ctx, statusKey(tenantID)); err != nil {
		return fmt.Errorf("invalidate billing status for %s: %w", tenantID, err)
	}

	if err := g.events.Record(ctx, tenantID, Event{Type: EventStatusChange, Old: old, New: s}); err != nil {
		g.log.Warn("billing event not recorded", zap.String("tenant", tenantID), zap.Error(err))
	}
	metrics.BillingUpdateTotal.WithLabelValues(string(s)).Inc()
	g.log.Info("billing status updated",
		zap.String("tenant", tenantID),
		zap.String("old", string(old)),
		zap.String("new", string(s)))
	return nil
}

// Invalidate deletes the cached status for tenantID.
func (g *Gate) Invalidate(ctx context.Context, tenantID string) error {
	return g.store.Delete(ctx, statusKey(tenantID))
}

// Events returns the tenant's recent billing events, newest first.
func (g *Gate) Events(ctx context.Context, tenantID string) ([]Event, error) {
	return g.events.List(ctx, tenantID)
}
