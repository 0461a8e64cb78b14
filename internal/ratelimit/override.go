// internal/ratelimit/override.go
//
// Per-tenant policy overrides.
//
// Context
// -------
// Support staff can temporarily raise or lower a tenant's page-traffic
// limit (a launch, an abusive crawler) without a deploy.  Overrides live
// in the shared store under `tenant:ratelimit:override:<id>` with a TTL
// (24 h by default) so a forgotten override lapses on its own.
//
// Notes
// -----
//   - PolicyFor never fails: an unreadable override falls back to the
//     tier policy.
//   - Bots always get the anonymous policy, override or not.
package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/tenantgate/internal/kv"
	"github.com/yanizio/tenantgate/internal/tenant/meta"
)

// DefaultOverrideTTL is used when SetOverride receives ttl <= 0.
const DefaultOverrideTTL = 24 * time.Hour

const overrideName = "override"

func overrideKey(tenantID string) string { return "tenant:ratelimit:override:" + tenantID }

type storedOverride struct {
	Limit    int64 `json:"limit"`
	WindowMS int64 `json:"window_ms"`
}

// SetOverride stores a custom limit for tenantID.  p.Name is ignored.
func (l *Limiter) SetOverride(ctx context.Context, tenantID string, p Policy, ttl time.Duration) error {
	p.Name = overrideName
	if err := p.Validate(); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = DefaultOverrideTTL
	}
	b, err := json.Marshal(storedOverride{Limit: p.Limit, WindowMS: p.Window.Milliseconds()})
	if err != nil {
		return err
	}
	if err := l.store.Set(ctx, overrideKey(tenantID), b, ttl); err != nil {
		return fmt.Errorf("set rate-limit override for %s: %w", tenantID, err)
	}
	l.log.Info("rate-limit override set",
		zap.String("tenant", tenantID),
		zap.Int64("limit", p.Limit),
		zap.Duration("window", p.Window),
		zap.Duration("ttl", ttl))
	return nil
}

// ClearOverride removes any override for tenantID.
func (l *Limiter) ClearOverride(ctx context.Context, tenantID string) error {
	if err := l.store.Delete(ctx, overrideKey(tenantID)); err != nil {
		return fmt.Errorf("clear rate-limit override for %s: %w", tenantID, err)
	}
	return nil
}

// Override returns the stored override, if any.
func (l *Limiter) Override(ctx context.Context, tenantID string) (Policy, bool, error) {
	b, err := l.store.Get(ctx, overrideKey(tenantID))
	if errors.Is(err, kv.ErrMiss) {
		return Policy{}, false, nil
	}
	if err != nil {
		return Policy{}, false, err
	}
	var so storedOverride
	if err := json.Unmarshal(b, &so); err != nil {
		return Policy{}, false, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	p := Policy{Name: overrideName, Limit: so.Limit, Window: time.Duration(so.WindowMS) * time.Millisecond}
	if err := p.Validate(); err != nil {
		return Policy{}, false, err
	}
	return p, true, nil
}

// PolicyFor selects the page-traffic policy for a request.
func (l *Limiter) PolicyFor(ctx context.Context, tenantID string, tier meta.Tier, bot bool) Policy {
	if bot {
		return l.policies.Anonymous
	}
	p, ok, err := l.Override(ctx, tenantID)
	if err != nil {
		l.log.Debug("rate-limit override unreadable", zap.String("tenant", tenantID), zap.Error(err))
	}
	if ok {
		return p
	}
	return l.policies.ForTier(tier)
}
