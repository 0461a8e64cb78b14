// internal/config/policies.go
//
// Merges the `ratelimit` section over the built-in rate-limit policies.
package config

import (
	"github.com/yanizio/tenantgate/internal/ratelimit"
	"github.com/yanizio/tenantgate/internal/tenant/meta"
)

// Policies overlays the configured rate-limit policies on base and
// returns the merged, validated set.  base is not modified.
func (rl RateLimit) Policies(base ratelimit.Policies) (ratelimit.Policies, error) {
	out := ratelimit.Policies{
		Tiers:     make(map[meta.Tier]ratelimit.Policy, len(base.Tiers)+len(rl.Tiers)),
		Anonymous: base.Anonymous,
		Endpoints: make(map[string]ratelimit.Policy, len(base.Endpoints)+len(rl.Endpoints)),
	}
	for t, p := range base.Tiers {
		out.Tiers[t] = p
	}
	for name, p := range base.Endpoints {
		out.Endpoints[name] = p
	}

	for name, p := range rl.Tiers {
		out.Tiers[meta.Tier(name)] = ratelimit.Policy{Name: name, Limit: p.Limit, Window: p.Window}
	}
	if rl.Anonymous != nil {
		out.Anonymous = ratelimit.Policy{Name: "anonymous", Limit: rl.Anonymous.Limit, Window: rl.Anonymous.Window}
	}
	for name, p := range rl.Endpoints {
		out.Endpoints[name] = ratelimit.Policy{Name: name, Limit: p.Limit, Window: p.Window}
	}

	if err := out.Validate(); err != nil {
		return ratelimit.Policies{}, err
	}
	return out, nil
}
