// internal/ratelimit/policy.go
//
// Rate-limit policies.
//
// Context
// -------
// The limiter is generic over {key, window, limit}; Policy carries the
// last two plus a name that namespaces the counter.  Policies groups the
// policies a deployment uses:
//
//   - one per pricing tier, applied to ordinary page traffic,
//   - an anonymous policy for unknown tiers and bot user agents,
//   - named endpoint policies for sensitive routes (forms, auth, webhooks).
//
// Notes
// -----
//   - Policy names appear in counter keys; renaming a policy resets its
//     counters.
package ratelimit

import (
	"errors"
	"fmt"
	"time"

	"github.com/yanizio/tenantgate/internal/tenant/meta"
)

// ErrInvalidPolicy is returned for non-positive limits or windows.
var ErrInvalidPolicy = errors.New("invalid rate-limit policy")

// Policy is a fixed-window limit.
type Policy struct {
	Name   string
	Limit  int64
	Window time.Duration
}

// Validate checks that p can be enforced.
func (p Policy) Validate() error {
	if p.Name == "" || p.Limit <= 0 || p.Window < time.Second {
		return fmt.Errorf("%w: %+v", ErrInvalidPolicy, p)
	}
	return nil
}

// Endpoint policy names.
const (
	EndpointLeadForm      = "lead_form"
	EndpointContactForm   = "contact_form"
	EndpointAuthLogin     = "auth_login"
	EndpointWebhook       = "webhook"
	EndpointAPI           = "api"
	EndpointSignUp        = "signup"
	EndpointPasswordReset = "password_reset"
)

// Policies is read-only after construction.
type Policies struct {
	Tiers     map[meta.Tier]Policy
	Anonymous Policy
	Endpoints map[string]Policy
}

// DefaultPolicies returns the platform defaults.
func DefaultPolicies() Policies {
	return Policies{
		Tiers: map[meta.Tier]Policy{
			meta.TierStarter:      {Name: "starter", Limit: 50, Window: 10 * time.Second},
			meta.TierProfessional: {Name: "professional", Limit: 200, Window: 10 * time.Second},
			meta.TierEnterprise:   {Name: "enterprise", Limit: 1000, Window: 10 * time.Second},
		},
		Anonymous: Policy{Name: "anonymous", Limit: 10, Window: 10 * time.Second},
		Endpoints: map[string]Policy{
			EndpointLeadForm:      {Name: EndpointLeadForm, Limit: 5, Window: time.Hour},
			EndpointContactForm:   {Name: EndpointContactForm, Limit: 3, Window: time.Hour},
			EndpointAuthLogin:     {Name: EndpointAuthLogin, Limit: 10, Window: 15 * time.Minute},
			EndpointWebhook:       {Name: EndpointWebhook, Limit: 100, Window: time.Minute},
			EndpointAPI:           {Name: EndpointAPI, Limit: 1000, Window: time.Minute},
			EndpointSignUp:        {Name: EndpointSignUp, Limit: 5, Window: time.Hour},
			EndpointPasswordReset: {Name: EndpointPasswordReset, Limit: 3, Window: time.Hour},
		},
	}
}

// Validate checks every policy in the set.
func (ps Policies) Validate() error {
	if err := ps.Anonymous.Validate(); err != nil {
		return fmt.Errorf("anonymous: %w", err)
	}
	for tier, p := range ps.Tiers {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("tier %s: %w", tier, err)
		}
	}
	for name, p := range ps.Endpoints {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("endpoint %s: %w", name, err)
		}
	}
	return nil
}

// ForTier returns the tier policy, or Anonymous for unknown tiers.
func (ps Policies) ForTier(t meta.Tier) Policy {
	if p, ok := ps.Tiers[t]; ok {
		return p
	}
	return ps.Anonymous
}

// Endpoint returns the named endpoint policy.
func (ps Policies) Endpoint(name string) (Policy, bool) {
	p, ok := ps.Endpoints[name]
	return p, ok
}
