// internal/gate/pipeline.go
//
// Per-request gating pipeline.
//
// Context
// -------
// Evaluate walks one request through a fixed sequence of stages:
//
//	Start → HostNormalized → TenantResolved → BillingChecked → RateChecked → Forwarded
//	                      ↘ TenantRejected   ↘ BlockedSuspended ↘ BlockedRateLimited
//
// No stage is skipped or reordered, and there are no retries here; each
// component owns its failure policy (serve-stale, fail-closed, fail-open)
// and always returns an answer the pipeline can act on.  Middleware turns
// the terminal state into a response or forwards the request with the
// tenant attached.
//
// Notes
// -----
//   - Rejected and unknown hosts share the TenantRejected state; the
//     response does not reveal which.
//   - Billing failure is indistinguishable from suspension.
//   - BillingExempt paths pass a suspended tenant on to rate limiting so
//     it can still reach its billing pages.
//   - Oxford commas, two spaces after periods.
package gate

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/tenantgate/internal/billing"
	"github.com/yanizio/tenantgate/internal/metrics"
	"github.com/yanizio/tenantgate/internal/ratelimit"
	"github.com/yanizio/tenantgate/internal/requestinfo"
	"github.com/yanizio/tenantgate/internal/tenant"
	"github.com/yanizio/tenantgate/internal/tenant/meta"
)

// TenantResolver is satisfied by *tenant.Resolver.
type TenantResolver interface {
	Normalize(raw string) (string, error)
	ResolveHost(ctx context.Context, host string) (*tenant.Tenant, error)
}

// BillingChecker is satisfied by *billing.Gate.
type BillingChecker interface {
	Check(ctx context.Context, tenantID string) meta.Status
}

// RateLimiter is satisfied by *ratelimit.Limiter.
type RateLimiter interface {
	PolicyFor(ctx context.Context, tenantID string, tier meta.Tier, bot bool) ratelimit.Policy
	Consume(ctx context.Context, key string, p ratelimit.Policy) ratelimit.Result
	Policies() ratelimit.Policies
}

// Decision is the outcome of Evaluate.
type Decision struct {
	State    State
	Trace    []State // every state visited, in order
	Host     string
	Tenant   *tenant.Tenant
	Billing  meta.Status
	Policy   ratelimit.Policy
	Rate     ratelimit.Result
	Endpoint string // matched endpoint policy, if any
	Exempt   bool   // path bypasses the billing block
	Err      error  // rejection cause
}

func (d *Decision) to(s State) {
	d.State = s
	d.Trace = append(d.Trace, s)
}

// Options configures a Pipeline.
type Options struct {
	// Routes maps URL path prefixes to endpoint policy names.  A matching
	// request is limited by the endpoint policy instead of the tier policy.
	Routes map[string]string

	// TrustProxy lets the client IP come from forwarding headers when
	// requestinfo has not run.
	TrustProxy bool

	// BillingExempt lists path prefixes a suspended tenant may still
	// reach (e.g. "/billing").  Status is still checked and forwarded.
	BillingExempt []string

	// NotFound handles TenantRejected.  Defaults to http.NotFound.
	NotFound http.Handler
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	tenants TenantResolver
	billing BillingChecker
	limiter RateLimiter
	opts    Options
	log     *zap.Logger
	now     func() time.Time
}

// New wires a Pipeline.  log may be nil.
func New(tenants TenantResolver, bill BillingChecker, limiter RateLimiter, opts Options, log *zap.Logger) *Pipeline {
	if opts.NotFound == nil {
		opts.NotFound = http.NotFoundHandler()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		tenants: tenants,
		billing: bill,
		limiter: limiter,
		opts:    opts,
		log:     log,
		now:     time.Now,
	}
}

// Evaluate runs the stages for r and returns the terminal decision.
func (p *Pipeline) Evaluate(r *http.Request) Decision {
	ctx := r.Context()
	d := Decision{Trace: make([]State, 0, 6)}
	d.to(StateStart)

	host, err := p.tenants.Normalize(r.Host)
	d.Host = host
	if host != "" {
		d.to(StateHostNormalized)
	}
	if err != nil {
		d.Err = err
		d.to(StateTenantRejected)
		return d
	}

	t, err := p.tenants.ResolveHost(ctx, host)
	if err != nil {
		d.Err = err
		d.to(StateTenantRejected)
		return d
	}
	d.Tenant = t
	d.to(StateTenantResolved)

	d.Billing = p.billing.Check(ctx, t.ID)
	d.to(StateBillingChecked)
	d.Exempt = p.billingExempt(r.URL.Path)
	if !billing.CanAccess(d.Billing) && !d.Exempt {
		d.to(StateBlockedSuspended)
		return d
	}

	client, bot := p.client(r)
	d.Policy, d.Endpoint = p.policy(ctx, r, t, bot)
	d.Rate = p.limiter.Consume(ctx, ratelimit.Key(t.ID, client, d.Endpoint), d.Policy)
	d.to(StateRateChecked)
	if !d.Rate.Allowed {
		d.to(StateBlockedRateLimited)
		return d
	}

	d.to(StateForwarded)
	return d
}

// Middleware gates next.
func (p *Pipeline) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := p.now()
		d := p.Evaluate(r)
		elapsed := p.now().Sub(start)

		metrics.GateDecisionsTotal.WithLabelValues(d.State.String()).Inc()
		metrics.GateDecisionSeconds.Observe(elapsed.Seconds())
		if ce := p.log.Check(zap.DebugLevel, "gate decision"); ce != nil {
			fields := []zap.Field{
				zap.String("host", d.Host),
				zap.String("state", d.State.String()),
				zap.Duration("took", elapsed),
			}
			if d.Tenant != nil {
				fields = append(fields, zap.String("tenant", d.Tenant.ID))
			}
			if d.Err != nil {
				fields = append(fields, zap.Error(d.Err))
			}
			ce.Write(fields...)
		}

		switch d.State {
		case StateTenantRejected:
			p.opts.NotFound.ServeHTTP(w, r)
		case StateBlockedSuspended:
			writeSuspended(w, d.Tenant)
		case StateBlockedRateLimited:
			writeRateHeaders(w, d.Rate)
			writeTooManyRequests(w, d.Rate, p.now())
		case StateForwarded:
			writeRateHeaders(w, d.Rate)
			forward(r, d)
			next.ServeHTTP(w, r.WithContext(tenant.WithTenant(r.Context(), d.Tenant)))
		default:
			// Unreachable: Evaluate always ends in a terminal state.
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	})
}

func (p *Pipeline) billingExempt(path string) bool {
	for _, prefix := range p.opts.BillingExempt {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (p *Pipeline) client(r *http.Request) (ip string, bot bool) {
	if info := requestinfo.FromContext(r.Context()); info != nil {
		return info.ClientIP, info.UA.IsBot
	}
	return requestinfo.ClientIP(r, p.opts.TrustProxy), false
}

// policy picks the endpoint policy for a matching route (longest prefix
// wins) and the tenant's page-traffic policy otherwise.
func (p *Pipeline) policy(ctx context.Context, r *http.Request, t *tenant.Tenant, bot bool) (ratelimit.Policy, string) {
	best := ""
	for prefix, name := range p.opts.Routes {
		if strings.HasPrefix(r.URL.Path, prefix) && len(prefix) > len(best) {
			if _, ok := p.limiter.Policies().Endpoint(name); ok {
				best = prefix
			}
		}
	}
	if best != "" {
		name := p.opts.Routes[best]
		pol, _ := p.limiter.Policies().Endpoint(name)
		return pol, name
	}
	return p.limiter.PolicyFor(ctx, t.ID, t.Tier, bot), ""
}
