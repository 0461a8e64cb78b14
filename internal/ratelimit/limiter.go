// internal/ratelimit/limiter.go
//
// Fixed-window rate limiter on the shared counter store.
//
// Context
// -------
// Consume performs one atomic increment-and-read against the store
// (kv.Store.IncrementWithWindow, a single Lua script).  The window starts
// at the first increment for a key and lasts Policy.Window; a request is
// admitted while the post-increment count is within the limit.  Because
// the increment and the comparison input come from one script execution,
// N concurrent callers against capacity C admit exactly C.
//
// Failure policy is fail-open: when the store cannot be reached the
// request is admitted with Degraded set and a warning is logged.
//
// Notes
// -----
//   - Counter keys are `rl:<policy>:<key>`; Key builds the `<key>` part.
//   - Rejected requests still increment; a client hammering a closed
//     window does not extend it.
package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/tenantgate/internal/kv"
	"github.com/yanizio/tenantgate/internal/metrics"
)

// FailurePolicy values.
type FailurePolicy string

// PolicyFailOpen admits requests while the counter store is unavailable.
const PolicyFailOpen FailurePolicy = "fail-open"

// Result is the outcome of one Consume.
type Result struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
	Degraded  bool // store unavailable, admitted by policy
}

// RetryAfter returns the wait until the window resets, rounded up to a
// whole second and never less than one.
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetAt.Sub(now)
	if d < time.Second {
		return time.Second
	}
	return ((d + time.Second - 1) / time.Second) * time.Second
}

// Limiter is safe for concurrent use.
type Limiter struct {
	store    kv.Store
	policies Policies
	log      *zap.Logger
	now      func() time.Time
}

// New wires a Limiter.  log may be nil.
func New(store kv.Store, policies Policies, log *zap.Logger) *Limiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Limiter{store: store, policies: policies, log: log, now: time.Now}
}

// FailurePolicy reports the store-failure policy.
func (l *Limiter) FailurePolicy() FailurePolicy { return PolicyFailOpen }

// Policies returns the configured policy set.
func (l *Limiter) Policies() Policies { return l.policies }

// Consume counts one hit for key under p.
func (l *Limiter) Consume(ctx context.Context, key string, p Policy) Result {
	now := l.now()
	if err := p.Validate(); err != nil {
		l.log.Error("rate limit skipped", zap.String("key", key), zap.Error(err))
		metrics.RateLimitTotal.WithLabelValues("degraded").Inc()
		return Result{Allowed: true, Limit: p.Limit, Remaining: p.Limit, ResetAt: now.Add(p.Window), Degraded: true}
	}

	c, err := l.store.IncrementWithWindow(ctx, "rl:"+p.Name+":"+key, p.Window)
	if err != nil {
		l.log.Warn("rate limit store unavailable, allowing request",
			zap.String("key", key), zap.String("policy", p.Name), zap.Error(err))
		metrics.RateLimitTotal.WithLabelValues("degraded").Inc()
		return Result{Allowed: true, Limit: p.Limit, Remaining: p.Limit, ResetAt: now.Add(p.Window), Degraded: true}
	}

	res := Result{
		Allowed:   c.Count <= p.Limit,
		Limit:     p.Limit,
		Remaining: max(p.Limit-c.Count, 0),
		ResetAt:   now.Add(c.TTL),
	}
	if res.Allowed {
		metrics.RateLimitTotal.WithLabelValues("allowed").Inc()
	} else {
		metrics.RateLimitTotal.WithLabelValues("limited").Inc()
	}
	return res
}

// Key builds the client dimension of a counter key:
// `<tenant>:<client>` or `<tenant>:<client>:<endpoint>`.
func Key(tenantID, client, endpoint string) string {
	if endpoint == "" {
		return tenantID + ":" + client
	}
	return tenantID + ":" + client + ":" + endpoint
}
