// internal/tenant/meta/guarded.go
//
// Timeout and circuit-breaker guard for Directory.
//
// Context
// -------
// Every directory call sits on a request path with a hard latency budget.
// Guarded bounds each call with its own deadline and routes it through a
// failsafe-go circuit breaker.  After enough consecutive failures the
// breaker opens and calls fail immediately with circuitbreaker.ErrOpen;
// callers then apply their own failure policy (serve stale, fail closed)
// without waiting on a dead database.
//
// Notes
// -----
//   - ErrNotFound and ErrInvalidRecord are answers, not faults; they never
//     count against the breaker.
//   - One breaker guards all four operations because they share a pool.
package meta

import (
	"context"
	"errors"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"go.uber.org/zap"

	"github.com/yanizio/tenantgate/internal/metrics"
)

// GuardOptions tunes Guarded.  Zero fields take the defaults below.
type GuardOptions struct {
	Timeout          time.Duration // per call, default 800ms
	FailureThreshold uint          // failures within Window that open, default 5
	Window           uint          // executions considered, default 10
	OpenFor          time.Duration // delay before half-open, default 10s
}

func (o GuardOptions) withDefaults() GuardOptions {
	if o.Timeout <= 0 {
		o.Timeout = 800 * time.Millisecond
	}
	if o.Window == 0 {
		o.Window = 10
	}
	if o.FailureThreshold == 0 || o.FailureThreshold > o.Window {
		o.FailureThreshold = o.Window / 2
		if o.FailureThreshold == 0 {
			o.FailureThreshold = 1
		}
	}
	if o.OpenFor <= 0 {
		o.OpenFor = 10 * time.Second
	}
	return o
}

// Guarded decorates a Directory.
type Guarded struct {
	next    Directory
	timeout time.Duration
	exec    failsafe.Executor[any]
	cb      circuitbreaker.CircuitBreaker[any]
}

// NewGuarded wraps next.  log may be nil.
func NewGuarded(next Directory, opts GuardOptions, log *zap.Logger) *Guarded {
	opts = opts.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}

	cb := circuitbreaker.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool { return isFault(err) }).
		WithFailureThresholdRatio(opts.FailureThreshold, opts.Window).
		WithDelay(opts.OpenFor).
		WithSuccessThreshold(1).
		OnStateChanged(func(ev circuitbreaker.StateChangedEvent) {
			log.Warn("directory breaker state change",
				zap.String("from", stateName(ev.OldState)),
				zap.String("to", stateName(ev.NewState)))
			open := 0.0
			if ev.NewState == circuitbreaker.OpenState {
				open = 1
			}
			metrics.DirectoryBreakerOpen.Set(open)
		}).
		Build()

	return &Guarded{
		next:    next,
		timeout: opts.Timeout,
		exec:    failsafe.With[any](cb),
		cb:      cb,
	}
}

// Open reports whether the breaker is currently rejecting calls.
func (g *Guarded) Open() bool { return g.cb.IsOpen() }

func (g *Guarded) run(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.exec.WithContext(ctx).Get(func() (any, error) { return fn(ctx) })
}

// FindByHost implements Directory.
func (g *Guarded) FindByHost(ctx context.Context, host string) (*Record, error) {
	v, err := g.run(ctx, func(ctx context.Context) (any, error) {
		return g.next.FindByHost(ctx, host)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Record), nil
}

// Status implements Directory.
func (g *Guarded) Status(ctx context.Context, tenantID string) (Status, error) {
	v, err := g.run(ctx, func(ctx context.Context) (any, error) {
		return g.next.Status(ctx, tenantID)
	})
	if err != nil {
		return "", err
	}
	return v.(Status), nil
}

// SetStatus implements Directory.
func (g *Guarded) SetStatus(ctx context.Context, tenantID string, s Status) error {
	_, err := g.run(ctx, func(ctx context.Context) (any, error) {
		return nil, g.next.SetStatus(ctx, tenantID, s)
	})
	return err
}

// HostsByTenant implements Directory.
func (g *Guarded) HostsByTenant(ctx context.Context, tenantID string) ([]string, error) {
	v, err := g.run(ctx, func(ctx context.Context) (any, error) {
		return g.next.HostsByTenant(ctx, tenantID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func isFault(err error) bool {
	return err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrInvalidRecord)
}

func stateName(s circuitbreaker.State) string {
	switch s {
	case circuitbreaker.OpenState:
		return "open"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	default:
		return "closed"
	}
}
