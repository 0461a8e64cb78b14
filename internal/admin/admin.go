// internal/admin/admin.go
//
// Operator and webhook API.
//
// Context
// -------
// A small chi router served on the admin listener, never on the public
// one:
//
//   - PUT    /tenants/{id}/billing          billing webhook → billing.Gate.Update
//   - GET    /tenants/{id}/billing/events   recent billing events
//   - DELETE /tenants/{id}/cache            purge host and billing entries
//   - GET    /tenants/{id}/ratelimit        current override, if any
//   - PUT    /tenants/{id}/ratelimit        set an override
//   - DELETE /tenants/{id}/ratelimit        clear the override
//   - GET    /healthz                       store connectivity
//   - GET    /metrics                       Prometheus
//
// Every /tenants route requires `Authorization: Bearer <token>`.
//
// Notes
// -----
//   - Errors are JSON `{"error": "..."}`; infrastructure detail stays in
//     the log.
//   - Oxford commas, two spaces after periods.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/yanizio/tenantgate/internal/billing"
	"github.com/yanizio/tenantgate/internal/ratelimit"
	"github.com/yanizio/tenantgate/internal/tenant/meta"
)

// Billing is satisfied by *billing.Gate.
type Billing interface {
	Update(ctx context.Context, tenantID string, s meta.Status) error
	Events(ctx context.Context, tenantID string) ([]billing.Event, error)
	Invalidate(ctx context.Context, tenantID string) error
}

// Tenants is satisfied by *tenant.Resolver.
type Tenants interface {
	InvalidateTenant(ctx context.Context, tenantID string) ([]string, error)
}

// Limits is satisfied by *ratelimit.Limiter.
type Limits interface {
	SetOverride(ctx context.Context, tenantID string, p ratelimit.Policy, ttl time.Duration) error
	ClearOverride(ctx context.Context, tenantID string) error
	Override(ctx context.Context, tenantID string) (ratelimit.Policy, bool, error)
}

// Check is one named health probe.
type Check func(ctx context.Context) error

// Deps groups the collaborators of the admin API.
type Deps struct {
	Billing Billing
	Tenants Tenants
	Limits  Limits
	Checks  map[string]Check
	Token   string
	Log     *zap.Logger
}

type api struct{ Deps }

// Router builds the admin handler.  An empty token disables every
// /tenants route.
func Router(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	a := &api{d}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/healthz", a.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/tenants/{id}", func(r chi.Router) {
		r.Use(a.auth)
		r.Put("/billing", a.updateBilling)
		r.Get("/billing/events", a.billingEvents)
		r.Delete("/cache", a.invalidate)
		r.Get("/ratelimit", a.getOverride)
		r.Put("/ratelimit", a.setOverride)
		r.Delete("/ratelimit", a.clearOverride)
	})
	return r
}

func (a *api) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if a.Token == "" || !ok || subtle.ConstantTimeCompare([]byte(got), []byte(a.Token)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

//
// billing
//

type billingBody struct {
	Status meta.Status `json:"status"`
}

func (a *api) updateBilling(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body billingBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}

	err := a.Billing.Update(r.Context(), id, body.Status)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, billing.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "invalid status")
	case errors.Is(err, meta.ErrNotFound):
		writeError(w, http.StatusNotFound, "tenant not found")
	default:
		a.Log.Error("billing update failed", zap.String("tenant", id), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "update failed, retry")
	}
}

func (a *api) billingEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	evs, err := a.Billing.Events(r.Context(), id)
	if err != nil {
		a.Log.Error("billing events failed", zap.String("tenant", id), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "events unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenant": id, "events": evs})
}

//
// cache
//

func (a *api) invalidate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	hosts, err := a.Tenants.InvalidateTenant(r.Context(), id)
	if err == nil {
		err = a.Billing.Invalidate(r.Context(), id)
	}
	if err != nil {
		a.Log.Error("cache invalidation failed", zap.String("tenant", id), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "invalidation failed, retry")
		return
	}
	if hosts == nil {
		hosts = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenant": id, "hosts": hosts})
}

//
// rate-limit overrides
//

type overrideBody struct {
	Limit  int64  `json:"limit"`
	Window string `json:"window"`
	TTL    string `json:"ttl,omitempty"`
}

func (a *api) getOverride(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, ok, err := a.Limits.Override(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "override unavailable")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no override")
		return
	}
	writeJSON(w, http.StatusOK, overrideBody{Limit: p.Limit, Window: p.Window.String()})
}

func (a *api) setOverride(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body overrideBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	window, err := time.ParseDuration(body.Window)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid window")
		return
	}
	var ttl time.Duration
	if body.TTL != "" {
		if ttl, err = time.ParseDuration(body.TTL); err != nil || ttl <= 0 {
			writeError(w, http.StatusBadRequest, "invalid ttl")
			return
		}
	}

	err = a.Limits.SetOverride(r.Context(), id, ratelimit.Policy{Limit: body.Limit, Window: window}, ttl)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, ratelimit.ErrInvalidPolicy):
		writeError(w, http.StatusBadRequest, "invalid policy")
	default:
		a.Log.Error("rate-limit override failed", zap.String("tenant", id), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "override failed, retry")
	}
}

func (a *api) clearOverride(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.Limits.ClearOverride(r.Context(), id); err != nil {
		a.Log.Error("rate-limit override clear failed", zap.String("tenant", id), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "clear failed, retry")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

//
// health
//

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(a.Checks))
	for name, check := range a.Checks {
		if err := check(ctx); err != nil {
			a.Log.Warn("health check failed", zap.String("check", name), zap.Error(err))
			checks[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": overall, "checks": checks})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
