// cmd/gate/main.go
//
// Tenant gate – HTTP entry point.
//
// Boot sequence
// -------------
//
//  1. Dial Vault when VAULT_ADDR is set or the configuration holds
//     `vault:` references.
//
//  2. Load configuration (conf/.env → conf/gate.yaml → GATE_* env).
//
//  3. Start daily rotating logger (tees to console when running in a TTY).
//
//  4. Open the tenant directory DB and wrap it in the circuit breaker.
//
//  5. Connect Redis and build the resolver, billing gate, and limiter.
//
//  6. Serve two listeners:
//
//     • public  – edge middleware → gate pipeline → upstream proxy
//     • admin   – /healthz, /metrics, and the bearer-protected tenant API
//
//  7. On SIGINT or SIGTERM drain both listeners and exit.
//
// Large comment blocks are framed by blank “//” lines; inline comments use
// a single “//”.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yanizio/tenantgate/internal/admin"
	"github.com/yanizio/tenantgate/internal/billing"
	"github.com/yanizio/tenantgate/internal/config"
	"github.com/yanizio/tenantgate/internal/database"
	"github.com/yanizio/tenantgate/internal/gate"
	"github.com/yanizio/tenantgate/internal/kv"
	"github.com/yanizio/tenantgate/internal/logger"
	"github.com/yanizio/tenantgate/internal/middleware"
	"github.com/yanizio/tenantgate/internal/ratelimit"
	"github.com/yanizio/tenantgate/internal/requestinfo"
	"github.com/yanizio/tenantgate/internal/server"
	"github.com/yanizio/tenantgate/internal/tenant"
	"github.com/yanizio/tenantgate/internal/tenant/meta"
	"github.com/yanizio/tenantgate/internal/vault"
)

const shutdownGrace = 15 * time.Second

// runningInTTY returns true when stdout is a character device.
func runningInTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("gate: %v", err)
	}
}

func run(ctx context.Context) error {
	// Boot logger until the configured one is ready.
	boot, err := zap.NewProduction()
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(boot)

	//
	// ── 1.  Vault and configuration ─────────────────────────────────────
	//
	var secrets config.SecretSource
	if vault.Enabled() || config.NeedsVault() {
		vc, err := vault.New(ctx, boot)
		if err != nil {
			return err
		}
		secrets = vc
	}

	cfg, err := config.Load(ctx, secrets)
	if err != nil {
		return err
	}

	logOut, err := logger.New(cfg.Paths.Root, runningInTTY(), cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = logOut.Sync() }()

	//
	// ── 2.  Tenant directory ────────────────────────────────────────────
	//
	dsn, err := cfg.Database.DSNWithPassword()
	if err != nil {
		return err
	}
	logOut.Info("connecting to directory DB")
	db, err := database.OpenWithOptions(ctx, dsn, database.Options{
		MaxOpen: cfg.Database.MaxOpen,
		MaxIdle: cfg.Database.MaxIdle,
	})
	if err != nil {
		return err
	}
	defer db.Close()
	logOut.Info("directory DB online")

	dir := meta.NewGuarded(meta.NewSQLDirectory(db), meta.GuardOptions{
		Timeout:          cfg.Tenant.LookupTimeout,
		FailureThreshold: cfg.Tenant.Breaker.FailureThreshold,
		Window:           cfg.Tenant.Breaker.Window,
		OpenFor:          cfg.Tenant.Breaker.OpenFor,
	}, logOut.Named("directory"))

	//
	// ── 3.  Shared store and gate components ────────────────────────────
	//
	client, err := kv.NewClient(ctx, kv.ClientConfig{
		Mode:         kv.Mode(cfg.Redis.Mode),
		Addrs:        cfg.Redis.Addrs,
		MasterName:   cfg.Redis.MasterName,
		Username:     cfg.Redis.Username,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.OpTimeout,
		ReadTimeout:  cfg.Redis.OpTimeout,
		WriteTimeout: cfg.Redis.OpTimeout,
	})
	if err != nil {
		return err
	}
	defer client.Close()
	store := kv.NewRedisStore(client, cfg.Redis.Prefix, cfg.Redis.OpTimeout)
	logOut.Info("redis online", zap.String("mode", cfg.Redis.Mode), zap.Strings("addrs", cfg.Redis.Addrs))

	rules := tenant.NewHostRules(
		orNil(cfg.Tenant.BaseDomains),
		orNil(cfg.Tenant.ReservedSubdomains),
		orNil(cfg.Tenant.RejectedSuffixes),
		cfg.Tenant.LocalhostAlias,
	)
	resolver := tenant.NewResolver(store, dir, rules, tenant.Options{
		TTL:         cfg.Tenant.TTL,
		NegativeTTL: cfg.Tenant.NegativeTTL,
		StaleFactor: cfg.Tenant.StaleFactor,
		Coalesce:    cfg.Tenant.Coalesce,
	}, logOut.Named("tenant"))

	bill := billing.New(store, dir, cfg.Billing.TTL, logOut.Named("billing"))

	policies, err := cfg.RateLimit.Policies(ratelimit.DefaultPolicies())
	if err != nil {
		return err
	}
	limiter := ratelimit.New(store, policies, logOut.Named("ratelimit"))

	pipeline := gate.New(resolver, bill, limiter, gate.Options{
		Routes:        cfg.RateLimit.Routes,
		TrustProxy:    cfg.HTTP.TrustProxy,
		BillingExempt: cfg.Billing.ExemptPaths,
	}, logOut.Named("gate"))

	//
	// ── 4.  Public handler ──────────────────────────────────────────────
	//
	upstream, err := upstreamHandler(cfg.HTTP.UpstreamURL, logOut)
	if err != nil {
		return err
	}

	var geo *geoip2.Reader
	if cfg.HTTP.GeoIPPath != "" {
		geo, err = requestinfo.OpenGeo(cfg.HTTP.GeoIPPath)
		if err != nil {
			return err
		}
		defer geo.Close()
	}

	public := chi.NewRouter()
	public.Use(middleware.Correlate, chimw.Recoverer)
	if cfg.HTTP.ForceHTTPS {
		public.Use(middleware.ForceHTTPS(cfg.HTTP.TrustProxy))
	}
	public.Use(
		middleware.BodyLimit(cfg.HTTP.MaxBodyBytes),
		middleware.Security(cfg.Production()),
		requestinfo.NewEnricher(geo, cfg.HTTP.TrustProxy, logOut.Named("requestinfo")).Middleware,
		middleware.ServerTiming,
		pipeline.Middleware,
	)
	public.Handle("/*", upstream)

	//
	// ── 5.  Admin handler ───────────────────────────────────────────────
	//
	adminHandler := admin.Router(admin.Deps{
		Billing: bill,
		Tenants: resolver,
		Limits:  limiter,
		Checks: map[string]admin.Check{
			"redis": store.Ping,
			"mysql": db.PingContext,
		},
		Token: cfg.HTTP.AdminToken,
		Log:   logOut.Named("admin"),
	})

	//
	// ── 6.  Serve until signalled ───────────────────────────────────────
	//
	timeouts := server.Timeouts{
		Read:  cfg.HTTP.ReadTimeout,
		Write: cfg.HTTP.WriteTimeout,
		Idle:  cfg.HTTP.IdleTimeout,
	}
	servers := []*http.Server{
		server.New(cfg.HTTP.ListenAddr, public, timeouts),
		server.New(cfg.HTTP.AdminAddr, adminHandler, timeouts),
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			logOut.Info("listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logOut.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(sctx))
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

// upstreamHandler proxies admitted requests to rawURL, keeping the
// original Host so the upstream sees the tenant domain.  Without an
// upstream the gate answers 204 for admitted requests.
func upstreamHandler(rawURL string, log *zap.Logger) (http.Handler, error) {
	if rawURL == "" {
		log.Warn("no upstream configured, admitted requests get 204")
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}), nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	proxy := httputil.NewSingleHostReverseProxy(u)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Error("upstream error",
			zap.String("host", r.Host),
			zap.String("path", r.URL.Path),
			zap.String("correlation_id", middleware.CorrelationID(r.Context())),
			zap.Error(err))
		w.WriteHeader(http.StatusBadGateway)
	}
	return proxy, nil
}

// orNil maps an empty list to nil so the built-in host rules apply.
func orNil(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
