// internal/vault/vault.go
//
// Vault client wrapper for the gate.
//
// Context
// -------
//   - Provides a concurrency‑safe client around the HashiCorp Vault Go SDK.
//   - Adds background token renewal, simple KV‑v2 helpers, and per‑key caching.
//   - Satisfies config.SecretSource, so `vault:<mount>/<path>#<key>` values
//     in gate.yaml or GATE_ env vars resolve through it at boot.
//   - Header block, section underlines, Oxford commas, two spaces after
//     periods, no m‑dash.
//
// Public workflow
// ---------------
//  1. cli, err := vault.New(ctx, log)              // during boot.
//  2. pw,  err := cli.GetKV(ctx, path, key, ttl)   // anywhere in the app.
//
// Build tags: none.
package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"
)

//
// SECTION 1.  Public façade
//

// Client is safe for concurrent use.  Create once at startup and inject it
// where secrets are needed.  Zero value is invalid.
type Client struct {
	api *vault.Client
	log *zap.Logger

	cacheMu sync.RWMutex
	cache   map[string]cached // canonical path#key → value + expiry.
}

type cached struct {
	val string
	exp time.Time
}

// Enabled reports whether VAULT_ADDR is set.  The gate runs without Vault
// when every secret is supplied in plain configuration.
func Enabled() bool { return os.Getenv("VAULT_ADDR") != "" }

// New constructs a Vault client from the environment and starts a
// background token‑renewal loop bound to ctx.
//
// Environment expectations
// ------------------------
// • VAULT_ADDR   – scheme and host of the Vault server.
// • VAULT_TOKEN  – initial token (falls back to ~/.vault‑token).
func New(ctx context.Context, log *zap.Logger) (*Client, error) {
	cfg := vault.DefaultConfig()
	if err := cfg.ReadEnvironment(); err != nil {
		return nil, fmt.Errorf("vault env cfg: %w", err)
	}
	return NewWithConfig(ctx, cfg, os.Getenv("VAULT_TOKEN"), log)
}

// NewWithConfig is New with an explicit SDK config and token.
func NewWithConfig(ctx context.Context, cfg *vault.Config, token string, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}

	apiCli, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault api: %w", err)
	}
	if token != "" {
		apiCli.SetToken(token)
	}

	c := &Client{
		api:   apiCli,
		log:   log.Named("vault"),
		cache: make(map[string]cached),
	}

	go c.renewLoop(ctx)

	return c, nil
}

// GetKV fetches a single key from a KV‑v2 secret.  If ttl > 0 the result is
// cached for that duration.  Subsequent callers within the TTL receive the
// cached copy.
func (c *Client) GetKV(ctx context.Context, secretPath, key string, ttl time.Duration) (string, error) {
	if secretPath == "" || key == "" {
		return "", errors.New("secret path and key must be non‑empty")
	}

	canonical := secretPath + "#" + key

	if ttl > 0 {
		c.cacheMu.RLock()
		if cv, ok := c.cache[canonical]; ok && time.Now().Before(cv.exp) {
			c.cacheMu.RUnlock()
			return cv.val, nil
		}
		c.cacheMu.RUnlock()
	}

	mount, rel := splitMount(secretPath)
	sec, err := c.api.KVv2(mount).Get(ctx, rel)
	if err != nil {
		return "", fmt.Errorf("vault get %s: %w", secretPath, err)
	}

	raw, ok := sec.Data[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in secret %q", key, secretPath)
	}

	sval, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("value at %s#%s is not a string", secretPath, key)
	}

	if ttl > 0 {
		c.cacheMu.Lock()
		c.cache[canonical] = cached{val: sval, exp: time.Now().Add(ttl)}
		c.cacheMu.Unlock()
	}

	c.log.Debug("secret fetched", zap.String("path", secretPath), zap.String("key", key))
	return sval, nil
}

//
// SECTION 2.  Background token renewal
//

func (c *Client) renewLoop(ctx context.Context) {
	for ctx.Err() == nil {
		c.renewOnce(ctx)
	}
}

// renewOnce probes the token and, when renewable, runs a lifetime watcher
// until it stops or ctx ends.
func (c *Client) renewOnce(ctx context.Context) {
	sec, err := c.api.Auth().Token().RenewSelfWithContext(ctx, 0)
	if err != nil {
		c.log.Warn("token renew self failed", zap.Error(err))
		backoff(ctx, 30*time.Second)
		return
	}

	if sec == nil || sec.Auth == nil || !sec.Auth.Renewable {
		c.log.Info("token is not renewable, sleeping 1h")
		backoff(ctx, time.Hour)
		return
	}

	watcher, err := c.api.NewLifetimeWatcher(&vault.LifetimeWatcherInput{
		Secret: sec,
		Grace:  15 * time.Second,
	})
	if err != nil {
		c.log.Warn("lifetime watcher init failed", zap.Error(err))
		backoff(ctx, 30*time.Second)
		return
	}

	go watcher.Start()
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-watcher.DoneCh():
			if err != nil {
				c.log.Warn("token renewal stopped", zap.Error(err))
			}
			backoff(ctx, 15*time.Second)
			return
		case ev := <-watcher.RenewCh():
			if ev != nil && ev.Secret != nil && ev.Secret.Auth != nil {
				c.log.Debug("token renewed", zap.Int("ttl_seconds", ev.Secret.Auth.LeaseDuration))
			}
		}
	}
}

//
// SECTION 3.  Helpers
//

func splitMount(p string) (mount, rel string) {
	if p == "" {
		return "", ""
	}
	parts := strings.SplitN(p, "/", 2)
	mount = parts[0]
	if len(parts) == 2 {
		rel = parts[1]
	}
	return
}

func backoff(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
