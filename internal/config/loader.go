// internal/config/loader.go
//
// Configuration loader.
//
/*
Context
--------
`Load()` builds one immutable `Config` struct from three layers (highest
precedence last):

  1. Optional `.env` file at `<root>/conf/.env`.
  2. `conf/gate.yaml` (optional; defaults cover a local run).
  3. Environment variables prefixed `GATE_`, where `__` maps to "."
     (e.g., `GATE_HTTP__LISTEN_ADDR → http.listen_addr`).

Keys still missing are filled from `defaults`.  String values of the form
`vault:<mount>/<path>#<key>` are then swapped for the secret they name.
After that the tree is unmarshalled into strongly-typed structs,
validated, enriched with the runtime root path, and cached in an
`atomic.Pointer` for lock-free reads.

Instrumentation
---------------
  • DEBUG spans – root discovery, YAML read, env overlay.
  • ERROR spans – YAML parse, env overlay, secret, unmarshal, validation.
  • INFO  span  – final "config loaded" with key highlights.
  • Logs use the global *sugared* logger (`zap.S()`) so early boot issues
    surface even before the file logger is installed.

Notes
-----
  • `rootDir()` climbs the cwd tree until it finds `conf/gate.yaml`; this
    lets `go run ./cmd/gate` work from any sub-directory.
  • `GATE_LOCALHOST_ALIAS` is honoured as a shorthand for
    `GATE_TENANT__LOCALHOST_ALIAS`.
  • Oxford commas, two spaces after periods.
*/
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
	"go.uber.org/zap"
)

const vaultPrefix = "vault:"

// SecretSource resolves `vault:` references.  *vault.Client satisfies it.
type SecretSource interface {
	GetKV(ctx context.Context, secretPath, key string, ttl time.Duration) (string, error)
}

var current atomic.Pointer[Config]

/*──────────────────────────── root discovery ───────────────────────────────*/

// rootDir resolves GATE_ROOT or climbs directories until conf/gate.yaml
// is found.  Falls back to executable heuristic for production layout.
func rootDir() string {
	if r := os.Getenv("GATE_ROOT"); r != "" {
		return r
	}

	wd, _ := os.Getwd()
	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "conf", "gate.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir { // reached filesystem root
			break
		}
		dir = parent
	}

	exe, _ := os.Executable()
	if filepath.Base(filepath.Dir(exe)) == "bin" {
		return filepath.Dir(filepath.Dir(exe))
	}
	return wd
}

/*─────────────────────────────── loader ───────────────────────────────────*/

// Load reads .env, YAML, env overrides, resolves secrets, validates, and
// caches Config.  secrets may be nil when no value uses `vault:`.
func Load(ctx context.Context, secrets SecretSource) (*Config, error) {
	root := rootDir()
	zap.S().Debugw("config root resolved", "root", root)

	// .env (optional, no error if missing)
	_ = godotenv.Load(filepath.Join(root, "conf", ".env"))

	k := koanf.New(".")

	yamlPath := filepath.Join(root, "conf", "gate.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
			zap.S().Errorw("config yaml load failed", "file", yamlPath, "err", err)
			return nil, err
		}
		zap.S().Debugw("config yaml loaded", "file", yamlPath)
	}

	// Env overrides: GATE_HTTP__LISTEN_ADDR → http.listen_addr
	if err := k.Load(env.Provider("GATE_", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(s, "GATE_"), "__", "."))
	}), nil); err != nil {
		zap.S().Errorw("config env overlay failed", "err", err)
		return nil, err
	}
	if alias := os.Getenv("GATE_LOCALHOST_ALIAS"); alias != "" {
		_ = k.Set("tenant.localhost_alias", alias)
	}

	for key, val := range defaults {
		if !k.Exists(key) {
			_ = k.Set(key, val)
		}
	}

	if err := resolveSecrets(ctx, k, secrets); err != nil {
		zap.S().Errorw("config secret resolution failed", "err", err)
		return nil, err
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           &cfg,
			WeaklyTypedInput: true,
			TagName:          "koanf",
		},
	}); err != nil {
		zap.S().Errorw("config unmarshal failed", "err", err)
		return nil, err
	}

	cfg.Paths.Root = root
	if err := validateStruct(&cfg); err != nil {
		zap.S().Errorw("config validation failed", "err", err)
		return nil, err
	}

	current.Store(&cfg)
	zap.S().Infow("config loaded",
		"env", cfg.Env,
		"listen_addr", cfg.HTTP.ListenAddr,
		"admin_addr", cfg.HTTP.AdminAddr,
		"redis_mode", cfg.Redis.Mode,
		"root", cfg.Paths.Root,
	)
	return &cfg, nil
}

// resolveSecrets replaces every `vault:<path>#<key>` string in k.
func resolveSecrets(ctx context.Context, k *koanf.Koanf, secrets SecretSource) error {
	ttl, _ := time.ParseDuration(k.String("vault.cache_ttl"))
	for key, val := range k.All() {
		s, ok := val.(string)
		if !ok || !strings.HasPrefix(s, vaultPrefix) {
			continue
		}
		if secrets == nil {
			return fmt.Errorf("%s: vault reference but no vault client configured", key)
		}
		path, field, ok := strings.Cut(strings.TrimPrefix(s, vaultPrefix), "#")
		if !ok || path == "" || field == "" {
			return fmt.Errorf("%s: malformed vault reference %q", key, s)
		}
		secret, err := secrets.GetKV(ctx, path, field, ttl)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if err := k.Set(key, secret); err != nil {
			return err
		}
		zap.S().Debugw("config secret resolved", "key", key, "path", path)
	}
	return nil
}

// NeedsVault reports whether the local layers reference Vault.  main uses
// it to decide whether to dial Vault before Load.
func NeedsVault() bool {
	root := rootDir()
	if b, err := os.ReadFile(filepath.Join(root, "conf", "gate.yaml")); err == nil &&
		strings.Contains(string(b), vaultPrefix) {
		return true
	}
	for _, kv := range os.Environ() {
		name, val, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, "GATE_") && strings.HasPrefix(val, vaultPrefix) {
			return true
		}
	}
	return false
}

/*──────────────────────────── helpers ─────────────────────────────────────*/

// Get returns the last successfully loaded Config, or nil before Load.
func Get() *Config { return current.Load() }
