// internal/config/model.go
//
// Typed configuration model for the gate.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from three overlay layers:
//
//   • optional `.env`                        – dotenv values,
//   • `conf/gate.yaml`                       – primary static file,
//   • `GATE_`-prefixed environment overrides – highest precedence.
//
// Any value whose string begins with the prefix `vault:` is resolved
// through the Vault client *before* unmarshalling, so the model never
// stores Vault URIs, only plain strings.
//
// Validation happens immediately after unmarshal and defaulting; the app
// fails fast if required fields are missing.
//
// Notes
// -----
//   • Struct tags use `koanf:"…"`, not `yaml:"…"`.  Koanf ignores `yaml`
//     tags unless configured otherwise.
//   • Durations are written as Go duration strings ("300s", "1m").
//   • The `Paths` block is filled at runtime; YAML must not try to set it.
//   • Oxford commas, two spaces after periods.  No em-dash.

package config

import (
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

//
// HTTP section
//

// HTTP holds listener and edge-middleware tunables.
type HTTP struct {
	ListenAddr   string        `koanf:"listen_addr"    validate:"required,hostname_port"`
	AdminAddr    string        `koanf:"admin_addr"     validate:"required,hostname_port"`
	AdminToken   string        `koanf:"admin_token"`
	UpstreamURL  string        `koanf:"upstream_url"   validate:"omitempty,url"`
	ForceHTTPS   bool          `koanf:"force_https"`
	TrustProxy   bool          `koanf:"trust_proxy"`
	MaxBodyBytes int64         `koanf:"max_body_bytes" validate:"gte=0"`
	GeoIPPath    string        `koanf:"geoip_db"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	IdleTimeout  time.Duration `koanf:"idle_timeout"`
}

//
// Database section
//

// Database holds the directory DSN and its secret.
//
// The DSN (without password) is kept in YAML so operators can tweak host,
// port, or flags without touching Vault.  The password is stored in Vault
// and injected at runtime by DSNWithPassword.
type Database struct {
	DSN      string `koanf:"dsn"      validate:"required"`
	Password string `koanf:"password"`
	MaxOpen  int    `koanf:"max_open" validate:"gte=0"`
	MaxIdle  int    `koanf:"max_idle" validate:"gte=0"`
}

// DSNWithPassword parses DSN, sets the password when one is configured,
// and forces parseTime so DATETIME columns scan into time.Time.
func (d Database) DSNWithPassword() (string, error) {
	mc, err := mysql.ParseDSN(d.DSN)
	if err != nil {
		return "", fmt.Errorf("database.dsn: %w", err)
	}
	if d.Password != "" {
		mc.Passwd = d.Password
	}
	mc.ParseTime = true
	return mc.FormatDSN(), nil
}

//
// Redis section
//

// Redis configures the shared cache and counter store.
type Redis struct {
	Mode       string        `koanf:"mode"        validate:"oneof=single sentinel cluster"`
	Addrs      []string      `koanf:"addrs"       validate:"required,min=1,dive,hostname_port"`
	MasterName string        `koanf:"master_name" validate:"required_if=Mode sentinel"`
	Username   string        `koanf:"username"`
	Password   string        `koanf:"password"`
	DB         int           `koanf:"db"          validate:"gte=0"`
	Prefix     string        `koanf:"prefix"`
	OpTimeout  time.Duration `koanf:"op_timeout"`
}

//
// Tenant section
//

// Breaker tunes the directory circuit breaker.
type Breaker struct {
	FailureThreshold uint          `koanf:"failure_threshold"`
	Window           uint          `koanf:"window"`
	OpenFor          time.Duration `koanf:"open_for"`
}

// Tenant configures host resolution.
type Tenant struct {
	TTL                time.Duration `koanf:"ttl"`
	NegativeTTL        time.Duration `koanf:"negative_ttl"`
	StaleFactor        int           `koanf:"stale_factor" validate:"gte=0"`
	Coalesce           bool          `koanf:"coalesce"`
	LookupTimeout      time.Duration `koanf:"lookup_timeout"`
	LocalhostAlias     string        `koanf:"localhost_alias"`
	BaseDomains        []string      `koanf:"base_domains"`
	ReservedSubdomains []string      `koanf:"reserved_subdomains"`
	RejectedSuffixes   []string      `koanf:"rejected_suffixes"`
	Breaker            Breaker       `koanf:"breaker"`
}

//
// Billing section
//

// Billing configures the status gate.  ExemptPaths are path prefixes a
// suspended tenant may still reach.
type Billing struct {
	TTL         time.Duration `koanf:"ttl"`
	ExemptPaths []string      `koanf:"exempt_paths" validate:"dive,startswith=/"`
}

//
// Rate-limit section
//

// Policy is a limit per window.
type Policy struct {
	Limit  int64         `koanf:"limit"  validate:"gt=0"`
	Window time.Duration `koanf:"window" validate:"gte=1s"`
}

// RateLimit overrides the built-in policies.  Empty maps keep the
// defaults; entries replace or add policies by name.
type RateLimit struct {
	Tiers     map[string]Policy `koanf:"tiers"     validate:"dive"`
	Anonymous *Policy           `koanf:"anonymous"`
	Endpoints map[string]Policy `koanf:"endpoints" validate:"dive"`
	Routes    map[string]string `koanf:"routes"`
}

//
// Log and Vault sections
//

// Log selects the minimum level.
type Log struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error"`
}

// Vault controls secret resolution.
type Vault struct {
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

//
// Paths section (runtime only)
//

// Paths is resolved at runtime, never set in YAML or env.
type Paths struct {
	Root string // GATE_ROOT or discovered parent
}

//
// Root aggregate
//

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer for lock-free reads throughout the app lifetime.
type Config struct {
	Env       string    `koanf:"env" validate:"oneof=development production"`
	HTTP      HTTP      `koanf:"http"`
	Database  Database  `koanf:"database"`
	Redis     Redis     `koanf:"redis"`
	Tenant    Tenant    `koanf:"tenant"`
	Billing   Billing   `koanf:"billing"`
	RateLimit RateLimit `koanf:"ratelimit"`
	Log       Log       `koanf:"log"`
	Vault     Vault     `koanf:"vault"`
	Paths     Paths     `koanf:"-"` // not loaded from config files
}

// Production reports whether the gate runs with production hardening.
func (c *Config) Production() bool { return c.Env == "production" }
