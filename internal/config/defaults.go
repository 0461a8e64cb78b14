// internal/config/defaults.go
//
// Fallback values for keys no layer sets.
package config

// defaults fills keys absent from every layer.  Applied with k.Set so
// the value still flows through unmarshal and validation.
var defaults = map[string]any{
	"env":                 "production",
	"http.listen_addr":    ":8080",
	"http.admin_addr":     "127.0.0.1:9090",
	"http.max_body_bytes": int64(1 << 20),
	"http.read_timeout":   "10s",
	"http.write_timeout":  "30s",
	"http.idle_timeout":   "60s",

	"database.max_open": 15,
	"database.max_idle": 5,

	"redis.mode":       "single",
	"redis.addrs":      []string{"127.0.0.1:6379"},
	"redis.op_timeout": "1s",

	"tenant.ttl":            "300s",
	"tenant.negative_ttl":   "30s",
	"tenant.stale_factor":   10,
	"tenant.coalesce":       true,
	"tenant.lookup_timeout": "800ms",

	"billing.ttl": "60s",

	"log.level": "info",

	"vault.cache_ttl": "5m",
}
