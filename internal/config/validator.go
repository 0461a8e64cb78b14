// internal/config/validator.go
//
// Thin wrapper around go-playground/validator.
//
// Context
// -------
// `internal/config/loader.go` calls `validateStruct` immediately after it
// unmarshals the merged Koanf tree into a `Config` instance.  Any tag
// mismatch or validation error aborts startup, ensuring the gate never
// runs with partial, malformed, or missing configuration.
//
// Field rules live on the struct tags in model.go.  Rules that span
// several fields are registered here as struct-level validations.
//
// Notes
// -----
//   • Oxford commas, two spaces after periods.
//   • Section dividers use the simple comment style requested.

package config

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

//
// validator instance (package-level singleton)
//

var v = newValidator()

func newValidator() *validator.Validate {
	val := validator.New()
	val.RegisterStructValidation(validateTenant, Tenant{})
	val.RegisterStructValidation(validateRedis, Redis{})
	val.RegisterStructValidation(validateRateLimit, RateLimit{})
	return val
}

//
// struct-level rules
//

// validateTenant requires positive cache lifetimes and a negative TTL no
// longer than the positive one.
func validateTenant(sl validator.StructLevel) {
	t := sl.Current().Interface().(Tenant)
	if t.TTL <= 0 {
		sl.ReportError(t.TTL, "TTL", "ttl", "gt", "0")
	}
	if t.NegativeTTL <= 0 || t.NegativeTTL > t.TTL {
		sl.ReportError(t.NegativeTTL, "NegativeTTL", "negative_ttl", "ltefield", "TTL")
	}
	if t.StaleFactor < 1 {
		sl.ReportError(t.StaleFactor, "StaleFactor", "stale_factor", "gte", "1")
	}
}

// validateRedis rejects a cluster with a single seed.
func validateRedis(sl validator.StructLevel) {
	r := sl.Current().Interface().(Redis)
	if r.Mode == "cluster" && len(r.Addrs) < 2 {
		sl.ReportError(r.Addrs, "Addrs", "addrs", "min", "2")
	}
}

// validateRateLimit checks that every route prefix is absolute.
func validateRateLimit(sl validator.StructLevel) {
	rl := sl.Current().Interface().(RateLimit)
	for prefix, endpoint := range rl.Routes {
		if !strings.HasPrefix(prefix, "/") || endpoint == "" {
			sl.ReportError(rl.Routes, "Routes", "routes", "route", prefix)
		}
	}
}

//
// public API
//

// validateStruct returns the first validation error, or nil on success.
func validateStruct(c *Config) error {
	return v.Struct(c)
}
