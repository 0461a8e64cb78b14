//
//  internal/requestinfo/requestinfo.go
//
//  Lightweight types and helpers that collect per-request metadata
//  (client IP, user-agent class, and GeoIP country).  These structs are
//  inert.  They contain no pointers to database handles or large
//  buffers, so they are safe to log or JSON-encode.
//
//  Dependencies
//  • github.com/avct/uasurfer          (UA parsing, bot detection)
//  • github.com/oschwald/geoip2-golang (MaxMind lookup, optional)
//

package requestinfo

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/avct/uasurfer"
	"github.com/oschwald/geoip2-golang"
)

//
//  -----------------------------
//  Struct definitions
//  -----------------------------
//

// UA holds the parsed user-agent properties the gate cares about.
type UA struct {
	Browser string // "Chrome", "Firefox", "Safari", etc.
	Version string // "124.0.6367"
	OS      string // "macOS", "Windows", "Android", "iOS", etc.
	Device  string // "Desktop", "Phone", "Tablet", "TV", ...
	IsBot   bool   // crawler signature; selects the anonymous rate limit
}

// Geo holds IP-based geolocation hints.  Best-effort; empty when no
// database is configured or the address has no match.
type Geo struct {
	CountryISO string // "US", "CA", "FR", ...
	City       string
}

// RequestInfo is stored in the request context by Enricher.
type RequestInfo struct {
	ClientIP  string // rate-limit dimension; never empty
	UA        UA
	Geo       Geo
	Timestamp time.Time
}

//
//  -----------------------------
//  GeoIP
//  -----------------------------
//

// OpenGeo opens a GeoLite2/GeoIP2 City database.  The reader is safe for
// concurrent lookups; main owns it and closes it on shutdown.
func OpenGeo(dbPath string) (*geoip2.Reader, error) {
	r, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("requestinfo: open GeoIP db %s: %w", dbPath, err)
	}
	return r, nil
}

//
//  -----------------------------
//  Public helper: FromContext
//  -----------------------------
//

type ctxKey struct{} // unexported, collision-proof

// FromContext returns the pointer previously stored by Enricher.
// It returns nil if the middleware has not run.
func FromContext(ctx context.Context) *RequestInfo {
	v, _ := ctx.Value(ctxKey{}).(*RequestInfo)
	return v
}

// WithInfo stores info in ctx.  Tests use it to skip the middleware.
func WithInfo(ctx context.Context, info *RequestInfo) context.Context {
	return context.WithValue(ctx, ctxKey{}, info)
}

//
//  -----------------------------
//  Internal helpers
//  -----------------------------
//

// parseUA converts a raw header into our UA struct using uasurfer.
func parseUA(uaHeader string) UA {
	if uaHeader == "" {
		return UA{Browser: "Unknown", OS: "Unknown", Device: "Unknown"}
	}
	u := uasurfer.Parse(uaHeader)

	osName := strings.TrimPrefix(u.OS.Name.String(), "OS")
	if osName == "MacOSX" {
		osName = "macOS"
	}

	return UA{
		Browser: strings.TrimPrefix(u.Browser.Name.String(), "Browser"),
		Version: trimVersion(u.Browser.Version),
		OS:      osName,
		Device:  deviceTypeToString(u.DeviceType),
		IsBot:   u.IsBot(),
	}
}

// trimVersion builds "major.minor.patch" and removes trailing ".0".
func trimVersion(v uasurfer.Version) string {
	out := strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor) + "." + strconv.Itoa(v.Patch)
	for strings.HasSuffix(out, ".0") {
		out = strings.TrimSuffix(out, ".0")
	}
	return out
}

// deviceTypeToString maps uasurfer.DeviceType to a user-friendly string.
func deviceTypeToString(dt uasurfer.DeviceType) string {
	switch dt {
	case uasurfer.DeviceComputer:
		return "Desktop"
	case uasurfer.DevicePhone:
		return "Phone"
	case uasurfer.DeviceTablet:
		return "Tablet"
	case uasurfer.DeviceConsole:
		return "Console"
	case uasurfer.DeviceWearable:
		return "Wearable"
	case uasurfer.DeviceTV:
		return "TV"
	default:
		return "Unknown"
	}
}

// lookupGeo returns best-effort Geo data.
func lookupGeo(r *geoip2.Reader, ip net.IP) Geo {
	if r == nil || ip == nil {
		return Geo{}
	}
	rec, err := r.City(ip)
	if err != nil {
		return Geo{}
	}
	return Geo{CountryISO: rec.Country.IsoCode, City: rec.City.Names["en"]}
}
