// internal/gate/respond.go
//
// Responses for terminal pipeline states.
//
// Context
// -------
// Blocked requests get a 402 page or a 429 JSON body.  Forwarded requests
// carry the tenant context downstream as X-Tenant-* headers, and every
// gated response carries X-RateLimit-* headers.
//
// Notes
// -----
//   - Client-supplied copies of gate-owned headers are always dropped.
package gate

import (
	"bytes"
	"encoding/json"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yanizio/tenantgate/internal/ratelimit"
	"github.com/yanizio/tenantgate/internal/requestinfo"
	"github.com/yanizio/tenantgate/internal/tenant"
)

// Headers the gate owns on forwarded requests.  Client-supplied copies are
// removed before the gate sets its own.
const (
	HeaderTenantID      = "X-Tenant-Id"
	HeaderTenantHost    = "X-Tenant-Host"
	HeaderTenantTier    = "X-Tenant-Tier"
	HeaderTenantConfig  = "X-Tenant-Config"
	HeaderBillingStatus = "X-Billing-Status"
	HeaderClientCountry = "X-Client-Country"
)

var suspendedPage = template.Must(template.New("suspended").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="robots" content="noindex">
<title>{{if .SiteName}}{{.SiteName}} is {{end}}temporarily unavailable</title>
</head>
<body>
<main>
<h1>{{if .SiteName}}{{.SiteName}} is {{else}}This site is {{end}}temporarily unavailable</h1>
<p>Please check back soon.{{if .Email}}  Questions?  Contact <a href="mailto:{{.Email}}">{{.Email}}</a>.{{end}}</p>
</main>
</body>
</html>
`))

// writeSuspended renders the same page for suspended, cancelled, and
// unverifiable tenants.
func writeSuspended(w http.ResponseWriter, t *tenant.Tenant) {
	data := struct{ SiteName, Email string }{}
	if t != nil {
		data.SiteName = t.Config.Identity.SiteName
		data.Email = t.Config.Identity.Contact.Email
	}
	var buf bytes.Buffer
	if err := suspendedPage.Execute(&buf, data); err != nil {
		http.Error(w, "Site temporarily unavailable", http.StatusPaymentRequired)
		return
	}
	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusPaymentRequired)
	_, _ = w.Write(buf.Bytes())
}

func writeRateHeaders(w http.ResponseWriter, res ratelimit.Result) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
}

func writeTooManyRequests(w http.ResponseWriter, res ratelimit.Result, now time.Time) {
	retry := int64(res.RetryAfter(now) / time.Second)
	h := w.Header()
	h.Set("Retry-After", strconv.FormatInt(retry, 10))
	h.Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "Too Many Requests",
		"message": "Rate limit exceeded.  Try again in " + strconv.FormatInt(retry, 10) + " seconds.",
	})
}

// forward strips client-supplied tenant headers from r and sets the
// gate's own.
func forward(r *http.Request, d Decision) {
	for k := range r.Header {
		if strings.HasPrefix(k, "X-Tenant-") {
			r.Header.Del(k)
		}
	}
	r.Header.Del(HeaderBillingStatus)
	r.Header.Del(HeaderClientCountry)

	t := d.Tenant
	r.Header.Set(HeaderTenantID, t.ID)
	r.Header.Set(HeaderTenantHost, d.Host)
	r.Header.Set(HeaderTenantTier, string(t.Tier))
	r.Header.Set(HeaderBillingStatus, string(d.Billing))
	if cfg := configHeader(t); cfg != "" {
		r.Header.Set(HeaderTenantConfig, cfg)
	}
	if country := countryOf(r); country != "" {
		r.Header.Set(HeaderClientCountry, country)
	}
}

// configHeader returns the tenant's raw config as single-line JSON.
func configHeader(t *tenant.Tenant) string {
	if len(t.RawConfig) > 0 {
		var buf bytes.Buffer
		if json.Compact(&buf, t.RawConfig) == nil {
			return buf.String()
		}
	}
	b, err := json.Marshal(t.Config)
	if err != nil {
		return ""
	}
	return string(b)
}

func countryOf(r *http.Request) string {
	if info := requestinfo.FromContext(r.Context()); info != nil {
		return info.Geo.CountryISO
	}
	return ""
}
