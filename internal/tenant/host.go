// internal/tenant/host.go
//
// Host normalisation and the reserved-host check.
//
// Context
// -------
// Every request starts with a raw Host header (or, from admin tools, a
// pasted URL).  HostRules turns it into the canonical key used for cache
// and directory lookups, and answers whether that key belongs to the
// platform itself rather than to a tenant:
//
//   - `Normalize` - strip scheme, userinfo, path, and trailing dot,
//     lower-case, and drop the port unless the host is local.
//
//   - `Rejected`  - static set check against the platform's base domains,
//     their reserved subdomains, and preview-deployment suffixes.
//
// Notes
// -----
//   - Ports are kept for `localhost`, `*.localhost`, and loopback IPs so
//     two dev servers on one machine stay distinguishable.
//   - A bare `localhost` may be aliased to a real tenant host for local
//     development (`tenant.localhost_alias` / `GATE_LOCALHOST_ALIAS`).
//   - No I/O and no logging here.
package tenant

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ErrRejected is returned for hosts that never resolve to a tenant, either
// because they are malformed or because the platform owns them.
var ErrRejected = errors.New("host rejected")

// Defaults used when configuration leaves the lists empty.
var (
	DefaultBaseDomains = []string{
		"youragency.com",
		"localhost:3000",
		"localhost:3001",
	}
	DefaultReservedSubdomains = []string{
		"www", "admin", "portal", "api", "mail", "cdn", "app", "staging", "prod",
	}
	DefaultRejectedSuffixes = []string{".vercel.app"}
)

// HostRules is immutable after NewHostRules and safe for concurrent use.
type HostRules struct {
	rejected map[string]struct{}
	suffixes []string
	alias    string
}

// NewHostRules builds the rejection set.  Every base domain is rejected,
// and so is every reserved label prefixed to a base domain
// (`admin.youragency.com`).  suffixes reject whole namespaces; the bare
// suffix without its leading dot is rejected too.  Nil slices select the
// package defaults; pass empty non-nil slices to disable a list.
func NewHostRules(base, reserved, suffixes []string, localhostAlias string) *HostRules {
	if base == nil {
		base = DefaultBaseDomains
	}
	if reserved == nil {
		reserved = DefaultReservedSubdomains
	}
	if suffixes == nil {
		suffixes = DefaultRejectedSuffixes
	}

	h := &HostRules{rejected: make(map[string]struct{}, len(base)*(len(reserved)+1))}
	for _, b := range base {
		b = strings.ToLower(strings.TrimSpace(b))
		if b == "" {
			continue
		}
		h.rejected[b] = struct{}{}
		for _, r := range reserved {
			h.rejected[strings.ToLower(r)+"."+b] = struct{}{}
		}
	}
	for _, s := range suffixes {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if !strings.HasPrefix(s, ".") {
			s = "." + s
		}
		h.suffixes = append(h.suffixes, s)
		h.rejected[s[1:]] = struct{}{}
	}
	if localhostAlias != "" {
		if a, err := h.normalize(localhostAlias); err == nil {
			h.alias = a
		}
	}
	return h
}

//
// Normalize → canonical host key
//

// Normalize returns the canonical form of raw or an error wrapping
// ErrRejected when raw is not a usable host.
func (h *HostRules) Normalize(raw string) (string, error) {
	host, err := h.normalize(raw)
	if err != nil {
		return "", err
	}
	if h.alias != "" && hostOnly(host) == "localhost" {
		return h.alias, nil
	}
	return host, nil
}

func (h *HostRules) normalize(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, '@'); i >= 0 {
		s = s[i+1:]
	}

	host, port := splitHostPort(s)
	host = strings.TrimSuffix(host, ".")
	if !validHost(host) {
		return "", fmt.Errorf("%w: invalid host %q", ErrRejected, raw)
	}
	if port != "" {
		if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
			return "", fmt.Errorf("%w: invalid port in %q", ErrRejected, raw)
		}
		if keepsPort(host) {
			return net.JoinHostPort(host, port), nil
		}
	}
	return host, nil
}

//
// Rejected → platform-owned host?
//

// Rejected reports whether a normalised host belongs to the platform.
func (h *HostRules) Rejected(host string) bool {
	if _, ok := h.rejected[host]; ok {
		return true
	}
	for _, s := range h.suffixes {
		if strings.HasSuffix(host, s) {
			return true
		}
	}
	return false
}

//
// helpers
//

func splitHostPort(s string) (host, port string) {
	if h, p, err := net.SplitHostPort(s); err == nil {
		return h, p
	}
	return strings.TrimSuffix(strings.TrimPrefix(s, "["), "]"), ""
}

func hostOnly(hostport string) string {
	h, _ := splitHostPort(hostport)
	return h
}

func keepsPort(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// validHost accepts IP literals and RFC 1123 host names.
func validHost(host string) bool {
	if host == "" || len(host) > 253 {
		return false
	}
	if net.ParseIP(host) != nil {
		return true
	}
	for _, label := range strings.Split(host, ".") {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-') {
				return false
			}
		}
	}
	return true
}
