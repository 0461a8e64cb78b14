// Package middleware holds small, composable HTTP wrappers.
package middleware

import (
	"net"
	"net/http"
	"strings"
)

// ForceHTTPS wraps h.  If the request is plain HTTP and the host is not a
// local development host, the wrapper issues a 308 Permanent Redirect to
// the HTTPS version of the same URL.  Behind a TLS-terminating proxy
// (trustProxy) the X-Forwarded-Proto header decides what "plain" means.
func ForceHTTPS(trustProxy bool) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isHTTPS(r, trustProxy) || isLocal(r.Host) {
				h.ServeHTTP(w, r)
				return
			}
			target := "https://" + r.Host + r.URL.RequestURI()
			http.Redirect(w, r, target, http.StatusPermanentRedirect)
		})
	}
}

func isHTTPS(r *http.Request, trustProxy bool) bool {
	if r.TLS != nil {
		return true
	}
	return trustProxy && strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// isLocal reports localhost, *.localhost, and loopback addresses.
func isLocal(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.ToLower(host)
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}
