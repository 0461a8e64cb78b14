// internal/middleware/bodylimit.go
//
// Request body ceiling for writes.  Oversized bodies get a 413 JSON
// error before any handler reads them.
package middleware

import (
	"net/http"
)

// DefaultMaxBody is the request body ceiling for writes (1 MiB).
const DefaultMaxBody int64 = 1 << 20

// BodyLimit rejects POST, PUT, and PATCH requests whose declared length
// exceeds max with 413, and caps undeclared bodies with MaxBytesReader.
func BodyLimit(max int64) func(http.Handler) http.Handler {
	if max <= 0 {
		max = DefaultMaxBody
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch:
			default:
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength > max {
				writeJSONError(w, http.StatusRequestEntityTooLarge,
					"Payload Too Large", "Request body exceeds the allowed size.")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, max)
			next.ServeHTTP(w, r)
		})
	}
}
