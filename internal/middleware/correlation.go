// internal/middleware/correlation.go
//
// X-Correlation-Id propagation.  A valid incoming UUID is kept, otherwise a
// new one is minted; both the response and the request context carry it.
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// CorrelationHeader is read from and echoed on every request.
const CorrelationHeader = "X-Correlation-Id"

type correlationKey struct{}

// CorrelationID returns the request's correlation ID, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// Correlate keeps an inbound correlation ID when it is a well-formed UUID
// and mints a new one otherwise.  The ID is set on the request (for the
// upstream), on the response, and in the context.
func Correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationHeader)
		if u, err := uuid.Parse(id); err == nil {
			id = u.String()
		} else {
			id = uuid.NewString()
		}
		r.Header.Set(CorrelationHeader, id)
		w.Header().Set(CorrelationHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), correlationKey{}, id)))
	})
}
