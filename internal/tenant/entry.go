// internal/tenant/entry.go
//
// Resolved tenant and its cache entry.
//
// Context
// -------
// The resolver stores one entry per host in the shared store under
// `tenant:resolve:<host>`.  A positive entry carries the directory
// record and the time the directory last confirmed it; a negative entry
// records that the host is unknown.  The entry is JSON so any gate
// instance, whatever its build, can read what another one wrote.
//
// Notes
// -----
//   - Freshness is judged from FetchedAt, not from the store expiry.  The
//     store keeps positive entries until the stale ceiling so they remain
//     available for serve-stale.
//   - Tenant is a value snapshot; handlers must not mutate it.
package tenant

import (
	"time"

	"github.com/yanizio/tenantgate/internal/tenant/meta"
)

const resolveKeyPrefix = "tenant:resolve:"

func resolveKey(host string) string { return resolveKeyPrefix + host }

type entry struct {
	Record    *meta.Record `json:"record,omitempty"`
	FetchedAt time.Time    `json:"fetched_at"`
	Negative  bool         `json:"negative,omitempty"`
}

// Tenant is the resolved identity attached to a request.
type Tenant struct {
	meta.Record

	// FetchedAt is when the directory last confirmed Record.
	FetchedAt time.Time

	// Stale is set when the record was served past its TTL because the
	// directory could not be reached.
	Stale bool
}
