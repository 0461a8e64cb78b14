// internal/tenant/meta/model.go
//
// `tenant` and `tenant_domain` row models.
//
// Context
// -------
// The directory is the durable source of truth for which tenant owns a
// host, which pricing tier it is on, and its coarse billing status.  The
// gate only reads it, apart from the narrow status write made on behalf
// of the billing webhook.
//
// Schema reference
//
//	CREATE TABLE tenant (
//	    id          CHAR(36)     PRIMARY KEY,
//	    tier        VARCHAR(16)  NOT NULL DEFAULT 'starter',
//	    status      VARCHAR(16)  NOT NULL DEFAULT 'trial',
//	    config      JSON         NOT NULL,
//	    archived_at TIMESTAMP NULL,
//	    created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
//	    updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
//	);
//
//	CREATE TABLE tenant_domain (
//	    host       VARCHAR(253) PRIMARY KEY,
//	    tenant_id  CHAR(36)     NOT NULL REFERENCES tenant(id)
//	);
//
// Notes
// -----
//   - `tenant_domain.host` is the primary key, so a host maps to at most
//     one tenant.
//   - Archived rows are filtered at SQL level; callers never see them.
//   - Oxford commas, two spaces after periods.
package meta

import (
	"encoding/json"
	"time"
)

// Status is the coarse billing state of a tenant.
type Status string

const (
	StatusActive    Status = "active"
	StatusTrial     Status = "trial"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the four known states.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusTrial, StatusSuspended, StatusCancelled:
		return true
	}
	return false
}

// Tier is the pricing plan.  It selects the default rate-limit policy.
type Tier string

const (
	TierStarter      Tier = "starter"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierStarter, TierProfessional, TierEnterprise:
		return true
	}
	return false
}

// Record is one tenant as seen through the host that matched.  It is the
// value cached by the resolver, so every field carries a JSON tag.
type Record struct {
	ID        string          `json:"id"`
	Host      string          `json:"host"`
	Tier      Tier            `json:"tier"`
	Status    Status          `json:"status"`
	Config    SiteConfig      `json:"config"`
	RawConfig json.RawMessage `json:"raw_config,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// recordRow mirrors the SELECT column list used by FindByHost.
type recordRow struct {
	ID        string    `db:"id"`
	Host      string    `db:"host"`
	Tier      string    `db:"tier"`
	Status    string    `db:"status"`
	Config    []byte    `db:"config"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
