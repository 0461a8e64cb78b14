// internal/tenant/meta/repository.go
//
// Directory queries.
//
// Context
// -------
// Directory answers the four questions the gate asks of the durable store:
//
//   - FindByHost    - which tenant owns this host?
//   - Status        - what is this tenant's billing status right now?
//   - SetStatus     - record a status change from the billing webhook.
//   - HostsByTenant - which hosts must be purged when a tenant changes?
//
// Each helper executes exactly one parameterised statement against the
// control-plane database.  Rows are scanned with sqlx and converted into
// the JSON-friendly Record type the cache stores.
//
// Notes
// -----
//   - sql.ErrNoRows is translated to ErrNotFound; every other driver error
//     is returned wrapped so the caller can apply its failure policy.
//   - Column lists match recordRow; update both together.
//   - No logging here; callers decide what to log.
package meta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var (
	// ErrNotFound is returned when no live tenant matches the lookup.
	ErrNotFound = errors.New("tenant not found")

	// ErrInvalidRecord is returned when a row exists but fails validation.
	ErrInvalidRecord = errors.New("invalid tenant record")
)

// Directory is the read and narrow-write interface over the tenant store.
// *SQLDirectory and *Guarded implement it.
type Directory interface {
	FindByHost(ctx context.Context, host string) (*Record, error)
	Status(ctx context.Context, tenantID string) (Status, error)
	SetStatus(ctx context.Context, tenantID string, s Status) error
	HostsByTenant(ctx context.Context, tenantID string) ([]string, error)
}

// SQLDirectory implements Directory on a MySQL pool.
type SQLDirectory struct {
	db *sqlx.DB
}

// NewSQLDirectory wraps an open pool.
func NewSQLDirectory(db *sqlx.DB) *SQLDirectory { return &SQLDirectory{db: db} }

// FindByHost returns the live tenant bound to host.  Suspended and
// cancelled tenants are returned too; the billing gate decides what they
// may see.
func (d *SQLDirectory) FindByHost(ctx context.Context, host string) (*Record, error) {
	const q = `
        SELECT t.id, d.host, t.tier, t.status, t.config, t.created_at, t.updated_at
        FROM   tenant_domain d
        JOIN   tenant t ON t.id = d.tenant_id
        WHERE  d.host = ?
          AND  t.archived_at IS NULL
        LIMIT  1`

	var row recordRow
	if err := d.db.GetContext(ctx, &row, q, host); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("meta.FindByHost %q: %w", host, err)
	}
	return row.toRecord()
}

// Status returns the current billing status of a live tenant.
func (d *SQLDirectory) Status(ctx context.Context, tenantID string) (Status, error) {
	const q = `
        SELECT status
        FROM   tenant
        WHERE  id = ?
          AND  archived_at IS NULL
        LIMIT  1`

	var raw string
	if err := d.db.GetContext(ctx, &raw, q, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("meta.Status %q: %w", tenantID, err)
	}
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: status %q for tenant %s", ErrInvalidRecord, raw, tenantID)
	}
	return s, nil
}

// SetStatus writes a new billing status.  ErrNotFound is returned when no
// live tenant has tenantID.
func (d *SQLDirectory) SetStatus(ctx context.Context, tenantID string, s Status) error {
	if !s.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidRecord, s)
	}
	const q = `
        UPDATE tenant
        SET    status = ?, updated_at = CURRENT_TIMESTAMP
        WHERE  id = ?
          AND  archived_at IS NULL`

	res, err := d.db.ExecContext(ctx, q, string(s), tenantID)
	if err != nil {
		return fmt.Errorf("meta.SetStatus %q: %w", tenantID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("meta.SetStatus %q: %w", tenantID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// HostsByTenant lists every host bound to tenantID, archived or not, so
// offboarding can purge them all.
func (d *SQLDirectory) HostsByTenant(ctx context.Context, tenantID string) ([]string, error) {
	const q = `
        SELECT host
        FROM   tenant_domain
        WHERE  tenant_id = ?`

	hosts := make([]string, 0, 4)
	if err := d.db.SelectContext(ctx, &hosts, q, tenantID); err != nil {
		return nil, fmt.Errorf("meta.HostsByTenant %q: %w", tenantID, err)
	}
	return hosts, nil
}

// toRecord validates a scanned row and converts it.
func (r recordRow) toRecord() (*Record, error) {
	st := Status(r.Status)
	if !st.Valid() {
		return nil, fmt.Errorf("%w: status %q for tenant %s", ErrInvalidRecord, r.Status, r.ID)
	}
	tier := Tier(r.Tier)
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: tier %q for tenant %s", ErrInvalidRecord, r.Tier, r.ID)
	}
	cfg, err := parseConfig(r.Config)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: %w", r.ID, err)
	}
	return &Record{
		ID:        r.ID,
		Host:      r.Host,
		Tier:      tier,
		Status:    st,
		Config:    cfg,
		RawConfig: append([]byte(nil), r.Config...),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}
