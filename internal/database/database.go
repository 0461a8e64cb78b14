// Package database centralises sqlx connection helpers for the tenant
// directory.  The driver is go-sql-driver/mysql, which also works with
// MariaDB and TiDB when configured for the MySQL wire protocol.
//
// Public entry points:
//
//	Open(ctx, dsn)                     – quick helper with conservative pool sizes.
//	OpenWithOptions(ctx, dsn, opts)    – fine-grained control.
//
// Both helpers Ping the database before returning so callers can fail fast
// during bootstrap.  The ping is retried a few times because the gate and
// its database often start together.  Callers should Close() the returned
// *sqlx.DB when no longer needed.
package database

import (
	"context"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Options tunes the pool and the boot-time ping.
type Options struct {
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
	PingAttempts    int
	PingBackoff     time.Duration
}

// DefaultOptions: 15 max open, 5 idle, a 30-minute connection lifetime, and
// three ping attempts one second apart.
func DefaultOptions() Options {
	return Options{
		MaxOpen:         15,
		MaxIdle:         5,
		ConnMaxLifetime: 30 * time.Minute,
		PingAttempts:    3,
		PingBackoff:     time.Second,
	}
}

// Open returns a *sqlx.DB with DefaultOptions.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	return OpenWithOptions(ctx, dsn, DefaultOptions())
}

// OpenWithOptions lets callers tune the pool.  Zero fields in opts keep
// the defaults.
func OpenWithOptions(ctx context.Context, dsn string, opts Options) (*sqlx.DB, error) {
	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := configure(ctx, db, opts); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// configure applies pool limits and pings until the database answers.
func configure(ctx context.Context, db *sqlx.DB, opts Options) error {
	def := DefaultOptions()
	if opts.MaxOpen <= 0 {
		opts.MaxOpen = def.MaxOpen
	}
	if opts.MaxIdle <= 0 {
		opts.MaxIdle = def.MaxIdle
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = def.ConnMaxLifetime
	}
	if opts.PingAttempts <= 0 {
		opts.PingAttempts = def.PingAttempts
	}
	if opts.PingBackoff < 0 {
		opts.PingBackoff = 0
	}

	db.SetMaxOpenConns(opts.MaxOpen)
	db.SetMaxIdleConns(opts.MaxIdle)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	var err error
	for attempt := 1; attempt <= opts.PingAttempts; attempt++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		zap.S().Warnw("database ping failed", "attempt", attempt, "err", err)
		if attempt == opts.PingAttempts {
			break
		}
		t := time.NewTimer(opts.PingBackoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return fmt.Errorf("database ping after %d attempts: %w", opts.PingAttempts, err)
}
