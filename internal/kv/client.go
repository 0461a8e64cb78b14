// internal/kv/client.go
//
// Redis connection helper.
//
// Context
// -------
// The gate keeps no long-lived state in process memory.  Tenant snapshots,
// billing status, rate-limit counters, and override policies all live in
// one shared Redis deployment.  NewClient builds a topology-agnostic
// go-redis client (single node, Sentinel, or Cluster) and pings it once so
// boot fails fast on a bad address.
//
// Notes
// -----
//   - Dial, read, and write timeouts default to 1s.  The gate sits on the
//     request path, so a slow Redis must surface as an error quickly.
//   - Oxford commas, two spaces after periods.
package kv

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const defaultTimeout = time.Second

// Mode selects the Redis deployment topology.
type Mode string

const (
	ModeSingle   Mode = "single"
	ModeSentinel Mode = "sentinel"
	ModeCluster  Mode = "cluster"
)

// ClientConfig configures NewClient.
type ClientConfig struct {
	Mode         Mode
	Addrs        []string // single: 1 addr, sentinel: sentinel addrs, cluster: seed nodes
	MasterName   string   // sentinel only
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewClient returns a connected UniversalClient.  go-redis routes on its
// own: MasterName set → Sentinel, several Addrs → Cluster, one Addr →
// standalone.
func NewClient(ctx context.Context, cfg ClientConfig) (goredis.UniversalClient, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("kv: at least one redis address is required")
	}
	if cfg.Mode == ModeSentinel && cfg.MasterName == "" {
		return nil, fmt.Errorf("kv: sentinel mode requires a master name")
	}

	opts := &goredis.UniversalOptions{
		Addrs:        cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  orDefault(cfg.DialTimeout),
		ReadTimeout:  orDefault(cfg.ReadTimeout),
		WriteTimeout: orDefault(cfg.WriteTimeout),
	}
	if cfg.Mode == ModeSentinel {
		opts.MasterName = cfg.MasterName
	}
	if cfg.Mode == ModeCluster && len(cfg.Addrs) < 2 {
		return nil, fmt.Errorf("kv: cluster mode requires at least two seed addresses")
	}

	client := goredis.NewUniversalClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("kv: ping redis: %w", err)
	}
	return client, nil
}

func orDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultTimeout
	}
	return d
}
