// Package querypools opens the named, monitor-addressable database pools
// spec.md's query facility exposes: each entry of databases_pools_configs
// (DSN sourced from a DATABASE_<NAME> environment variable) becomes a pool
// a monitor's JavaScript can issue read queries against by name, the way
// internal/platform/database.Open opens the engine's own application
// store but for an open-ended, user-configured set of targets instead of
// one fixed connection.
package querypools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/sentinela/sentinela/internal/config"
	"github.com/sentinela/sentinela/internal/core/service"
)

// connectRetryPolicy tolerates a pool's target database starting up a few
// seconds after the engine itself (common in compose/k8s bring-up where
// pool order isn't guaranteed), rather than failing Open on the first
// dial attempt.
var connectRetryPolicy = service.RetryPolicy{
	Attempts:       3,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
	Multiplier:     2,
}

// Pools holds one *sqlx.DB per configured name, opened eagerly so a
// misconfigured DSN fails at startup rather than on a monitor's first
// query.
type Pools struct {
	mu  sync.RWMutex
	dbs map[string]*sqlx.DB
}

// Open connects every entry of cfgs that carries a DSN. Entries with an
// empty DSN (declared in YAML but never given a DATABASE_<NAME> value)
// are skipped rather than treated as a startup error, since
// databases_pools_configs entries are optional per-deployment.
func Open(ctx context.Context, cfgs map[string]config.PoolConfig) (*Pools, error) {
	p := &Pools{dbs: make(map[string]*sqlx.DB, len(cfgs))}
	names := make([]string, 0, len(cfgs))
	for name := range cfgs {
		names = append(names, name)
	}
	sort.Strings(names) // deterministic open order for reproducible startup failures

	for _, name := range names {
		pc := cfgs[name]
		if strings.TrimSpace(pc.DSN) == "" {
			continue
		}
		var db *sqlx.DB
		connErr := service.Retry(ctx, connectRetryPolicy, func() error {
			var err error
			db, err = sqlx.ConnectContext(ctx, "postgres", pc.DSN)
			return err
		})
		if connErr != nil {
			p.Close()
			return nil, fmt.Errorf("query pool %q: %w", name, connErr)
		}
		if pc.MaxOpenConns > 0 {
			db.SetMaxOpenConns(pc.MaxOpenConns)
		}
		if pc.MaxIdleConns > 0 {
			db.SetMaxIdleConns(pc.MaxIdleConns)
		}
		p.dbs[name] = db
	}
	return p, nil
}

// Query runs a read query against the named pool and returns each row as
// a string-keyed map, the shape a goja runtime can hand a monitor script
// directly via rt.ToValue.
func (p *Pools) Query(ctx context.Context, pool, query string, args ...any) ([]map[string]any, error) {
	p.mu.RLock()
	db, ok := p.dbs[pool]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("querypools: unknown pool %q", pool)
	}

	rows, err := db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querypools: query pool %q: %w", pool, err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("querypools: scan pool %q: %w", pool, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Close closes every open pool, continuing past a failed close, and
// returns the first error seen; later errors are not reported.
func (p *Pools) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for name, db := range p.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close pool %q: %w", name, err)
		}
		delete(p.dbs, name)
	}
	return firstErr
}
