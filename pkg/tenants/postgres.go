// pkg/tenants/postgres.go
package tenants

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// pgRegistry implements Registry backed by PostgreSQL.
type pgRegistry struct {
	dbPool *pgxpool.Pool      // Connection pool to PostgreSQL
	log    *zap.SugaredLogger // Logger for diagnostic output

	mu       sync.RWMutex
	cache    map[string]cachedMeta
	cacheTTL time.Duration
}

type cachedMeta struct {
	meta     Metadata
	found    bool
	loadedAt time.Time
}

// NewPostgresRegistry constructs a PostgreSQL-backed tenant registry.
func NewPostgresRegistry(dbPool *pgxpool.Pool, log *zap.SugaredLogger) Registry {
	return &pgRegistry{dbPool: dbPool, log: log, cache: map[string]cachedMeta{}, cacheTTL: 30 * time.Second}
}

// EnsureSchema creates required tables if they do not already exist.
// Safe to call repeatedly (idempotent).
func EnsureSchema(ctx context.Context, dbPool *pgxpool.Pool) error {
	_, err := dbPool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS gateway_tenants (
  id text PRIMARY KEY,
  display_name text NOT NULL,
  created_at timestamptz NOT NULL DEFAULT NOW(),
  last_activity timestamptz NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS gateway_tenant_metadata (
  tenant_id text PRIMARY KEY,
  record jsonb NOT NULL,
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
`)
	return err
}

// SeedFromEnv inserts metadata for tenants that have no stored record yet
// (see LoadSeed for sources). Stored records win so edits made through the
// admin API survive restarts.
func SeedFromEnv(ctx context.Context, dbPool *pgxpool.Pool, seed []Metadata) error {
	for _, m := range seed {
		rec, err := json.Marshal(m)
		if err != nil {
			return err
		}
		if _, err := dbPool.Exec(ctx, `INSERT INTO gateway_tenant_metadata(tenant_id, record, updated_at)
		  VALUES ($1,$2,NOW())
		  ON CONFLICT (tenant_id) DO NOTHING`, m.ID, rec); err != nil {
			return err
		}
	}
	return nil
}

// Put replaces one metadata record and drops its cache entry.
func (p *pgRegistry) Put(ctx context.Context, md Metadata) error {
	rec, err := json.Marshal(md)
	if err != nil {
		return err
	}
	if _, err := p.dbPool.Exec(ctx, `INSERT INTO gateway_tenant_metadata(tenant_id, record, updated_at)
	  VALUES ($1,$2,NOW())
	  ON CONFLICT (tenant_id) DO UPDATE SET record=EXCLUDED.record, updated_at=NOW()`, md.ID, rec); err != nil {
		return err
	}
	if md.Company != "" {
		if _, err := p.dbPool.Exec(ctx, `UPDATE gateway_tenants SET display_name=$2 WHERE id=$1`, md.ID, md.Company); err != nil {
			return err
		}
	}
	p.mu.Lock()
	delete(p.cache, md.ID)
	p.mu.Unlock()
	return nil
}

// Lookup fetches tenant metadata, cached briefly per tenant.
func (p *pgRegistry) Lookup(ctx context.Context, id string) (Metadata, bool, error) {
	p.mu.RLock()
	c, ok := p.cache[id]
	p.mu.RUnlock()
	if ok && time.Since(c.loadedAt) < p.cacheTTL {
		return c.meta, c.found, nil
	}
	var raw []byte
	err := p.dbPool.QueryRow(ctx, `SELECT record FROM gateway_tenant_metadata WHERE tenant_id=$1`, id).Scan(&raw)
	var md Metadata
	found := true
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		found = false
	case err != nil:
		return Metadata{}, false, err
	default:
		if err := json.Unmarshal(raw, &md); err != nil {
			return Metadata{}, false, err
		}
		md.ID = id
	}
	p.mu.Lock()
	p.cache[id] = cachedMeta{meta: md, found: found, loadedAt: time.Now()}
	p.mu.Unlock()
	return md, found, nil
}

// Touch upserts the tenant row and bumps last_activity.
func (p *pgRegistry) Touch(ctx context.Context, id string) (Tenant, error) {
	display := id
	if md, ok, err := p.Lookup(ctx, id); err == nil && ok && md.Company != "" {
		display = md.Company
	}
	var t Tenant
	err := p.dbPool.QueryRow(ctx, `INSERT INTO gateway_tenants(id, display_name) VALUES ($1,$2)
	  ON CONFLICT (id) DO UPDATE SET last_activity=NOW()
	  RETURNING id, display_name, created_at, last_activity`, id, display).
		Scan(&t.ID, &t.DisplayName, &t.CreatedAt, &t.LastActivity)
	if err != nil {
		return Tenant{}, err
	}
	return t, nil
}

// Get reads a previously seen tenant.
func (p *pgRegistry) Get(ctx context.Context, id string) (Tenant, bool, error) {
	var t Tenant
	err := p.dbPool.QueryRow(ctx, `SELECT id, display_name, created_at, last_activity FROM gateway_tenants WHERE id=$1`, id).
		Scan(&t.ID, &t.DisplayName, &t.CreatedAt, &t.LastActivity)
	if errors.Is(err, pgx.ErrNoRows) {
		return Tenant{}, false, nil
	}
	if err != nil {
		return Tenant{}, false, err
	}
	return t, true, nil
}
