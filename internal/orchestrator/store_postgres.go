package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mcpgateway/pkg/db"
)

type pgStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore keeps descriptors in gateway_deployments. Every read and
// write runs in a tenant-scoped transaction (db.TenantSetting) so row level
// security policies apply when configured.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

// EnsureSchema creates the deployments table (idempotent).
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS gateway_deployments (
  id text PRIMARY KEY,
  tenant_id text NOT NULL,
  status text NOT NULL,
  descriptor jsonb NOT NULL,
  created_at timestamptz NOT NULL DEFAULT NOW(),
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS gateway_deployments_tenant_idx ON gateway_deployments(tenant_id, created_at DESC);
`)
	return err
}

func (p *pgStore) Create(ctx context.Context, d Descriptor) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return db.InTenantTx(ctx, p.pool, d.Tenant, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO gateway_deployments(id, tenant_id, status, descriptor, created_at, updated_at)
		  VALUES ($1,$2,$3,$4,$5,$5)`, d.DeploymentID, d.Tenant, string(d.Status), raw, d.CreatedAt)
		return err
	})
}

func (p *pgStore) Get(ctx context.Context, tenantID, id string) (Descriptor, error) {
	var d Descriptor
	err := db.InTenantTx(ctx, p.pool, tenantID, func(tx pgx.Tx) error {
		var raw []byte
		err := tx.QueryRow(ctx, `SELECT descriptor FROM gateway_deployments WHERE id=$1 AND tenant_id=$2`, id, tenantID).Scan(&raw)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, &d)
	})
	if err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// Transition locks the row inside a transaction scoped to the tenant encoded
// in the id, so callbacks see the same rows as tenant reads.
func (p *pgStore) Transition(ctx context.Context, id string, next Status, message string) (Descriptor, error) {
	tenantID, ok := tenantOf(id)
	if !ok {
		return Descriptor{}, ErrNotFound
	}
	var d Descriptor
	err := db.InTenantTx(ctx, p.pool, tenantID, func(tx pgx.Tx) error {
		var raw []byte
		err := tx.QueryRow(ctx, `SELECT descriptor FROM gateway_deployments WHERE id=$1 AND tenant_id=$2 FOR UPDATE`, id, tenantID).Scan(&raw)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, &d); err != nil {
			return err
		}
		var changed bool
		if d, changed, err = advance(d, next, message, time.Now()); err != nil || !changed {
			return err
		}
		if raw, err = json.Marshal(d); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE gateway_deployments SET status=$2, descriptor=$3, updated_at=$4 WHERE id=$1`,
			id, string(d.Status), raw, d.UpdatedAt)
		return err
	})
	if errors.Is(err, ErrIllegalTransition) {
		return d, err
	}
	if err != nil {
		return Descriptor{}, err
	}
	return d, nil
}
