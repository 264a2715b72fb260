package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUnknownClient = errors.New("unknown client")
	ErrInvalidSecret = errors.New("invalid client secret")
	ErrWrongTenant   = errors.New("client not registered for tenant")
)

// Registry verifies client credentials presented at the token endpoint.
type Registry interface {
	Verify(ctx context.Context, tenantID, clientID, secret string) error
}

// Store is a registry that clients can be registered into at runtime.
type Store interface {
	Registry
	Upsert(ctx context.Context, records []Record) error
	Count(ctx context.Context) (int, error)
}

// Open accepts every client. It is the explicit trusted-caller mode used when
// no client records are configured.
type Open struct{}

func (Open) Verify(context.Context, string, string, string) error { return nil }

// OpenUntilRegistered behaves like Open while the store is empty and defers to
// it once the first client is registered.
type OpenUntilRegistered struct {
	Store Store
}

func (o OpenUntilRegistered) Verify(ctx context.Context, tenantID, clientID, secret string) error {
	n, err := o.Store.Count(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	return o.Store.Verify(ctx, tenantID, clientID, secret)
}

// Record is a registered client. TenantID empty means any tenant.
type Record struct {
	ClientID   string `json:"client_id"`
	SecretHash string `json:"secret_hash"`
	TenantID   string `json:"tenant_id"`
}

// check validates one record against presented credentials.
func (r Record) check(tenantID, secret string) error {
	if r.TenantID != "" && r.TenantID != tenantID {
		return ErrWrongTenant
	}
	if r.SecretHash == "" {
		return nil // public client
	}
	if bcrypt.CompareHashAndPassword([]byte(r.SecretHash), []byte(secret)) != nil {
		return ErrInvalidSecret
	}
	return nil
}

// HashSecret produces a bcrypt hash suitable for Record.SecretHash.
func HashSecret(secret string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Static is an in-memory registry.
type Static struct {
	mu   sync.RWMutex
	byID map[string]Record
}

func NewStatic(records []Record) *Static {
	s := &Static{byID: map[string]Record{}}
	_ = s.Upsert(context.Background(), records)
	return s
}

func (s *Static) Upsert(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.byID[r.ClientID] = r
	}
	return nil
}

func (s *Static) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID), nil
}

// ParseSeed reads CLIENT_SEED_JSON. Entries may carry a plaintext "secret"
// which is hashed on load, or a precomputed "secret_hash".
func ParseSeed(seed string) ([]Record, error) {
	var entries []struct {
		Record
		Secret string `json:"secret"`
	}
	if err := json.Unmarshal([]byte(seed), &entries); err != nil {
		return nil, fmt.Errorf("parse CLIENT_SEED_JSON: %w", err)
	}
	out := make([]Record, 0, len(entries))
	for _, e := range entries {
		rec := e.Record
		if rec.ClientID == "" {
			continue
		}
		if e.Secret != "" && rec.SecretHash == "" {
			h, err := HashSecret(e.Secret)
			if err != nil {
				return nil, err
			}
			rec.SecretHash = h
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Static) Verify(_ context.Context, tenantID, clientID, secret string) error {
	s.mu.RLock()
	r, ok := s.byID[clientID]
	s.mu.RUnlock()
	if !ok {
		return ErrUnknownClient
	}
	return r.check(tenantID, secret)
}

type cachedRecord struct {
	rec      Record
	found    bool
	loadedAt time.Time
}

// Postgres looks clients up in oauth_clients and caches rows briefly.
type Postgres struct {
	pool *pgxpool.Pool
	mu   sync.RWMutex
	byID map[string]cachedRecord
	ttl  time.Duration
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, byID: map[string]cachedRecord{}, ttl: 30 * time.Second}
}

// EnsureSchema creates the client table (idempotent).
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS oauth_clients (
  client_id text PRIMARY KEY,
  client_secret_hash text,
  tenant_id text,
  created_at timestamptz NOT NULL DEFAULT NOW()
);`)
	return err
}

// Upsert stores records (used for CLIENT_SEED_JSON on startup).
func (p *Postgres) Upsert(ctx context.Context, records []Record) error {
	for _, r := range records {
		if _, err := p.pool.Exec(ctx, `INSERT INTO oauth_clients(client_id, client_secret_hash, tenant_id)
		  VALUES ($1, NULLIF($2,''), NULLIF($3,''))
		  ON CONFLICT (client_id) DO UPDATE SET client_secret_hash=EXCLUDED.client_secret_hash, tenant_id=EXCLUDED.tenant_id`,
			r.ClientID, r.SecretHash, r.TenantID); err != nil {
			return err
		}
	}
	p.mu.Lock()
	p.byID = map[string]cachedRecord{}
	p.mu.Unlock()
	return nil
}

// Count reports how many clients are registered.
func (p *Postgres) Count(ctx context.Context) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM oauth_clients`).Scan(&n)
	return n, err
}

func (p *Postgres) Verify(ctx context.Context, tenantID, clientID, secret string) error {
	p.mu.RLock()
	c, ok := p.byID[clientID]
	p.mu.RUnlock()
	if !ok || time.Since(c.loadedAt) >= p.ttl {
		var rec Record
		err := p.pool.QueryRow(ctx, `SELECT client_id, COALESCE(client_secret_hash,''), COALESCE(tenant_id,'') FROM oauth_clients WHERE client_id=$1`, clientID).
			Scan(&rec.ClientID, &rec.SecretHash, &rec.TenantID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		c = cachedRecord{rec: rec, found: err == nil, loadedAt: time.Now()}
		p.mu.Lock()
		p.byID[clientID] = c
		p.mu.Unlock()
	}
	if !c.found {
		return ErrUnknownClient
	}
	return c.rec.check(tenantID, secret)
}
