package gateway

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mcpgateway/internal/orchestrator"
	"mcpgateway/internal/policy"
	"mcpgateway/internal/session"
	"mcpgateway/internal/status"
	"mcpgateway/internal/token"
	"mcpgateway/pkg/clients"
	"mcpgateway/pkg/config"
	"mcpgateway/pkg/tenants"
)

// Build wires services for cfg. pool and rdb are optional; when nil the
// corresponding stores are process-local.
func Build(ctx context.Context, cfg config.Config, log *zap.SugaredLogger, pool *pgxpool.Pool, rdb *redis.Client) (Deps, error) {
	backends := map[string]string{}

	seed, err := tenants.LoadSeed(cfg.TenantSeedJSON, cfg.TenantRegistryFile)
	if err != nil {
		return Deps{}, err
	}
	clientSeed, err := loadClientSeed(cfg.ClientSeedJSON)
	if err != nil {
		return Deps{}, err
	}

	var (
		tenantReg tenants.Registry
		clientReg clients.Store
		deploys   orchestrator.Store
	)
	if pool != nil {
		if err := tenants.EnsureSchema(ctx, pool); err != nil {
			return Deps{}, fmt.Errorf("tenant schema: %w", err)
		}
		if err := tenants.SeedFromEnv(ctx, pool, seed); err != nil {
			return Deps{}, fmt.Errorf("tenant seed: %w", err)
		}
		if err := clients.EnsureSchema(ctx, pool); err != nil {
			return Deps{}, fmt.Errorf("client schema: %w", err)
		}
		if err := orchestrator.EnsureSchema(ctx, pool); err != nil {
			return Deps{}, fmt.Errorf("deployment schema: %w", err)
		}
		tenantReg = tenants.NewPostgresRegistry(pool, log)
		clientReg = clients.NewPostgres(pool)
		deploys = orchestrator.NewPostgresStore(pool)
		backends["tenants"], backends["clients"], backends["deployments"] = "postgres", "postgres", "postgres"
	} else {
		tenantReg = tenants.NewMemoryRegistry(log, seed)
		clientReg = clients.NewStatic(nil)
		deploys = orchestrator.NewMemoryStore()
		backends["tenants"], backends["clients"], backends["deployments"] = "memory", "memory", "memory"
	}
	if err := clientReg.Upsert(ctx, clientSeed); err != nil {
		return Deps{}, fmt.Errorf("client seed: %w", err)
	}
	n, err := clientReg.Count(ctx)
	if err != nil {
		return Deps{}, fmt.Errorf("client count: %w", err)
	}
	if n == 0 {
		log.Warnw("no OAuth clients registered; accepting any client_id until one is registered")
	}
	verifier := clients.OpenUntilRegistered{Store: clientReg}

	var (
		sessions session.Store
		idem     orchestrator.IdempotencyStore
	)
	if rdb != nil {
		sessions = session.NewRedisStore(rdb)
		idem = orchestrator.NewRedisIdempotency(rdb)
		backends["sessions"], backends["idempotency"] = "redis", "redis"
	} else {
		sessions = session.NewMemoryStore()
		idem = orchestrator.NewMemoryIdempotency()
		backends["sessions"], backends["idempotency"] = "memory", "memory"
	}

	pol, err := policy.Load(ctx, cfg.DeployPolicyFile)
	if err != nil {
		return Deps{}, err
	}

	var prov orchestrator.Provisioner = orchestrator.LogProvisioner{Log: log}
	backends["provisioner"] = "log"
	if cfg.ProvisionerURL != "" {
		prov = orchestrator.NewHTTPProvisioner(cfg.ProvisionerURL, cfg.ProvisionerCallbackToken, cfg.ProvisionerTimeout)
		backends["provisioner"] = "http"
	}

	signer := token.NewSigner(cfg.SigningSecret, cfg.Issuer, cfg.ClockSkew)
	return Deps{
		Config:      cfg,
		Log:         log,
		Tokens:      token.NewService(cfg, signer, verifier, tenantReg, log),
		Sessions:    session.NewService(signer, sessions, cfg.SessionTTL, log),
		Deployments: orchestrator.NewService(cfg, tenantReg, pol, deploys, idem, prov, log),
		Status:      status.NewService(cfg, tenantReg, log),
		Tenants:     tenantReg,
		Clients:     clientReg,
		Backends:    backends,
	}, nil
}

func loadClientSeed(raw string) ([]clients.Record, error) {
	if raw == "" {
		return nil, nil
	}
	return clients.ParseSeed(raw)
}
