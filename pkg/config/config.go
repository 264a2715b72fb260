// pkg/config/config.go
package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AccessTokenTTL is part of the token endpoint contract (expires_in).
const AccessTokenTTL = 3600 * time.Second

type Config struct {
	Env              string
	HTTPAddr         string
	DebugDoubleWrite bool // stack traces for duplicate WriteHeader calls

	// Token signing (HS256, process-wide, read-only)
	SigningSecret   string
	Issuer          string
	RefreshTokenTTL time.Duration
	SessionTTL      time.Duration
	ClockSkew       time.Duration

	// Tenant resolution / registry
	TenantHeader       string
	MCPDomainSuffix    string
	TenantSeedJSON     string
	TenantRegistryFile string
	ClientSeedJSON     string

	// Deployment defaults
	DefaultRegion      string
	DefaultServiceType string
	DeployPolicyFile   string
	DeployScopes       []string // any-of; empty = any valid access token
	IdempotencyTTL     time.Duration

	// External provisioning system
	ProvisionerURL           string
	ProvisionerCallbackToken string
	ProvisionerTimeout       time.Duration

	// Admin surface; disabled when empty
	AdminToken string

	// Redis & Postgres
	RedisURL    string
	DatabaseURL string
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:                      env("GATEWAY_ENV", "dev"),
		HTTPAddr:                 env("GATEWAY_HTTP_ADDR", ":8080"),
		DebugDoubleWrite:         envBool("DEBUG_DOUBLE_WRITE"),
		SigningSecret:            env("JWT_SECRET", ""),
		Issuer:                   env("TOKEN_ISSUER", "mcp-gateway-oauth2"),
		RefreshTokenTTL:          envDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		SessionTTL:               envDuration("SESSION_TTL", time.Hour),
		ClockSkew:                envSec("TOKEN_CLOCK_SKEW_SEC", 30) * time.Second,
		TenantHeader:             env("TENANT_HEADER", "X-Tenant-ID"),
		MCPDomainSuffix:          strings.Trim(env("MCP_DOMAIN_SUFFIX", "2100.cool"), "."),
		TenantSeedJSON:           env("TENANT_SEED_JSON", ""),
		TenantRegistryFile:       env("TENANT_REGISTRY_FILE", ""),
		ClientSeedJSON:           env("CLIENT_SEED_JSON", ""),
		DefaultRegion:            env("DEFAULT_REGION", "us-west1"),
		DefaultServiceType:       env("DEFAULT_SERVICE_TYPE", "mcp-client"),
		DeployPolicyFile:         env("DEPLOY_POLICY_FILE", ""),
		DeployScopes:             strings.FieldsFunc(env("DEPLOY_REQUIRED_SCOPES", ""), func(r rune) bool { return r == ',' || r == ' ' }),
		IdempotencyTTL:           envDuration("IDEMPOTENCY_TTL", 10*time.Minute),
		ProvisionerURL:           env("PROVISIONER_URL", ""),
		ProvisionerCallbackToken: env("PROVISIONER_CALLBACK_TOKEN", ""),
		ProvisionerTimeout:       envDuration("PROVISIONER_TIMEOUT", 15*time.Second),
		AdminToken:               env("ADMIN_TOKEN", ""),
		RedisURL:                 env("REDIS_URL", ""),
		DatabaseURL:              env("DATABASE_URL", ""),
	}
	if cfg.SigningSecret == "" && !cfg.IsProd() {
		log.Println("[WARN] JWT_SECRET not set; using an insecure development signing secret")
		cfg.SigningSecret = "dev-insecure-signing-secret"
	}
	if cfg.DatabaseURL == "" {
		log.Println("[WARN] DATABASE_URL not set; using in-memory tenant, client and deployment stores")
	}
	if cfg.RedisURL == "" {
		log.Println("[WARN] REDIS_URL not set; sessions and idempotency keys are process-local")
	}
	return cfg
}

// Validate reports settings the gateway must not start without.
func (c Config) Validate() error {
	if c.SigningSecret == "" {
		return errors.New("JWT_SECRET is required when GATEWAY_ENV=prod")
	}
	return nil
}

// IsProd reports whether the gateway runs with production settings.
func (c Config) IsProd() bool { return c.Env == "prod" }

// MCPEndpoint returns the default MCP host name for a tenant.
func (c Config) MCPEndpoint(tenantID string) string {
	return "mcp." + tenantID + "." + c.MCPDomainSuffix
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envSec(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return time.Duration(i)
		}
	}
	return time.Duration(def)
}

// envDuration accepts Go duration strings ("90m", "24h").
func envDuration(k string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

// envBool accepts 1/true/yes (and anything starting with them).
func envBool(k string) bool {
	v := strings.ToLower(os.Getenv(k))
	return strings.HasPrefix(v, "1") || strings.HasPrefix(v, "t") || strings.HasPrefix(v, "y")
}
