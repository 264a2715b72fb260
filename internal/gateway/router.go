package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mcpgateway/internal/admin"
	"mcpgateway/internal/orchestrator"
	"mcpgateway/internal/session"
	"mcpgateway/internal/status"
	"mcpgateway/internal/token"
	"mcpgateway/pkg/clients"
	"mcpgateway/pkg/config"
	"mcpgateway/pkg/middleware"
	"mcpgateway/pkg/openapi"
	"mcpgateway/pkg/problems"
	"mcpgateway/pkg/tenants"
)

const (
	ServiceName = "mcp-gateway-oauth2"
	Version     = "1.0.0"
)

// Deps are the wired services behind the HTTP surface.
type Deps struct {
	Config      config.Config
	Log         *zap.SugaredLogger
	Tokens      *token.Service
	Sessions    *session.Service
	Deployments *orchestrator.Service
	Status      *status.Service
	Tenants     tenants.Registry
	Clients     clients.Store
	// Backends names the storage in use per concern (reported by /health).
	Backends map[string]string
}

// NewRouter composes middleware and every gateway route.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.HeaderGuard(d.Log, d.Config.DebugDoubleWrite))
	r.Use(middleware.Recover(d.Log))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(d.Config.TenantHeader))
	r.Use(middleware.Tracing(d.Log))
	r.Use(middleware.ResolveTenant(d.Config.TenantHeader))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		problems.Write(w, problems.New(problems.NotFound, "no route for "+r.Method+" "+r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		problems.Write(w, problems.New(problems.MethodNotAllowed, r.Method+" is not supported for "+r.URL.Path))
	})

	api := describe(d.Config)
	started := time.Now().UTC()

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"service":   ServiceName,
			"version":   Version,
			"status":    "running",
			"endpoints": api.Paths(),
		}, http.StatusOK)
	})
	health := func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"status":    "healthy",
			"service":   ServiceName,
			"version":   Version,
			"tenant":    middleware.TenantFrom(r.Context()),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"uptime_s":  int(time.Since(started).Seconds()),
			"backends":  d.Backends,
		}, http.StatusOK)
	}
	r.Get("/health", health)
	r.Get("/api/oauth/health", health)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"ok": true}, http.StatusOK)
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/.well-known/openapi.json", api.ServeHandler(ServiceName, Version))

	token.RegisterHTTP(r, d.Tokens)
	session.RegisterHTTP(r, d.Sessions)
	orchestrator.RegisterHTTP(r, d.Deployments, d.Tokens, d.Config.ProvisionerCallbackToken, d.Config.DeployScopes)
	status.RegisterHTTP(r, d.Status)
	if d.Config.AdminToken != "" {
		admin.RegisterHTTP(r, admin.New(d.Tenants, d.Clients, d.Deployments, d.Log), d.Config.AdminToken)
	}
	return r
}

// describe lists the public surface for discovery.
func describe(cfg config.Config) *openapi.Registry {
	reg := openapi.NewRegistry("/api/gcp/token", map[string]string{
		"openid":     "OpenID identity",
		"profile":    "Basic profile",
		"email":      "Email address",
		"mcp-access": "Call tenant MCP services",
	})
	ops := []openapi.Operation{
		{Method: "GET", Path: "/health", Summary: "Service health", Tags: []string{"ops"}, Public: true, Responses: openapi.Responses("200", "healthy")},
		{Method: "GET", Path: "/api/oauth/health", Summary: "Token service health", Tags: []string{"ops"}, Public: true, Responses: openapi.Responses("200", "healthy")},
		{Method: "POST", Path: "/api/gcp/token", Summary: "Issue an access token", Tags: []string{"oauth"}, Public: true,
			RequestBody: openapi.JSONBody([]string{"grant_type", "client_id"}, map[string]string{
				"grant_type": "string", "client_id": "string", "client_secret": "string", "scope": "string", "code": "string", "redirect_uri": "string",
			}),
			Responses: openapi.Responses("200", "token issued", "400", "invalid or unsupported request", "401", "client authentication failed")},
		{Method: "POST", Path: "/api/deploy-service", Summary: "Request a service deployment", Tags: []string{"deployments"}, Scopes: cfg.DeployScopes,
			Description: "Supports the Idempotency-Key header; a replay returns the original deployment.",
			RequestBody: openapi.JSONBody([]string{"service_name"}, map[string]string{
				"service_name": "string", "service_type": "string", "region": "string", "config": "object", "env_vars": "object", "auto_start": "boolean",
			}),
			Responses: openapi.Responses("202", "deployment initiated", "400", "invalid request", "401", "missing or invalid token", "403", "denied", "409", "idempotency conflict")},
		{Method: "GET", Path: "/api/deployments/{id}", Summary: "Deployment status", Tags: []string{"deployments"}, Responses: openapi.Responses("200", "deployment", "404", "not found")},
		{Method: "POST", Path: "/api/deployments/{id}/status", Summary: "Provisioner status callback", Tags: []string{"deployments"}, Public: true,
			RequestBody: openapi.JSONBody([]string{"status"}, map[string]string{"status": "string", "message": "string"}),
			Responses:   openapi.Responses("200", "updated", "409", "illegal transition")},
		{Method: "GET", Path: "/api/tenant/{tenant}/status", Summary: "Tenant status", Tags: []string{"tenants"}, Public: true, Responses: openapi.Responses("200", "status")},
		{Method: "POST", Path: "/api/sallyport/session", Summary: "Create a session", Tags: []string{"sessions"}, Public: true, Responses: openapi.Responses("201", "created")},
		{Method: "GET", Path: "/api/sallyport/verify", Summary: "Verify a session", Tags: []string{"sessions"}, Public: true, Responses: openapi.Responses("200", "valid", "401", "invalid")},
		{Method: "POST", Path: "/api/sallyport/logout", Summary: "Revoke a session", Tags: []string{"sessions"}, Public: true, Responses: openapi.Responses("200", "revoked")},
	}
	if cfg.AdminToken != "" {
		ops = append(ops,
			openapi.Operation{Method: "GET", Path: "/admin/tenants/{tenant}", Summary: "Tenant metadata and activity", Tags: []string{"admin"}, Responses: openapi.Responses("200", "tenant", "404", "unknown tenant")},
			openapi.Operation{Method: "PUT", Path: "/admin/tenants/{tenant}", Summary: "Replace tenant metadata", Tags: []string{"admin"}, Responses: openapi.Responses("200", "updated")},
			openapi.Operation{Method: "GET", Path: "/admin/tenants/{tenant}/deployments/{id}", Summary: "Deployment for any tenant", Tags: []string{"admin"}, Responses: openapi.Responses("200", "deployment", "404", "not found")},
			openapi.Operation{Method: "POST", Path: "/admin/clients", Summary: "Register an OAuth client", Tags: []string{"admin"}, Responses: openapi.Responses("201", "registered")},
		)
	}
	for _, op := range ops {
		reg.Register(op)
	}
	return reg
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
