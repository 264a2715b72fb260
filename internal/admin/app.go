package admin

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mcpgateway/internal/orchestrator"
	"mcpgateway/pkg/clients"
	"mcpgateway/pkg/problems"
	"mcpgateway/pkg/tenants"
)

// App manages tenant metadata and OAuth clients for operators.
type App struct {
	tenants     tenants.Registry
	clients     clients.Store
	deployments *orchestrator.Service
	log         *zap.SugaredLogger
}

func New(tr tenants.Registry, cs clients.Store, deployments *orchestrator.Service, log *zap.SugaredLogger) *App {
	return &App{tenants: tr, clients: cs, deployments: deployments, log: log}
}

// TenantView is the admin read model for one tenant.
type TenantView struct {
	ID           string            `json:"id"`
	Known        bool              `json:"known"`
	Metadata     *tenants.Metadata `json:"metadata,omitempty"`
	DisplayName  string            `json:"display_name,omitempty"`
	CreatedAt    string            `json:"created_at,omitempty"`
	LastActivity string            `json:"last_activity,omitempty"`
}

func (a *App) Tenant(ctx context.Context, id string) (TenantView, error) {
	v := TenantView{ID: id}
	md, known, err := a.tenants.Lookup(ctx, id)
	if err != nil {
		return v, problems.Wrap(problems.ServerError, "tenant lookup failed", err)
	}
	if known {
		v.Known = true
		v.Metadata = &md
	}
	t, seen, err := a.tenants.Get(ctx, id)
	if err != nil {
		return v, problems.Wrap(problems.ServerError, "tenant lookup failed", err)
	}
	if seen {
		v.DisplayName = t.DisplayName
		v.CreatedAt = t.CreatedAt.UTC().Format(time.RFC3339)
		v.LastActivity = t.LastActivity.UTC().Format(time.RFC3339)
	}
	if !known && !seen {
		return v, problems.New(problems.NotFound, "tenant "+id+" is not registered")
	}
	return v, nil
}

// PutTenant replaces the metadata record for id.
func (a *App) PutTenant(ctx context.Context, id string, md tenants.Metadata) (tenants.Metadata, error) {
	if id == "" {
		return md, problems.New(problems.InvalidRequest, "tenant id is required")
	}
	md.ID = id
	if err := a.tenants.Put(ctx, md); err != nil {
		return md, problems.Wrap(problems.ServerError, "tenant update failed", err)
	}
	a.log.Infow("tenant metadata updated", "tenant", id)
	return md, nil
}

// ClientRequest registers a client. A secret is generated unless Public is set
// or one is supplied.
type ClientRequest struct {
	ClientID string `json:"client_id"`
	Secret   string `json:"client_secret"`
	TenantID string `json:"tenant_id"`
	Public   bool   `json:"public"`
}

// Registered echoes a new client. Secret is only ever returned here.
type Registered struct {
	ClientID string `json:"client_id"`
	Secret   string `json:"client_secret,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
}

func (a *App) RegisterClient(ctx context.Context, req ClientRequest) (Registered, error) {
	out := Registered{ClientID: strings.TrimSpace(req.ClientID), TenantID: tenants.Slug(req.TenantID)}
	if out.ClientID == "" {
		out.ClientID = "client-" + uuid.NewString()
	}
	if req.TenantID != "" && out.TenantID == "" {
		return out, problems.New(problems.InvalidRequest, "tenant_id is not a valid tenant slug")
	}
	if req.Public && req.Secret != "" {
		return out, problems.New(problems.InvalidRequest, "public clients cannot carry a secret")
	}
	rec := clients.Record{ClientID: out.ClientID, TenantID: out.TenantID}
	if !req.Public {
		out.Secret = req.Secret
		if out.Secret == "" {
			s, err := newSecret()
			if err != nil {
				return out, problems.Wrap(problems.ServerError, "secret generation failed", err)
			}
			out.Secret = s
		}
		h, err := clients.HashSecret(out.Secret)
		if err != nil {
			return out, problems.Wrap(problems.ServerError, "secret hashing failed", err)
		}
		rec.SecretHash = h
	}
	if err := a.clients.Upsert(ctx, []clients.Record{rec}); err != nil {
		return out, problems.Wrap(problems.ServerError, "client registration failed", err)
	}
	a.log.Infow("oauth client registered", "client_id", out.ClientID, "tenant", out.TenantID, "public", req.Public)
	return out, nil
}

// Deployment reads a deployment for any tenant.
func (a *App) Deployment(ctx context.Context, tenantID, id string) (orchestrator.Descriptor, error) {
	return a.deployments.Get(ctx, tenantID, id)
}

func newSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// requireToken guards the admin routes with a static operator token.
func requireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			if len(authz) < 7 || !strings.EqualFold(authz[:7], "bearer ") {
				problems.Write(w, problems.New(problems.Unauthorized, "Missing or invalid authorization header"))
				return
			}
			if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(authz[7:])), []byte(token)) != 1 {
				problems.Write(w, problems.New(problems.InvalidToken, "admin token rejected"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
