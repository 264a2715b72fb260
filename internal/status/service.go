package status

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"mcpgateway/pkg/config"
	"mcpgateway/pkg/problems"
	"mcpgateway/pkg/tenants"
)

// Report is the tenant status payload. Enrichment keys are flattened into
// the top-level object and only present for tenants in the registry.
type Report struct {
	Tenant           string
	Status           string
	MCPEndpoint      string
	OAuthEnabled     bool
	SallyPortEnabled bool
	Services         []string
	LastActivity     time.Time
	Enrichment       map[string]any
}

func (r Report) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Enrichment)+7)
	for k, v := range r.Enrichment {
		out[k] = v
	}
	out["tenant"] = r.Tenant
	out["status"] = r.Status
	out["mcp_endpoint"] = r.MCPEndpoint
	out["oauth_enabled"] = r.OAuthEnabled
	out["sallyport_enabled"] = r.SallyPortEnabled
	out["services"] = r.Services
	out["last_activity"] = r.LastActivity.UTC().Format(time.RFC3339)
	return json.Marshal(out)
}

type Service struct {
	cfg     config.Config
	tenants tenants.Registry
	log     *zap.SugaredLogger
	now     func() time.Time
}

func NewService(cfg config.Config, tr tenants.Registry, log *zap.SugaredLogger) *Service {
	return &Service{cfg: cfg, tenants: tr, log: log, now: time.Now}
}

// Report never fails for an unknown tenant; it synthesizes an active record.
func (s *Service) Report(ctx context.Context, tenantID string) (Report, error) {
	md, known, err := s.tenants.Lookup(ctx, tenantID)
	if err != nil {
		return Report{}, problems.Wrap(problems.ServerError, "Failed to load tenant metadata", err)
	}
	rep := Report{
		Tenant:           tenantID,
		Status:           "active",
		MCPEndpoint:      s.cfg.MCPEndpoint(tenantID),
		OAuthEnabled:     true,
		SallyPortEnabled: true,
		Services:         []string{"oauth2", "sallyport", "mcp"},
		LastActivity:     s.now(),
	}
	if t, seen, err := s.tenants.Get(ctx, tenantID); err != nil {
		s.log.Warnw("tenant activity unavailable", "tenant", tenantID, "err", err)
	} else if seen {
		rep.LastActivity = t.LastActivity
	}
	if known {
		if md.MCPEndpoint != "" {
			rep.MCPEndpoint = md.MCPEndpoint
		}
		rep.Enrichment = md.StatusFields()
	}
	return rep, nil
}

// RegisterHTTP mounts GET /api/tenant/{tenant}/status.
func RegisterHTTP(r chi.Router, svc *Service) {
	r.Get("/api/tenant/{tenant}/status", func(w http.ResponseWriter, r *http.Request) {
		id := tenants.Slug(chi.URLParam(r, "tenant"))
		if id == "" {
			id = tenants.DefaultID
		}
		rep, err := svc.Report(r.Context(), id)
		if err != nil {
			problems.Write(w, err)
			svc.log.Errorw("tenant status failed", "tenant", id, "err", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rep)
	})
}
