package token

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"mcpgateway/pkg/clients"
	"mcpgateway/pkg/config"
	"mcpgateway/pkg/problems"
	"mcpgateway/pkg/tenants"
)

const (
	GrantClientCredentials = "client_credentials"
	GrantAuthorizationCode = "authorization_code"

	DefaultScope = "openid profile email mcp-access"
)

var tokensIssued = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gateway_tokens_issued_total",
	Help: "Access tokens issued by grant type.",
}, []string{"grant_type"})

// Request is an OAuth2 token request (JSON or form encoded).
type Request struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Scope        string `json:"scope"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
}

// Response is the token endpoint body. Enrichment keys are flattened into
// the top-level JSON object.
type Response struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int
	Scope        string
	Tenant       string
	IssuedAt     time.Time
	RefreshToken string
	Enrichment   map[string]any
}

func (r Response) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Enrichment)+7)
	for k, v := range r.Enrichment {
		out[k] = v
	}
	out["access_token"] = r.AccessToken
	out["token_type"] = r.TokenType
	out["expires_in"] = r.ExpiresIn
	out["scope"] = r.Scope
	out["tenant"] = r.Tenant
	out["issued_at"] = r.IssuedAt.UTC().Format(time.RFC3339)
	if r.RefreshToken != "" {
		out["refresh_token"] = r.RefreshToken
	}
	return json.Marshal(out)
}

// Service validates grant requests and mints tenant-scoped tokens.
type Service struct {
	cfg     config.Config
	signer  *Signer
	clients clients.Registry
	tenants tenants.Registry
	log     *zap.SugaredLogger
}

func NewService(cfg config.Config, signer *Signer, cr clients.Registry, tr tenants.Registry, log *zap.SugaredLogger) *Service {
	return &Service{cfg: cfg, signer: signer, clients: cr, tenants: tr, log: log}
}

// Verify checks an access token; it satisfies middleware.Verifier.
func (s *Service) Verify(raw string) (jwt.Token, error) { return s.signer.Verify(raw) }

// Issue validates req for tenantID and returns a signed access token.
func (s *Service) Issue(ctx context.Context, tenantID string, req Request) (Response, error) {
	if req.GrantType != GrantClientCredentials && req.GrantType != GrantAuthorizationCode {
		return Response{}, problems.New(problems.UnsupportedGrantType, "grant_type must be client_credentials or authorization_code")
	}
	if req.ClientID == "" {
		return Response{}, problems.New(problems.InvalidRequest, "client_id is required")
	}
	if err := s.clients.Verify(ctx, tenantID, req.ClientID, req.ClientSecret); err != nil {
		s.log.Warnw("client authentication failed", "tenant", tenantID, "client_id", req.ClientID, "err", err)
		return Response{}, problems.Wrap(problems.InvalidClient, "Client authentication failed", err)
	}
	scope := req.Scope
	if scope == "" {
		scope = DefaultScope
	}

	md, known, err := s.tenants.Lookup(ctx, tenantID)
	if err != nil {
		return Response{}, problems.Wrap(problems.ServerError, "Failed to load tenant metadata", err)
	}
	var enrichment map[string]any
	if known {
		enrichment = md.TokenClaims()
	}
	aud := s.cfg.MCPEndpoint(tenantID)
	if known && md.MCPEndpoint != "" {
		aud = md.MCPEndpoint
	}

	claims := map[string]any{
		"tenant":     tenantID,
		"scope":      scope,
		"grant_type": req.GrantType,
	}
	for k, v := range enrichment {
		claims[k] = v
	}
	access, err := s.signer.Sign(req.ClientID, aud, config.AccessTokenTTL, claims)
	if err != nil {
		return Response{}, problems.Wrap(problems.ServerError, "Failed to sign token", err)
	}

	resp := Response{
		AccessToken: access.Raw,
		TokenType:   "Bearer",
		ExpiresIn:   int(config.AccessTokenTTL / time.Second),
		Scope:       scope,
		Tenant:      tenantID,
		IssuedAt:    access.IssuedAt,
		Enrichment:  enrichment,
	}
	if req.GrantType == GrantAuthorizationCode {
		refreshClaims := map[string]any{"type": "refresh"}
		for k, v := range claims {
			refreshClaims[k] = v
		}
		refresh, err := s.signer.Sign(req.ClientID, aud, s.cfg.RefreshTokenTTL, refreshClaims)
		if err != nil {
			return Response{}, problems.Wrap(problems.ServerError, "Failed to sign refresh token", err)
		}
		resp.RefreshToken = refresh.Raw
	}

	if _, err := s.tenants.Touch(ctx, tenantID); err != nil {
		s.log.Warnw("tenant activity not recorded", "tenant", tenantID, "err", err)
	}
	tokensIssued.WithLabelValues(req.GrantType).Inc()
	s.log.Infow("token issued", "tenant", tenantID, "client_id", req.ClientID, "grant_type", req.GrantType, "jti", access.ID)
	return resp, nil
}
