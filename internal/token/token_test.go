package token

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpgateway/pkg/clients"
	"mcpgateway/pkg/config"
	"mcpgateway/pkg/logger"
	"mcpgateway/pkg/middleware"
	"mcpgateway/pkg/problems"
	"mcpgateway/pkg/tenants"
)

func testConfig() config.Config {
	return config.Config{
		SigningSecret:   "test-secret",
		Issuer:          "mcp-gateway-oauth2",
		RefreshTokenTTL: 30 * 24 * time.Hour,
		ClockSkew:       0,
		MCPDomainSuffix: "2100.cool",
	}
}

func newTestService(t *testing.T, cr clients.Registry) (*Service, tenants.Registry) {
	t.Helper()
	cfg := testConfig()
	seed, err := tenants.LoadSeed("", "")
	require.NoError(t, err)
	reg := tenants.NewMemoryRegistry(logger.Nop(), seed)
	if cr == nil {
		cr = clients.Open{}
	}
	return NewService(cfg, NewSigner(cfg.SigningSecret, cfg.Issuer, cfg.ClockSkew), cr, reg, logger.Nop()), reg
}

func TestSigner_RoundTripAndExpiry(t *testing.T) {
	s := NewSigner("k", "iss", 0)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	m, err := s.Sign("abc", "mcp.t.2100.cool", time.Hour, map[string]any{"tenant": "t"})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, m.ExpiresAt.Sub(m.IssuedAt))

	jt, err := s.Verify(m.Raw)
	require.NoError(t, err)
	assert.Equal(t, "abc", jt.Subject())
	assert.Equal(t, []string{"mcp.t.2100.cool"}, jt.Audience())
	tenant, _ := jt.Get("tenant")
	assert.Equal(t, "t", tenant)

	now = now.Add(2 * time.Hour)
	_, err = s.Verify(m.Raw)
	require.Error(t, err)
	assert.True(t, IsExpired(err))

	_, err = NewSigner("other", "iss", 0).Verify(m.Raw)
	require.Error(t, err)
	assert.False(t, IsExpired(err))

	_, err = NewSigner("k", "someone-else", 0).Verify(m.Raw)
	assert.Error(t, err)
}

func TestSigner_EmptySecret(t *testing.T) {
	_, err := NewSigner("", "iss", 0).Sign("abc", "", time.Hour, nil)
	assert.Error(t, err)
}

func TestIssue_Validation(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
		want problems.Kind
	}{
		{"missing grant type", Request{ClientID: "abc"}, problems.UnsupportedGrantType},
		{"unknown grant type", Request{GrantType: "password", ClientID: "abc"}, problems.UnsupportedGrantType},
		{"grant checked before client id", Request{GrantType: "implicit"}, problems.UnsupportedGrantType},
		{"missing client id", Request{GrantType: GrantClientCredentials}, problems.InvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Issue(ctx, "default", tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.want, problems.As(err).Kind)
			assert.Equal(t, http.StatusBadRequest, problems.As(err).Kind.Status())
		})
	}
}

func TestIssue_ClientCredentials(t *testing.T) {
	svc, reg := newTestService(t, nil)
	ctx := context.Background()

	resp, err := svc.Issue(ctx, "zaxon", Request{GrantType: GrantClientCredentials, ClientID: "abc", Scope: "mcp-access"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, 3600, resp.ExpiresIn)
	assert.Equal(t, "zaxon", resp.Tenant)
	assert.Empty(t, resp.RefreshToken)
	assert.Equal(t, "Zaxon Construction", resp.Enrichment["company"])

	jt, err := svc.Verify(resp.AccessToken)
	require.NoError(t, err)
	tenant, _ := jt.Get("tenant")
	scope, _ := jt.Get("scope")
	company, _ := jt.Get("company")
	assert.Equal(t, "zaxon", tenant)
	assert.Equal(t, "mcp-access", scope)
	assert.Equal(t, "Zaxon Construction", company)
	assert.Equal(t, []string{"mcp.zaxon.2100.cool"}, jt.Audience())
	assert.Equal(t, time.Hour, jt.Expiration().Sub(jt.IssuedAt()))

	tn, ok, err := reg.Get(ctx, "zaxon")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Zaxon Construction", tn.DisplayName)
}

func TestIssue_DefaultScopeAndUnknownTenant(t *testing.T) {
	svc, _ := newTestService(t, nil)
	resp, err := svc.Issue(context.Background(), "newco", Request{GrantType: GrantClientCredentials, ClientID: "abc"})
	require.NoError(t, err)
	assert.Equal(t, DefaultScope, resp.Scope)
	assert.Empty(t, resp.Enrichment)

	b, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "company")
}

func TestIssue_AuthorizationCodeAddsRefresh(t *testing.T) {
	svc, _ := newTestService(t, nil)
	resp, err := svc.Issue(context.Background(), "zaxon", Request{
		GrantType: GrantAuthorizationCode, ClientID: "abc", Code: "xyz", RedirectURI: "https://app.example/cb",
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.RefreshToken)

	rt, err := svc.Verify(resp.RefreshToken)
	require.NoError(t, err)
	typ, _ := rt.Get("type")
	assert.Equal(t, "refresh", typ)
	assert.Equal(t, 30*24*time.Hour, rt.Expiration().Sub(rt.IssuedAt()))
}

func TestIssue_IdenticalRequestsYieldDistinctTokens(t *testing.T) {
	svc, _ := newTestService(t, nil)
	req := Request{GrantType: GrantClientCredentials, ClientID: "abc"}
	a, err := svc.Issue(context.Background(), "default", req)
	require.NoError(t, err)
	b, err := svc.Issue(context.Background(), "default", req)
	require.NoError(t, err)

	assert.NotEqual(t, a.AccessToken, b.AccessToken)
	_, err = svc.Verify(a.AccessToken)
	assert.NoError(t, err)
	_, err = svc.Verify(b.AccessToken)
	assert.NoError(t, err)
}

func TestIssue_ClientRegistryRejects(t *testing.T) {
	records, err := clients.ParseSeed(`[{"client_id":"svc","secret":"pw"}]`)
	require.NoError(t, err)
	svc, _ := newTestService(t, clients.NewStatic(records))

	_, err = svc.Issue(context.Background(), "default", Request{GrantType: GrantClientCredentials, ClientID: "svc", ClientSecret: "wrong"})
	require.Error(t, err)
	assert.Equal(t, problems.InvalidClient, problems.As(err).Kind)

	_, err = svc.Issue(context.Background(), "default", Request{GrantType: GrantClientCredentials, ClientID: "svc", ClientSecret: "pw"})
	assert.NoError(t, err)
}

func newRouter(svc *Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.ResolveTenant("X-Tenant-ID"))
	RegisterHTTP(r, svc)
	return r
}

func TestHandleToken_JSON(t *testing.T) {
	svc, _ := newTestService(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/gcp/token",
		strings.NewReader(`{"grant_type":"client_credentials","client_id":"abc"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", "zaxon")
	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "zaxon", body["tenant"])
	assert.Equal(t, "Zaxon Construction", body["company"])
	assert.Equal(t, "Bearer", body["token_type"])
	assert.EqualValues(t, 3600, body["expires_in"])
	assert.NotContains(t, body, "refresh_token")
}

func TestHandleToken_FormWithTenantField(t *testing.T) {
	svc, _ := newTestService(t, nil)
	form := url.Values{"grant_type": {"authorization_code"}, "client_id": {"abc"}, "code": {"c"}, "tenant": {"acme"}}
	req := httptest.NewRequest(http.MethodPost, "/api/gcp/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "acme", body["tenant"])
	assert.NotEmpty(t, body["refresh_token"])
}

func TestHandleToken_Errors(t *testing.T) {
	svc, _ := newTestService(t, nil)
	tests := []struct {
		name     string
		body     string
		status   int
		wantCode string
	}{
		{"empty body", ``, http.StatusBadRequest, "unsupported_grant_type"},
		{"bad grant", `{"grant_type":"password","client_id":"abc"}`, http.StatusBadRequest, "unsupported_grant_type"},
		{"no client", `{"grant_type":"client_credentials"}`, http.StatusBadRequest, "invalid_request"},
		{"malformed json", `{"grant_type":`, http.StatusBadRequest, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/gcp/token", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			newRouter(svc).ServeHTTP(rec, req)

			require.Equal(t, tt.status, rec.Code)
			var env problems.Envelope
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
			assert.Equal(t, tt.wantCode, env.Error)
			assert.NotEmpty(t, env.Timestamp)
		})
	}
}
