package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpgateway/pkg/config"
	"mcpgateway/pkg/logger"
	"mcpgateway/pkg/tenants"
)

func newFixture(t *testing.T) (http.Handler, tenants.Registry) {
	t.Helper()
	seed, err := tenants.LoadSeed("", "")
	require.NoError(t, err)
	reg := tenants.NewMemoryRegistry(logger.Nop(), seed)
	svc := NewService(config.Config{MCPDomainSuffix: "2100.cool"}, reg, logger.Nop())
	r := chi.NewRouter()
	RegisterHTTP(r, svc)
	return r, reg
}

func get(t *testing.T, h http.Handler, path string) map[string]any {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestStatus_UnknownTenant(t *testing.T) {
	h, _ := newFixture(t)
	body := get(t, h, "/api/tenant/unknown-tenant/status")

	assert.Equal(t, "unknown-tenant", body["tenant"])
	assert.Equal(t, "active", body["status"])
	assert.Equal(t, "mcp.unknown-tenant.2100.cool", body["mcp_endpoint"])
	assert.Equal(t, true, body["oauth_enabled"])
	assert.Equal(t, true, body["sallyport_enabled"])
	assert.NotEmpty(t, body["last_activity"])
	for _, k := range []string{"company", "owner", "sao_level", "pcp", "industry", "tier"} {
		assert.NotContains(t, body, k)
	}
}

func TestStatus_KnownTenantEnriched(t *testing.T) {
	h, _ := newFixture(t)
	body := get(t, h, "/api/tenant/zaxon/status")

	assert.Equal(t, "Zaxon Construction", body["company"])
	assert.Equal(t, "SAPPHIRE", body["sao_level"])
	assert.Equal(t, "construction", body["industry"])
	assert.Equal(t, "mcp.zaxon.2100.cool", body["mcp_endpoint"])
}

func TestStatus_LastActivityFromRegistry(t *testing.T) {
	h, reg := newFixture(t)
	touched, err := reg.Touch(context.Background(), "zaxon")
	require.NoError(t, err)

	body := get(t, h, "/api/tenant/zaxon/status")
	assert.Equal(t, touched.LastActivity.UTC().Format(time.RFC3339), body["last_activity"])
}
