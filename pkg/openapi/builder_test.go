package openapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	reg := NewRegistry("/api/gcp/token", map[string]string{"mcp-access": "Call tenant MCP services"})
	reg.Register(Operation{Method: "POST", Path: "/api/gcp/token", Summary: "Issue token", Public: true, Responses: Responses("200", "ok")})
	reg.Register(Operation{Method: "POST", Path: "/api/deploy-service", Summary: "Deploy", Scopes: []string{"mcp-access"},
		RequestBody: JSONBody([]string{"service_name"}, map[string]string{"service_name": "string"}), Responses: Responses("202", "accepted", "401", "unauthorized")})

	doc := reg.Build("mcp-gateway", "1.0.0")
	assert.Equal(t, "3.1.0", doc["openapi"])
	paths := doc["paths"].(map[string]any)
	token := paths["/api/gcp/token"].(map[string]any)["post"].(map[string]any)
	assert.Equal(t, []map[string]any{}, token["security"])
	deploy := paths["/api/deploy-service"].(map[string]any)["post"].(map[string]any)
	assert.Equal(t, []string{"mcp-access"}, deploy["x-required-scopes"])
	assert.Contains(t, deploy["responses"], "401")

	assert.Equal(t, []string{"/api/deploy-service", "/api/gcp/token"}, reg.Paths())
}

func TestServeHandler(t *testing.T) {
	reg := NewRegistry("/api/gcp/token", nil)
	reg.Register(Operation{Method: "get", Path: "/health", Public: true, Responses: Responses("200", "ok")})

	rec := httptest.NewRecorder()
	reg.ServeHandler("mcp-gateway", "1.0.0")(rec, httptest.NewRequest(http.MethodGet, "/.well-known/openapi.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	flows := doc["components"].(map[string]any)["securitySchemes"].(map[string]any)["oauth"].(map[string]any)["flows"].(map[string]any)
	assert.Equal(t, "/api/gcp/token", flows["clientCredentials"].(map[string]any)["tokenUrl"])
}
