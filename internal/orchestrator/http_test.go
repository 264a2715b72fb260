package orchestrator

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpgateway/internal/token"
	"mcpgateway/pkg/middleware"
	"mcpgateway/pkg/problems"
)

const callbackToken = "cb-secret"

type deployResponse struct {
	Success    bool       `json:"success"`
	Deployment Descriptor `json:"deployment"`
	Message    string     `json:"message"`
	NextSteps  []string   `json:"next_steps"`
}

func newHTTPFixture(t *testing.T) (http.Handler, *Service, *token.Signer) {
	t.Helper()
	svc, _ := newTestService(t, nil)
	signer := token.NewSigner("test-secret", "mcp-gateway-oauth2", 0)
	r := chi.NewRouter()
	r.Use(middleware.ResolveTenant("X-Tenant-ID"))
	RegisterHTTP(r, svc, signer, callbackToken, nil)
	t.Cleanup(svc.Wait)
	return r, svc, signer
}

func accessToken(t *testing.T, s *token.Signer, tenant string, extra map[string]any) string {
	t.Helper()
	claims := map[string]any{"tenant": tenant, "scope": "mcp-access", "grant_type": "client_credentials"}
	for k, v := range extra {
		claims[k] = v
	}
	m, err := s.Sign("abc", "mcp."+tenant+".2100.cool", time.Hour, claims)
	require.NoError(t, err)
	return m.Raw
}

func doJSON(h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHTTP_DeployWithoutAuthorization(t *testing.T) {
	h, _, _ := newHTTPFixture(t)
	rec := doJSON(h, http.MethodPost, "/api/deploy-service", `{"service_name":"widget"}`, nil)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var env problems.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "invalid_request", env.Error)
	assert.Equal(t, "Missing or invalid authorization header", env.Description)
}

func TestHTTP_DeployAccepted(t *testing.T) {
	h, _, signer := newHTTPFixture(t)
	rec := doJSON(h, http.MethodPost, "/api/deploy-service", `{"service_name":"widget","region":"europe-west4","config":{"memory":"2Gi"}}`,
		map[string]string{"Authorization": "Bearer " + accessToken(t, signer, "zaxon", nil), "X-Tenant-ID": "zaxon"})

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var body deployResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.NotEmpty(t, body.NextSteps)
	assert.Equal(t, "widget-zaxon", body.Deployment.ServiceName)
	assert.Equal(t, "europe-west4", body.Deployment.Region)
	assert.Equal(t, "2Gi", body.Deployment.Config.Memory)
	assert.Equal(t, "1000m", body.Deployment.Config.CPU)
	assert.Equal(t, "/api/deployments/"+body.Deployment.DeploymentID, rec.Header().Get("Location"))
}

func TestHTTP_DeployRejections(t *testing.T) {
	h, _, signer := newHTTPFixture(t)
	zaxon := accessToken(t, signer, "zaxon", nil)
	refresh := accessToken(t, signer, "zaxon", map[string]any{"type": "refresh"})

	tests := []struct {
		name    string
		body    string
		headers map[string]string
		status  int
		code    string
	}{
		{"missing service name", `{}`, map[string]string{"Authorization": "Bearer " + zaxon, "X-Tenant-ID": "zaxon"}, 400, "invalid_request"},
		{"bad json", `{"service_name":`, map[string]string{"Authorization": "Bearer " + zaxon, "X-Tenant-ID": "zaxon"}, 400, "invalid_request"},
		{"garbage token", `{"service_name":"w"}`, map[string]string{"Authorization": "Bearer abc.def.ghi", "X-Tenant-ID": "zaxon"}, 401, "invalid_token"},
		{"refresh token", `{"service_name":"w"}`, map[string]string{"Authorization": "Bearer " + refresh, "X-Tenant-ID": "zaxon"}, 401, "invalid_token"},
		{"tenant mismatch", `{"service_name":"w"}`, map[string]string{"Authorization": "Bearer " + zaxon, "X-Tenant-ID": "acme"}, 403, "forbidden"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(h, http.MethodPost, "/api/deploy-service", tt.body, tt.headers)
			require.Equal(t, tt.status, rec.Code)
			var env problems.Envelope
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
			assert.Equal(t, tt.code, env.Error)
		})
	}
}

func TestHTTP_IdempotencyReplayHeader(t *testing.T) {
	h, _, signer := newHTTPFixture(t)
	headers := map[string]string{
		"Authorization":   "Bearer " + accessToken(t, signer, "zaxon", nil),
		"X-Tenant-ID":     "zaxon",
		"Idempotency-Key": "retry-1",
	}
	first := doJSON(h, http.MethodPost, "/api/deploy-service", `{"service_name":"widget"}`, headers)
	second := doJSON(h, http.MethodPost, "/api/deploy-service", `{"service_name":"widget"}`, headers)
	require.Equal(t, http.StatusAccepted, first.Code)
	require.Equal(t, http.StatusAccepted, second.Code)
	assert.Empty(t, first.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))

	var a, b deployResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
	assert.Equal(t, a.Deployment.DeploymentID, b.Deployment.DeploymentID)
}

func TestHTTP_PollAndCallback(t *testing.T) {
	h, svc, signer := newHTTPFixture(t)
	auth := map[string]string{"Authorization": "Bearer " + accessToken(t, signer, "zaxon", nil), "X-Tenant-ID": "zaxon"}

	rec := doJSON(h, http.MethodPost, "/api/deploy-service", `{"service_name":"widget"}`, auth)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var created deployResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created.Deployment.DeploymentID
	svc.Wait()

	callback := func(token, body string) *httptest.ResponseRecorder {
		return doJSON(h, http.MethodPost, "/api/deployments/"+id+"/status", body, map[string]string{"Authorization": "Bearer " + token})
	}
	assert.Equal(t, http.StatusUnauthorized, callback("wrong", `{"status":"completed"}`).Code)
	require.Equal(t, http.StatusOK, callback(callbackToken, `{"status":"completed","message":"serving"}`).Code)
	assert.Equal(t, http.StatusConflict, callback(callbackToken, `{"status":"in_progress"}`).Code)

	rec = doJSON(h, http.MethodGet, "/api/deployments/"+id, "", auth)
	require.Equal(t, http.StatusOK, rec.Code)
	var polled deployResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &polled))
	assert.Equal(t, StatusCompleted, polled.Deployment.Status)
	assert.Equal(t, "serving", polled.Deployment.StatusMessage)

	rec = doJSON(h, http.MethodGet, "/api/deployments/deploy-zaxon-0", "", auth)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHTTP_CallbackDisabledWithoutToken(t *testing.T) {
	svc, _ := newTestService(t, nil)
	r := chi.NewRouter()
	RegisterHTTP(r, svc, token.NewSigner("k", "i", 0), "", nil)

	rec := doJSON(r, http.MethodPost, "/api/deployments/x/status", `{"status":"completed"}`, map[string]string{"Authorization": "Bearer "})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
