package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_Precedence(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		target      string
		host        string
		header      string
		contentType string
		body        string
		want        string
	}{
		{name: "header wins over subdomain", method: "GET", target: "/", host: "acme.gw.example.com", header: "zaxon", want: "zaxon"},
		{name: "header wins over body", method: "POST", target: "/?tenant=q", header: "h", contentType: "application/json", body: `{"tenant":"b"}`, want: "h"},
		{name: "json body before query", method: "POST", target: "/?tenant=q", contentType: "application/json", body: `{"tenant":"b"}`, want: "b"},
		{name: "form body", method: "POST", target: "/", contentType: "application/x-www-form-urlencoded", body: "grant_type=x&tenant=formco", want: "formco"},
		{name: "query before subdomain", method: "GET", target: "/?tenant=q", host: "acme.gw.example.com", want: "q"},
		{name: "subdomain", method: "GET", target: "/", host: "acme.gw.example.com:8443", want: "acme"},
		{name: "www is not a tenant", method: "GET", target: "/", host: "www.example.com", want: "default"},
		{name: "two labels", method: "GET", target: "/", host: "example.com", want: "default"},
		{name: "ip host", method: "GET", target: "/", host: "10.0.0.12:8080", want: "default"},
		{name: "blank header falls through", method: "GET", target: "/?tenant=q", header: "  ", want: "q"},
		{name: "header normalised", method: "GET", target: "/", header: "Zaxon Construction!", want: "zaxon-construction"},
		{name: "non-string body tenant ignored", method: "POST", target: "/?tenant=q", contentType: "application/json", body: `{"tenant":42}`, want: "q"},
		{name: "default", method: "GET", target: "/", host: "localhost:8080", want: "default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			if tt.host != "" {
				req.Host = tt.host
			}
			if tt.header != "" {
				req.Header.Set("X-Tenant-ID", tt.header)
			}
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			assert.Equal(t, tt.want, Resolve(req, "X-Tenant-ID"))
		})
	}
}

func TestResolveTenant_BodyRestored(t *testing.T) {
	const body = `{"tenant":"zaxon","service_name":"widget"}`
	var seenTenant, seenBody string
	h := ResolveTenant("X-Tenant-ID")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenTenant = TenantFrom(r.Context())
		b, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		seenBody = string(b)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/deploy-service", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "zaxon", seenTenant)
	assert.Equal(t, body, seenBody)
}


func TestTenantFrom_DefaultOutsideResolver(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "default", TenantFrom(req.Context()))
}
