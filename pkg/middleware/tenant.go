// pkg/middleware/tenant.go
package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"

	"mcpgateway/pkg/tenants"
)

// maxTenantPeek bounds how much of a request body is buffered to find a tenant field.
const maxTenantPeek = 1 << 20

type ctxTenantKey struct{}

// ResolveTenant attaches a tenant id to every request. Precedence: tenant
// header, body "tenant" field, "tenant" query parameter, subdomain, default.
func ResolveTenant(header string) func(http.Handler) http.Handler {
	if header == "" {
		header = "X-Tenant-ID"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := Resolve(r, header)
			next.ServeHTTP(w, r.WithContext(WithTenantID(r.Context(), id)))
		})
	}
}

// Resolve computes the tenant for r. It never fails; a request without any
// usable hint resolves to tenants.DefaultID. A consumed body is restored.
func Resolve(r *http.Request, header string) string {
	candidates := []func() string{
		func() string { return r.Header.Get(header) },
		func() string { return tenantFromBody(r) },
		func() string { return r.URL.Query().Get("tenant") },
		func() string { return subdomain(r.Host) },
	}
	for _, c := range candidates {
		if id := tenants.Slug(c()); id != "" {
			return id
		}
	}
	return tenants.DefaultID
}


func tenantFromBody(r *http.Request) string {
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return ""
	}
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt != "application/json" && mt != "application/x-www-form-urlencoded" {
		return ""
	}
	buf, err := io.ReadAll(io.LimitReader(r.Body, maxTenantPeek))
	r.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(buf), r.Body), Closer: r.Body}
	if err != nil || len(buf) == 0 {
		return ""
	}
	if mt == "application/json" {
		var body struct {
			Tenant any `json:"tenant"`
		}
		if json.Unmarshal(buf, &body) != nil {
			return ""
		}
		s, _ := body.Tenant.(string)
		return s
	}
	vals, err := url.ParseQuery(string(buf))
	if err != nil {
		return ""
	}
	return vals.Get("tenant")
}

type readCloser struct {
	io.Reader
	io.Closer
}

func subdomain(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if host == "" || net.ParseIP(host) != nil {
		return ""
	}
	labels := strings.Split(host, ".")
	if len(labels) < 3 || strings.EqualFold(labels[0], "www") {
		return ""
	}
	return labels[0]
}

// WithTenantID stores a resolved tenant id in ctx.
func WithTenantID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxTenantKey{}, id)
}

// TenantFrom returns the resolved tenant, or the default tenant outside the resolver.
func TenantFrom(ctx context.Context) string {
	if v, ok := ctx.Value(ctxTenantKey{}).(string); ok && v != "" {
		return v
	}
	return tenants.DefaultID
}
