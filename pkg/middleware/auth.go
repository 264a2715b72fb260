// pkg/middleware/auth.go
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwt"

	"mcpgateway/pkg/problems"
)

// Verifier checks a raw access token (signature, issuer, expiry).
type Verifier interface {
	Verify(raw string) (jwt.Token, error)
}

type ctxTokenKey struct{}

// BearerAuth requires a valid access token whose tenant claim matches the
// resolved tenant. Refresh and session tokens are refused.
func BearerAuth(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearer(r.Header.Get("Authorization"))
			if !ok {
				problems.Write(w, problems.New(problems.Unauthorized, "Missing or invalid authorization header"))
				return
			}
			jt, err := v.Verify(raw)
			if err != nil {
				problems.Write(w, problems.Wrap(problems.InvalidToken, "Invalid or expired token", err))
				return
			}
			if typ := stringClaim(jt, "type"); typ != "" {
				problems.Write(w, problems.New(problems.InvalidToken, "Token type "+typ+" is not an access token"))
				return
			}
			if tid := stringClaim(jt, "tenant"); tid != TenantFrom(r.Context()) {
				problems.Write(w, problems.New(problems.Forbidden, "Token was not issued for this tenant"))
				return
			}
			ctx := WithScopes(r.Context(), strings.Fields(stringClaim(jt, "scope")))
			ctx = context.WithValue(ctx, ctxTokenKey{}, jt)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearer(authz string) (string, bool) {
	if len(authz) < len("Bearer ") || !strings.EqualFold(authz[:len("Bearer ")], "bearer ") {
		return "", false
	}
	raw := strings.TrimSpace(authz[len("Bearer "):])
	return raw, raw != ""
}

func stringClaim(jt jwt.Token, name string) string {
	if v, ok := jt.Get(name); ok {
		s, _ := v.(string)
		return s
	}
	return ""
}

// TokenFrom returns the verified access token, or nil on unauthenticated routes.
func TokenFrom(ctx context.Context) jwt.Token {
	t, _ := ctx.Value(ctxTokenKey{}).(jwt.Token)
	return t
}

// ClaimsFrom returns the verified claims as a plain map.
func ClaimsFrom(ctx context.Context) map[string]any {
	jt := TokenFrom(ctx)
	if jt == nil {
		return map[string]any{}
	}
	m, err := jt.AsMap(ctx)
	if err != nil {
		return map[string]any{}
	}
	return m
}

func GrantTypeFrom(ctx context.Context) string {
	if jt := TokenFrom(ctx); jt != nil {
		return stringClaim(jt, "grant_type")
	}
	return ""
}

func ActorSub(ctx context.Context) string {
	if jt := TokenFrom(ctx); jt != nil {
		return jt.Subject()
	}
	return ""
}
