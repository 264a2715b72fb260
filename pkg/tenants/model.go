package tenants

import (
	"strings"
	"time"
)

// DefaultID is the tenant used when a request carries no tenant hint.
const DefaultID = "default"

// Tenant represents a logical customer namespace.
type Tenant struct {
	ID           string    // url-safe slug (zaxon)
	DisplayName  string    // human name, falls back to the id
	CreatedAt    time.Time // first time the tenant was seen
	LastActivity time.Time // last token issuance
}

// Metadata is the static business record for a known tenant. It drives token
// enrichment, deployment env injection and status reporting.
type Metadata struct {
	ID                  string            `json:"id" yaml:"id"`
	Company             string            `json:"company" yaml:"company"`
	Owner               string            `json:"owner" yaml:"owner"`
	OwnerEmail          string            `json:"owner_email" yaml:"owner_email"`
	SAOLevel            string            `json:"sao_level" yaml:"sao_level"`
	PCP                 string            `json:"pcp" yaml:"pcp"`
	Industry            string            `json:"industry" yaml:"industry"`
	Tier                string            `json:"tier" yaml:"tier"`
	MCPEndpoint         string            `json:"mcp_endpoint" yaml:"mcp_endpoint"`               // optional override of mcp.<id>.<suffix>
	EnvVars             map[string]string `json:"env_vars" yaml:"env_vars"`                       // injected into every deployment
	ClaimEnv            map[string]string `json:"claim_env" yaml:"claim_env"`                     // env var -> JMESPath over token claims
	AllowedServiceTypes []string          `json:"allowed_service_types" yaml:"allowed_service_types"` // empty = any
}

// TokenClaims returns the enrichment merged into access tokens.
func (m Metadata) TokenClaims() map[string]any {
	out := map[string]any{}
	put(out, "company", m.Company)
	put(out, "owner", m.Owner)
	put(out, "sao_level", m.SAOLevel)
	put(out, "pcp", m.PCP)
	return out
}

// StatusFields returns the enrichment merged into tenant status reports.
func (m Metadata) StatusFields() map[string]any {
	out := m.TokenClaims()
	put(out, "industry", m.Industry)
	put(out, "tier", m.Tier)
	return out
}

// DeploymentEnv returns the static env vars for deployments of this tenant.
func (m Metadata) DeploymentEnv() map[string]string {
	out := map[string]string{}
	putEnv(out, "COMPANY_NAME", m.Company)
	putEnv(out, "OWNER_EMAIL", m.OwnerEmail)
	putEnv(out, "SAO_LEVEL", m.SAOLevel)
	putEnv(out, "PCP_NAME", m.PCP)
	for k, v := range m.EnvVars {
		out[k] = v
	}
	return out
}

func put(m map[string]any, k, v string) {
	if v != "" {
		m[k] = v
	}
}

func putEnv(m map[string]string, k, v string) {
	if v != "" {
		m[k] = v
	}
}

// builtinSeed is the registry used when no seed is configured.
func builtinSeed() []Metadata {
	return []Metadata{{
		ID:          "zaxon",
		Company:     "Zaxon Construction",
		Owner:       "Aaron Harris",
		OwnerEmail:  "aaron.harris@zaxonconstruction.com",
		SAOLevel:    "SAPPHIRE",
		PCP:         "ZENA",
		Industry:    "construction",
		Tier:        "professional",
		MCPEndpoint: "mcp.zaxon.2100.cool",
	}}
}

// Slug is the canonical tenant id form: lowercase, with runs of characters
// outside [a-z0-9] collapsed to '-'.
func Slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
