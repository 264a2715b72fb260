package openapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
)

// Operation represents a single HTTP operation to surface in OpenAPI.
type Operation struct {
	Method      string         `json:"method"`
	Path        string         `json:"path"`
	Summary     string         `json:"summary,omitempty"`
	Description string         `json:"description,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Public      bool           `json:"-"` // no bearer token required
	Scopes      []string       `json:"x-required-scopes,omitempty"`
	RequestBody any            `json:"requestBody,omitempty"`
	Responses   map[string]any `json:"responses"`
}

// Registry collects the operations the gateway exposes.
type Registry struct {
	Ops []Operation
	// TokenURL and Scopes describe the OAuth2 client credentials flow.
	TokenURL string
	Scopes   map[string]string
}

func NewRegistry(tokenURL string, scopes map[string]string) *Registry {
	return &Registry{Ops: []Operation{}, TokenURL: tokenURL, Scopes: scopes}
}

func (r *Registry) Register(op Operation) {
	if op.Method != "" {
		op.Method = strings.ToLower(op.Method)
	}
	r.Ops = append(r.Ops, op)
}

// Paths lists registered paths in sorted order.
func (r *Registry) Paths() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, op := range r.Ops {
		if _, ok := seen[op.Path]; !ok {
			seen[op.Path] = struct{}{}
			out = append(out, op.Path)
		}
	}
	sort.Strings(out)
	return out
}

// Build produces a minimal OpenAPI 3.1 document for the registered
// operations. Schemas are kept inline.
func (r *Registry) Build(serviceName, version string) map[string]any {
	paths := map[string]any{}
	for _, op := range r.Ops {
		if _, ok := paths[op.Path]; !ok {
			paths[op.Path] = map[string]any{}
		}
		m := map[string]any{
			"summary":   op.Summary,
			"tags":      op.Tags,
			"responses": op.Responses,
		}
		if op.Description != "" {
			m["description"] = op.Description
		}
		if op.Public {
			m["security"] = []map[string]any{}
		}
		if len(op.Scopes) > 0 {
			m["x-required-scopes"] = op.Scopes
		}
		if op.RequestBody != nil {
			m["requestBody"] = op.RequestBody
		}
		paths[op.Path].(map[string]any)[op.Method] = m
	}
	return map[string]any{
		"openapi": "3.1.0",
		"info":    map[string]any{"title": serviceName, "version": version},
		"paths":   paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"oauth": map[string]any{
					"type": "oauth2",
					"flows": map[string]any{
						"clientCredentials": map[string]any{
							"tokenUrl": r.TokenURL,
							"scopes":   r.Scopes,
						},
					},
				},
			},
		},
		"security": []map[string]any{{"oauth": []string{}}},
	}
}

// ServeHandler returns an HTTP handler that serves the built OpenAPI JSON.
func (r *Registry) ServeHandler(serviceName, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		_ = json.NewEncoder(w).Encode(r.Build(serviceName, version))
	}
}

// JSONBody is a shorthand request body for an inline object schema.
func JSONBody(required []string, props map[string]string) map[string]any {
	properties := map[string]any{}
	for name, typ := range props {
		properties[name] = map[string]any{"type": typ}
	}
	return map[string]any{
		"required": true,
		"content": map[string]any{
			"application/json": map[string]any{
				"schema": map[string]any{"type": "object", "required": required, "properties": properties},
			},
		},
	}
}

// Responses builds a responses object from status -> description pairs.
func Responses(pairs ...string) map[string]any {
	out := map[string]any{}
	for i := 0; i+1 < len(pairs); i += 2 {
		out[pairs[i]] = map[string]any{"description": pairs[i+1]}
	}
	return out
}
