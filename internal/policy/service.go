package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

// Query evaluated against every deployment request.
const Query = "data.gateway.deploy"

// DefaultModule restricts service types to the tenant allow-list (when one
// is configured) and caps instance counts.
const DefaultModule = `package gateway.deploy

import rego.v1

default deny := false

deny if count(reasons) > 0

reasons contains msg if {
	count(input.tenant.allowed_service_types) > 0
	not input.deployment.service_type in input.tenant.allowed_service_types
	msg := sprintf("service type %q is not allowed for tenant %q", [input.deployment.service_type, input.tenant.id])
}

reasons contains msg if {
	input.deployment.config.max_instances > 100
	msg := "max_instances exceeds the platform limit of 100"
}
`

// Decision is the admission result for one deployment.
type Decision struct {
	Deny    bool     `json:"deny"`
	Reasons []string `json:"reasons,omitempty"`
}

// Engine holds a prepared query; Evaluate is safe for concurrent use.
type Engine struct {
	query rego.PreparedEvalQuery
}

// New compiles module once at startup.
func New(ctx context.Context, module string) (*Engine, error) {
	pq, err := rego.New(
		rego.Query(Query),
		rego.Module("deploy.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile deploy policy: %w", err)
	}
	return &Engine{query: pq}, nil
}

// Load compiles the policy file at path, or DefaultModule when path is empty.
func Load(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return New(ctx, DefaultModule)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read deploy policy: %w", err)
	}
	return New(ctx, string(b))
}

// Evaluate runs the policy. An undefined result allows the deployment.
func (e *Engine) Evaluate(ctx context.Context, input map[string]any) (Decision, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Decision{}, nil
	}
	out, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return Decision{}, fmt.Errorf("deploy policy returned %T, want object", rs[0].Expressions[0].Value)
	}
	dec := Decision{}
	dec.Deny, _ = out["deny"].(bool)
	if rr, ok := out["reasons"].([]any); ok {
		for _, r := range rr {
			if s, ok := r.(string); ok {
				dec.Reasons = append(dec.Reasons, s)
			}
		}
	}
	return dec, nil
}
