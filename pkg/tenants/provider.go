package tenants

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Registry interface {
	// Static metadata for a known tenant; ok=false for unknown tenants.
	Lookup(ctx context.Context, id string) (Metadata, bool, error)
	// Record activity, creating the tenant on first sight.
	Touch(ctx context.Context, id string) (Tenant, error)
	// Tenant record if it has been seen before.
	Get(ctx context.Context, id string) (Tenant, bool, error)
	// Replace the metadata record for md.ID.
	Put(ctx context.Context, md Metadata) error
}

// LoadSeed merges the metadata sources in precedence order: built-in seed,
// TENANT_SEED_JSON, then the YAML registry file. Later sources override
// earlier ones per tenant id.
func LoadSeed(seedJSON, registryFile string) ([]Metadata, error) {
	byID := map[string]Metadata{}
	var order []string
	add := func(list []Metadata) {
		for _, m := range list {
			m.ID = Slug(m.ID)
			if m.ID == "" {
				continue
			}
			if _, ok := byID[m.ID]; !ok {
				order = append(order, m.ID)
			}
			byID[m.ID] = m
		}
	}
	add(builtinSeed())
	if seedJSON != "" {
		var list []Metadata
		if err := json.Unmarshal([]byte(seedJSON), &list); err != nil {
			return nil, fmt.Errorf("parse TENANT_SEED_JSON: %w", err)
		}
		add(list)
	}
	if registryFile != "" {
		b, err := os.ReadFile(registryFile)
		if err != nil {
			return nil, fmt.Errorf("read tenant registry: %w", err)
		}
		var doc struct {
			Tenants []Metadata `yaml:"tenants"`
		}
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("parse tenant registry %s: %w", registryFile, err)
		}
		add(doc.Tenants)
	}
	out := make([]Metadata, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out, nil
}
