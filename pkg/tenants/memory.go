// pkg/tenants/memory.go
package tenants

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type memRegistry struct {
	log *zap.SugaredLogger
	now func() time.Time

	mu   sync.RWMutex
	meta map[string]Metadata
	seen map[string]Tenant
}

// NewMemoryRegistry builds a process-local registry over the given metadata.
func NewMemoryRegistry(log *zap.SugaredLogger, seed []Metadata) Registry {
	m := &memRegistry{log: log, now: time.Now, meta: map[string]Metadata{}, seen: map[string]Tenant{}}
	for _, md := range seed {
		m.meta[md.ID] = md
	}
	log.Infow("tenant registry loaded", "backend", "memory", "tenants", len(m.meta))
	return m
}

func (m *memRegistry) Lookup(ctx context.Context, id string) (Metadata, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	md, ok := m.meta[id]
	return md, ok, nil
}

func (m *memRegistry) Put(ctx context.Context, md Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta[md.ID] = md
	if t, ok := m.seen[md.ID]; ok && md.Company != "" {
		t.DisplayName = md.Company
		m.seen[md.ID] = t
	}
	return nil
}

func (m *memRegistry) Touch(ctx context.Context, id string) (Tenant, error) {
	now := m.now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.seen[id]
	if !ok {
		t = Tenant{ID: id, DisplayName: id, CreatedAt: now}
		if md, known := m.meta[id]; known && md.Company != "" {
			t.DisplayName = md.Company
		}
		m.log.Infow("tenant created", "tenant", id)
	}
	t.LastActivity = now
	m.seen[id] = t
	return t, nil
}

func (m *memRegistry) Get(ctx context.Context, id string) (Tenant, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.seen[id]
	return t, ok, nil
}
