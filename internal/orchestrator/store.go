package orchestrator

import (
	"context"
	"sync"
	"time"
)

// Store persists deployment descriptors.
type Store interface {
	Create(ctx context.Context, d Descriptor) error
	// Get is tenant scoped: another tenant's deployment is ErrNotFound.
	Get(ctx context.Context, tenantID, id string) (Descriptor, error)
	// Transition moves a deployment to next. Repeating the current status is
	// a no-op; anything else not allowed by CanTransitionTo is ErrIllegalTransition.
	Transition(ctx context.Context, id string, next Status, message string) (Descriptor, error)
}

type memoryStore struct {
	mu   sync.RWMutex
	now  func() time.Time
	byID map[string]Descriptor
}

func NewMemoryStore() Store {
	return &memoryStore{now: time.Now, byID: map[string]Descriptor{}}
}

func (m *memoryStore) Create(_ context.Context, d Descriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[d.DeploymentID] = d
	return nil
}

func (m *memoryStore) Get(_ context.Context, tenantID, id string) (Descriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.byID[id]
	if !ok || d.Tenant != tenantID {
		return Descriptor{}, ErrNotFound
	}
	return d, nil
}

func (m *memoryStore) Transition(_ context.Context, id string, next Status, message string) (Descriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byID[id]
	if !ok {
		return Descriptor{}, ErrNotFound
	}
	d, changed, err := advance(d, next, message, m.now())
	if changed {
		m.byID[id] = d
	}
	return d, err
}
