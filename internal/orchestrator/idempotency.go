package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// pendingMarker is stored while the first request for a key is in flight.
const pendingMarker = "pending"

// IdempotencyStore reserves client supplied Idempotency-Key values.
type IdempotencyStore interface {
	// Claim reserves key for ttl. When the key is already held it returns
	// claimed=false and the deployment id recorded for it, or "" while the
	// original request is still in flight.
	Claim(ctx context.Context, key string, ttl time.Duration) (claimed bool, deploymentID string, err error)
	// Complete records the deployment id produced for a claimed key.
	Complete(ctx context.Context, key, deploymentID string, ttl time.Duration) error
	// Release drops a claim after a failed request so the client may retry.
	Release(ctx context.Context, key string) error
}

type memoryIdempotency struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]idemEntry
}

type idemEntry struct {
	value   string
	expires time.Time
}

func NewMemoryIdempotency() IdempotencyStore {
	return &memoryIdempotency{now: time.Now, entries: map[string]idemEntry{}}
}

func (m *memoryIdempotency) Claim(_ context.Context, key string, ttl time.Duration) (bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if e, ok := m.entries[key]; ok && now.Before(e.expires) {
		if e.value == pendingMarker {
			return false, "", nil
		}
		return false, e.value, nil
	}
	m.entries[key] = idemEntry{value: pendingMarker, expires: now.Add(ttl)}
	m.sweep(now)
	return true, "", nil
}

func (m *memoryIdempotency) Complete(_ context.Context, key, deploymentID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = idemEntry{value: deploymentID, expires: m.now().Add(ttl)}
	return nil
}

func (m *memoryIdempotency) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// sweep drops expired keys; caller holds mu.
func (m *memoryIdempotency) sweep(now time.Time) {
	for k, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, k)
		}
	}
}

type redisIdempotency struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisIdempotency shares claims across replicas via SET NX.
func NewRedisIdempotency(rdb *redis.Client) IdempotencyStore {
	return &redisIdempotency{rdb: rdb, prefix: "gateway:idem:"}
}

func (r *redisIdempotency) Claim(ctx context.Context, key string, ttl time.Duration) (bool, string, error) {
	ok, err := r.rdb.SetNX(ctx, r.prefix+key, pendingMarker, ttl).Result()
	if err != nil {
		return false, "", err
	}
	if ok {
		return true, "", nil
	}
	v, err := r.rdb.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) || v == pendingMarker {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	return false, v, nil
}

func (r *redisIdempotency) Complete(ctx context.Context, key, deploymentID string, ttl time.Duration) error {
	return r.rdb.Set(ctx, r.prefix+key, deploymentID, ttl).Err()
}

func (r *redisIdempotency) Release(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, r.prefix+key).Err()
}
