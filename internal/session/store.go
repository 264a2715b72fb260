package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// User is the identity a session is created for.
type User struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

type Session struct {
	ID        string    `json:"session_id"`
	TenantID  string    `json:"tenant"`
	User      User      `json:"user"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store persists live sessions. Entries disappear after their TTL.
type Store interface {
	Get(ctx context.Context, id string) (Session, bool, error)
	Put(ctx context.Context, s Session, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

type memoryStore struct {
	mu   sync.RWMutex
	now  func() time.Time
	data map[string]memEntry
}

type memEntry struct {
	s       Session
	expires time.Time
}

// NewMemoryStore keeps sessions in process memory; not shared across replicas.
func NewMemoryStore() Store {
	return &memoryStore{now: time.Now, data: map[string]memEntry{}}
}

func (m *memoryStore) Get(_ context.Context, id string) (Session, bool, error) {
	m.mu.RLock()
	e, ok := m.data[id]
	m.mu.RUnlock()
	if !ok {
		return Session{}, false, nil
	}
	if !m.now().Before(e.expires) {
		m.mu.Lock()
		delete(m.data, id)
		m.mu.Unlock()
		return Session{}, false, nil
	}
	return e.s, true, nil
}

func (m *memoryStore) Put(_ context.Context, s Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[s.ID] = memEntry{s: s, expires: m.now().Add(ttl)}
	return nil
}

func (m *memoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

type redisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore shares sessions across gateway replicas.
func NewRedisStore(rdb *redis.Client) Store {
	return &redisStore{rdb: rdb, prefix: "gateway:session:"}
}

func (r *redisStore) Get(ctx context.Context, id string) (Session, bool, error) {
	raw, err := r.rdb.Get(ctx, r.prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, false, err
	}
	return s, true, nil
}

func (r *redisStore) Put(ctx context.Context, s Session, ttl time.Duration) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, r.prefix+s.ID, raw, ttl).Err()
}

func (r *redisStore) Delete(ctx context.Context, id string) error {
	return r.rdb.Del(ctx, r.prefix+id).Err()
}
