package resultcache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/example/imgclassify/internal/pipeline"
)

// KV abstracts the key-value operations the cache needs so tests can run
// without Redis. Get returns pipeline.ErrNotFound on a miss; outages wrap
// pipeline.ErrCacheUnavailable.
type KV interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Ping(ctx context.Context) error
}

// RedisKV is a KV backed by go-redis.
type RedisKV struct {
	client redis.Cmdable
}

// NewRedisKV constructs a Redis-backed KV adapter.
func NewRedisKV(client redis.Cmdable) *RedisKV {
	return &RedisKV{client: client}
}

// SetNX writes value only if key is absent.
func (r *RedisKV) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, errors.Join(pipeline.ErrCacheUnavailable, err)
	}
	return ok, nil
}

// Get retrieves a value from Redis.
func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", pipeline.ErrNotFound
	}
	if err != nil {
		return "", errors.Join(pipeline.ErrCacheUnavailable, err)
	}
	return value, nil
}

// Ping checks connectivity.
func (r *RedisKV) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return errors.Join(pipeline.ErrCacheUnavailable, err)
	}
	return nil
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryKV is an in-process KV with TTL support.
type MemoryKV struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryKV constructs an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryKV) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = entry
	return true, nil
}

func (m *MemoryKV) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.lookup(key)
	if !ok {
		return "", pipeline.ErrNotFound
	}
	return entry.value, nil
}

func (m *MemoryKV) Ping(ctx context.Context) error {
	return nil
}

// lookup must be called with mu held; it drops expired entries.
func (m *MemoryKV) lookup(key string) (memoryEntry, bool) {
	entry, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}
