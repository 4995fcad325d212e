package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache is the in-process backend. Entries carry their own TTL and are
// swept by the underlying store's janitor.
type MemoryCache struct {
	store *gocache.Cache
	ttl   time.Duration
}

// NewMemoryCache creates an in-memory cache with the given default TTL.
func NewMemoryCache(ttl, cleanupInterval time.Duration) *MemoryCache {
	return &MemoryCache{
		store: gocache.New(ttl, cleanupInterval),
		ttl:   ttl,
	}
}

func (m *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	val, found := m.store.Get(key)
	if !found {
		return fmt.Errorf("%w: %s", ErrMiss, key)
	}

	data, ok := val.([]byte)
	if !ok {
		return fmt.Errorf("unexpected cache value type for key %s", key)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal: %w", err)
	}

	return nil
}

func (m *MemoryCache) Set(ctx context.Context, key string, value interface{}) error {
	return m.SetWithTTL(ctx, key, value, m.ttl)
}

func (m *MemoryCache) SetWithTTL(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	m.store.Set(key, data, ttl)
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.store.Delete(key)
	return nil
}

func (m *MemoryCache) Exists(_ context.Context, key string) (bool, error) {
	_, found := m.store.Get(key)
	return found, nil
}

func (m *MemoryCache) Close() error {
	m.store.Flush()
	return nil
}
