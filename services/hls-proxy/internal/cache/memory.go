package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/maypok86/otter/v2"
)

// MemoryCache is a size-bounded in-process cache with write expiry. Values are
// stored as JSON so callers get copies, matching RedisCache semantics.
type MemoryCache struct {
	c *otter.Cache[string, []byte]
}

func NewMemoryCache(maxSize int, ttl time.Duration) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 10_000
	}
	return &MemoryCache{c: otter.Must(&otter.Options[string, []byte]{
		MaximumSize:      maxSize,
		ExpiryCalculator: otter.ExpiryWriting[string, []byte](ttl),
	})}
}

func (m *MemoryCache) Get(_ context.Context, key string, dest any) (bool, error) {
	b, ok := m.c.GetIfPresent(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(b, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.c.Set(key, b)
	return nil
}
