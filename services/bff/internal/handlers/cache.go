package handlers

import (
	"strings"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/nats-io/nats.go"

	"github.com/example/catalog-stream/internal/platform/metrics"
)

// Cache is the minimal read/write interface for the BFF response cache.
// Implementations must be safe for concurrent use.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, v any)
}

// DefaultCacheEntries bounds a TTLCache built without an explicit size.
const DefaultCacheEntries = 10_000

// TTLCache is a size-bounded in-memory Cache with write expiry and optional
// NATS invalidation.
type TTLCache struct {
	c       *otter.Cache[string, any]
	name    string
	metrics *metrics.Metrics
	sub     *nats.Subscription
}

type CacheOption func(*TTLCache)

// WithCacheMetrics reports hits and misses under name.
func WithCacheMetrics(name string, m *metrics.Metrics) CacheOption {
	return func(c *TTLCache) {
		c.name = name
		c.metrics = m
	}
}

// NewTTLCache creates a TTLCache holding at most maxEntries values for ttl
// each, and subscribes to subj for invalidation when nc is non-nil. Message
// payloads are keys, "prefix*" patterns, or ""/"ALL".
func NewTTLCache(ttl time.Duration, maxEntries int, nc *nats.Conn, subj string, opts ...CacheOption) (*TTLCache, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = DefaultCacheEntries
	}
	c := &TTLCache{
		c: otter.Must(&otter.Options[string, any]{
			MaximumSize:      maxEntries,
			ExpiryCalculator: otter.ExpiryWriting[string, any](ttl),
		}),
		name: "bff",
	}
	for _, o := range opts {
		o(c)
	}
	if nc != nil && subj != "" {
		sub, err := nc.Subscribe(subj, func(m *nats.Msg) {
			c.Invalidate(string(m.Data))
		})
		if err != nil {
			return nil, err
		}
		c.sub = sub
	}
	return c, nil
}

func (c *TTLCache) Get(key string) (any, bool) {
	v, ok := c.c.GetIfPresent(key)
	c.metrics.IncCache(c.name, ok)
	return v, ok
}

func (c *TTLCache) Set(key string, v any) {
	c.c.Set(key, v)
}

// Invalidate drops key. A trailing "*" drops every key with that prefix and
// "" or "ALL" clears the cache.
func (c *TTLCache) Invalidate(key string) {
	key = strings.TrimSpace(key)
	switch {
	case key == "" || strings.EqualFold(key, "ALL"):
		c.c.InvalidateAll()
	case strings.HasSuffix(key, "*"):
		prefix := strings.TrimSuffix(key, "*")
		var doomed []string
		for k := range c.c.Keys() {
			if strings.HasPrefix(k, prefix) {
				doomed = append(doomed, k)
			}
		}
		for _, k := range doomed {
			c.c.Invalidate(k)
		}
	default:
		c.c.Invalidate(key)
	}
}

// Len is the approximate number of live entries after pending maintenance.
func (c *TTLCache) Len() int {
	c.c.CleanUp()
	return c.c.EstimatedSize()
}

// Close drops the NATS subscription, if any.
func (c *TTLCache) Close() error {
	if c.sub == nil {
		return nil
	}
	return c.sub.Unsubscribe()
}
