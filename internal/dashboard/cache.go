package dashboard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flightdeck/skyboard/internal/logger"
)

// Cache is a byte-blob read cache with a per-entry TTL. Redis backs it when
// an address is configured; otherwise entries live in process memory. A
// redis failure degrades to a miss, never an error to the caller.
type Cache struct {
	ttl time.Duration
	rdb *redis.Client

	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	data    []byte
	expires time.Time
}

// NewCache creates a cache. An empty redisAddr selects the in-memory store.
func NewCache(redisAddr string, ttl time.Duration) *Cache {
	c := &Cache{ttl: ttl, entries: make(map[string]memoryEntry)}
	if redisAddr != "" {
		c.rdb = redis.NewClient(&redis.Options{Addr: redisAddr})
		logger.L.Info("redis read cache configured", "addr", redisAddr, "ttl", ttl)
	}
	return c
}

// Get returns the cached blob for key, or ok=false on a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c.rdb != nil {
		data, err := c.rdb.Get(ctx, key).Bytes()
		if err == nil {
			return data, true
		}
		if !errors.Is(err, redis.Nil) {
			logger.L.Warn("redis get failed", "key", key, "error", err)
		}
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return e.data, true
}

// Set stores the blob under key for the cache TTL.
func (c *Cache) Set(ctx context.Context, key string, data []byte) {
	if c.rdb != nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			logger.L.Warn("redis set failed", "key", key, "error", err)
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{data: data, expires: time.Now().Add(c.ttl)}
}
