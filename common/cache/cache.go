package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	rediscommon "github.com/mediaforge/ledger/common/redis"
)

// MemoryCache is a process-local snapshot cache used when Redis is not
// configured. It follows the Redis wrapper's Get/Set/Delete contract,
// including the not-found sentinel, so callers cannot tell them apart.
// Entries are visible only to this process; run it behind a single
// replica or accept stale reads.
type MemoryCache struct {
	data map[string]*cacheEntry
	mu   sync.RWMutex

	quit     chan struct{}
	stopOnce sync.Once
}

type cacheEntry struct {
	value     string
	expiresAt time.Time // zero means no expiration
}

// NewMemoryCache creates an empty in-memory cache and starts its expiry
// sweep. Call Stop on shutdown to end the sweep goroutine.
func NewMemoryCache() *MemoryCache {
	c := &MemoryCache{
		data: make(map[string]*cacheEntry),
		quit: make(chan struct{}),
	}

	go c.cleanup()

	return c
}

// Stop ends the expiry sweep. Idempotent; the cache stays usable, reads
// still treat expired entries as misses.
func (c *MemoryCache) Stop() error {
	c.stopOnce.Do(func() {
		close(c.quit)
	})
	return nil
}

// Get retrieves a value by key. Missing or expired keys return an error
// wrapping redis.ErrKeyNotFound.
func (c *MemoryCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.data[key]
	if !exists || entry.expired(time.Now()) {
		return "", fmt.Errorf("%w: %s", rediscommon.ErrKeyNotFound, key)
	}

	return entry.value, nil
}

// Set stores a value with optional expiration (0 = no expiration)
func (c *MemoryCache) Set(ctx context.Context, key, value string, expiry time.Duration) error {
	entry := &cacheEntry{value: value}
	if expiry > 0 {
		entry.expiresAt = time.Now().Add(expiry)
	}

	c.mu.Lock()
	c.data[key] = entry
	c.mu.Unlock()

	return nil
}

// Delete removes keys
func (c *MemoryCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		delete(c.data, key)
	}
	return nil
}

func (e *cacheEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// cleanup removes expired entries periodically so abandoned accounts
// do not pin memory forever.
func (c *MemoryCache) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.quit:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for key, entry := range c.data {
				if entry.expired(now) {
					delete(c.data, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
