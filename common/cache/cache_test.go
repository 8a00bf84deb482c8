package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	rediscommon "github.com/mediaforge/ledger/common/redis"
)

func TestMemoryCacheSetGet(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	if err := c.Set(ctx, "quota:acct-1", `{"used":5}`, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := c.Get(ctx, "quota:acct-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != `{"used":5}` {
		t.Errorf("got %q, want %q", got, `{"used":5}`)
	}
}

func TestMemoryCacheGetMissing(t *testing.T) {
	c := NewMemoryCache()

	_, err := c.Get(context.Background(), "missing")
	if !errors.Is(err, rediscommon.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestMemoryCacheExpiredEntryIsMiss(t *testing.T) {
	c := NewMemoryCache()

	c.mu.Lock()
	c.data["k"] = &cacheEntry{value: "v", expiresAt: time.Now().Add(-time.Second)}
	c.mu.Unlock()

	_, err := c.Get(context.Background(), "k")
	if !errors.Is(err, rediscommon.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound for expired entry, got %v", err)
	}
}

func TestMemoryCacheZeroExpiryNeverExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	if err := c.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, err := c.Get(ctx, "k"); err != nil {
		t.Errorf("zero-expiry entry should not expire, got %v", err)
	}

	entry := &cacheEntry{value: "v"}
	if entry.expired(time.Now().Add(24 * time.Hour)) {
		t.Error("entry with zero expiresAt reported expired")
	}
}

func TestMemoryCacheStopIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Errorf("second Stop must be a no-op, got %v", err)
	}

	// The cache stays usable after the sweep is gone; expired entries are
	// still misses on read.
	if err := c.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set after Stop failed: %v", err)
	}
	if _, err := c.Get(ctx, "k"); err != nil {
		t.Errorf("Get after Stop failed: %v", err)
	}

	c.mu.Lock()
	c.data["gone"] = &cacheEntry{value: "v", expiresAt: time.Now().Add(-time.Second)}
	c.mu.Unlock()

	if _, err := c.Get(ctx, "gone"); !errors.Is(err, rediscommon.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound for expired entry after Stop, got %v", err)
	}
}

func TestMemoryCacheDeleteMany(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	for _, key := range []string{"a", "b", "c"} {
		if err := c.Set(ctx, key, key, time.Minute); err != nil {
			t.Fatalf("Set %s failed: %v", key, err)
		}
	}

	if err := c.Delete(ctx, "a", "b", "missing"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	for _, key := range []string{"a", "b"} {
		if _, err := c.Get(ctx, key); !errors.Is(err, rediscommon.ErrKeyNotFound) {
			t.Errorf("key %s should be gone, got %v", key, err)
		}
	}
	if _, err := c.Get(ctx, "c"); err != nil {
		t.Errorf("key c should survive, got %v", err)
	}
}
