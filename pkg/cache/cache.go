// Package cache provides a small in-memory TTL cache.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type item[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a thread-safe TTL cache keyed by string. Expired entries are
// invisible to Get and removed by a background sweep.
type Cache[V any] struct {
	items      map[string]item[V]
	mu         sync.RWMutex
	clock      clock.Clock
	defaultTTL time.Duration

	stopOnce    sync.Once
	stopCleanup chan struct{}
}

// New creates a cache whose entries live for defaultTTL. clk may be nil.
func New[V any](defaultTTL time.Duration, clk clock.Clock) *Cache[V] {
	if clk == nil {
		clk = clock.New()
	}
	c := &Cache[V]{
		items:       make(map[string]item[V]),
		clock:       clk,
		defaultTTL:  defaultTTL,
		stopCleanup: make(chan struct{}),
	}

	interval := defaultTTL / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := clk.Ticker(interval)
	go c.cleanup(ticker)

	return c
}

func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, ok := c.items[key]
	if !ok || !c.clock.Now().Before(it.expiresAt) {
		var zero V
		return zero, false
	}
	return it.value, true
}

func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = item[V]{
		value:     value,
		expiresAt: c.clock.Now().Add(ttl),
	}
}

// GetOrSet returns the cached value for key or loads, caches and returns
// it. Load errors are not cached.
func (c *Cache[V]) GetOrSet(ctx context.Context, key string, load func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err := load(ctx)
	if err != nil {
		var zero V
		return zero, err
	}
	c.Set(key, v)
	return v, nil
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Invalidate removes every key with the given prefix, or only expired
// entries when prefix is empty.
func (c *Cache[V]) Invalidate(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	for key, it := range c.items {
		if prefix == "" {
			if !now.Before(it.expiresAt) {
				delete(c.items, key)
			}
			continue
		}
		if strings.HasPrefix(key, prefix) {
			delete(c.items, key)
		}
	}
}

func (c *Cache[V]) cleanup(ticker *clock.Ticker) {
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Invalidate("")
		case <-c.stopCleanup:
			return
		}
	}
}

// Stop ends the background sweep. Safe to call repeatedly.
func (c *Cache[V]) Stop() {
	c.stopOnce.Do(func() { close(c.stopCleanup) })
}

// Len counts stored entries, expired ones included until swept.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
