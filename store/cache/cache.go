package cache

import (
	"context"
	"sync"
	"time"
)

// Config holds the configuration of an in-memory cache.
type Config struct {
	// DefaultTTL is applied by Set.
	DefaultTTL time.Duration
	// CleanupInterval is how often expired items are swept. Zero disables the sweeper.
	CleanupInterval time.Duration
	// MaxItems bounds the cache size. Zero means unbounded.
	MaxItems int
}

type item struct {
	value      any
	expiration time.Time
}

func (i item) expired(now time.Time) bool {
	return !i.expiration.IsZero() && now.After(i.expiration)
}

// Cache is a TTL bounded in-memory cache safe for concurrent use.
type Cache struct {
	config Config

	mu    sync.RWMutex
	items map[string]item

	stopCh    chan struct{}
	closeOnce sync.Once
}

// New creates a cache and starts its cleanup goroutine.
func New(config Config) *Cache {
	c := &Cache{
		config: config,
		items:  make(map[string]item),
		stopCh: make(chan struct{}),
	}
	if config.CleanupInterval > 0 {
		go c.cleanupLoop()
	}
	return c
}

func (c *Cache) Set(ctx context.Context, key string, value any) {
	c.SetWithTTL(ctx, key, value, c.config.DefaultTTL)
}

func (c *Cache) SetWithTTL(_ context.Context, key string, value any, ttl time.Duration) {
	var expiration time.Time
	if ttl > 0 {
		expiration = time.Now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists && c.config.MaxItems > 0 && len(c.items) >= c.config.MaxItems {
		c.evictOneLocked()
	}
	c.items[key] = item{value: value, expiration: expiration}
}

func (c *Cache) Get(_ context.Context, key string) (any, bool) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if it.expired(time.Now()) {
		c.mu.Lock()
		if current, ok := c.items[key]; ok && current.expired(time.Now()) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return it.value, true
}

func (c *Cache) Delete(_ context.Context, key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Size returns the number of items, including expired ones not yet swept.
func (c *Cache) Size() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int64(len(c.items))
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (c *Cache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopCh)
	})
	return nil
}

// evictOneLocked drops an expired item if there is one, otherwise the item closest to expiry.
func (c *Cache) evictOneLocked() {
	now := time.Now()
	var (
		victim    string
		victimExp time.Time
		found     bool
	)
	for key, it := range c.items {
		if it.expired(now) {
			victim, found = key, true
			break
		}
		if !found || (!it.expiration.IsZero() && (victimExp.IsZero() || it.expiration.Before(victimExp))) {
			victim, victimExp, found = key, it.expiration, true
		}
	}
	if found {
		delete(c.items, victim)
	}
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cache) deleteExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, it := range c.items {
		if it.expired(now) {
			delete(c.items, key)
		}
	}
}
