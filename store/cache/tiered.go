package cache

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// TieredCache fronts conversation lookups with one of two tiers:
// - L1: In-memory cache (fast, per process, DEFAULT)
// - L2: Redis cache (shared between instances, OPTIONAL)
//
// When L2 is configured it is the only tier consulted. A per-process L1 in
// front of it could not be invalidated by writes on other instances.
//
// Values are strings; callers encode structured values themselves so the same
// bytes can live in either tier.
type TieredCache struct {
	l1    *Cache
	l2    RemoteCache
	l2TTL time.Duration
}

// TieredCacheConfig holds the configuration for the tiered cache.
type TieredCacheConfig struct {
	L1MaxItems int           // Max items in L1 memory cache
	L1TTL      time.Duration // TTL for L1 cache entries
	L2TTL      time.Duration // TTL for L2 cache entries
	// L2 is the optional remote tier, nil when only the memory cache is used.
	L2 RemoteCache
}

// DefaultTieredConfig returns the memory-only configuration.
func DefaultTieredConfig() *TieredCacheConfig {
	return &TieredCacheConfig{
		L1MaxItems: 1000,
		L1TTL:      10 * time.Minute,
		L2TTL:      30 * time.Minute,
	}
}

// NewTieredCache creates a new tiered cache.
func NewTieredCache(config *TieredCacheConfig) *TieredCache {
	if config == nil {
		config = DefaultTieredConfig()
	}
	if config.L2 != nil {
		return &TieredCache{l2: config.L2, l2TTL: config.L2TTL}
	}
	return &TieredCache{
		l1: New(Config{
			DefaultTTL:      config.L1TTL,
			CleanupInterval: time.Minute,
			MaxItems:        config.L1MaxItems,
		}),
	}
}

func (t *TieredCache) Get(ctx context.Context, key string) (string, bool) {
	if t.l2 != nil {
		return t.l2.Get(ctx, key)
	}
	value, found := t.l1.Get(ctx, key)
	if !found {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}

func (t *TieredCache) Set(ctx context.Context, key string, value string) {
	if t.l2 != nil {
		t.l2.SetWithTTL(ctx, key, value, t.l2TTL)
		return
	}
	t.l1.Set(ctx, key, value)
}

func (t *TieredCache) Delete(ctx context.Context, key string) {
	if t.l2 != nil {
		t.l2.Delete(ctx, key)
		return
	}
	t.l1.Delete(ctx, key)
}

// Close closes the active tier.
func (t *TieredCache) Close() error {
	if t.l2 != nil {
		return errors.Wrap(t.l2.Close(), "failed to close remote cache")
	}
	return t.l1.Close()
}
