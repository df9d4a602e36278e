package test

import (
	"context"
	"os"
	"testing"

	"github.com/hrygo/lumichat/internal/profile"
	"github.com/hrygo/lumichat/internal/version"
	"github.com/hrygo/lumichat/store"
	"github.com/hrygo/lumichat/store/cache"
	"github.com/hrygo/lumichat/store/db"
)

// NewTestingStore opens a migrated store for tests.
// DRIVER=postgres switches from a temporary SQLite file to PostgreSQL.
func NewTestingStore(ctx context.Context, t *testing.T) *store.Store {
	t.Helper()
	return newStore(ctx, t, getTestingProfile(t), nil)
}

// NewTestingStores opens n stores on one database, as separate server
// instances would, each with the given cache configuration.
func NewTestingStores(ctx context.Context, t *testing.T, n int, cacheConfig *cache.TieredCacheConfig) []*store.Store {
	t.Helper()
	profile := getTestingProfile(t)
	stores := make([]*store.Store, n)
	for i := range stores {
		stores[i] = newStore(ctx, t, profile, cacheConfig)
	}
	return stores
}

func newStore(ctx context.Context, t *testing.T, profile *profile.Profile, cacheConfig *cache.TieredCacheConfig) *store.Store {
	t.Helper()
	dbDriver, err := db.NewDBDriver(profile)
	if err != nil {
		t.Fatalf("failed to create db driver: %v", err)
	}

	s := store.New(dbDriver, profile, cacheConfig)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate db: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func getTestingProfile(t *testing.T) *profile.Profile {
	mode := "prod"
	driver := getDriverFromEnv()
	p := &profile.Profile{
		Mode:    mode,
		Driver:  driver,
		Secret:  "test-secret",
		Version: version.GetCurrentVersion(mode),
	}

	switch driver {
	case "postgres":
		p.DSN = GetPostgresDSN(t)
	default:
		p.Data = t.TempDir()
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("failed to validate profile: %v", err)
	}
	return p
}

func getDriverFromEnv() string {
	driver := os.Getenv("DRIVER")
	if driver == "" {
		driver = "sqlite"
	}
	return driver
}
