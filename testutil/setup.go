package testutil

import (
	"os"
	"testing"

	"github.com/kasuganosora/questforge/server/cache"
	"github.com/kasuganosora/questforge/server/config"
	dbadapter "github.com/kasuganosora/questforge/server/db"
	"github.com/kasuganosora/questforge/server/model"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// RedisEnv names the variable holding a Redis address for tests that need a
// real server. Those tests skip when it is unset.
const RedisEnv = "QUESTFORGE_TEST_REDIS"

// SetupTestDB opens a private in-memory SQLite database with the schema
// migrated. Each call gets its own database, so parallel tests do not share
// rows.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := dbadapter.Open(config.DatabaseConfig{Mode: dbadapter.ModeMemory})
	require.NoError(t, err, "open test db")
	require.NoError(t, model.AutoMigrate(db), "migrate test db")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// SetupTestCache returns the in-process cache and pub/sub.
func SetupTestCache(t *testing.T) (cache.Cache, cache.PubSub) {
	t.Helper()
	return setupCache(t, cache.CacheConfig{})
}

// RedisAddr returns the Redis address from RedisEnv or skips the test.
func RedisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv(RedisEnv)
	if addr == "" {
		t.Skipf("%s not set", RedisEnv)
	}
	return addr
}

// SetupRedisCache is SetupTestCache against the server named by RedisEnv.
func SetupRedisCache(t *testing.T) (cache.Cache, cache.PubSub) {
	t.Helper()
	return setupCache(t, cache.CacheConfig{RedisAddr: RedisAddr(t)})
}

func setupCache(t *testing.T, cfg cache.CacheConfig) (cache.Cache, cache.PubSub) {
	c, err := cache.NewCache(cfg)
	require.NoError(t, err, "new cache")
	ps, err := cache.NewPubSub(cfg)
	require.NoError(t, err, "new pubsub")
	return c, ps
}
