// Package dbtest spins up isolated SQLite and Redis instances for tests.
package dbtest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/oggyb/crewsnow/internal/app"
	"github.com/oggyb/crewsnow/internal/cache"
	"github.com/oggyb/crewsnow/internal/config"
	"github.com/oggyb/crewsnow/internal/db"
	"github.com/oggyb/crewsnow/internal/logger"
)

// OpenSQLite opens a fresh in-memory database named after the test and
// migrates every model. A single connection keeps the in-memory database
// alive and serializes writers the way a row lock would.
func OpenSQLite(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name)
	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := database.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.Migrate(database))
	return database
}

// StartRedis runs a miniredis and returns it with a RedisCache pointed at it.
func StartRedis(t testing.TB) (*miniredis.Miniredis, *cache.RedisCache) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := &config.Config{}
	cfg.Redis.Addr = mr.Addr()
	rc := cache.NewRedisCache(cfg)
	t.Cleanup(func() { _ = rc.Client.Close() })
	return mr, rc
}

// User inserts an active free-tier user and returns it.
func User(t testing.TB, gdb *gorm.DB, id, username string, mutate ...func(*db.User)) db.User {
	t.Helper()
	u := db.User{
		ID:           id,
		Email:        username + "@test.com",
		Username:     username,
		Level:        "intermediate",
		IsActive:     true,
		LastActiveAt: time.Now().UTC(),
	}
	for _, m := range mutate {
		m(&u)
	}
	require.NoError(t, gdb.Create(&u).Error)
	if !u.IsActive {
		// gorm skips zero-value bools that have a column default
		require.NoError(t, gdb.Model(&db.User{}).Where("id = ?", u.ID).Update("is_active", false).Error)
	}
	return u
}

// App builds an AppContext over a fresh SQLite database and miniredis with
// default tuning, the "test-secret" signing secret and a discarding logger.
func App(t testing.TB) (*app.AppContext, *miniredis.Miniredis) {
	t.Helper()

	gdb := OpenSQLite(t)
	mr, rc := StartRedis(t)

	cfg := &config.Config{}
	cfg.App.Timezone = time.UTC
	cfg.Tuning = config.DefaultTuning()
	cfg.Functions.DispatchTimeout = time.Second
	cfg.Auth.JWTSecret = "test-secret"

	return app.New(cfg, gdb, rc, logger.Discard()), mr
}
