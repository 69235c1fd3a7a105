package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/shopkv/internal/database"
	"github.com/charlesng35/shopkv/internal/dbconfig"
)

var dbCounter atomic.Int64

// TestDBOption customises the behaviour of MustOpenTestDB.
type TestDBOption func(*testDBConfig)

type testDBConfig struct {
	autoMigrate bool
}

// WithAutoMigrate creates the kv table after opening the test database.
func WithAutoMigrate() TestDBOption {
	return func(cfg *testDBConfig) {
		cfg.autoMigrate = true
	}
}

// MemoryConfig returns a sqlite connection config pointing at a private
// in-memory database for the running test.
func MemoryConfig(t *testing.T) *dbconfig.ConnectionConfig {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbCounter.Add(1))
	return &dbconfig.ConnectionConfig{Driver: dbconfig.DriverSQLite, Path: dsn}
}

// SingleConnPool keeps sqlite memory databases on one connection so writes
// never contend for the shared-cache table lock.
func SingleConnPool() database.PoolOptions {
	return database.PoolOptions{MaxOpenConns: 1}
}

// MustOpenTestDB opens an in-memory SQLite database for tests.
// The returned connection is automatically closed via t.Cleanup.
func MustOpenTestDB(t *testing.T, opts ...TestDBOption) *gorm.DB {
	t.Helper()

	cfg := testDBConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := database.Open(MemoryConfig(t), SingleConnPool())
	require.NoError(t, err)

	if cfg.autoMigrate {
		require.NoError(t, database.AutoMigrate(t.Context(), db))
	}

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

// MustNewManager returns a pool manager resolving to a private in-memory
// database. The pool is closed via t.Cleanup.
func MustNewManager(t *testing.T) *database.Manager {
	t.Helper()

	cfg := MemoryConfig(t)
	manager := database.NewManager(
		func() (*dbconfig.ConnectionConfig, error) { return cfg, nil },
		database.WithPoolOptions(SingleConnPool()),
		database.WithLogger(zap.NewNop()),
	)
	t.Cleanup(func() {
		_ = manager.Close()
	})
	return manager
}
