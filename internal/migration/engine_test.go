package migration_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/shopkv/internal/database"
	"github.com/charlesng35/shopkv/internal/database/testutil"
	"github.com/charlesng35/shopkv/internal/migration"
)

type recordingInvalidator struct {
	mu   sync.Mutex
	keys []string
}

func (r *recordingInvalidator) InvalidateKeys(keys ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, keys...)
}

type fixture struct {
	engine      *migration.Engine
	manager     *database.Manager
	db          *gorm.DB
	invalidated *recordingInvalidator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	manager := testutil.MustNewManager(t)
	db, err := manager.GetPool(context.Background())
	require.NoError(t, err)

	inv := &recordingInvalidator{}
	engine := migration.NewEngine(manager,
		migration.WithInvalidator(inv),
		migration.WithLogger(zap.NewNop()))

	return &fixture{engine: engine, manager: manager, db: db, invalidated: inv}
}

func (f *fixture) put(t *testing.T, key, value string) {
	t.Helper()
	require.NoError(t, database.UpsertValue(context.Background(), f.db, key, value))
}

func (f *fixture) value(t *testing.T, key string) (string, bool) {
	t.Helper()
	value, found, err := database.GetValue(context.Background(), f.db, key)
	require.NoError(t, err)
	return value, found
}

func (f *fixture) mustValue(t *testing.T, key string) string {
	t.Helper()
	value, found := f.value(t, key)
	require.True(t, found, "expected %s to exist", key)
	return value
}

func (f *fixture) trigger(t *testing.T, name, event, key string) {
	t.Helper()
	require.NoError(t, f.db.Exec(`CREATE TRIGGER `+name+` BEFORE `+event+` ON kv
		WHEN NEW."key" = '`+key+`'
		BEGIN SELECT RAISE(ABORT, 'injected failure'); END;`).Error)
}
