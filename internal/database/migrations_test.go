package database_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/shopkv/internal/database"
	"github.com/charlesng35/shopkv/internal/database/testutil"
	"github.com/charlesng35/shopkv/internal/models"
)

func TestAutoMigrateCreatesTable(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	ctx := context.Background()

	require.NoError(t, database.AutoMigrate(ctx, db))
	require.True(t, db.Migrator().HasTable(&models.KVEntry{}))
	require.True(t, db.Migrator().HasColumn(&models.KVEntry{}, "updated_at"))

	require.NoError(t, database.AutoMigrate(ctx, db))
}

func TestAutoMigrateLeavesExistingTableAlone(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Exec(`CREATE TABLE kv (key TEXT PRIMARY KEY, value TEXT NOT NULL)`).Error)
	require.NoError(t, db.Exec(`INSERT INTO kv (key, value) VALUES ('cm_settings', '{}')`).Error)

	require.NoError(t, database.AutoMigrate(ctx, db))

	require.False(t, db.Migrator().HasColumn(&models.KVEntry{}, "updated_at"))
	var count int64
	require.NoError(t, db.Table("kv").Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestAutoMigrateRejectsNilHandle(t *testing.T) {
	require.Error(t, database.AutoMigrate(context.Background(), nil))
}
