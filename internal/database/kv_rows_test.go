package database_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/shopkv/internal/database"
	"github.com/charlesng35/shopkv/internal/database/testutil"
)

func TestKVRowsRoundTrip(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	ctx := context.Background()

	_, found, err := database.GetValue(ctx, db, "missing")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, database.UpsertValue(ctx, db, "cm_settings", `{"a":1}`))
	value, found, err := database.GetValue(ctx, db, "cm_settings")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, `{"a":1}`, value)

	require.NoError(t, database.UpsertValue(ctx, db, "cm_settings", `{"a":2}`))
	value, _, err = database.GetValue(ctx, db, "cm_settings")
	require.NoError(t, err)
	require.Equal(t, `{"a":2}`, value)

	require.NoError(t, database.DeleteValue(ctx, db, "cm_settings"))
	require.NoError(t, database.DeleteValue(ctx, db, "cm_settings"))
	_, found, err = database.GetValue(ctx, db, "cm_settings")
	require.NoError(t, err)
	require.False(t, found)
}

func TestListValuesExcludesKeys(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	ctx := context.Background()

	for key, value := range map[string]string{"b": "2", "a": "1", "cm_images": "{}"} {
		require.NoError(t, database.UpsertValue(ctx, db, key, value))
	}

	entries, err := database.ListValues(ctx, db, "cm_images")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "a", entries[0].Key)
	require.Equal(t, "b", entries[1].Key)

	all, err := database.ListValues(ctx, db)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestUpsertRequiresKey(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	require.Error(t, database.UpsertValue(context.Background(), db, " ", "x"))
}
