package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileBackendMissingFileIsEmpty(t *testing.T) {
	backend := NewFileBackend(filepath.Join(t.TempDir(), "data", "kv.json"))
	ctx := context.Background()

	_, found, err := backend.Get(ctx, "anything")
	require.NoError(t, err)
	require.False(t, found)

	all, err := backend.GetAll(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
	require.Equal(t, KindFile, backend.Kind())
}

func TestFileBackendPrepareCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data", "nested")
	backend := NewFileBackend(filepath.Join(dir, "kv.json"))

	require.NoError(t, backend.Prepare())
	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	_, err = os.Stat(backend.Path())
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestFileBackendCRUD(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "kv.json")
	backend := NewFileBackend(path)
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "cm_settings", `{"theme":"dark"}`))
	require.NoError(t, backend.Set(ctx, "legacy", `not json`))
	require.NoError(t, backend.SetMany(ctx, map[string]string{"a": "1", "cm_images": `{}`}))

	value, found, err := backend.Get(ctx, "cm_settings")
	require.NoError(t, err)
	require.True(t, found)
	require.JSONEq(t, `{"theme":"dark"}`, value)

	value, _, err = backend.Get(ctx, "legacy")
	require.NoError(t, err)
	require.Equal(t, `"not json"`, value)

	all, err := backend.GetAll(ctx, "cm_images")
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.NotContains(t, all, "cm_images")

	require.NoError(t, backend.Delete(ctx, "a"))
	_, found, err = backend.Get(ctx, "a")
	require.NoError(t, err)
	require.False(t, found)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Equal(t, map[string]any{"theme": "dark"}, doc["cm_settings"])
}

func TestFileBackendSerialisesConcurrentWriters(t *testing.T) {
	backend := NewFileBackend(filepath.Join(t.TempDir(), "kv.json"))
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- backend.Set(ctx, fmt.Sprintf("key-%d", i), fmt.Sprintf("%d", i))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	all, err := backend.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, writers)
}

func TestFileBackendCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))

	_, _, err := NewFileBackend(path).Get(context.Background(), "a")
	require.Error(t, err)
}

func TestFileBackendHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewFileBackend(filepath.Join(t.TempDir(), "kv.json")).Set(ctx, "a", "1")
	require.ErrorIs(t, err, context.Canceled)
}
