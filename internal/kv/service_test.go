package kv

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlesng35/shopkv/internal/cache"
)

type memoryBackend struct {
	mu      sync.Mutex
	data    map[string]string
	gets    int
	getAlls int
	failSet error
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{data: map[string]string{}}
}

func (m *memoryBackend) Kind() string { return "memory" }

func (m *memoryBackend) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	value, ok := m.data[key]
	return value, ok, nil
}

func (m *memoryBackend) Set(ctx context.Context, key, value string) error {
	return m.SetMany(ctx, map[string]string{key: value})
}

func (m *memoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryBackend) GetAll(_ context.Context, exclude ...string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getAlls++
	out := map[string]string{}
	for key, value := range m.data {
		out[key] = value
	}
	for _, key := range exclude {
		delete(out, key)
	}
	return out, nil
}

func (m *memoryBackend) SetMany(_ context.Context, entries map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet != nil {
		return m.failSet
	}
	for key, value := range entries {
		m.data[key] = value
	}
	return nil
}

func (m *memoryBackend) getCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets
}

func newTestService(t *testing.T) (*Service, *memoryBackend, *cache.TTLCache) {
	t.Helper()
	backend := newMemoryBackend()
	store := cache.New(cache.DefaultPolicy())
	return NewService(backend, store, WithServiceLogger(zap.NewNop())), backend, store
}

func TestServiceGetCachesHits(t *testing.T) {
	svc, backend, _ := newTestService(t)
	backend.data["cm_settings"] = `{"theme":"dark"}`
	ctx := context.Background()

	first, found, err := svc.Get(ctx, "cm_settings")
	require.NoError(t, err)
	require.True(t, found)
	second, _, err := svc.Get(ctx, "cm_settings")
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 1, backend.getCount())
	require.Equal(t, map[string]any{"theme": "dark"}, first)
}

func TestServiceMissingKeyIsNotCached(t *testing.T) {
	svc, backend, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		value, found, err := svc.Get(ctx, "missing")
		require.NoError(t, err)
		require.False(t, found)
		require.Nil(t, value)
	}
	require.Equal(t, 2, backend.getCount())
}

func TestServiceReturnsRawTextForMalformedValues(t *testing.T) {
	svc, backend, _ := newTestService(t)
	backend.data["legacy"] = `{not json`

	value, found, err := svc.Get(context.Background(), "legacy")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, `{not json`, value)
}

func TestServiceSetInvalidatesKeyAndAggregate(t *testing.T) {
	svc, backend, store := newTestService(t)
	backend.data["a"] = `1`
	ctx := context.Background()

	_, _, err := svc.Get(ctx, "a")
	require.NoError(t, err)
	_, err = svc.GetAll(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.Set(ctx, "a", 2))

	_, ok := store.Get("a")
	require.False(t, ok)
	_, ok = store.Get(cache.AllKey)
	require.False(t, ok)

	value, _, err := svc.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, json.Number("2"), value)
	require.Equal(t, 2, backend.getCount())
}

func TestServiceGetAllExcludesImagesAndCaches(t *testing.T) {
	svc, backend, _ := newTestService(t)
	backend.data["cm_settings"] = `{"a":1}`
	backend.data["cm_images"] = `{"logo":"data:x"}`
	backend.data["cm_tasks_images"] = `{}`
	ctx := context.Background()

	all, err := svc.GetAll(ctx)
	require.NoError(t, err)
	require.NotContains(t, all, "cm_images")
	require.Contains(t, all, "cm_settings")
	require.Contains(t, all, "cm_tasks_images")

	_, err = svc.GetAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, backend.getAlls)
}

func TestServiceDeleteInvalidatesAndBumpsVersion(t *testing.T) {
	svc, backend, store := newTestService(t)
	backend.data["a"] = `1`
	ctx := context.Background()

	before := svc.Version()
	_, _, err := svc.Get(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "a"))

	_, ok := store.Get("a")
	require.False(t, ok)
	require.Equal(t, before.Counter+1, svc.Version().Counter)

	_, found, err := svc.Get(ctx, "a")
	require.NoError(t, err)
	require.False(t, found)
}

func TestServiceFailedWriteKeepsVersion(t *testing.T) {
	svc, backend, _ := newTestService(t)
	backend.failSet = errors.New("connection reset")

	err := svc.SetMany(context.Background(), map[string]any{"a": 1, "b": 2})
	require.Error(t, err)
	require.Contains(t, err.Error(), "connection reset")
	require.Zero(t, svc.Version().Counter)
}

func TestServiceRejectsInvalidKeys(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	require.ErrorIs(t, svc.Set(ctx, "", 1), ErrInvalidKey)
	require.ErrorIs(t, svc.Set(ctx, cache.AllKey, 1), ErrInvalidKey)
	_, _, err := svc.Get(ctx, " ")
	require.ErrorIs(t, err, ErrInvalidKey)
	require.ErrorIs(t, svc.Set(ctx, "a", json.RawMessage(`{bad`)), ErrInvalidValue)
}

func TestServiceWireValues(t *testing.T) {
	svc, backend, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "pre", FromWire(json.RawMessage(`"{\"a\":1}"`))))
	require.NoError(t, svc.Set(ctx, "native", FromWire(json.RawMessage(`{"a":1}`))))
	require.NoError(t, svc.Set(ctx, "text", FromWire(json.RawMessage(`"hello"`))))

	require.Equal(t, `{"a":1}`, backend.data["pre"])
	require.Equal(t, `{"a":1}`, backend.data["native"])
	require.Equal(t, `hello`, backend.data["text"])

	value, _, err := svc.Get(ctx, "text")
	require.NoError(t, err)
	require.Equal(t, "hello", value)
}

func TestServiceAutoExtractsAppearanceImages(t *testing.T) {
	svc, backend, _ := newTestService(t)
	backend.data["cm_images"] = `{"favicon":"data:old"}`
	ctx := context.Background()

	err := svc.Set(ctx, "cm_appearance", map[string]any{
		"logo":   "data:image/png;base64,AAAA",
		"banner": map[string]any{"image": "https://cdn/banner.png"},
	})
	require.NoError(t, err)

	require.JSONEq(t, `{"logo":"__stored__","banner":{"image":"https://cdn/banner.png"}}`, backend.data["cm_appearance"])
	require.JSONEq(t, `{"favicon":"data:old","logo":"data:image/png;base64,AAAA"}`, backend.data["cm_images"])
}

func TestServiceAutoExtractsCollectionImagesWithinBatch(t *testing.T) {
	svc, backend, _ := newTestService(t)
	ctx := context.Background()

	err := svc.SetMany(ctx, map[string]any{
		"cm_products":        json.RawMessage(`[{"id":"p1","images":["data:A","x.jpg"]}]`),
		"cm_products_images": map[string]any{"p0_0": "data:Z"},
	})
	require.NoError(t, err)

	require.JSONEq(t, `[{"id":"p1","images":["__stored__:p1_0","x.jpg"]}]`, backend.data["cm_products"])
	require.JSONEq(t, `{"p0_0":"data:Z","p1_0":"data:A"}`, backend.data["cm_products_images"])
}

func TestServiceAutoExtractDisabled(t *testing.T) {
	backend := newMemoryBackend()
	svc := NewService(backend, cache.New(cache.DefaultPolicy()), WithAutoExtract(false), WithServiceLogger(zap.NewNop()))

	require.NoError(t, svc.Set(context.Background(), "cm_appearance", map[string]any{"logo": "data:x"}))
	require.JSONEq(t, `{"logo":"data:x"}`, backend.data["cm_appearance"])
	require.NotContains(t, backend.data, "cm_images")
}

func TestServiceInvalidateKeysBumpsSharedTracker(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	tracker := NewVersionTracker(func() time.Time { return now })
	backend := newMemoryBackend()
	backend.data["cm_images"] = `{}`
	store := cache.New(cache.DefaultPolicy())
	svc := NewService(backend, store, WithVersionTracker(tracker), WithServiceLogger(zap.NewNop()))

	_, _, err := svc.Get(context.Background(), "cm_images")
	require.NoError(t, err)

	svc.InvalidateKeys("cm_images")

	_, ok := store.Get("cm_images")
	require.False(t, ok)
	require.Equal(t, DataVersion{Counter: 1, UpdatedAt: now}, tracker.Current())
}

type blockingBackend struct {
	*memoryBackend
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingBackend) Get(ctx context.Context, key string) (string, bool, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
	return b.memoryBackend.Get(ctx, key)
}

func TestServiceSharedGetSurvivesFirstCallerCancel(t *testing.T) {
	backend := &blockingBackend{
		memoryBackend: newMemoryBackend(),
		started:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	backend.data["k"] = `"v"`
	svc := NewService(backend, cache.New(cache.DefaultPolicy()), WithServiceLogger(zap.NewNop()))

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := svc.Get(firstCtx, "k")
		firstErr <- err
	}()
	<-backend.started

	type outcome struct {
		value any
		found bool
		err   error
	}
	second := make(chan outcome, 1)
	go func() {
		value, found, err := svc.Get(context.Background(), "k")
		second <- outcome{value, found, err}
	}()

	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(backend.release)
	got := <-second
	require.NoError(t, got.err)
	require.True(t, got.found)
	require.Equal(t, "v", got.value)
}

func TestServiceSharedFetchIsBounded(t *testing.T) {
	backend := &blockingBackend{
		memoryBackend: newMemoryBackend(),
		started:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	svc := NewService(backend, cache.New(cache.DefaultPolicy()),
		WithServiceLogger(zap.NewNop()), WithFetchTimeout(20*time.Millisecond))

	_, _, err := svc.Get(context.Background(), "k")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
