package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func newTestCache() (*TTLCache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(DefaultPolicy(), WithClock(clock.Now)), clock
}

func TestTTLBoundary(t *testing.T) {
	c, clock := newTestCache()

	c.Set("cm_settings", "v")

	clock.Advance(9999 * time.Millisecond)
	value, ok := c.Get("cm_settings")
	require.True(t, ok)
	require.Equal(t, "v", value)

	clock.Advance(2 * time.Millisecond)
	value, ok = c.Get("cm_settings")
	require.False(t, ok)
	require.Nil(t, value)

	require.Equal(t, Stats{Hits: 1, Misses: 1}, c.Stats())
}

func TestTTLClasses(t *testing.T) {
	policy := DefaultPolicy()

	require.Equal(t, 2*time.Second, policy.TTLFor(AllKey))
	require.Equal(t, 60*time.Second, policy.TTLFor(ImagesKey))
	require.Equal(t, 10*time.Second, policy.TTLFor("cm_tasks"))

	c, clock := newTestCache()
	c.Set(AllKey, "all")
	c.Set(ImagesKey, "images")
	c.Set("cm_tasks", "tasks")

	clock.Advance(3 * time.Second)
	_, ok := c.Get(AllKey)
	require.False(t, ok)
	_, ok = c.Get("cm_tasks")
	require.True(t, ok)

	clock.Advance(30 * time.Second)
	_, ok = c.Get("cm_tasks")
	require.False(t, ok)
	_, ok = c.Get(ImagesKey)
	require.True(t, ok)
}

func TestInvalidateAlsoClearsAggregate(t *testing.T) {
	c, _ := newTestCache()

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set(AllKey, map[string]any{"a": 1, "b": 2})

	c.Invalidate("a")

	_, ok := c.Get("a")
	require.False(t, ok)
	_, ok = c.Get(AllKey)
	require.False(t, ok)
	_, ok = c.Get("b")
	require.True(t, ok)
}

func TestFlushAndStats(t *testing.T) {
	c, clock := newTestCache()

	c.Set(AllKey, "short")
	c.Set("long", "value")
	clock.Advance(5 * time.Second)

	stats := c.Stats()
	require.Equal(t, 1, stats.Alive)
	require.Equal(t, 1, stats.Expired)

	c.Flush()
	stats = c.Stats()
	require.Zero(t, stats.Alive)
	require.Zero(t, stats.Expired)
}

func TestNewFillsZeroPolicy(t *testing.T) {
	c := New(Policy{Default: time.Minute})

	require.Equal(t, time.Minute, c.Policy().Default)
	require.Equal(t, 2*time.Second, c.Policy().All)
	require.Equal(t, 60*time.Second, c.Policy().Images)
}
