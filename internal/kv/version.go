package kv

import (
	"sync"
	"time"

	"github.com/charlesng35/shopkv/pkg/metrics"
)

// DataVersion lets long-lived clients detect that stored data changed.
type DataVersion struct {
	Counter   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VersionTracker is bumped after every successful mutation.
type VersionTracker struct {
	mu      sync.Mutex
	now     func() time.Time
	current DataVersion
}

// NewVersionTracker starts a tracker at counter zero.
func NewVersionTracker(now func() time.Time) *VersionTracker {
	if now == nil {
		now = time.Now
	}
	return &VersionTracker{
		now:     now,
		current: DataVersion{UpdatedAt: now().UTC()},
	}
}

// Bump advances the version and returns it.
func (t *VersionTracker) Bump() DataVersion {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.current = DataVersion{
		Counter:   t.current.Counter + 1,
		UpdatedAt: t.now().UTC(),
	}
	metrics.DataVersion.Set(float64(t.current.Counter))
	return t.current
}

// Current returns the latest version.
func (t *VersionTracker) Current() DataVersion {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}
