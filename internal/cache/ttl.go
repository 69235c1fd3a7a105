// Package cache holds the process-local TTL cache placed in front of KV reads.
package cache

import (
	"sync"
	"time"

	"github.com/charlesng35/shopkv/pkg/metrics"
)

const (
	// AllKey caches the aggregate of every entry except the images document.
	AllKey = "__all__"
	// ImagesKey is the images document, which changes rarely.
	ImagesKey = "cm_images"
)

// Policy assigns a TTL to each key class.
type Policy struct {
	All     time.Duration
	Images  time.Duration
	Default time.Duration
}

// DefaultPolicy returns the standard TTL classes.
func DefaultPolicy() Policy {
	return Policy{
		All:     2 * time.Second,
		Images:  60 * time.Second,
		Default: 10 * time.Second,
	}
}

// TTLFor returns the TTL of key's class.
func (p Policy) TTLFor(key string) time.Duration {
	switch key {
	case AllKey:
		return p.All
	case ImagesKey:
		return p.Images
	default:
		return p.Default
	}
}

// Stats summarises cache usage. Alive and Expired are counted at call time.
type Stats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Alive   int    `json:"alive"`
	Expired int    `json:"expired"`
}

type entry struct {
	value     any
	expiresAt time.Time
}

// TTLCache is a mutex-guarded map with per-class expiry. Expired entries are
// evicted lazily on lookup; there is no background sweep.
type TTLCache struct {
	policy Policy
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]entry
	hits    uint64
	misses  uint64
}

// Option customises a TTLCache.
type Option func(*TTLCache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *TTLCache) {
		if now != nil {
			c.now = now
		}
	}
}

// New constructs a TTLCache using the given policy. Zero durations in the
// policy fall back to the defaults.
func New(policy Policy, opts ...Option) *TTLCache {
	defaults := DefaultPolicy()
	if policy.All <= 0 {
		policy.All = defaults.All
	}
	if policy.Images <= 0 {
		policy.Images = defaults.Images
	}
	if policy.Default <= 0 {
		policy.Default = defaults.Default
	}

	c := &TTLCache{
		policy:  policy,
		now:     time.Now,
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the TTL classes in use.
func (c *TTLCache) Policy() Policy {
	return c.policy
}

// Get returns the cached value. An entry past its expiry counts as a miss
// and is removed.
func (c *TTLCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if ok && c.now().After(e.expiresAt) {
		delete(c.entries, key)
		ok = false
	}

	if !ok {
		c.misses++
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}

	c.hits++
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return e.value, true
}

// Set stores value with the TTL of key's class.
func (c *TTLCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry{
		value:     value,
		expiresAt: c.now().Add(c.policy.TTLFor(key)),
	}
}

// Invalidate removes the given keys and always the aggregate entry.
func (c *TTLCache) Invalidate(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		delete(c.entries, key)
	}
	delete(c.entries, AllKey)
}

// Flush drops every entry. Counters are kept.
func (c *TTLCache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]entry)
}

// Stats reports counters and the number of live and expired entries.
func (c *TTLCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{Hits: c.hits, Misses: c.misses}
	now := c.now()
	for _, e := range c.entries {
		if now.After(e.expiresAt) {
			stats.Expired++
		} else {
			stats.Alive++
		}
	}
	return stats
}
