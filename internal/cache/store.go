package cache

// Store is the read-through cache used in front of the KV backends.
type Store interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	Invalidate(keys ...string)
	Flush()
	Stats() Stats
}

var _ Store = (*TTLCache)(nil)
