package kv

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/charlesng35/shopkv/internal/cache"
	"github.com/charlesng35/shopkv/internal/images"
	"github.com/charlesng35/shopkv/pkg/logger"
	"github.com/charlesng35/shopkv/pkg/metrics"
)

// Service is the cache-fronted store used by the API. Values returned from
// Get and GetAll are shared with the cache and must not be mutated.
type Service struct {
	backend  Backend
	cache    cache.Store
	versions *VersionTracker
	log      *zap.Logger
	group    singleflight.Group

	autoExtract  bool
	fetchTimeout time.Duration
}

const defaultFetchTimeout = 10 * time.Second

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the service logger.
func WithServiceLogger(log *zap.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithVersionTracker shares a version tracker with other components.
func WithVersionTracker(tracker *VersionTracker) ServiceOption {
	return func(s *Service) {
		if tracker != nil {
			s.versions = tracker
		}
	}
}

// WithAutoExtract toggles moving embedded images out of documents on write.
func WithAutoExtract(enabled bool) ServiceOption {
	return func(s *Service) {
		s.autoExtract = enabled
	}
}

// WithFetchTimeout bounds a shared cache-miss fetch. The fetch outlives the
// caller that started it, so it needs its own deadline.
func WithFetchTimeout(timeout time.Duration) ServiceOption {
	return func(s *Service) {
		if timeout > 0 {
			s.fetchTimeout = timeout
		}
	}
}

// NewService constructs a Service over backend and store.
func NewService(backend Backend, store cache.Store, opts ...ServiceOption) *Service {
	s := &Service{
		backend:     backend,
		cache:       store,
		log:          logger.WithModule("kv"),
		autoExtract:  true,
		fetchTimeout: defaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.versions == nil {
		s.versions = NewVersionTracker(time.Now)
	}
	return s
}

// Backend returns the active backend.
func (s *Service) Backend() Backend {
	return s.backend
}

// CacheStats reports cache counters.
func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// Version returns the current data version.
func (s *Service) Version() DataVersion {
	return s.versions.Current()
}

type lookup struct {
	value any
	found bool
}

// Get returns the decoded value for key. Missing keys return found=false and
// are not cached.
func (s *Service) Get(ctx context.Context, key string) (any, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	if value, ok := s.cache.Get(key); ok {
		return value, true, nil
	}

	result, err := s.shared(ctx, "get:"+key, func(ctx context.Context) (any, error) {
		raw, found, err := s.backend.Get(ctx, key)
		s.observe("get", err)
		if err != nil {
			return nil, err
		}
		if !found {
			return lookup{}, nil
		}
		value := DecodeValue(raw)
		s.cache.Set(key, value)
		return lookup{value: value, found: true}, nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("kv: get %q: %w", key, err)
	}

	res := result.(lookup)
	return res.value, res.found, nil
}

// GetAll returns every entry except the appearance images document.
func (s *Service) GetAll(ctx context.Context) (map[string]any, error) {
	if value, ok := s.cache.Get(cache.AllKey); ok {
		if all, ok := value.(map[string]any); ok {
			return all, nil
		}
	}

	result, err := s.shared(ctx, cache.AllKey, func(ctx context.Context) (any, error) {
		rows, err := s.backend.GetAll(ctx, images.AppearanceImagesKey)
		s.observe("getAll", err)
		if err != nil {
			return nil, err
		}
		all := make(map[string]any, len(rows))
		for key, raw := range rows {
			all[key] = DecodeValue(raw)
		}
		s.cache.Set(cache.AllKey, all)
		return all, nil
	})
	if err != nil {
		return nil, fmt.Errorf("kv: get all: %w", err)
	}
	return result.(map[string]any), nil
}

// shared runs fetch once for concurrent callers of the same key. The fetch
// is detached from any single caller's cancellation; each caller stops
// waiting when its own ctx ends.
func (s *Service) shared(ctx context.Context, key string, fetch func(context.Context) (any, error)) (any, error) {
	ch := s.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
		defer cancel()
		return fetch(fetchCtx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Set stores value under key.
func (s *Service) Set(ctx context.Context, key string, value any) error {
	return s.SetMany(ctx, map[string]any{key: value})
}

// Delete removes key. Deleting a missing key succeeds.
func (s *Service) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	err := s.backend.Delete(ctx, key)
	s.observe("delete", err)
	if err != nil {
		return fmt.Errorf("kv: delete %q: %w", key, err)
	}
	s.afterWrite(key)
	return nil
}

// SetMany stores all entries atomically. Documents carrying embedded images
// have them moved into their companion images documents in the same write.
func (s *Service) SetMany(ctx context.Context, values map[string]any) error {
	if len(values) == 0 {
		return nil
	}

	entries := make(map[string]string, len(values))
	for key, value := range values {
		if err := validateKey(key); err != nil {
			return err
		}
		raw, err := EncodeValue(value)
		if err != nil {
			return fmt.Errorf("kv: encode %q: %w", key, err)
		}
		entries[key] = raw
	}

	if s.autoExtract {
		if err := s.extractEmbedded(ctx, entries); err != nil {
			return err
		}
	}

	action := "setMany"
	var err error
	if len(entries) == 1 {
		action = "set"
		for key, raw := range entries {
			err = s.backend.Set(ctx, key, raw)
		}
	} else {
		err = s.backend.SetMany(ctx, entries)
	}
	s.observe(action, err)
	if err != nil {
		return fmt.Errorf("kv: %s: %w", action, err)
	}

	s.afterWrite(sortedKeys(entries)...)
	return nil
}

// InvalidateKeys drops cached entries written outside the service and bumps
// the data version.
func (s *Service) InvalidateKeys(keys ...string) {
	s.afterWrite(keys...)
}

func (s *Service) afterWrite(keys ...string) {
	s.cache.Invalidate(keys...)
	s.versions.Bump()
}

// extractEmbedded rewrites appearance and entity documents in entries and
// adds the merged companion images documents to the batch.
func (s *Service) extractEmbedded(ctx context.Context, entries map[string]string) error {
	for _, key := range sortedKeys(entries) {
		imagesKey, extract, ok := extractorFor(key)
		if !ok {
			continue
		}

		doc, err := images.Decode(entries[key])
		if err != nil {
			continue
		}
		ex := extract(doc)
		if ex.Count() == 0 {
			continue
		}

		rewritten, err := images.Encode(doc)
		if err != nil {
			return fmt.Errorf("kv: encode %q: %w", key, err)
		}

		base, err := s.companion(ctx, entries, imagesKey)
		if err != nil {
			return err
		}
		merged, err := images.EncodeImages(images.Merge(base, ex.Images))
		if err != nil {
			return fmt.Errorf("kv: encode %q: %w", imagesKey, err)
		}

		entries[key] = rewritten
		entries[imagesKey] = merged

		s.log.Info("extracted embedded images on write",
			zap.String("key", key),
			zap.Int("moved", ex.Count()),
			zap.Int("saved_kb", ex.SavedKB()))
	}
	return nil
}

// companion returns the images document to merge into, preferring a value
// already in the batch over the stored one.
func (s *Service) companion(ctx context.Context, entries map[string]string, imagesKey string) (map[string]any, error) {
	raw, ok := entries[imagesKey]
	if !ok {
		stored, found, err := s.backend.Get(ctx, imagesKey)
		if err != nil {
			return nil, fmt.Errorf("kv: read %q: %w", imagesKey, err)
		}
		if !found {
			return map[string]any{}, nil
		}
		raw = stored
	}
	doc, ok := images.DecodeObject(raw)
	if !ok {
		return map[string]any{}, nil
	}
	return doc, nil
}

func extractorFor(key string) (string, func(any) images.Extraction, bool) {
	if key == images.AppearanceKey {
		return images.AppearanceImagesKey, func(doc any) images.Extraction {
			obj, _ := doc.(map[string]any)
			return images.ExtractAppearance(obj)
		}, true
	}
	if collection, ok := images.CollectionFor(key); ok {
		return collection.ImagesKey, func(doc any) images.Extraction {
			records, _ := doc.([]any)
			return collection.Extract(records)
		}, true
	}
	return "", nil, false
}

func (s *Service) observe(action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.KVOperations.WithLabelValues(s.backend.Kind(), action, result).Inc()
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" || key == cache.AllKey {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
