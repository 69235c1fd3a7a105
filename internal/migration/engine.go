// Package migration moves embedded base64 images out of the appearance and
// entity documents into companion images documents. Every pass is idempotent
// and writes each document pair in a single transaction.
package migration

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/shopkv/internal/images"
	"github.com/charlesng35/shopkv/pkg/logger"
	"github.com/charlesng35/shopkv/pkg/metrics"
)

// Reason explains why a pass did not move anything.
type Reason string

const (
	ReasonAlreadyDone   Reason = "already_done"
	ReasonNoSource      Reason = "no_source"
	ReasonParseError    Reason = "parse_error"
	ReasonNoImagesFound Reason = "no_images_found"
	ReasonNoData        Reason = "no_data"
	ReasonNotArray      Reason = "not_array"
)

// Options controls a migration run.
type Options struct {
	// Force re-runs a pass even when its images document is already populated.
	Force bool
}

// PoolProvider hands out the relational pool the engine works against.
type PoolProvider interface {
	GetPool(ctx context.Context) (*gorm.DB, error)
	RecordError(err error)
}

// Invalidator is told which keys a pass rewrote.
type Invalidator interface {
	InvalidateKeys(keys ...string)
}

// Engine runs the image extraction passes directly against the pool.
type Engine struct {
	pools          PoolProvider
	invalidator    Invalidator
	log            *zap.Logger
	startupTimeout time.Duration
	collections    []images.Collection
}

// Option customises an Engine.
type Option func(*Engine)

// WithInvalidator registers the cache to notify after writes.
func WithInvalidator(inv Invalidator) Option {
	return func(e *Engine) {
		e.invalidator = inv
	}
}

// WithLogger sets the engine logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithStartupTimeout bounds the background run started by RunOnStartup.
func WithStartupTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		if timeout > 0 {
			e.startupTimeout = timeout
		}
	}
}

// NewEngine constructs an Engine.
func NewEngine(pools PoolProvider, opts ...Option) *Engine {
	e := &Engine{
		pools:          pools,
		log:            logger.WithModule("migration"),
		startupTimeout: 2 * time.Minute,
		collections:    images.Collections,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) invalidate(keys ...string) {
	if e.invalidator != nil {
		e.invalidator.InvalidateKeys(keys...)
	}
}

func outcome(document, result string) {
	metrics.MigrationOutcomes.WithLabelValues(document, result).Inc()
}

// isEmptyDocument reports whether an images document counts as not yet
// migrated. Unparsable content counts as populated so it is never clobbered.
func isEmptyDocument(raw string) bool {
	value, err := images.Decode(raw)
	if err != nil {
		return false
	}
	switch v := value.(type) {
	case nil:
		return true
	case map[string]any:
		return len(v) == 0
	case []any:
		return len(v) == 0
	default:
		return false
	}
}
