package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/shopkv/internal/dbconfig"
	"github.com/charlesng35/shopkv/pkg/logger"
	"github.com/charlesng35/shopkv/pkg/metrics"
)

// ErrNotConfigured is returned when no relational configuration resolves.
var ErrNotConfigured = errors.New("database: no relational configuration")

// State is the readiness of the pool manager.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
)

// ResolveFunc returns the current connection configuration, or nil when none
// is available.
type ResolveFunc func() (*dbconfig.ConnectionConfig, error)

// OpenFunc builds a pool for a resolved configuration.
type OpenFunc func(cfg *dbconfig.ConnectionConfig, opts PoolOptions) (*gorm.DB, error)

// Status is a point-in-time snapshot of the manager.
type Status struct {
	State           State         `json:"state"`
	Ready           bool          `json:"ready"`
	Source          string        `json:"source,omitempty"`
	Fingerprint     string        `json:"-"`
	LastError       string        `json:"last_error,omitempty"`
	LastErrorAt     *time.Time    `json:"last_error_at,omitempty"`
	ReadySince      *time.Time    `json:"ready_since,omitempty"`
	OpenConnections int           `json:"open_connections"`
	InUse           int           `json:"in_use"`
	Idle            int           `json:"idle"`
	WaitCount       int64         `json:"wait_count"`
	WaitDuration    time.Duration `json:"wait_duration"`
}

// Manager owns the process-wide relational pool. The pool is built lazily and
// rebuilt whenever the resolved configuration's fingerprint changes. Failures
// are reported to the caller; the manager never retries.
type Manager struct {
	resolve ResolveFunc
	open    OpenFunc
	opts    PoolOptions
	log     *zap.Logger
	now     func() time.Time

	mu          sync.Mutex
	db          *gorm.DB
	fingerprint string
	source      dbconfig.Source
	state       State
	readySince  time.Time
	lastErr     string
	lastErrAt   time.Time
}

// Option customises a Manager.
type Option func(*Manager)

// WithOpener replaces the driver opener.
func WithOpener(open OpenFunc) Option {
	return func(m *Manager) {
		if open != nil {
			m.open = open
		}
	}
}

// WithPoolOptions sets the pool limits.
func WithPoolOptions(opts PoolOptions) Option {
	return func(m *Manager) {
		m.opts = opts
	}
}

// WithLogger sets the logger used for pool lifecycle events.
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithClock overrides the time source used for status timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager constructs a Manager around the supplied resolver.
func NewManager(resolve ResolveFunc, opts ...Option) *Manager {
	m := &Manager{
		resolve: resolve,
		open:    Open,
		opts:    DefaultPoolOptions(),
		log:     logger.WithModule("database"),
		now:     time.Now,
		state:   StateUninitialized,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Configured reports whether the resolver currently yields a configuration.
// A resolver error counts as unconfigured and is recorded.
func (m *Manager) Configured() bool {
	if m == nil || m.resolve == nil {
		return false
	}
	cfg, err := m.resolve()
	if err != nil {
		m.log.Error("resolve connection configuration", zap.Error(err))
		m.RecordError(err)
		return false
	}
	return cfg != nil
}

// GetPool returns the pool for the current configuration, building or
// rebuilding it when needed.
func (m *Manager) GetPool(ctx context.Context) (*gorm.DB, error) {
	if m == nil || m.resolve == nil {
		return nil, ErrNotConfigured
	}

	cfg, err := m.resolve()
	if err != nil {
		m.RecordError(err)
		return nil, err
	}
	if cfg == nil {
		return nil, ErrNotConfigured
	}
	fingerprint := cfg.Fingerprint()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db != nil && m.fingerprint == fingerprint {
		return m.db, nil
	}

	m.state = StateInitializing
	metrics.PoolReady.Set(0)
	if m.db != nil {
		m.log.Info("connection configuration changed, rebuilding pool",
			zap.String("source", string(cfg.Source)))
		m.closeLocked()
	}

	db, err := m.open(cfg, m.opts)
	if err != nil {
		m.recordErrorLocked(err)
		return nil, fmt.Errorf("database: open pool: %w", err)
	}

	if err := AutoMigrate(ctx, db); err != nil {
		m.recordErrorLocked(err)
		closeDB(db, m.log)
		return nil, fmt.Errorf("database: ensure kv table: %w", err)
	}

	m.db = db
	m.fingerprint = fingerprint
	m.source = cfg.Source
	m.state = StateReady
	m.readySince = m.now()
	metrics.PoolReady.Set(1)

	m.log.Info("connection pool ready",
		zap.String("source", string(cfg.Source)),
		zap.String("driver", cfg.DriverName()))

	return db, nil
}

// Ping checks the pool with a round-trip. Failures are recorded.
func (m *Manager) Ping(ctx context.Context) error {
	db, err := m.GetPool(ctx)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		m.RecordError(err)
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		m.RecordError(err)
		return fmt.Errorf("database: ping: %w", err)
	}
	return nil
}

// RecordError stores a query failure for observability. The state is left
// unchanged.
func (m *Manager) RecordError(err error) {
	if m == nil || err == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordErrorLocked(err)
}

func (m *Manager) recordErrorLocked(err error) {
	m.lastErr = err.Error()
	m.lastErrAt = m.now()
}

// Status returns a snapshot of the manager and refreshes the pool gauges.
func (m *Manager) Status() Status {
	if m == nil {
		return Status{State: StateUninitialized}
	}

	m.mu.Lock()
	status := Status{
		State:       m.state,
		Ready:       m.state == StateReady,
		Source:      string(m.source),
		Fingerprint: m.fingerprint,
		LastError:   m.lastErr,
	}
	if !m.lastErrAt.IsZero() {
		at := m.lastErrAt
		status.LastErrorAt = &at
	}
	if status.Ready {
		since := m.readySince
		status.ReadySince = &since
	}
	db := m.db
	m.mu.Unlock()

	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			stats := sqlDB.Stats()
			status.OpenConnections = stats.OpenConnections
			status.InUse = stats.InUse
			status.Idle = stats.Idle
			status.WaitCount = stats.WaitCount
			status.WaitDuration = stats.WaitDuration
		}
	}

	metrics.PoolConnections.WithLabelValues("open").Set(float64(status.OpenConnections))
	metrics.PoolConnections.WithLabelValues("in_use").Set(float64(status.InUse))
	metrics.PoolConnections.WithLabelValues("idle").Set(float64(status.Idle))
	metrics.PoolWaitCount.Set(float64(status.WaitCount))

	return status
}

// Close releases the pool. A later GetPool builds a fresh one.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db == nil {
		return nil
	}

	sqlDB, err := m.db.DB()
	m.db = nil
	m.fingerprint = ""
	m.state = StateUninitialized
	metrics.PoolReady.Set(0)
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (m *Manager) closeLocked() {
	closeDB(m.db, m.log)
	m.db = nil
	m.fingerprint = ""
}

func closeDB(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("resolve sql handle for close", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn("close previous pool", zap.Error(err))
	}
}
