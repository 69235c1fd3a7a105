package database

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/shopkv/internal/dbconfig"
)

// PoolOptions bounds the connection pool built for a resolved configuration.
type PoolOptions struct {
	MaxOpenConns   int
	ConnectTimeout time.Duration
	IdleTimeout    time.Duration
	MaxLifetime    time.Duration
}

// DefaultPoolOptions returns the pool limits used when none are configured.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxOpenConns:   10,
		ConnectTimeout: 5 * time.Second,
		IdleTimeout:    30 * time.Second,
		MaxLifetime:    30 * time.Minute,
	}
}

// Open initialises a gorm.DB for the resolved configuration and applies the
// pool limits.
func Open(cfg *dbconfig.ConnectionConfig, opts PoolOptions) (*gorm.DB, error) {
	if cfg == nil {
		return nil, errors.New("database: nil connection config")
	}

	var (
		db  *gorm.DB
		err error
	)

	switch driver := cfg.DriverName(); driver {
	case dbconfig.DriverPostgres:
		db, err = openPostgres(cfg, opts)
	case dbconfig.DriverSQLite:
		db, err = openSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := applyPoolOptions(db, opts); err != nil {
		return nil, err
	}
	return db, nil
}

func applyPoolOptions(db *gorm.DB, opts PoolOptions) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.IdleTimeout > 0 {
		sqlDB.SetConnMaxIdleTime(opts.IdleTimeout)
	}
	if opts.MaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.MaxLifetime)
	}
	return nil
}
