package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/charlesng35/shopkv/internal/cache"
	"github.com/charlesng35/shopkv/internal/database"
)

// Config represents the runtime configuration for the shopkv server.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Migration   MigrationConfig   `mapstructure:"migration"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	LogLevel       string        `mapstructure:"log_level"`
	Development    bool          `mapstructure:"development"`
	TrustedProxies []string      `mapstructure:"trusted_proxies"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace"`
}

// DatabaseConfig points the connection resolver at its config files and sets
// pool limits. Connection details themselves come from the resolver.
type DatabaseConfig struct {
	ConfigFile string     `mapstructure:"config_file"`
	BackupFile string     `mapstructure:"backup_file"`
	Pool       PoolConfig `mapstructure:"pool"`
}

// PoolConfig mirrors database.PoolOptions.
type PoolConfig struct {
	MaxConns       int           `mapstructure:"max_conns"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
}

// StorageConfig configures the flat-file fallback store.
type StorageConfig struct {
	FallbackFile string `mapstructure:"fallback_file"`
}

// CacheConfig sets TTLs per key class.
type CacheConfig struct {
	AllTTL     time.Duration `mapstructure:"all_ttl"`
	ImagesTTL  time.Duration `mapstructure:"images_ttl"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
}

// MigrationConfig controls the image extraction migration.
type MigrationConfig struct {
	Secret         string        `mapstructure:"secret"`
	RunOnStartup   bool          `mapstructure:"run_on_startup"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
	AutoExtract    bool          `mapstructure:"auto_extract"`
}

// MaintenanceConfig schedules background jobs using cron specs.
type MaintenanceConfig struct {
	ProbeSchedule  string        `mapstructure:"probe_schedule"`
	BackupSchedule string        `mapstructure:"backup_schedule"`
	JobTimeout     time.Duration `mapstructure:"job_timeout"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// PoolOptions converts the pool section for the pool manager.
func (c DatabaseConfig) PoolOptions() database.PoolOptions {
	defaults := database.DefaultPoolOptions()
	opts := database.PoolOptions{
		MaxOpenConns:   c.Pool.MaxConns,
		ConnectTimeout: c.Pool.ConnectTimeout,
		IdleTimeout:    c.Pool.IdleTimeout,
		MaxLifetime:    c.Pool.MaxLifetime,
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = defaults.MaxOpenConns
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaults.ConnectTimeout
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaults.IdleTimeout
	}
	if opts.MaxLifetime <= 0 {
		opts.MaxLifetime = defaults.MaxLifetime
	}
	return opts
}

// Policy converts the cache section into a TTL policy.
func (c CacheConfig) Policy() cache.Policy {
	return cache.Policy{All: c.AllTTL, Images: c.ImagesTTL, Default: c.DefaultTTL}
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("SHOPKV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.development", false)
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("server.shutdown_grace", "10s")

	v.SetDefault("database.config_file", "./config/db-config.json")
	v.SetDefault("database.backup_file", "./data/db-config.backup.json")
	v.SetDefault("database.pool.max_conns", 10)
	v.SetDefault("database.pool.connect_timeout", "5s")
	v.SetDefault("database.pool.idle_timeout", "30s")
	v.SetDefault("database.pool.max_lifetime", "30m")

	v.SetDefault("storage.fallback_file", "./data/kv.json")

	v.SetDefault("cache.all_ttl", "2s")
	v.SetDefault("cache.images_ttl", "60s")
	v.SetDefault("cache.default_ttl", "10s")

	v.SetDefault("migration.secret", "")
	v.SetDefault("migration.run_on_startup", true)
	v.SetDefault("migration.startup_timeout", "2m")
	v.SetDefault("migration.auto_extract", true)

	v.SetDefault("maintenance.probe_schedule", "@every 30s")
	v.SetDefault("maintenance.backup_schedule", "@hourly")
	v.SetDefault("maintenance.job_timeout", "30s")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
	v.SetDefault("monitoring.health_check.timeout", "2s")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
