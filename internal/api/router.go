package api

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charlesng35/shopkv/internal/app"
	"github.com/charlesng35/shopkv/internal/handlers"
	"github.com/charlesng35/shopkv/internal/kv"
	"github.com/charlesng35/shopkv/internal/middleware"
	"github.com/charlesng35/shopkv/internal/monitoring"
)

// Dependencies are the services the router exposes.
type Dependencies struct {
	Config     *app.Config
	KV         *kv.Service
	Migrations handlers.MigrationRunner
	Pool       handlers.PoolStatusProvider
	Health     *monitoring.HealthManager
	Jobs       *monitoring.JobTracker
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	cfg := deps.Config
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.KV == nil {
		return nil, fmt.Errorf("kv service must be provided")
	}
	if deps.Migrations == nil {
		return nil, fmt.Errorf("migration runner must be provided")
	}

	r := gin.New()
	// The migration gate trusts loopback callers, so forwarded headers are
	// only honoured from configured proxies.
	if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())

	registerHealthRoutes(r, cfg, deps.Health)

	kvHandler := handlers.NewKVHandler(deps.KV)
	migrationHandler := handlers.NewMigrationHandler(deps.Migrations, cfg.Migration.Secret)
	statusHandler := handlers.NewStatusHandler(deps.KV, deps.Pool, deps.Jobs)

	api := r.Group("/api")
	{
		api.POST("/kv", kvHandler.Handle)
		api.GET("/kv/version", kvHandler.Version)
		api.GET("/status", statusHandler.Get)
		api.POST("/admin/migrate-images", migrationHandler.Trigger)
	}

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
