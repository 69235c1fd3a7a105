package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/shopkv/internal/api"
	"github.com/charlesng35/shopkv/internal/app"
	"github.com/charlesng35/shopkv/internal/app/maintenance"
	"github.com/charlesng35/shopkv/internal/cache"
	"github.com/charlesng35/shopkv/internal/database"
	"github.com/charlesng35/shopkv/internal/dbconfig"
	"github.com/charlesng35/shopkv/internal/kv"
	"github.com/charlesng35/shopkv/internal/migration"
	"github.com/charlesng35/shopkv/internal/monitoring"
	"github.com/charlesng35/shopkv/internal/monitoring/checks"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	Resolver   *dbconfig.Resolver
	Pools      *database.Manager
	Backend    kv.Backend
	Store      *kv.Service
	Migrations *migration.Engine
	Health     *monitoring.HealthManager
	Scheduler  *maintenance.Scheduler
	Router     *gin.Engine

	migrationDone   <-chan struct{}
	cancelMigration context.CancelFunc
}

// bootstrapRuntime resolves the storage backend and wires the store, cache,
// migration engine, maintenance jobs and HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.Resolver = &dbconfig.Resolver{
		PrimaryFile: cfg.Database.ConfigFile,
		BackupFile:  cfg.Database.BackupFile,
	}
	stack.Pools = database.NewManager(stack.Resolver.Resolve,
		database.WithPoolOptions(cfg.Database.PoolOptions()))

	resolved, err := stack.Resolver.Resolve()
	if err != nil {
		return nil, fmt.Errorf("resolve database configuration: %w", err)
	}

	stack.Health = monitoring.NewHealthManager()
	relational := resolved != nil
	if relational {
		stack.Backend = kv.NewRelationalBackend(stack.Pools)
		stack.Health.RegisterReadiness(checks.Database(stack.Pools, cfg.Monitoring.Health.Timeout))
	} else {
		fileBackend := kv.NewFileBackend(cfg.Storage.FallbackFile)
		if err := fileBackend.Prepare(); err != nil {
			return nil, fmt.Errorf("prepare fallback store: %w", err)
		}
		stack.Backend = fileBackend
		stack.Health.RegisterReadiness(checks.FlatFile(cfg.Storage.FallbackFile))
	}
	log.Info("storage backend selected", zap.String("backend", stack.Backend.Kind()))

	stack.Store = kv.NewService(stack.Backend, cache.New(cfg.Cache.Policy()),
		kv.WithAutoExtract(cfg.Migration.AutoExtract))

	stack.Migrations = migration.NewEngine(stack.Pools,
		migration.WithInvalidator(stack.Store),
		migration.WithStartupTimeout(cfg.Migration.StartupTimeout))

	var probe maintenance.PoolProbe
	if relational {
		probe = stack.Pools
	}
	jobs := monitoring.NewJobTracker()
	stack.Scheduler = maintenance.NewScheduler(probe, stack.Resolver,
		maintenance.WithJobTracker(jobs),
		maintenance.WithProbeSchedule(cfg.Maintenance.ProbeSchedule),
		maintenance.WithBackupSchedule(cfg.Maintenance.BackupSchedule),
		maintenance.WithJobTimeout(cfg.Maintenance.JobTimeout))
	stack.Health.RegisterLiveness(checks.Maintenance(jobs, 0))

	stack.Router, err = api.NewRouter(api.Dependencies{
		Config:     cfg,
		KV:         stack.Store,
		Migrations: stack.Migrations,
		Pool:       stack.Pools,
		Health:     stack.Health,
		Jobs:       jobs,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	if err := stack.Scheduler.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	if relational && cfg.Migration.RunOnStartup {
		migrationCtx, cancel := context.WithCancel(ctx)
		stack.cancelMigration = cancel
		stack.migrationDone = stack.Migrations.RunOnStartup(migrationCtx)
	}

	success = true
	return stack, nil
}

// WaitForStartupMigration blocks until the startup migration finishes or ctx
// ends. It returns immediately when none was started.
func (s *runtimeStack) WaitForStartupMigration(ctx context.Context) {
	if s == nil || s.migrationDone == nil {
		return
	}
	select {
	case <-s.migrationDone:
	case <-ctx.Done():
	}
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.cancelMigration != nil {
		s.cancelMigration()
		s.WaitForStartupMigration(ctx)
	}

	if s.Scheduler != nil {
		select {
		case <-s.Scheduler.Stop().Done():
		case <-ctx.Done():
			log.Warn("maintenance jobs still running at shutdown")
		}
	}

	if s.Pools != nil {
		if err := s.Pools.Close(); err != nil {
			log.Warn("close connection pool", zap.Error(err))
		}
	}
}

func shutdownContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	return context.WithTimeout(context.Background(), timeout)
}
