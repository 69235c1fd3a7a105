package maintenance

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/shopkv/internal/database"
	"github.com/charlesng35/shopkv/internal/monitoring"
	"github.com/charlesng35/shopkv/pkg/logger"
)

// Job names recorded in the job tracker.
const (
	JobPoolProbe    = "pool_probe"
	JobBackupMirror = "backup_mirror"
)

const (
	defaultProbeSpec  = "@every 30s"
	defaultBackupSpec = "@hourly"
	defaultJobTimeout = 30 * time.Second
)

// PoolProbe is satisfied by the pool manager.
type PoolProbe interface {
	Ping(ctx context.Context) error
	Status() database.Status
}

// BackupMirror copies the primary connection file to the backup location.
type BackupMirror interface {
	MirrorBackup(now time.Time) (bool, error)
}

// Scheduler runs background storage maintenance: probing the relational
// pool and mirroring the primary connection file to its backup.
type Scheduler struct {
	pool    PoolProbe
	backups BackupMirror
	jobs    *monitoring.JobTracker
	cron    *cron.Cron
	now     func() time.Time
	log     *zap.Logger
	timeout time.Duration

	probeSchedule  string
	backupSchedule string
}

// Option customises the Scheduler.
type Option func(*Scheduler)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithNow overrides the clock passed to the backup mirror.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithJobTracker records job outcomes in tracker.
func WithJobTracker(tracker *monitoring.JobTracker) Option {
	return func(s *Scheduler) {
		if tracker != nil {
			s.jobs = tracker
		}
	}
}

// WithProbeSchedule overrides the cron specification for the pool probe.
func WithProbeSchedule(spec string) Option {
	return func(s *Scheduler) {
		if spec != "" {
			s.probeSchedule = spec
		}
	}
}

// WithBackupSchedule overrides the cron specification for the backup mirror.
func WithBackupSchedule(spec string) Option {
	return func(s *Scheduler) {
		if spec != "" {
			s.backupSchedule = spec
		}
	}
}

// WithJobTimeout bounds each job run.
func WithJobTimeout(timeout time.Duration) Option {
	return func(s *Scheduler) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// NewScheduler constructs a Scheduler. A nil dependency skips its job.
func NewScheduler(pool PoolProbe, backups BackupMirror, opts ...Option) *Scheduler {
	s := &Scheduler{
		pool:           pool,
		backups:        backups,
		now:            time.Now,
		log:            logger.WithModule("maintenance"),
		timeout:        defaultJobTimeout,
		probeSchedule:  defaultProbeSpec,
		backupSchedule: defaultBackupSpec,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.jobs == nil {
		s.jobs = monitoring.NewJobTracker()
	}
	if s.cron == nil {
		s.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return s
}

// Jobs exposes the tracker the scheduler records into.
func (s *Scheduler) Jobs() *monitoring.JobTracker {
	return s.jobs
}

// Start registers the enabled jobs and launches the cron scheduler.
func (s *Scheduler) Start() error {
	if s.pool == nil && s.backups == nil {
		return nil
	}

	if s.pool != nil {
		s.jobs.Register(JobPoolProbe)
		if _, err := s.cron.AddFunc(s.probeSchedule, func() {
			s.runScheduled(JobPoolProbe, s.ProbePool)
		}); err != nil {
			return err
		}
	}

	if s.backups != nil {
		s.jobs.Register(JobBackupMirror)
		if _, err := s.cron.AddFunc(s.backupSchedule, func() {
			s.runScheduled(JobBackupMirror, s.MirrorBackup)
		}); err != nil {
			return err
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (s *Scheduler) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// RunOnce executes every configured job sequentially and aggregates failures.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if s.pool != nil {
		errs = multierr.Append(errs, s.run(ctx, JobPoolProbe, s.ProbePool))
	}
	if s.backups != nil {
		errs = multierr.Append(errs, s.run(ctx, JobBackupMirror, s.MirrorBackup))
	}
	return errs
}

// ProbePool pings the pool and refreshes its gauges. An unconfigured backend
// is not a failure.
func (s *Scheduler) ProbePool(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	err := s.pool.Ping(ctx)
	s.pool.Status()
	if err != nil && !errors.Is(err, database.ErrNotConfigured) {
		return err
	}
	return nil
}

// MirrorBackup refreshes the backup connection file from the primary.
func (s *Scheduler) MirrorBackup(ctx context.Context) error {
	if s.backups == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	wrote, err := s.backups.MirrorBackup(s.now())
	if err != nil {
		return err
	}
	if wrote {
		s.log.Info("mirrored connection config to backup file")
	}
	return nil
}

func (s *Scheduler) runScheduled(job string, fn func(context.Context) error) {
	if err := s.run(context.Background(), job, fn); err != nil {
		s.log.Warn("maintenance job failed", zap.String("job", job), zap.Error(err))
	}
}

func (s *Scheduler) run(ctx context.Context, job string, fn func(context.Context) error) error {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := fn(runCtx)

	result, message := monitoring.ResultSuccess, ""
	if err != nil {
		result, message = monitoring.ResultFailure, err.Error()
	}
	s.jobs.Record(job, result, message, time.Since(start))
	return err
}
