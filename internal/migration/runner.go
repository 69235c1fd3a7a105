package migration

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/charlesng35/shopkv/internal/database"
)

// Report combines both passes.
type Report struct {
	Appearance      *AppearanceResult `json:"appearance,omitempty"`
	AppearanceError string            `json:"appearanceError,omitempty"`
	Entities        []EntityResult    `json:"entities"`
}

// RunAll runs the appearance pass and then the entity pass. An appearance
// failure is recorded in the report and does not stop the entity pass. The
// error is only set when the pool is unavailable.
func (e *Engine) RunAll(ctx context.Context, opts Options) (Report, error) {
	report := Report{Entities: []EntityResult{}}

	appearance, err := e.RunAppearance(ctx, opts)
	switch {
	case err == nil:
		report.Appearance = &appearance
	case isUnavailable(err):
		return report, err
	default:
		report.AppearanceError = err.Error()
		e.log.Error("appearance image migration failed", zap.Error(err))
	}

	entities, err := e.RunEntities(ctx, opts)
	if err != nil {
		return report, err
	}
	report.Entities = entities
	return report, nil
}

// RunOnStartup runs every pass in the background, bounded by the startup
// timeout. The returned channel is closed when the run finishes.
func (e *Engine) RunOnStartup(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)

		runCtx, cancel := context.WithTimeout(ctx, e.startupTimeout)
		defer cancel()

		report, err := e.RunAll(runCtx, Options{})
		if errors.Is(err, database.ErrNotConfigured) {
			e.log.Debug("no relational backend configured, skipping startup image migration")
			return
		}
		if err != nil {
			e.log.Warn("startup image migration did not run", zap.Error(err))
			return
		}
		e.log.Info("startup image migration finished", zap.Any("report", report))
	}()

	return done
}

func isUnavailable(err error) bool {
	return errors.Is(err, database.ErrNotConfigured)
}
