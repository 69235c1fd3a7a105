package checks

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/charlesng35/shopkv/internal/monitoring"
)

const defaultDatabaseTimeout = 2 * time.Second

// Pinger is satisfied by the pool manager.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Database returns a readiness probe that pings the relational pool.
func Database(p Pinger, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if p == nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDown,
				Details:  "database not configured",
				Duration: time.Since(start),
			}
		}

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout, defaultDatabaseTimeout))
		defer cancel()

		if err := p.Ping(probeCtx); err != nil {
			return monitoring.ResultFromError("database", err, time.Since(start))
		}

		return monitoring.ProbeResult{
			Status:   monitoring.StatusUp,
			Duration: time.Since(start),
		}
	})
}

// FlatFile reports whether the fallback store file is reachable. A missing
// file is healthy as long as the first write could create it, which means
// its nearest existing ancestor is a directory.
func FlatFile(path string) monitoring.Check {
	return monitoring.NewCheck("flat_file", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()

		info, err := os.Stat(path)
		switch {
		case err == nil && info.IsDir():
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDown,
				Details:  fmt.Sprintf("%s is a directory", path),
				Duration: time.Since(start),
			}
		case err == nil:
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Duration: time.Since(start)}
		case !errors.Is(err, fs.ErrNotExist):
			return monitoring.ResultFromError("flat_file", err, time.Since(start))
		}

		dir := filepath.Dir(path)
		if _, err := os.Stat(dir); err == nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusUp,
				Details:  "store file not created yet",
				Duration: time.Since(start),
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return monitoring.ResultFromError("flat_file", err, time.Since(start))
		}

		// The first write creates missing directories below an existing one.
		ancestor, err := nearestExistingDir(dir)
		if err != nil {
			return monitoring.ResultFromError("flat_file", err, time.Since(start))
		}
		return monitoring.ProbeResult{
			Status:   monitoring.StatusUp,
			Details:  fmt.Sprintf("store directory not created yet (under %s)", ancestor),
			Duration: time.Since(start),
		}
	})
}

func nearestExistingDir(dir string) (string, error) {
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing ancestor for %s", dir)
		}
		dir = parent

		info, err := os.Stat(dir)
		switch {
		case err == nil && info.IsDir():
			return dir, nil
		case err == nil:
			return "", fmt.Errorf("%s is not a directory", dir)
		case !errors.Is(err, fs.ErrNotExist):
			return "", err
		}
	}
}

func chooseTimeout(provided, fallback time.Duration) time.Duration {
	if provided <= 0 {
		return fallback
	}
	return provided
}
