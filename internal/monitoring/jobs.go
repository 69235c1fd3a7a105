package monitoring

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charlesng35/shopkv/pkg/metrics"
)

// Job results recorded by the tracker.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// JobSummary is a snapshot of a background job's run history.
type JobSummary struct {
	Job                 string        `json:"job"`
	LastStatus          string        `json:"last_status"`
	LastRunAt           time.Time     `json:"last_run_at"`
	LastDuration        time.Duration `json:"last_duration"`
	LastError           string        `json:"last_error,omitempty"`
	ConsecutiveFailures uint64        `json:"consecutive_failures"`
	ConsecutiveSuccess  uint64        `json:"consecutive_success"`
	LastSuccessAt       time.Time     `json:"last_success_at"`
	TotalRuns           uint64        `json:"total_runs"`
}

// JobTracker records background job runs for health checks and status pages.
type JobTracker struct {
	jobs sync.Map // string -> *jobStats
	now  func() time.Time
}

// NewJobTracker constructs an empty tracker.
func NewJobTracker() *JobTracker {
	return &JobTracker{now: time.Now}
}

// Register makes a job visible before its first run.
func (t *JobTracker) Register(job string) {
	t.entry(normalizeLabel(job))
}

// Record stores the outcome of a job run.
func (t *JobTracker) Record(job, result, message string, duration time.Duration) {
	jobID := normalizeLabel(job)
	if jobID == "" {
		jobID = "unknown"
	}
	result = normalizeLabel(result)
	if result == "" {
		result = "unknown"
	}

	metrics.MaintenanceRuns.WithLabelValues(jobID, result).Inc()
	metrics.MaintenanceDuration.WithLabelValues(jobID).Observe(max(duration, 0).Seconds())

	t.entry(jobID).record(t.now(), result, strings.TrimSpace(message), duration)
}

// Jobs returns a snapshot of every known job ordered by name.
func (t *JobTracker) Jobs() []JobSummary {
	var out []JobSummary
	t.jobs.Range(func(key, value any) bool {
		out = append(out, value.(*jobStats).snapshot(key.(string)))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}

func (t *JobTracker) entry(job string) *jobStats {
	if value, ok := t.jobs.Load(job); ok {
		return value.(*jobStats)
	}
	actual, _ := t.jobs.LoadOrStore(job, &jobStats{})
	return actual.(*jobStats)
}

type jobStats struct {
	lastStatus           atomic.Value // string
	lastError            atomic.Value // string
	lastRun              atomic.Int64 // unix nano
	lastDuration         atomic.Int64 // nanoseconds
	consecutiveFailures  atomic.Uint64
	totalRuns            atomic.Uint64
	lastSuccessfulRun    atomic.Int64
	consecutiveSuccesses atomic.Uint64
}

func (j *jobStats) snapshot(job string) JobSummary {
	status, _ := j.lastStatus.Load().(string)
	errMsg, _ := j.lastError.Load().(string)

	summary := JobSummary{
		Job:                 job,
		LastStatus:          status,
		LastDuration:        time.Duration(j.lastDuration.Load()),
		LastError:           errMsg,
		ConsecutiveFailures: j.consecutiveFailures.Load(),
		ConsecutiveSuccess:  j.consecutiveSuccesses.Load(),
		TotalRuns:           j.totalRuns.Load(),
	}
	if ts := j.lastRun.Load(); ts != 0 {
		summary.LastRunAt = time.Unix(0, ts)
	}
	if ts := j.lastSuccessfulRun.Load(); ts != 0 {
		summary.LastSuccessAt = time.Unix(0, ts)
	}
	return summary
}

func (j *jobStats) record(now time.Time, result, message string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	j.lastStatus.Store(result)
	j.lastError.Store(message)
	j.lastRun.Store(now.UnixNano())
	j.lastDuration.Store(int64(duration))
	j.totalRuns.Add(1)

	switch result {
	case ResultSuccess:
		j.consecutiveFailures.Store(0)
		j.consecutiveSuccesses.Add(1)
		j.lastSuccessfulRun.Store(now.UnixNano())
	default:
		j.consecutiveFailures.Add(1)
		j.consecutiveSuccesses.Store(0)
	}
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	return strings.ReplaceAll(value, " ", "_")
}
