package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheLookups records TTL cache lookups by result (hit|miss).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopkv_cache_lookups_total",
			Help: "Total number of TTL cache lookups",
		},
		[]string{"result"},
	)

	// KVOperations counts KV store operations by backend, action and result (ok|error).
	KVOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopkv_kv_operations_total",
			Help: "Total number of KV store operations",
		},
		[]string{"backend", "action", "result"},
	)

	// PoolConnections exposes the relational pool by state (open|in_use|idle).
	PoolConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shopkv_pool_connections",
			Help: "Relational pool connections by state",
		},
		[]string{"state"},
	)

	// PoolWaitCount is the cumulative number of connection waits reported by the pool.
	PoolWaitCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shopkv_pool_wait_count",
			Help: "Total number of connections waited for",
		},
	)

	// PoolReady is 1 while the pool manager holds a ready pool.
	PoolReady = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shopkv_pool_ready",
			Help: "Whether the relational pool is ready",
		},
	)

	// MigrationOutcomes counts migration runs per document and outcome.
	MigrationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopkv_migration_outcomes_total",
			Help: "Image extraction migration outcomes",
		},
		[]string{"document", "outcome"},
	)

	// DataVersion mirrors the data version counter bumped on every mutation.
	DataVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shopkv_data_version",
			Help: "Current data version counter",
		},
	)

	// MaintenanceRuns counts background job runs by job and result.
	MaintenanceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopkv_maintenance_runs_total",
			Help: "Background maintenance job runs",
		},
		[]string{"job", "result"},
	)

	// MaintenanceDuration measures background job run time.
	MaintenanceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shopkv_maintenance_duration_seconds",
			Help:    "Background maintenance job duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shopkv_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
