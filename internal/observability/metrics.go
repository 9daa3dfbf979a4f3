// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Checkpoint metrics
	CheckpointsTotal     *prometheus.CounterVec
	ReplayWeeks          prometheus.Histogram
	ReplayTruncatedTotal prometheus.Counter

	// Mutation metrics
	MutationsTotal  *prometheus.CounterVec
	MutationErrors  *prometheus.CounterVec
	MutationLatency *prometheus.HistogramVec

	// State gauges
	LockedSupply        prometheus.Gauge
	ActiveLocks         prometheus.Gauge
	LastCheckpointTs    prometheus.Gauge
	NotificationClients prometheus.Gauge

	// Notification metrics
	NotificationsTotal  *prometheus.CounterVec
	NotificationDropped prometheus.Counter

	// Snapshot export metrics
	SnapshotRunsTotal *prometheus.CounterVec
	SnapshotPoints    prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "veledger"
	}

	return &Metrics{
		CheckpointsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "checkpoints_total",
			Help:      "Total number of checkpoint computations by kind",
		}, []string{"kind"}),
		ReplayWeeks: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "replay_weeks",
			Help:      "Week boundaries crossed per checkpoint replay",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128, 255},
		}),
		ReplayTruncatedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "replay_truncated_total",
			Help:      "Replays that hit the week cap; history is stale until a later checkpoint",
		}),

		MutationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "mutations_total",
			Help:      "Total number of lock mutations by operation",
		}, []string{"op"}),
		MutationErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "mutation_errors_total",
			Help:      "Total number of rejected lock mutations by operation and reason",
		}, []string{"op", "reason"}),
		MutationLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "mutation_latency_seconds",
			Help:      "Lock mutation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),

		LockedSupply: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "locked_supply",
			Help:      "Total locked principal in base units",
		}),
		ActiveLocks: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "active_locks",
			Help:      "Number of locks with a live balance",
		}),
		LastCheckpointTs: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "last_checkpoint_timestamp",
			Help:      "Unix timestamp of the global history head",
		}),
		NotificationClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "clients",
			Help:      "Connected notification feed clients",
		}),

		NotificationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "events_total",
			Help:      "Change notifications published by kind",
		}, []string{"kind"}),
		NotificationDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "events_dropped_total",
			Help:      "Notifications dropped on slow client queues",
		}),

		SnapshotRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "runs_total",
			Help:      "Snapshot export runs by status",
		}, []string{"status"}),
		SnapshotPoints: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "points_total",
			Help:      "Snapshot points written to analytics storage",
		}),

		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordCheckpoint records one checkpoint computation.
func RecordCheckpoint(perLock bool, weeks int, truncated bool) {
	kind := "global"
	if perLock {
		kind = "lock"
	}
	DefaultMetrics.CheckpointsTotal.WithLabelValues(kind).Inc()
	DefaultMetrics.ReplayWeeks.Observe(float64(weeks))
	if truncated {
		DefaultMetrics.ReplayTruncatedTotal.Inc()
	}
}

// RecordMutation records a mutation attempt and its outcome. reason is
// a stable failure label from a small fixed set (escrow.ErrorReason);
// empty means success. Raw error text never reaches the label.
func RecordMutation(op string, seconds float64, reason string) {
	DefaultMetrics.MutationsTotal.WithLabelValues(op).Inc()
	DefaultMetrics.MutationLatency.WithLabelValues(op).Observe(seconds)
	if reason != "" {
		DefaultMetrics.MutationErrors.WithLabelValues(op, reason).Inc()
	}
}

// SetLockedSupply updates the locked supply gauge.
func SetLockedSupply(supply int64) {
	DefaultMetrics.LockedSupply.Set(float64(supply))
}

// SetActiveLocks updates the active locks gauge.
func SetActiveLocks(n int) {
	DefaultMetrics.ActiveLocks.Set(float64(n))
}

// SetLastCheckpointTs updates the global history head timestamp gauge.
func SetLastCheckpointTs(ts int64) {
	DefaultMetrics.LastCheckpointTs.Set(float64(ts))
}

// SetNotificationClients updates the connected clients gauge.
func SetNotificationClients(n int) {
	DefaultMetrics.NotificationClients.Set(float64(n))
}

// RecordNotification records one published change notification.
func RecordNotification(kind string) {
	DefaultMetrics.NotificationsTotal.WithLabelValues(kind).Inc()
}

// RecordNotificationDropped records a notification dropped on a slow client.
func RecordNotificationDropped() {
	DefaultMetrics.NotificationDropped.Inc()
}

// RecordSnapshotRun records a snapshot export run.
func RecordSnapshotRun(status string, points int) {
	DefaultMetrics.SnapshotRunsTotal.WithLabelValues(status).Inc()
	if points > 0 {
		DefaultMetrics.SnapshotPoints.Add(float64(points))
	}
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
