package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

var (
	ActivityRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statebridge_activity_recorded_total",
		Help: "Activity entries recorded, by destination",
	}, []string{"destination"})

	ActivityFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statebridge_activity_flushes_total",
		Help: "Activity batch flush attempts by status",
	}, []string{"status"})

	ActivityDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "statebridge_activity_dropped_total",
		Help: "Activity entries discarded after a failed flush exceeded the requeue limit",
	})

	ActivityQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "statebridge_activity_queue_depth",
		Help: "Activity entries waiting for the next flush",
	})

	BackendCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "statebridge_backend_call_duration_seconds",
		Help:    "Remote backend call latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"operation", "status"})

	MigrationOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statebridge_migration_operations_total",
		Help: "Migration operations by kind and outcome",
	}, []string{"operation", "status"})

	ExpiredCodesPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "statebridge_migration_codes_purged_total",
		Help: "Expired migration codes removed by the purge job",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statebridge_http_requests_total",
		Help: "HTTP requests by route template and status code",
	}, []string{"route", "code"})

	NoticeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "statebridge_notice_sessions",
		Help: "Open websocket sessions receiving notices",
	})
)

func Status(err error) string {
	if err != nil {
		return StatusFailure
	}
	return StatusSuccess
}

// ObserveBackendCall records how long a remote call took and whether it failed.
func ObserveBackendCall(operation string, started time.Time, err error) {
	BackendCallDuration.WithLabelValues(operation, Status(err)).Observe(time.Since(started).Seconds())
}

func CountMigration(operation string, err error) {
	MigrationOperations.WithLabelValues(operation, Status(err)).Inc()
}
