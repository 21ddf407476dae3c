package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EntriesAdded = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dlq_entries_added_total", Help: "Total failed writes recorded in the DLQ"},
		[]string{"target", "operation"},
	)
	RetryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dlq_retry_attempts_total", Help: "Total DLQ retry attempts by outcome"},
		[]string{"target", "outcome"},
	)
	MissingHandlers = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dlq_missing_handler_total", Help: "Due entries skipped because no retry handler was registered"},
		[]string{"target", "operation"},
	)
	ExpiredEntries = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dlq_expired_total", Help: "Total terminal entries marked expired"},
	)
	DeletedEntries = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dlq_deleted_total", Help: "Total expired entries deleted"},
	)
	ReleasedEntries = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dlq_released_total", Help: "Total stalled retrying entries returned to pending"},
	)
	PendingEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "dlq_pending_entries", Help: "Pending entries per target at the last stats read"},
		[]string{"target"},
	)
	HandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dlq_handler_duration_seconds",
			Help:    "Retry handler latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"target"},
	)
)

func Register() {
	prometheus.MustRegister(
		EntriesAdded,
		RetryAttempts,
		MissingHandlers,
		ExpiredEntries,
		DeletedEntries,
		ReleasedEntries,
		PendingEntries,
		HandlerDuration,
	)
}
