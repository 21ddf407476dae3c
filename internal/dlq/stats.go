package dlq

import (
	"context"
	"time"

	"github.com/samber/lo"
	"github.com/sirdesai22/dlq-service/internal/metrics"
	"github.com/sirdesai22/dlq-service/internal/models"
)

type Stats struct {
	StatusCounts    map[models.Status]int64 `json:"status_counts"`
	PendingByTarget map[models.Target]int64 `json:"pending_by_target"`
	RecentFailures  []FailureSummary        `json:"recent_failures"`
	TotalPending    int64                   `json:"total_pending"`
	TotalFailed     int64                   `json:"total_failed"`
}

// GetStats summarizes the queue for monitoring. It never writes to the store.
func (q *Queue) GetStats(ctx context.Context) (Stats, error) {
	byStatus, err := q.store.CountByStatus(ctx)
	if err != nil {
		return Stats{}, err
	}
	byTarget, err := q.store.PendingByTarget(ctx)
	if err != nil {
		return Stats{}, err
	}
	recent, err := q.store.RecentFailures(ctx, q.clock().Add(-24*time.Hour), q.cfg.RecentFailuresLimit)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		StatusCounts: lo.SliceToMap(byStatus, func(c StatusCount) (models.Status, int64) {
			return c.Status, c.Count
		}),
		PendingByTarget: lo.SliceToMap(byTarget, func(c TargetCount) (models.Target, int64) {
			return c.Target, c.Count
		}),
		RecentFailures: recent,
	}
	if stats.RecentFailures == nil {
		stats.RecentFailures = []FailureSummary{}
	}
	stats.TotalPending = stats.StatusCounts[models.StatusPending]
	stats.TotalFailed = stats.StatusCounts[models.StatusFailed]

	metrics.PendingEntries.Reset()
	for target, n := range stats.PendingByTarget {
		metrics.PendingEntries.WithLabelValues(string(target)).Set(float64(n))
	}
	return stats, nil
}
