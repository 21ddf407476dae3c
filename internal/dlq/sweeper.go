package dlq

import (
	"context"
	"fmt"
	"time"

	"github.com/sirdesai22/dlq-service/internal/metrics"
	"github.com/sirdesai22/dlq-service/internal/models"
	"go.uber.org/zap"
)

type CleanupResult struct {
	Expired int64 `json:"expired"`
	Deleted int64 `json:"deleted"`
}

func (r CleanupResult) Total() int64 { return r.Expired + r.Deleted }

const day = 24 * time.Hour

// CleanupOldEntries expires succeeded and failed entries older than the
// retention period, then deletes expired entries older than twice that.
// Pending and retrying entries are left alone whatever their age.
func (q *Queue) CleanupOldEntries(ctx context.Context) (CleanupResult, error) {
	var res CleanupResult
	now := q.clock()
	retention := time.Duration(q.cfg.RetentionDays) * day

	expired, err := q.store.ExpireTerminal(ctx, now.Add(-retention))
	if err != nil {
		return res, err
	}
	res.Expired = expired
	metrics.ExpiredEntries.Add(float64(expired))

	deleted, err := q.store.DeleteWhere(ctx, "status = ? AND created_at < ?", models.StatusExpired, now.Add(-2*retention))
	if err != nil {
		return res, err
	}
	res.Deleted = deleted
	metrics.DeletedEntries.Add(float64(deleted))

	q.log.Info("dlq cleanup", zap.Int64("expired", res.Expired), zap.Int64("deleted", res.Deleted))
	return res, nil
}

// ReleaseStalled puts entries that have been retrying for longer than
// olderThan back to pending so the next batch picks them up. The attempt
// they were claimed for stays counted, so an entry stalled on its last
// attempt is marked failed. It returns how many went back to pending.
// olderThan must exceed HandlerTimeout, otherwise a handler that is still
// running could be released and claimed a second time.
func (q *Queue) ReleaseStalled(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= q.cfg.HandlerTimeout {
		return 0, fmt.Errorf("%w: stalled threshold %s must exceed handler timeout %s",
			ErrInvalidStalledThreshold, olderThan, q.cfg.HandlerTimeout)
	}
	now := q.clock()
	released, failed, err := q.store.ReleaseStalled(ctx, now.Add(-olderThan), now)
	if err != nil {
		return 0, err
	}
	if released > 0 || failed > 0 {
		metrics.ReleasedEntries.Add(float64(released))
		q.log.Warn("released stalled dlq entries",
			zap.Int64("released", released),
			zap.Int64("failed", failed),
			zap.Duration("older_than", olderThan))
	}
	return released, nil
}
