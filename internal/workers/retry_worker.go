package workers

import (
	"context"
	"time"

	"github.com/sirdesai22/dlq-service/internal/config"
	"github.com/sirdesai22/dlq-service/internal/dlq"
	"github.com/sirdesai22/dlq-service/internal/models"
	"go.uber.org/zap"
)

// Queue is what the worker drives on each tick.
type Queue interface {
	RetryFailedWrites(ctx context.Context, target models.Target, limit int) (dlq.BatchResult, error)
	ReleaseStalled(ctx context.Context, olderThan time.Duration) (int64, error)
	CleanupOldEntries(ctx context.Context) (dlq.CleanupResult, error)
}

// RetryWorker runs the DLQ retry and cleanup cycles on timers. Errors are
// logged and the loop carries on with the next tick.
type RetryWorker struct {
	Queue Queue
	Cfg   config.WorkerConfig
	Log   *zap.Logger
}

func NewRetryWorker(q Queue, cfg config.WorkerConfig, log *zap.Logger) *RetryWorker {
	return &RetryWorker{Queue: q, Cfg: cfg, Log: log.With(zap.String("component", "retry_worker"))}
}

// Run blocks until ctx is done.
func (w *RetryWorker) Run(ctx context.Context) {
	retry := time.NewTicker(w.Cfg.RetryInterval)
	defer retry.Stop()
	cleanup := time.NewTicker(w.Cfg.CleanupInterval)
	defer cleanup.Stop()

	w.Log.Info("retry worker started",
		zap.Duration("retry_interval", w.Cfg.RetryInterval),
		zap.Duration("cleanup_interval", w.Cfg.CleanupInterval))

	for {
		select {
		case <-ctx.Done():
			w.Log.Info("retry worker stopped")
			return
		case <-retry.C:
			w.RetryOnce(ctx)
		case <-cleanup.C:
			w.CleanupOnce(ctx)
		}
	}
}

// RetryOnce puts stalled claims back in line, then retries one batch.
func (w *RetryWorker) RetryOnce(ctx context.Context) dlq.BatchResult {
	if w.Cfg.StalledAfter > 0 {
		if _, err := w.Queue.ReleaseStalled(ctx, w.Cfg.StalledAfter); err != nil {
			w.Log.Error("release stalled entries failed", zap.Error(err))
		}
	}
	res, err := w.Queue.RetryFailedWrites(ctx, "", w.Cfg.BatchSize)
	if err != nil {
		w.Log.Error("dlq retry batch had storage errors", zap.Error(err))
	}
	return res
}

func (w *RetryWorker) CleanupOnce(ctx context.Context) dlq.CleanupResult {
	res, err := w.Queue.CleanupOldEntries(ctx)
	if err != nil {
		w.Log.Error("dlq cleanup failed", zap.Error(err))
	}
	return res
}
