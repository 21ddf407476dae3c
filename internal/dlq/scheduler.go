package dlq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirdesai22/dlq-service/internal/metrics"
	"github.com/sirdesai22/dlq-service/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/sirdesai22/dlq-service/internal/dlq")

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeRescheduled
	outcomeFailed
	outcomeNoHandler
	outcomeSkipped
	outcomeError
)

func (o outcome) String() string {
	switch o {
	case outcomeSucceeded:
		return "succeeded"
	case outcomeRescheduled:
		return "rescheduled"
	case outcomeFailed:
		return "failed"
	case outcomeNoHandler:
		return "no_handler"
	case outcomeSkipped:
		return "skipped"
	default:
		return "error"
	}
}

// BatchResult counts what one RetryFailedWrites call did. Entries that went
// back to pending, failed for good or had no handler all count as Failed.
// Skipped entries were claimed by another worker first, or had their claim
// released before the outcome was written, and are not Attempted.
type BatchResult struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

func (r *BatchResult) add(o outcome) {
	if o == outcomeSkipped {
		r.Skipped++
		return
	}
	r.Attempted++
	if o == outcomeSucceeded {
		r.Succeeded++
	} else {
		r.Failed++
	}
}

// RetryEntry runs one retry attempt for entry and reports whether it
// succeeded. The returned error is reserved for storage faults; handler
// failures are recorded on the entry instead.
func (q *Queue) RetryEntry(ctx context.Context, entry models.Entry) (bool, error) {
	o, err := q.retry(ctx, entry, q.log)
	return o == outcomeSucceeded, err
}

// RetryFailedWrites retries up to limit due entries, optionally only those
// for target. Entries with a registered handler fill the batch first, so
// entries nobody can replay never starve them; the rest of the limit goes to
// unresolvable entries, which are reported as failed without using a retry.
// Handlers run concurrently up to Config.Concurrency. One entry's failure
// never stops the rest; storage faults met along the way are returned
// together once the batch is done. A cancelled ctx stops the batch early.
func (q *Queue) RetryFailedWrites(ctx context.Context, target models.Target, limit int) (BatchResult, error) {
	var result BatchResult
	if limit <= 0 {
		limit = 100
	}

	entries, err := q.dueBatch(ctx, target, limit)
	if err != nil {
		return result, err
	}
	if len(entries) == 0 {
		return result, nil
	}

	log := q.log.With(zap.String("batch_id", uuid.NewString()))

	var (
		mu   sync.Mutex
		errs error
	)
	g := new(errgroup.Group)
	g.SetLimit(q.cfg.Concurrency)
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			o, err := q.retry(ctx, entry, log)
			mu.Lock()
			defer mu.Unlock()
			result.add(o)
			errs = multierr.Append(errs, err)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		errs = multierr.Append(errs, err)
	}

	log.Info("dlq retry complete",
		zap.String("target", string(target)),
		zap.Int("attempted", result.Attempted),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped))
	return result, errs
}

func (q *Queue) dueBatch(ctx context.Context, target models.Target, limit int) ([]models.Entry, error) {
	now := q.clock()
	keys := q.registry.Keys()

	resolvable, err := q.store.QueryDueFor(ctx, target, keys, now, limit)
	if err != nil {
		return nil, err
	}
	unresolvable, err := q.store.QueryDueExcept(ctx, target, keys, now, limit-len(resolvable))
	if err != nil {
		return nil, err
	}
	return append(resolvable, unresolvable...), nil
}

func (q *Queue) retry(ctx context.Context, entry models.Entry, log *zap.Logger) (outcome, error) {
	log = log.With(
		zap.Int64("entry_id", entry.ID),
		zap.String("target", string(entry.Target)),
		zap.String("operation", string(entry.Operation)))

	handler, err := q.registry.Resolve(entry.Operation, entry.Target)
	if err != nil {
		metrics.MissingHandlers.WithLabelValues(string(entry.Target), string(entry.Operation)).Inc()
		log.Error("no retry handler registered; backend adapter did not register itself", zap.Error(err))
		return outcomeNoHandler, nil
	}

	now := q.clock()
	claimed, err := q.store.Claim(ctx, entry.ID, now)
	if err != nil {
		return outcomeError, err
	}
	if !claimed {
		log.Debug("dlq entry already claimed elsewhere")
		return outcomeSkipped, nil
	}

	// outcome writes must land even if the caller gives up mid-attempt
	persistCtx := context.WithoutCancel(ctx)

	current, err := q.store.Get(persistCtx, entry.ID)
	if err != nil {
		return outcomeError, err
	}
	log = log.With(zap.Int("retry_count", current.RetryCount))

	ctx, span := tracer.Start(ctx, "dlq.retry_entry", trace.WithAttributes(
		attribute.Int64("dlq.entry_id", current.ID),
		attribute.String("dlq.target", string(current.Target)),
		attribute.String("dlq.operation", string(current.Operation)),
		attribute.Int("dlq.retry_count", current.RetryCount),
	))
	defer span.End()

	attemptErr := q.attempt(ctx, handler, current)
	o, err := q.settle(persistCtx, current, now, attemptErr, log)
	metrics.RetryAttempts.WithLabelValues(string(current.Target), o.String()).Inc()
	if attemptErr != nil {
		span.RecordError(attemptErr)
		span.SetStatus(codes.Error, attemptErr.Error())
	}
	span.SetAttributes(attribute.String("dlq.outcome", o.String()))
	return o, err
}

type attemptResult struct {
	ok  bool
	err error
}

// attempt runs the handler under the configured timeout and folds false,
// errors, panics and timeouts into a single error. A handler that ignores
// its context is abandoned once the timeout fires.
func (q *Queue) attempt(ctx context.Context, h RetryHandler, entry models.Entry) error {
	ctx, cancel := context.WithTimeout(ctx, q.cfg.HandlerTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		metrics.HandlerDuration.WithLabelValues(string(entry.Target)).Observe(time.Since(start).Seconds())
	}()

	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{err: fmt.Errorf("retry handler panicked: %v", r)}
			}
		}()
		ok, err := h.Attempt(ctx, entry.Payload)
		done <- attemptResult{ok: ok, err: err}
	}()

	var res attemptResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = attemptResult{err: ctx.Err()}
	}

	switch {
	case res.ok && res.err == nil:
		return nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("retry handler timed out after %s", q.cfg.HandlerTimeout)
	case res.err != nil:
		return res.err
	default:
		return errors.New("handler returned false")
	}
}

// settle records the attempt's outcome. Every write is guarded on the entry
// still being retrying; if it is not, the claim was released under us and
// the entry now belongs to whoever claims it next.
func (q *Queue) settle(ctx context.Context, entry models.Entry, claimedAt time.Time, attemptErr error, log *zap.Logger) (outcome, error) {
	var (
		fields = map[string]any{}
		o      outcome
		next   time.Time
	)
	switch {
	case attemptErr == nil:
		fields["status"] = models.StatusSucceeded
		o = outcomeSucceeded
	case entry.RetryCount >= entry.MaxRetries:
		fields["status"] = models.StatusFailed
		fields["error"] = attemptErr.Error()
		o = outcomeFailed
	default:
		next = claimedAt.Add(q.backoff(entry.RetryCount))
		fields["status"] = models.StatusPending
		fields["error"] = attemptErr.Error()
		fields["next_retry_at"] = next
		o = outcomeRescheduled
	}

	applied, err := q.store.Transition(ctx, entry.ID, models.StatusRetrying, fields)
	if err != nil {
		return outcomeError, err
	}
	if !applied {
		log.Warn("dlq entry claim lost before outcome was written, dropping it",
			zap.String("outcome", o.String()))
		return outcomeSkipped, nil
	}

	switch o {
	case outcomeSucceeded:
		log.Info("dlq entry succeeded on retry")
	case outcomeFailed:
		log.Error("dlq entry permanently failed", zap.String("error", attemptErr.Error()))
	default:
		log.Warn("dlq entry retry failed, rescheduled",
			zap.Time("next_retry_at", next),
			zap.String("error", attemptErr.Error()))
	}
	return o, nil
}

// backoff returns BaseDelay * 2^retryCount, where retryCount is the count
// after the attempt that just failed, capped at MaxDelay.
func (q *Queue) backoff(retryCount int) time.Duration {
	maxDelay := q.cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = time.Duration(1<<63 - 1)
	}
	d := q.cfg.BaseDelay
	for i := 0; i < retryCount; i++ {
		if d >= maxDelay/2 {
			return maxDelay
		}
		d *= 2
	}
	return min(d, maxDelay)
}
