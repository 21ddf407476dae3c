// Package dlq is a persistent dead-letter queue for writes that failed
// against a storage backend. Entries are retried with exponential backoff
// through handlers that backend adapters register; the caller decides when
// retry and cleanup cycles run.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"
	"github.com/sirdesai22/dlq-service/internal/db"
	"github.com/sirdesai22/dlq-service/internal/metrics"
	"github.com/sirdesai22/dlq-service/internal/models"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Queue struct {
	gdb      *gorm.DB
	store    *Store
	registry *Registry
	cfg      Config
	log      *zap.Logger
	now      func() time.Time
}

// New builds a queue over gdb. The queue owns gdb from here on: Close
// releases it.
func New(gdb *gorm.DB, cfg Config, opts ...Option) *Queue {
	q := &Queue{
		gdb:      gdb,
		store:    NewStore(gdb),
		registry: NewRegistry(),
		cfg:      cfg.withDefaults(),
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.log = q.log.With(zap.String("component", "dlq"))
	return q
}

// Initialize creates the schema. Calling it again is a no-op.
func (q *Queue) Initialize(ctx context.Context) error {
	if err := db.Migrate(ctx, q.gdb); err != nil {
		return err
	}
	q.log.Info("dlq initialized",
		zap.Int("max_retries", q.cfg.MaxRetries),
		zap.Duration("base_delay", q.cfg.BaseDelay),
		zap.Int("retention_days", q.cfg.RetentionDays))
	return nil
}

func (q *Queue) Close() error {
	return db.Close(q.gdb)
}

func (q *Queue) Config() Config { return q.cfg }

func (q *Queue) clock() time.Time { return q.now().UTC() }

func (q *Queue) RegisterRetryHandler(op models.Operation, target models.Target, h RetryHandler) {
	q.registry.Register(op, target, h)
	q.log.Debug("registered retry handler", zap.Stringer("key", models.Key{Target: target, Operation: op}))
}

// Handlers lists the registered (target, operation) pairs, sorted.
func (q *Queue) Handlers() []string {
	keys := lo.Map(q.registry.Keys(), func(k models.Key, _ int) string { return k.String() })
	slices.Sort(keys)
	return keys
}

// FailedWrite describes a write a backend adapter could not complete.
type FailedWrite struct {
	Operation models.Operation
	Target    models.Target
	// Payload is stored as JSON and handed back untouched to the retry
	// handler. json.RawMessage and datatypes.JSON are stored verbatim.
	Payload any
	Error   string
	// MaxRetries overrides the queue default when positive.
	MaxRetries int
}

// AddFailedWrite records a failed write as a pending entry due after
// BaseDelay and returns its id.
func (q *Queue) AddFailedWrite(ctx context.Context, fw FailedWrite) (int64, error) {
	if fw.Operation == "" || fw.Target == "" {
		return 0, fmt.Errorf("%w: operation and target are required", ErrInvalidFailedWrite)
	}
	if fw.MaxRetries < 0 {
		return 0, fmt.Errorf("%w: max retries must not be negative", ErrInvalidFailedWrite)
	}
	payload, err := encodePayload(fw.Payload)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidFailedWrite, err)
	}

	maxRetries := fw.MaxRetries
	if maxRetries == 0 {
		maxRetries = q.cfg.MaxRetries
	}

	now := q.clock()
	next := now.Add(q.cfg.BaseDelay)
	entry := models.Entry{
		Operation:   fw.Operation,
		Target:      fw.Target,
		Payload:     payload,
		Error:       fw.Error,
		Status:      models.StatusPending,
		RetryCount:  0,
		MaxRetries:  maxRetries,
		CreatedAt:   now,
		NextRetryAt: &next,
	}
	id, err := q.store.Insert(ctx, &entry)
	if err != nil {
		return 0, err
	}

	metrics.EntriesAdded.WithLabelValues(string(fw.Target), string(fw.Operation)).Inc()
	q.log.Warn("added to dlq",
		zap.Int64("entry_id", id),
		zap.String("target", string(fw.Target)),
		zap.String("operation", string(fw.Operation)),
		zap.String("error", truncate(fw.Error, 100)))
	return id, nil
}

// GetPendingEntries lists entries that are due for a retry now, oldest first.
func (q *Queue) GetPendingEntries(ctx context.Context, limit int, target models.Target) ([]models.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	return q.store.QueryDue(ctx, target, q.clock(), limit)
}

func (q *Queue) GetEntry(ctx context.Context, id int64) (models.Entry, error) {
	return q.store.Get(ctx, id)
}

func encodePayload(p any) (datatypes.JSON, error) {
	switch v := p.(type) {
	case nil:
		return datatypes.JSON("null"), nil
	case datatypes.JSON:
		if !json.Valid(v) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return v, nil
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return datatypes.JSON(v), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		return datatypes.JSON(data), nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
