package dlq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirdesai22/dlq-service/internal/models"
	"gorm.io/gorm"
)

// Store is the durable table behind the queue. Every mutating method is a
// single statement that has committed when it returns.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Insert(ctx context.Context, e *models.Entry) (int64, error) {
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return 0, fmt.Errorf("insert dlq entry: %w", err)
	}
	return e.ID, nil
}

func (s *Store) Get(ctx context.Context, id int64) (models.Entry, error) {
	var e models.Entry
	err := s.db.WithContext(ctx).First(&e, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return e, fmt.Errorf("%w: id=%d", ErrEntryNotFound, id)
	}
	if err != nil {
		return e, fmt.Errorf("get dlq entry %d: %w", id, err)
	}
	return e, nil
}

// QueryDue returns pending entries whose next_retry_at has passed, oldest first.
func (s *Store) QueryDue(ctx context.Context, target models.Target, now time.Time, limit int) ([]models.Entry, error) {
	return s.findDue(s.due(ctx, target, now), limit)
}

// QueryDueFor is QueryDue restricted to entries whose key is in keys.
func (s *Store) QueryDueFor(ctx context.Context, target models.Target, keys []models.Key, now time.Time, limit int) ([]models.Entry, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	var match *gorm.DB
	for i, k := range keys {
		if i == 0 {
			match = s.db.Where("target = ? AND operation = ?", k.Target, k.Operation)
			continue
		}
		match = match.Or("target = ? AND operation = ?", k.Target, k.Operation)
	}
	return s.findDue(s.due(ctx, target, now).Where(match), limit)
}

// QueryDueExcept is QueryDue restricted to entries whose key is not in keys.
func (s *Store) QueryDueExcept(ctx context.Context, target models.Target, keys []models.Key, now time.Time, limit int) ([]models.Entry, error) {
	q := s.due(ctx, target, now)
	for _, k := range keys {
		q = q.Where("NOT (target = ? AND operation = ?)", k.Target, k.Operation)
	}
	return s.findDue(q, limit)
}

func (s *Store) due(ctx context.Context, target models.Target, now time.Time) *gorm.DB {
	q := s.db.WithContext(ctx).
		Where("status = ?", models.StatusPending).
		Where("next_retry_at <= ?", now)
	if target != "" {
		q = q.Where("target = ?", target)
	}
	return q
}

func (s *Store) findDue(q *gorm.DB, limit int) ([]models.Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	var entries []models.Entry
	if err := q.Order("created_at ASC").Order("id ASC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("query due dlq entries: %w", err)
	}
	return entries, nil
}

// Claim moves one entry from pending to retrying. It reports false when the
// row was no longer pending, i.e. another worker owns this attempt.
func (s *Store) Claim(ctx context.Context, id int64, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Entry{}).
		Where("id = ?", id).
		Where("status = ?", models.StatusPending).
		Where("retry_count < max_retries").
		Updates(map[string]any{
			"status":        models.StatusRetrying,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"last_retry_at": now,
			"next_retry_at": nil,
		})
	if res.Error != nil {
		return false, fmt.Errorf("claim dlq entry %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Transition applies fields to one entry only if it is still in status from.
func (s *Store) Transition(ctx context.Context, id int64, from models.Status, fields map[string]any) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Entry{}).
		Where("id = ?", id).
		Where("status = ?", from).
		Updates(fields)
	if res.Error != nil {
		return false, fmt.Errorf("update dlq entry %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) ExpireTerminal(ctx context.Context, createdBefore time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Entry{}).
		Where("status IN ?", []models.Status{models.StatusSucceeded, models.StatusFailed}).
		Where("created_at < ?", createdBefore).
		Update("status", models.StatusExpired)
	if res.Error != nil {
		return 0, fmt.Errorf("expire dlq entries: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ReleaseStalled returns retrying entries claimed before claimedBefore to
// pending, due at now. Entries whose claim used up their last retry are
// marked failed instead, since no further claim could succeed.
func (s *Store) ReleaseStalled(ctx context.Context, claimedBefore, now time.Time) (released, failed int64, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stalled := func() *gorm.DB {
			return tx.Model(&models.Entry{}).
				Where("status = ?", models.StatusRetrying).
				Where("last_retry_at < ?", claimedBefore)
		}

		res := stalled().
			Where("retry_count >= max_retries").
			Updates(map[string]any{
				"status": models.StatusFailed,
				"error":  "retry attempt abandoned after worker stalled",
			})
		if res.Error != nil {
			return res.Error
		}
		failed = res.RowsAffected

		res = stalled().Updates(map[string]any{
			"status":        models.StatusPending,
			"next_retry_at": now,
		})
		if res.Error != nil {
			return res.Error
		}
		released = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("release stalled dlq entries: %w", err)
	}
	return released, failed, nil
}

func (s *Store) DeleteWhere(ctx context.Context, query string, args ...any) (int64, error) {
	res := s.db.WithContext(ctx).Where(query, args...).Delete(&models.Entry{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete dlq entries: %w", res.Error)
	}
	return res.RowsAffected, nil
}

type StatusCount struct {
	Status models.Status
	Count  int64
}

type TargetCount struct {
	Target models.Target
	Count  int64
}

type FailureSummary struct {
	Operation models.Operation `json:"operation"`
	Target    models.Target    `json:"target"`
	Count     int64            `json:"count"`
}

func (s *Store) CountByStatus(ctx context.Context) ([]StatusCount, error) {
	var rows []StatusCount
	err := s.db.WithContext(ctx).
		Model(&models.Entry{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count dlq entries by status: %w", err)
	}
	return rows, nil
}

func (s *Store) PendingByTarget(ctx context.Context) ([]TargetCount, error) {
	var rows []TargetCount
	err := s.db.WithContext(ctx).
		Model(&models.Entry{}).
		Select("target, COUNT(*) AS count").
		Where("status = ?", models.StatusPending).
		Group("target").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count pending dlq entries by target: %w", err)
	}
	return rows, nil
}

func (s *Store) RecentFailures(ctx context.Context, since time.Time, limit int) ([]FailureSummary, error) {
	var rows []FailureSummary
	err := s.db.WithContext(ctx).
		Model(&models.Entry{}).
		Select("operation, target, COUNT(*) AS count").
		Where("created_at > ?", since).
		Group("operation, target").
		Order("count DESC").
		Order("operation ASC").
		Order("target ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("summarize recent dlq failures: %w", err)
	}
	return rows, nil
}
