package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirdesai22/dlq-service/internal/dlq"
	"github.com/sirdesai22/dlq-service/internal/models"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	Target         models.Target    = "redis"
	OpCacheSession models.Operation = "cache_session"
)

type DeadLetters interface {
	AddFailedWrite(ctx context.Context, fw dlq.FailedWrite) (int64, error)
	RegisterRetryHandler(op models.Operation, target models.Target, h dlq.RetryHandler)
}

// SessionSnapshot is the cached view of a research session.
type SessionSnapshot struct {
	ID           string    `json:"id"`
	Topic        string    `json:"topic"`
	Status       string    `json:"status"`
	FindingCount int       `json:"finding_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type setOp struct {
	Key        string          `json:"key"`
	Value      json.RawMessage `json:"value"`
	TTLSeconds int64           `json:"ttl_seconds"`
}

// SessionCache writes session snapshots to Redis. A SET that fails is queued
// in the DLQ and replayed later with the same TTL.
type SessionCache struct {
	client *redis.Client
	dlq    DeadLetters
	ttl    time.Duration
	log    *zap.Logger
}

func NewSessionCache(client *redis.Client, q DeadLetters, ttl time.Duration, log *zap.Logger) *SessionCache {
	return &SessionCache{client: client, dlq: q, ttl: ttl, log: log.With(zap.String("component", "session_cache"))}
}

func sessionKey(id string) string { return "research:session:" + id }

func (c *SessionCache) RegisterHandlers() {
	c.dlq.RegisterRetryHandler(OpCacheSession, Target, dlq.HandlerFunc(c.replay))
}

func (c *SessionCache) Put(ctx context.Context, s SessionSnapshot) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	op := setOp{Key: sessionKey(s.ID), Value: raw, TTLSeconds: int64(c.ttl / time.Second)}

	err = c.set(ctx, op)
	if err == nil {
		return nil
	}
	// the write may have failed because ctx expired; queue it regardless
	entryID, qerr := c.dlq.AddFailedWrite(context.WithoutCancel(ctx), dlq.FailedWrite{
		Operation: OpCacheSession,
		Target:    Target,
		Payload:   op,
		Error:     err.Error(),
	})
	if qerr != nil {
		return fmt.Errorf("cache session %s failed (%v) and could not be queued: %w", s.ID, err, qerr)
	}
	c.log.Warn("session cache write deferred to dlq",
		zap.String("session_id", s.ID),
		zap.Int64("entry_id", entryID),
		zap.Error(err))
	return nil
}

// Get returns nil without error on a cache miss.
func (c *SessionCache) Get(ctx context.Context, id string) (*SessionSnapshot, error) {
	raw, err := c.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var out SessionSnapshot
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SessionCache) set(ctx context.Context, op setOp) error {
	return c.client.Set(ctx, op.Key, []byte(op.Value), time.Duration(op.TTLSeconds)*time.Second).Err()
}

func (c *SessionCache) replay(ctx context.Context, payload datatypes.JSON) (bool, error) {
	var op setOp
	if err := json.Unmarshal(payload, &op); err != nil {
		return false, fmt.Errorf("decode %s payload: %w", OpCacheSession, err)
	}
	if op.Key == "" {
		return false, errors.New("cache_session payload has no key")
	}
	if err := c.set(ctx, op); err != nil {
		return false, err
	}
	return true, nil
}
