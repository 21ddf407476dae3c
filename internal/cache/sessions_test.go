package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirdesai22/dlq-service/internal/dlq"
	"github.com/sirdesai22/dlq-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingDLQ struct {
	writes   []dlq.FailedWrite
	handlers map[models.Key]dlq.RetryHandler
}

func (r *recordingDLQ) AddFailedWrite(ctx context.Context, fw dlq.FailedWrite) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.writes = append(r.writes, fw)
	return int64(len(r.writes)), nil
}

func (r *recordingDLQ) RegisterRetryHandler(op models.Operation, target models.Target, h dlq.RetryHandler) {
	r.handlers[models.Key{Target: target, Operation: op}] = h
}

func newTestCache(t *testing.T) (*SessionCache, *miniredis.Miniredis, *recordingDLQ) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := Connect(context.Background(), mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	q := &recordingDLQ{handlers: map[models.Key]dlq.RetryHandler{}}
	c := NewSessionCache(client, q, 10*time.Minute, zap.NewNop())
	c.RegisterHandlers()
	return c, mr, q
}

var snapshot = SessionSnapshot{
	ID:           "s-1",
	Topic:        "caching",
	Status:       "active",
	FindingCount: 3,
	UpdatedAt:    time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
}

func TestConnect_URLAndAddr(t *testing.T) {
	mr := miniredis.RunT(t)

	for _, addr := range []string{mr.Addr(), "redis://" + mr.Addr() + "/0"} {
		client, err := Connect(context.Background(), addr)
		require.NoError(t, err, addr)
		_ = client.Close()
	}
}

func TestConnect_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Connect(context.Background(), addr)
	assert.Error(t, err)
}

func TestSessionCache_PutGet(t *testing.T) {
	c, mr, q := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, snapshot))
	assert.Empty(t, q.writes)
	assert.Equal(t, 10*time.Minute, mr.TTL("research:session:s-1"))

	got, err := c.Get(ctx, "s-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, snapshot, *got)

	miss, err := c.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, miss)
}

func TestSessionCache_FailedSetIsQueuedThenReplayed(t *testing.T) {
	c, mr, q := newTestCache(t)
	ctx := context.Background()

	mr.SetError("ERR cluster is down")
	require.NoError(t, c.Put(ctx, snapshot))

	require.Len(t, q.writes, 1)
	fw := q.writes[0]
	assert.Equal(t, OpCacheSession, fw.Operation)
	assert.Equal(t, Target, fw.Target)
	assert.Contains(t, fw.Error, "cluster is down")

	payload, err := json.Marshal(fw.Payload)
	require.NoError(t, err)
	handler := q.handlers[models.Key{Target: Target, Operation: OpCacheSession}]
	require.NotNil(t, handler)

	ok, err := handler.Attempt(ctx, payload)
	assert.False(t, ok)
	assert.Error(t, err)

	mr.SetError("")
	ok, err = handler.Attempt(ctx, payload)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, 10*time.Minute, mr.TTL("research:session:s-1"))
	got, err := c.Get(ctx, "s-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, snapshot, *got)
}

func TestSessionCache_CancelledWriteIsStillQueued(t *testing.T) {
	c, _, q := newTestCache(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, c.Put(ctx, snapshot))

	require.Len(t, q.writes, 1)
	assert.Equal(t, OpCacheSession, q.writes[0].Operation)
	assert.Contains(t, q.writes[0].Error, "context canceled")
}

func TestSessionCache_ReplayRejectsBadPayload(t *testing.T) {
	_, _, q := newTestCache(t)
	handler := q.handlers[models.Key{Target: Target, Operation: OpCacheSession}]

	ok, err := handler.Attempt(context.Background(), []byte(`{"value":{}}`))
	assert.False(t, ok)
	assert.Error(t, err)

	ok, err = handler.Attempt(context.Background(), []byte(`[]`))
	assert.False(t, ok)
	assert.Error(t, err)
}
