package elastic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirdesai22/dlq-service/internal/dlq"
	"github.com/sirdesai22/dlq-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type esRequest struct {
	Method string
	Path   string
	Body   string
}

type fakeES struct {
	*httptest.Server
	status atomic.Int32
	delay  atomic.Int64

	mu       sync.Mutex
	requests []esRequest
}

func newFakeES(t *testing.T) *fakeES {
	t.Helper()
	f := &fakeES{}
	f.status.Store(http.StatusOK)
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.requests = append(f.requests, esRequest{Method: r.Method, Path: r.URL.Path, Body: string(body)})
		f.mu.Unlock()

		if d := time.Duration(f.delay.Load()); d > 0 {
			select {
			case <-time.After(d):
			case <-r.Context().Done():
				return
			}
		}

		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(int(f.status.Load()))
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeES) Requests() []esRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]esRequest(nil), f.requests...)
}

type recordingDLQ struct {
	mu       sync.Mutex
	writes   []dlq.FailedWrite
	handlers map[models.Key]dlq.RetryHandler
	err      error
}

func newRecordingDLQ() *recordingDLQ {
	return &recordingDLQ{handlers: map[models.Key]dlq.RetryHandler{}}
}

// AddFailedWrite honours ctx the way a database insert would.
func (r *recordingDLQ) AddFailedWrite(ctx context.Context, fw dlq.FailedWrite) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	r.writes = append(r.writes, fw)
	return int64(len(r.writes)), nil
}

func (r *recordingDLQ) RegisterRetryHandler(op models.Operation, target models.Target, h dlq.RetryHandler) {
	r.handlers[models.Key{Target: target, Operation: op}] = h
}

// payload round-trips a queued write the way the store would persist it.
func (r *recordingDLQ) payload(t *testing.T, i int) []byte {
	t.Helper()
	raw, err := json.Marshal(r.writes[i].Payload)
	require.NoError(t, err)
	return raw
}

func newTestWriter(t *testing.T) (*Writer, *fakeES, *recordingDLQ) {
	t.Helper()
	srv := newFakeES(t)
	client, err := Connect(srv.URL)
	require.NoError(t, err)
	q := newRecordingDLQ()
	w := NewWriter(client, q, zap.NewNop())
	w.RegisterHandlers()
	return w, srv, q
}

var testFinding = Finding{
	ID:         "f-1",
	SessionID:  "s-1",
	Type:       "fact",
	Content:    "cached result",
	Confidence: 0.9,
	CreatedAt:  time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
}

func TestWriter_RegistersEveryOperation(t *testing.T) {
	_, _, q := newTestWriter(t)

	for _, op := range []models.Operation{OpUpsertFinding, OpUpsertSession, OpDeleteFinding} {
		assert.Contains(t, q.handlers, models.Key{Target: Target, Operation: op})
	}
}

func TestWriter_UpsertFinding_Success(t *testing.T) {
	w, srv, q := newTestWriter(t)

	require.NoError(t, w.UpsertFinding(context.Background(), testFinding))

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPut, reqs[0].Method)
	assert.Equal(t, "/"+IdxFindings+"/_doc/f-1", reqs[0].Path)
	assert.JSONEq(t, `{"session_id":"s-1","type":"fact","content":"cached result","confidence":0.9,"sources":[],"created_at":"2026-10-19T12:00:00Z"}`, reqs[0].Body)
	assert.Empty(t, q.writes)
}

func TestWriter_FailureIsQueuedThenReplayed(t *testing.T) {
	w, srv, q := newTestWriter(t)
	ctx := context.Background()

	srv.status.Store(http.StatusInternalServerError)
	require.NoError(t, w.UpsertFinding(ctx, testFinding))

	require.Len(t, q.writes, 1)
	fw := q.writes[0]
	assert.Equal(t, OpUpsertFinding, fw.Operation)
	assert.Equal(t, Target, fw.Target)
	assert.Contains(t, fw.Error, "500")

	handler := q.handlers[models.Key{Target: Target, Operation: OpUpsertFinding}]
	require.NotNil(t, handler)

	ok, err := handler.Attempt(ctx, q.payload(t, 0))
	assert.False(t, ok)
	assert.Error(t, err)

	srv.status.Store(http.StatusCreated)
	ok, err = handler.Attempt(ctx, q.payload(t, 0))
	require.NoError(t, err)
	assert.True(t, ok)

	reqs := srv.Requests()
	last := reqs[len(reqs)-1]
	assert.Equal(t, "/"+IdxFindings+"/_doc/f-1", last.Path)
	assert.Contains(t, last.Body, `"cached result"`)
}

func TestWriter_DeadlineExceededIsStillQueued(t *testing.T) {
	w, srv, q := newTestWriter(t)
	srv.delay.Store(int64(300 * time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, w.UpsertFinding(ctx, testFinding))

	require.Len(t, q.writes, 1)
	assert.Equal(t, OpUpsertFinding, q.writes[0].Operation)
	assert.Contains(t, q.writes[0].Error, "deadline exceeded")
}

func TestWriter_UpsertSession_Queued(t *testing.T) {
	w, srv, q := newTestWriter(t)
	srv.status.Store(http.StatusInternalServerError)

	err := w.UpsertSession(context.Background(), Session{
		ID: "s-1", Topic: "caching", Project: "p", Status: "active",
		StartedAt: time.Date(2026, 10, 19, 11, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.Len(t, q.writes, 1)
	assert.Equal(t, OpUpsertSession, q.writes[0].Operation)

	var wo writeOp
	require.NoError(t, json.Unmarshal(q.payload(t, 0), &wo))
	assert.Equal(t, IdxSessions, wo.Index)
	assert.Equal(t, "s-1", wo.DocumentID)
}

func TestWriter_DeleteFinding(t *testing.T) {
	w, srv, q := newTestWriter(t)
	ctx := context.Background()

	srv.status.Store(http.StatusNotFound)
	require.NoError(t, w.DeleteFinding(ctx, "gone"))
	assert.Empty(t, q.writes, "deleting a missing document is not a failure")

	srv.status.Store(http.StatusInternalServerError)
	require.NoError(t, w.DeleteFinding(ctx, "f-2"))
	require.Len(t, q.writes, 1)
	assert.Equal(t, OpDeleteFinding, q.writes[0].Operation)

	reqs := srv.Requests()
	assert.Equal(t, http.MethodDelete, reqs[len(reqs)-1].Method)
	assert.Equal(t, "/"+IdxFindings+"/_doc/f-2", reqs[len(reqs)-1].Path)
}

func TestWriter_QueueFailureIsReturned(t *testing.T) {
	w, srv, q := newTestWriter(t)
	srv.status.Store(http.StatusInternalServerError)
	q.err = assert.AnError

	err := w.UpsertFinding(context.Background(), testFinding)
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestWriter_ReplayRejectsBadPayload(t *testing.T) {
	_, _, q := newTestWriter(t)
	handler := q.handlers[models.Key{Target: Target, Operation: OpDeleteFinding}]

	ok, err := handler.Attempt(context.Background(), []byte(`"not an object"`))
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestEnsureIndexes_CreatesMissing(t *testing.T) {
	srv := newFakeES(t)
	srv.status.Store(http.StatusNotFound)
	client, err := Connect(srv.URL)
	require.NoError(t, err)

	// every request 404s, so creation fails after the existence check
	err = EnsureIndexes(context.Background(), client)
	require.Error(t, err)

	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, http.MethodHead, reqs[0].Method)
	assert.Equal(t, http.MethodPut, reqs[1].Method)
	assert.Equal(t, "/"+IdxFindings, reqs[1].Path)
	assert.Contains(t, reqs[1].Body, `"dynamic":"strict"`)
}

func TestEnsureIndexes_SkipsExisting(t *testing.T) {
	srv := newFakeES(t)
	client, err := Connect(srv.URL)
	require.NoError(t, err)

	require.NoError(t, EnsureIndexes(context.Background(), client))

	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	for _, r := range reqs {
		assert.Equal(t, http.MethodHead, r.Method)
	}
}
