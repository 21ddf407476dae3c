package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/sirdesai22/dlq-service/internal/dlq"
	"github.com/sirdesai22/dlq-service/internal/models"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const Target models.Target = "elasticsearch"

const (
	OpUpsertFinding models.Operation = "upsert_finding"
	OpUpsertSession models.Operation = "upsert_session"
	OpDeleteFinding models.Operation = "delete_finding"
)

// DeadLetters is the part of the queue the writer needs.
type DeadLetters interface {
	AddFailedWrite(ctx context.Context, fw dlq.FailedWrite) (int64, error)
	RegisterRetryHandler(op models.Operation, target models.Target, h dlq.RetryHandler)
}

// writeOp is the payload stored in the DLQ for one document write.
type writeOp struct {
	Index      string          `json:"index"`
	DocumentID string          `json:"document_id"`
	Document   json.RawMessage `json:"document,omitempty"`
}

// Writer indexes findings and sessions. A write Elasticsearch rejects is
// handed to the DLQ instead of being returned to the caller.
type Writer struct {
	ES  *es.Client
	DLQ DeadLetters
	Log *zap.Logger
}

func NewWriter(c *es.Client, q DeadLetters, log *zap.Logger) *Writer {
	return &Writer{ES: c, DLQ: q, Log: log.With(zap.String("component", "elastic_writer"))}
}

func (w *Writer) RegisterHandlers() {
	w.DLQ.RegisterRetryHandler(OpUpsertFinding, Target, dlq.HandlerFunc(w.replay(OpUpsertFinding)))
	w.DLQ.RegisterRetryHandler(OpUpsertSession, Target, dlq.HandlerFunc(w.replay(OpUpsertSession)))
	w.DLQ.RegisterRetryHandler(OpDeleteFinding, Target, dlq.HandlerFunc(w.replay(OpDeleteFinding)))
}

func (w *Writer) UpsertFinding(ctx context.Context, f Finding) error {
	doc, err := BuildFindingDoc(f)
	if err != nil {
		return err
	}
	return w.write(ctx, OpUpsertFinding, writeOp{Index: IdxFindings, DocumentID: f.ID, Document: doc})
}

func (w *Writer) UpsertSession(ctx context.Context, s Session) error {
	doc, err := BuildSessionDoc(s)
	if err != nil {
		return err
	}
	return w.write(ctx, OpUpsertSession, writeOp{Index: IdxSessions, DocumentID: s.ID, Document: doc})
}

func (w *Writer) DeleteFinding(ctx context.Context, id string) error {
	return w.write(ctx, OpDeleteFinding, writeOp{Index: IdxFindings, DocumentID: id})
}

func (w *Writer) write(ctx context.Context, op models.Operation, wo writeOp) error {
	err := w.apply(ctx, op, wo)
	if err == nil {
		w.Log.Debug("synced document", zap.String("index", wo.Index), zap.String("id", wo.DocumentID))
		return nil
	}

	// the write may have failed because ctx expired; queue it regardless
	entryID, qerr := w.DLQ.AddFailedWrite(context.WithoutCancel(ctx), dlq.FailedWrite{
		Operation: op,
		Target:    Target,
		Payload:   wo,
		Error:     err.Error(),
	})
	if qerr != nil {
		return fmt.Errorf("%s %s/%s failed (%v) and could not be queued: %w", op, wo.Index, wo.DocumentID, err, qerr)
	}
	w.Log.Warn("elasticsearch write deferred to dlq",
		zap.String("operation", string(op)),
		zap.String("index", wo.Index),
		zap.String("id", wo.DocumentID),
		zap.Int64("entry_id", entryID),
		zap.Error(err))
	return nil
}

func (w *Writer) replay(op models.Operation) func(context.Context, datatypes.JSON) (bool, error) {
	return func(ctx context.Context, payload datatypes.JSON) (bool, error) {
		var wo writeOp
		if err := json.Unmarshal(payload, &wo); err != nil {
			return false, fmt.Errorf("decode %s payload: %w", op, err)
		}
		if err := w.apply(ctx, op, wo); err != nil {
			return false, err
		}
		return true, nil
	}
}

func (w *Writer) apply(ctx context.Context, op models.Operation, wo writeOp) error {
	switch op {
	case OpDeleteFinding:
		return w.delete(ctx, wo)
	case OpUpsertFinding, OpUpsertSession:
		return w.index(ctx, wo)
	}
	return fmt.Errorf("unknown elasticsearch operation=%s", op)
}

func (w *Writer) index(ctx context.Context, wo writeOp) error {
	res, err := w.ES.Index(wo.Index, bytes.NewReader(wo.Document),
		w.ES.Index.WithDocumentID(wo.DocumentID),
		w.ES.Index.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("index %s/%s: %w", wo.Index, wo.DocumentID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("index %s/%s: %s", wo.Index, wo.DocumentID, res.Status())
	}
	return nil
}

func (w *Writer) delete(ctx context.Context, wo writeOp) error {
	res, err := w.ES.Delete(wo.Index, wo.DocumentID, w.ES.Delete.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", wo.Index, wo.DocumentID, err)
	}
	defer res.Body.Close()
	// already gone counts as deleted
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete %s/%s: %s", wo.Index, wo.DocumentID, res.Status())
	}
	return nil
}
