package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirdesai22/dlq-service/internal/dlq"
	"github.com/sirdesai22/dlq-service/internal/models"
	"go.uber.org/zap"
)

const maxListLimit = 1000

type Queue interface {
	GetPendingEntries(ctx context.Context, limit int, target models.Target) ([]models.Entry, error)
	GetEntry(ctx context.Context, id int64) (models.Entry, error)
	GetStats(ctx context.Context) (dlq.Stats, error)
	RetryEntry(ctx context.Context, entry models.Entry) (bool, error)
	RetryFailedWrites(ctx context.Context, target models.Target, limit int) (dlq.BatchResult, error)
	CleanupOldEntries(ctx context.Context) (dlq.CleanupResult, error)
}

type Handler struct {
	Queue Queue
	Log   *zap.Logger
}

func NewHandler(q Queue, log *zap.Logger) *Handler {
	return &Handler{Queue: q, Log: log.With(zap.String("component", "admin_api"))}
}

type retryEntryResponse struct {
	ID        int64         `json:"id"`
	Succeeded bool          `json:"succeeded"`
	Status    models.Status `json:"status"`
}

type cleanupResponse struct {
	dlq.CleanupResult
	Total int64 `json:"total"`
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) internalError(w http.ResponseWriter, msg string, err error) {
	h.Log.Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, msg)
}

// queryLimit reads ?limit=, falling back to def and clamping to maxListLimit.
func queryLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(n, maxListLimit), nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		return 0, errors.New("id must be a positive integer")
	}
	return id, nil
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.Queue.GetPendingEntries(r.Context(), limit, models.Target(r.URL.Query().Get("target")))
	if err != nil {
		h.internalError(w, "failed to load pending entries", err)
		return
	}
	if entries == nil {
		entries = []models.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Queue.GetStats(r.Context())
	if err != nil {
		h.internalError(w, "failed to load stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) getEntry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entry, err := h.Queue.GetEntry(r.Context(), id)
	if errors.Is(err, dlq.ErrEntryNotFound) {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}
	if err != nil {
		h.internalError(w, "failed to load entry", err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) retryBatch(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.Queue.RetryFailedWrites(r.Context(), models.Target(r.URL.Query().Get("target")), limit)
	if err != nil {
		h.internalError(w, "retry batch hit storage errors", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// retryEntry attempts one pending entry now, ignoring its next_retry_at.
func (h *Handler) retryEntry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entry, err := h.Queue.GetEntry(r.Context(), id)
	if errors.Is(err, dlq.ErrEntryNotFound) {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}
	if err != nil {
		h.internalError(w, "failed to load entry", err)
		return
	}
	if entry.Status != models.StatusPending {
		writeError(w, http.StatusConflict, "entry is "+string(entry.Status)+", only pending entries can be retried")
		return
	}

	ok, err := h.Queue.RetryEntry(r.Context(), entry)
	if err != nil {
		h.internalError(w, "retry failed", err)
		return
	}
	after, err := h.Queue.GetEntry(r.Context(), id)
	if err != nil {
		h.internalError(w, "failed to reload entry", err)
		return
	}
	writeJSON(w, http.StatusOK, retryEntryResponse{ID: id, Succeeded: ok, Status: after.Status})
}

func (h *Handler) cleanup(w http.ResponseWriter, r *http.Request) {
	res, err := h.Queue.CleanupOldEntries(r.Context())
	if err != nil {
		h.internalError(w, "cleanup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, cleanupResponse{CleanupResult: res, Total: res.Total()})
}
