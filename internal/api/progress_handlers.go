package api

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/signaler-dev/signaler/internal/audit"
	"github.com/signaler-dev/signaler/internal/progress"
)

// ProgressHandler exposes read-only run progress endpoints. It implements
// progress.Sink so the scheduler feeds it directly.
type ProgressHandler struct {
	logger *zap.Logger

	mu      sync.RWMutex
	started bool
	snap    progress.Snapshot
	summary *audit.RunSummary
}

// NewProgressHandler wires the handler.
func NewProgressHandler(logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{logger: logger}
}

// Consume updates the live snapshot from a progress event.
func (h *ProgressHandler) Consume(_ context.Context, evt progress.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = true
	h.snap = progress.Snapshot{
		RunID:     evt.RunID,
		Completed: evt.Completed,
		Total:     evt.Total,
		ETAMs:     evt.ETA.Milliseconds(),
		ETAKnown:  evt.ETAKnown,
		ETA:       evt.ETA,
	}
	return nil
}

// Close satisfies progress.Sink; the handler keeps serving the final state.
func (h *ProgressHandler) Close(context.Context) error { return nil }

// SetSummary publishes the finished run for /api/summary.
func (h *ProgressHandler) SetSummary(summary audit.RunSummary) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.summary = &summary
}

// GetProgress handles GET /api/progress. It returns {"run": {...}} with the
// current snapshot, or 503 before any completion has been observed.
func (h *ProgressHandler) GetProgress(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	started, snap := h.started, h.snap
	h.mu.RUnlock()
	if !started {
		writeError(w, http.StatusServiceUnavailable, "no run in progress")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": snap})
}

// GetSummary handles GET /api/summary. It returns {"summary": {...}} once a
// run has finished, 404 before that.
func (h *ProgressHandler) GetSummary(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	summary := h.summary
	h.mu.RUnlock()
	if summary == nil {
		writeError(w, http.StatusNotFound, "no finished run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary})
}
