package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"vikings-osm-sync/internal/orchestrator"
	"vikings-osm-sync/internal/queue"
	"vikings-osm-sync/internal/storage"
)

// SyncHandler triggers sync cascades and cache maintenance.
type SyncHandler struct {
	orchestrator *orchestrator.Orchestrator
	db           *storage.DB
	queue        *queue.Queue
	logger       *slog.Logger
}

// NewSyncHandler creates a sync handler.
func NewSyncHandler(o *orchestrator.Orchestrator, db *storage.DB, q *queue.Queue) *SyncHandler {
	return &SyncHandler{
		orchestrator: o,
		db:           db,
		queue:        q,
		logger:       slog.Default(),
	}
}

// HandleSync runs the sync cascade and returns its summary. A call while a
// cascade is running joins it and gets the same summary.
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	summary, err := h.orchestrator.Sync(r.Context())
	if err != nil {
		h.logger.Error("Sync failed", "error", err)
		http.Error(w, "Sync failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(summary); err != nil {
		h.logger.Error("Failed to encode summary", "error", err)
	}
}

// HandleClearCaches drops every hot-tier cache entry and rejects all
// pending queue work. The cold store is left intact.
func (h *SyncHandler) HandleClearCaches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.queue.Clear("caches cleared")
	if err := h.db.ClearAllCaches(); err != nil {
		h.logger.Error("Failed to clear caches", "error", err)
		http.Error(w, "Failed to clear caches", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Cleared all caches")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "cleared"})
}
