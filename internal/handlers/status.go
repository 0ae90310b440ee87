package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"vikings-osm-sync/internal/auth"
	"vikings-osm-sync/internal/network"
	"vikings-osm-sync/internal/queue"
	"vikings-osm-sync/internal/storage"
)

// StatusHandler reports the data layer's state to the UI: session, queue
// and connectivity. The UI polls this to drive its banners.
type StatusHandler struct {
	db      *storage.DB
	gate    *auth.Gate
	queue   *queue.Queue
	monitor *network.Monitor
	logger  *slog.Logger
}

// NewStatusHandler creates a status handler.
func NewStatusHandler(db *storage.DB, gate *auth.Gate, q *queue.Queue, monitor *network.Monitor) *StatusHandler {
	return &StatusHandler{
		db:      db,
		gate:    gate,
		queue:   q,
		monitor: monitor,
		logger:  slog.Default(),
	}
}

type statusResponse struct {
	Authenticated  bool          `json:"authenticated"`
	TokenExpired   bool          `json:"tokenExpired"`
	BreakerTripped bool          `json:"breakerTripped"`
	DemoMode       bool          `json:"demoMode"`
	Online         bool          `json:"online"`
	Queue          queueResponse `json:"queue"`
}

type queueResponse struct {
	Length             int  `json:"length"`
	Processing         bool `json:"processing"`
	RateLimited        bool `json:"rateLimited"`
	SecondsUntilResume int  `json:"secondsUntilResume"`
}

// HandleStatus returns the current session, queue and connectivity state.
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	qs := h.queue.Status()
	resp := statusResponse{
		Authenticated:  h.gate.HasUsableToken(),
		TokenExpired:   h.gate.Expired(),
		BreakerTripped: h.gate.BreakerTripped(),
		DemoMode:       h.gate.DemoMode(),
		Online:         h.monitor.IsOnline(r.Context()),
		Queue: queueResponse{
			Length:             qs.QueueLength,
			Processing:         qs.Processing,
			RateLimited:        qs.RateLimited,
			SecondsUntilResume: qs.SecondsUntilResume,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode status", "error", err)
	}
}

// HandleHealth is the liveness probe: process up and database reachable.
func (h *StatusHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Health(); err != nil {
		h.logger.Error("Health check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
