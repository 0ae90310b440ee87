package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"vikings-osm-sync/internal/apperr"
	"vikings-osm-sync/internal/mutate"
)

// FlexiHandler exposes the FlexiRecord write path on the control surface.
type FlexiHandler struct {
	mutator *mutate.Service
	logger  *slog.Logger
}

// NewFlexiHandler creates a flexi handler.
func NewFlexiHandler(mutator *mutate.Service) *FlexiHandler {
	return &FlexiHandler{
		mutator: mutator,
		logger:  slog.Default(),
	}
}

type updateFieldRequest struct {
	SectionID     string `json:"sectionId"`
	MemberID      string `json:"memberId"`
	FlexiRecordID string `json:"flexiRecordId"`
	FieldID       string `json:"fieldId"`
	Value         string `json:"value"`
	TermID        string `json:"termId"`
}

// HandleUpdate writes one field value for one member. Writes never degrade
// silently: the caller gets a success body or a failure status.
func (h *FlexiHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req updateFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	err := h.mutator.UpdateField(r.Context(),
		req.SectionID, req.MemberID, req.FlexiRecordID, req.FieldID, req.Value, req.TermID)
	if err != nil {
		h.logger.Warn("Field update failed",
			"record", req.FlexiRecordID, "member", req.MemberID, "error", err)
		http.Error(w, apperr.FriendlyMessage(err), statusForError(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "updated"})
}

// statusForError maps error kinds onto control-surface status codes.
func statusForError(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindInvalidData, apperr.KindMissingFields:
		return http.StatusBadRequest
	case apperr.KindAuthExpired:
		return http.StatusUnauthorized
	case apperr.KindAuthForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}
