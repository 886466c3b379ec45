package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aegishub/aegishub-go/internal/auth"
	"github.com/aegishub/aegishub-go/internal/lifecycle"
	"github.com/aegishub/aegishub-go/internal/store"
)

// EmergencyHandlers serves the coordination actions on an incident.
type EmergencyHandlers struct {
	store       *store.Store
	coordinator *lifecycle.Coordinator
}

// NewEmergencyHandlers creates emergency handlers.
func NewEmergencyHandlers(s *store.Store, coord *lifecycle.Coordinator) *EmergencyHandlers {
	return &EmergencyHandlers{store: s, coordinator: coord}
}

// HandleAction dispatches /api/emergency/{id}/{action} requests.
func (h *EmergencyHandlers) HandleAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/emergency/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeErrorResponse(w, http.StatusNotFound, "not_found", "Unknown emergency endpoint")
		return
	}
	id, action := parts[0], parts[1]
	principal, _ := auth.PrincipalFrom(r.Context())

	switch action {
	case "smart-assignment":
		inc, rec, err := h.coordinator.SmartAssign(r.Context(), id, principal)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"incident":       inc,
			"recommendation": rec,
		})

	case "assign":
		var req struct {
			OrgID      string `json:"org_id"`
			DivisionID string `json:"division_id"`
			StaffID    string `json:"staff_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "validation", "Invalid request body")
			return
		}
		if req.OrgID == "" {
			writeErrorResponse(w, http.StatusBadRequest, "validation", "org_id is required")
			return
		}
		inc, err := h.coordinator.ManualAssign(r.Context(), id, req.OrgID, req.DivisionID, req.StaffID, principal)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, inc)

	case "accept":
		inc, err := h.coordinator.Accept(r.Context(), id, principal)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, inc)

	case "reject":
		var req struct {
			Reason string `json:"reason"`
		}
		// Body is optional; a bare reject defaults its reason.
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Reason == "" {
			req.Reason = "declined"
		}
		inc, err := h.coordinator.Reject(r.Context(), id, req.Reason, principal)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, inc)

	case "complete":
		inc, err := h.coordinator.Complete(r.Context(), id, principal)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, inc)

	default:
		writeErrorResponse(w, http.StatusNotFound, "not_found", "Unknown emergency action")
	}
}

// HandleSummary returns incident counts by lifecycle state.
func (h *EmergencyHandlers) HandleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	counts, err := h.store.CountIncidentsByStatus(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	total := 0
	byStatus := map[string]int{}
	for status, n := range counts {
		byStatus[string(status)] = n
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":     total,
		"by_status": byStatus,
	})
}
