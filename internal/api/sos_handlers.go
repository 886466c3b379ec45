package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/aegishub/aegishub-go/internal/auth"
	"github.com/aegishub/aegishub-go/internal/geo"
	"github.com/aegishub/aegishub-go/internal/lifecycle"
	"github.com/aegishub/aegishub-go/internal/models"
	"github.com/aegishub/aegishub-go/internal/store"
	"github.com/aegishub/aegishub-go/internal/triage"
)

// SOSHandlers serves citizen-facing incident endpoints.
type SOSHandlers struct {
	store       *store.Store
	coordinator *lifecycle.Coordinator
	triage      *triage.Service
}

// NewSOSHandlers creates SOS handlers.
func NewSOSHandlers(s *store.Store, coord *lifecycle.Coordinator, triageSvc *triage.Service) *SOSHandlers {
	return &SOSHandlers{store: s, coordinator: coord, triage: triageSvc}
}

type createSOSRequest struct {
	Description string  `json:"description"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

// HandleCreate files a new SOS report and triages it inline.
func (h *SOSHandlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createSOSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "validation", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		writeErrorResponse(w, http.StatusBadRequest, "validation", "description is required")
		return
	}

	lat, lon := req.Latitude, req.Longitude
	if lat == 0 && lon == 0 {
		anchor := geo.AnchorFromText(req.Description)
		lat, lon = anchor.Lat, anchor.Lon
	}

	principal, _ := auth.PrincipalFrom(r.Context())
	tri := h.triage.Classify(r.Context(), req.Description)

	inc, err := h.coordinator.Create(r.Context(), principal.UserID, req.Description, lat, lon, tri)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inc)
}

// HandleList lists incidents. Citizens see only their own reports.
func (h *SOSHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	status := models.IncidentStatus(r.URL.Query().Get("status"))
	limit := queryInt(r, "limit", 100)

	incidents, err := h.store.ListIncidents(r.Context(), status, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	principal, _ := auth.PrincipalFrom(r.Context())
	if principal.Role == models.RoleCitizen {
		own := incidents[:0]
		for _, inc := range incidents {
			if inc.ReporterID == principal.UserID {
				own = append(own, inc)
			}
		}
		incidents = own
	}
	if incidents == nil {
		incidents = []*models.Incident{}
	}
	writeJSON(w, http.StatusOK, incidents)
}

// HandleGet returns a single incident.
func (h *SOSHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := pathID(r.URL.Path, "/api/sos/")
	if id == "" {
		writeErrorResponse(w, http.StatusBadRequest, "validation", "incident id is required")
		return
	}

	inc, err := h.store.GetIncident(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	principal, _ := auth.PrincipalFrom(r.Context())
	if principal.Role == models.RoleCitizen && inc.ReporterID != principal.UserID {
		writeErrorResponse(w, http.StatusForbidden, "forbidden", "Not your report")
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

// HandleCancel withdraws a report that has not been accepted yet.
func (h *SOSHandlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := pathID(r.URL.Path, "/api/sos/")
	if id == "" {
		writeErrorResponse(w, http.StatusBadRequest, "validation", "incident id is required")
		return
	}

	principal, _ := auth.PrincipalFrom(r.Context())
	inc, err := h.coordinator.Cancel(r.Context(), id, principal)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

type mapPoint struct {
	ID        string  `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Status    string  `json:"status"`
	Category  string  `json:"category"`
	Priority  int     `json:"priority"`
	Urgency   string  `json:"urgency"`
}

// HandleMap returns lightweight points for every open incident.
func (h *SOSHandlers) HandleMap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	points := []mapPoint{}
	for _, status := range []models.IncidentStatus{models.StatusPending, models.StatusPendingAssignment, models.StatusInProgress} {
		incidents, err := h.store.ListIncidents(r.Context(), status, 500)
		if err != nil {
			writeError(w, err)
			return
		}
		for _, inc := range incidents {
			points = append(points, mapPoint{
				ID:        inc.ID,
				Latitude:  inc.Latitude,
				Longitude: inc.Longitude,
				Status:    string(inc.Status),
				Category:  inc.Triage.Category,
				Priority:  inc.Triage.Priority,
				Urgency:   inc.Triage.Urgency,
			})
		}
	}
	writeJSON(w, http.StatusOK, points)
}

type nearestFacility struct {
	models.Facility
	DistanceKm float64 `json:"distance_km"`
}

// HandleNearestFacilities returns the closest facilities to a point,
// optionally filtered by kind.
func (h *SOSHandlers) HandleNearestFacilities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	lat, err1 := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, err2 := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if err1 != nil || err2 != nil {
		writeErrorResponse(w, http.StatusBadRequest, "validation", "lat and lon query parameters are required")
		return
	}
	kind := r.URL.Query().Get("kind")
	limit := queryInt(r, "limit", 5)

	facilities, err := h.store.ListFacilities(r.Context(), kind)
	if err != nil {
		writeError(w, err)
		return
	}

	ranked := make([]nearestFacility, 0, len(facilities))
	for _, f := range facilities {
		ranked = append(ranked, nearestFacility{
			Facility:   f,
			DistanceKm: geo.HaversineKm(lat, lon, f.Latitude, f.Longitude),
		})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].DistanceKm != ranked[j].DistanceKm {
			return ranked[i].DistanceKm < ranked[j].DistanceKm
		}
		return ranked[i].ID < ranked[j].ID
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	writeJSON(w, http.StatusOK, ranked)
}

// pathID extracts the trailing identifier from a prefixed path.
func pathID(path, prefix string) string {
	id := strings.TrimPrefix(path, prefix)
	return strings.Trim(id, "/")
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
