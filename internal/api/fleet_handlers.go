package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/aegishub/aegishub-go/internal/auth"
	"github.com/aegishub/aegishub-go/internal/models"
	"github.com/aegishub/aegishub-go/internal/store"
)

// FleetHandlers serves CRUD for organizations, divisions, staff and
// facilities. Reads are open to any authenticated principal; writes need
// the authority role, except org admins editing their own roster.
type FleetHandlers struct {
	store *store.Store
}

// NewFleetHandlers creates fleet handlers.
func NewFleetHandlers(s *store.Store) *FleetHandlers {
	return &FleetHandlers{store: s}
}

func fleetWriteAllowed(p *auth.Principal, orgID string) bool {
	return p.IsAuthority() || p.AdminsOrg(orgID)
}

// HandleOrganizations lists or creates organizations.
func (h *FleetHandlers) HandleOrganizations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		orgs, err := h.store.ListOrganizations(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if orgs == nil {
			orgs = []models.Organization{}
		}
		writeJSON(w, http.StatusOK, orgs)

	case http.MethodPost:
		principal, _ := auth.PrincipalFrom(r.Context())
		if !principal.IsAuthority() {
			writeErrorResponse(w, http.StatusForbidden, "forbidden", "Only the authority can register organizations")
			return
		}
		var org models.Organization
		if err := json.NewDecoder(r.Body).Decode(&org); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "validation", "Invalid request body")
			return
		}
		if strings.TrimSpace(org.Name) == "" {
			writeErrorResponse(w, http.StatusBadRequest, "validation", "name is required")
			return
		}
		if org.ID == "" {
			org.ID = ulid.Make().String()
		}
		if org.Status == "" {
			org.Status = models.OrgAvailable
		}
		if err := h.store.UpsertOrganization(r.Context(), org); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, org)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleOrganization reads, updates or removes one organization.
func (h *FleetHandlers) HandleOrganization(w http.ResponseWriter, r *http.Request) {
	id := pathID(r.URL.Path, "/api/fleet/organizations/")
	if id == "" {
		writeErrorResponse(w, http.StatusBadRequest, "validation", "organization id is required")
		return
	}
	principal, _ := auth.PrincipalFrom(r.Context())

	switch r.Method {
	case http.MethodGet:
		org, err := h.store.GetOrganization(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, org)

	case http.MethodPut:
		if !fleetWriteAllowed(principal, id) {
			writeErrorResponse(w, http.StatusForbidden, "forbidden", "Not allowed to edit this organization")
			return
		}
		var org models.Organization
		if err := json.NewDecoder(r.Body).Decode(&org); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "validation", "Invalid request body")
			return
		}
		org.ID = id
		if err := h.store.UpsertOrganization(r.Context(), org); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, org)

	case http.MethodDelete:
		if !principal.IsAuthority() {
			writeErrorResponse(w, http.StatusForbidden, "forbidden", "Only the authority can remove organizations")
			return
		}
		if err := h.store.DeleteOrganization(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleDivisions lists or creates divisions. ?org_id filters the listing.
func (h *FleetHandlers) HandleDivisions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		divs, err := h.store.ListDivisions(r.Context(), r.URL.Query().Get("org_id"))
		if err != nil {
			writeError(w, err)
			return
		}
		if divs == nil {
			divs = []models.Division{}
		}
		writeJSON(w, http.StatusOK, divs)

	case http.MethodPost:
		var div models.Division
		if err := json.NewDecoder(r.Body).Decode(&div); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "validation", "Invalid request body")
			return
		}
		principal, _ := auth.PrincipalFrom(r.Context())
		if div.OrgID == "" || !fleetWriteAllowed(principal, div.OrgID) {
			writeErrorResponse(w, http.StatusForbidden, "forbidden", "Not allowed to edit this organization's divisions")
			return
		}
		if div.ID == "" {
			div.ID = ulid.Make().String()
		}
		if err := h.store.UpsertDivision(r.Context(), div); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, div)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleDivision updates or removes one division.
func (h *FleetHandlers) HandleDivision(w http.ResponseWriter, r *http.Request) {
	id := pathID(r.URL.Path, "/api/fleet/divisions/")
	if id == "" {
		writeErrorResponse(w, http.StatusBadRequest, "validation", "division id is required")
		return
	}
	principal, _ := auth.PrincipalFrom(r.Context())

	switch r.Method {
	case http.MethodPut:
		var div models.Division
		if err := json.NewDecoder(r.Body).Decode(&div); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "validation", "Invalid request body")
			return
		}
		div.ID = id
		if div.OrgID == "" || !fleetWriteAllowed(principal, div.OrgID) {
			writeErrorResponse(w, http.StatusForbidden, "forbidden", "Not allowed to edit this organization's divisions")
			return
		}
		if err := h.store.UpsertDivision(r.Context(), div); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, div)

	case http.MethodDelete:
		if !principal.IsAuthority() {
			writeErrorResponse(w, http.StatusForbidden, "forbidden", "Only the authority can remove divisions")
			return
		}
		if err := h.store.DeleteDivision(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleStaff lists or creates responders. ?org_id filters the listing.
func (h *FleetHandlers) HandleStaff(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		members, err := h.store.ListStaff(r.Context(), r.URL.Query().Get("org_id"))
		if err != nil {
			writeError(w, err)
			return
		}
		if members == nil {
			members = []models.Staff{}
		}
		writeJSON(w, http.StatusOK, members)

	case http.MethodPost:
		var st models.Staff
		if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "validation", "Invalid request body")
			return
		}
		principal, _ := auth.PrincipalFrom(r.Context())
		if st.OrgID == "" || !fleetWriteAllowed(principal, st.OrgID) {
			writeErrorResponse(w, http.StatusForbidden, "forbidden", "Not allowed to edit this organization's staff")
			return
		}
		if st.ID == "" {
			st.ID = ulid.Make().String()
		}
		if st.Status == "" {
			st.Status = models.StaffAvailable
		}
		if err := h.store.UpsertStaff(r.Context(), st); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, st)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleStaffMember updates or removes one responder.
func (h *FleetHandlers) HandleStaffMember(w http.ResponseWriter, r *http.Request) {
	id := pathID(r.URL.Path, "/api/fleet/staff/")
	if id == "" {
		writeErrorResponse(w, http.StatusBadRequest, "validation", "staff id is required")
		return
	}
	principal, _ := auth.PrincipalFrom(r.Context())

	switch r.Method {
	case http.MethodPut:
		var st models.Staff
		if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "validation", "Invalid request body")
			return
		}
		st.ID = id
		if st.OrgID == "" || !fleetWriteAllowed(principal, st.OrgID) {
			writeErrorResponse(w, http.StatusForbidden, "forbidden", "Not allowed to edit this organization's staff")
			return
		}
		if err := h.store.UpsertStaff(r.Context(), st); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)

	case http.MethodDelete:
		if !principal.IsAuthority() {
			writeErrorResponse(w, http.StatusForbidden, "forbidden", "Only the authority can remove staff")
			return
		}
		if err := h.store.DeleteStaff(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleFacilities lists or creates facilities. ?kind filters the listing.
func (h *FleetHandlers) HandleFacilities(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		facilities, err := h.store.ListFacilities(r.Context(), r.URL.Query().Get("kind"))
		if err != nil {
			writeError(w, err)
			return
		}
		if facilities == nil {
			facilities = []models.Facility{}
		}
		writeJSON(w, http.StatusOK, facilities)

	case http.MethodPost:
		principal, _ := auth.PrincipalFrom(r.Context())
		if !principal.IsAuthority() {
			writeErrorResponse(w, http.StatusForbidden, "forbidden", "Only the authority can register facilities")
			return
		}
		var f models.Facility
		if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "validation", "Invalid request body")
			return
		}
		if strings.TrimSpace(f.Name) == "" {
			writeErrorResponse(w, http.StatusBadRequest, "validation", "name is required")
			return
		}
		if f.ID == "" {
			f.ID = ulid.Make().String()
		}
		if err := h.store.UpsertFacility(r.Context(), f); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, f)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleFacility updates or removes one facility.
func (h *FleetHandlers) HandleFacility(w http.ResponseWriter, r *http.Request) {
	id := pathID(r.URL.Path, "/api/fleet/facilities/")
	if id == "" {
		writeErrorResponse(w, http.StatusBadRequest, "validation", "facility id is required")
		return
	}
	principal, _ := auth.PrincipalFrom(r.Context())
	if !principal.IsAuthority() {
		writeErrorResponse(w, http.StatusForbidden, "forbidden", "Only the authority can edit facilities")
		return
	}

	switch r.Method {
	case http.MethodPut:
		var f models.Facility
		if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "validation", "Invalid request body")
			return
		}
		f.ID = id
		if err := h.store.UpsertFacility(r.Context(), f); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, f)

	case http.MethodDelete:
		if err := h.store.DeleteFacility(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
