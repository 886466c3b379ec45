// Package api exposes the coordination service over HTTP.
package api

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aegishub/aegishub-go/internal/auth"
	"github.com/aegishub/aegishub-go/internal/config"
	"github.com/aegishub/aegishub-go/internal/dispatch"
	"github.com/aegishub/aegishub-go/internal/lifecycle"
	"github.com/aegishub/aegishub-go/internal/mobile"
	"github.com/aegishub/aegishub-go/internal/models"
	"github.com/aegishub/aegishub-go/internal/store"
	"github.com/aegishub/aegishub-go/internal/triage"
)

// Router handles HTTP routing
type Router struct {
	mux         *http.ServeMux
	config      *config.Config
	store       *store.Store
	issuer      *auth.TokenIssuer
	coordinator *lifecycle.Coordinator
	pipeline    *mobile.Pipeline
	worker      *dispatch.Worker
	triage      *triage.Service
}

// NewRouter creates a new router instance
func NewRouter(cfg *config.Config, s *store.Store, issuer *auth.TokenIssuer, coord *lifecycle.Coordinator, pipeline *mobile.Pipeline, worker *dispatch.Worker, triageSvc *triage.Service) http.Handler {
	r := &Router{
		mux:         http.NewServeMux(),
		config:      cfg,
		store:       s,
		issuer:      issuer,
		coordinator: coord,
		pipeline:    pipeline,
		worker:      worker,
		triage:      triageSvc,
	}

	r.setupRoutes()
	return ErrorHandler(r.mux)
}

// setupRoutes configures all routes
func (r *Router) setupRoutes() {
	authHandlers := NewAuthHandlers(r.store, r.issuer)
	sosHandlers := NewSOSHandlers(r.store, r.coordinator, r.triage)
	emergencyHandlers := NewEmergencyHandlers(r.store, r.coordinator)
	fleetHandlers := NewFleetHandlers(r.store)
	mobileHandlers := NewMobileHandlers(r.store, r.pipeline, r.worker)

	// Auth routes
	r.mux.HandleFunc("/api/auth/login", authHandlers.HandleLogin)
	r.mux.HandleFunc("/api/auth/me", r.requireAuth(authHandlers.HandleMe))

	// SOS routes
	r.mux.HandleFunc("/api/sos", r.requireAuth(func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodPost:
			sosHandlers.HandleCreate(w, req)
		case http.MethodGet:
			sosHandlers.HandleList(w, req)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}))
	r.mux.HandleFunc("/api/sos/map", r.requireAuth(sosHandlers.HandleMap))
	r.mux.HandleFunc("/api/sos/nearest-facilities", r.requireAuth(sosHandlers.HandleNearestFacilities))
	r.mux.HandleFunc("/api/sos/", r.requireAuth(func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			sosHandlers.HandleGet(w, req)
		case http.MethodDelete:
			sosHandlers.HandleCancel(w, req)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}))

	// Emergency coordination routes
	r.mux.HandleFunc("/api/emergency/summary", r.requireAuth(emergencyHandlers.HandleSummary))
	r.mux.HandleFunc("/api/emergency/", r.requireAuth(emergencyHandlers.HandleAction))

	// Fleet management routes
	r.mux.HandleFunc("/api/fleet/organizations", r.requireAuth(fleetHandlers.HandleOrganizations))
	r.mux.HandleFunc("/api/fleet/organizations/", r.requireAuth(fleetHandlers.HandleOrganization))
	r.mux.HandleFunc("/api/fleet/divisions", r.requireAuth(fleetHandlers.HandleDivisions))
	r.mux.HandleFunc("/api/fleet/divisions/", r.requireAuth(fleetHandlers.HandleDivision))
	r.mux.HandleFunc("/api/fleet/staff", r.requireAuth(fleetHandlers.HandleStaff))
	r.mux.HandleFunc("/api/fleet/staff/", r.requireAuth(fleetHandlers.HandleStaffMember))
	r.mux.HandleFunc("/api/fleet/facilities", r.requireAuth(fleetHandlers.HandleFacilities))
	r.mux.HandleFunc("/api/fleet/facilities/", r.requireAuth(fleetHandlers.HandleFacility))

	// Mobile ingestion routes. Submission endpoints are device-keyed and
	// unauthenticated so field reports are never dropped at the door.
	r.mux.HandleFunc("/api/mobile/tickets", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodPost:
			mobileHandlers.HandleIngest(w, req)
		case http.MethodGet:
			r.requireRole(models.RoleOrgAdmin, mobileHandlers.HandleListTickets)(w, req)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	r.mux.HandleFunc("/api/mobile/tickets/", r.requireRole(models.RoleOrgAdmin, mobileHandlers.HandleGetTicket))
	r.mux.HandleFunc("/api/mobile/chat", mobileHandlers.HandleChat)
	r.mux.HandleFunc("/api/mobile/voice", mobileHandlers.HandleVoice)
	r.mux.HandleFunc("/api/mobile/incidents", r.requireRole(models.RoleOrgAdmin, mobileHandlers.HandleIncidents))
	r.mux.HandleFunc("/api/mobile/dispatch/retry-pending", r.requireRole(models.RoleAuthorityAdmin, mobileHandlers.HandleRetryPending))

	// Health and metrics
	r.mux.HandleFunc("/api/health", r.handleHealth)
	r.mux.Handle("/metrics", promhttp.Handler())
}

// requireAuth verifies the bearer token and attaches the principal.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		header := req.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeErrorResponse(w, http.StatusUnauthorized, "auth", "Missing bearer token")
			return
		}
		principal, err := r.issuer.Verify(strings.TrimSpace(token))
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, req.WithContext(auth.WithPrincipal(req.Context(), principal)))
	}
}

// requireRole gates a route on a minimum role. authority_admin passes every
// gate; org_admin passes org-level gates.
func (r *Router) requireRole(minimum models.Role, next http.HandlerFunc) http.HandlerFunc {
	return r.requireAuth(func(w http.ResponseWriter, req *http.Request) {
		principal, _ := auth.PrincipalFrom(req.Context())
		if !roleAtLeast(principal.Role, minimum) {
			writeErrorResponse(w, http.StatusForbidden, "forbidden", "Insufficient role for this operation")
			return
		}
		next(w, req)
	})
}

func roleAtLeast(have, want models.Role) bool {
	rank := map[models.Role]int{
		models.RoleCitizen:        1,
		models.RoleOrgAdmin:       2,
		models.RoleAuthorityAdmin: 3,
	}
	return rank[have] >= rank[want]
}

// handleHealth returns basic health status
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	status := map[string]any{
		"status":   "healthy",
		"database": "ok",
	}
	if err := r.store.DB().PingContext(req.Context()); err != nil {
		status["status"] = "degraded"
		status["database"] = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
