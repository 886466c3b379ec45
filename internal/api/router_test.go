package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegishub/aegishub-go/internal/auth"
	"github.com/aegishub/aegishub-go/internal/config"
	"github.com/aegishub/aegishub-go/internal/dispatch"
	"github.com/aegishub/aegishub-go/internal/lifecycle"
	"github.com/aegishub/aegishub-go/internal/mobile"
	"github.com/aegishub/aegishub-go/internal/models"
	"github.com/aegishub/aegishub-go/internal/store"
	"github.com/aegishub/aegishub-go/internal/triage"
	pkgauth "github.com/aegishub/aegishub-go/pkg/auth"
)

type nullSink struct{}

func (nullSink) Deliver(context.Context, string, string) (int, error) {
	return http.StatusOK, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	s, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	for _, u := range []struct {
		id, username, password string
		role                   models.Role
		orgID                  string
	}{
		{"u-auth", "authority", "authority@123", models.RoleAuthorityAdmin, ""},
		{"u-org", "org_admin", "orgadmin@123", models.RoleOrgAdmin, "org-1"},
		{"u-cit", "citizen", "citizen@123", models.RoleCitizen, ""},
	} {
		hash, err := pkgauth.HashPassword(u.password)
		require.NoError(t, err)
		require.NoError(t, s.UpsertUser(ctx, models.User{
			ID: u.id, Username: u.username, PasswordHash: hash,
			Role: u.role, OrgID: u.orgID, CreatedAt: time.Now().UTC(),
		}))
	}
	require.NoError(t, s.UpsertOrganization(ctx, models.Organization{
		ID: "org-1", Name: "Alpha Medical", Type: "medical",
		Categories: []string{models.CategoryMedical},
		Latitude:   17.39, Longitude: 78.49, Capacity: 5, Status: models.OrgAvailable,
	}))
	require.NoError(t, s.UpsertFacility(ctx, models.Facility{
		ID: "fac-1", Name: "Osmania General Hospital", Kind: "hospital",
		Latitude: 17.3724, Longitude: 78.4700,
	}))

	cfg := &config.Config{
		Listen:           ":0",
		JWTSecret:        "test-secret-0123456789",
		AssignmentWindow: 10 * time.Minute,
		DuplicateRadiusM: 500,
		DuplicateWindow:  30 * time.Minute,
	}
	issuer, err := auth.NewTokenIssuer(cfg.JWTSecret)
	require.NoError(t, err)

	triageSvc := triage.NewService(nil)
	coordinator := lifecycle.NewCoordinator(s, cfg.AssignmentWindow)
	pipeline := mobile.NewPipeline(s, triageSvc, nil, nil, nil, cfg.DuplicateRadiusM, cfg.DuplicateWindow)
	worker := dispatch.NewWorker(s, nullSink{}, 6, time.Second)

	handler := NewRouter(cfg, s, issuer, coordinator, pipeline, worker, triageSvc)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, s
}

func login(t *testing.T, srv *httptest.Server, username, password string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := http.Post(srv.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.Token)
	return out.Token
}

func doJSON(t *testing.T, srv *httptest.Server, method, path, token string, payload any) *http.Response {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req, err := http.NewRequest(method, srv.URL+path, &body)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestLoginAndMe(t *testing.T) {
	srv, _ := newTestServer(t)
	token := login(t, srv, "authority", "authority@123")

	resp := doJSON(t, srv, http.MethodGet, "/api/auth/me", token, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var me map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
	assert.Equal(t, "authority", me["username"])
	assert.Equal(t, string(models.RoleAuthorityAdmin), me["role"])
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	srv, _ := newTestServer(t)
	body, _ := json.Marshal(map[string]string{"username": "authority", "password": "wrong"})
	resp, err := http.Post(srv.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/sos")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var apiErr APIError
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&apiErr))
	assert.Equal(t, "auth", apiErr.Code)
}

func TestSOSLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	citizen := login(t, srv, "citizen", "citizen@123")
	authorityTok := login(t, srv, "authority", "authority@123")
	orgTok := login(t, srv, "org_admin", "orgadmin@123")

	// File a report.
	resp := doJSON(t, srv, http.MethodPost, "/api/sos", citizen, map[string]any{
		"description": "injured person needs ambulance near charminar",
		"latitude":    17.3616,
		"longitude":   78.4747,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var inc models.Incident
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&inc))
	resp.Body.Close()
	require.NotEmpty(t, inc.ID)
	assert.Equal(t, models.StatusPending, inc.Status)
	assert.Equal(t, models.CategoryMedical, inc.Triage.Category)

	// Citizens cannot trigger assignment.
	resp = doJSON(t, srv, http.MethodPost, "/api/emergency/"+inc.ID+"/smart-assignment", citizen, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	// The authority can.
	resp = doJSON(t, srv, http.MethodPost, "/api/emergency/"+inc.ID+"/smart-assignment", authorityTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var proposal struct {
		Incident models.Incident `json:"incident"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&proposal))
	resp.Body.Close()
	assert.Equal(t, models.StatusPendingAssignment, proposal.Incident.Status)
	assert.Equal(t, "org-1", proposal.Incident.AssignedOrgID)

	// The assigned org accepts and completes.
	resp = doJSON(t, srv, http.MethodPost, "/api/emergency/"+inc.ID+"/accept", orgTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, srv, http.MethodPost, "/api/emergency/"+inc.ID+"/complete", orgTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var done models.Incident
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&done))
	resp.Body.Close()
	assert.Equal(t, models.StatusDone, done.Status)

	// The summary reflects the closed incident.
	resp = doJSON(t, srv, http.MethodGet, "/api/emergency/summary", authorityTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var summary struct {
		Total    int            `json:"total"`
		ByStatus map[string]int `json:"by_status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	resp.Body.Close()
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.ByStatus[string(models.StatusDone)])
}

func TestCitizenSeesOnlyOwnReports(t *testing.T) {
	srv, s := newTestServer(t)
	citizen := login(t, srv, "citizen", "citizen@123")

	// Another reporter's incident sits in the store.
	now := time.Now().UTC()
	require.NoError(t, s.InsertIncident(context.Background(), &models.Incident{
		ID: "inc-other", ReporterID: "someone-else", Description: "fire",
		Status: models.StatusPending, Version: 1, CreatedAt: now, UpdatedAt: now,
	}))

	resp := doJSON(t, srv, http.MethodGet, "/api/sos", citizen, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var incidents []models.Incident
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&incidents))
	resp.Body.Close()
	assert.Empty(t, incidents)

	resp = doJSON(t, srv, http.MethodGet, "/api/sos/inc-other", citizen, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestNearestFacilities(t *testing.T) {
	srv, _ := newTestServer(t)
	citizen := login(t, srv, "citizen", "citizen@123")

	resp := doJSON(t, srv, http.MethodGet, "/api/sos/nearest-facilities?lat=17.39&lon=78.49&kind=hospital", citizen, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var facilities []struct {
		models.Facility
		DistanceKm float64 `json:"distance_km"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&facilities))
	resp.Body.Close()
	require.Len(t, facilities, 1)
	assert.Equal(t, "fac-1", facilities[0].ID)
	assert.Greater(t, facilities[0].DistanceKm, 0.0)
}

func TestMobileIngestOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, srv, http.MethodPost, "/api/mobile/tickets", "", map[string]any{
		"submission_key": "http-1",
		"text":           "flood water entering homes near kukatpally",
		"device_id":      "device-9",
		"latitude":       17.49,
		"longitude":      78.39,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var result struct {
		Ticket   models.Ticket `json:"ticket"`
		JobID    string        `json:"job_id"`
		Replayed bool          `json:"replayed"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	resp.Body.Close()
	assert.Equal(t, models.CategoryFloodRescue, result.Ticket.Triage.Category)
	assert.NotEmpty(t, result.JobID)

	// Same key replays with 200.
	resp = doJSON(t, srv, http.MethodPost, "/api/mobile/tickets", "", map[string]any{
		"submission_key": "http-1",
		"text":           "flood water entering homes near kukatpally",
		"device_id":      "device-9",
		"latitude":       17.49,
		"longitude":      78.39,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestRetryPendingRequiresAuthority(t *testing.T) {
	srv, _ := newTestServer(t)
	citizen := login(t, srv, "citizen", "citizen@123")
	authorityTok := login(t, srv, "authority", "authority@123")

	resp := doJSON(t, srv, http.MethodPost, "/api/mobile/dispatch/retry-pending", citizen, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, srv, http.MethodPost, "/api/mobile/dispatch/retry-pending", authorityTok, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestFleetCRUDRoleGates(t *testing.T) {
	srv, _ := newTestServer(t)
	orgTok := login(t, srv, "org_admin", "orgadmin@123")
	authorityTok := login(t, srv, "authority", "authority@123")

	// Org admins cannot register new organizations.
	resp := doJSON(t, srv, http.MethodPost, "/api/fleet/organizations", orgTok, map[string]any{
		"name": "Rogue Org", "type": "rescue",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	// The authority can.
	resp = doJSON(t, srv, http.MethodPost, "/api/fleet/organizations", authorityTok, map[string]any{
		"name": "Gamma Rescue", "type": "rescue", "capacity": 4,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var org models.Organization
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&org))
	resp.Body.Close()
	assert.NotEmpty(t, org.ID)
	assert.Equal(t, models.OrgAvailable, org.Status)

	// An org admin may edit its own roster.
	resp = doJSON(t, srv, http.MethodPost, "/api/fleet/staff", orgTok, map[string]any{
		"org_id": "org-1", "name": "New Medic", "skills": []string{"first aid"},
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// But not another org's.
	resp = doJSON(t, srv, http.MethodPost, "/api/fleet/staff", orgTok, map[string]any{
		"org_id": org.ID, "name": "Infiltrator",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}
