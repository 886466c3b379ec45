package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegishub/aegishub-go/internal/auth"
	apperrors "github.com/aegishub/aegishub-go/internal/errors"
	"github.com/aegishub/aegishub-go/internal/models"
	"github.com/aegishub/aegishub-go/internal/store"
	"github.com/aegishub/aegishub-go/internal/triage"
	"github.com/aegishub/aegishub-go/pkg/audit"
)

var (
	authority = &auth.Principal{UserID: "u-auth", Username: "authority", Role: models.RoleAuthorityAdmin}
	orgAAdmin = &auth.Principal{UserID: "u-a", Username: "a_admin", Role: models.RoleOrgAdmin, OrgID: "org-a"}
	orgBAdmin = &auth.Principal{UserID: "u-b", Username: "b_admin", Role: models.RoleOrgAdmin, OrgID: "org-b"}
	reporter  = &auth.Principal{UserID: "u-cit", Username: "citizen", Role: models.RoleCitizen}
)

// newFixture builds a store with two medical orgs near Hyderabad and a
// coordinator whose clock the test controls.
func newFixture(t *testing.T) (*Coordinator, *store.Store, *time.Time) {
	t.Helper()
	s, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	orgs := []models.Organization{
		{ID: "org-a", Name: "Alpha Medical", Type: "medical",
			Categories: []string{models.CategoryMedical},
			Latitude:   17.39, Longitude: 78.49, Capacity: 5, Status: models.OrgAvailable},
		{ID: "org-b", Name: "Beta Medical", Type: "medical",
			Categories: []string{models.CategoryMedical},
			Latitude:   17.60, Longitude: 78.60, Capacity: 5, Status: models.OrgAvailable},
	}
	for _, org := range orgs {
		require.NoError(t, s.UpsertOrganization(ctx, org))
	}
	require.NoError(t, s.UpsertDivision(ctx, models.Division{
		ID: "div-a", OrgID: "org-a", Name: "Medical Response", Type: "medical",
		Skills: []string{"first aid", "medical", "ambulance"}, Capacity: 3,
	}))
	require.NoError(t, s.UpsertStaff(ctx, models.Staff{
		ID: "staff-a", OrgID: "org-a", DivisionID: "div-a", Name: "Medic A",
		Skills: []string{"first aid"}, Status: models.StaffAvailable,
		Latitude: 17.39, Longitude: 78.49,
	}))

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewCoordinator(s, 10*time.Minute)
	c.now = func() time.Time { return now }
	return c, s, &now
}

func createIncident(t *testing.T, c *Coordinator) *models.Incident {
	t.Helper()
	tri := triage.ClassifyRules("injured person needs ambulance near charminar")
	inc, err := c.Create(context.Background(), reporter.UserID, "injured person needs ambulance near charminar", 17.3616, 78.4747, tri)
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, inc.Status)
	return inc
}

func TestSmartAssignProposesNearestMatch(t *testing.T) {
	c, s, _ := newFixture(t)
	inc := createIncident(t, c)

	updated, rec, err := c.SmartAssign(context.Background(), inc.ID, authority)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingAssignment, updated.Status)
	assert.Equal(t, "org-a", updated.AssignedOrgID)
	assert.Equal(t, "div-a", updated.AssignedDivisionID)
	assert.Equal(t, "staff-a", updated.AssignedStaffID)
	require.NotNil(t, updated.AcceptDeadline)
	assert.False(t, rec.Overflow)
	require.NotEmpty(t, rec.Candidates)

	org, err := s.GetOrganization(context.Background(), "org-a")
	require.NoError(t, err)
	assert.Equal(t, 1, org.Load)
	assert.Equal(t, models.OrgActive, org.Status)
}

func TestSmartAssignRequiresAdminRole(t *testing.T) {
	c, _, _ := newFixture(t)
	inc := createIncident(t, c)

	_, _, err := c.SmartAssign(context.Background(), inc.ID, reporter)
	require.Error(t, err)
	assert.Equal(t, 403, apperrors.HTTPStatusFor(err))
}

func TestSmartAssignOnlyFromPending(t *testing.T) {
	c, _, _ := newFixture(t)
	inc := createIncident(t, c)

	_, _, err := c.SmartAssign(context.Background(), inc.ID, authority)
	require.NoError(t, err)
	_, _, err = c.SmartAssign(context.Background(), inc.ID, authority)
	require.Error(t, err)
	assert.Equal(t, 409, apperrors.HTTPStatusFor(err))
}

func TestAcceptIsIdempotentAndGated(t *testing.T) {
	c, _, _ := newFixture(t)
	inc := createIncident(t, c)
	_, _, err := c.SmartAssign(context.Background(), inc.ID, authority)
	require.NoError(t, err)

	// The other org's admin cannot accept.
	_, err = c.Accept(context.Background(), inc.ID, orgBAdmin)
	require.Error(t, err)

	accepted, err := c.Accept(context.Background(), inc.ID, orgAAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, accepted.Status)
	assert.Nil(t, accepted.AcceptDeadline)

	// Re-accepting the held incident is a no-op success.
	again, err := c.Accept(context.Background(), inc.ID, orgAAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, again.Status)
}

func TestRejectReranksExcludingRejector(t *testing.T) {
	c, s, _ := newFixture(t)
	inc := createIncident(t, c)
	_, _, err := c.SmartAssign(context.Background(), inc.ID, authority)
	require.NoError(t, err)

	updated, err := c.Reject(context.Background(), inc.ID, "no crew", orgAAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingAssignment, updated.Status)
	assert.Equal(t, "org-b", updated.AssignedOrgID, "rejecting org sits out the re-rank")

	ctx := context.Background()
	orgA, err := s.GetOrganization(ctx, "org-a")
	require.NoError(t, err)
	assert.Equal(t, 0, orgA.Load)
	orgB, err := s.GetOrganization(ctx, "org-b")
	require.NoError(t, err)
	assert.Equal(t, 1, orgB.Load)

	// Both orgs inside the cooldown: the incident returns to the pool.
	final, err := c.Reject(ctx, inc.ID, "no crew", orgBAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, final.Status)
	assert.Empty(t, final.AssignedOrgID)
	orgB, err = s.GetOrganization(ctx, "org-b")
	require.NoError(t, err)
	assert.Equal(t, 0, orgB.Load)
}

func TestCooldownExpiresAfterFifteenMinutes(t *testing.T) {
	c, _, now := newFixture(t)
	inc := createIncident(t, c)
	ctx := context.Background()

	_, _, err := c.SmartAssign(ctx, inc.ID, authority)
	require.NoError(t, err)
	_, err = c.Reject(ctx, inc.ID, "no crew", orgAAdmin)
	require.NoError(t, err)
	_, err = c.Reject(ctx, inc.ID, "no crew", orgBAdmin)
	require.NoError(t, err)

	*now = now.Add(16 * time.Minute)
	updated, _, err := c.SmartAssign(ctx, inc.ID, authority)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingAssignment, updated.Status)
	assert.Equal(t, "org-a", updated.AssignedOrgID, "cooldown has lapsed, best org qualifies again")
}

func TestCompleteReleasesLedger(t *testing.T) {
	c, s, _ := newFixture(t)
	inc := createIncident(t, c)
	ctx := context.Background()

	_, _, err := c.SmartAssign(ctx, inc.ID, authority)
	require.NoError(t, err)
	_, err = c.Accept(ctx, inc.ID, orgAAdmin)
	require.NoError(t, err)

	done, err := c.Complete(ctx, inc.ID, orgAAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, done.Status)

	org, err := s.GetOrganization(ctx, "org-a")
	require.NoError(t, err)
	assert.Equal(t, 0, org.Load)
	assert.Equal(t, models.OrgAvailable, org.Status)

	members, err := s.ListStaff(ctx, "org-a")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, models.StaffAvailable, members[0].Status)
}

func TestCancelRules(t *testing.T) {
	c, _, _ := newFixture(t)
	ctx := context.Background()

	// The reporter can withdraw a pending report.
	inc := createIncident(t, c)
	cancelled, err := c.Cancel(ctx, inc.ID, reporter)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	// A stranger cannot.
	inc = createIncident(t, c)
	_, err = c.Cancel(ctx, inc.ID, orgBAdmin)
	require.Error(t, err)

	// In-progress incidents cannot be cancelled.
	_, _, err = c.SmartAssign(ctx, inc.ID, authority)
	require.NoError(t, err)
	_, err = c.Accept(ctx, inc.ID, orgAAdmin)
	require.NoError(t, err)
	_, err = c.Cancel(ctx, inc.ID, authority)
	require.Error(t, err)
	assert.Equal(t, 409, apperrors.HTTPStatusFor(err))
}

func TestManualAssignRules(t *testing.T) {
	c, s, _ := newFixture(t)
	inc := createIncident(t, c)
	ctx := context.Background()

	// Org admins cannot hand-pick assignments.
	_, err := c.ManualAssign(ctx, inc.ID, "org-b", "", "", orgAAdmin)
	require.Error(t, err)

	// Inactive orgs are never assignable.
	require.NoError(t, s.UpsertOrganization(ctx, models.Organization{
		ID: "org-parked", Name: "Parked", Type: "medical",
		Capacity: 5, Status: models.OrgInactive,
	}))
	_, err = c.ManualAssign(ctx, inc.ID, "org-parked", "", "", authority)
	require.Error(t, err)

	updated, err := c.ManualAssign(ctx, inc.ID, "org-b", "", "", authority)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingAssignment, updated.Status)
	assert.Equal(t, "org-b", updated.AssignedOrgID)

	// Re-assigning releases the previous holder.
	updated, err = c.ManualAssign(ctx, inc.ID, "org-a", "div-a", "staff-a", authority)
	require.NoError(t, err)
	assert.Equal(t, "org-a", updated.AssignedOrgID)
	orgB, err := s.GetOrganization(ctx, "org-b")
	require.NoError(t, err)
	assert.Equal(t, 0, orgB.Load)
}

func TestSweepExpiredAutoRejects(t *testing.T) {
	c, s, now := newFixture(t)
	inc := createIncident(t, c)
	ctx := context.Background()

	_, _, err := c.SmartAssign(ctx, inc.ID, authority)
	require.NoError(t, err)

	// Before the deadline the sweep leaves the proposal alone.
	require.NoError(t, c.SweepExpired(ctx))
	mid, err := s.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, "org-a", mid.AssignedOrgID)

	*now = now.Add(11 * time.Minute)
	require.NoError(t, c.SweepExpired(ctx))

	after, err := s.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingAssignment, after.Status)
	assert.Equal(t, "org-b", after.AssignedOrgID, "timeout counts as a rejection of org-a")
}

func TestSweepSkipsAcceptedIncidents(t *testing.T) {
	c, s, now := newFixture(t)
	inc := createIncident(t, c)
	ctx := context.Background()

	_, _, err := c.SmartAssign(ctx, inc.ID, authority)
	require.NoError(t, err)
	_, err = c.Accept(ctx, inc.ID, orgAAdmin)
	require.NoError(t, err)

	*now = now.Add(11 * time.Minute)
	require.NoError(t, c.SweepExpired(ctx))

	after, err := s.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, after.Status)
	assert.Equal(t, "org-a", after.AssignedOrgID)
}

func TestManualAssignRejectsBusyStaff(t *testing.T) {
	c, s, _ := newFixture(t)
	first := createIncident(t, c)
	second := createIncident(t, c)
	ctx := context.Background()

	_, err := c.ManualAssign(ctx, first.ID, "org-a", "div-a", "staff-a", authority)
	require.NoError(t, err)
	_, err = c.Accept(ctx, first.ID, orgAAdmin)
	require.NoError(t, err)

	// The responder already holds an active incident.
	_, err = c.ManualAssign(ctx, second.ID, "org-a", "div-a", "staff-a", authority)
	require.Error(t, err)
	assert.Equal(t, 409, apperrors.HTTPStatusFor(err))

	// Completing the first frees them for the next assignment, and the
	// new assignment marks them busy again.
	_, err = c.Complete(ctx, first.ID, orgAAdmin)
	require.NoError(t, err)
	_, err = c.ManualAssign(ctx, second.ID, "org-a", "div-a", "staff-a", authority)
	require.NoError(t, err)

	members, err := s.ListStaff(ctx, "org-a")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, models.StaffBusy, members[0].Status)
}

func TestAcceptNoOpLeavesSingleAuditEntry(t *testing.T) {
	c, s, _ := newFixture(t)
	trail := store.NewAuditLogger(s)
	audit.SetLogger(trail)
	t.Cleanup(func() { audit.SetLogger(nil) })

	inc := createIncident(t, c)
	ctx := context.Background()
	_, _, err := c.SmartAssign(ctx, inc.ID, authority)
	require.NoError(t, err)

	_, err = c.Accept(ctx, inc.ID, orgAAdmin)
	require.NoError(t, err)
	_, err = c.Accept(ctx, inc.ID, orgAAdmin)
	require.NoError(t, err)

	events, err := trail.Query(audit.QueryFilter{EventType: "incident_accept"})
	require.NoError(t, err)
	assert.Len(t, events, 1, "the idempotent re-accept records nothing")
}
