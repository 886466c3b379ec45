package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aegishub/aegishub-go/internal/errors"
	"github.com/aegishub/aegishub-go/internal/models"
	"github.com/aegishub/aegishub-go/pkg/audit"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleIncident(id string) *models.Incident {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &models.Incident{
		ID:          id,
		ReporterID:  "user-1",
		Description: "flood water rising near the bridge",
		Latitude:    17.39,
		Longitude:   78.49,
		Status:      models.StatusPending,
		Triage: models.Triage{
			Category:       models.CategoryFloodRescue,
			Priority:       4,
			Urgency:        models.UrgencyHigh,
			RequiredSkills: []string{"rescue", "boat"},
			Division:       "Rescue",
			Confidence:     0.71,
			Source:         "rules",
		},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestIncidentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inc := sampleIncident("inc-1")
	require.NoError(t, s.InsertIncident(ctx, inc))

	got, err := s.GetIncident(ctx, "inc-1")
	require.NoError(t, err)
	assert.Equal(t, inc.Description, got.Description)
	assert.Equal(t, inc.Triage, got.Triage)
	assert.Equal(t, int64(1), got.Version)
	assert.Nil(t, got.AcceptDeadline)

	_, err = s.GetIncident(ctx, "missing")
	require.Error(t, err)
	assert.Equal(t, 404, apperrors.HTTPStatusFor(err))
}

func TestUpdateIncidentOptimisticConcurrency(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertIncident(ctx, sampleIncident("inc-1")))

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		inc, err := GetIncidentTx(tx, "inc-1")
		if err != nil {
			return err
		}
		inc.Status = models.StatusCancelled
		return UpdateIncidentTx(tx, inc)
	})
	require.NoError(t, err)

	got, err := s.GetIncident(ctx, "inc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Equal(t, int64(2), got.Version)

	// A write against a stale version loses.
	stale := sampleIncident("inc-1") // still carries version 1
	stale.Status = models.StatusDone
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		return UpdateIncidentTx(tx, stale)
	})
	require.Error(t, err)
	assert.Equal(t, 409, apperrors.HTTPStatusFor(err))
}

func TestRecentRejections(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertIncident(ctx, sampleIncident("inc-1")))

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if err := RecordRejectionTx(tx, models.Rejection{
			IncidentID: "inc-1", OrgID: "org-old", Reason: "no crew",
			RejectedAt: now.Add(-20 * time.Minute),
		}); err != nil {
			return err
		}
		return RecordRejectionTx(tx, models.Rejection{
			IncidentID: "inc-1", OrgID: "org-recent", Reason: "no crew",
			RejectedAt: now.Add(-5 * time.Minute),
		})
	})
	require.NoError(t, err)

	var excluded map[string]bool
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		excluded, err = RecentRejectionsTx(tx, "inc-1", now.Add(-15*time.Minute))
		return err
	})
	require.NoError(t, err)
	assert.True(t, excluded["org-recent"])
	assert.False(t, excluded["org-old"], "rejections older than the cooldown do not exclude")
}

func TestCountIncidentsByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := sampleIncident("inc-a")
	b := sampleIncident("inc-b")
	b.Status = models.StatusDone
	c := sampleIncident("inc-c")
	require.NoError(t, s.InsertIncident(ctx, a))
	require.NoError(t, s.InsertIncident(ctx, b))
	require.NoError(t, s.InsertIncident(ctx, c))

	counts, err := s.CountIncidentsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[models.StatusPending])
	assert.Equal(t, 1, counts[models.StatusDone])
}

func sampleTicket(id, key string, at time.Time) *models.Ticket {
	return &models.Ticket{
		ID:            id,
		SubmissionKey: key,
		Channel:       "text",
		Text:          "flood water rising near the bridge",
		DeviceID:      "device-1",
		ClientIP:      "10.0.0.1",
		Latitude:      17.39,
		Longitude:     78.49,
		Triage:        models.Triage{Category: models.CategoryFloodRescue, Priority: 4, Source: "rules"},
		WeatherScore:  0.5,
		WeatherStatus: "skipped",
		PriorityScore: 55,
		Lane:          2,
		CreatedAt:     at,
	}
}

func TestTicketSubmissionKeyIsUnique(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return InsertTicketTx(tx, sampleTicket("t-1", "key-1", now))
	})
	require.NoError(t, err)

	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		return InsertTicketTx(tx, sampleTicket("t-2", "key-1", now))
	})
	require.Error(t, err)
	assert.Equal(t, 409, apperrors.HTTPStatusFor(err))

	var original *models.Ticket
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		original, err = GetTicketBySubmissionKeyTx(tx, "key-1")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "t-1", original.ID)
}

func TestNearbyTicketCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if err := InsertTicketTx(tx, sampleTicket("t-close", "k1", now)); err != nil {
			return err
		}
		far := sampleTicket("t-far", "k2", now)
		far.Latitude = 18.5 // well outside any plausible radius
		if err := InsertTicketTx(tx, far); err != nil {
			return err
		}
		old := sampleTicket("t-old", "k3", now.Add(-2*time.Hour))
		return InsertTicketTx(tx, old)
	})
	require.NoError(t, err)

	var n int
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		n, err = NearbyTicketCountTx(tx, 17.39, 78.49, 500, now.Add(-30*time.Minute))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the recent nearby ticket counts")
}

func TestSubmissionCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		for i, id := range []string{"s-1", "s-2", "s-3"} {
			ticket := sampleTicket(id, "sk-"+id, now.Add(-time.Duration(i)*time.Minute))
			if err := InsertTicketTx(tx, ticket); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	var device, ip, sameText int
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		device, ip, sameText, err = SubmissionCountsTx(tx, "device-1", "10.0.0.1", "flood water rising near the bridge", now)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 3, device)
	assert.Equal(t, 3, ip)
	assert.Equal(t, 3, sameText)
}

func TestUserRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := models.User{
		ID: "u-1", Username: "authority", PasswordHash: "hash",
		Role: models.RoleAuthorityAdmin, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.UpsertUser(ctx, u))

	got, err := s.GetUserByUsername(ctx, "authority")
	require.NoError(t, err)
	assert.Equal(t, "u-1", got.ID)
	assert.Equal(t, models.RoleAuthorityAdmin, got.Role)

	_, err = s.GetUserByUsername(ctx, "ghost")
	require.Error(t, err)
}

func TestFleetSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertOrganization(ctx, models.Organization{
		ID: "org-1", Name: "Org", Type: "rescue",
		Categories: []string{models.CategoryFloodRescue},
		Capacity:   5, Status: models.OrgAvailable,
	}))
	require.NoError(t, s.UpsertDivision(ctx, models.Division{
		ID: "div-1", OrgID: "org-1", Name: "Flood Rescue Unit", Type: "rescue",
		Skills: []string{"boat"}, Capacity: 3,
	}))
	require.NoError(t, s.UpsertStaff(ctx, models.Staff{
		ID: "staff-1", OrgID: "org-1", DivisionID: "div-1", Name: "A",
		Skills: []string{"boat"}, Status: models.StaffAvailable,
	}))

	snap, err := s.FleetSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Organizations, 1)
	require.Len(t, snap.Divisions, 1)
	require.Len(t, snap.Staff, 1)
	assert.Equal(t, []string{models.CategoryFloodRescue}, snap.Organizations[0].Categories)
	assert.Equal(t, []string{"boat"}, snap.Divisions[0].Skills)
}

func TestAuditLoggerPersistsAndQueries(t *testing.T) {
	s := newTestStore(t)
	logger := NewAuditLogger(s)

	require.NoError(t, logger.Log(audit.Event{
		ID:        "ev-1",
		Timestamp: time.Now().UTC(),
		EventType: "incident_accept",
		User:      "a_admin",
		Success:   true,
		Details:   "incident=inc-1",
	}))
	require.NoError(t, logger.Log(audit.Event{
		ID:        "ev-2",
		Timestamp: time.Now().UTC(),
		EventType: "incident_reject",
		User:      "b_admin",
		Success:   true,
	}))

	events, err := logger.Query(audit.QueryFilter{EventType: "incident_accept"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "a_admin", events[0].User)
}
