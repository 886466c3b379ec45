// Package lifecycle owns the incident state machine. Every transition
// runs in one store transaction with the workload ledger updated in
// lock-step, so counters and statuses cannot diverge.
package lifecycle

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/aegishub/aegishub-go/internal/assignment"
	apperrors "github.com/aegishub/aegishub-go/internal/errors"
	"github.com/aegishub/aegishub-go/internal/auth"
	"github.com/aegishub/aegishub-go/internal/logging"
	"github.com/aegishub/aegishub-go/internal/metrics"
	"github.com/aegishub/aegishub-go/internal/models"
	"github.com/aegishub/aegishub-go/internal/store"
	"github.com/aegishub/aegishub-go/internal/workload"
	"github.com/aegishub/aegishub-go/pkg/audit"
)

// rejectionCooldown keeps an org out of re-ranking after it declines.
const rejectionCooldown = 15 * time.Minute

// Coordinator applies lifecycle transitions.
type Coordinator struct {
	store  *store.Store
	window time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

// NewCoordinator builds the coordinator. window is the acceptance
// deadline granted to a proposed org.
func NewCoordinator(s *store.Store, window time.Duration) *Coordinator {
	return &Coordinator{
		store:  s,
		window: window,
		logger: logging.Component("lifecycle"),
		now:    time.Now,
	}
}

// Create registers a new incident in Pending with its triage attached.
func (c *Coordinator) Create(ctx context.Context, reporterID, description string, lat, lon float64, tri models.Triage) (*models.Incident, error) {
	if description == "" {
		return nil, apperrors.Validation("create_incident", "", fmt.Errorf("description is required"))
	}

	now := c.now().UTC()
	inc := &models.Incident{
		ID:          ulid.Make().String(),
		ReporterID:  reporterID,
		Description: description,
		Latitude:    lat,
		Longitude:   lon,
		Status:      models.StatusPending,
		Triage:      tri,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.store.InsertIncident(ctx, inc); err != nil {
		return nil, err
	}

	metrics.TransitionsTotal.WithLabelValues(string(models.StatusPending)).Inc()
	c.logger.Info().Str("incident", inc.ID).Str("category", tri.Category).
		Int("priority", tri.Priority).Msg("Incident created")
	return inc, nil
}

// SmartAssign ranks the fleet and proposes the best candidate, moving the
// incident to Pending Assignment with an acceptance deadline.
func (c *Coordinator) SmartAssign(ctx context.Context, incidentID string, p *auth.Principal) (*models.Incident, *assignment.Recommendation, error) {
	if p == nil || (!p.IsAuthority() && p.Role != models.RoleOrgAdmin) {
		return nil, nil, apperrors.Forbidden("smart_assign", incidentID, nil)
	}

	var (
		result *models.Incident
		rec    assignment.Recommendation
	)
	err := c.store.WithTx(ctx, func(tx *sql.Tx) error {
		inc, err := store.GetIncidentTx(tx, incidentID)
		if err != nil {
			return err
		}
		if inc.Status != models.StatusPending {
			return apperrors.Transition("smart_assign", incidentID,
				fmt.Errorf("cannot propose assignment from %q", inc.Status))
		}

		snapshot, err := store.FleetSnapshotTx(tx)
		if err != nil {
			return err
		}
		excluded, err := store.RecentRejectionsTx(tx, incidentID, c.now().Add(-rejectionCooldown))
		if err != nil {
			return err
		}

		rec = assignment.Rank(snapshot, assignment.Request{
			Latitude:       inc.Latitude,
			Longitude:      inc.Longitude,
			Category:       inc.Triage.Category,
			Priority:       inc.Triage.Priority,
			RequiredSkills: inc.Triage.RequiredSkills,
			ExcludedOrgs:   excluded,
		})
		best := rec.Best()
		if best == nil {
			return apperrors.Conflict("smart_assign", incidentID, fmt.Errorf("no qualifying organization"))
		}

		if err := c.proposeTx(tx, inc, best, rec.Overflow); err != nil {
			return err
		}
		result = inc
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	audit.Log("incident_smart_assign", p.Username, "", "", true,
		fmt.Sprintf("incident=%s org=%s overflow=%t", incidentID, result.AssignedOrgID, result.Overflow))
	return result, &rec, nil
}

// ManualAssign lets the authority hand an incident to a specific org,
// bypassing scoring but not the ledger.
func (c *Coordinator) ManualAssign(ctx context.Context, incidentID, orgID, divisionID, staffID string, p *auth.Principal) (*models.Incident, error) {
	if p == nil || !p.IsAuthority() {
		return nil, apperrors.Forbidden("manual_assign", incidentID, nil)
	}

	var result *models.Incident
	err := c.store.WithTx(ctx, func(tx *sql.Tx) error {
		inc, err := store.GetIncidentTx(tx, incidentID)
		if err != nil {
			return err
		}
		if inc.Status != models.StatusPending && inc.Status != models.StatusPendingAssignment {
			return apperrors.Transition("manual_assign", incidentID,
				fmt.Errorf("cannot assign from %q", inc.Status))
		}
		org, err := store.GetOrganizationTx(tx, orgID)
		if err != nil {
			return err
		}
		if org.Status == models.OrgInactive {
			return apperrors.Conflict("manual_assign", incidentID, fmt.Errorf("organization %s is inactive", orgID))
		}

		// Re-assignment releases the previous holder first.
		if inc.Status == models.StatusPendingAssignment && inc.AssignedOrgID != "" {
			if err := workload.Release(tx, inc.ID, inc.AssignedOrgID, inc.AssignedDivisionID, inc.AssignedStaffID); err != nil {
				return err
			}
		}

		// A responder can only hold one active incident at a time.
		if staffID != "" && staffID != inc.AssignedStaffID {
			st, err := store.GetStaffTx(tx, staffID)
			if err != nil {
				return err
			}
			if st.Status != models.StaffAvailable {
				return apperrors.Conflict("manual_assign", incidentID,
					fmt.Errorf("staff %s is %s", staffID, st.Status))
			}
		}

		deadline := c.now().UTC().Add(c.window)
		inc.Status = models.StatusPendingAssignment
		inc.AssignedOrgID = orgID
		inc.AssignedDivisionID = divisionID
		inc.AssignedStaffID = staffID
		inc.AcceptDeadline = &deadline
		inc.Overflow = false

		if err := workload.Acquire(tx, orgID, divisionID, staffID); err != nil {
			return err
		}
		if err := store.UpdateIncidentTx(tx, inc); err != nil {
			return err
		}
		result = inc
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.TransitionsTotal.WithLabelValues(string(models.StatusPendingAssignment)).Inc()
	audit.Log("incident_manual_assign", p.Username, "", "", true,
		fmt.Sprintf("incident=%s org=%s", incidentID, orgID))
	return result, nil
}

// Accept confirms a proposed assignment. Re-accepting an incident the
// same org already holds in progress is a no-op success and leaves no
// second audit trail entry.
func (c *Coordinator) Accept(ctx context.Context, incidentID string, p *auth.Principal) (*models.Incident, error) {
	var (
		result  *models.Incident
		already bool
	)
	err := c.store.WithTx(ctx, func(tx *sql.Tx) error {
		inc, err := store.GetIncidentTx(tx, incidentID)
		if err != nil {
			return err
		}
		if err := gateOrgAction(p, inc, "accept_assignment"); err != nil {
			return err
		}

		// Idempotent accept.
		if inc.Status == models.StatusInProgress {
			result = inc
			already = true
			return nil
		}
		if inc.Status != models.StatusPendingAssignment {
			return apperrors.Transition("accept_assignment", incidentID,
				fmt.Errorf("cannot accept from %q", inc.Status))
		}

		inc.Status = models.StatusInProgress
		inc.AcceptDeadline = nil
		if err := store.UpdateIncidentTx(tx, inc); err != nil {
			return err
		}
		metrics.TransitionsTotal.WithLabelValues(string(models.StatusInProgress)).Inc()
		result = inc
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !already {
		audit.Log("incident_accept", p.Username, "", "", true, "incident="+incidentID)
	}
	return result, nil
}

// Reject declines a proposed assignment, releases the ledger and
// immediately re-ranks with the rejecting org excluded.
func (c *Coordinator) Reject(ctx context.Context, incidentID, reason string, p *auth.Principal) (*models.Incident, error) {
	var result *models.Incident
	err := c.store.WithTx(ctx, func(tx *sql.Tx) error {
		inc, err := store.GetIncidentTx(tx, incidentID)
		if err != nil {
			return err
		}
		if err := gateOrgAction(p, inc, "reject_assignment"); err != nil {
			return err
		}
		if inc.Status != models.StatusPendingAssignment {
			return apperrors.Transition("reject_assignment", incidentID,
				fmt.Errorf("cannot reject from %q", inc.Status))
		}

		updated, err := c.rejectAndRerankTx(tx, inc, reason)
		if err != nil {
			return err
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	audit.Log("incident_reject", p.Username, "", "", true,
		fmt.Sprintf("incident=%s reason=%s", incidentID, reason))
	return result, nil
}

// rejectAndRerankTx is shared by explicit rejection and deadline expiry.
func (c *Coordinator) rejectAndRerankTx(tx *sql.Tx, inc *models.Incident, reason string) (*models.Incident, error) {
	now := c.now().UTC()
	rejectedOrg := inc.AssignedOrgID

	if err := workload.Release(tx, inc.ID, inc.AssignedOrgID, inc.AssignedDivisionID, inc.AssignedStaffID); err != nil {
		return nil, err
	}
	if rejectedOrg != "" {
		if err := store.RecordRejectionTx(tx, models.Rejection{
			IncidentID: inc.ID,
			OrgID:      rejectedOrg,
			Reason:     reason,
			RejectedAt: now,
		}); err != nil {
			return nil, err
		}
	}

	inc.AssignedOrgID = ""
	inc.AssignedDivisionID = ""
	inc.AssignedStaffID = ""
	inc.AcceptDeadline = nil
	inc.Overflow = false

	snapshot, err := store.FleetSnapshotTx(tx)
	if err != nil {
		return nil, err
	}
	excluded, err := store.RecentRejectionsTx(tx, inc.ID, now.Add(-rejectionCooldown))
	if err != nil {
		return nil, err
	}

	rec := assignment.Rank(snapshot, assignment.Request{
		Latitude:       inc.Latitude,
		Longitude:      inc.Longitude,
		Category:       inc.Triage.Category,
		Priority:       inc.Triage.Priority,
		RequiredSkills: inc.Triage.RequiredSkills,
		ExcludedOrgs:   excluded,
	})

	if best := rec.Best(); best != nil {
		if err := c.proposeTx(tx, inc, best, rec.Overflow); err != nil {
			return nil, err
		}
		c.logger.Info().Str("incident", inc.ID).Str("from", rejectedOrg).
			Str("to", inc.AssignedOrgID).Msg("Incident re-proposed after rejection")
		return inc, nil
	}

	// Nobody left to ask: back to the pending pool.
	inc.Status = models.StatusPending
	if err := store.UpdateIncidentTx(tx, inc); err != nil {
		return nil, err
	}
	metrics.TransitionsTotal.WithLabelValues(string(models.StatusPending)).Inc()
	c.logger.Warn().Str("incident", inc.ID).Msg("No candidates after rejection, incident back to pending")
	return inc, nil
}

// proposeTx applies a ranked candidate to the incident and the ledger.
func (c *Coordinator) proposeTx(tx *sql.Tx, inc *models.Incident, best *assignment.Candidate, overflow bool) error {
	deadline := c.now().UTC().Add(c.window)

	inc.Status = models.StatusPendingAssignment
	inc.AssignedOrgID = best.Org.ID
	if best.Division != nil {
		inc.AssignedDivisionID = best.Division.ID
	} else {
		inc.AssignedDivisionID = ""
	}
	if best.Staff != nil {
		inc.AssignedStaffID = best.Staff.ID
	} else {
		inc.AssignedStaffID = ""
	}
	inc.AcceptDeadline = &deadline
	inc.Overflow = overflow

	if err := workload.Acquire(tx, inc.AssignedOrgID, inc.AssignedDivisionID, inc.AssignedStaffID); err != nil {
		return err
	}
	if err := store.UpdateIncidentTx(tx, inc); err != nil {
		return err
	}
	metrics.TransitionsTotal.WithLabelValues(string(models.StatusPendingAssignment)).Inc()
	return nil
}

// Complete closes out an in-progress incident.
func (c *Coordinator) Complete(ctx context.Context, incidentID string, p *auth.Principal) (*models.Incident, error) {
	var result *models.Incident
	err := c.store.WithTx(ctx, func(tx *sql.Tx) error {
		inc, err := store.GetIncidentTx(tx, incidentID)
		if err != nil {
			return err
		}
		if err := gateOrgAction(p, inc, "complete_incident"); err != nil {
			return err
		}
		if inc.Status != models.StatusInProgress {
			return apperrors.Transition("complete_incident", incidentID,
				fmt.Errorf("cannot complete from %q", inc.Status))
		}

		if err := workload.Release(tx, inc.ID, inc.AssignedOrgID, inc.AssignedDivisionID, inc.AssignedStaffID); err != nil {
			return err
		}
		inc.Status = models.StatusDone
		if err := store.UpdateIncidentTx(tx, inc); err != nil {
			return err
		}
		metrics.TransitionsTotal.WithLabelValues(string(models.StatusDone)).Inc()
		result = inc
		return nil
	})
	if err != nil {
		return nil, err
	}

	audit.Log("incident_complete", p.Username, "", "", true, "incident="+incidentID)
	return result, nil
}

// Cancel withdraws an incident that has not started. Only the reporter or
// the authority may cancel.
func (c *Coordinator) Cancel(ctx context.Context, incidentID string, p *auth.Principal) (*models.Incident, error) {
	var result *models.Incident
	err := c.store.WithTx(ctx, func(tx *sql.Tx) error {
		inc, err := store.GetIncidentTx(tx, incidentID)
		if err != nil {
			return err
		}
		if p == nil || (!p.IsAuthority() && p.UserID != inc.ReporterID) {
			return apperrors.Forbidden("cancel_incident", incidentID, nil)
		}
		if inc.Status != models.StatusPending && inc.Status != models.StatusPendingAssignment {
			return apperrors.Transition("cancel_incident", incidentID,
				fmt.Errorf("cannot cancel from %q", inc.Status))
		}

		if inc.AssignedOrgID != "" {
			if err := workload.Release(tx, inc.ID, inc.AssignedOrgID, inc.AssignedDivisionID, inc.AssignedStaffID); err != nil {
				return err
			}
			inc.AssignedOrgID = ""
			inc.AssignedDivisionID = ""
			inc.AssignedStaffID = ""
		}
		inc.Status = models.StatusCancelled
		inc.AcceptDeadline = nil
		if err := store.UpdateIncidentTx(tx, inc); err != nil {
			return err
		}
		metrics.TransitionsTotal.WithLabelValues(string(models.StatusCancelled)).Inc()
		result = inc
		return nil
	})
	if err != nil {
		return nil, err
	}

	user := ""
	if p != nil {
		user = p.Username
	}
	audit.Log("incident_cancel", user, "", "", true, "incident="+incidentID)
	return result, nil
}

// gateOrgAction allows the assigned org's admin or the authority.
func gateOrgAction(p *auth.Principal, inc *models.Incident, op string) error {
	if p == nil {
		return apperrors.Forbidden(op, inc.ID, nil)
	}
	if p.IsAuthority() {
		return nil
	}
	if p.AdminsOrg(inc.AssignedOrgID) {
		return nil
	}
	return apperrors.Forbidden(op, inc.ID, fmt.Errorf("role %q cannot act on this incident", p.Role))
}
