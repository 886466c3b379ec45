package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/aegishub/aegishub-go/internal/errors"
	"github.com/aegishub/aegishub-go/internal/models"
)

const incidentColumns = `id, reporter_id, description, latitude, longitude, status,
	category, priority, urgency, people_count, required_skills, division, confidence, triage_source,
	assigned_org_id, assigned_division_id, assigned_staff_id, accept_deadline, overflow,
	version, created_at, updated_at`

func encodeStrings(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

func decodeStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil
	}
	return values
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*models.Incident, error) {
	var (
		inc       models.Incident
		skills    string
		deadline  sql.NullInt64
		overflow  int
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(
		&inc.ID, &inc.ReporterID, &inc.Description, &inc.Latitude, &inc.Longitude, &inc.Status,
		&inc.Triage.Category, &inc.Triage.Priority, &inc.Triage.Urgency, &inc.Triage.PeopleCount,
		&skills, &inc.Triage.Division, &inc.Triage.Confidence, &inc.Triage.Source,
		&inc.AssignedOrgID, &inc.AssignedDivisionID, &inc.AssignedStaffID, &deadline, &overflow,
		&inc.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	inc.Triage.RequiredSkills = decodeStrings(skills)
	if deadline.Valid {
		t := time.Unix(deadline.Int64, 0).UTC()
		inc.AcceptDeadline = &t
	}
	inc.Overflow = overflow != 0
	inc.CreatedAt = time.Unix(createdAt, 0).UTC()
	inc.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &inc, nil
}

// InsertIncident persists a freshly triaged incident.
func (s *Store) InsertIncident(ctx context.Context, inc *models.Incident) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		return InsertIncidentTx(tx, inc)
	})
}

// InsertIncidentTx persists an incident inside the caller's transaction.
func InsertIncidentTx(tx *sql.Tx, inc *models.Incident) error {
	_, err := tx.Exec(`
		INSERT INTO incidents (id, reporter_id, description, latitude, longitude, status,
			category, priority, urgency, people_count, required_skills, division, confidence, triage_source,
			assigned_org_id, assigned_division_id, assigned_staff_id, accept_deadline, overflow,
			version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.ID, inc.ReporterID, inc.Description, inc.Latitude, inc.Longitude, inc.Status,
		inc.Triage.Category, inc.Triage.Priority, inc.Triage.Urgency, inc.Triage.PeopleCount,
		encodeStrings(inc.Triage.RequiredSkills), inc.Triage.Division, inc.Triage.Confidence, inc.Triage.Source,
		inc.AssignedOrgID, inc.AssignedDivisionID, inc.AssignedStaffID, nullableUnix(inc.AcceptDeadline), boolInt(inc.Overflow),
		inc.Version, inc.CreatedAt.Unix(), inc.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert incident %s: %w", inc.ID, err)
	}
	return nil
}

// GetIncident loads one incident by ID.
func (s *Store) GetIncident(ctx context.Context, id string) (*models.Incident, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = ?`, id)
	inc, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("get_incident", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get incident %s: %w", id, err)
	}
	return inc, nil
}

// GetIncidentTx loads one incident inside the caller's transaction.
func GetIncidentTx(tx *sql.Tx, id string) (*models.Incident, error) {
	row := tx.QueryRow(`SELECT `+incidentColumns+` FROM incidents WHERE id = ?`, id)
	inc, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("get_incident", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get incident %s: %w", id, err)
	}
	return inc, nil
}

// UpdateIncidentTx writes back an incident with an optimistic version
// check; a stale version yields a conflict error.
func UpdateIncidentTx(tx *sql.Tx, inc *models.Incident) error {
	res, err := tx.Exec(`
		UPDATE incidents SET
			status = ?, category = ?, priority = ?, urgency = ?, people_count = ?,
			required_skills = ?, division = ?, confidence = ?, triage_source = ?,
			assigned_org_id = ?, assigned_division_id = ?, assigned_staff_id = ?,
			accept_deadline = ?, overflow = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		inc.Status, inc.Triage.Category, inc.Triage.Priority, inc.Triage.Urgency, inc.Triage.PeopleCount,
		encodeStrings(inc.Triage.RequiredSkills), inc.Triage.Division, inc.Triage.Confidence, inc.Triage.Source,
		inc.AssignedOrgID, inc.AssignedDivisionID, inc.AssignedStaffID,
		nullableUnix(inc.AcceptDeadline), boolInt(inc.Overflow), time.Now().Unix(),
		inc.ID, inc.Version,
	)
	if err != nil {
		return fmt.Errorf("update incident %s: %w", inc.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update incident %s: rows affected: %w", inc.ID, err)
	}
	if affected == 0 {
		return apperrors.Conflict("update_incident", inc.ID, fmt.Errorf("version %d is stale", inc.Version))
	}
	inc.Version++
	return nil
}

// ListIncidents returns incidents, optionally filtered by status, newest first.
func (s *Store) ListIncidents(ctx context.Context, status models.IncidentStatus, limit int) (incidents []*models.Incident, err error) {
	if limit <= 0 {
		limit = 200
	}
	var rows *sql.Rows
	if status == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+incidentColumns+` FROM incidents ORDER BY created_at DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+incidentColumns+` FROM incidents WHERE status = ? ORDER BY created_at DESC LIMIT ?`, status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer func() {
		err = errors.Join(err, rows.Close())
	}()

	for rows.Next() {
		inc, scanErr := scanIncident(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan incident: %w", scanErr)
		}
		incidents = append(incidents, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	return incidents, err
}

// ExpiredAssignments returns incidents whose acceptance window lapsed
// before the cutoff.
func (s *Store) ExpiredAssignments(ctx context.Context, cutoff time.Time) (incidents []*models.Incident, err error) {
	var rows *sql.Rows
	rows, err = s.db.QueryContext(ctx, `
		SELECT `+incidentColumns+` FROM incidents
		WHERE status = ? AND accept_deadline IS NOT NULL AND accept_deadline <= ?`,
		models.StatusPendingAssignment, cutoff.Unix())
	if err != nil {
		return nil, fmt.Errorf("list expired assignments: %w", err)
	}
	defer func() {
		err = errors.Join(err, rows.Close())
	}()

	for rows.Next() {
		inc, scanErr := scanIncident(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan expired assignment: %w", scanErr)
		}
		incidents = append(incidents, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired assignments: %w", err)
	}
	return incidents, err
}

// RecordRejectionTx stores a rejection for the cooldown window.
func RecordRejectionTx(tx *sql.Tx, rej models.Rejection) error {
	_, err := tx.Exec(`INSERT INTO rejections (incident_id, org_id, reason, rejected_at) VALUES (?, ?, ?, ?)`,
		rej.IncidentID, rej.OrgID, rej.Reason, rej.RejectedAt.Unix())
	if err != nil {
		return fmt.Errorf("record rejection for %s: %w", rej.IncidentID, err)
	}
	return nil
}

// RecentRejectionsTx returns org IDs that rejected the incident since the cutoff.
func RecentRejectionsTx(tx *sql.Tx, incidentID string, since time.Time) (excluded map[string]bool, err error) {
	var rows *sql.Rows
	rows, err = tx.Query(`SELECT DISTINCT org_id FROM rejections WHERE incident_id = ? AND rejected_at >= ?`,
		incidentID, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("query rejections for %s: %w", incidentID, err)
	}
	defer func() {
		err = errors.Join(err, rows.Close())
	}()

	excluded = make(map[string]bool)
	for rows.Next() {
		var orgID string
		if scanErr := rows.Scan(&orgID); scanErr != nil {
			return nil, fmt.Errorf("scan rejection: %w", scanErr)
		}
		excluded[orgID] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rejections: %w", err)
	}
	return excluded, err
}

// CountIncidentsByStatus aggregates the lifecycle summary.
func (s *Store) CountIncidentsByStatus(ctx context.Context) (counts map[models.IncidentStatus]int, err error) {
	var rows *sql.Rows
	rows, err = s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM incidents GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count incidents: %w", err)
	}
	defer func() {
		err = errors.Join(err, rows.Close())
	}()

	counts = make(map[models.IncidentStatus]int)
	for rows.Next() {
		var (
			status models.IncidentStatus
			n      int
		)
		if scanErr := rows.Scan(&status, &n); scanErr != nil {
			return nil, fmt.Errorf("scan incident count: %w", scanErr)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incident counts: %w", err)
	}
	return counts, err
}

// ActiveAssignmentLoadTx recomputes per-org live load from incident rows.
// Used by the reconciliation job to correct ledger drift.
func ActiveAssignmentLoadTx(tx *sql.Tx) (loads map[string]int, err error) {
	var rows *sql.Rows
	rows, err = tx.Query(`
		SELECT assigned_org_id, COUNT(*) FROM incidents
		WHERE status IN (?, ?) AND assigned_org_id != ''
		GROUP BY assigned_org_id`,
		models.StatusPendingAssignment, models.StatusInProgress)
	if err != nil {
		return nil, fmt.Errorf("query active assignment load: %w", err)
	}
	defer func() {
		err = errors.Join(err, rows.Close())
	}()

	loads = make(map[string]int)
	for rows.Next() {
		var (
			orgID string
			n     int
		)
		if scanErr := rows.Scan(&orgID, &n); scanErr != nil {
			return nil, fmt.Errorf("scan assignment load: %w", scanErr)
		}
		loads[orgID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignment load: %w", err)
	}
	return loads, err
}

// ActiveDivisionLoadTx mirrors ActiveAssignmentLoadTx at division level.
func ActiveDivisionLoadTx(tx *sql.Tx) (loads map[string]int, err error) {
	var rows *sql.Rows
	rows, err = tx.Query(`
		SELECT assigned_division_id, COUNT(*) FROM incidents
		WHERE status IN (?, ?) AND assigned_division_id != ''
		GROUP BY assigned_division_id`,
		models.StatusPendingAssignment, models.StatusInProgress)
	if err != nil {
		return nil, fmt.Errorf("query active division load: %w", err)
	}
	defer func() {
		err = errors.Join(err, rows.Close())
	}()

	loads = make(map[string]int)
	for rows.Next() {
		var (
			divisionID string
			n          int
		)
		if scanErr := rows.Scan(&divisionID, &n); scanErr != nil {
			return nil, fmt.Errorf("scan division load: %w", scanErr)
		}
		loads[divisionID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate division load: %w", err)
	}
	return loads, err
}

func nullableUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
