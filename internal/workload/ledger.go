// Package workload keeps org, division and staff load counters in
// lock-step with incident lifecycle transitions. Every mutation runs in
// the caller's transaction so counters can never drift from the
// transition that caused them.
package workload

import (
	"database/sql"
	"fmt"

	"github.com/aegishub/aegishub-go/internal/models"
	"github.com/aegishub/aegishub-go/internal/store"
)

// Acquire bumps the load on the assigned org/division and marks the
// staff member busy.
func Acquire(tx *sql.Tx, orgID, divisionID, staffID string) error {
	if orgID != "" {
		if _, err := tx.Exec(`UPDATE organizations SET load = load + 1 WHERE id = ?`, orgID); err != nil {
			return fmt.Errorf("acquire org %s: %w", orgID, err)
		}
		if err := normalizeOrgStatus(tx, orgID); err != nil {
			return err
		}
	}
	if divisionID != "" {
		if _, err := tx.Exec(`UPDATE divisions SET load = load + 1 WHERE id = ?`, divisionID); err != nil {
			return fmt.Errorf("acquire division %s: %w", divisionID, err)
		}
	}
	if staffID != "" {
		if _, err := tx.Exec(`UPDATE staff SET status = ? WHERE id = ?`, models.StaffBusy, staffID); err != nil {
			return fmt.Errorf("acquire staff %s: %w", staffID, err)
		}
	}
	return nil
}

// Release undoes an Acquire for one incident. Loads never go below zero.
// Staff only return to Available when the released incident was their
// last active assignment, counted in the same transaction.
func Release(tx *sql.Tx, incidentID, orgID, divisionID, staffID string) error {
	if orgID != "" {
		if _, err := tx.Exec(`UPDATE organizations SET load = MAX(load - 1, 0) WHERE id = ?`, orgID); err != nil {
			return fmt.Errorf("release org %s: %w", orgID, err)
		}
		if err := normalizeOrgStatus(tx, orgID); err != nil {
			return err
		}
	}
	if divisionID != "" {
		if _, err := tx.Exec(`UPDATE divisions SET load = MAX(load - 1, 0) WHERE id = ?`, divisionID); err != nil {
			return fmt.Errorf("release division %s: %w", divisionID, err)
		}
	}
	if staffID != "" {
		var active int
		err := tx.QueryRow(`
			SELECT COUNT(*) FROM incidents
			WHERE assigned_staff_id = ? AND id != ? AND status IN (?, ?)`,
			staffID, incidentID, models.StatusPendingAssignment, models.StatusInProgress).Scan(&active)
		if err != nil {
			return fmt.Errorf("release staff %s: count active: %w", staffID, err)
		}
		if active == 0 {
			if _, err := tx.Exec(`UPDATE staff SET status = ? WHERE id = ? AND status = ?`,
				models.StaffAvailable, staffID, models.StaffBusy); err != nil {
				return fmt.Errorf("release staff %s: %w", staffID, err)
			}
		}
	}
	return nil
}

// normalizeOrgStatus reapplies the status rules after a load change:
// Overloaded iff load >= capacity > 0, Available iff load == 0, else
// Active. Inactive orgs are administratively parked and never touched.
func normalizeOrgStatus(tx *sql.Tx, orgID string) error {
	_, err := tx.Exec(`
		UPDATE organizations SET status = CASE
			WHEN capacity > 0 AND load >= capacity THEN ?
			WHEN load = 0 THEN ?
			ELSE ?
		END
		WHERE id = ? AND status != ?`,
		models.OrgOverloaded, models.OrgAvailable, models.OrgActive, orgID, models.OrgInactive)
	if err != nil {
		return fmt.Errorf("normalize org status %s: %w", orgID, err)
	}
	return nil
}

// Rebalance moves one unit of load between orgs atomically, used when an
// incident is re-proposed to a different org after a rejection.
func Rebalance(tx *sql.Tx, incidentID, fromOrg, fromDivision, fromStaff, toOrg, toDivision, toStaff string) error {
	if err := Release(tx, incidentID, fromOrg, fromDivision, fromStaff); err != nil {
		return err
	}
	return Acquire(tx, toOrg, toDivision, toStaff)
}

// Reconcile recomputes org and division loads from live incident rows and
// corrects drift. Returns the entities whose counters were wrong.
func Reconcile(tx *sql.Tx) (orgs, divisions map[string]int, err error) {
	orgActual, err := store.ActiveAssignmentLoadTx(tx)
	if err != nil {
		return nil, nil, err
	}
	orgs, err = reconcileTable(tx, "organizations", orgActual, normalizeOrgStatus)
	if err != nil {
		return nil, nil, err
	}

	divActual, err := store.ActiveDivisionLoadTx(tx)
	if err != nil {
		return nil, nil, err
	}
	divisions, err = reconcileTable(tx, "divisions", divActual, nil)
	if err != nil {
		return nil, nil, err
	}
	return orgs, divisions, nil
}

// reconcileTable rewrites load counters that disagree with the live
// incident counts, running normalize (when given) after each correction.
func reconcileTable(tx *sql.Tx, table string, actual map[string]int, normalize func(*sql.Tx, string) error) (map[string]int, error) {
	rows, err := tx.Query(`SELECT id, load FROM ` + table)
	if err != nil {
		return nil, fmt.Errorf("reconcile: list %s loads: %w", table, err)
	}
	recorded := make(map[string]int)
	for rows.Next() {
		var (
			id   string
			load int
		)
		if err := rows.Scan(&id, &load); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("reconcile: scan %s load: %w", table, err)
		}
		recorded[id] = load
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("reconcile: iterate %s loads: %w", table, err)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("reconcile: close %s loads: %w", table, err)
	}

	corrected := make(map[string]int)
	for id, load := range recorded {
		want := actual[id]
		if load == want {
			continue
		}
		if _, err := tx.Exec(`UPDATE `+table+` SET load = ? WHERE id = ?`, want, id); err != nil {
			return nil, fmt.Errorf("reconcile %s %s: %w", table, id, err)
		}
		if normalize != nil {
			if err := normalize(tx, id); err != nil {
				return nil, err
			}
		}
		corrected[id] = want
	}
	return corrected, nil
}
