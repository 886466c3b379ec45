package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	apperrors "github.com/aegishub/aegishub-go/internal/errors"
	"github.com/aegishub/aegishub-go/internal/models"
)

// Snapshot is a point-in-time view of the fleet, fed to the assignment
// engine as a pure value.
type Snapshot struct {
	Organizations []models.Organization
	Divisions     []models.Division
	Staff         []models.Staff
}

// UpsertOrganization inserts or replaces an organization.
func (s *Store) UpsertOrganization(ctx context.Context, org models.Organization) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		return UpsertOrganizationTx(tx, org)
	})
}

func UpsertOrganizationTx(tx *sql.Tx, org models.Organization) error {
	_, err := tx.Exec(`
		INSERT INTO organizations (id, name, type, categories, latitude, longitude, capacity, load, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			categories = excluded.categories,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			capacity = excluded.capacity,
			load = excluded.load,
			status = excluded.status`,
		org.ID, org.Name, org.Type, encodeStrings(org.Categories),
		org.Latitude, org.Longitude, org.Capacity, org.Load, org.Status)
	if err != nil {
		return fmt.Errorf("upsert organization %s: %w", org.ID, err)
	}
	return nil
}

// GetOrganization loads one organization.
func (s *Store) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, type, categories, latitude, longitude, capacity, load, status FROM organizations WHERE id = ?`, id)
	return scanOrganization(row, id)
}

// GetOrganizationTx loads one organization inside the caller's transaction.
func GetOrganizationTx(tx *sql.Tx, id string) (*models.Organization, error) {
	row := tx.QueryRow(
		`SELECT id, name, type, categories, latitude, longitude, capacity, load, status FROM organizations WHERE id = ?`, id)
	return scanOrganization(row, id)
}

func scanOrganization(row rowScanner, id string) (*models.Organization, error) {
	var (
		org        models.Organization
		categories string
	)
	err := row.Scan(&org.ID, &org.Name, &org.Type, &categories,
		&org.Latitude, &org.Longitude, &org.Capacity, &org.Load, &org.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("get_organization", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get organization %s: %w", id, err)
	}
	org.Categories = decodeStrings(categories)
	return &org, nil
}

// DeleteOrganization removes an organization and its divisions and staff.
func (s *Store) DeleteOrganization(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM organizations WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete organization %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperrors.NotFound("delete_organization", id)
		}
		return nil
	})
}

// UpsertDivision inserts or replaces a division.
func (s *Store) UpsertDivision(ctx context.Context, div models.Division) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO divisions (id, org_id, name, type, skills, capacity, load)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				org_id = excluded.org_id,
				name = excluded.name,
				type = excluded.type,
				skills = excluded.skills,
				capacity = excluded.capacity,
				load = excluded.load`,
			div.ID, div.OrgID, div.Name, div.Type, encodeStrings(div.Skills), div.Capacity, div.Load)
		if err != nil {
			return fmt.Errorf("upsert division %s: %w", div.ID, err)
		}
		return nil
	})
}

// DeleteDivision removes a division.
func (s *Store) DeleteDivision(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM divisions WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete division %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperrors.NotFound("delete_division", id)
		}
		return nil
	})
}

// UpsertStaff inserts or replaces a staff member.
func (s *Store) UpsertStaff(ctx context.Context, st models.Staff) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO staff (id, org_id, division_id, name, skills, status, latitude, longitude)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				org_id = excluded.org_id,
				division_id = excluded.division_id,
				name = excluded.name,
				skills = excluded.skills,
				status = excluded.status,
				latitude = excluded.latitude,
				longitude = excluded.longitude`,
			st.ID, st.OrgID, st.DivisionID, st.Name, encodeStrings(st.Skills), st.Status, st.Latitude, st.Longitude)
		if err != nil {
			return fmt.Errorf("upsert staff %s: %w", st.ID, err)
		}
		return nil
	})
}

// GetStaffTx loads one staff member inside the caller's transaction.
func GetStaffTx(tx *sql.Tx, id string) (*models.Staff, error) {
	var (
		st     models.Staff
		skills string
	)
	err := tx.QueryRow(
		`SELECT id, org_id, division_id, name, skills, status, latitude, longitude FROM staff WHERE id = ?`, id).
		Scan(&st.ID, &st.OrgID, &st.DivisionID, &st.Name, &skills, &st.Status, &st.Latitude, &st.Longitude)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("get_staff", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get staff %s: %w", id, err)
	}
	st.Skills = decodeStrings(skills)
	return &st, nil
}

// DeleteStaff removes a staff member.
func (s *Store) DeleteStaff(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM staff WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete staff %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperrors.NotFound("delete_staff", id)
		}
		return nil
	})
}

// UpsertFacility inserts or replaces a facility.
func (s *Store) UpsertFacility(ctx context.Context, f models.Facility) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO facilities (id, name, kind, latitude, longitude)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				kind = excluded.kind,
				latitude = excluded.latitude,
				longitude = excluded.longitude`,
			f.ID, f.Name, f.Kind, f.Latitude, f.Longitude)
		if err != nil {
			return fmt.Errorf("upsert facility %s: %w", f.ID, err)
		}
		return nil
	})
}

// DeleteFacility removes a facility.
func (s *Store) DeleteFacility(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM facilities WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete facility %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperrors.NotFound("delete_facility", id)
		}
		return nil
	})
}

// ListOrganizations returns every organization.
func (s *Store) ListOrganizations(ctx context.Context) (orgs []models.Organization, err error) {
	var rows *sql.Rows
	rows, err = s.db.QueryContext(ctx,
		`SELECT id, name, type, categories, latitude, longitude, capacity, load, status FROM organizations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer func() {
		err = errors.Join(err, rows.Close())
	}()

	for rows.Next() {
		var (
			org        models.Organization
			categories string
		)
		if scanErr := rows.Scan(&org.ID, &org.Name, &org.Type, &categories,
			&org.Latitude, &org.Longitude, &org.Capacity, &org.Load, &org.Status); scanErr != nil {
			return nil, fmt.Errorf("scan organization: %w", scanErr)
		}
		org.Categories = decodeStrings(categories)
		orgs = append(orgs, org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate organizations: %w", err)
	}
	return orgs, err
}

// ListDivisions returns every division, optionally scoped to one org.
func (s *Store) ListDivisions(ctx context.Context, orgID string) (divs []models.Division, err error) {
	var rows *sql.Rows
	if orgID == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, org_id, name, type, skills, capacity, load FROM divisions ORDER BY id`)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, org_id, name, type, skills, capacity, load FROM divisions WHERE org_id = ? ORDER BY id`, orgID)
	}
	if err != nil {
		return nil, fmt.Errorf("list divisions: %w", err)
	}
	defer func() {
		err = errors.Join(err, rows.Close())
	}()

	for rows.Next() {
		var (
			div    models.Division
			skills string
		)
		if scanErr := rows.Scan(&div.ID, &div.OrgID, &div.Name, &div.Type, &skills, &div.Capacity, &div.Load); scanErr != nil {
			return nil, fmt.Errorf("scan division: %w", scanErr)
		}
		div.Skills = decodeStrings(skills)
		divs = append(divs, div)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate divisions: %w", err)
	}
	return divs, err
}

// ListStaff returns every staff member, optionally scoped to one org.
func (s *Store) ListStaff(ctx context.Context, orgID string) (members []models.Staff, err error) {
	var rows *sql.Rows
	if orgID == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, org_id, division_id, name, skills, status, latitude, longitude FROM staff ORDER BY id`)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, org_id, division_id, name, skills, status, latitude, longitude FROM staff WHERE org_id = ? ORDER BY id`, orgID)
	}
	if err != nil {
		return nil, fmt.Errorf("list staff: %w", err)
	}
	defer func() {
		err = errors.Join(err, rows.Close())
	}()

	for rows.Next() {
		var (
			st     models.Staff
			skills string
		)
		if scanErr := rows.Scan(&st.ID, &st.OrgID, &st.DivisionID, &st.Name, &skills, &st.Status, &st.Latitude, &st.Longitude); scanErr != nil {
			return nil, fmt.Errorf("scan staff: %w", scanErr)
		}
		st.Skills = decodeStrings(skills)
		members = append(members, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate staff: %w", err)
	}
	return members, err
}

// ListFacilities returns every facility, optionally filtered by kind.
func (s *Store) ListFacilities(ctx context.Context, kind string) (facilities []models.Facility, err error) {
	var rows *sql.Rows
	if kind == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT id, name, kind, latitude, longitude FROM facilities ORDER BY id`)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT id, name, kind, latitude, longitude FROM facilities WHERE kind = ? ORDER BY id`, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("list facilities: %w", err)
	}
	defer func() {
		err = errors.Join(err, rows.Close())
	}()

	for rows.Next() {
		var f models.Facility
		if scanErr := rows.Scan(&f.ID, &f.Name, &f.Kind, &f.Latitude, &f.Longitude); scanErr != nil {
			return nil, fmt.Errorf("scan facility: %w", scanErr)
		}
		facilities = append(facilities, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate facilities: %w", err)
	}
	return facilities, err
}

// FleetSnapshotTx loads the whole fleet inside the caller's transaction.
// The coordinator ranks and mutates in one transaction, and with a single
// writer connection it must not touch the pool mid-transaction.
func FleetSnapshotTx(tx *sql.Tx) (snap *Snapshot, err error) {
	snap = &Snapshot{}

	var rows *sql.Rows
	rows, err = tx.Query(`SELECT id, name, type, categories, latitude, longitude, capacity, load, status FROM organizations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("snapshot organizations: %w", err)
	}
	for rows.Next() {
		var (
			org        models.Organization
			categories string
		)
		if scanErr := rows.Scan(&org.ID, &org.Name, &org.Type, &categories,
			&org.Latitude, &org.Longitude, &org.Capacity, &org.Load, &org.Status); scanErr != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan snapshot organization: %w", scanErr)
		}
		org.Categories = decodeStrings(categories)
		snap.Organizations = append(snap.Organizations, org)
	}
	if err = errors.Join(rows.Err(), rows.Close()); err != nil {
		return nil, fmt.Errorf("iterate snapshot organizations: %w", err)
	}

	rows, err = tx.Query(`SELECT id, org_id, name, type, skills, capacity, load FROM divisions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("snapshot divisions: %w", err)
	}
	for rows.Next() {
		var (
			div    models.Division
			skills string
		)
		if scanErr := rows.Scan(&div.ID, &div.OrgID, &div.Name, &div.Type, &skills, &div.Capacity, &div.Load); scanErr != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan snapshot division: %w", scanErr)
		}
		div.Skills = decodeStrings(skills)
		snap.Divisions = append(snap.Divisions, div)
	}
	if err = errors.Join(rows.Err(), rows.Close()); err != nil {
		return nil, fmt.Errorf("iterate snapshot divisions: %w", err)
	}

	rows, err = tx.Query(`SELECT id, org_id, division_id, name, skills, status, latitude, longitude FROM staff ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("snapshot staff: %w", err)
	}
	for rows.Next() {
		var (
			st     models.Staff
			skills string
		)
		if scanErr := rows.Scan(&st.ID, &st.OrgID, &st.DivisionID, &st.Name, &skills, &st.Status, &st.Latitude, &st.Longitude); scanErr != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan snapshot staff: %w", scanErr)
		}
		st.Skills = decodeStrings(skills)
		snap.Staff = append(snap.Staff, st)
	}
	if err = errors.Join(rows.Err(), rows.Close()); err != nil {
		return nil, fmt.Errorf("iterate snapshot staff: %w", err)
	}

	return snap, nil
}

// FleetSnapshot loads the whole fleet for the assignment engine.
func (s *Store) FleetSnapshot(ctx context.Context) (*Snapshot, error) {
	orgs, err := s.ListOrganizations(ctx)
	if err != nil {
		return nil, err
	}
	divs, err := s.ListDivisions(ctx, "")
	if err != nil {
		return nil, err
	}
	staff, err := s.ListStaff(ctx, "")
	if err != nil {
		return nil, err
	}
	return &Snapshot{Organizations: orgs, Divisions: divs, Staff: staff}, nil
}
