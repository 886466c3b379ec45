// Package seed loads a demo fleet for local development and evaluation.
package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/aegishub/aegishub-go/internal/models"
	"github.com/aegishub/aegishub-go/internal/store"
	"github.com/aegishub/aegishub-go/pkg/auth"
)

// Apply inserts the demo users, organizations, divisions, staff and
// facilities. Re-running is safe; every record upserts by ID.
func Apply(ctx context.Context, s *store.Store) error {
	if err := seedUsers(ctx, s); err != nil {
		return err
	}
	if err := seedFleet(ctx, s); err != nil {
		return err
	}
	return seedFacilities(ctx, s)
}

func seedUsers(ctx context.Context, s *store.Store) error {
	users := []struct {
		id, username, password string
		role                   models.Role
		orgID                  string
	}{
		{"user-authority", "authority", "authority@123", models.RoleAuthorityAdmin, ""},
		{"user-ndrf", "ndrf_admin", "ndrfadmin1", models.RoleOrgAdmin, "org-ndrf"},
		{"user-apollo", "apollo_admin", "apolloadmin1", models.RoleOrgAdmin, "org-apollo"},
		{"user-fire", "fire_admin", "fireadmin1", models.RoleOrgAdmin, "org-fire"},
		{"user-akshaya", "akshaya_admin", "akshayaadmin1", models.RoleOrgAdmin, "org-akshaya"},
		{"user-tsspdcl", "tsspdcl_admin", "tsspdcladmin1", models.RoleOrgAdmin, "org-tsspdcl"},
		{"user-citizen", "citizen", "citizen@123", models.RoleCitizen, ""},
	}

	now := time.Now().UTC()
	for _, u := range users {
		hash, err := auth.HashPassword(u.password)
		if err != nil {
			return fmt.Errorf("seed: hash password for %s: %w", u.username, err)
		}
		if err := s.UpsertUser(ctx, models.User{
			ID:           u.id,
			Username:     u.username,
			PasswordHash: hash,
			Role:         u.role,
			OrgID:        u.orgID,
			CreatedAt:    now,
		}); err != nil {
			return fmt.Errorf("seed: user %s: %w", u.username, err)
		}
	}
	return nil
}

func seedFleet(ctx context.Context, s *store.Store) error {
	orgs := []models.Organization{
		{ID: "org-ndrf", Name: "NDRF Telangana", Type: "rescue",
			Categories: []string{models.CategoryFloodRescue},
			Latitude:   17.385, Longitude: 78.4867, Capacity: 10, Status: models.OrgAvailable},
		{ID: "org-apollo", Name: "Apollo Emergency Network", Type: "medical",
			Categories: []string{models.CategoryMedical},
			Latitude:   17.4126, Longitude: 78.4482, Capacity: 15, Status: models.OrgAvailable},
		{ID: "org-fire", Name: "Telangana Fire Services", Type: "fire",
			Categories: []string{models.CategoryFire},
			Latitude:   17.3936, Longitude: 78.4867, Capacity: 8, Status: models.OrgAvailable},
		{ID: "org-akshaya", Name: "Akshaya Patra Relief", Type: "relief",
			Categories: []string{models.CategoryFoodShelter},
			Latitude:   17.4933, Longitude: 78.3915, Capacity: 20, Status: models.OrgAvailable},
		{ID: "org-tsspdcl", Name: "TSSPDCL Response Wing", Type: "infrastructure",
			Categories: []string{models.CategoryInfrastructure},
			Latitude:   17.4065, Longitude: 78.4772, Capacity: 12, Status: models.OrgAvailable},
	}

	divisions := []models.Division{
		{ID: "div-ndrf-flood", OrgID: "org-ndrf", Name: "Flood Rescue Unit", Type: "rescue",
			Skills: []string{"boat operations", "swimming", "first aid"}, Capacity: 5},
		{ID: "div-ndrf-search", OrgID: "org-ndrf", Name: "Search and Rescue", Type: "rescue",
			Skills: []string{"rope access", "first aid"}, Capacity: 5},
		{ID: "div-apollo-er", OrgID: "org-apollo", Name: "Emergency Response", Type: "medical",
			Skills: []string{"trauma care", "ambulance", "first aid"}, Capacity: 8},
		{ID: "div-apollo-icu", OrgID: "org-apollo", Name: "Mobile ICU", Type: "medical",
			Skills: []string{"critical care", "ambulance"}, Capacity: 4},
		{ID: "div-fire-station", OrgID: "org-fire", Name: "Station Response", Type: "fire",
			Skills: []string{"firefighting", "hazmat", "rescue"}, Capacity: 6},
		{ID: "div-akshaya-kitchen", OrgID: "org-akshaya", Name: "Community Kitchen", Type: "relief",
			Skills: []string{"food distribution", "logistics"}, Capacity: 10},
		{ID: "div-akshaya-shelter", OrgID: "org-akshaya", Name: "Shelter Operations", Type: "relief",
			Skills: []string{"shelter management", "logistics"}, Capacity: 8},
		{ID: "div-tsspdcl-lines", OrgID: "org-tsspdcl", Name: "Line Restoration", Type: "infrastructure",
			Skills: []string{"electrical", "heavy equipment"}, Capacity: 6},
	}

	staff := []models.Staff{
		{ID: "staff-ravi", OrgID: "org-ndrf", DivisionID: "div-ndrf-flood", Name: "Ravi Kumar",
			Skills: []string{"boat operations", "swimming"}, Status: models.StaffAvailable,
			Latitude: 17.39, Longitude: 78.49},
		{ID: "staff-lakshmi", OrgID: "org-ndrf", DivisionID: "div-ndrf-search", Name: "Lakshmi Devi",
			Skills: []string{"rope access", "first aid"}, Status: models.StaffAvailable,
			Latitude: 17.38, Longitude: 78.48},
		{ID: "staff-arjun", OrgID: "org-apollo", DivisionID: "div-apollo-er", Name: "Arjun Reddy",
			Skills: []string{"trauma care", "ambulance"}, Status: models.StaffAvailable,
			Latitude: 17.41, Longitude: 78.45},
		{ID: "staff-priya", OrgID: "org-apollo", DivisionID: "div-apollo-icu", Name: "Priya Sharma",
			Skills: []string{"critical care"}, Status: models.StaffAvailable,
			Latitude: 17.42, Longitude: 78.44},
		{ID: "staff-suresh", OrgID: "org-fire", DivisionID: "div-fire-station", Name: "Suresh Babu",
			Skills: []string{"firefighting", "hazmat"}, Status: models.StaffAvailable,
			Latitude: 17.39, Longitude: 78.49},
		{ID: "staff-anita", OrgID: "org-akshaya", DivisionID: "div-akshaya-kitchen", Name: "Anita Rao",
			Skills: []string{"food distribution"}, Status: models.StaffAvailable,
			Latitude: 17.49, Longitude: 78.39},
		{ID: "staff-venkat", OrgID: "org-tsspdcl", DivisionID: "div-tsspdcl-lines", Name: "Venkat Rao",
			Skills: []string{"electrical"}, Status: models.StaffAvailable,
			Latitude: 17.41, Longitude: 78.48},
	}

	for _, org := range orgs {
		if err := s.UpsertOrganization(ctx, org); err != nil {
			return fmt.Errorf("seed: organization %s: %w", org.ID, err)
		}
	}
	for _, div := range divisions {
		if err := s.UpsertDivision(ctx, div); err != nil {
			return fmt.Errorf("seed: division %s: %w", div.ID, err)
		}
	}
	for _, st := range staff {
		if err := s.UpsertStaff(ctx, st); err != nil {
			return fmt.Errorf("seed: staff %s: %w", st.ID, err)
		}
	}
	return nil
}

func seedFacilities(ctx context.Context, s *store.Store) error {
	facilities := []models.Facility{
		{ID: "fac-osmania", Name: "Osmania General Hospital", Kind: "hospital", Latitude: 17.3724, Longitude: 78.4700},
		{ID: "fac-gandhi", Name: "Gandhi Hospital", Kind: "hospital", Latitude: 17.4427, Longitude: 78.5013},
		{ID: "fac-nims", Name: "NIMS Punjagutta", Kind: "hospital", Latitude: 17.4239, Longitude: 78.4483},
		{ID: "fac-lb-shelter", Name: "LB Stadium Relief Shelter", Kind: "shelter", Latitude: 17.3989, Longitude: 78.4747},
		{ID: "fac-warangal-shelter", Name: "Warangal Community Shelter", Kind: "shelter", Latitude: 17.9689, Longitude: 79.5941},
		{ID: "fac-abids-ps", Name: "Abids Police Station", Kind: "police", Latitude: 17.3908, Longitude: 78.4750},
		{ID: "fac-cyberabad-ps", Name: "Cyberabad Police Commissionerate", Kind: "police", Latitude: 17.4474, Longitude: 78.3762},
	}
	for _, f := range facilities {
		if err := s.UpsertFacility(ctx, f); err != nil {
			return fmt.Errorf("seed: facility %s: %w", f.ID, err)
		}
	}
	return nil
}
