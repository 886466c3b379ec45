// Package assignment ranks organizations, divisions and staff for an
// incident. Rank is a pure function over a fleet snapshot so results are
// reproducible and trivially testable.
package assignment

import (
	"sort"
	"strings"

	"github.com/aegishub/aegishub-go/internal/geo"
	"github.com/aegishub/aegishub-go/internal/models"
	"github.com/aegishub/aegishub-go/internal/store"
)

// Composite weights.
const (
	orgWeight      = 0.5
	divisionWeight = 0.3
	staffWeight    = 0.2
)

// unknownStaffDistance stands in for responders with no reported
// location, keeping them behind any located peer in tie-breaks.
const unknownStaffDistance = 1e6

// Request describes the incident being placed.
type Request struct {
	Latitude       float64
	Longitude      float64
	Category       string
	Priority       int
	RequiredSkills []string
	// ExcludedOrgs holds orgs inside their rejection cooldown.
	ExcludedOrgs map[string]bool
}

// Candidate is one scored org with its best division and staff pick.
type Candidate struct {
	Org           models.Organization `json:"org"`
	Division      *models.Division    `json:"division,omitempty"`
	Staff         *models.Staff       `json:"staff,omitempty"`
	OrgScore      float64             `json:"org_score"`
	DivisionScore float64             `json:"division_score"`
	StaffScore    float64             `json:"staff_score"`
	Composite     float64             `json:"composite"`
	DistanceKm    float64             `json:"distance_km"`
}

// Recommendation is the ranked outcome.
type Recommendation struct {
	Candidates []Candidate `json:"candidates"`
	// Overflow is set when a priority-5 incident only placed because the
	// headroom disqualifier was relaxed.
	Overflow bool `json:"overflow"`
}

// Best returns the top candidate, or nil when nothing qualified.
func (r *Recommendation) Best() *Candidate {
	if len(r.Candidates) == 0 {
		return nil
	}
	return &r.Candidates[0]
}

// Rank scores the fleet for the request. Inactive orgs never qualify;
// fully loaded orgs are skipped unless the priority-5 overflow pass
// kicks in.
func Rank(snapshot *store.Snapshot, req Request) Recommendation {
	candidates := rank(snapshot, req, false)
	if len(candidates) == 0 && req.Priority >= 5 {
		// Escalation: a life-threatening incident beats headroom limits.
		candidates = rank(snapshot, req, true)
		if len(candidates) > 0 {
			return Recommendation{Candidates: candidates, Overflow: true}
		}
	}
	return Recommendation{Candidates: candidates}
}

func rank(snapshot *store.Snapshot, req Request, relaxHeadroom bool) []Candidate {
	divisionsByOrg := make(map[string][]models.Division)
	for _, div := range snapshot.Divisions {
		divisionsByOrg[div.OrgID] = append(divisionsByOrg[div.OrgID], div)
	}
	staffByOrg := make(map[string][]models.Staff)
	for _, st := range snapshot.Staff {
		staffByOrg[st.OrgID] = append(staffByOrg[st.OrgID], st)
	}

	var candidates []Candidate
	for _, org := range snapshot.Organizations {
		if org.Status == models.OrgInactive {
			continue
		}
		if req.ExcludedOrgs[org.ID] {
			continue
		}
		if !relaxHeadroom && org.Capacity > 0 && org.Load >= org.Capacity {
			continue
		}

		distance := geo.HaversineKm(req.Latitude, req.Longitude, org.Latitude, org.Longitude)
		orgScore := scoreOrg(org, req, distance)

		division, divisionScore := bestDivision(divisionsByOrg[org.ID], req)
		staff, staffScore := bestStaff(staffByOrg[org.ID], req)

		candidates = append(candidates, Candidate{
			Org:           org,
			Division:      division,
			Staff:         staff,
			OrgScore:      orgScore,
			DivisionScore: divisionScore,
			StaffScore:    staffScore,
			Composite:     orgWeight*orgScore + divisionWeight*divisionScore + staffWeight*staffScore,
			DistanceKm:    distance,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Composite != b.Composite {
			return a.Composite > b.Composite
		}
		// Tie-breaks: headroom, then distance, then ID.
		ha, hb := headroom(a.Org), headroom(b.Org)
		if ha != hb {
			return ha > hb
		}
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		return a.Org.ID < b.Org.ID
	})
	return candidates
}

func scoreOrg(org models.Organization, req Request, distanceKm float64) float64 {
	score := 0.0

	distanceFit := 1 - distanceKm/100
	if distanceFit < 0 {
		distanceFit = 0
	}
	score += 30 * distanceFit

	if typeMatchesCategory(org.Type, req.Category) {
		score += 20
	}
	for _, cat := range org.Categories {
		if strings.EqualFold(cat, req.Category) {
			score += 20
			break
		}
	}

	score += 30 * headroom(org)
	return score
}

func headroom(org models.Organization) float64 {
	if org.Capacity <= 0 {
		return 0
	}
	h := 1 - float64(org.Load)/float64(org.Capacity)
	if h < 0 {
		return 0
	}
	return h
}

// typeMatchesCategory maps org types to the categories they serve.
func typeMatchesCategory(orgType, category string) bool {
	switch strings.ToLower(orgType) {
	case "rescue":
		return category == models.CategoryFloodRescue
	case "medical":
		return category == models.CategoryMedical
	case "fire":
		return category == models.CategoryFire
	case "relief":
		return category == models.CategoryFoodShelter
	case "infrastructure":
		return category == models.CategoryInfrastructure
	default:
		return false
	}
}

func bestDivision(divisions []models.Division, req Request) (*models.Division, float64) {
	var (
		best      *models.Division
		bestScore float64
	)
	for i := range divisions {
		div := &divisions[i]
		score := 0.0
		if divisionMatches(div, req.Category) {
			score += 50
		}
		if div.Capacity > 0 {
			h := 1 - float64(div.Load)/float64(div.Capacity)
			if h > 0 {
				score += 30 * h
			}
		}
		score += 20 * skillOverlap(div.Skills, req.RequiredSkills)

		if best == nil || score > bestScore || (score == bestScore && div.ID < best.ID) {
			best = div
			bestScore = score
		}
	}
	if best == nil {
		return nil, 0
	}
	return best, bestScore
}

func divisionMatches(div *models.Division, category string) bool {
	c := strings.ToLower(category)
	words := strings.Fields(c)
	if len(words) == 0 {
		return false
	}
	if t := strings.ToLower(div.Type); t != "" && strings.Contains(c, t) {
		return true
	}
	return strings.Contains(strings.ToLower(div.Name), words[0])
}

func bestStaff(staff []models.Staff, req Request) (*models.Staff, float64) {
	var (
		best      *models.Staff
		bestScore float64
		bestDist  float64
	)
	for i := range staff {
		st := &staff[i]
		// Busy and off-duty responders are never proposed.
		if st.Status != models.StaffAvailable {
			continue
		}

		distance := geo.HaversineKm(req.Latitude, req.Longitude, st.Latitude, st.Longitude)
		score := 40.0
		if st.Latitude == 0 && st.Longitude == 0 {
			// Whereabouts unreported: half availability credit, no
			// proximity points.
			score = 20
			distance = unknownStaffDistance
		}
		score += 40 * skillOverlap(st.Skills, req.RequiredSkills)
		proximity := 1 - distance/100
		if proximity > 0 {
			score += 20 * proximity
		}

		better := best == nil || score > bestScore ||
			(score == bestScore && distance < bestDist) ||
			(score == bestScore && distance == bestDist && st.ID < best.ID)
		if better {
			best = st
			bestScore = score
			bestDist = distance
		}
	}
	if best == nil {
		return nil, 0
	}
	return best, bestScore
}

// skillOverlap returns |required ∩ offered| / |required|, 0 when nothing
// is required.
func skillOverlap(offered, required []string) float64 {
	if len(required) == 0 {
		return 0
	}
	offeredSet := make(map[string]bool, len(offered))
	for _, s := range offered {
		offeredSet[strings.ToLower(strings.TrimSpace(s))] = true
	}
	matched := 0
	for _, s := range required {
		if offeredSet[strings.ToLower(strings.TrimSpace(s))] {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}
