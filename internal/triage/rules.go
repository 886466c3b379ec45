// Package triage classifies incoming reports into category, priority and
// routing hints. The deterministic rules always run; a Gemini overlay can
// refine the result but never replaces the fallback.
package triage

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/aegishub/aegishub-go/internal/models"
)

// categoryRule is one keyword bucket. Buckets are checked in order and the
// first hit wins.
type categoryRule struct {
	Category     string
	BasePriority int
	Keywords     []string
	Skills       []string
}

var categoryRules = []categoryRule{
	{
		Category:     models.CategoryFloodRescue,
		BasePriority: 4,
		Keywords:     []string{"flood", "water", "inundation", "submerged", "boat", "drowning"},
		Skills:       []string{"rescue", "boat", "swimming", "evacuation"},
	},
	{
		Category:     models.CategoryMedical,
		BasePriority: 4,
		Keywords:     []string{"injur", "medical", "ambulance", "bleeding", "unconscious", "fracture", "pregnan"},
		Skills:       []string{"first aid", "medical", "ambulance"},
	},
	{
		Category:     models.CategoryFire,
		BasePriority: 5,
		Keywords:     []string{"fire", "smoke", "burn", "gas leak", "explosion"},
		Skills:       []string{"firefighting", "rescue", "hazmat"},
	},
	{
		Category:     models.CategoryFoodShelter,
		BasePriority: 3,
		Keywords:     []string{"food", "hunger", "shelter", "homeless", "relief camp"},
		Skills:       []string{"logistics", "distribution", "shelter management"},
	},
	{
		Category:     models.CategoryInfrastructure,
		BasePriority: 2,
		Keywords:     []string{"power", "electric", "pole", "transformer", "road block", "bridge"},
		Skills:       []string{"electrical", "repair", "heavy equipment"},
	},
}

// urgentPhrases each add one priority bump; the total phrase bump caps at 2.
var urgentPhrases = []string{
	"life threatening", "critical", "urgent", "trapped",
	"children", "elderly", "disabled", "pregnant",
}

var peoplePattern = regexp.MustCompile(`\b(\d{1,5})\b`)

// ClassifyRules runs the deterministic classifier over a report text.
func ClassifyRules(text string) models.Triage {
	lowered := strings.ToLower(text)

	rule := matchCategory(lowered)
	matches := countMatches(lowered, rule)

	people := extractPeopleCount(lowered)
	priority := rule.BasePriority + headcountBump(people) + phraseBump(lowered)
	priority = models.Clamp(priority, 1, 5)

	confidence := 0.55 + 0.08*float64(matches)
	if confidence > 0.95 {
		confidence = 0.95
	}

	return models.Triage{
		Category:       rule.Category,
		Priority:       priority,
		Urgency:        models.UrgencyFor(priority),
		PeopleCount:    people,
		RequiredSkills: append([]string(nil), rule.Skills...),
		Division:       inferDivision(lowered, rule.Category),
		Confidence:     confidence,
		Source:         "rules",
	}
}

func matchCategory(lowered string) categoryRule {
	for _, rule := range categoryRules {
		for _, kw := range rule.Keywords {
			if strings.Contains(lowered, kw) {
				return rule
			}
		}
	}
	// No signal: treat as a medical report at moderate priority.
	return categoryRule{
		Category:     models.CategoryMedical,
		BasePriority: 3,
		Skills:       []string{"first aid", "medical"},
	}
}

func countMatches(lowered string, rule categoryRule) int {
	matches := 0
	for _, kw := range rule.Keywords {
		if strings.Contains(lowered, kw) {
			matches++
		}
	}
	for _, phrase := range urgentPhrases {
		if strings.Contains(lowered, phrase) {
			matches++
		}
	}
	return matches
}

// extractPeopleCount pulls the first plausible headcount from the text.
// Values outside 1..10000 are noise (years, phone fragments) and ignored.
func extractPeopleCount(lowered string) int {
	for _, m := range peoplePattern.FindAllString(lowered, -1) {
		n, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		if n >= 1 && n <= 10000 {
			return n
		}
	}
	return 0
}

func headcountBump(people int) int {
	switch {
	case people >= 30:
		return 3
	case people >= 10:
		return 2
	case people >= 3:
		return 1
	default:
		return 0
	}
}

func phraseBump(lowered string) int {
	bump := 0
	for _, phrase := range urgentPhrases {
		if strings.Contains(lowered, phrase) {
			bump++
		}
	}
	if bump > 2 {
		bump = 2
	}
	return bump
}

// inferDivision picks the functional division a report should route to.
func inferDivision(lowered, category string) string {
	switch {
	case containsAny(lowered, "injur", "medical", "ambulance", "doctor", "hospital"):
		return "Medical"
	case containsAny(lowered, "supply", "supplies", "food", "ration", "logistics"):
		return "Logistics"
	case containsAny(lowered, "network", "signal", "communication", "phone line"):
		return "Communication"
	}
	switch category {
	case models.CategoryMedical:
		return "Medical"
	case models.CategoryFoodShelter:
		return "Logistics"
	default:
		return "Rescue"
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
