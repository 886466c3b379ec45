package triage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegishub/aegishub-go/internal/models"
)

func TestClassifyRulesCategories(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		category string
		priority int
		urgency  string
		people   int
	}{
		{
			name:     "flood with headcount and trapped phrase",
			text:     "Flood in Warangal, 12 people trapped on rooftop",
			category: models.CategoryFloodRescue,
			priority: 5, // base 4 + headcount 2 + phrase 1, clamped
			urgency:  models.UrgencyCritical,
			people:   12,
		},
		{
			name:     "plain infrastructure outage",
			text:     "transformer down, power outage in colony",
			category: models.CategoryInfrastructure,
			priority: 2,
			urgency:  models.UrgencyLow,
		},
		{
			name:     "fire base priority is already critical",
			text:     "fire at warehouse",
			category: models.CategoryFire,
			priority: 5,
			urgency:  models.UrgencyCritical,
		},
		{
			name:     "food request",
			text:     "we need food for the relief camp",
			category: models.CategoryFoodShelter,
			priority: 3,
			urgency:  models.UrgencyMedium,
		},
		{
			name:     "no keywords falls back to medical at moderate priority",
			text:     "please send someone quickly",
			category: models.CategoryMedical,
			priority: 3,
			urgency:  models.UrgencyMedium,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tri := ClassifyRules(tt.text)
			assert.Equal(t, tt.category, tri.Category)
			assert.Equal(t, tt.priority, tri.Priority)
			assert.Equal(t, tt.urgency, tri.Urgency)
			assert.Equal(t, tt.people, tri.PeopleCount)
			assert.Equal(t, "rules", tri.Source)
		})
	}
}

func TestClassifyRulesPhraseBumpCaps(t *testing.T) {
	// Four urgent phrases, but the phrase bump caps at +2.
	tri := ClassifyRules("urgent critical situation, trapped children")
	assert.Equal(t, models.CategoryMedical, tri.Category) // fallback bucket
	assert.Equal(t, 5, tri.Priority)                      // base 3 + capped 2
}

func TestClassifyRulesConfidence(t *testing.T) {
	// "power" and "transformer" match the bucket, nothing else.
	tri := ClassifyRules("power gone near the transformer")
	assert.InDelta(t, 0.71, tri.Confidence, 1e-9)

	// No matches at all leaves the floor.
	tri = ClassifyRules("please help")
	assert.InDelta(t, 0.55, tri.Confidence, 1e-9)
}

func TestClassifyRulesConfidenceCap(t *testing.T) {
	tri := ClassifyRules("flood water submerged boat drowning inundation urgent critical trapped")
	assert.InDelta(t, 0.95, tri.Confidence, 1e-9)
}

func TestExtractPeopleCount(t *testing.T) {
	assert.Equal(t, 45, extractPeopleCount("45 people stranded"))
	assert.Equal(t, 0, extractPeopleCount("no numbers here"))
	// Six digits cannot be a headcount.
	assert.Equal(t, 0, extractPeopleCount("call 994512 for help"))
}

func TestInferDivision(t *testing.T) {
	assert.Equal(t, "Medical", ClassifyRules("injured person needs ambulance").Division)
	assert.Equal(t, "Logistics", ClassifyRules("food supplies needed").Division)
	assert.Equal(t, "Communication", ClassifyRules("phone line and network down near the transformer").Division)
	assert.Equal(t, "Rescue", ClassifyRules("flood in kukatpally").Division)
}

type fakeClassifier struct {
	triage  *models.Triage
	outcome Outcome
	err     error
}

func (f *fakeClassifier) Classify(context.Context, string) (*models.Triage, Outcome, error) {
	return f.triage, f.outcome, f.err
}

func TestServiceMergesOverlay(t *testing.T) {
	overlay := &models.Triage{
		Category:   models.CategoryFloodRescue,
		Priority:   2, // below the rules floor, must not lower the result
		Confidence: 0.4,
	}
	svc := NewService(&fakeClassifier{triage: overlay, outcome: OutcomeOK})

	tri := svc.Classify(context.Background(), "flood, 12 people trapped")
	require.Equal(t, "gemini", tri.Source)
	assert.Equal(t, models.CategoryFloodRescue, tri.Category)
	assert.Equal(t, 5, tri.Priority, "overlay may never lower priority")
	assert.GreaterOrEqual(t, tri.Confidence, 0.55)
	assert.Equal(t, 12, tri.PeopleCount, "people count backfills from rules")
	assert.NotEmpty(t, tri.RequiredSkills)
	assert.NotEmpty(t, tri.Division)
}

func TestServiceFallsBackWhenUnavailable(t *testing.T) {
	svc := NewService(&fakeClassifier{outcome: OutcomeUnavailable})

	tri := svc.Classify(context.Background(), "fire at the market")
	assert.Equal(t, "rules", tri.Source)
	assert.Equal(t, models.CategoryFire, tri.Category)
}

func TestServiceFallsBackOnInvalidSchema(t *testing.T) {
	svc := NewService(&fakeClassifier{outcome: OutcomeInvalidSchema})

	tri := svc.Classify(context.Background(), "fire at the market")
	assert.Equal(t, "rules", tri.Source)
}

func TestServiceWithoutOverlay(t *testing.T) {
	svc := NewService(nil)
	tri := svc.Classify(context.Background(), "ambulance needed, bleeding")
	assert.Equal(t, "rules", tri.Source)
	assert.Equal(t, models.CategoryMedical, tri.Category)
}
