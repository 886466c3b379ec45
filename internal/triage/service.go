package triage

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aegishub/aegishub-go/internal/logging"
	"github.com/aegishub/aegishub-go/internal/metrics"
	"github.com/aegishub/aegishub-go/internal/models"
)

// Classifier is the LLM overlay contract. Tests substitute a fake.
type Classifier interface {
	Classify(ctx context.Context, text string) (*models.Triage, Outcome, error)
}

// Service merges the deterministic rules with an optional LLM overlay.
type Service struct {
	llm    Classifier
	logger zerolog.Logger
}

// NewService builds the triage service. llm may be nil, in which case
// only the rules run.
func NewService(llm Classifier) *Service {
	return &Service{
		llm:    llm,
		logger: logging.Component("triage"),
	}
}

// Classify produces the triage for a report. The rules result always
// exists; a valid LLM answer can only raise priority and confidence, and
// may refine category, skills and division.
func (s *Service) Classify(ctx context.Context, text string) models.Triage {
	base := ClassifyRules(text)

	if s.llm == nil {
		metrics.TriageTotal.WithLabelValues(base.Source).Inc()
		return base
	}

	overlay, outcome, err := s.llm.Classify(ctx, text)
	switch outcome {
	case OutcomeOK:
		merged := mergeTriage(base, *overlay)
		metrics.TriageTotal.WithLabelValues(merged.Source).Inc()
		return merged
	case OutcomeInvalidSchema:
		s.logger.Warn().Err(err).Msg("LLM triage returned invalid payload, using rules result")
		metrics.TriageFallbackTotal.WithLabelValues("invalid_schema").Inc()
	default:
		s.logger.Debug().Err(err).Msg("LLM triage unavailable, using rules result")
		metrics.TriageFallbackTotal.WithLabelValues("unavailable").Inc()
	}

	metrics.TriageTotal.WithLabelValues(base.Source).Inc()
	return base
}

// mergeTriage overlays the model's view on the rules baseline. Priority
// and confidence never decrease below the rules floor.
func mergeTriage(base, overlay models.Triage) models.Triage {
	merged := overlay
	if merged.Priority < base.Priority {
		merged.Priority = base.Priority
	}
	merged.Urgency = models.UrgencyFor(merged.Priority)
	if merged.Confidence < base.Confidence {
		merged.Confidence = base.Confidence
	}
	if merged.PeopleCount == 0 {
		merged.PeopleCount = base.PeopleCount
	}
	if len(merged.RequiredSkills) == 0 {
		merged.RequiredSkills = base.RequiredSkills
	}
	if merged.Division == "" {
		merged.Division = base.Division
	}
	merged.Source = "gemini"
	return merged
}
