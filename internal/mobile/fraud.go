package mobile

import (
	"strings"
)

// Fraud heuristic weights. Each fires at most once per submission.
const (
	sameDeviceWeight = 0.35 // >= 3 submissions from one device in 10 min
	sameIPWeight     = 0.25 // >= 5 submissions from one IP in 10 min
	sameTextWeight   = 0.25 // >= 2 identical texts in 24 h
	lowInfoWeight    = 0.15

	heuristicShare = 0.65
	modelShare     = 0.35

	reviewThreshold = 0.7
)

// FraudSignals are the counters the heuristics consume.
type FraudSignals struct {
	SameDevice10m int
	SameIP10m     int
	SameText24h   int
}

// FraudScorer supplies the optional model-side signal in [0,1]. Tests and
// deployments without an LLM leave it nil.
type FraudScorer interface {
	Score(text string) float64
}

// fraudScore blends the heuristics with the model signal. The result
// stays in [0,1].
func fraudScore(signals FraudSignals, text string, modelSignal float64) float64 {
	heuristic := 0.0
	if signals.SameDevice10m >= 3 {
		heuristic += sameDeviceWeight
	}
	if signals.SameIP10m >= 5 {
		heuristic += sameIPWeight
	}
	if signals.SameText24h >= 2 {
		heuristic += sameTextWeight
	}
	if lowInformation(text) {
		heuristic += lowInfoWeight
	}
	if heuristic > 1 {
		heuristic = 1
	}

	if modelSignal < 0 {
		modelSignal = 0
	}
	if modelSignal > 1 {
		modelSignal = 1
	}

	score := heuristicShare*heuristic + modelShare*modelSignal
	if score > 1 {
		score = 1
	}
	return score
}

// lowInformation flags texts too thin to act on.
func lowInformation(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 20 {
		return true
	}
	return len(strings.Fields(trimmed)) < 4
}
