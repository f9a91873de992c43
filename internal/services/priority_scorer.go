package services

import (
	"github.com/pratik-mahalle/threatwatch/internal/config"
	"github.com/pratik-mahalle/threatwatch/internal/domain/indicator"
)

// maxCorroboration caps the multiplier earned by additional sources
const maxCorroboration = 2.0

// PriorityScorer maps a correlated indicator to a priority rank, 1 (urgent) to
// 4 (low). It is a pure function of the indicator and its configuration.
type PriorityScorer struct {
	thresholds config.ScoreThresholds
	step       float64
	weights    map[string]float64
}

// NewPriorityScorer creates a scorer from the intel configuration
func NewPriorityScorer(cfg config.IntelConfig) *PriorityScorer {
	weights := make(map[string]float64, len(cfg.CategoryWeights))
	for k, v := range cfg.CategoryWeights {
		weights[k] = v
	}
	return &PriorityScorer{
		thresholds: cfg.Thresholds,
		step:       cfg.CorroborationStep,
		weights:    weights,
	}
}

// Value returns the raw score: malicious magnitude, scaled by corroboration and
// category weight. Benign and neutral indicators score 0.
func (p *PriorityScorer) Value(ind *indicator.Indicator) float64 {
	magnitude := float64(max(0, -ind.Reputation))
	if magnitude == 0 {
		return 0
	}

	sources := max(1, len(ind.Sources))
	corroboration := min(maxCorroboration, 1+p.step*float64(sources-1))

	weight, ok := p.weights[ind.Category]
	if !ok || weight <= 0 {
		weight = 1
	}
	return magnitude * corroboration * weight
}

// Score returns the priority rank of ind
func (p *PriorityScorer) Score(ind *indicator.Indicator) int {
	return p.Rank(p.Value(ind))
}

// Rank maps a raw score onto the configured thresholds
func (p *PriorityScorer) Rank(value float64) int {
	switch {
	case value >= p.thresholds.Critical:
		return 1
	case value >= p.thresholds.High:
		return 2
	case value >= p.thresholds.Medium:
		return 3
	default:
		return 4
	}
}
