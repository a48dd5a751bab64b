package analytics

import (
	"math"

	"StreamSentinel/internal/domain/models"
)

// EnsembleConfig parameterizes score aggregation. Weights are configuration,
// not learned state; when nil, every contributing method gets equal weight.
// AllowSingleTrigger is the soft-OR policy: when set, any single method whose
// own flag fired marks the point anomalous even if the weighted average stays
// below the decision threshold.
type EnsembleConfig struct {
	Weights            map[string]float64
	DecisionThreshold  float64 // default 0.5
	AllowSingleTrigger bool
}

// DefaultEnsembleConfig returns uniform weights with the soft-OR policy on,
// matching the behavior the detectors were calibrated against.
func DefaultEnsembleConfig() EnsembleConfig {
	return EnsembleConfig{DecisionThreshold: 0.5, AllowSingleTrigger: true}
}

// Aggregator combines per-method scores into one calibrated decision. It is
// deterministic and side-effect-free given its inputs.
type Aggregator struct {
	cfg EnsembleConfig
}

// NewAggregator validates the configuration and builds the aggregator.
// Explicit weights must be non-negative and sum to 1.
func NewAggregator(cfg EnsembleConfig) (*Aggregator, error) {
	if cfg.DecisionThreshold <= 0 || cfg.DecisionThreshold > 1 {
		return nil, &ConfigError{Field: "decision_threshold", Reason: "must be in (0,1]"}
	}
	if cfg.Weights != nil {
		var sum float64
		for name, w := range cfg.Weights {
			if w < 0 {
				return nil, &ConfigError{Field: "weights." + name, Reason: "must be non-negative"}
			}
			sum += w
		}
		if math.Abs(sum-1) > 1e-9 {
			return nil, &ConfigError{Field: "weights", Reason: "must sum to 1"}
		}
	}
	return &Aggregator{cfg: cfg}, nil
}

// Combine merges statistical and learned per-method results into a single
// EnsembleResult. The combined score is a weighted sum clamped to [0,1] and
// monotonically non-decreasing in every individual score.
func (a *Aggregator) Combine(statResults, learnedResults map[string]models.DetectorResult) models.EnsembleResult {
	perMethod := make(map[string]models.DetectorResult, len(statResults)+len(learnedResults))
	for name, r := range statResults {
		perMethod[name] = r
	}
	for name, r := range learnedResults {
		perMethod[name] = r
	}

	var score float64
	uniform := 0.0
	if len(perMethod) > 0 {
		uniform = 1.0 / float64(len(perMethod))
	}
	// methods absent from an explicit weight map contribute nothing
	for name, r := range perMethod {
		w := uniform
		if a.cfg.Weights != nil {
			w = a.cfg.Weights[name]
		}
		score += w * r.Score
	}
	score = clamp01(score)

	anomaly := score >= a.cfg.DecisionThreshold
	if !anomaly && a.cfg.AllowSingleTrigger {
		for _, r := range perMethod {
			if r.IsAnomaly {
				anomaly = true
				break
			}
		}
	}

	return models.EnsembleResult{
		IsAnomaly: anomaly,
		Score:     score,
		PerMethod: perMethod,
	}
}
