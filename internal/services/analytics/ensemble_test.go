package analytics

import (
	"testing"

	"StreamSentinel/internal/domain/models"
)

func TestAggregatorWeightsValidation(t *testing.T) {
	_, err := NewAggregator(EnsembleConfig{
		DecisionThreshold: 0.5,
		Weights:           map[string]float64{"a": 0.7, "b": 0.7},
	})
	if err == nil {
		t.Fatalf("expected error for weights not summing to 1")
	}
	_, err = NewAggregator(EnsembleConfig{
		DecisionThreshold: 0.5,
		Weights:           map[string]float64{"a": -0.5, "b": 1.5},
	})
	if err == nil {
		t.Fatalf("expected error for negative weight")
	}
	if _, err = NewAggregator(EnsembleConfig{DecisionThreshold: 0}); err == nil {
		t.Fatalf("expected error for zero decision threshold")
	}
}

func TestAggregatorUniformCombination(t *testing.T) {
	a, err := NewAggregator(DefaultEnsembleConfig())
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	stat := map[string]models.DetectorResult{
		"m1": {Score: 0.2},
		"m2": {Score: 0.4},
	}
	learned := map[string]models.DetectorResult{
		"m3": {Score: 0.6},
		"m4": {Score: 0.8},
	}
	res := a.Combine(stat, learned)
	if got, want := res.Score, 0.5; got < want-1e-9 || got > want+1e-9 {
		t.Fatalf("score = %v, want %v", got, want)
	}
	if !res.IsAnomaly {
		t.Fatalf("score at threshold should flag")
	}
	if len(res.PerMethod) != 4 {
		t.Fatalf("per-method results = %d, want 4", len(res.PerMethod))
	}
}

func TestAggregatorMonotonicity(t *testing.T) {
	a, _ := NewAggregator(DefaultEnsembleConfig())
	base := map[string]models.DetectorResult{
		"m1": {Score: 0.1},
		"m2": {Score: 0.3},
		"m3": {Score: 0.5},
	}
	prev := -1.0
	for s := 0.0; s <= 1.0; s += 0.05 {
		in := map[string]models.DetectorResult{
			"m1": base["m1"], "m2": base["m2"], "m3": base["m3"],
			"m4": {Score: s},
		}
		got := a.Combine(in, nil).Score
		if got < prev {
			t.Fatalf("ensemble score decreased: %v -> %v at input %v", prev, got, s)
		}
		prev = got
	}
}

func TestAggregatorSoftOR(t *testing.T) {
	cfg := DefaultEnsembleConfig()
	a, _ := NewAggregator(cfg)
	in := map[string]models.DetectorResult{
		"quiet1": {Score: 0.0},
		"quiet2": {Score: 0.0},
		"quiet3": {Score: 0.0},
		"loud":   {Score: 0.9, IsAnomaly: true},
	}
	res := a.Combine(in, nil)
	if res.Score >= cfg.DecisionThreshold {
		t.Fatalf("weighted score %v unexpectedly above threshold", res.Score)
	}
	if !res.IsAnomaly {
		t.Fatalf("soft-OR should flag on a single high-confidence method")
	}

	cfg.AllowSingleTrigger = false
	strict, _ := NewAggregator(cfg)
	if strict.Combine(in, nil).IsAnomaly {
		t.Fatalf("strict policy must not flag below threshold")
	}
}

func TestAggregatorDeterministic(t *testing.T) {
	a, _ := NewAggregator(DefaultEnsembleConfig())
	in := map[string]models.DetectorResult{
		"m1": {Score: 0.33},
		"m2": {Score: 0.66, IsAnomaly: true},
	}
	first := a.Combine(in, nil)
	second := a.Combine(in, nil)
	if first.Score != second.Score || first.IsAnomaly != second.IsAnomaly {
		t.Fatalf("combine is not deterministic: %+v vs %+v", first, second)
	}
}
