package analytics

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func normalTraining(n int, mean, std float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = mean + std*rng.NormFloat64()
	}
	return out
}

func TestLearnedBankDetectBeforeFit(t *testing.T) {
	b, err := NewLearnedBank(DefaultLearnedConfig())
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if _, err := b.Detect([]float64{1, 2, 3}); !errors.Is(err, ErrNotFitted) {
		t.Fatalf("expected ErrNotFitted, got %v", err)
	}
}

func TestLearnedBankFitRejectsDegenerate(t *testing.T) {
	b, _ := NewLearnedBank(DefaultLearnedConfig())

	var fe *FitError
	if err := b.FitValues([]float64{1, 2, 3}); !errors.As(err, &fe) {
		t.Fatalf("expected FitError for tiny training set, got %v", err)
	}

	constant := make([]float64, 100)
	for i := range constant {
		constant[i] = 5
	}
	if err := b.FitValues(constant); !errors.As(err, &fe) {
		t.Fatalf("expected FitError for zero-variance training set, got %v", err)
	}
	if b.Fitted() {
		t.Fatalf("failed fits must not mark the bank fitted")
	}
}

func TestLearnedBankScoresOutlier(t *testing.T) {
	b, _ := NewLearnedBank(DefaultLearnedConfig())
	if err := b.FitValues(normalTraining(500, 0, 1, 7)); err != nil {
		t.Fatalf("fit: %v", err)
	}

	batch := append(normalTraining(50, 0, 1, 8), 12.0) // far outlier last
	results, err := b.Detect(batch)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	last := len(batch) - 1
	for model, r := range results {
		if len(r.Scores) != len(batch) {
			t.Fatalf("%s returned %d scores for %d points", model, len(r.Scores), len(batch))
		}
		for i, s := range r.Scores {
			if s < 0 || s > 1 || math.IsNaN(s) {
				t.Fatalf("%s score[%d] = %v out of [0,1]", model, i, s)
			}
		}
	}
	// the distance-based estimators must all see a 12-sigma point
	for _, model := range []string{ModelKNNDistance, ModelGaussianEnvelope, ModelIsolationForest} {
		if !results[model].Anomalies[last] {
			t.Fatalf("%s missed a 12-sigma outlier", model)
		}
	}
}

func TestLearnedBankFailedRefitKeepsModel(t *testing.T) {
	b, _ := NewLearnedBank(DefaultLearnedConfig())
	if err := b.FitValues(normalTraining(200, 0, 1, 11)); err != nil {
		t.Fatalf("fit: %v", err)
	}
	if err := b.FitValues([]float64{1}); err == nil {
		t.Fatalf("expected refit failure")
	}
	if !b.Fitted() {
		t.Fatalf("failed refit discarded the previous model")
	}
	if _, err := b.Detect([]float64{0, 1, 12}); err != nil {
		t.Fatalf("detect after failed refit: %v", err)
	}
}

func TestLearnedBankDetectPoint(t *testing.T) {
	b, _ := NewLearnedBank(DefaultLearnedConfig())
	if err := b.FitValues(normalTraining(300, 10, 2, 3)); err != nil {
		t.Fatalf("fit: %v", err)
	}
	history := append(normalTraining(30, 10, 2, 4), 60)
	res, err := b.DetectPoint(history)
	if err != nil {
		t.Fatalf("detect point: %v", err)
	}
	if len(res) != 4 {
		t.Fatalf("expected 4 per-model results, got %d", len(res))
	}
	if !res[ModelGaussianEnvelope].IsAnomaly {
		t.Fatalf("envelope missed an extreme point: %+v", res[ModelGaussianEnvelope])
	}
}

func TestNewLearnedBankRejectsBadConfig(t *testing.T) {
	cfg := DefaultLearnedConfig()
	cfg.Contamination = 0.9
	if _, err := NewLearnedBank(cfg); err == nil {
		t.Fatalf("expected error for contamination >= 0.5")
	}
	cfg = DefaultLearnedConfig()
	cfg.KNeighbors = 0
	if _, err := NewLearnedBank(cfg); err == nil {
		t.Fatalf("expected error for zero neighbors")
	}
}
