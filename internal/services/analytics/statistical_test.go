package analytics

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"StreamSentinel/internal/domain/models"
)

func constantSnapshot(v float64, n int) StatsSnapshot {
	return StatsSnapshot{Mean: v, Median: v, Q1: v, Q3: v, Min: v, Max: v, Count: n}
}

func TestStatisticalBankConstantWindowNoAnomaly(t *testing.T) {
	b, err := NewStatisticalBank(DefaultStatisticalConfig())
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	snap := constantSnapshot(42, 50)
	results := b.Evaluate(42, snap)
	for name, r := range results {
		if r.IsAnomaly {
			t.Fatalf("%s flagged a constant window", name)
		}
		if r.Score != 0 {
			t.Fatalf("%s score = %v on constant window, want 0", name, r.Score)
		}
	}
}

func TestStatisticalBankZeroStdDeparture(t *testing.T) {
	b, _ := NewStatisticalBank(DefaultStatisticalConfig())
	snap := constantSnapshot(10, 20)
	res := b.Evaluate(11, snap)

	z := res[MethodZScore]
	if !z.IsAnomaly || z.Score != 1.0 {
		t.Fatalf("zero-std departure: zscore = %+v, want anomaly with score 1", z)
	}
	mz := res[MethodModifiedZ]
	if !mz.IsAnomaly || mz.Score != 1.0 {
		t.Fatalf("zero-MAD departure: modified_z = %+v, want anomaly with score 1", mz)
	}
}

func TestStatisticalBankSpikeScenario(t *testing.T) {
	// window [10,10,10,10,100]: the spike must flag, earlier points must not
	r, _ := NewRollingStats(5)
	b, _ := NewStatisticalBank(DefaultStatisticalConfig())

	var flaggedBefore bool
	for _, v := range []float64{10, 10, 10, 10} {
		snap, err := r.Update(v)
		if err != nil {
			continue // partial window: score undefined, treated neutral
		}
		for _, res := range b.Evaluate(v, snap) {
			if res.IsAnomaly {
				flaggedBefore = true
			}
		}
	}
	if flaggedBefore {
		t.Fatalf("constant prefix flagged anomalous")
	}

	snap, err := r.Update(100)
	if err != nil {
		t.Fatalf("full window: %v", err)
	}
	res := b.Evaluate(100, snap)
	if !res[MethodModifiedZ].IsAnomaly {
		t.Fatalf("robust z missed the spike: %+v", res[MethodModifiedZ])
	}
	if !res[MethodIQR].IsAnomaly {
		t.Fatalf("iqr fence missed the spike: %+v", res[MethodIQR])
	}
}

func TestSpikeOverConstantWindowSerializes(t *testing.T) {
	// [10,10,10,10,100]: MAD is zero, so the spike hits the degenerate branch.
	// Every detail must stay finite and the combined result must marshal.
	r, _ := NewRollingStats(5)
	b, _ := NewStatisticalBank(DefaultStatisticalConfig())
	agg, _ := NewAggregator(DefaultEnsembleConfig())

	for _, v := range []float64{10, 10, 10, 10} {
		r.Update(v)
	}
	snap, err := r.Update(100)
	if err != nil {
		t.Fatalf("full window: %v", err)
	}

	res := b.Evaluate(100, snap)
	for name, dr := range res {
		for k, v := range dr.Details {
			if math.IsInf(v, 0) || math.IsNaN(v) {
				t.Fatalf("%s detail %q is not finite: %v", name, k, v)
			}
		}
	}

	ens := agg.Combine(res, nil)
	ens.Symbol = "AAPL"
	ens.Timestamp = time.Now()
	payload := models.DetectionSnapshot{Symbol: "AAPL", Timestamp: ens.Timestamp, Ensemble: &ens}
	if _, err := json.Marshal(payload); err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
}

func TestStatisticalScoresBounded(t *testing.T) {
	b, _ := NewStatisticalBank(DefaultStatisticalConfig())
	r, _ := NewRollingStats(30)
	var snap StatsSnapshot
	for i := 0; i < 30; i++ {
		snap, _ = r.Update(float64(i % 7))
	}
	for _, v := range []float64{-1e9, -3, 0, 3, 1e9} {
		for name, res := range b.Evaluate(v, snap) {
			if res.Score < 0 || res.Score > 1 {
				t.Fatalf("%s score %v out of [0,1] for value %v", name, res.Score, v)
			}
		}
	}
}

func TestSquashMonotonic(t *testing.T) {
	prev := -1.0
	for raw := 0.0; raw < 10; raw += 0.25 {
		s := squash(raw, 3.0)
		if s <= prev {
			t.Fatalf("squash not strictly increasing at raw=%v", raw)
		}
		if s < 0 || s >= 1 {
			t.Fatalf("squash(%v) = %v out of range", raw, s)
		}
		prev = s
	}
}

func TestNewStatisticalBankRejectsBadConfig(t *testing.T) {
	if _, err := NewStatisticalBank(StatisticalConfig{ZThreshold: 0, IQRMultiplier: 1.5, GrubbsAlpha: 0.05}); err == nil {
		t.Fatalf("expected error for zero z threshold")
	}
	if _, err := NewStatisticalBank(StatisticalConfig{ZThreshold: 3, IQRMultiplier: 1.5, GrubbsAlpha: 1.5}); err == nil {
		t.Fatalf("expected error for alpha >= 1")
	}
}
