package analytics

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"sort"
	"testing"
)

func normalSample(n int, mean, std float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = mean + std*rng.NormFloat64()
	}
	return out
}

// stratifiedSubsample picks every len/n-th value of the sorted sample, giving
// a smaller window with the same empirical distribution.
func stratifiedSubsample(sample []float64, n int) []float64 {
	sorted := append([]float64(nil), sample...)
	sort.Float64s(sorted)
	out := make([]float64, 0, n)
	step := len(sorted) / n
	for i := step / 2; i < len(sorted) && len(out) < n; i += step {
		out = append(out, sorted[i])
	}
	return out
}

func TestDriftBeforeReference(t *testing.T) {
	e, err := NewDriftEngine(DefaultDriftConfig())
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if _, err := e.DetectDrift(normalSample(50, 0, 1, 1)); !errors.Is(err, ErrNoReference) {
		t.Fatalf("expected ErrNoReference, got %v", err)
	}
}

func TestDriftInsufficientWindow(t *testing.T) {
	e, _ := NewDriftEngine(DefaultDriftConfig())
	if err := e.SetReference(normalSample(500, 0, 1, 2)); err != nil {
		t.Fatalf("set reference: %v", err)
	}
	if _, err := e.DetectDrift([]float64{1, 2, 3}); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestDriftIdenticalWindow(t *testing.T) {
	e, _ := NewDriftEngine(DefaultDriftConfig())
	ref := normalSample(200, 5, 2, 3)
	if err := e.SetReference(ref); err != nil {
		t.Fatalf("set reference: %v", err)
	}
	res, err := e.DetectDrift(ref)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if res.DriftDetected {
		t.Fatalf("identical multiset flagged drift: %+v", res)
	}
	if res.Score > 0.02 {
		t.Fatalf("identical multiset score = %v, want ~0", res.Score)
	}
	if res.PerTest[TestKS].Statistic != 0 {
		t.Fatalf("KS of identical samples = %v, want 0", res.PerTest[TestKS].Statistic)
	}
}

func TestDriftSameDistribution(t *testing.T) {
	e, _ := NewDriftEngine(DefaultDriftConfig())
	ref := normalSample(500, 0, 1, 4)
	if err := e.SetReference(ref); err != nil {
		t.Fatalf("set reference: %v", err)
	}
	cur := stratifiedSubsample(ref, 50)
	res, err := e.DetectDrift(cur)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if res.DriftDetected {
		t.Fatalf("same-distribution window flagged drift: %+v", res)
	}
	if res.Score >= 0.1 {
		t.Fatalf("same-distribution score = %v, want < 0.1", res.Score)
	}
}

func TestDriftMeanShift(t *testing.T) {
	e, _ := NewDriftEngine(DefaultDriftConfig())
	if err := e.SetReference(normalSample(500, 0, 1, 5)); err != nil {
		t.Fatalf("set reference: %v", err)
	}
	res, err := e.DetectDrift(normalSample(50, 3, 1, 6))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if !res.DriftDetected {
		t.Fatalf("3-sigma mean shift not detected: %+v", res)
	}
	if shift := res.PerTest[TestMeanShift].Statistic; shift < 2.5 {
		t.Fatalf("mean-shift statistic = %v, want ~3", shift)
	}
	if ks := res.PerTest[TestKS]; ks.PValue > 0.01 {
		t.Fatalf("KS p-value = %v for disjoint distributions", ks.PValue)
	}
}

func TestPSIScaleShiftInvariance(t *testing.T) {
	base := normalSample(400, 0, 1, 7)
	cur := normalSample(80, 0.5, 1.3, 8)

	e1, _ := NewDriftEngine(DefaultDriftConfig())
	if err := e1.SetReference(base); err != nil {
		t.Fatalf("set reference: %v", err)
	}
	r1, err := e1.DetectDrift(cur)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}

	// apply the same affine transform to both distributions
	scale, shift := 7.5, -40.0
	trans := func(xs []float64) []float64 {
		out := make([]float64, len(xs))
		for i, x := range xs {
			out[i] = scale*x + shift
		}
		return out
	}
	e2, _ := NewDriftEngine(DefaultDriftConfig())
	if err := e2.SetReference(trans(base)); err != nil {
		t.Fatalf("set reference: %v", err)
	}
	r2, err := e2.DetectDrift(trans(cur))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}

	p1 := r1.PerTest[TestPSI].Statistic
	p2 := r2.PerTest[TestPSI].Statistic
	if math.Abs(p1-p2) > 1e-9 {
		t.Fatalf("PSI not scale-shift invariant: %v vs %v", p1, p2)
	}
}

func TestDriftVarianceExplosion(t *testing.T) {
	e, _ := NewDriftEngine(DefaultDriftConfig())
	if err := e.SetReference(normalSample(500, 0, 1, 9)); err != nil {
		t.Fatalf("set reference: %v", err)
	}
	res, err := e.DetectDrift(normalSample(100, 0, 5, 10))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if !res.DriftDetected {
		t.Fatalf("5x volatility jump not detected: %+v", res)
	}
	if ratio := res.PerTest[TestVarianceRatio].Statistic; ratio < 10 {
		t.Fatalf("variance ratio = %v, want ~25", ratio)
	}
}

func TestDriftReferenceReplacedWholesale(t *testing.T) {
	e, _ := NewDriftEngine(DefaultDriftConfig())
	if err := e.SetReference(normalSample(200, 0, 1, 11)); err != nil {
		t.Fatalf("set reference: %v", err)
	}
	shifted := normalSample(200, 10, 1, 12)
	if err := e.SetReference(shifted); err != nil {
		t.Fatalf("replace reference: %v", err)
	}
	res, err := e.DetectDrift(shifted)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if res.DriftDetected {
		t.Fatalf("window matching the new reference flagged drift")
	}
}

func TestDriftZeroVarianceReferenceSerializes(t *testing.T) {
	// Constant reference makes mean shift and variance ratio unbounded; the
	// result must still detect drift and marshal to valid JSON.
	e, _ := NewDriftEngine(DefaultDriftConfig())
	ref := make([]float64, 50)
	cur := make([]float64, 50)
	for i := range ref {
		ref[i] = 10
		cur[i] = 20
	}
	if err := e.SetReference(ref); err != nil {
		t.Fatalf("set reference: %v", err)
	}
	res, err := e.DetectDrift(cur)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if !res.DriftDetected {
		t.Fatalf("constant-to-shifted window not detected: %+v", res)
	}

	b, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back struct {
		PerTest map[string]struct {
			Statistic *float64 `json:"statistic"`
		} `json:"per_test"`
	}
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.PerTest[TestMeanShift].Statistic != nil {
		t.Fatalf("unbounded mean shift statistic should serialize as null, got %v",
			*back.PerTest[TestMeanShift].Statistic)
	}
}

func TestNewDriftEngineRejectsBadConfig(t *testing.T) {
	cfg := DefaultDriftConfig()
	cfg.Weights = map[string]float64{TestKS: 0.9, TestPSI: 0.9}
	if _, err := NewDriftEngine(cfg); err == nil {
		t.Fatalf("expected error for weights not summing to 1")
	}
	cfg = DefaultDriftConfig()
	cfg.VarianceBand = [2]float64{2, 0.5}
	if _, err := NewDriftEngine(cfg); err == nil {
		t.Fatalf("expected error for inverted variance band")
	}
}
