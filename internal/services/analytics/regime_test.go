package analytics

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"StreamSentinel/internal/domain/models"
)

// regimeCluster produces n feature rows scattered tightly around a center.
func regimeCluster(n int, ret, vol, mom float64, seed int64) []models.RegimeFeatures {
	rng := rand.New(rand.NewSource(seed))
	rows := make([]models.RegimeFeatures, n)
	for i := range rows {
		rows[i] = models.RegimeFeatures{
			Return:     ret + rng.NormFloat64()*0.001,
			Volatility: math.Abs(vol + rng.NormFloat64()*0.0005),
			Momentum:   mom + rng.NormFloat64()*0.005,
		}
	}
	return rows
}

// fourRegimeRows builds a training set with four well separated clusters, one
// per market state.
func fourRegimeRows() []models.RegimeFeatures {
	var rows []models.RegimeFeatures
	rows = append(rows, regimeCluster(50, -0.012, 0.006, -0.05, 1)...) // declining
	rows = append(rows, regimeCluster(50, 0.012, 0.006, 0.05, 2)...)   // advancing
	rows = append(rows, regimeCluster(50, 0.0, 0.0015, 0.0, 3)...)     // quiet
	rows = append(rows, regimeCluster(50, 0.0, 0.030, 0.0, 4)...)      // turbulent
	return rows
}

func TestRegimeClassifyBeforeFit(t *testing.T) {
	c, err := NewRegimeClassifier(DefaultRegimeConfig())
	if err != nil {
		t.Fatalf("NewRegimeClassifier: %v", err)
	}
	if c.Fitted() {
		t.Fatal("classifier reports fitted before any Fit")
	}
	_, _, err = c.Classify(models.RegimeFeatures{})
	if !errors.Is(err, ErrNotFitted) {
		t.Fatalf("expected ErrNotFitted, got %v", err)
	}
}

func TestRegimeFitRejectsSmallSet(t *testing.T) {
	c, err := NewRegimeClassifier(DefaultRegimeConfig())
	if err != nil {
		t.Fatalf("NewRegimeClassifier: %v", err)
	}
	err = c.Fit(regimeCluster(10, 0.01, 0.005, 0.02, 7))
	var fitErr *FitError
	if !errors.As(err, &fitErr) {
		t.Fatalf("expected FitError for small training set, got %v", err)
	}
	if c.Fitted() {
		t.Fatal("failed fit must not mark the classifier fitted")
	}
}

func TestRegimeFitRejectsDegenerateFeatures(t *testing.T) {
	c, err := NewRegimeClassifier(DefaultRegimeConfig())
	if err != nil {
		t.Fatalf("NewRegimeClassifier: %v", err)
	}
	rows := make([]models.RegimeFeatures, 60)
	for i := range rows {
		rows[i] = models.RegimeFeatures{Return: 0.01, Volatility: 0.005, Momentum: 0.02}
	}
	var fitErr *FitError
	if err := c.Fit(rows); !errors.As(err, &fitErr) {
		t.Fatalf("expected FitError for constant features, got %v", err)
	}
}

func TestRegimeLabelsMatchClusterStructure(t *testing.T) {
	c, err := NewRegimeClassifier(DefaultRegimeConfig())
	if err != nil {
		t.Fatalf("NewRegimeClassifier: %v", err)
	}
	if err := c.Fit(fourRegimeRows()); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if !c.Fitted() {
		t.Fatal("classifier not fitted after successful Fit")
	}

	cases := []struct {
		name string
		feat models.RegimeFeatures
		want models.RegimeState
	}{
		{"declining center", models.RegimeFeatures{Return: -0.012, Volatility: 0.006, Momentum: -0.05}, models.RegimeBearish},
		{"advancing center", models.RegimeFeatures{Return: 0.012, Volatility: 0.006, Momentum: 0.05}, models.RegimeBullish},
		{"quiet center", models.RegimeFeatures{Return: 0.0, Volatility: 0.0015, Momentum: 0.0}, models.RegimeConsolidation},
		{"turbulent center", models.RegimeFeatures{Return: 0.0, Volatility: 0.030, Momentum: 0.0}, models.RegimeHighVolatility},
	}
	for _, tc := range cases {
		state, posterior, err := c.Classify(tc.feat)
		if err != nil {
			t.Fatalf("%s: Classify: %v", tc.name, err)
		}
		if state != tc.want {
			t.Fatalf("%s: got state %q, want %q (posterior %v)", tc.name, state, tc.want, posterior)
		}
		if posterior[state] < 0.8 {
			t.Fatalf("%s: cluster center should be classified with high confidence, got %.4f", tc.name, posterior[state])
		}
		var total float64
		for _, p := range posterior {
			if p < 0 || p > 1+1e-9 {
				t.Fatalf("%s: posterior probability %v out of range", tc.name, p)
			}
			total += p
		}
		if math.Abs(total-1) > 1e-9 {
			t.Fatalf("%s: posterior sums to %v, want 1", tc.name, total)
		}
	}
}

func TestRegimeClassifyDeterministic(t *testing.T) {
	c, err := NewRegimeClassifier(DefaultRegimeConfig())
	if err != nil {
		t.Fatalf("NewRegimeClassifier: %v", err)
	}
	if err := c.Fit(fourRegimeRows()); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	feat := models.RegimeFeatures{Return: 0.004, Volatility: 0.012, Momentum: 0.01}
	state1, post1, err := c.Classify(feat)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	state2, post2, err := c.Classify(feat)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if state1 != state2 {
		t.Fatalf("repeated classification changed state: %q vs %q", state1, state2)
	}
	for k, v := range post1 {
		if post2[k] != v {
			t.Fatalf("repeated classification changed posterior for %q: %v vs %v", k, v, post2[k])
		}
	}
}

func TestRegimeRefitFailureKeepsModel(t *testing.T) {
	c, err := NewRegimeClassifier(DefaultRegimeConfig())
	if err != nil {
		t.Fatalf("NewRegimeClassifier: %v", err)
	}
	if err := c.Fit(fourRegimeRows()); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if err := c.Fit(nil); err == nil {
		t.Fatal("expected error for empty refit")
	}
	if !c.Fitted() {
		t.Fatal("failed refit discarded the existing model")
	}
	if _, _, err := c.Classify(models.RegimeFeatures{Return: 0.012, Volatility: 0.006, Momentum: 0.05}); err != nil {
		t.Fatalf("Classify after failed refit: %v", err)
	}
}

func TestRegimeTransitioned(t *testing.T) {
	c, err := NewRegimeClassifier(DefaultRegimeConfig())
	if err != nil {
		t.Fatalf("NewRegimeClassifier: %v", err)
	}
	if !c.Transitioned(models.RegimeBullish, models.RegimeBearish) {
		t.Fatal("distinct states must report a transition")
	}
	if c.Transitioned(models.RegimeConsolidation, models.RegimeConsolidation) {
		t.Fatal("identical states must not report a transition")
	}
}

func TestNewRegimeClassifierRejectsBadConfig(t *testing.T) {
	bad := []RegimeConfig{
		{MaxIterations: 0, Tolerance: 1e-6, MinTrainRows: 40},
		{MaxIterations: 100, Tolerance: 0, MinTrainRows: 40},
		{MaxIterations: 100, Tolerance: 1e-6, MinTrainRows: 3},
	}
	for i, cfg := range bad {
		var cfgErr *ConfigError
		if _, err := NewRegimeClassifier(cfg); !errors.As(err, &cfgErr) {
			t.Fatalf("config %d: expected ConfigError, got %v", i, err)
		}
	}
}
