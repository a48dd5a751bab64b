package features

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-12
}

func TestComputeLogReturns(t *testing.T) {
	if got := ComputeLogReturns([]float64{100}); got != nil {
		t.Fatalf("single value should produce nil, got %v", got)
	}

	returns := ComputeLogReturns([]float64{100, 110, 99})
	if len(returns) != 2 {
		t.Fatalf("expected 2 returns, got %d", len(returns))
	}
	if !almostEqual(returns[0], math.Log(1.1)) {
		t.Fatalf("returns[0] = %v, want ln(1.1)", returns[0])
	}
	if !almostEqual(returns[1], math.Log(0.9)) {
		t.Fatalf("returns[1] = %v, want ln(0.9)", returns[1])
	}
}

func TestComputeLogReturnsNonPositive(t *testing.T) {
	returns := ComputeLogReturns([]float64{100, 0, 50, -5, 10})
	for i, r := range returns {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			t.Fatalf("returns[%d] = %v, non-positive prices must not yield NaN or Inf", i, r)
		}
	}
	if returns[0] != 0 || returns[1] != 0 {
		t.Fatalf("pairs involving zero should produce zero returns, got %v", returns[:2])
	}
}

func TestRealizedVolatility(t *testing.T) {
	if v := RealizedVolatility([]float64{0.01, 0.02}, 5); v != 0 {
		t.Fatalf("short series volatility = %v, want 0", v)
	}
	if v := RealizedVolatility([]float64{0.01, 0.01, 0.01, 0.01}, 4); v != 0 {
		t.Fatalf("constant returns volatility = %v, want 0", v)
	}

	// Sample stdev of {0.01, -0.01, 0.01, -0.01} is sqrt(4e-4/3).
	v := RealizedVolatility([]float64{0.01, -0.01, 0.01, -0.01}, 4)
	want := math.Sqrt(4e-4 / 3)
	if math.Abs(v-want) > 1e-12 {
		t.Fatalf("volatility = %v, want %v", v, want)
	}

	// Only the trailing window counts.
	withPrefix := RealizedVolatility([]float64{5, -5, 0.01, -0.01, 0.01, -0.01}, 4)
	if math.Abs(withPrefix-want) > 1e-12 {
		t.Fatalf("trailing-window volatility = %v, want %v", withPrefix, want)
	}
}

func TestRegimeWindows(t *testing.T) {
	if rows := RegimeWindows([]float64{0.01, 0.02}, 3); rows != nil {
		t.Fatalf("short series should produce nil, got %v", rows)
	}

	returns := []float64{0.01, 0.03, -0.02, 0.02}
	rows := RegimeWindows(returns, 3)
	if len(rows) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(rows))
	}

	first := rows[0]
	if !almostEqual(first.Momentum, 0.02) {
		t.Fatalf("first window momentum = %v, want 0.02", first.Momentum)
	}
	if !almostEqual(first.Return, 0.02/3) {
		t.Fatalf("first window mean return = %v, want %v", first.Return, 0.02/3)
	}
	if first.Volatility <= 0 {
		t.Fatalf("first window volatility = %v, want positive", first.Volatility)
	}
}

func TestLatestRegimeFeatures(t *testing.T) {
	if _, ok := LatestRegimeFeatures([]float64{0.01}, 3); ok {
		t.Fatal("short series should report no features")
	}

	returns := []float64{0.01, 0.03, -0.02, 0.02}
	latest, ok := LatestRegimeFeatures(returns, 3)
	if !ok {
		t.Fatal("expected a feature row")
	}
	rows := RegimeWindows(returns, 3)
	if latest != rows[len(rows)-1] {
		t.Fatalf("latest = %+v, want last window %+v", latest, rows[len(rows)-1])
	}
}
