package features

import (
	"math"

	"StreamSentinel/internal/domain/models"
)

// ComputeLogReturns computes log returns r_t = ln(x_t / x_{t-1}).
// It returns a slice of length len(values)-1, or nil if insufficient data.
// Non-positive values contribute a zero return rather than a NaN.
func ComputeLogReturns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		prev, cur := values[i-1], values[i]
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// RealizedVolatility computes the sample standard deviation of the trailing
// window of returns. Returns 0 when the window cannot be filled.
func RealizedVolatility(returns []float64, window int) float64 {
	if window <= 1 || len(returns) < window {
		return 0
	}
	var sum, sum2 float64
	for i := len(returns) - window; i < len(returns); i++ {
		r := returns[i]
		sum += r
		sum2 += r * r
	}
	n := float64(window)
	mean := sum / n
	variance := (sum2 - n*mean*mean) / (n - 1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// RegimeWindows slides a window over the return series and emits one feature
// row per position: mean return, return volatility, and momentum (the
// cumulative return across the window). Returns nil when the series is too
// short for a single window.
func RegimeWindows(returns []float64, window int) []models.RegimeFeatures {
	if window < 2 || len(returns) < window {
		return nil
	}
	out := make([]models.RegimeFeatures, 0, len(returns)-window+1)
	for i := window; i <= len(returns); i++ {
		w := returns[i-window : i]
		var sum float64
		for _, r := range w {
			sum += r
		}
		mean := sum / float64(window)
		var sq float64
		for _, r := range w {
			d := r - mean
			sq += d * d
		}
		out = append(out, models.RegimeFeatures{
			Return:     mean,
			Volatility: math.Sqrt(sq / float64(window-1)),
			Momentum:   sum,
		})
	}
	return out
}

// LatestRegimeFeatures extracts the feature row for the most recent window,
// or false when the series is too short.
func LatestRegimeFeatures(returns []float64, window int) (models.RegimeFeatures, bool) {
	rows := RegimeWindows(returns, window)
	if len(rows) == 0 {
		return models.RegimeFeatures{}, false
	}
	return rows[len(rows)-1], true
}
