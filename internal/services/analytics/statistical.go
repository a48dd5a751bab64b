package analytics

import (
	"math"

	"StreamSentinel/internal/domain/models"

	"gonum.org/v1/gonum/stat/distuv"
)

// Method names used for per-method result maps and ensemble weights.
const (
	MethodZScore    = "zscore"
	MethodModifiedZ = "modified_z"
	MethodIQR       = "iqr"
	MethodGrubbs    = "grubbs"
)

// degenerateStat stands in for the unbounded statistic of a departure from a
// zero-spread window. Kept finite so detector results always serialize as
// JSON, which rejects infinities.
const degenerateStat = 1e9

// StatisticalConfig parameterizes the statistical detector bank.
type StatisticalConfig struct {
	ZThreshold    float64 // default 3.0
	IQRMultiplier float64 // default 1.5
	GrubbsAlpha   float64 // significance level, default 0.05
}

// DefaultStatisticalConfig returns the documented default thresholds.
func DefaultStatisticalConfig() StatisticalConfig {
	return StatisticalConfig{ZThreshold: 3.0, IQRMultiplier: 1.5, GrubbsAlpha: 0.05}
}

// StatisticalBank runs independent single-method detectors over a value and
// the current window snapshot. It holds no window state of its own, so one
// bank may serve many series.
type StatisticalBank struct {
	cfg StatisticalConfig
}

// NewStatisticalBank validates the configuration and builds the bank.
func NewStatisticalBank(cfg StatisticalConfig) (*StatisticalBank, error) {
	if cfg.ZThreshold <= 0 {
		return nil, &ConfigError{Field: "z_threshold", Reason: "must be positive"}
	}
	if cfg.IQRMultiplier <= 0 {
		return nil, &ConfigError{Field: "iqr_multiplier", Reason: "must be positive"}
	}
	if cfg.GrubbsAlpha <= 0 || cfg.GrubbsAlpha >= 1 {
		return nil, &ConfigError{Field: "grubbs_alpha", Reason: "must be in (0,1)"}
	}
	return &StatisticalBank{cfg: cfg}, nil
}

// Evaluate runs every method against the value and snapshot. The snapshot is
// expected to already include the value (RollingStats.Update semantics).
func (b *StatisticalBank) Evaluate(value float64, snap StatsSnapshot) map[string]models.DetectorResult {
	return map[string]models.DetectorResult{
		MethodZScore:    b.zScore(value, snap),
		MethodModifiedZ: b.modifiedZ(value, snap),
		MethodIQR:       b.iqrFence(value, snap),
		MethodGrubbs:    b.grubbs(value, snap),
	}
}

// squash maps a non-negative raw statistic into [0,1] monotonically. The
// threshold lands at 1-1/e ≈ 0.632, keeping method scores comparable before
// aggregation.
func squash(raw, threshold float64) float64 {
	if raw <= 0 {
		return 0
	}
	return 1 - math.Exp(-raw/threshold)
}

func (b *StatisticalBank) zScore(value float64, snap StatsSnapshot) models.DetectorResult {
	if snap.Std == 0 {
		// degenerate window: anomalous only if the value departs from it
		if value != snap.Mean {
			return models.DetectorResult{IsAnomaly: true, Score: 1.0, Details: map[string]float64{"z": degenerateStat}}
		}
		return models.DetectorResult{Details: map[string]float64{"z": 0}}
	}
	z := math.Abs(value-snap.Mean) / snap.Std
	return models.DetectorResult{
		IsAnomaly: z > b.cfg.ZThreshold,
		Score:     squash(z, b.cfg.ZThreshold),
		Details:   map[string]float64{"z": z},
	}
}

func (b *StatisticalBank) modifiedZ(value float64, snap StatsSnapshot) models.DetectorResult {
	if snap.MAD == 0 {
		if value != snap.Median {
			return models.DetectorResult{IsAnomaly: true, Score: 1.0, Details: map[string]float64{"modified_z": degenerateStat}}
		}
		return models.DetectorResult{Details: map[string]float64{"modified_z": 0}}
	}
	mz := math.Abs(0.6745 * (value - snap.Median) / snap.MAD)
	return models.DetectorResult{
		IsAnomaly: mz > b.cfg.ZThreshold,
		Score:     squash(mz, b.cfg.ZThreshold),
		Details:   map[string]float64{"modified_z": mz},
	}
}

func (b *StatisticalBank) iqrFence(value float64, snap StatsSnapshot) models.DetectorResult {
	iqr := snap.IQR()
	lower := snap.Q1 - b.cfg.IQRMultiplier*iqr
	upper := snap.Q3 + b.cfg.IQRMultiplier*iqr

	var beyond float64
	switch {
	case value < lower:
		beyond = lower - value
	case value > upper:
		beyond = value - upper
	}

	res := models.DetectorResult{Details: map[string]float64{
		"lower_fence": lower,
		"upper_fence": upper,
	}}
	if beyond == 0 {
		return res
	}
	res.IsAnomaly = true
	if iqr == 0 {
		res.Score = 1.0
		return res
	}
	// distance beyond the nearest fence in IQR units, squashed into [0,1]
	res.Score = squash(beyond/iqr, 1.0)
	res.Details["beyond"] = beyond
	return res
}

func (b *StatisticalBank) grubbs(value float64, snap StatsSnapshot) models.DetectorResult {
	n := float64(snap.Count)
	res := models.DetectorResult{Details: map[string]float64{"grubbs": 0}}
	if snap.Count < 3 || snap.Std == 0 {
		return res
	}

	// statistic of the single most extreme point in the window, candidate
	// included (the snapshot min/max already cover it)
	maxDev := math.Max(math.Abs(snap.Min-snap.Mean), math.Abs(snap.Max-snap.Mean))
	g := maxDev / snap.Std

	tDist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: n - 2}
	t := tDist.Quantile(1 - b.cfg.GrubbsAlpha/(2*n))
	crit := ((n - 1) / math.Sqrt(n)) * math.Sqrt(t*t/(n-2+t*t))

	res.Details["grubbs"] = g
	res.Details["critical"] = crit
	res.IsAnomaly = g > crit
	if crit > 0 {
		res.Score = squash(g, crit)
	}
	return res
}
