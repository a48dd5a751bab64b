package analytics

import (
	"math"
	"sort"
	"sync"

	"StreamSentinel/internal/domain/models"
)

// Model names used for per-model result maps and ensemble weights.
const (
	ModelIsolationForest  = "isolation_forest"
	ModelKNNDistance      = "knn_distance"
	ModelGaussianEnvelope = "gaussian_envelope"
	ModelReconstruction   = "reconstruction"
)

// LearnedConfig parameterizes the learned detector bank. Contamination is the
// assumed anomaly fraction of the training data, a hyperparameter rather than
// a measured quantity.
type LearnedConfig struct {
	Contamination            float64 // default 0.1
	MinTrainSize             int     // default 50
	KNeighbors               int     // default 20
	ReconstructionPercentile float64 // default 0.95
	EWMAAlpha                float64 // default 0.3
	Seed                     int64   // default 42
}

// DefaultLearnedConfig returns the documented defaults.
func DefaultLearnedConfig() LearnedConfig {
	return LearnedConfig{
		Contamination:            0.1,
		MinTrainSize:             50,
		KNeighbors:               20,
		ReconstructionPercentile: 0.95,
		EWMAAlpha:                0.3,
		Seed:                     42,
	}
}

// learnedModels is the immutable fitted state, swapped in wholesale on a
// successful fit so a failed refit never disturbs the previous model.
type learnedModels struct {
	forest       *isolationForest
	trainSorted  []float64 // for kNN distance queries
	knnThreshold float64
	envMedian    float64
	envMAD       float64
	envThreshold float64
	recThreshold float64
	scaleMean    float64
	scaleStd     float64
}

// LearnedBank holds density/boundary estimators plus a reconstruction-error
// model, all fit on a batch of presumed-normal data. Scoring is read-only;
// only Fit replaces state.
type LearnedBank struct {
	cfg LearnedConfig

	mu     sync.RWMutex
	models *learnedModels
}

// NewLearnedBank validates the configuration and builds an unfitted bank.
func NewLearnedBank(cfg LearnedConfig) (*LearnedBank, error) {
	if cfg.Contamination <= 0 || cfg.Contamination >= 0.5 {
		return nil, &ConfigError{Field: "contamination", Reason: "must be in (0,0.5)"}
	}
	if cfg.MinTrainSize < 10 {
		return nil, &ConfigError{Field: "min_train_size", Reason: "must be at least 10"}
	}
	if cfg.KNeighbors < 1 {
		return nil, &ConfigError{Field: "k_neighbors", Reason: "must be at least 1"}
	}
	if cfg.ReconstructionPercentile <= 0 || cfg.ReconstructionPercentile >= 1 {
		return nil, &ConfigError{Field: "reconstruction_percentile", Reason: "must be in (0,1)"}
	}
	if cfg.EWMAAlpha <= 0 || cfg.EWMAAlpha > 1 {
		return nil, &ConfigError{Field: "ewma_alpha", Reason: "must be in (0,1]"}
	}
	return &LearnedBank{cfg: cfg}, nil
}

// Fitted reports whether the bank holds a usable model.
func (b *LearnedBank) Fitted() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.models != nil
}

// Fit trains every model on the supplied observations. A FitError leaves any
// previously fitted state untouched, so retrying after bad data is safe.
func (b *LearnedBank) Fit(training []models.Observation) error {
	values := make([]float64, len(training))
	for i, o := range training {
		values[i] = o.Value
	}
	return b.FitValues(values)
}

// FitValues is Fit over raw values.
func (b *LearnedBank) FitValues(values []float64) error {
	if len(values) < b.cfg.MinTrainSize {
		return &FitError{Model: "learned_bank", Reason: "training set too small"}
	}
	mean, std := meanStd(values)
	if std == 0 {
		return &FitError{Model: "learned_bank", Reason: "degenerate training set (zero variance)"}
	}

	scaled := make([]float64, len(values))
	for i, v := range values {
		scaled[i] = (v - mean) / std
	}

	m := &learnedModels{scaleMean: mean, scaleStd: std}

	m.forest = fitIsolationForest(scaled, b.cfg.Contamination, b.cfg.Seed)

	m.trainSorted = append([]float64(nil), scaled...)
	sort.Float64s(m.trainSorted)
	selfDist := make([]float64, len(scaled))
	for i, v := range scaled {
		selfDist[i] = knnDistance(m.trainSorted, v, b.cfg.KNeighbors)
	}
	m.knnThreshold = quantileOf(selfDist, 1-b.cfg.Contamination)
	if m.knnThreshold == 0 {
		m.knnThreshold = 1e-8
	}

	m.envMedian = quantileOf(scaled, 0.5)
	devs := make([]float64, len(scaled))
	for i, v := range scaled {
		devs[i] = math.Abs(v - m.envMedian)
	}
	m.envMAD = quantileOf(devs, 0.5)
	if m.envMAD == 0 {
		m.envMAD = 1e-8
	}
	robust := make([]float64, len(scaled))
	for i, v := range scaled {
		robust[i] = 0.6745 * math.Abs(v-m.envMedian) / m.envMAD
	}
	m.envThreshold = quantileOf(robust, 1-b.cfg.Contamination)
	if m.envThreshold == 0 {
		m.envThreshold = 1e-8
	}

	recErrs := ewmaErrors(scaled, b.cfg.EWMAAlpha)
	m.recThreshold = quantileOf(recErrs, b.cfg.ReconstructionPercentile)
	if m.recThreshold == 0 {
		m.recThreshold = 1e-8
	}

	b.mu.Lock()
	b.models = m
	b.mu.Unlock()
	return nil
}

// LearnedResult is one model's verdicts over a batch.
type LearnedResult struct {
	Anomalies []bool
	Scores    []float64
}

// Detect scores a batch with every model, returning one binary vote and one
// continuous score per model per point. Returns ErrNotFitted before Fit.
func (b *LearnedBank) Detect(values []float64) (map[string]LearnedResult, error) {
	b.mu.RLock()
	m := b.models
	b.mu.RUnlock()
	if m == nil {
		return nil, ErrNotFitted
	}

	out := map[string]LearnedResult{
		ModelIsolationForest:  {Anomalies: make([]bool, len(values)), Scores: make([]float64, len(values))},
		ModelKNNDistance:      {Anomalies: make([]bool, len(values)), Scores: make([]float64, len(values))},
		ModelGaussianEnvelope: {Anomalies: make([]bool, len(values)), Scores: make([]float64, len(values))},
		ModelReconstruction:   {Anomalies: make([]bool, len(values)), Scores: make([]float64, len(values))},
	}

	scaled := make([]float64, len(values))
	for i, v := range values {
		scaled[i] = (v - m.scaleMean) / m.scaleStd
	}
	recErrs := ewmaErrors(scaled, b.cfg.EWMAAlpha)

	for i, v := range scaled {
		fv := m.forest.score(v)
		r := out[ModelIsolationForest]
		r.Scores[i] = clamp01(fv)
		r.Anomalies[i] = fv > m.forest.threshold
		out[ModelIsolationForest] = r

		d := knnDistance(m.trainSorted, v, b.cfg.KNeighbors)
		r = out[ModelKNNDistance]
		r.Scores[i] = squash(d, m.knnThreshold)
		r.Anomalies[i] = d > m.knnThreshold
		out[ModelKNNDistance] = r

		rz := 0.6745 * math.Abs(v-m.envMedian) / m.envMAD
		r = out[ModelGaussianEnvelope]
		r.Scores[i] = squash(rz, m.envThreshold)
		r.Anomalies[i] = rz > m.envThreshold
		out[ModelGaussianEnvelope] = r

		r = out[ModelReconstruction]
		r.Scores[i] = squash(recErrs[i], m.recThreshold)
		r.Anomalies[i] = recErrs[i] > m.recThreshold
		out[ModelReconstruction] = r
	}
	return out, nil
}

// DetectPoint scores the last element of history with every model, returning
// per-model DetectorResults for the ensemble path. The history slice supplies
// the context the reconstruction model needs; it is not mutated.
func (b *LearnedBank) DetectPoint(history []float64) (map[string]models.DetectorResult, error) {
	if len(history) == 0 {
		return nil, ErrInsufficientData
	}
	batch, err := b.Detect(history)
	if err != nil {
		return nil, err
	}
	last := len(history) - 1
	out := make(map[string]models.DetectorResult, len(batch))
	for name, r := range batch {
		out[name] = models.DetectorResult{
			IsAnomaly: r.Anomalies[last],
			Score:     r.Scores[last],
			Details:   map[string]float64{"score": r.Scores[last]},
		}
	}
	return out, nil
}

// knnDistance returns the mean distance from v to its k nearest values in a
// sorted sample, found by widening a two-pointer window around the insertion
// point.
func knnDistance(sorted []float64, v float64, k int) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if k > n {
		k = n
	}
	i := sort.SearchFloat64s(sorted, v)
	lo, hi := i-1, i
	var sum float64
	for taken := 0; taken < k; taken++ {
		switch {
		case lo < 0:
			sum += sorted[hi] - v
			hi++
		case hi >= n:
			sum += v - sorted[lo]
			lo--
		case v-sorted[lo] <= sorted[hi]-v:
			sum += v - sorted[lo]
			lo--
		default:
			sum += sorted[hi] - v
			hi++
		}
	}
	return sum / float64(k)
}

// ewmaErrors runs a one-step EWMA predictor over xs and returns the absolute
// prediction error at each step. The first error is zero by construction.
func ewmaErrors(xs []float64, alpha float64) []float64 {
	errs := make([]float64, len(xs))
	if len(xs) == 0 {
		return errs
	}
	pred := xs[0]
	for i, x := range xs {
		errs[i] = math.Abs(x - pred)
		pred = alpha*x + (1-alpha)*pred
	}
	return errs
}

func meanStd(xs []float64) (float64, float64) {
	n := float64(len(xs))
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / n
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	if n < 2 {
		return mean, 0
	}
	return mean, math.Sqrt(sq / (n - 1))
}

// quantileOf returns the q-quantile of xs without mutating it.
func quantileOf(xs []float64, q float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	cp := append([]float64(nil), xs...)
	sort.Float64s(cp)
	if q <= 0 {
		return cp[0]
	}
	if q >= 1 {
		return cp[len(cp)-1]
	}
	idx := q * float64(len(cp)-1)
	lo := int(idx)
	frac := idx - float64(lo)
	if lo+1 >= len(cp) {
		return cp[len(cp)-1]
	}
	return cp[lo]*(1-frac) + cp[lo+1]*frac
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
