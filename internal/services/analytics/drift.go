package analytics

import (
	"math"
	"sort"
	"sync"

	"StreamSentinel/internal/domain/models"

	"gonum.org/v1/gonum/stat"
)

// Drift test names used in DriftResult.PerTest and for weighting.
const (
	TestKS            = "ks"
	TestPSI           = "psi"
	TestJSDivergence  = "js_divergence"
	TestMeanShift     = "mean_shift"
	TestVarianceRatio = "variance_ratio"
)

// PSI interpretation thresholds (industry convention): above PSIModerate the
// population has shifted noticeably, above PSISignificant the shift is
// actionable on its own.
const (
	PSIModerate    = 0.10
	PSISignificant = 0.25
)

// ksCriticalCoeff is c(alpha) for alpha=0.05 in the two-sample KS critical
// value D_crit = c(alpha) * sqrt((n+m)/(n*m)).
const ksCriticalCoeff = 1.358

// DriftConfig parameterizes the drift engine.
type DriftConfig struct {
	Threshold     float64            // combined-score threshold, default 0.1
	Buckets       int                // histogram buckets for PSI/JS, default 10
	MinSample     int                // minimum current-window size, default 10
	VarianceBand  [2]float64         // acceptable variance ratio band, default [0.5, 2.0]
	Weights       map[string]float64 // per-test weights; nil uses documented defaults
}

// DefaultDriftConfig returns the documented defaults. The default weights
// favor the two distribution-level tests over the moment-level ones.
func DefaultDriftConfig() DriftConfig {
	return DriftConfig{
		Threshold:    0.1,
		Buckets:      10,
		MinSample:    10,
		VarianceBand: [2]float64{0.5, 2.0},
		Weights: map[string]float64{
			TestKS:            0.25,
			TestPSI:           0.25,
			TestJSDivergence:  0.20,
			TestMeanShift:     0.15,
			TestVarianceRatio: 0.15,
		},
	}
}

// referenceDistribution is the frozen baseline. The raw sorted sample is kept
// for the KS test; quantile-edged histogram percentages are derived once for
// PSI and Jensen-Shannon. Replaced wholesale by SetReference, never patched.
type referenceDistribution struct {
	sorted   []float64
	mean     float64
	variance float64
	edges    []float64 // bucket edges from reference quantiles
	pcts     []float64 // per-bucket reference percentages
}

// DriftEngine compares a sliding current window against a frozen reference
// distribution using five tests and a weighted combination rule.
type DriftEngine struct {
	cfg DriftConfig

	mu  sync.RWMutex
	ref *referenceDistribution
}

// NewDriftEngine validates the configuration and builds the engine.
func NewDriftEngine(cfg DriftConfig) (*DriftEngine, error) {
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		return nil, &ConfigError{Field: "drift_threshold", Reason: "must be in (0,1]"}
	}
	if cfg.Buckets < 2 {
		return nil, &ConfigError{Field: "buckets", Reason: "must be at least 2"}
	}
	if cfg.MinSample < 2 {
		return nil, &ConfigError{Field: "min_sample", Reason: "must be at least 2"}
	}
	if cfg.VarianceBand[0] <= 0 || cfg.VarianceBand[1] <= cfg.VarianceBand[0] {
		return nil, &ConfigError{Field: "variance_band", Reason: "must be 0 < low < high"}
	}
	if cfg.Weights != nil {
		var sum float64
		for name, w := range cfg.Weights {
			if w < 0 {
				return nil, &ConfigError{Field: "drift_weights." + name, Reason: "must be non-negative"}
			}
			sum += w
		}
		if math.Abs(sum-1) > 1e-9 {
			return nil, &ConfigError{Field: "drift_weights", Reason: "must sum to 1"}
		}
	}
	return &DriftEngine{cfg: cfg}, nil
}

// SetReference freezes an immutable snapshot of data as the baseline. The
// sample must satisfy the minimum size; previous references are replaced
// wholesale.
func (e *DriftEngine) SetReference(data []float64) error {
	if len(data) < e.cfg.MinSample {
		return ErrInsufficientData
	}
	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)

	ref := &referenceDistribution{sorted: sorted}
	ref.mean = stat.Mean(sorted, nil)
	ref.variance = stat.Variance(sorted, nil)

	// quantile-based edges keep every reference bucket equally populated,
	// which makes PSI invariant to scale-and-shift of both samples
	ref.edges = make([]float64, e.cfg.Buckets+1)
	ref.edges[0] = math.Inf(-1)
	ref.edges[e.cfg.Buckets] = math.Inf(1)
	for i := 1; i < e.cfg.Buckets; i++ {
		ref.edges[i] = stat.Quantile(float64(i)/float64(e.cfg.Buckets), stat.Empirical, sorted, nil)
	}
	ref.pcts = bucketPercentages(sorted, ref.edges)

	e.mu.Lock()
	e.ref = ref
	e.mu.Unlock()
	return nil
}

// HasReference reports whether a baseline has been frozen.
func (e *DriftEngine) HasReference() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ref != nil
}

// DetectDrift runs every test against the current window. It returns
// ErrNoReference before any SetReference and ErrInsufficientData for windows
// below the minimum sample size. Numerically degenerate inputs produce
// documented fallback sub-scores, never an error.
func (e *DriftEngine) DetectDrift(current []float64) (models.DriftResult, error) {
	e.mu.RLock()
	ref := e.ref
	e.mu.RUnlock()
	if ref == nil {
		return models.DriftResult{}, ErrNoReference
	}
	if len(current) < e.cfg.MinSample {
		return models.DriftResult{}, ErrInsufficientData
	}

	curSorted := append([]float64(nil), current...)
	sort.Float64s(curSorted)

	perTest := make(map[string]models.DriftTest, 5)
	sub := make(map[string]float64, 5)

	// Kolmogorov-Smirnov: max ECDF distance plus asymptotic two-sample p-value
	ksStat := stat.KolmogorovSmirnov(ref.sorted, nil, curSorted, nil)
	n, m := float64(len(ref.sorted)), float64(len(curSorted))
	ksP := ksPValue(math.Sqrt(n*m/(n+m)) * ksStat)
	perTest[TestKS] = models.DriftTest{Statistic: ksStat, PValue: ksP}
	sub[TestKS] = clamp01(ksStat)

	// PSI over reference-quantile buckets, with the finite-sample expectation
	// (B-1)*(1/n + 1/m) subtracted: raw PSI concentrates around that value
	// for identical distributions, which would swamp small current windows
	curPcts := bucketPercentages(curSorted, ref.edges)
	psi := populationStabilityIndex(ref.pcts, curPcts)
	noise := float64(e.cfg.Buckets-1) * (1/n + 1/m)
	psiAdj := math.Max(0, psi-noise)
	perTest[TestPSI] = models.DriftTest{Statistic: psiAdj, PValue: math.NaN()}
	sub[TestPSI] = clamp01(psiAdj / PSISignificant)

	// Jensen-Shannon over the same histograms, normalized by its ln2 bound
	js := jensenShannon(ref.pcts, curPcts)
	perTest[TestJSDivergence] = models.DriftTest{Statistic: js, PValue: math.NaN()}
	sub[TestJSDivergence] = clamp01(js / math.Ln2)

	// standardized mean shift against the reference scale
	curMean := stat.Mean(curSorted, nil)
	refStd := math.Sqrt(ref.variance)
	var shift float64
	if refStd > 0 {
		shift = math.Abs(curMean-ref.mean) / refStd
	} else if curMean != ref.mean {
		shift = math.Inf(1)
	}
	perTest[TestMeanShift] = models.DriftTest{Statistic: shift, PValue: math.NaN()}
	sub[TestMeanShift] = clamp01(shift / 3)

	// variance ratio on a log scale, normalized so the sub-score is exactly
	// 0.5 at the acceptance band edges and saturates one octave beyond them
	curVar := stat.Variance(curSorted, nil)
	ratio := 1.0
	if ref.variance > 0 {
		ratio = curVar / ref.variance
	} else if curVar > 0 {
		ratio = math.Inf(1)
	}
	perTest[TestVarianceRatio] = models.DriftTest{Statistic: ratio, PValue: math.NaN()}
	if ratio > 0 && !math.IsInf(ratio, 0) {
		sub[TestVarianceRatio] = clamp01(math.Abs(math.Log(ratio)) / (2 * math.Log(e.cfg.VarianceBand[1])))
	} else if math.IsInf(ratio, 1) {
		sub[TestVarianceRatio] = 1
	}

	score := e.combine(sub)
	detected := score >= e.cfg.Threshold

	// the distribution-level tests can trigger on their own merit
	if !detected {
		dCrit := ksCriticalCoeff * math.Sqrt((n+m)/(n*m))
		if ksStat > dCrit || psiAdj > PSISignificant {
			detected = true
		}
	}
	return models.DriftResult{
		DriftDetected: detected,
		Score:         score,
		PerTest:       perTest,
	}, nil
}

func (e *DriftEngine) combine(sub map[string]float64) float64 {
	weights := e.cfg.Weights
	if weights == nil {
		weights = DefaultDriftConfig().Weights
	}
	var score float64
	for name, s := range sub {
		score += weights[name] * s
	}
	return clamp01(score)
}

// bucketPercentages histograms a sorted sample into the given edges. Edges
// bracket the whole real line, so every value lands in exactly one bucket.
func bucketPercentages(sorted []float64, edges []float64) []float64 {
	pcts := make([]float64, len(edges)-1)
	if len(sorted) == 0 {
		return pcts
	}
	j := 0
	for b := 0; b < len(pcts); b++ {
		hi := edges[b+1]
		count := 0
		for j < len(sorted) && (sorted[j] < hi || b == len(pcts)-1) {
			count++
			j++
		}
		pcts[b] = float64(count) / float64(len(sorted))
	}
	return pcts
}

// populationStabilityIndex with an epsilon floor so empty buckets never
// divide by or log zero.
func populationStabilityIndex(refPcts, curPcts []float64) float64 {
	const eps = 1e-6
	var psi float64
	for i := range refPcts {
		r := math.Max(refPcts[i], eps)
		c := math.Max(curPcts[i], eps)
		psi += (c - r) * math.Log(c/r)
	}
	return math.Abs(psi)
}

// jensenShannon computes JS divergence between two discrete distributions in
// nats; bounded by ln 2.
func jensenShannon(p, q []float64) float64 {
	const eps = 1e-10
	var js float64
	for i := range p {
		pi := p[i] + eps
		qi := q[i] + eps
		mi := 0.5 * (pi + qi)
		js += 0.5*pi*math.Log(pi/mi) + 0.5*qi*math.Log(qi/mi)
	}
	if js < 0 {
		js = 0
	}
	return js
}

// ksPValue is the asymptotic Kolmogorov distribution tail Q(lambda), the
// two-sample p-value for lambda = sqrt(n*m/(n+m)) * D.
func ksPValue(lambda float64) float64 {
	if lambda <= 0 {
		return 1
	}
	var sum float64
	sign := 1.0
	for k := 1; k <= 100; k++ {
		term := sign * math.Exp(-2*float64(k*k)*lambda*lambda)
		sum += term
		sign = -sign
		if math.Abs(term) < 1e-12 {
			break
		}
	}
	p := 2 * sum
	return math.Min(math.Max(p, 0), 1)
}
