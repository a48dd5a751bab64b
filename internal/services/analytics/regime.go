package analytics

import (
	"math"
	"sort"
	"sync"

	"StreamSentinel/internal/domain/models"
)

const regimeComponents = 4 // one latent component per named regime

// RegimeConfig parameterizes the mixture-model classifier. EM always
// terminates: it stops at MaxIterations even without convergence.
type RegimeConfig struct {
	MaxIterations int     // default 100
	Tolerance     float64 // log-likelihood improvement tolerance, default 1e-6
	MinTrainRows  int     // default 40 (10 per component)
}

// DefaultRegimeConfig returns the documented defaults.
func DefaultRegimeConfig() RegimeConfig {
	return RegimeConfig{MaxIterations: 100, Tolerance: 1e-6, MinTrainRows: 40}
}

// gmmComponent is one diagonal-covariance Gaussian over the feature space.
type gmmComponent struct {
	weight   float64
	mean     [3]float64
	variance [3]float64
}

// regimeModel is the immutable fitted state: scaler, components, and the
// component-to-label mapping derived once after fit.
type regimeModel struct {
	featMean   [3]float64
	featStd    [3]float64
	components [regimeComponents]gmmComponent
	labels     [regimeComponents]models.RegimeState
}

// RegimeClassifier assigns a discrete latent market state with a posterior
// over states, using a small Gaussian mixture fit by expectation-maximization
// over engineered features (return, volatility, momentum).
type RegimeClassifier struct {
	cfg RegimeConfig

	mu    sync.RWMutex
	model *regimeModel
}

// NewRegimeClassifier validates the configuration and builds an unfitted
// classifier.
func NewRegimeClassifier(cfg RegimeConfig) (*RegimeClassifier, error) {
	if cfg.MaxIterations < 1 {
		return nil, &ConfigError{Field: "max_iterations", Reason: "must be at least 1"}
	}
	if cfg.Tolerance <= 0 {
		return nil, &ConfigError{Field: "tolerance", Reason: "must be positive"}
	}
	if cfg.MinTrainRows < regimeComponents*2 {
		return nil, &ConfigError{Field: "min_train_rows", Reason: "too small for the mixture"}
	}
	return &RegimeClassifier{cfg: cfg}, nil
}

// Fitted reports whether the classifier holds a usable model.
func (c *RegimeClassifier) Fitted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model != nil
}

// Fit trains the mixture on feature rows. Initialization is deterministic
// (quantile-anchored archetypes), so identical data yields an identical
// model. A FitError leaves prior fitted state untouched.
func (c *RegimeClassifier) Fit(rows []models.RegimeFeatures) error {
	if len(rows) < c.cfg.MinTrainRows {
		return &FitError{Model: "regime_gmm", Reason: "training set too small"}
	}

	feats := make([][3]float64, len(rows))
	for i, r := range rows {
		feats[i] = [3]float64{r.Return, r.Volatility, r.Momentum}
	}

	m := &regimeModel{}
	for d := 0; d < 3; d++ {
		col := make([]float64, len(feats))
		for i := range feats {
			col[i] = feats[i][d]
		}
		mean, std := meanStd(col)
		m.featMean[d] = mean
		m.featStd[d] = std
	}
	if m.featStd[0] == 0 && m.featStd[1] == 0 && m.featStd[2] == 0 {
		return &FitError{Model: "regime_gmm", Reason: "degenerate features (zero variance)"}
	}
	for d := 0; d < 3; d++ {
		if m.featStd[d] == 0 {
			m.featStd[d] = 1 // constant dimension carries no information
		}
	}

	scaled := make([][3]float64, len(feats))
	for i, f := range feats {
		for d := 0; d < 3; d++ {
			scaled[i][d] = (f[d] - m.featMean[d]) / m.featStd[d]
		}
	}

	c.initComponents(m, scaled)
	c.runEM(m, scaled)
	c.assignLabels(m)

	c.mu.Lock()
	c.model = m
	c.mu.Unlock()
	return nil
}

// initComponents seeds the mixture deterministically with one archetype per
// regime: strong negative return, strong positive return, low volatility, and
// high volatility, each anchored at data quantiles. EM refines from there,
// so identical data always yields identical fitted parameters.
func (c *RegimeClassifier) initComponents(m *regimeModel, scaled [][3]float64) {
	cols := [3][]float64{}
	for d := 0; d < 3; d++ {
		col := make([]float64, len(scaled))
		for i := range scaled {
			col[i] = scaled[i][d]
		}
		cols[d] = col
	}
	q := func(d int, p float64) float64 { return quantileOf(cols[d], p) }

	anchors := [regimeComponents][3]float64{
		{q(0, 0.10), q(1, 0.50), q(2, 0.10)}, // declining
		{q(0, 0.90), q(1, 0.50), q(2, 0.90)}, // advancing
		{q(0, 0.50), q(1, 0.10), q(2, 0.50)}, // quiet
		{q(0, 0.50), q(1, 0.90), q(2, 0.50)}, // turbulent
	}
	for k := 0; k < regimeComponents; k++ {
		m.components[k] = gmmComponent{
			weight:   1.0 / regimeComponents,
			mean:     anchors[k],
			variance: [3]float64{1, 1, 1}, // features are standardized
		}
	}
}

// runEM iterates expectation-maximization until the log-likelihood stops
// improving by more than the tolerance or the iteration cap is reached.
func (c *RegimeClassifier) runEM(m *regimeModel, scaled [][3]float64) {
	n := len(scaled)
	resp := make([][regimeComponents]float64, n)
	prevLL := math.Inf(-1)

	for iter := 0; iter < c.cfg.MaxIterations; iter++ {
		// E-step
		var ll float64
		for i, x := range scaled {
			var total float64
			var density [regimeComponents]float64
			for k := 0; k < regimeComponents; k++ {
				density[k] = m.components[k].weight * diagGaussianPDF(x, m.components[k])
				total += density[k]
			}
			if total <= 0 {
				total = 1e-300
			}
			for k := 0; k < regimeComponents; k++ {
				resp[i][k] = density[k] / total
			}
			ll += math.Log(total)
		}

		// M-step
		for k := 0; k < regimeComponents; k++ {
			var nk float64
			for i := 0; i < n; i++ {
				nk += resp[i][k]
			}
			if nk < 1e-10 {
				continue // starved component keeps its parameters
			}
			comp := gmmComponent{weight: nk / float64(n)}
			for d := 0; d < 3; d++ {
				var sum float64
				for i := 0; i < n; i++ {
					sum += resp[i][k] * scaled[i][d]
				}
				comp.mean[d] = sum / nk
				var sq float64
				for i := 0; i < n; i++ {
					diff := scaled[i][d] - comp.mean[d]
					sq += resp[i][k] * diff * diff
				}
				comp.variance[d] = sq/nk + 1e-6
			}
			m.components[k] = comp
		}

		if ll-prevLL < c.cfg.Tolerance && iter > 0 {
			break
		}
		prevLL = ll
	}
}

// assignLabels derives the component-to-regime mapping from fitted
// parameters: the highest-volatility component is HighVolatility; of the
// rest, the one with return closest to zero is Consolidation; the remaining
// two split into Bullish/Bearish by mean return. Deterministic given the
// fitted parameters, so states never silently rename across calls.
func (c *RegimeClassifier) assignLabels(m *regimeModel) {
	idx := []int{0, 1, 2, 3}
	sort.SliceStable(idx, func(a, b int) bool {
		return m.components[idx[a]].mean[1] > m.components[idx[b]].mean[1]
	})
	m.labels[idx[0]] = models.RegimeHighVolatility

	rest := idx[1:]
	sort.SliceStable(rest, func(a, b int) bool {
		return math.Abs(m.components[rest[a]].mean[0]) < math.Abs(m.components[rest[b]].mean[0])
	})
	m.labels[rest[0]] = models.RegimeConsolidation

	if m.components[rest[1]].mean[0] >= m.components[rest[2]].mean[0] {
		m.labels[rest[1]] = models.RegimeBullish
		m.labels[rest[2]] = models.RegimeBearish
	} else {
		m.labels[rest[1]] = models.RegimeBearish
		m.labels[rest[2]] = models.RegimeBullish
	}
}

// Classify returns the most likely regime and the full posterior for one
// feature row. Returns ErrNotFitted before a successful Fit. Identical
// features against an unchanged model always produce identical output.
func (c *RegimeClassifier) Classify(f models.RegimeFeatures) (models.RegimeState, models.RegimePosterior, error) {
	c.mu.RLock()
	m := c.model
	c.mu.RUnlock()
	if m == nil {
		return "", nil, ErrNotFitted
	}

	var x [3]float64
	raw := [3]float64{f.Return, f.Volatility, f.Momentum}
	for d := 0; d < 3; d++ {
		x[d] = (raw[d] - m.featMean[d]) / m.featStd[d]
	}

	var total float64
	var density [regimeComponents]float64
	for k := 0; k < regimeComponents; k++ {
		density[k] = m.components[k].weight * diagGaussianPDF(x, m.components[k])
		total += density[k]
	}
	if total <= 0 {
		total = 1e-300
	}

	posterior := make(models.RegimePosterior, regimeComponents)
	best := 0
	for k := 0; k < regimeComponents; k++ {
		posterior[m.labels[k]] += density[k] / total
		if density[k] > density[best] {
			best = k
		}
	}
	return m.labels[best], posterior, nil
}

// Transitioned reports whether the regime changed between two observations.
func (c *RegimeClassifier) Transitioned(prev, cur models.RegimeState) bool {
	return prev != cur
}

// diagGaussianPDF evaluates a diagonal-covariance Gaussian density.
func diagGaussianPDF(x [3]float64, comp gmmComponent) float64 {
	p := 1.0
	for d := 0; d < 3; d++ {
		v := comp.variance[d]
		diff := x[d] - comp.mean[d]
		p *= math.Exp(-diff*diff/(2*v)) / math.Sqrt(2*math.Pi*v)
	}
	return p
}
