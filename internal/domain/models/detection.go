package models

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// Observation is a single typed sample from a numeric stream.
// Immutable once recorded.
type Observation struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// DetectorResult is the outcome of one detection method for one value.
// Details maps raw-statistic names to their unnormalized values.
type DetectorResult struct {
	IsAnomaly bool               `json:"is_anomaly"`
	Score     float64            `json:"score"` // normalized to [0,1]
	Details   map[string]float64 `json:"details,omitempty"`
}

// EnsembleResult combines statistical and learned detector scores for a point.
type EnsembleResult struct {
	Symbol    string                    `json:"symbol"`
	Timestamp time.Time                 `json:"timestamp"`
	IsAnomaly bool                      `json:"is_anomaly"`
	Score     float64                   `json:"score"` // weighted combination, [0,1]
	PerMethod map[string]DetectorResult `json:"per_method"`
}

// DriftTest holds the raw statistic and, where defined, the p-value of a
// single distribution-comparison test. PValue is NaN for tests without one.
type DriftTest struct {
	Statistic float64 `json:"statistic"`
	PValue    float64 `json:"p_value"`
}

// jsonNumber renders a float64 for JSON, mapping NaN and the infinities to
// null. An unbounded statistic (zero-variance reference) must not poison the
// whole result.
func jsonNumber(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "null"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// MarshalJSON encodes undefined or unbounded values as null, since JSON has
// neither NaN nor Inf.
func (t DriftTest) MarshalJSON() ([]byte, error) {
	return []byte(`{"statistic":` + jsonNumber(t.Statistic) + `,"p_value":` + jsonNumber(t.PValue) + `}`), nil
}

// UnmarshalJSON decodes null back into NaN.
func (t *DriftTest) UnmarshalJSON(data []byte) error {
	var raw struct {
		Statistic *float64 `json:"statistic"`
		PValue    *float64 `json:"p_value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.Statistic = math.NaN()
	if raw.Statistic != nil {
		t.Statistic = *raw.Statistic
	}
	t.PValue = math.NaN()
	if raw.PValue != nil {
		t.PValue = *raw.PValue
	}
	return nil
}

// DriftResult is the aggregate outcome of comparing a current window against
// the frozen reference distribution.
type DriftResult struct {
	Symbol        string               `json:"symbol"`
	Timestamp     time.Time            `json:"timestamp"`
	DriftDetected bool                 `json:"drift_detected"`
	Score         float64              `json:"score"` // [0,1]
	PerTest       map[string]DriftTest `json:"per_test"`
}

// RegimeState is a discrete latent market state.
type RegimeState string

const (
	RegimeBullish        RegimeState = "bullish"
	RegimeBearish        RegimeState = "bearish"
	RegimeConsolidation  RegimeState = "consolidation"
	RegimeHighVolatility RegimeState = "high_volatility"
)

// RegimePosterior maps each state to its probability; probabilities sum to 1.
type RegimePosterior map[RegimeState]float64

// Regime is the classified market state for a symbol at a point in time.
type Regime struct {
	Symbol     string          `json:"symbol"`
	Timestamp  time.Time       `json:"timestamp"`
	State      RegimeState     `json:"state"`
	Posterior  RegimePosterior `json:"posterior"`
	Confidence float64         `json:"confidence"` // max posterior probability
}

// RegimeFeatures are the engineered inputs to the regime classifier.
type RegimeFeatures struct {
	Return     float64 `json:"return"`     // rolling mean return
	Volatility float64 `json:"volatility"` // rolling return std
	Momentum   float64 `json:"momentum"`   // cumulative return over the window
}

// Severity buckets for alerting.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is an in-memory alert record raised by the detection pipeline.
type Alert struct {
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Type      string    `json:"type"` // "anomaly", "drift", "regime_change"
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Score     float64   `json:"score"`
}

// DetectionSnapshot is a consolidated view of the latest judgments for a
// symbol, served to presentation consumers.
type DetectionSnapshot struct {
	Symbol    string            `json:"symbol"`
	Timestamp time.Time         `json:"timestamp"`
	Ensemble  *EnsembleResult   `json:"ensemble,omitempty"`
	Drift     *DriftResult      `json:"drift,omitempty"`
	Regime    *Regime           `json:"regime,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
}
