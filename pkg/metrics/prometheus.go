package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	observations *prometheus.CounterVec
	anomalies    *prometheus.CounterVec
	driftScore   *prometheus.GaugeVec
	regimeState  *prometheus.GaugeVec
	fitDuration  *prometheus.HistogramVec
	errorsTotal  *prometheus.CounterVec
	lastValue    *prometheus.GaugeVec
	latency      *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		observations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streamsentinel_observations_total",
				Help: "Total number of observations processed",
			},
			[]string{"symbol"},
		),
		anomalies: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streamsentinel_anomalies_total",
				Help: "Anomalies flagged, by symbol and detection method",
			},
			[]string{"symbol", "method"},
		),
		driftScore: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "streamsentinel_drift_score",
				Help: "Latest combined drift score per symbol",
			},
			[]string{"symbol"},
		),
		regimeState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "streamsentinel_regime_state",
				Help: "Current regime per symbol (1 for the active state)",
			},
			[]string{"symbol", "state"},
		),
		fitDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "streamsentinel_fit_duration_seconds",
				Help:    "Duration of model fits in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streamsentinel_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastValue: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "streamsentinel_last_value",
				Help: "Last observed value for a symbol",
			},
			[]string{"symbol"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "streamsentinel_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordObservation counts one processed observation.
func (r *Recorder) RecordObservation(symbol string) {
	r.observations.WithLabelValues(symbol).Inc()
}

// RecordAnomaly counts one flagged anomaly for a detection method.
func (r *Recorder) RecordAnomaly(symbol, method string) {
	r.anomalies.WithLabelValues(symbol, method).Inc()
}

// RecordDriftScore sets the latest combined drift score.
func (r *Recorder) RecordDriftScore(symbol string, score float64) {
	r.driftScore.WithLabelValues(symbol).Set(score)
}

// RecordRegime marks the active regime for a symbol and clears the others.
func (r *Recorder) RecordRegime(symbol, state string) {
	for _, s := range []string{"bullish", "bearish", "consolidation", "high_volatility"} {
		v := 0.0
		if s == state {
			v = 1
		}
		r.regimeState.WithLabelValues(symbol, s).Set(v)
	}
}

// RecordFitDuration records how long a model fit took.
func (r *Recorder) RecordFitDuration(model string, seconds float64) {
	r.fitDuration.WithLabelValues(model).Observe(seconds)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastValue records the last observed value for a symbol.
func (r *Recorder) RecordLastValue(symbol string, value float64) {
	r.lastValue.WithLabelValues(symbol).Set(value)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
