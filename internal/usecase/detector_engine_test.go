package usecase

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"StreamSentinel/internal/domain/models"
	"StreamSentinel/internal/services/alerts"
	"StreamSentinel/internal/services/analytics"
	"StreamSentinel/pkg/config"
	applogger "StreamSentinel/pkg/logger"
)

type recordingMetrics struct {
	mu        sync.Mutex
	anomalies map[string]int
	errors    map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{anomalies: make(map[string]int), errors: make(map[string]int)}
}

func (m *recordingMetrics) RecordObservation(string)          {}
func (m *recordingMetrics) RecordDriftScore(string, float64)  {}
func (m *recordingMetrics) RecordRegime(string, string)       {}
func (m *recordingMetrics) RecordFitDuration(string, float64) {}
func (m *recordingMetrics) RecordLastValue(string, float64)   {}
func (m *recordingMetrics) RecordLatency(string, float64)     {}
func (m *recordingMetrics) RecordAnomaly(_, method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anomalies[method]++
}
func (m *recordingMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[kind]++
}

type memoryHistory struct {
	obs []models.Observation
}

func (h *memoryHistory) GetRange(_ context.Context, _ string, _, _ time.Time, limit int) ([]models.Observation, error) {
	if len(h.obs) > limit {
		return h.obs[:limit], nil
	}
	return h.obs, nil
}

func (h *memoryHistory) GetLatestN(_ context.Context, _ string, n int) ([]models.Observation, error) {
	if len(h.obs) > n {
		return h.obs[len(h.obs)-n:], nil
	}
	return h.obs, nil
}

type capturingPublisher struct {
	mu     sync.Mutex
	alerts []models.Alert
}

func (p *capturingPublisher) Publish(context.Context, *models.Observation) error        { return nil }
func (p *capturingPublisher) PublishBatch(context.Context, []*models.Observation) error { return nil }
func (p *capturingPublisher) Close() error                                              { return nil }
func (p *capturingPublisher) PublishAlert(_ context.Context, a models.Alert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, a)
	return nil
}

func (p *capturingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.alerts)
}

func testLogger(t *testing.T) *applogger.Logger {
	t.Helper()
	l, err := applogger.New(&applogger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

func testEngineConfig() EngineConfig {
	return EngineConfig{
		WindowSize:          16,
		Statistical:         analytics.DefaultStatisticalConfig(),
		Ensemble:            analytics.DefaultEnsembleConfig(),
		Learned:             analytics.DefaultLearnedConfig(),
		Drift:               analytics.DefaultDriftConfig(),
		Regime:              analytics.DefaultRegimeConfig(),
		Thresholds:          alerts.DefaultThresholds(),
		MaxAlerts:           50,
		RefitInterval:       time.Hour,
		TrainingWindow:      300,
		ReferenceWindow:     200,
		RegimeFeatureWindow: 5,
	}
}

func TestEngineConfigFromAppCarriesWeights(t *testing.T) {
	cfg := &config.Config{}
	cfg.Detection.Weights = map[string]float64{
		analytics.MethodZScore:    0.4,
		analytics.MethodModifiedZ: 0.3,
		analytics.MethodIQR:       0.2,
		analytics.MethodGrubbs:    0.1,
	}
	cfg.Drift.Weights = map[string]float64{
		analytics.TestKS:  0.5,
		analytics.TestPSI: 0.5,
	}

	ec := EngineConfigFromApp(cfg)
	if ec.Ensemble.Weights[analytics.MethodZScore] != 0.4 {
		t.Fatalf("ensemble weights not carried: %v", ec.Ensemble.Weights)
	}
	if ec.Drift.Weights[analytics.TestKS] != 0.5 {
		t.Fatalf("drift weights not carried: %v", ec.Drift.Weights)
	}

	ec = EngineConfigFromApp(&config.Config{})
	if ec.Ensemble.Weights != nil {
		t.Fatalf("absent ensemble weights should stay nil: %v", ec.Ensemble.Weights)
	}
	if ec.Drift.Weights[analytics.TestKS] != analytics.DefaultDriftConfig().Weights[analytics.TestKS] {
		t.Fatalf("absent drift weights should fall back to defaults: %v", ec.Drift.Weights)
	}
}

func TestNewDetectorEngineRejectsBadConfig(t *testing.T) {
	cfg := testEngineConfig()
	cfg.WindowSize = 1
	if _, err := NewDetectorEngine(cfg, newRecordingMetrics(), testLogger(t)); err == nil {
		t.Fatalf("expected error for window size 1")
	}

	cfg = testEngineConfig()
	cfg.Learned.Contamination = 0.9
	if _, err := NewDetectorEngine(cfg, newRecordingMetrics(), testLogger(t)); err == nil {
		t.Fatalf("expected error for contamination 0.9")
	}
}

func TestEngineWarmupSnapshotCarriesError(t *testing.T) {
	engine, err := NewDetectorEngine(testEngineConfig(), newRecordingMetrics(), testLogger(t))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	o := &models.Observation{Symbol: "AAPL", Timestamp: time.Now(), Value: 100}
	if err := engine.Process(context.Background(), o); err != nil {
		t.Fatalf("process: %v", err)
	}

	snap, err := engine.Snapshot(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Ensemble != nil {
		t.Fatalf("expected no ensemble verdict during warmup")
	}
	if _, ok := snap.Errors["ensemble"]; !ok {
		t.Fatalf("expected warmup error in snapshot, got %v", snap.Errors)
	}
}

func TestEngineRejectsInvalidObservation(t *testing.T) {
	engine, err := NewDetectorEngine(testEngineConfig(), newRecordingMetrics(), testLogger(t))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if err := engine.Process(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil observation")
	}
	if err := engine.Process(context.Background(), &models.Observation{Symbol: "", Timestamp: time.Now(), Value: 1}); err == nil {
		t.Fatalf("expected error for empty symbol")
	}
}

func TestEngineFlagsSpikeAndRaisesAlert(t *testing.T) {
	pub := &capturingPublisher{}
	engine, err := NewDetectorEngine(testEngineConfig(), newRecordingMetrics(), testLogger(t),
		WithAlertPublisher(pub))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	ctx := context.Background()
	base := time.Now()
	jitter := []float64{-0.1, 0.1, -0.05, 0.05}
	for i := 0; i < 20; i++ {
		o := &models.Observation{
			Symbol:    "AAPL",
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Value:     10 + jitter[i%len(jitter)],
		}
		if err := engine.Process(ctx, o); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
	}

	spike := &models.Observation{Symbol: "AAPL", Timestamp: base.Add(21 * time.Second), Value: 100}
	if err := engine.Process(ctx, spike); err != nil {
		t.Fatalf("process spike: %v", err)
	}

	snap, err := engine.Snapshot(ctx, "AAPL")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Ensemble == nil || !snap.Ensemble.IsAnomaly {
		t.Fatalf("expected spike to be flagged, got %+v", snap.Ensemble)
	}
	if snap.Ensemble.Symbol != "AAPL" {
		t.Fatalf("ensemble symbol not set: %q", snap.Ensemble.Symbol)
	}
	if len(snap.Ensemble.PerMethod) == 0 {
		t.Fatalf("expected per-method results")
	}

	recent := engine.RecentAlerts(10, "")
	if len(recent) == 0 {
		t.Fatalf("expected an anomaly alert")
	}
	if recent[0].Type != "anomaly" {
		t.Fatalf("unexpected alert type %q", recent[0].Type)
	}
	if pub.count() == 0 {
		t.Fatalf("expected alert published")
	}
	if sum := engine.AlertSummary(); sum["anomaly"] == 0 {
		t.Fatalf("expected anomaly in summary, got %v", sum)
	}
}

// twoPhaseSeries builds a random walk whose second half has higher volatility
// and upward drift, enough structure for every model fit to succeed.
func twoPhaseSeries(n int) []models.Observation {
	rng := rand.New(rand.NewSource(7))
	obs := make([]models.Observation, n)
	v := 100.0
	base := time.Now().Add(-time.Duration(n) * time.Second)
	for i := 0; i < n; i++ {
		if i < n/2 {
			v += rng.NormFloat64() * 0.2
		} else {
			v += rng.NormFloat64()*1.5 + 0.3
		}
		obs[i] = models.Observation{
			Symbol:    "AAPL",
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Value:     v,
		}
	}
	return obs
}

func TestEngineFitSymbolEnablesAllModels(t *testing.T) {
	history := &memoryHistory{obs: twoPhaseSeries(300)}
	engine, err := NewDetectorEngine(testEngineConfig(), newRecordingMetrics(), testLogger(t),
		WithHistoryStore(history))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	ctx := context.Background()
	if err := engine.FitSymbol(ctx, "AAPL"); err != nil {
		t.Fatalf("fit: %v", err)
	}

	// stream a stretch of fresh points so drift and regime have a window
	base := time.Now()
	rng := rand.New(rand.NewSource(11))
	v := history.obs[len(history.obs)-1].Value
	for i := 0; i < 16; i++ {
		v += rng.NormFloat64() * 0.5
		o := &models.Observation{Symbol: "AAPL", Timestamp: base.Add(time.Duration(i) * time.Second), Value: v}
		if err := engine.Process(ctx, o); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
	}

	snap, err := engine.Snapshot(ctx, "AAPL")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Ensemble == nil {
		t.Fatalf("expected ensemble verdict")
	}
	if _, ok := snap.Ensemble.PerMethod[analytics.ModelIsolationForest]; !ok {
		t.Fatalf("expected learned model results after fit, got %v", snap.Ensemble.PerMethod)
	}
	if snap.Drift == nil {
		t.Fatalf("expected drift verdict after reference fit, errors: %v", snap.Errors)
	}
	if snap.Regime == nil {
		t.Fatalf("expected regime classification after fit, errors: %v", snap.Errors)
	}
	if snap.Regime.Confidence <= 0 {
		t.Fatalf("expected positive regime confidence")
	}
}

func TestEngineFitSymbolWithoutHistoryFails(t *testing.T) {
	engine, err := NewDetectorEngine(testEngineConfig(), newRecordingMetrics(), testLogger(t))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if err := engine.FitSymbol(context.Background(), "AAPL"); err == nil {
		t.Fatalf("expected error without history store")
	}
}

func TestEngineSnapshotUnknownSymbol(t *testing.T) {
	engine, err := NewDetectorEngine(testEngineConfig(), newRecordingMetrics(), testLogger(t))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if _, err := engine.Snapshot(context.Background(), "UNKNOWN"); err == nil {
		t.Fatalf("expected error for unknown symbol")
	}
}
