package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"StreamSentinel/internal/domain/models"
	domrepo "StreamSentinel/internal/domain/repository"
	mid "StreamSentinel/internal/middleware"
	icache "StreamSentinel/internal/service/cache"
	"StreamSentinel/internal/services/alerts"
	"StreamSentinel/internal/services/analytics"
	"StreamSentinel/internal/services/features"
	"StreamSentinel/pkg/config"
	applogger "StreamSentinel/pkg/logger"
	"StreamSentinel/pkg/queue"
)

// FitJobType is the queue message type for background model fits.
const FitJobType = "fit_models"

// FitJobPayload identifies the symbol whose models should be refit.
type FitJobPayload struct {
	Symbol string `json:"symbol"`
}

// EngineConfig carries the detection knobs the engine needs, extracted from
// the application config.
type EngineConfig struct {
	WindowSize          int
	Statistical         analytics.StatisticalConfig
	Ensemble            analytics.EnsembleConfig
	Learned             analytics.LearnedConfig
	Drift               analytics.DriftConfig
	Regime              analytics.RegimeConfig
	Thresholds          alerts.Thresholds
	MaxAlerts           int
	RefitInterval       time.Duration
	TrainingWindow      int
	ReferenceWindow     int
	RegimeFeatureWindow int
}

// EngineConfigFromApp maps the YAML config onto the detection configs.
func EngineConfigFromApp(cfg *config.Config) EngineConfig {
	ec := EngineConfig{
		WindowSize: cfg.Detection.WindowSize,
		Statistical: analytics.StatisticalConfig{
			ZThreshold:    cfg.Detection.ZThreshold,
			IQRMultiplier: cfg.Detection.IQRMultiplier,
			GrubbsAlpha:   cfg.Detection.GrubbsAlpha,
		},
		Ensemble: analytics.EnsembleConfig{
			Weights:            cfg.Detection.Weights,
			DecisionThreshold:  cfg.Detection.DecisionThreshold,
			AllowSingleTrigger: cfg.Detection.AllowSingleTrigger,
		},
		Learned: analytics.LearnedConfig{
			Contamination:            cfg.Learned.Contamination,
			MinTrainSize:             cfg.Learned.MinTrainSize,
			KNeighbors:               cfg.Learned.KNeighbors,
			ReconstructionPercentile: cfg.Learned.ReconstructionPct,
			EWMAAlpha:                cfg.Learned.EWMAAlpha,
			Seed:                     cfg.Learned.Seed,
		},
		Drift: analytics.DriftConfig{
			Threshold:    cfg.Drift.Threshold,
			Buckets:      cfg.Drift.Buckets,
			MinSample:    cfg.Drift.MinSample,
			VarianceBand: cfg.Drift.VarianceBand,
			Weights:      driftWeights(cfg.Drift.Weights),
		},
		Regime: analytics.RegimeConfig{
			MaxIterations: cfg.Regime.MaxIterations,
			Tolerance:     cfg.Regime.Tolerance,
			MinTrainRows:  cfg.Regime.MinTrainRows,
		},
		Thresholds: alerts.Thresholds{
			Warning:  cfg.Alerts.WarningThreshold,
			Critical: cfg.Alerts.CriticalThreshold,
		},
		MaxAlerts:           cfg.Alerts.MaxRetained,
		RefitInterval:       cfg.Learned.RefitInterval,
		TrainingWindow:      cfg.Learned.TrainingWindow,
		ReferenceWindow:     cfg.Drift.ReferenceWindow,
		RegimeFeatureWindow: cfg.Learned.RegimeFeatureWindow,
	}
	return ec
}

func driftWeights(configured map[string]float64) map[string]float64 {
	if configured != nil {
		return configured
	}
	return analytics.DefaultDriftConfig().Weights
}

// symbolState holds all per-symbol detection state. Symbols never share
// mutable state; each state carries its own lock.
type symbolState struct {
	mu sync.Mutex

	rolling *analytics.RollingStats
	learned *analytics.LearnedBank
	drift   *analytics.DriftEngine
	regime  *analytics.RegimeClassifier

	lastRegime models.RegimeState
	lastFit    time.Time
	snapshot   *models.DetectionSnapshot
}

// DetectorEngine runs the full detection stack for every observed symbol:
// rolling statistics, statistical and learned anomaly banks, ensemble
// aggregation, drift checks, regime classification, and alerting.
type DetectorEngine struct {
	cfg  EngineConfig
	bank *analytics.StatisticalBank
	agg  *analytics.Aggregator

	alerts    *alerts.Manager
	history   domrepo.HistoryStore
	snapshots domrepo.SnapshotStore
	publisher domrepo.Publisher
	cache     icache.BytesCache
	metrics   domrepo.Metrics
	fitQueue  queue.QueueService
	logger    *applogger.Logger

	mu     sync.Mutex
	states map[string]*symbolState
}

// EngineOption configures optional collaborators.
type EngineOption func(*DetectorEngine)

// WithHistoryStore enables background fits fed from persisted observations.
func WithHistoryStore(h domrepo.HistoryStore) EngineOption {
	return func(e *DetectorEngine) { e.history = h }
}

// WithSnapshotStore persists every detection snapshot.
func WithSnapshotStore(s domrepo.SnapshotStore) EngineOption {
	return func(e *DetectorEngine) { e.snapshots = s }
}

// WithAlertPublisher publishes raised alerts to the event backbone.
func WithAlertPublisher(p domrepo.Publisher) EngineOption {
	return func(e *DetectorEngine) { e.publisher = p }
}

// WithSnapshotCache caches the latest snapshot per symbol.
func WithSnapshotCache(c icache.BytesCache) EngineOption {
	return func(e *DetectorEngine) { e.cache = c }
}

// WithFitQueue enqueues model refits instead of running them inline.
func WithFitQueue(q queue.QueueService) EngineOption {
	return func(e *DetectorEngine) { e.fitQueue = q }
}

// NewDetectorEngine validates the detection configuration and builds the
// engine. Configuration errors surface here, before any data flows.
func NewDetectorEngine(cfg EngineConfig, metrics domrepo.Metrics, logger *applogger.Logger, opts ...EngineOption) (*DetectorEngine, error) {
	bank, err := analytics.NewStatisticalBank(cfg.Statistical)
	if err != nil {
		return nil, fmt.Errorf("statistical bank: %w", err)
	}
	agg, err := analytics.NewAggregator(cfg.Ensemble)
	if err != nil {
		return nil, fmt.Errorf("ensemble: %w", err)
	}
	// fail fast on the per-symbol configs too
	if _, err := analytics.NewRollingStats(cfg.WindowSize); err != nil {
		return nil, fmt.Errorf("rolling window: %w", err)
	}
	if _, err := analytics.NewLearnedBank(cfg.Learned); err != nil {
		return nil, fmt.Errorf("learned bank: %w", err)
	}
	if _, err := analytics.NewDriftEngine(cfg.Drift); err != nil {
		return nil, fmt.Errorf("drift engine: %w", err)
	}
	if _, err := analytics.NewRegimeClassifier(cfg.Regime); err != nil {
		return nil, fmt.Errorf("regime classifier: %w", err)
	}

	e := &DetectorEngine{
		cfg:     cfg,
		bank:    bank,
		agg:     agg,
		alerts:  alerts.NewManager(cfg.Thresholds, cfg.MaxAlerts),
		metrics: metrics,
		logger:  logger,
		states:  make(map[string]*symbolState),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Alerts exposes the alert manager.
func (e *DetectorEngine) Alerts() *alerts.Manager { return e.alerts }

// RecentAlerts implements service.AlertSource.
func (e *DetectorEngine) RecentAlerts(n int, severity models.Severity) []models.Alert {
	return e.alerts.Recent(n, severity)
}

// AlertSummary implements service.AlertSource.
func (e *DetectorEngine) AlertSummary() map[string]int { return e.alerts.Summary() }

func (e *DetectorEngine) state(symbol string) *symbolState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.states[symbol]; ok {
		return st
	}
	// constructors cannot fail here: the same configs validated in New
	rolling, _ := analytics.NewRollingStats(e.cfg.WindowSize)
	learned, _ := analytics.NewLearnedBank(e.cfg.Learned)
	drift, _ := analytics.NewDriftEngine(e.cfg.Drift)
	regime, _ := analytics.NewRegimeClassifier(e.cfg.Regime)
	st := &symbolState{
		rolling: rolling,
		learned: learned,
		drift:   drift,
		regime:  regime,
	}
	e.states[symbol] = st
	return st
}

// Process runs one observation through the full detection stack and records
// the resulting snapshot. Degenerate numeric conditions surface in the
// snapshot's Errors map; they never stop the stream.
func (e *DetectorEngine) Process(ctx context.Context, o *models.Observation) error {
	if err := mid.ValidateObservation(o); err != nil {
		e.metrics.RecordError("engine_validate")
		return err
	}
	start := time.Now()

	st := e.state(o.Symbol)
	st.mu.Lock()

	snapErrors := make(map[string]string)
	snap := &models.DetectionSnapshot{Symbol: o.Symbol, Timestamp: o.Timestamp}

	stats, err := st.rolling.Update(o.Value)
	if errors.Is(err, analytics.ErrInsufficientData) {
		snapErrors["ensemble"] = err.Error()
	} else {
		ensemble := e.scorePoint(st, o, stats)
		snap.Ensemble = &ensemble
		if ensemble.IsAnomaly {
			e.metrics.RecordAnomaly(o.Symbol, "ensemble")
			a := e.alerts.Add(o.Symbol, "anomaly",
				fmt.Sprintf("ensemble score %.3f at value %.6g", ensemble.Score, o.Value),
				ensemble.Score)
			e.publishAlert(ctx, a)
		}
	}

	if drift, derr := e.checkDrift(st, o); derr != nil {
		if !errors.Is(derr, analytics.ErrNoReference) {
			snapErrors["drift"] = derr.Error()
		}
	} else {
		snap.Drift = drift
		e.metrics.RecordDriftScore(o.Symbol, drift.Score)
		if drift.DriftDetected {
			a := e.alerts.Add(o.Symbol, "drift",
				fmt.Sprintf("distribution drift score %.3f", drift.Score), drift.Score)
			e.publishAlert(ctx, a)
		}
	}

	if regime, rerr := e.classifyRegime(st, o); rerr != nil {
		if !errors.Is(rerr, analytics.ErrNotFitted) && !errors.Is(rerr, analytics.ErrInsufficientData) {
			snapErrors["regime"] = rerr.Error()
		}
	} else {
		snap.Regime = regime
		e.metrics.RecordRegime(o.Symbol, string(regime.State))
		if st.lastRegime != "" && st.regime.Transitioned(st.lastRegime, regime.State) {
			a := e.alerts.Add(o.Symbol, "regime_change",
				fmt.Sprintf("regime %s -> %s", st.lastRegime, regime.State), regime.Confidence)
			e.publishAlert(ctx, a)
		}
		st.lastRegime = regime.State
	}

	if len(snapErrors) > 0 {
		snap.Errors = snapErrors
	}
	st.snapshot = snap
	fitDue := e.fitDue(st)
	if fitDue {
		st.lastFit = time.Now()
	}
	st.mu.Unlock()

	e.metrics.RecordObservation(o.Symbol)
	e.metrics.RecordLastValue(o.Symbol, o.Value)

	e.persistSnapshot(ctx, snap)
	if fitDue {
		e.scheduleFit(ctx, o.Symbol)
	}

	e.metrics.RecordLatency("detect", time.Since(start).Seconds())
	return nil
}

// scorePoint evaluates the statistical bank and, when fitted, the learned
// bank, then combines both through the ensemble. Caller holds st.mu.
func (e *DetectorEngine) scorePoint(st *symbolState, o *models.Observation, stats analytics.StatsSnapshot) models.EnsembleResult {
	statResults := e.bank.Evaluate(o.Value, stats)
	for name, r := range statResults {
		if r.IsAnomaly {
			e.metrics.RecordAnomaly(o.Symbol, name)
		}
	}

	var learnedResults map[string]models.DetectorResult
	if st.learned.Fitted() {
		res, err := st.learned.DetectPoint(st.rolling.Values())
		if err == nil {
			learnedResults = res
		}
	}

	ensemble := e.agg.Combine(statResults, learnedResults)
	ensemble.Symbol = o.Symbol
	ensemble.Timestamp = o.Timestamp
	return ensemble
}

// checkDrift compares the current rolling window against the frozen
// reference. Caller holds st.mu.
func (e *DetectorEngine) checkDrift(st *symbolState, o *models.Observation) (*models.DriftResult, error) {
	if !st.drift.HasReference() {
		return nil, analytics.ErrNoReference
	}
	res, err := st.drift.DetectDrift(st.rolling.Values())
	if err != nil {
		return nil, err
	}
	res.Symbol = o.Symbol
	res.Timestamp = o.Timestamp
	return &res, nil
}

// classifyRegime derives features from the rolling window and classifies.
// Caller holds st.mu.
func (e *DetectorEngine) classifyRegime(st *symbolState, o *models.Observation) (*models.Regime, error) {
	if !st.regime.Fitted() {
		return nil, analytics.ErrNotFitted
	}
	returns := features.ComputeLogReturns(st.rolling.Values())
	feat, ok := features.LatestRegimeFeatures(returns, e.cfg.RegimeFeatureWindow)
	if !ok {
		return nil, analytics.ErrInsufficientData
	}
	state, posterior, err := st.regime.Classify(feat)
	if err != nil {
		return nil, err
	}
	return &models.Regime{
		Symbol:     o.Symbol,
		Timestamp:  o.Timestamp,
		State:      state,
		Posterior:  posterior,
		Confidence: posterior[state],
	}, nil
}

// fitDue reports whether a background fit should be scheduled. Caller holds
// st.mu.
func (e *DetectorEngine) fitDue(st *symbolState) bool {
	if e.history == nil {
		return false
	}
	if st.rolling.Count() < e.cfg.Learned.MinTrainSize {
		return false
	}
	return st.lastFit.IsZero() || time.Since(st.lastFit) >= e.cfg.RefitInterval
}

func (e *DetectorEngine) scheduleFit(ctx context.Context, symbol string) {
	if e.fitQueue != nil {
		if err := e.fitQueue.PublishMessage(ctx, FitJobType, FitJobPayload{Symbol: symbol}); err != nil {
			e.metrics.RecordError("fit_enqueue")
			e.logger.Warn("fit enqueue failed",
				applogger.String("symbol", symbol), applogger.Error(err))
		}
		return
	}
	// no queue configured: fit in a detached goroutine off the hot path
	go func() {
		if err := e.FitSymbol(context.Background(), symbol); err != nil {
			e.logger.Warn("background fit failed",
				applogger.String("symbol", symbol), applogger.Error(err))
		}
	}()
}

// FitSymbol refits the learned bank, freezes a new drift reference, and
// retrains the regime classifier from persisted history. The three fits run
// concurrently; a failed fit keeps that model's previous state.
func (e *DetectorEngine) FitSymbol(ctx context.Context, symbol string) error {
	if e.history == nil {
		return fmt.Errorf("no history store configured")
	}
	n := e.cfg.TrainingWindow
	if e.cfg.ReferenceWindow > n {
		n = e.cfg.ReferenceWindow
	}
	obs, err := e.history.GetLatestN(ctx, symbol, n)
	if err != nil {
		return fmt.Errorf("fetch training history: %w", err)
	}
	values := make([]float64, len(obs))
	for i, o := range obs {
		values[i] = o.Value
	}

	st := e.state(symbol)

	type fitResult struct {
		model string
		err   error
	}
	ch := make(chan fitResult, 3)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		start := time.Now()
		err := st.learned.FitValues(values)
		e.metrics.RecordFitDuration("learned", time.Since(start).Seconds())
		ch <- fitResult{"learned", err}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		ref := values
		if len(ref) > e.cfg.ReferenceWindow {
			ref = ref[len(ref)-e.cfg.ReferenceWindow:]
		}
		start := time.Now()
		err := st.drift.SetReference(ref)
		e.metrics.RecordFitDuration("drift_reference", time.Since(start).Seconds())
		ch <- fitResult{"drift_reference", err}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		returns := features.ComputeLogReturns(values)
		rows := features.RegimeWindows(returns, e.cfg.RegimeFeatureWindow)
		start := time.Now()
		err := st.regime.Fit(rows)
		e.metrics.RecordFitDuration("regime", time.Since(start).Seconds())
		ch <- fitResult{"regime", err}
	}()

	go func() { wg.Wait(); close(ch) }()

	var failed []string
	for r := range ch {
		if r.err != nil {
			e.metrics.RecordError("fit_" + r.model)
			e.logger.Warn("model fit failed",
				applogger.String("symbol", symbol),
				applogger.String("model", r.model),
				applogger.Error(r.err))
			failed = append(failed, r.model)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("fit incomplete for %s: %v", symbol, failed)
	}
	e.logger.Info("models refit",
		applogger.String("symbol", symbol), applogger.Int("samples", len(values)))
	return nil
}

// Snapshot implements service.SnapshotSource: the in-memory latest state,
// falling back to the persisted snapshot for symbols this instance has not
// seen yet.
func (e *DetectorEngine) Snapshot(ctx context.Context, symbol string) (*models.DetectionSnapshot, error) {
	e.mu.Lock()
	st, ok := e.states[symbol]
	e.mu.Unlock()
	if ok {
		st.mu.Lock()
		snap := st.snapshot
		st.mu.Unlock()
		if snap != nil {
			return snap, nil
		}
	}
	if e.snapshots != nil {
		return e.snapshots.LatestSnapshot(ctx, symbol)
	}
	return nil, fmt.Errorf("no snapshot for symbol %s", symbol)
}

func (e *DetectorEngine) persistSnapshot(ctx context.Context, snap *models.DetectionSnapshot) {
	if e.snapshots != nil {
		if err := e.snapshots.StoreSnapshot(ctx, snap); err != nil {
			e.metrics.RecordError("snapshot_store")
			e.logger.Warn("snapshot store failed",
				applogger.String("symbol", snap.Symbol), applogger.Error(err))
		}
	}
	if e.cache != nil {
		b, err := json.Marshal(snap)
		if err != nil {
			e.metrics.RecordError("snapshot_marshal")
			e.logger.Warn("snapshot marshal failed",
				applogger.String("symbol", snap.Symbol), applogger.Error(err))
			return
		}
		if err := e.cache.SetBytes("snapshot:"+snap.Symbol, b, 30*time.Second); err != nil {
			e.metrics.RecordError("snapshot_cache")
		}
	}
}

func (e *DetectorEngine) publishAlert(ctx context.Context, a models.Alert) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishAlert(ctx, a); err != nil {
		e.metrics.RecordError("alert_publish")
		e.logger.Warn("alert publish failed",
			applogger.String("symbol", a.Symbol), applogger.Error(err))
	}
}
