package api

import (
	"time"

	models "StreamSentinel/internal/domain/models"
	"StreamSentinel/internal/domain/service"
	icache "StreamSentinel/internal/service/cache"
	"StreamSentinel/internal/service/metrics"
	"StreamSentinel/internal/service/ratelimit"
	"StreamSentinel/internal/usecase"
	xhttp "StreamSentinel/pkg/http"
	xlogger "StreamSentinel/pkg/logger"

	"github.com/labstack/echo/v4"
)

// DetectionHandler serves the detection read API: ensemble verdicts, drift,
// regime, consolidated snapshots, alerts, and raw observation history.
type DetectionHandler struct {
	logger    *xlogger.Logger
	snapshots service.SnapshotSource
	alerts    service.AlertSource
	history   *usecase.HistoryUseCase
	cache     icache.BytesCache
	rl        *ratelimit.Limiter
}

func NewDetectionHandler(logger *xlogger.Logger, snapshots service.SnapshotSource, alerts service.AlertSource, history *usecase.HistoryUseCase) *DetectionHandler {
	metrics.Register()
	return &DetectionHandler{
		logger:    logger,
		snapshots: snapshots,
		alerts:    alerts,
		history:   history,
		rl:        ratelimit.New(),
	}
}

// SetCache enables snapshot response caching.
func (h *DetectionHandler) SetCache(c icache.BytesCache) { h.cache = c }

func (h *DetectionHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/snapshot", h.Snapshot)
	g.GET("/ensemble", h.Ensemble)
	g.GET("/drift", h.Drift)
	g.GET("/regime", h.Regime)
	g.GET("/alerts", h.Alerts)
	g.GET("/observations", h.Observations)
}

func (h *DetectionHandler) observe(endpoint string, start time.Time) {
	metrics.DetectionLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func (h *DetectionHandler) snapshot(c echo.Context, endpoint, symbol string) (*models.DetectionSnapshot, error) {
	if !h.rl.Allow(c.RealIP()+":"+endpoint, 5, 2) {
		return nil, xhttp.NewAppError("rate_limited", "", "rate limited", 429)
	}
	snap, err := h.snapshots.Snapshot(c.Request().Context(), symbol)
	if err != nil {
		metrics.DetectionErrors.WithLabelValues(endpoint).Inc()
		h.logger.Error("snapshot lookup error",
			xlogger.String("endpoint", endpoint),
			xlogger.String("symbol", symbol),
			xlogger.Error(err),
		)
		return nil, xhttp.NotFoundErrorf("no detection state for symbol %s", symbol)
	}
	return snap, nil
}

func (h *DetectionHandler) Snapshot(c echo.Context) error {
	start := time.Now()
	defer h.observe("snapshot", start)

	req := &models.SnapshotRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	if h.cache != nil {
		if b, ok, err := h.cache.GetBytes("snapshot:" + req.Symbol); err == nil && ok {
			return c.JSONBlob(200, b)
		}
	}

	snap, err := h.snapshot(c, "snapshot", req.Symbol)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, snap)
}

func (h *DetectionHandler) Ensemble(c echo.Context) error {
	start := time.Now()
	defer h.observe("ensemble", start)

	req := &models.EnsembleRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	snap, err := h.snapshot(c, "ensemble", req.Symbol)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	if snap.Ensemble == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no ensemble verdict yet for symbol %s", req.Symbol))
	}
	return xhttp.SuccessResponse(c, snap.Ensemble)
}

func (h *DetectionHandler) Drift(c echo.Context) error {
	start := time.Now()
	defer h.observe("drift", start)

	req := &models.DriftRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	snap, err := h.snapshot(c, "drift", req.Symbol)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	if snap.Drift == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no drift verdict yet for symbol %s", req.Symbol))
	}
	return xhttp.SuccessResponse(c, snap.Drift)
}

func (h *DetectionHandler) Regime(c echo.Context) error {
	start := time.Now()
	defer h.observe("regime", start)

	req := &models.RegimeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	snap, err := h.snapshot(c, "regime", req.Symbol)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	if snap.Regime == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no regime classification yet for symbol %s", req.Symbol))
	}
	return xhttp.SuccessResponse(c, snap.Regime)
}

func (h *DetectionHandler) Alerts(c echo.Context) error {
	start := time.Now()
	defer h.observe("alerts", start)

	req := &models.AlertsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	recent := h.alerts.RecentAlerts(req.N, models.Severity(req.Severity))
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"alerts":  recent,
		"summary": h.alerts.AlertSummary(),
	})
}

func (h *DetectionHandler) Observations(c echo.Context) error {
	start := time.Now()
	defer h.observe("observations", start)

	req := &models.ObservationsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	now := time.Now()
	from := xhttp.ParseTimeDefault(req.From, now.Add(-1*time.Hour))
	to := xhttp.ParseTimeDefault(req.To, now)
	from, to = xhttp.AlignRange(from, to, time.Second)

	res, err := h.history.GetObservations(c.Request().Context(), usecase.GetObservationsParams{
		Symbol: req.Symbol,
		From:   from,
		To:     to,
		Limit:  req.Limit,
	})
	if err != nil {
		metrics.DetectionErrors.WithLabelValues("observations").Inc()
		h.logger.Error("observations usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}
