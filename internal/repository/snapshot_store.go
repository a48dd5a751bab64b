package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"StreamSentinel/internal/domain/models"
	domrepo "StreamSentinel/internal/domain/repository"
	pkgch "StreamSentinel/pkg/clickhouse"
	applogger "StreamSentinel/pkg/logger"
)

// CHSnapshotStore persists detection snapshots in ClickHouse. Scalar columns
// carry the dashboard-friendly fields; the payload column keeps the full
// snapshot JSON for exact round-trips.
type CHSnapshotStore struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

func NewCHSnapshotStore(ch *pkgch.Client, table string) *CHSnapshotStore {
	return &CHSnapshotStore{db: ch.DB(), table: table}
}

// SetLogger injects a structured logger.
func (s *CHSnapshotStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHSnapshotStore) StoreSnapshot(ctx context.Context, snap *models.DetectionSnapshot) error {
	start := time.Now()

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	var (
		ensembleScore float64
		isAnomaly     uint8
		driftScore    float64
		driftDetected uint8
		regime        string
		regimeConf    float64
	)
	if snap.Ensemble != nil {
		ensembleScore = snap.Ensemble.Score
		if snap.Ensemble.IsAnomaly {
			isAnomaly = 1
		}
	}
	if snap.Drift != nil {
		driftScore = snap.Drift.Score
		if snap.Drift.DriftDetected {
			driftDetected = 1
		}
	}
	if snap.Regime != nil {
		regime = string(snap.Regime.State)
		regimeConf = snap.Regime.Confidence
	}

	q := fmt.Sprintf(`INSERT INTO %s
        (ts, symbol, ensemble_score, is_anomaly, drift_score, drift_detected, regime, regime_confidence, payload)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	_, err = s.db.ExecContext(ctx, q,
		snap.Timestamp,
		snap.Symbol,
		ensembleScore,
		isAnomaly,
		driftScore,
		driftDetected,
		regime,
		regimeConf,
		string(payload),
	)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse store_snapshot error",
				applogger.String("table", s.table),
				applogger.String("symbol", snap.Symbol),
				applogger.Error(err),
			)
		}
		return fmt.Errorf("store snapshot: %w", err)
	}
	if s.l != nil {
		s.l.Debug("clickhouse store_snapshot ok",
			applogger.String("table", s.table),
			applogger.String("symbol", snap.Symbol),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return nil
}

func (s *CHSnapshotStore) LatestSnapshot(ctx context.Context, symbol string) (*models.DetectionSnapshot, error) {
	start := time.Now()

	q := fmt.Sprintf(`SELECT payload FROM %s WHERE symbol = ? ORDER BY ts DESC LIMIT 1`, s.table)
	var payload string
	err := s.db.QueryRowContext(ctx, q, symbol).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no snapshot for symbol %s", symbol)
	}
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse latest_snapshot query error",
				applogger.String("table", s.table),
				applogger.String("symbol", symbol),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}

	var snap models.DetectionSnapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		if s.l != nil {
			s.l.Error("clickhouse latest_snapshot decode error",
				applogger.String("table", s.table),
				applogger.String("symbol", symbol),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.l != nil {
		s.l.Info("clickhouse latest_snapshot ok",
			applogger.String("table", s.table),
			applogger.String("symbol", symbol),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return &snap, nil
}

var _ domrepo.SnapshotStore = (*CHSnapshotStore)(nil)
