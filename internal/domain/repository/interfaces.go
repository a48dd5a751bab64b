package repository

import (
	"context"
	"time"

	"StreamSentinel/internal/domain/models"
)

type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Observation, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

type Publisher interface {
	Publish(ctx context.Context, o *models.Observation) error
	PublishBatch(ctx context.Context, obs []*models.Observation) error
	PublishAlert(ctx context.Context, a models.Alert) error
	Close() error
}

type Storage interface {
	Init(ctx context.Context) error // ensure tables, health checks
	Store(ctx context.Context, o *models.Observation) error
	StoreBatch(ctx context.Context, obs []*models.Observation) error
	Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.Observation, error)
	Health(ctx context.Context) error // ping
	Close() error
}

// HistoryStore provides read access to recorded observations for model fits
// and range queries.
type HistoryStore interface {
	GetRange(ctx context.Context, symbol string, from, to time.Time, limit int) ([]models.Observation, error)
	GetLatestN(ctx context.Context, symbol string, n int) ([]models.Observation, error)
}

// SnapshotStore persists per-point detection outcomes.
type SnapshotStore interface {
	StoreSnapshot(ctx context.Context, s *models.DetectionSnapshot) error
	LatestSnapshot(ctx context.Context, symbol string) (*models.DetectionSnapshot, error)
}

type Metrics interface {
	RecordObservation(symbol string)
	RecordAnomaly(symbol, method string)
	RecordDriftScore(symbol string, score float64)
	RecordRegime(symbol, state string)
	RecordFitDuration(model string, seconds float64)
	RecordError(kind string)
	RecordLastValue(symbol string, value float64)
	RecordLatency(op string, seconds float64)
}
