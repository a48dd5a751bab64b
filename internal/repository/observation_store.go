package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"StreamSentinel/internal/domain/models"
	"StreamSentinel/internal/domain/repository"
	pkgkafka "StreamSentinel/pkg/kafka"
)

// ClickHouseStorage implements Storage and HistoryStore for ClickHouse.
type ClickHouseStorage struct {
	db    *sql.DB
	table string
}

// NewClickHouseStorage creates ClickHouse storage over the observations table.
func NewClickHouseStorage(db *sql.DB, table string) *ClickHouseStorage {
	return &ClickHouseStorage{db: db, table: table}
}

func (s *ClickHouseStorage) Init(ctx context.Context) error {
	return nil // Schema init in pkg
}

func (s *ClickHouseStorage) Store(ctx context.Context, o *models.Observation) error {
	q := fmt.Sprintf("INSERT INTO %s (ts, symbol, value, source, event_id) VALUES (?, ?, ?, ?, ?)", s.table)
	// Idempotency key derived from symbol+timestamp
	eventID := fmt.Sprintf("%s-%d", o.Symbol, o.Timestamp.UnixMilli())
	_, err := s.db.ExecContext(ctx, q,
		o.Timestamp,
		o.Symbol,
		o.Value,
		"feed",
		eventID,
	)
	return err
}

func (s *ClickHouseStorage) StoreBatch(ctx context.Context, obs []*models.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	// Batch insert using VALUES multi-row to reduce round-trips.
	const chunkSize = 2000
	for start := 0; start < len(obs); start += chunkSize {
		end := start + chunkSize
		if end > len(obs) {
			end = len(obs)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*5)
		for _, o := range obs[start:end] {
			if o == nil || o.Symbol == "" || o.Timestamp.IsZero() {
				continue
			}
			eventID := fmt.Sprintf("%s-%d", o.Symbol, o.Timestamp.UnixMilli())
			values = append(values, "(?, ?, ?, ?, ?)")
			args = append(args,
				o.Timestamp,
				o.Symbol,
				o.Value,
				"feed",
				eventID,
			)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (ts, symbol, value, source, event_id) VALUES %s", s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return err
		}
	}
	return nil
}

func (s *ClickHouseStorage) Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.Observation, error) {
	q := fmt.Sprintf("SELECT symbol, ts, value FROM %s WHERE symbol = ? AND ts >= ? AND ts <= ? ORDER BY ts DESC LIMIT ?", s.table)
	rows, err := s.db.QueryContext(ctx, q, symbol, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var obs []*models.Observation
	for rows.Next() {
		var o models.Observation
		if err := rows.Scan(&o.Symbol, &o.Timestamp, &o.Value); err != nil {
			return nil, err
		}
		obs = append(obs, &o)
	}
	return obs, rows.Err()
}

// GetRange returns observations in [from, to] in ascending time order.
func (s *ClickHouseStorage) GetRange(ctx context.Context, symbol string, from, to time.Time, limit int) ([]models.Observation, error) {
	q := fmt.Sprintf("SELECT symbol, ts, value FROM %s WHERE symbol = ? AND ts >= ? AND ts <= ? ORDER BY ts ASC LIMIT ?", s.table)
	rows, err := s.db.QueryContext(ctx, q, symbol, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("get range: %w", err)
	}
	defer rows.Close()

	out := make([]models.Observation, 0, limit)
	for rows.Next() {
		var o models.Observation
		if err := rows.Scan(&o.Symbol, &o.Timestamp, &o.Value); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// GetLatestN returns the most recent n observations in ascending time order,
// the shape model fits expect.
func (s *ClickHouseStorage) GetLatestN(ctx context.Context, symbol string, n int) ([]models.Observation, error) {
	q := fmt.Sprintf("SELECT symbol, ts, value FROM %s WHERE symbol = ? ORDER BY ts DESC LIMIT ?", s.table)
	rows, err := s.db.QueryContext(ctx, q, symbol, n)
	if err != nil {
		return nil, fmt.Errorf("get latest: %w", err)
	}
	defer rows.Close()

	tmp := make([]models.Observation, 0, n)
	for rows.Next() {
		var o models.Observation
		if err := rows.Scan(&o.Symbol, &o.Timestamp, &o.Value); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		tmp = append(tmp, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// reverse to ASC
	for i, j := 0, len(tmp)-1; i < j; i, j = i+1, j-1 {
		tmp[i], tmp[j] = tmp[j], tmp[i]
	}
	return tmp, nil
}

func (s *ClickHouseStorage) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseStorage) Close() error {
	return nil // Managed by pkg
}

var (
	_ repository.Storage      = (*ClickHouseStorage)(nil)
	_ repository.HistoryStore = (*ClickHouseStorage)(nil)
)

// KafkaPublisher implements Publisher for Kafka.
type KafkaPublisher struct {
	producer   *pkgkafka.Producer
	topic      string
	alertTopic string
}

// NewKafkaPublisher creates Kafka publisher.
func NewKafkaPublisher(producer *pkgkafka.Producer, topic, alertTopic string) repository.Publisher {
	return &KafkaPublisher{producer: producer, topic: topic, alertTopic: alertTopic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, o *models.Observation) error {
	return p.producer.Publish(ctx, p.topic, []byte(o.Symbol), map[string]interface{}{
		"symbol": o.Symbol,
		"t":      o.Timestamp.UnixMilli(),
		"v":      o.Value,
	})
}

func (p *KafkaPublisher) PublishBatch(ctx context.Context, obs []*models.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(obs))
	for i, o := range obs {
		msgs[i] = pkgkafka.Message{
			Key: []byte(o.Symbol),
			Value: map[string]interface{}{
				"symbol": o.Symbol,
				"t":      o.Timestamp.UnixMilli(),
				"v":      o.Value,
			},
		}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaPublisher) PublishAlert(ctx context.Context, a models.Alert) error {
	return p.producer.Publish(ctx, p.alertTopic, []byte(a.Symbol), a)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
