package usecase

import (
	"context"
	"encoding/json"
	"time"

	"StreamSentinel/internal/domain/models"
	domrepo "StreamSentinel/internal/domain/repository"
	pkgkafka "StreamSentinel/pkg/kafka"
)

// KafkaObservationsHandler consumes observation messages, persists them, and
// runs detection.
type KafkaObservationsHandler struct {
	topic   string
	storage domrepo.Storage
	engine  *DetectorEngine
	metrics domrepo.Metrics
}

func NewKafkaObservationsHandler(topic string, storage domrepo.Storage, engine *DetectorEngine, metrics domrepo.Metrics) *KafkaObservationsHandler {
	return &KafkaObservationsHandler{topic: topic, storage: storage, engine: engine, metrics: metrics}
}

func (h *KafkaObservationsHandler) Topic() string { return h.topic }

// incoming message schema: {symbol, t, v} with t in ms or s epoch
func (h *KafkaObservationsHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		Symbol string  `json:"symbol"`
		T      int64   `json:"t"`
		V      float64 `json:"v"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	var ts time.Time
	if m.T > 1e11 { // ms
		ts = time.UnixMilli(m.T)
	} else {
		ts = time.Unix(m.T, 0)
	}
	// E2E latency from event time to now (approx)
	h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(ts).Seconds())

	o := &models.Observation{Symbol: m.Symbol, Timestamp: ts, Value: m.V}

	start := time.Now()
	if err := h.storage.Store(ctx, o); err != nil {
		h.metrics.RecordError("consumer_store")
		return err
	}
	h.metrics.RecordLatency("ch_insert_seconds", time.Since(start).Seconds())

	if h.engine != nil {
		if err := h.engine.Process(ctx, o); err != nil {
			h.metrics.RecordError("consumer_detect")
			return err
		}
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaObservationsHandler)(nil)
