package di

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"StreamSentinel/internal/domain/repository"
	"StreamSentinel/internal/handler/api"
	mid "StreamSentinel/internal/middleware"
	internalrepo "StreamSentinel/internal/repository"
	icache "StreamSentinel/internal/service/cache"
	"StreamSentinel/internal/service/feed"
	"StreamSentinel/internal/usecase"
	pkgcache "StreamSentinel/pkg/cache"
	pkgch "StreamSentinel/pkg/clickhouse"
	"StreamSentinel/pkg/config"
	pkgkafka "StreamSentinel/pkg/kafka"
	applogger "StreamSentinel/pkg/logger"
	"StreamSentinel/pkg/metrics"
	"StreamSentinel/pkg/queue"
	"StreamSentinel/pkg/server"
)

// kafkaLogPublisher feeds aggregated error logs to a Kafka topic.
type kafkaLogPublisher struct {
	producer *pkgkafka.Producer
}

func (k kafkaLogPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return k.producer.Publish(ctx, topic, nil, payload)
}

// ProvideLogger creates the application logger from config. With a log topic
// configured, error logs are aggregated and shipped to Kafka.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Kafka.LogTopic != "" && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          cfg.Kafka.LogTopic,
			Publisher:      kafkaLogPublisher{producer: producer},
		})
	}
	return l, nil
}

// ProvideClickHouseClient creates a ClickHouse client and initializes the
// observation and snapshot tables.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db := cfg.ClickHouse.Database
	if err := client.InitSchema(ctx, []string{
		"CREATE DATABASE IF NOT EXISTS " + db,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.observations (
            ts DateTime64(3),
            symbol LowCardinality(String),
            value Float64,
            source LowCardinality(String),
            event_id String
        ) ENGINE = ReplacingMergeTree
        PARTITION BY toYYYYMMDD(ts)
        ORDER BY (symbol, ts, event_id)`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.detection_snapshots (
            ts DateTime64(3),
            symbol LowCardinality(String),
            ensemble_score Float64,
            is_anomaly UInt8,
            drift_score Float64,
            drift_detected UInt8,
            regime LowCardinality(String),
            regime_confidence Float64,
            payload String
        ) ENGINE = MergeTree
        PARTITION BY toYYYYMMDD(ts)
        ORDER BY (symbol, ts)`, db),
	}); err != nil {
		_ = client.Close() // cannot log here (DI layer no logger); propagate error
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	return client, nil
}

// ProvideKafkaProducer creates a Kafka producer.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	return producer, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideObservationStorage creates the ClickHouse observation repository.
// It backs both the Storage and HistoryStore interfaces.
func ProvideObservationStorage(chClient *pkgch.Client, cfg *config.Config) *internalrepo.ClickHouseStorage {
	return internalrepo.NewClickHouseStorage(chClient.DB(), cfg.ClickHouse.Database+".observations")
}

// ProvideStorage exposes the observation repository as Storage.
func ProvideStorage(s *internalrepo.ClickHouseStorage) repository.Storage { return s }

// ProvideHistoryStore exposes the observation repository as HistoryStore.
func ProvideHistoryStore(s *internalrepo.ClickHouseStorage) repository.HistoryStore { return s }

// ProvidePublisher creates the Kafka publisher repository.
func ProvidePublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.Publisher {
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topic, cfg.Kafka.AlertTopic)
}

// ProvideSnapshotStore creates the ClickHouse snapshot repository.
func ProvideSnapshotStore(chClient *pkgch.Client, cfg *config.Config, l *applogger.Logger) repository.SnapshotStore {
	s := internalrepo.NewCHSnapshotStore(chClient, cfg.ClickHouse.Database+".detection_snapshots")
	s.SetLogger(l)
	return s
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideRedisClient creates a shared Redis client, or nil when disabled.
func ProvideRedisClient(cfg *config.Config) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// ProvideSnapshotCache returns a Redis-backed cache when Redis is enabled,
// and an in-process TTL cache otherwise.
func ProvideSnapshotCache(cfg *config.Config) icache.BytesCache {
	if cfg.Redis.Enabled {
		return icache.NewRedisCache(icache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	return icache.NewTTLCache()
}

// ProvideFitQueuePublisher creates the fit-job publisher, or nil without Redis.
func ProvideFitQueuePublisher(cfg *config.Config, rdb *redis.Client, l *applogger.Logger) queue.QueueService {
	if rdb == nil {
		return nil
	}
	return queue.NewRedisPublisher(l, rdb)
}

// ProvideDetectorEngine builds the per-symbol detection engine.
func ProvideDetectorEngine(
	cfg *config.Config,
	m repository.Metrics,
	l *applogger.Logger,
	history repository.HistoryStore,
	snapshots repository.SnapshotStore,
	pub repository.Publisher,
	cache icache.BytesCache,
	fitQueue queue.QueueService,
) (*usecase.DetectorEngine, error) {
	opts := []usecase.EngineOption{
		usecase.WithHistoryStore(history),
		usecase.WithSnapshotStore(snapshots),
		usecase.WithSnapshotCache(cache),
	}
	if cfg.Backend.Type == "kafka" {
		opts = append(opts, usecase.WithAlertPublisher(pub))
	}
	if fitQueue != nil {
		opts = append(opts, usecase.WithFitQueue(fitQueue))
	}
	return usecase.NewDetectorEngine(usecase.EngineConfigFromApp(cfg), m, l, opts...)
}

// ProvideCacheService creates the general-purpose cache used for distributed
// locks: a memory+Redis layered cache when Redis is enabled, memory otherwise.
func ProvideCacheService(cfg *config.Config) pkgcache.Service {
	if cfg.Redis.Enabled {
		host, port := splitHostPort(cfg.Redis.Addr)
		rc, err := pkgcache.NewRedisCache(
			pkgcache.WithRedisHost(host),
			pkgcache.WithRedisPort(port),
			pkgcache.WithRedisPassword(cfg.Redis.Password),
			pkgcache.WithRedisDB(cfg.Redis.DB),
		)
		if err == nil {
			return pkgcache.NewLayeredCache(rc)
		}
	}
	return pkgcache.NewMemoryCache()
}

func splitHostPort(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 6379
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 6379
	}
	return host, port
}

// ProvideFitQueueConsumer creates the worker pool consuming fit jobs, or nil
// without Redis.
func ProvideFitQueueConsumer(cfg *config.Config, rdb *redis.Client, l *applogger.Logger, engine *usecase.DetectorEngine, locks pkgcache.Service) *queue.RedisQueue {
	if rdb == nil {
		return nil
	}
	qc := &queue.QueueConfig{
		Workers:    cfg.Queue.Workers,
		QueueSize:  cfg.Queue.QueueSize,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
	}
	jobs := []queue.Job{usecase.NewFitModelsJob(engine, locks)}
	return queue.NewRedisConsumer(l, qc, rdb, jobs)
}

// ProvideKafkaObservationsHandler registers the handler for the observations topic.
func ProvideKafkaObservationsHandler(store repository.Storage, engine *usecase.DetectorEngine, m repository.Metrics, cfg *config.Config) *usecase.KafkaObservationsHandler {
	return usecase.NewKafkaObservationsHandler(cfg.Kafka.Topic, store, engine, m)
}

// ProvideFeedStream creates the WebSocket market stream.
func ProvideFeedStream(cfg *config.Config) repository.MarketStream {
	return feed.New(
		cfg.Feed.APIKey,
		cfg.Feed.WebSocketURL,
		cfg.Feed.Symbols,
		cfg.Feed.ReconnectDelay,
		cfg.Feed.PingInterval,
	)
}

// ProvideObservationProcessor creates the backend-routing processor.
func ProvideObservationProcessor(
	pub repository.Publisher,
	store repository.Storage,
	engine *usecase.DetectorEngine,
	m repository.Metrics,
	cfg *config.Config,
) *usecase.ObservationProcessor {
	return usecase.NewObservationProcessor(pub, store, engine, m, cfg.Backend.Type)
}

// ProvideStreamCollector creates the stream collector with its pipeline.
func ProvideStreamCollector(
	stream repository.MarketStream,
	processor *usecase.ObservationProcessor,
	m repository.Metrics,
) *usecase.StreamCollector {
	// Middleware pipeline between WebSocket and backend
	pipe := mid.NewRealtimePipeline(processor, m,
		mid.WithMaxRPS(50),
		mid.WithBufferSize(2000),
	)
	return usecase.NewStreamCollector(stream, processor, m, pipe)
}

// ProvideHistoryUseCase creates the observation range usecase.
func ProvideHistoryUseCase(history repository.HistoryStore) *usecase.HistoryUseCase {
	return usecase.NewHistoryUseCase(history)
}

// ProvideDetectionHandler creates the HTTP handler for the detection API.
func ProvideDetectionHandler(
	l *applogger.Logger,
	engine *usecase.DetectorEngine,
	history *usecase.HistoryUseCase,
	cache icache.BytesCache,
) *api.DetectionHandler {
	h := api.NewDetectionHandler(l, engine, engine, history)
	h.SetCache(cache)
	return h
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	collector *usecase.StreamCollector,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaObservationsHandler,
	chClient *pkgch.Client,
	handler *api.DetectionHandler,
	fitConsumer *queue.RedisQueue,
) *server.App {
	if consumer != nil {
		consumer.WithConsumerHook(pkgkafka.NoopHook{})
	}
	app := server.New(cfg, l, collector, consumer, kh, chClient)
	app.SetHTTPHandler(handler)
	if fitConsumer != nil {
		app.SetFitConsumer(fitConsumer)
	}
	return app
}
