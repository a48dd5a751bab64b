//go:build wireinject
// +build wireinject

package di

import (
	"StreamSentinel/pkg/config"
	"StreamSentinel/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideRedisClient,

		// Repositories
		ProvideObservationStorage,
		ProvideStorage,
		ProvideHistoryStore,
		ProvidePublisher,
		ProvideSnapshotStore,
		ProvideSnapshotCache,

		// Detection
		ProvideCacheService,
		ProvideFitQueuePublisher,
		ProvideDetectorEngine,
		ProvideFitQueueConsumer,

		// Use cases
		ProvideObservationProcessor,
		ProvideStreamCollector,
		ProvideKafkaObservationsHandler,
		ProvideHistoryUseCase,

		// Transport
		ProvideFeedStream,
		ProvideDetectionHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
