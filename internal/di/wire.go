//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"FinSignal/pkg/config"
	"FinSignal/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Metrics
		ProvideRegistry,
		ProvideMetrics,

		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideSnapshotRepository,
		ProvideClickHouseClient,
		ProvideCandleStore,
		ProvideRedisCache,
		ProvideCache,

		// Repositories
		ProvideClaimLocker,
		ProvideModelStore,
		ProvideEventPublisher,
		ProvidePriceSource,
		ProvideFeatureSource,

		// Domain services
		ProvideSignalScorer,
		ProvidePredictor,

		// Use cases
		ProvideOutcomeLabeler,
		ProvideBacktestEngine,
		ProvideModelTrainer,
		ProvideSnapshotCollector,
		ProvideLabelJob,
		ProvideTrainJob,
		ProvideQueue,
		ProvideScheduler,
		ProvidePriceFeedCollector,
		ProvideKafkaConsumer,
		ProvideFeatureSnapshotHandler,

		// HTTP
		ProvideSignalLabHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
