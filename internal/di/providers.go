package di

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"FinSignal/internal/domain/models"
	"FinSignal/internal/domain/repository"
	domsvc "FinSignal/internal/domain/service"
	"FinSignal/internal/handler/api"
	mid "FinSignal/internal/middleware"
	internalrepo "FinSignal/internal/repository"
	"FinSignal/internal/service/binance"
	"FinSignal/internal/service/ratelimit"
	"FinSignal/internal/services/features"
	"FinSignal/internal/services/labeling"
	"FinSignal/internal/services/model"
	"FinSignal/internal/services/signal"
	"FinSignal/internal/usecase"
	"FinSignal/pkg/cache"
	pkgch "FinSignal/pkg/clickhouse"
	"FinSignal/pkg/config"
	pkghttp "FinSignal/pkg/http"
	pkgkafka "FinSignal/pkg/kafka"
	applogger "FinSignal/pkg/logger"
	"FinSignal/pkg/metrics"
	"FinSignal/pkg/queue"
	"FinSignal/pkg/server"
)

const initTimeout = 10 * time.Second

// ProvideRegistry creates the Prometheus registry shared by the recorder and the HTTP server.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(cfg *config.Config, reg *prometheus.Registry) repository.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.Nop{}
	}
	return metrics.New(reg)
}

// ProvideKafkaProducer creates a Kafka producer; nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
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

// ProvideLogger builds the application logger. Error logs are aggregated and
// shipped to Kafka when the collector is enabled and a producer exists.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(&cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.LogCollector.Enabled && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.LogCollector.Interval,
			CountThreshold: cfg.LogCollector.Threshold,
			Topic:          cfg.LogCollector.Topic,
			Publisher:      producer,
		})
	}
	return l, nil
}

// ProvideSnapshotRepository opens the configured snapshot backend.
func ProvideSnapshotRepository(cfg *config.Config) (repository.SnapshotRepository, error) {
	if cfg.Snapshots.Backend == "memory" {
		return internalrepo.NewMemorySnapshotRepository(), nil
	}

	pg := cfg.Snapshots.Postgres
	db, err := sqlx.Open("postgres", pg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(pg.MaxOpenConns)
	db.SetMaxIdleConns(pg.MaxIdleConns)
	db.SetConnMaxLifetime(pg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	repo := internalrepo.NewPGSnapshotRepository(db, pg.QueryTimeout)
	if pg.AutoMigrate {
		if err := repo.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return repo, nil
}

// ProvideClickHouseClient creates a ClickHouse client; nil when disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
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
		pkgch.WithPingTimeout(cfg.ClickHouse.DialTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := client.InitSchema(ctx, []string{"CREATE DATABASE IF NOT EXISTS " + cfg.ClickHouse.Database}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideCandleStore creates the candle table on the ClickHouse client; nil without ClickHouse.
func ProvideCandleStore(cfg *config.Config, ch *pkgch.Client, l *applogger.Logger) (*internalrepo.CHCandleStore, error) {
	if ch == nil {
		return nil, nil
	}
	store := internalrepo.NewCHCandleStore(ch, repository.Interval(cfg.PriceFeed.Interval))
	store.SetLogger(l)

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("candle store init: %w", err)
	}
	return store, nil
}

// ProvideRedisCache connects to Redis; nil when disabled.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisDialTimeout(cfg.Redis.DialTimeout),
		cache.WithRedisPool(cfg.Redis.PoolSize, 2, 30*time.Second),
		cache.WithRedisPrefix(cfg.Redis.KeyPrefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideCache fronts Redis with an in-process layer, or runs memory-only
// when Redis is disabled.
func ProvideCache(rc *cache.RedisCache) cache.Service {
	if rc == nil {
		return cache.NewMemoryCache()
	}
	return cache.NewLayeredCache(rc, cache.WithLayeredMemoryTTL(time.Minute))
}

func ProvideClaimLocker(c cache.Service) repository.ClaimLocker {
	return internalrepo.NewCacheClaimLocker(c)
}

func ProvideModelStore(c cache.Service) repository.ModelStore {
	return internalrepo.NewCacheModelStore(c, 0)
}

// ProvideEventPublisher publishes snapshot events to Kafka, or drops them without a producer.
func ProvideEventPublisher(cfg *config.Config, producer *pkgkafka.Producer) repository.EventPublisher {
	if producer == nil {
		return internalrepo.NopEventPublisher{}
	}
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.Topics.SnapshotEvents)
}

// ProvidePriceSource chains stored candles ahead of the Binance REST klines.
// Each upstream trips its own breaker; REST calls are rate limited per pair.
func ProvidePriceSource(cfg *config.Config, candles *internalrepo.CHCandleStore) (repository.PriceSource, error) {
	ps := cfg.PriceSource
	var sources []repository.PriceSource
	if candles != nil {
		sources = append(sources, internalrepo.NewBreakerPriceSource(
			internalrepo.NewCHPriceSource(candles, ps.MaxStaleness),
			internalrepo.BreakerConfig{
				Name:     "clickhouse_prices",
				Failures: ps.BreakerFailures,
				Timeout:  ps.BreakerTimeout,
			},
		))
	}
	if ps.RESTEnabled {
		client := pkghttp.NewClient(pkghttp.WithTimeout(10*time.Second), pkghttp.WithRetry(2, 500*time.Millisecond))
		sources = append(sources, internalrepo.NewBreakerPriceSource(
			binance.NewKlinePriceSource(client, ps.RESTURL, repository.Interval(cfg.PriceFeed.Interval)),
			internalrepo.BreakerConfig{
				Name:        "binance_klines",
				Failures:    ps.BreakerFailures,
				Timeout:     ps.BreakerTimeout,
				RateLimiter: ratelimit.New(ps.RateLimitRPS, ps.Burst),
			},
		))
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("price source: enable clickhouse or price_source.rest_enabled")
	}
	return internalrepo.NewChainPriceSource(sources...), nil
}

// ProvideFeatureSource fetches feature maps from the feature service. Missing
// momentum and last close are filled from stored candles when available.
func ProvideFeatureSource(cfg *config.Config, candles *internalrepo.CHCandleStore, l *applogger.Logger) repository.FeatureSource {
	fs := cfg.FeatureSource
	opts := []pkghttp.ClientOption{
		pkghttp.WithTimeout(fs.Timeout),
		pkghttp.WithRetry(fs.Retries, 500*time.Millisecond),
	}
	if fs.APIKey != "" {
		opts = append(opts, pkghttp.WithHeader("X-API-Key", fs.APIKey))
	}

	srcOpts := []features.SourceOption{features.WithLogger(l)}
	if fs.FillFromCandles && candles != nil {
		srcOpts = append(srcOpts, features.WithCandleFiller(features.NewCandleFiller(candles)))
	}
	return features.NewHTTPFeatureSource(pkghttp.NewClient(opts...), fs.URL, srcOpts...)
}

// ProvideSignalScorer builds the rule engine with the configured thresholds.
func ProvideSignalScorer(cfg *config.Config) (domsvc.SignalScorer, error) {
	rules := signal.DefaultRules()
	rules.BuyThreshold = cfg.Signal.BuyThreshold
	rules.SellThreshold = cfg.Signal.SellThreshold
	rules.MaxAbsScore = cfg.Signal.MaxAbsScore
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("signal rules: %w", err)
	}
	return signal.NewEngine(rules), nil
}

func ProvidePredictor() *model.Predictor {
	return model.NewPredictor()
}

func ProvideOutcomeLabeler(
	cfg *config.Config,
	repo repository.SnapshotRepository,
	prices repository.PriceSource,
	claims repository.ClaimLocker,
	events repository.EventPublisher,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.OutcomeLabeler {
	lc := cfg.Labeling
	return usecase.NewOutcomeLabeler(repo, prices, claims, events, m, usecase.LabelerConfig{
		Thresholds: labeling.Thresholds{
			Basic:         lc.Thresholds.Basic,
			Breakout:      lc.Thresholds.Breakout,
			MomentumScore: lc.Thresholds.MomentumScore,
		},
		Workers:   lc.Workers,
		ClaimTTL:  lc.ClaimTTL,
		Limit:     lc.Limit,
		ChunkSize: lc.ChunkSize,
	}, l.With(applogger.String("component", "labeler")))
}

func ProvideBacktestEngine(
	cfg *config.Config,
	repo repository.SnapshotRepository,
	store repository.ModelStore,
	predictor *model.Predictor,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.BacktestEngine {
	return usecase.NewBacktestEngine(repo, store, predictor, m, cfg.Backtest.MinAIConfidence,
		l.With(applogger.String("component", "backtest")))
}

func ProvideModelTrainer(
	cfg *config.Config,
	repo repository.SnapshotRepository,
	store repository.ModelStore,
	scorer domsvc.SignalScorer,
	predictor *model.Predictor,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.ModelTrainer {
	trainer := model.NewTrainer(model.WithMinSamples(cfg.Model.MinSamples))
	return usecase.NewModelTrainer(repo, store, trainer, scorer, predictor, m, usecase.TrainerConfig{
		Epochs:       cfg.Model.Epochs,
		LearningRate: cfg.Model.LearningRate,
		Window:       cfg.Model.TrainWindow,
	}, l.With(applogger.String("component", "trainer")))
}

func ProvideSnapshotCollector(
	cfg *config.Config,
	source repository.FeatureSource,
	scorer domsvc.SignalScorer,
	repo repository.SnapshotRepository,
	events repository.EventPublisher,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.SnapshotCollector {
	tracked := make([]usecase.TrackedSymbol, 0, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		tracked = append(tracked, usecase.TrackedSymbol{Symbol: s.Symbol, Pair: s.Pair, Interval: s.Interval})
	}
	return usecase.NewSnapshotCollector(source, scorer, repo, events, m, tracked,
		l.With(applogger.String("component", "collector")))
}

// ProvideLabelJob binds the configured horizon and strategies to scheduled label runs.
func ProvideLabelJob(cfg *config.Config, labeler *usecase.OutcomeLabeler, l *applogger.Logger) (*usecase.LabelJob, error) {
	strategies, err := models.ParseStrategies(cfg.Labeling.Strategies)
	if err != nil {
		return nil, fmt.Errorf("labeling strategies: %w", err)
	}
	return usecase.NewLabelJob(labeler, usecase.LabelDefaults{
		Horizon:     cfg.HorizonDuration(),
		Strategies:  strategies,
		SkipOnError: cfg.Labeling.SkipOnError,
	}, l), nil
}

func ProvideTrainJob(trainer *usecase.ModelTrainer, l *applogger.Logger) *usecase.TrainJob {
	return usecase.NewTrainJob(trainer, l)
}

// ProvideQueue creates the Redis job queue with the label and train jobs
// registered; nil when the queue is disabled.
func ProvideQueue(
	cfg *config.Config,
	rc *cache.RedisCache,
	labelJob *usecase.LabelJob,
	trainJob *usecase.TrainJob,
	l *applogger.Logger,
) (*queue.RedisQueue, error) {
	if !cfg.Queue.Enabled || rc == nil {
		return nil, nil
	}
	q := queue.NewRedisQueue(l.With(applogger.String("component", "queue")), queue.QueueConfig{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.MaxRetries,
		RetryDelay: cfg.Queue.RetryDelay,
	}, rc.Client(), queue.WithKeyPrefix(strings.TrimSuffix(cfg.Redis.KeyPrefix, ":")+":queue:"+cfg.Queue.Name))

	for _, job := range []queue.Job{labelJob, trainJob} {
		if err := q.RegisterJob(job); err != nil {
			return nil, fmt.Errorf("queue register %s: %w", job.Name(), err)
		}
	}
	return q, nil
}

// ProvideScheduler creates the periodic collect/label/train loop; nil when disabled.
func ProvideScheduler(
	cfg *config.Config,
	collector *usecase.SnapshotCollector,
	labelJob *usecase.LabelJob,
	trainJob *usecase.TrainJob,
	q *queue.RedisQueue,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.Scheduler {
	if !cfg.Scheduler.Enabled {
		return nil
	}
	var pub queue.Publisher
	if q != nil {
		pub = q
	}
	return usecase.NewScheduler(collector, labelJob, trainJob, pub, m, usecase.SchedulerConfig{
		CollectInterval: cfg.Scheduler.CollectInterval,
		LabelInterval:   cfg.Scheduler.LabelInterval,
		TrainInterval:   cfg.Scheduler.TrainInterval,
	}, l.With(applogger.String("component", "scheduler")))
}

// ProvidePriceFeedCollector streams Binance klines into ClickHouse; nil when
// the feed is disabled or there is no candle store.
func ProvidePriceFeedCollector(
	cfg *config.Config,
	candles *internalrepo.CHCandleStore,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.PriceFeedCollector {
	if !cfg.PriceFeed.Enabled || candles == nil {
		return nil
	}
	pf := cfg.PriceFeed
	pairs := make([]string, 0, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		pairs = append(pairs, s.Pair)
	}
	fl := l.With(applogger.String("component", "price_feed"))
	stream := binance.New(pf.WebSocketURL, pairs, pf.Interval, pf.ReconnectDelay, pf.PingInterval, fl)
	pipe := mid.NewCandlePipeline(candles, m,
		mid.WithBatchSize(pf.BatchSize),
		mid.WithFlushInterval(pf.BatchTimeout),
		mid.WithBufferSize(256),
	)
	return usecase.NewPriceFeedCollector(stream, pipe, m, fl)
}

// ProvideKafkaConsumer creates the feature snapshot consumer; nil unless enabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	kc := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(l.With(applogger.String("component", "consumer")),
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(kc.GroupID),
		pkgkafka.WithConsumerWorkers(kc.Workers),
		pkgkafka.WithConsumerBufferSize(kc.BufferSize),
		pkgkafka.WithConsumerRetry(kc.RetryMax, kc.BackoffMin, kc.BackoffMax),
		pkgkafka.WithConsumerDLQ(kc.DLQTopic),
		pkgkafka.WithConsumerFetch(kc.MinBytes, kc.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

func ProvideFeatureSnapshotHandler(cfg *config.Config, collector *usecase.SnapshotCollector, m repository.Metrics) *usecase.FeatureSnapshotHandler {
	return usecase.NewFeatureSnapshotHandler(cfg.Kafka.Topics.FeatureSnapshots, collector, m)
}

// ProvideSignalLabHandler exposes the engines over HTTP with a health check per backend.
func ProvideSignalLabHandler(
	cfg *config.Config,
	l *applogger.Logger,
	scorer domsvc.SignalScorer,
	labeler *usecase.OutcomeLabeler,
	backtester *usecase.BacktestEngine,
	trainer *usecase.ModelTrainer,
	repo repository.SnapshotRepository,
	candles *internalrepo.CHCandleStore,
	rc *cache.RedisCache,
) *api.SignalLabHandler {
	opts := []api.SignalLabOption{
		api.WithRateLimit(ratelimit.New(5, 10)),
		api.WithLabelDefaults(cfg.Labeling.SkipOnError, cfg.Backtest.MinAIConfidence),
	}
	if h, ok := repo.(interface{ Health(context.Context) error }); ok {
		opts = append(opts, api.WithHealthCheck("snapshots", h.Health))
	}
	if candles != nil {
		opts = append(opts, api.WithHealthCheck("clickhouse", candles.Health))
	}
	if rc != nil {
		opts = append(opts, api.WithHealthCheck("redis", func(ctx context.Context) error {
			return rc.Client().Ping(ctx).Err()
		}))
	}
	return api.NewSignalLabHandler(l.With(applogger.String("component", "http")), scorer, labeler, backtester, trainer, opts...)
}

func ProvideHTTPServer(cfg *config.Config, l *applogger.Logger, reg *prometheus.Registry, h *api.SignalLabHandler) *pkghttp.Server {
	opts := []pkghttp.ServerOption{
		pkghttp.WithPort(cfg.Server.Port),
		pkghttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		pkghttp.WithCORSOrigins(cfg.Server.CORSOrigins),
		pkghttp.WithRegistry(reg),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, pkghttp.WithMetricsPath(cfg.Metrics.Path))
	} else {
		opts = append(opts, pkghttp.WithMetricsPath(""))
	}
	return pkghttp.NewServer(l, []pkghttp.Handler{h}, opts...)
}

// ProvideApp assembles the application. Nil components are skipped at run time.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	httpServer *pkghttp.Server,
	feed *usecase.PriceFeedCollector,
	consumer *pkgkafka.Consumer,
	fh *usecase.FeatureSnapshotHandler,
	scheduler *usecase.Scheduler,
	q *queue.RedisQueue,
	repo repository.SnapshotRepository,
	events repository.EventPublisher,
	ch *pkgch.Client,
	c cache.Service,
) *server.App {
	app := server.New(cfg, l, httpServer)
	if feed != nil {
		app.WithPriceFeed(feed)
	}
	if consumer != nil {
		consumer.WithConsumerHook(pkgkafka.NoopHook{})
		app.WithConsumer(consumer, fh)
	}
	if scheduler != nil {
		app.WithScheduler(scheduler)
	}
	if q != nil {
		app.WithQueue(q)
	}

	if cl, ok := repo.(interface{ Close() error }); ok {
		app.AddCloser("snapshots", cl.Close)
	}
	// owns the Kafka producer
	app.AddCloser("events", events.Close)
	if ch != nil {
		app.AddCloser("clickhouse", ch.Close)
	}
	app.AddCloser("cache", c.Close)
	return app
}
