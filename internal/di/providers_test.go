package di

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinSignal/internal/domain/models"
	internalrepo "FinSignal/internal/repository"
	"FinSignal/pkg/cache"
	"FinSignal/pkg/config"
	applogger "FinSignal/pkg/logger"
	"FinSignal/pkg/metrics"
)

const memoryConfig = `
environment: test
symbols:
  - symbol: BTC
  - symbol: ETH
snapshots:
  backend: memory
price_source:
  rest_enabled: false
`

func testConfig(t *testing.T, doc string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(doc))
	require.NoError(t, err)
	return cfg
}

func TestProvide_MemoryBackends(t *testing.T) {
	cfg := testConfig(t, memoryConfig)

	repo, err := ProvideSnapshotRepository(cfg)
	require.NoError(t, err)
	assert.IsType(t, &internalrepo.MemorySnapshotRepository{}, repo)

	c := ProvideCache(nil)
	assert.IsType(t, &cache.MemoryCache{}, c)

	producer, err := ProvideKafkaProducer(cfg)
	require.NoError(t, err)
	assert.Nil(t, producer)
	assert.IsType(t, internalrepo.NopEventPublisher{}, ProvideEventPublisher(cfg, producer))

	ch, err := ProvideClickHouseClient(cfg)
	require.NoError(t, err)
	assert.Nil(t, ch)
	candles, err := ProvideCandleStore(cfg, ch, applogger.Nop())
	require.NoError(t, err)
	assert.Nil(t, candles)
}

func TestProvidePriceSource_RequiresAnUpstream(t *testing.T) {
	cfg := testConfig(t, memoryConfig)
	_, err := ProvidePriceSource(cfg, nil)
	assert.Error(t, err)

	cfg.PriceSource.RESTEnabled = true
	ps, err := ProvidePriceSource(cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, ps)
}

func TestProvideSignalScorer_RejectsBadRules(t *testing.T) {
	cfg := testConfig(t, memoryConfig)
	s, err := ProvideSignalScorer(cfg)
	require.NoError(t, err)
	assert.NotNil(t, s)

	cfg.Signal.MaxAbsScore = 0
	_, err = ProvideSignalScorer(cfg)
	assert.Error(t, err)
}

func TestProvide_OptionalComponentsDisabled(t *testing.T) {
	cfg := testConfig(t, memoryConfig)
	l := applogger.Nop()
	m := metrics.Nop{}
	repo, err := ProvideSnapshotRepository(cfg)
	require.NoError(t, err)
	c := ProvideCache(nil)

	scorer, err := ProvideSignalScorer(cfg)
	require.NoError(t, err)
	cfg.PriceSource.RESTEnabled = true
	prices, err := ProvidePriceSource(cfg, nil)
	require.NoError(t, err)

	events := ProvideEventPublisher(cfg, nil)
	labeler := ProvideOutcomeLabeler(cfg, repo, prices, ProvideClaimLocker(c), events, m, l)
	trainer := ProvideModelTrainer(cfg, repo, ProvideModelStore(c), scorer, ProvidePredictor(), m, l)
	collector := ProvideSnapshotCollector(cfg, ProvideFeatureSource(cfg, nil, l), scorer, repo, events, m, l)
	require.Len(t, collector.Symbols(), 2)

	labelJob, err := ProvideLabelJob(cfg, labeler, l)
	require.NoError(t, err)
	trainJob := ProvideTrainJob(trainer, l)

	q, err := ProvideQueue(cfg, nil, labelJob, trainJob, l)
	require.NoError(t, err)
	assert.Nil(t, q)

	assert.Nil(t, ProvideScheduler(cfg, collector, labelJob, trainJob, q, m, l))
	assert.Nil(t, ProvidePriceFeedCollector(cfg, nil, m, l))

	consumer, err := ProvideKafkaConsumer(cfg, l)
	require.NoError(t, err)
	assert.Nil(t, consumer)

	cfg.Scheduler.Enabled = true
	assert.NotNil(t, ProvideScheduler(cfg, collector, labelJob, trainJob, q, m, l))
}

func TestProvideLabelJob_ResolvesDefaults(t *testing.T) {
	cfg := testConfig(t, memoryConfig+`
labeling:
  horizon: 2d
  strategies: [momentum, basic]
  skip_on_error: false
`)
	job, err := ProvideLabelJob(cfg, nil, applogger.Nop())
	require.NoError(t, err)

	d := job.Defaults()
	assert.Equal(t, 48*time.Hour, d.Horizon)
	assert.Equal(t, []models.LabelStrategy{models.StrategyMomentum, models.StrategyBasic}, d.Strategies)
	assert.False(t, d.SkipOnError)
}
