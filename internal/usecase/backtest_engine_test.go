package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinSignal/internal/domain/models"
	"FinSignal/internal/repository"
	"FinSignal/internal/services/backtest"
	"FinSignal/internal/services/model"
	"FinSignal/pkg/cache"
	"FinSignal/pkg/metrics"
)

func trainingFeatures(momentum1h float64) models.FeatureMap {
	return models.FeatureMap{
		"funding":        map[string]any{"rate": 0.01},
		"open_interest":  map[string]any{"change_pct_24h": 2.0},
		"sentiment":      map[string]any{"fear_greed": 60.0},
		"microstructure": map[string]any{"orderbook": map[string]any{"imbalance": 0.1}, "spread_bps": 1.5},
		"momentum":       map[string]any{"change_pct_1h": momentum1h, "change_pct_24h": 1.0},
		"long_short":     map[string]any{"ratio": 1.2},
	}
}

func labeledSnap(at time.Time, rule models.Action, now, future float64, dir models.LabelDirection) *models.SignalSnapshot {
	s := newSnap(at, rule, 0, models.Float64Ptr(now))
	s.PriceFuture = models.Float64Ptr(future)
	s.LabelDirection = dir
	s.LabelMagnitude = models.Float64Ptr(models.ReturnPct(now, future))
	s.LabeledAt = models.TimePtr(at.Add(24 * time.Hour))
	return s
}

func TestBacktestEngine_Run(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemorySnapshotRepository()
	require.NoError(t, repo.Save(ctx, labeledSnap(t0, models.ActionBuy, 100, 102, models.DirectionUp)))
	require.NoError(t, repo.Save(ctx, labeledSnap(t0.Add(time.Hour), models.ActionSell, 100, 101, models.DirectionUp)))
	require.NoError(t, repo.Save(ctx, labeledSnap(t0.Add(2*time.Hour), models.ActionHold, 100, 100, models.DirectionSideways)))
	require.NoError(t, repo.Save(ctx, newSnap(t0.Add(3*time.Hour), models.ActionBuy, 2, models.Float64Ptr(100))))

	eng := NewBacktestEngine(repo, nil, nil, metrics.Nop{}, 0, nil)
	rep, err := eng.Run(ctx, "BTC", t0, t0.Add(24*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 3, rep.Total)
	assert.Equal(t, 2, rep.Trades)
	assert.Equal(t, 1, rep.Wins)
	assert.Equal(t, 1, rep.Losses)
	assert.InDelta(t, 0.5, rep.WinRate, 1e-9)
	assert.Zero(t, rep.AIEvaluatedTrades)
}

func TestBacktestEngine_EmptyWindow(t *testing.T) {
	eng := NewBacktestEngine(repository.NewMemorySnapshotRepository(), nil, nil, metrics.Nop{}, 0, nil)
	rep, err := eng.Run(context.Background(), "BTC", t0, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, rep.Empty())
	assert.Zero(t, rep.WinRate)
}

func TestBacktestEngine_InvalidWindow(t *testing.T) {
	repo := repository.NewMemorySnapshotRepository()
	eng := NewBacktestEngine(repo, nil, nil, metrics.Nop{}, 0, nil)

	_, err := eng.Run(context.Background(), "BTC", t0.Add(time.Hour), t0)
	assert.ErrorIs(t, err, models.ErrInvalidConfiguration)

	_, err = eng.Run(context.Background(), "", t0, t0)
	assert.ErrorIs(t, err, models.ErrInvalidConfiguration)
}

func TestBacktestEngine_AttachesModelOpinion(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemorySnapshotRepository()
	for i := 0; i < 4; i++ {
		s := labeledSnap(t0.Add(time.Duration(i)*time.Hour), models.ActionBuy, 100, 101, models.DirectionUp)
		s.FeaturesPayload = trainingFeatures(3)
		require.NoError(t, repo.Save(ctx, s))
	}

	mc := cache.NewMemoryCache()
	defer mc.Close()
	store := repository.NewCacheModelStore(mc, 0)
	tr := model.NewTrainer()
	samples := make([]models.Sample, 0, 40)
	for i := 0; i < 40; i++ {
		m, label := 2.0, 1.0
		if i%2 == 1 {
			m, label = -2, 0
		}
		samples = append(samples, models.Sample{Vector: model.ExtractFeatureVector(trainingFeatures(m)), Label: label})
	}
	m, err := tr.Train(samples, 300, 0.5)
	require.NoError(t, err)
	m.Symbol = "BTC"
	require.NoError(t, store.Save(ctx, m))

	eng := NewBacktestEngine(repo, store, model.NewPredictor(), metrics.Nop{}, 0, nil)
	rep, err := eng.RunWithOptions(ctx, "BTC", t0, t0.Add(24*time.Hour), backtest.Options{IncludeTrades: true})
	require.NoError(t, err)

	assert.Equal(t, 4, rep.Trades)
	assert.Equal(t, 4, rep.AIEvaluatedTrades)
	assert.InDelta(t, 1.0, rep.AIAlignmentRate, 1e-9)
	require.Len(t, rep.TradeList, 4)
	assert.Equal(t, models.DirectionUp, rep.TradeList[0].AIDecision)
}

func TestBacktestEngine_MissingModelMeansNoOpinion(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemorySnapshotRepository()
	require.NoError(t, repo.Save(ctx, labeledSnap(t0, models.ActionBuy, 100, 102, models.DirectionUp)))
	mc := cache.NewMemoryCache()
	defer mc.Close()

	eng := NewBacktestEngine(repo, repository.NewCacheModelStore(mc, 0), model.NewPredictor(), metrics.Nop{}, 0.2, nil)
	rep, err := eng.Run(ctx, "BTC", t0, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Trades)
	assert.Zero(t, rep.AIEvaluatedTrades)
}
