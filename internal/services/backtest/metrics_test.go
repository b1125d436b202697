package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinSignal/internal/domain/models"
)

var t0 = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func labeled(at time.Time, rule models.Action, now, future float64) *models.SignalSnapshot {
	return &models.SignalSnapshot{
		Symbol:         "BTC",
		Interval:       "1h",
		GeneratedAt:    at,
		SignalRule:     rule,
		PriceNow:       models.Float64Ptr(now),
		PriceFuture:    models.Float64Ptr(future),
		LabelDirection: models.DirectionSideways,
	}
}

func TestReport_BTCScenario(t *testing.T) {
	snaps := []*models.SignalSnapshot{
		labeled(t0, models.ActionBuy, 100, 105),
		labeled(t0.Add(time.Hour), models.ActionSell, 200, 190),
		labeled(t0.Add(2*time.Hour), models.ActionHold, 50, 55),
	}

	rep := Report("BTC", t0, t0.Add(24*time.Hour), snaps, nil, Options{IncludeTrades: true})

	assert.Equal(t, 3, rep.Total)
	assert.Equal(t, 2, rep.Trades)
	assert.Equal(t, 1, rep.BuyTrades)
	assert.Equal(t, 1, rep.SellTrades)
	assert.Equal(t, 1, rep.NeutralTrades)
	require.Len(t, rep.TradeList, 2)
	assert.InDelta(t, 5.0, rep.TradeList[0].ReturnPct, 1e-9)
	assert.InDelta(t, 5.0, rep.TradeList[1].ReturnPct, 1e-9)
	assert.Equal(t, 1.0, rep.WinRate)
	assert.True(t, rep.ProfitFactor.IsInf())
	assert.Zero(t, rep.MaxDrawdownPct)
	assert.InDelta(t, 5.0, rep.AvgReturnAllPct, 1e-9)
	assert.InDelta(t, 5.0, rep.ExpectancyPct, 1e-9)
	assert.InDelta(t, 5.0, rep.MedianReturnPct, 1e-9)
	assert.Zero(t, rep.SharpeRatio)
}

func TestReport_ExcludesUnlabeled(t *testing.T) {
	pending := &models.SignalSnapshot{
		Symbol:      "BTC",
		GeneratedAt: t0,
		SignalRule:  models.ActionBuy,
		PriceNow:    models.Float64Ptr(100),
	}

	rep := Report("BTC", t0, t0.Add(time.Hour), []*models.SignalSnapshot{pending}, nil, Options{})

	assert.True(t, rep.Empty())
	assert.Zero(t, rep.WinRate)
	assert.Equal(t, models.Ratio(0), rep.ProfitFactor)
}

func TestReport_PureAndOrderIndependent(t *testing.T) {
	snaps := []*models.SignalSnapshot{
		labeled(t0.Add(2*time.Hour), models.ActionBuy, 100, 90),
		labeled(t0, models.ActionBuy, 100, 110),
		labeled(t0.Add(time.Hour), models.ActionSell, 100, 103),
	}
	shuffled := []*models.SignalSnapshot{snaps[2], snaps[0], snaps[1]}

	a := Report("BTC", t0, t0.Add(time.Hour*3), snaps, nil, Options{IncludeTrades: true})
	b := Report("BTC", t0, t0.Add(time.Hour*3), snaps, nil, Options{IncludeTrades: true})
	c := Report("BTC", t0, t0.Add(time.Hour*3), shuffled, nil, Options{IncludeTrades: true})

	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
	assert.Equal(t, t0.Add(2*time.Hour), snaps[0].GeneratedAt, "input must not be reordered")
	assert.Equal(t, t0, a.TradeList[0].GeneratedAt)
}

func TestReport_DrawdownAndStats(t *testing.T) {
	snaps := []*models.SignalSnapshot{
		labeled(t0, models.ActionBuy, 100, 110),
		labeled(t0.Add(time.Hour), models.ActionSell, 100, 103),
		labeled(t0.Add(2*time.Hour), models.ActionBuy, 100, 90),
	}

	rep := Report("BTC", t0, t0.Add(time.Hour*3), snaps, nil, Options{})

	// equity 1.10 -> 1.067 -> 0.9603, peak 1.10
	assert.InDelta(t, (1.10-0.9603)*100, rep.MaxDrawdownPct, 1e-9)
	assert.InDelta(t, 1.0/3.0, rep.WinRate, 1e-9)
	assert.InDelta(t, 10.0, rep.BestTradePct, 1e-9)
	assert.InDelta(t, -10.0, rep.WorstTradePct, 1e-9)
	assert.InDelta(t, -3.0, rep.MedianReturnPct, 1e-9)
	assert.InDelta(t, 10.0/13.0, float64(rep.ProfitFactor), 1e-9)
	assert.InDelta(t, 0.0, rep.AvgReturnBuyPct, 1e-9)
	assert.InDelta(t, -3.0, rep.AvgReturnSellPct, 1e-9)
	assert.InDelta(t, Expectancy(1.0/3.0, 10, 6.5), rep.ExpectancyPct, 1e-9)
	assert.InDelta(t, -3.97, rep.TotalReturnPct, 1e-9)
	assert.NotZero(t, rep.SharpeRatio)
}

func TestProfitFactor_EdgeCases(t *testing.T) {
	assert.True(t, ProfitFactor([]float64{1, 2}).IsInf())
	assert.Equal(t, models.Ratio(0), ProfitFactor(nil))
	assert.Equal(t, models.Ratio(0), ProfitFactor([]float64{0, 0}))
	assert.Equal(t, models.Ratio(0), ProfitFactor([]float64{-1}))
	assert.InDelta(t, 2.0, float64(ProfitFactor([]float64{4, -2})), 1e-12)
}

func TestMaxDrawdown_PeakNeverDecreases(t *testing.T) {
	sequences := [][]float64{
		{5, -3, 2, -10, 8, 1, -1},
		{-5, -5, -5},
		{1, 2, 3},
		{50, -40, 30, -20, 10, 0, -60},
	}
	for _, seq := range sequences {
		dd, peaks := MaxDrawdown(seq)
		require.Len(t, peaks, len(seq))
		assert.GreaterOrEqual(t, dd, 0.0)
		for i := 1; i < len(peaks); i++ {
			assert.GreaterOrEqual(t, peaks[i], peaks[i-1])
		}
		assert.GreaterOrEqual(t, peaks[0], 1.0)
	}
}

func TestReport_AIStatistics(t *testing.T) {
	snaps := []*models.SignalSnapshot{
		labeled(t0, models.ActionBuy, 100, 105),
		labeled(t0.Add(time.Hour), models.ActionBuy, 100, 97),
		labeled(t0.Add(2*time.Hour), models.ActionSell, 100, 96),
		labeled(t0.Add(3*time.Hour), models.ActionSell, 100, 101),
	}
	opinions := map[time.Time]*models.Prediction{
		t0:                    {Probability: 0.8, Decision: models.DirectionUp, Confidence: 0.6},
		t0.Add(time.Hour):     {Probability: 0.3, Decision: models.DirectionDown, Confidence: 0.4},
		t0.Add(2 * time.Hour): {Probability: 0.55, Decision: models.DirectionUp, Confidence: 0.1},
		t0.Add(3 * time.Hour): {Probability: 0.2, Decision: models.DirectionDown, Confidence: 0.6},
	}
	opinion := func(s *models.SignalSnapshot) *models.Prediction { return opinions[s.GeneratedAt] }

	rep := Report("BTC", t0, t0.Add(4*time.Hour), snaps, opinion, Options{MinAIConfidence: 0.2})

	// third opinion is gated out by confidence
	assert.Equal(t, 3, rep.AIEvaluatedTrades)
	// aligned: UP on +5, DOWN on -3; misaligned: DOWN on +1
	assert.InDelta(t, 2.0/3.0, rep.AIAlignmentRate, 1e-9)
	// rule/AI agree on first (BUY/UP) and fourth (SELL/DOWN)
	assert.Equal(t, 2, rep.AIFilteredTrades)
	assert.InDelta(t, 0.5, rep.FilteredWinRate, 1e-9)
	assert.InDelta(t, 2.0, rep.FilteredAvgReturnPct, 1e-9)
}

func TestRatioJSON(t *testing.T) {
	b, err := models.Ratio(math.Inf(1)).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"+Inf"`, string(b))

	var r models.Ratio
	require.NoError(t, r.UnmarshalJSON([]byte(`"+Inf"`)))
	assert.True(t, r.IsInf())
	require.NoError(t, r.UnmarshalJSON([]byte(`1.5`)))
	assert.Equal(t, models.Ratio(1.5), r)
}

func TestCompute_FromTrades(t *testing.T) {
	rep := Compute([]models.SimulatedTrade{
		{Action: models.ActionBuy, RealizedPct: 2, ReturnPct: 2},
		{Action: models.ActionSell, RealizedPct: 1, ReturnPct: -1},
	})
	assert.Equal(t, 2, rep.Total)
	assert.Equal(t, 2, rep.Trades)
	assert.Equal(t, 0.5, rep.WinRate)
	assert.InDelta(t, 2.0, float64(rep.ProfitFactor), 1e-12)

	empty := Compute(nil)
	assert.Zero(t, empty.Trades)
	assert.Zero(t, float64(empty.ProfitFactor))
}

func TestCompute_FlatTradeIsNeitherWinNorLoss(t *testing.T) {
	rep := Compute([]models.SimulatedTrade{
		{Action: models.ActionBuy, RealizedPct: 4, ReturnPct: 4},
		{Action: models.ActionBuy, RealizedPct: 0, ReturnPct: 0},
		{Action: models.ActionSell, RealizedPct: 2, ReturnPct: -2},
	})
	assert.Equal(t, 1, rep.Wins)
	assert.Equal(t, 1, rep.Losses)
	assert.InDelta(t, 1.0/3, rep.WinRate, 1e-12)
	assert.InDelta(t, 2.0, rep.AvgLossPct, 1e-12)
	assert.InDelta(t, 1.0/3*4-2.0/3*2, rep.ExpectancyPct, 1e-12)
}
