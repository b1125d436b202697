package backtest

import (
	"math"
	"sort"
	"time"

	"github.com/montanaflynn/stats"

	"FinSignal/internal/domain/models"
)

// OpinionFunc returns the model opinion for a snapshot, nil when none.
type OpinionFunc func(s *models.SignalSnapshot) *models.Prediction

type Options struct {
	// MinAIConfidence gates model opinions; below it a trade has no AI view.
	MinAIConfidence float64
	IncludeTrades   bool
}

// SimulateTrade replays a labeled snapshot. ok is false for HOLD or unusable prices.
func SimulateTrade(s *models.SignalSnapshot) (models.SimulatedTrade, bool) {
	realized, ok := s.RealizedReturnPct()
	if !ok {
		return models.SimulatedTrade{}, false
	}
	t := models.SimulatedTrade{
		GeneratedAt: s.GeneratedAt,
		Action:      s.SignalRule,
		RealizedPct: realized,
	}
	switch s.SignalRule {
	case models.ActionBuy:
		t.ReturnPct = realized
	case models.ActionSell:
		t.ReturnPct = -realized
	default:
		return t, false
	}
	return t, true
}

// Report computes the full report. Input is not modified; snapshots are ordered
// by generated_at before the equity curve is built.
func Report(symbol string, start, end time.Time, snaps []*models.SignalSnapshot, opinion OpinionFunc, opts Options) *models.BacktestReport {
	rep := &models.BacktestReport{Symbol: symbol, Start: start, End: end}

	ordered := make([]*models.SignalSnapshot, 0, len(snaps))
	for _, s := range snaps {
		if s != nil && s.IsLabeled() {
			ordered = append(ordered, s)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].GeneratedAt.Before(ordered[j].GeneratedAt)
	})

	trades := make([]models.SimulatedTrade, 0, len(ordered))
	for _, s := range ordered {
		if _, priced := s.RealizedReturnPct(); !priced {
			continue
		}
		rep.Total++
		t, ok := SimulateTrade(s)
		if !ok {
			rep.NeutralTrades++
			continue
		}
		if opinion != nil {
			if p := opinion(s); p != nil && p.Confidence >= opts.MinAIConfidence {
				t.AIDecision = p.Decision
				t.AIConfidence = p.Confidence
			}
		}
		trades = append(trades, t)
	}

	Fill(rep, trades)
	if opts.IncludeTrades {
		rep.TradeList = trades
	}
	return rep
}

// Compute builds the trade-derived part of a report from chronological trades.
func Compute(trades []models.SimulatedTrade) *models.BacktestReport {
	rep := &models.BacktestReport{Total: len(trades)}
	Fill(rep, trades)
	return rep
}

// Fill writes every trade-derived metric into rep. trades must be chronological.
func Fill(rep *models.BacktestReport, trades []models.SimulatedTrade) {
	rep.Trades = len(trades)
	if len(trades) == 0 {
		rep.ProfitFactor = 0
		return
	}

	returns := make([]float64, 0, len(trades))
	var buys, sells, wins, losses []float64
	for _, t := range trades {
		returns = append(returns, t.ReturnPct)
		switch t.Action {
		case models.ActionBuy:
			buys = append(buys, t.ReturnPct)
		case models.ActionSell:
			sells = append(sells, t.ReturnPct)
		}
		// flat trades are neither
		switch {
		case t.Win():
			wins = append(wins, t.ReturnPct)
		case t.ReturnPct < 0:
			losses = append(losses, math.Abs(t.ReturnPct))
		}
	}

	rep.BuyTrades = len(buys)
	rep.SellTrades = len(sells)
	rep.Wins = len(wins)
	rep.Losses = len(losses)
	rep.WinRate = float64(len(wins)) / float64(len(trades))
	rep.AvgReturnBuyPct = mean(buys)
	rep.AvgReturnSellPct = mean(sells)
	rep.AvgReturnAllPct = mean(returns)
	rep.AvgWinPct = mean(wins)
	rep.AvgLossPct = mean(losses)
	rep.ExpectancyPct = Expectancy(rep.WinRate, rep.AvgWinPct, rep.AvgLossPct)
	rep.ProfitFactor = ProfitFactor(returns)

	dd, _ := MaxDrawdown(returns)
	rep.MaxDrawdownPct = dd * 100
	rep.TotalReturnPct = (Equity(returns) - 1) * 100

	rep.MedianReturnPct, _ = stats.Median(returns)
	rep.BestTradePct, _ = stats.Max(returns)
	rep.WorstTradePct, _ = stats.Min(returns)
	rep.SharpeRatio = Sharpe(returns)

	fillAI(rep, trades)
}

func fillAI(rep *models.BacktestReport, trades []models.SimulatedTrade) {
	var evaluated, aligned int
	var filtered []float64
	var filteredWins int
	for _, t := range trades {
		if !t.HasAI() {
			continue
		}
		evaluated++
		realizedUp := t.RealizedPct > 0
		if (t.AIDecision == models.DirectionUp) == realizedUp {
			aligned++
		}
		if t.AIDecision == t.Action.ExpectedDirection() {
			filtered = append(filtered, t.ReturnPct)
			if t.Win() {
				filteredWins++
			}
		}
	}
	rep.AIEvaluatedTrades = evaluated
	if evaluated > 0 {
		rep.AIAlignmentRate = float64(aligned) / float64(evaluated)
	}
	rep.AIFilteredTrades = len(filtered)
	if len(filtered) > 0 {
		rep.FilteredWinRate = float64(filteredWins) / float64(len(filtered))
		rep.FilteredAvgReturnPct = mean(filtered)
	}
}

// Expectancy is win_rate*avg_win - (1-win_rate)*avg_loss_abs.
func Expectancy(winRate, avgWin, avgLossAbs float64) float64 {
	return winRate*avgWin - (1-winRate)*avgLossAbs
}

// ProfitFactor is gross profit over gross loss; +Inf with wins and no losses, 0 with neither.
func ProfitFactor(returns []float64) models.Ratio {
	var profit, loss float64
	for _, r := range returns {
		switch {
		case r > 0:
			profit += r
		case r < 0:
			loss += -r
		}
	}
	switch {
	case loss == 0 && profit > 0:
		return models.Ratio(math.Inf(1))
	case loss == 0:
		return 0
	}
	return models.Ratio(profit / loss)
}

// MaxDrawdown walks the equity curve from 1.0 and returns the largest
// peak-minus-value gap together with the running peak after each step.
func MaxDrawdown(returns []float64) (float64, []float64) {
	equity, peak, maxDD := 1.0, 1.0, 0.0
	peaks := make([]float64, 0, len(returns))
	for _, r := range returns {
		equity *= 1 + r/100
		if equity > peak {
			peak = equity
		}
		if dd := peak - equity; dd > maxDD {
			maxDD = dd
		}
		peaks = append(peaks, peak)
	}
	return maxDD, peaks
}

// Equity compounds returns from a starting value of 1.0.
func Equity(returns []float64) float64 {
	equity := 1.0
	for _, r := range returns {
		equity *= 1 + r/100
	}
	return equity
}

// Sharpe is the per-trade mean over sample standard deviation, 0 when undefined.
func Sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	sd, err := stats.StandardDeviationSample(returns)
	if err != nil || sd == 0 {
		return 0
	}
	m, _ := stats.Mean(returns)
	return m / sd
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m, err := stats.Mean(xs)
	if err != nil {
		return 0
	}
	return m
}
