package signal

import (
	"fmt"
	"math"

	"FinSignal/internal/domain/models"
)

// Engine is the deterministic rule scorer. It holds no mutable state and is safe for concurrent use.
type Engine struct {
	rules Rules
}

func NewEngine(rules Rules) *Engine {
	return &Engine{rules: rules}
}

type contribution struct {
	score  float64
	factor string
}

// Score never fails: missing sections contribute nothing.
func (e *Engine) Score(fm models.FeatureMap) models.Signal {
	f := models.ParseFeatures(fm)

	var parts []contribution
	add := func(c *contribution) {
		if c != nil {
			parts = append(parts, *c)
		}
	}
	add(e.funding(f.Funding))
	add(e.openInterest(f.OpenInterest, f.Momentum))
	add(e.whales(f.Whales))
	add(e.etf(f.ETF))
	add(e.sentiment(f.Sentiment))
	add(e.microstructure(f.Microstructure))
	add(e.liquidations(f.Liquidations))
	add(e.longShort(f.LongShort))
	for _, c := range e.momentum(f.Momentum) {
		add(c)
	}

	var score float64
	factors := make([]string, 0, len(parts))
	for _, p := range parts {
		score += p.score
		factors = append(factors, p.factor)
	}
	score = round4(score)

	action := models.ActionHold
	switch {
	case score >= e.rules.BuyThreshold:
		action = models.ActionBuy
	case score <= -e.rules.SellThreshold:
		action = models.ActionSell
	}

	return models.Signal{
		Action:     action,
		Score:      score,
		Confidence: e.confidence(score),
		Factors:    factors,
	}
}

func (e *Engine) confidence(score float64) float64 {
	if e.rules.MaxAbsScore <= 0 {
		return 0
	}
	return round4(math.Min(1, math.Abs(score)/e.rules.MaxAbsScore))
}

func (e *Engine) funding(s *models.FundingSection) *contribution {
	if s == nil {
		return nil
	}
	w := e.rules.SectionWeight
	switch {
	case s.Rate >= e.rules.FundingCrowdedLong:
		return &contribution{-w, fmt.Sprintf("funding crowded long (%.4f%%)", s.Rate)}
	case s.Rate <= e.rules.FundingNegative:
		return &contribution{w, fmt.Sprintf("funding negative (%.4f%%)", s.Rate)}
	}
	return nil
}

// openInterest needs the 24h price direction to tell fresh longs from fresh shorts.
func (e *Engine) openInterest(s *models.OpenInterestSection, m *models.MomentumSection) *contribution {
	if s == nil || m == nil || s.ChangePct24h <= e.rules.OIChangePct {
		return nil
	}
	w := e.rules.SectionWeight
	switch {
	case m.ChangePct24h > 0:
		return &contribution{w, fmt.Sprintf("open interest +%.1f%% with rising price", s.ChangePct24h)}
	case m.ChangePct24h < 0:
		return &contribution{-w, fmt.Sprintf("open interest +%.1f%% into falling price", s.ChangePct24h)}
	}
	return nil
}

func (e *Engine) whales(s *models.WhalesSection) *contribution {
	if s == nil {
		return nil
	}
	w := e.rules.SectionWeight
	switch {
	case s.NetFlowUSD <= -e.rules.WhaleFlowUSD:
		return &contribution{w, fmt.Sprintf("whale exchange outflow $%.0f", -s.NetFlowUSD)}
	case s.NetFlowUSD >= e.rules.WhaleFlowUSD:
		return &contribution{-w, fmt.Sprintf("whale exchange inflow $%.0f", s.NetFlowUSD)}
	}
	return nil
}

func (e *Engine) etf(s *models.ETFSection) *contribution {
	if s == nil {
		return nil
	}
	w := e.rules.SectionWeight
	switch {
	case s.NetFlowUSD >= e.rules.ETFFlowUSD:
		return &contribution{w, fmt.Sprintf("etf net inflow $%.0f", s.NetFlowUSD)}
	case s.NetFlowUSD <= -e.rules.ETFFlowUSD:
		return &contribution{-w, fmt.Sprintf("etf net outflow $%.0f", -s.NetFlowUSD)}
	}
	return nil
}

func (e *Engine) sentiment(s *models.SentimentSection) *contribution {
	if s == nil {
		return nil
	}
	w := e.rules.SectionWeight
	switch {
	case s.FearGreed <= e.rules.ExtremeFear:
		return &contribution{w, fmt.Sprintf("extreme fear (%.0f)", s.FearGreed)}
	case s.FearGreed >= e.rules.ExtremeGreed:
		return &contribution{-w, fmt.Sprintf("extreme greed (%.0f)", s.FearGreed)}
	}
	return nil
}

func (e *Engine) microstructure(s *models.MicrostructureSection) *contribution {
	if s == nil {
		return nil
	}
	w := e.rules.MicrostructureWeight
	switch {
	case s.Imbalance >= e.rules.Imbalance:
		return &contribution{w, fmt.Sprintf("orderbook bid imbalance %.2f", s.Imbalance)}
	case s.Imbalance <= -e.rules.Imbalance:
		return &contribution{-w, fmt.Sprintf("orderbook ask imbalance %.2f", s.Imbalance)}
	}
	return nil
}

func (e *Engine) liquidations(s *models.LiquidationsSection) *contribution {
	if s == nil {
		return nil
	}
	w := e.rules.SectionWeight
	ratio := e.rules.LiquidationRatio
	switch {
	case s.ShortUSD > 0 && s.ShortUSD >= ratio*s.LongUSD:
		return &contribution{w, fmt.Sprintf("short squeeze: shorts liquidated $%.0f vs longs $%.0f", s.ShortUSD, s.LongUSD)}
	case s.LongUSD > 0 && s.LongUSD >= ratio*s.ShortUSD:
		return &contribution{-w, fmt.Sprintf("long flush: longs liquidated $%.0f vs shorts $%.0f", s.LongUSD, s.ShortUSD)}
	}
	return nil
}

func (e *Engine) longShort(s *models.LongShortSection) *contribution {
	if s == nil {
		return nil
	}
	w := e.rules.SectionWeight
	switch {
	case s.Ratio >= e.rules.LongShortHigh:
		return &contribution{-w, fmt.Sprintf("crowded longs (ratio %.2f)", s.Ratio)}
	case s.Ratio > 0 && s.Ratio <= e.rules.LongShortLow:
		return &contribution{w, fmt.Sprintf("crowded shorts (ratio %.2f)", s.Ratio)}
	}
	return nil
}

func (e *Engine) momentum(s *models.MomentumSection) []*contribution {
	if s == nil {
		return nil
	}
	w := e.rules.SectionWeight
	var out []*contribution
	switch {
	case s.ChangePct1h >= e.rules.Momentum1hPct:
		out = append(out, &contribution{w, fmt.Sprintf("1h momentum %+.2f%%", s.ChangePct1h)})
	case s.ChangePct1h <= -e.rules.Momentum1hPct:
		out = append(out, &contribution{-w, fmt.Sprintf("1h momentum %+.2f%%", s.ChangePct1h)})
	}
	switch {
	case s.ChangePct24h >= e.rules.Momentum24hPct:
		out = append(out, &contribution{w, fmt.Sprintf("24h momentum %+.2f%%", s.ChangePct24h)})
	case s.ChangePct24h <= -e.rules.Momentum24hPct:
		out = append(out, &contribution{-w, fmt.Sprintf("24h momentum %+.2f%%", s.ChangePct24h)})
	}
	return out
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
