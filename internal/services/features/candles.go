package features

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/montanaflynn/stats"

	"FinSignal/internal/domain/models"
	domrepo "FinSignal/internal/domain/repository"
)

// ComputeLogReturns computes log returns r_t = ln(C_t / C_{t-1}).
// It returns a slice of length len(candles)-1, or nil if insufficient data.
func ComputeLogReturns(candles []models.Candle) []float64 {
	if len(candles) < 2 {
		return nil
	}
	out := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		cur := candles[i].Close
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// RealizedVolatility computes annualized realized volatility over the last
// window returns using barsPerYear.
func RealizedVolatility(logReturns []float64, window int, barsPerYear float64) float64 {
	if window <= 1 || len(logReturns) < window {
		return 0
	}
	sd, err := stats.StandardDeviationSample(logReturns[len(logReturns)-window:])
	if err != nil || math.IsNaN(sd) {
		return 0
	}
	return sd * math.Sqrt(barsPerYear)
}

// BarsPerYear returns the number of iv bars in a 365-day year.
func BarsPerYear(iv domrepo.Interval) float64 {
	d := iv.Duration()
	if d == 0 {
		d = time.Hour
	}
	return float64(365*24*time.Hour) / float64(d)
}

// ChangePct is the percent change of the last close over the close bars earlier.
func ChangePct(candles []models.Candle, bars int) (float64, bool) {
	if bars <= 0 || len(candles) <= bars {
		return 0, false
	}
	last := candles[len(candles)-1].Close
	prev := candles[len(candles)-1-bars].Close
	if prev <= 0 || last <= 0 {
		return 0, false
	}
	return models.ReturnPct(prev, last), true
}

// CandleFiller derives the momentum section and the last close from stored
// hourly candles when the upstream payload lacks them.
type CandleFiller struct {
	store domrepo.CandleStore
}

func NewCandleFiller(store domrepo.CandleStore) *CandleFiller {
	return &CandleFiller{store: store}
}

const momentumBars = 25 // 24h of hourly changes plus the base bar

// Fill mutates fm in place. Sections already present are left untouched.
func (f *CandleFiller) Fill(ctx context.Context, fm models.FeatureMap, pair string, asOf time.Time) error {
	needMomentum := !fm.HasSection(models.SectionMomentum)
	needClose := fm.LastClose() <= 0
	if !needMomentum && !needClose {
		return nil
	}
	candles, err := f.store.GetLatestNCandles(ctx, pair, momentumBars, domrepo.Interval1h, asOf)
	if err != nil {
		return fmt.Errorf("fill from candles: %w", err)
	}
	if len(candles) == 0 {
		return nil
	}

	if needClose {
		setLastClose(fm, candles[len(candles)-1].Close)
	}
	if needMomentum {
		m := map[string]any{}
		if v, ok := ChangePct(candles, 1); ok {
			m["change_pct_1h"] = v
		}
		if v, ok := ChangePct(candles, 24); ok {
			m["change_pct_24h"] = v
		}
		if vol := RealizedVolatility(ComputeLogReturns(candles), 24, BarsPerYear(domrepo.Interval1h)); vol > 0 {
			m["realized_vol_24h"] = vol
		}
		if _, ok := m["change_pct_1h"]; ok {
			fm[models.SectionMomentum] = m
		}
	}
	return nil
}

func setLastClose(fm models.FeatureMap, price float64) {
	micro, ok := fm[models.SectionMicrostructure].(map[string]any)
	if !ok {
		micro = map[string]any{}
		fm[models.SectionMicrostructure] = micro
	}
	p, ok := micro["price"].(map[string]any)
	if !ok {
		p = map[string]any{}
		micro["price"] = p
	}
	p["last_close"] = price
}
