package signal

import (
	"fmt"

	"FinSignal/internal/domain/models"
)

// Rules holds the policy constants of the rule engine.
type Rules struct {
	FundingCrowdedLong float64 `yaml:"funding_crowded_long" default:"0.05"`
	FundingNegative    float64 `yaml:"funding_negative" default:"-0.01"`
	OIChangePct        float64 `yaml:"oi_change_pct" default:"5"`
	WhaleFlowUSD       float64 `yaml:"whale_flow_usd" default:"10000000"`
	ETFFlowUSD         float64 `yaml:"etf_flow_usd" default:"50000000"`
	ExtremeFear        float64 `yaml:"extreme_fear" default:"25"`
	ExtremeGreed       float64 `yaml:"extreme_greed" default:"75"`
	Imbalance          float64 `yaml:"imbalance" default:"0.2"`
	LiquidationRatio   float64 `yaml:"liquidation_ratio" default:"2"`
	LongShortHigh      float64 `yaml:"long_short_high" default:"2"`
	LongShortLow       float64 `yaml:"long_short_low" default:"0.7"`
	Momentum1hPct      float64 `yaml:"momentum_1h_pct" default:"1"`
	Momentum24hPct     float64 `yaml:"momentum_24h_pct" default:"3"`

	SectionWeight        float64 `yaml:"section_weight" default:"0.5"`
	MicrostructureWeight float64 `yaml:"microstructure_weight" default:"0.75"`

	BuyThreshold  float64 `yaml:"buy_threshold" default:"1"`
	SellThreshold float64 `yaml:"sell_threshold" default:"1"`
	MaxAbsScore   float64 `yaml:"max_abs_score" default:"4"`
}

// DefaultRules returns the production weighting.
func DefaultRules() Rules {
	return Rules{
		FundingCrowdedLong:   0.05,
		FundingNegative:      -0.01,
		OIChangePct:          5,
		WhaleFlowUSD:         10_000_000,
		ETFFlowUSD:           50_000_000,
		ExtremeFear:          25,
		ExtremeGreed:         75,
		Imbalance:            0.2,
		LiquidationRatio:     2,
		LongShortHigh:        2,
		LongShortLow:         0.7,
		Momentum1hPct:        1,
		Momentum24hPct:       3,
		SectionWeight:        0.5,
		MicrostructureWeight: 0.75,
		BuyThreshold:         1,
		SellThreshold:        1,
		MaxAbsScore:          4,
	}
}

// Validate rejects rule sets that would make the engine ill-defined.
func (r Rules) Validate() error {
	switch {
	case r.BuyThreshold <= 0 || r.SellThreshold <= 0:
		return fmt.Errorf("buy/sell thresholds must be positive: %w", models.ErrInvalidConfiguration)
	case r.MaxAbsScore <= 0:
		return fmt.Errorf("max_abs_score must be positive: %w", models.ErrInvalidConfiguration)
	case r.ExtremeFear >= r.ExtremeGreed:
		return fmt.Errorf("extreme_fear must be below extreme_greed: %w", models.ErrInvalidConfiguration)
	case r.LongShortLow >= r.LongShortHigh:
		return fmt.Errorf("long_short_low must be below long_short_high: %w", models.ErrInvalidConfiguration)
	case r.LiquidationRatio <= 1:
		return fmt.Errorf("liquidation_ratio must exceed 1: %w", models.ErrInvalidConfiguration)
	}
	return nil
}
