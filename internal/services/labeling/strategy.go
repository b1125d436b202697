package labeling

import (
	"fmt"
	"math"

	"FinSignal/internal/domain/models"
)

// Thresholds are the labeling policy constants.
type Thresholds struct {
	Basic         float64 `yaml:"basic" default:"0.5"`
	Breakout      float64 `yaml:"breakout" default:"2"`
	MomentumScore float64 `yaml:"momentum_score" default:"1.5"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{Basic: 0.5, Breakout: 2.0, MomentumScore: 1.5}
}

func (t Thresholds) Validate() error {
	if t.Basic <= 0 || t.Breakout <= 0 {
		return fmt.Errorf("label thresholds must be positive (basic=%v breakout=%v): %w", t.Basic, t.Breakout, models.ErrInvalidConfiguration)
	}
	if t.MomentumScore <= 0 {
		return fmt.Errorf("momentum score threshold must be positive: %w", models.ErrInvalidConfiguration)
	}
	return nil
}

// Input is what every strategy sees for one snapshot.
type Input struct {
	Current   float64
	Future    float64
	ReturnPct float64
	Snapshot  *models.SignalSnapshot
}

// NewInput derives the return from the two prices; current must be positive.
func NewInput(current, future float64, snap *models.SignalSnapshot) Input {
	return Input{
		Current:   current,
		Future:    future,
		ReturnPct: models.ReturnPct(current, future),
		Snapshot:  snap,
	}
}

type strategyFunc func(in Input, th Thresholds) models.LabelDirection

var strategies = map[models.LabelStrategy]strategyFunc{
	models.StrategyBasic:         basic,
	models.StrategyBreakout:      breakout,
	models.StrategyMeanReversion: meanReversion,
	models.StrategyMomentum:      momentum,
}

// Apply runs one strategy. Magnitude is always the realized percent return.
func Apply(s models.LabelStrategy, in Input, th Thresholds) (models.StrategyOutput, error) {
	fn, ok := strategies[s]
	if !ok {
		return models.StrategyOutput{}, fmt.Errorf("unknown labeling strategy %q: %w", s, models.ErrInvalidConfiguration)
	}
	return models.StrategyOutput{
		Strategy:  s,
		Direction: fn(in, th),
		Magnitude: in.ReturnPct,
	}, nil
}

// ApplyAll runs strategies in the given order.
func ApplyAll(list []models.LabelStrategy, in Input, th Thresholds) ([]models.StrategyOutput, error) {
	out := make([]models.StrategyOutput, 0, len(list))
	for _, s := range list {
		o, err := Apply(s, in, th)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func byThreshold(returnPct, threshold float64) models.LabelDirection {
	switch {
	case returnPct > threshold:
		return models.DirectionUp
	case returnPct < -threshold:
		return models.DirectionDown
	default:
		return models.DirectionSideways
	}
}

func basic(in Input, th Thresholds) models.LabelDirection {
	return byThreshold(in.ReturnPct, th.Basic)
}

func breakout(in Input, th Thresholds) models.LabelDirection {
	return byThreshold(in.ReturnPct, th.Breakout)
}

// meanReversion labels the correction after a failed BUY or SELL.
func meanReversion(in Input, th Thresholds) models.LabelDirection {
	if in.Snapshot != nil {
		switch {
		case in.Snapshot.SignalRule == models.ActionBuy && in.ReturnPct < 0:
			return models.DirectionUp
		case in.Snapshot.SignalRule == models.ActionSell && in.ReturnPct > 0:
			return models.DirectionDown
		}
	}
	return basic(in, th)
}

// momentum trusts a strong live signal over the realized move. Strength is
// the score magnitude; SELL scores are negative.
func momentum(in Input, th Thresholds) models.LabelDirection {
	if in.Snapshot != nil && math.Abs(in.Snapshot.SignalScore) > th.MomentumScore {
		return in.Snapshot.SignalRule.ExpectedDirection()
	}
	return basic(in, th)
}
