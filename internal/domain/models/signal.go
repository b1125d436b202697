package models

import (
	"strings"
	"time"
)

// Action is the live trading decision of the rule engine.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// ParseAction normalizes stored rule names; NEUTRAL and unknown values map to HOLD.
func ParseAction(s string) Action {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return ActionBuy
	case "SELL":
		return ActionSell
	default:
		return ActionHold
	}
}

// ExpectedDirection is the price move the action bets on.
func (a Action) ExpectedDirection() LabelDirection {
	switch a {
	case ActionBuy:
		return DirectionUp
	case ActionSell:
		return DirectionDown
	default:
		return DirectionSideways
	}
}

// Signal is the output of one scoring call.
type Signal struct {
	Action     Action   `json:"action"`
	Score      float64  `json:"score"`
	Confidence float64  `json:"confidence"`
	Factors    []string `json:"factors"`
}

// Candle represents an OHLCV record used for price lookups and momentum features.
type Candle struct {
	Bucket   time.Time
	Pair     string
	Interval string
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	Source   string
}
