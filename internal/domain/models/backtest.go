package models

import (
	"encoding/json"
	"math"
	"time"
)

// Ratio is a float that survives JSON encoding of +Inf.
type Ratio float64

func (r Ratio) IsInf() bool { return math.IsInf(float64(r), 1) }

func (r Ratio) MarshalJSON() ([]byte, error) {
	if r.IsInf() {
		return []byte(`"+Inf"`), nil
	}
	return json.Marshal(float64(r))
}

func (r *Ratio) UnmarshalJSON(b []byte) error {
	if string(b) == `"+Inf"` {
		*r = Ratio(math.Inf(1))
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*r = Ratio(f)
	return nil
}

// SimulatedTrade is one non-HOLD snapshot replayed as a trade.
type SimulatedTrade struct {
	GeneratedAt  time.Time      `json:"generated_at"`
	Action       Action         `json:"action"`
	RealizedPct  float64        `json:"realized_pct"`
	ReturnPct    float64        `json:"return_pct"`
	AIDecision   LabelDirection `json:"ai_decision,omitempty"`
	AIConfidence float64        `json:"ai_confidence,omitempty"`
}

func (t SimulatedTrade) Win() bool { return t.ReturnPct > 0 }

// HasAI is true when a confidence-gated model opinion was attached.
func (t SimulatedTrade) HasAI() bool { return t.AIDecision != "" }

// BacktestReport aggregates simulated trades over a symbol and window.
type BacktestReport struct {
	Symbol string    `json:"symbol"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`

	Total         int `json:"total"`
	Trades        int `json:"trades"`
	BuyTrades     int `json:"buy_trades"`
	SellTrades    int `json:"sell_trades"`
	NeutralTrades int `json:"neutral_trades"`
	Wins          int `json:"wins"`
	Losses        int `json:"losses"`

	WinRate          float64 `json:"win_rate"`
	AvgReturnBuyPct  float64 `json:"avg_return_buy_pct"`
	AvgReturnSellPct float64 `json:"avg_return_sell_pct"`
	AvgReturnAllPct  float64 `json:"avg_return_all_pct"`
	AvgWinPct        float64 `json:"avg_win_pct"`
	AvgLossPct       float64 `json:"avg_loss_pct"`
	ExpectancyPct    float64 `json:"expectancy_pct"`
	MaxDrawdownPct   float64 `json:"max_drawdown_pct"`
	ProfitFactor     Ratio   `json:"profit_factor"`
	MedianReturnPct  float64 `json:"median_return_pct"`
	BestTradePct     float64 `json:"best_trade_pct"`
	WorstTradePct    float64 `json:"worst_trade_pct"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	TotalReturnPct   float64 `json:"total_return_pct"`

	AIEvaluatedTrades    int     `json:"ai_evaluated_trades"`
	AIAlignmentRate      float64 `json:"ai_alignment_rate"`
	AIFilteredTrades     int     `json:"ai_filtered_trades"`
	FilteredWinRate      float64 `json:"filtered_win_rate"`
	FilteredAvgReturnPct float64 `json:"filtered_avg_return_pct"`

	TradeList []SimulatedTrade `json:"trade_list,omitempty"`
}

// Empty reports a window with no labeled snapshots.
func (r *BacktestReport) Empty() bool {
	return r == nil || r.Total == 0
}
