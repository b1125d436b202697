package models

import (
	"fmt"
	"strings"
	"time"
)

// LabelStrategy is the closed set of labeling strategies.
type LabelStrategy string

const (
	StrategyBasic         LabelStrategy = "basic"
	StrategyBreakout      LabelStrategy = "breakout"
	StrategyMeanReversion LabelStrategy = "mean-reversion"
	StrategyMomentum      LabelStrategy = "momentum"
)

// AllStrategies in their stable evaluation order.
var AllStrategies = []LabelStrategy{StrategyBasic, StrategyBreakout, StrategyMeanReversion, StrategyMomentum}

// ParseStrategies validates names, preserving caller order and dropping duplicates.
func ParseStrategies(names []string) ([]LabelStrategy, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("no labeling strategies: %w", ErrInvalidConfiguration)
	}
	seen := make(map[LabelStrategy]bool, len(names))
	out := make([]LabelStrategy, 0, len(names))
	for _, n := range names {
		s := LabelStrategy(strings.ToLower(strings.TrimSpace(n)))
		if s == "mean_reversion" {
			s = StrategyMeanReversion
		}
		switch s {
		case StrategyBasic, StrategyBreakout, StrategyMeanReversion, StrategyMomentum:
		default:
			return nil, fmt.Errorf("unknown labeling strategy %q: %w", n, ErrInvalidConfiguration)
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out, nil
}

// StrategyOutput is one strategy's verdict.
type StrategyOutput struct {
	Strategy  LabelStrategy  `json:"strategy"`
	Direction LabelDirection `json:"direction"`
	Magnitude float64        `json:"magnitude"`
}

// EnsembleLabel is the majority-vote combination of strategy outputs.
type EnsembleLabel struct {
	Direction  LabelDirection         `json:"direction"`
	Magnitude  float64                `json:"magnitude"`
	Confidence float64                `json:"confidence"`
	Votes      map[LabelDirection]int `json:"votes"`
	Outputs    []StrategyOutput       `json:"outputs"`
}

type OutcomeStatus string

const (
	OutcomeLabeled OutcomeStatus = "labeled"
	OutcomeSkipped OutcomeStatus = "skipped"
	OutcomeFailed  OutcomeStatus = "failed"
)

// Outcome reason codes.
const (
	ReasonPriceUnavailable = "PRICE_UNAVAILABLE"
	ReasonFutureNotReached = "FUTURE_NOT_REACHED"
	ReasonAlreadyLabeled   = "ALREADY_LABELED"
	ReasonClaimedElsewhere = "CLAIMED_ELSEWHERE"
	ReasonClaimError       = "CLAIM_ERROR"
	ReasonPersistFailed    = "PERSIST_FAILED"
	ReasonCanceled         = "CANCELED"
)

// LabelOutcome is the per-snapshot result of a labeling run.
type LabelOutcome struct {
	Key         string         `json:"key"`
	Symbol      string         `json:"symbol"`
	Interval    string         `json:"interval"`
	GeneratedAt time.Time      `json:"generated_at"`
	Status      OutcomeStatus  `json:"status"`
	Reason      string         `json:"reason,omitempty"`
	Error       string         `json:"error,omitempty"`
	PriceNow    float64        `json:"price_now,omitempty"`
	PriceFuture float64        `json:"price_future,omitempty"`
	ReturnPct   float64        `json:"return_pct,omitempty"`
	Backfilled  bool           `json:"price_now_backfilled,omitempty"`
	Label       *EnsembleLabel `json:"label,omitempty"`
}

// LabelOptions drives one labeling run.
type LabelOptions struct {
	Symbol      string
	Horizon     time.Duration
	Strategies  []LabelStrategy
	Force       bool
	SkipOnError bool
	Limit       int
	ChunkSize   int
}

// Validate fails fast on configuration errors.
func (o LabelOptions) Validate() error {
	if strings.TrimSpace(o.Symbol) == "" {
		return fmt.Errorf("symbol is required: %w", ErrInvalidConfiguration)
	}
	if o.Horizon <= 0 {
		return fmt.Errorf("horizon must be positive, got %s: %w", o.Horizon, ErrInvalidConfiguration)
	}
	if len(o.Strategies) == 0 {
		return fmt.Errorf("no labeling strategies: %w", ErrInvalidConfiguration)
	}
	if o.Limit < 0 || o.ChunkSize < 0 {
		return fmt.Errorf("limit and chunk size must not be negative: %w", ErrInvalidConfiguration)
	}
	return nil
}

// LabelRunResult collects per-snapshot outcomes of a run.
type LabelRunResult struct {
	Symbol   string         `json:"symbol"`
	Horizon  string         `json:"horizon"`
	Now      time.Time      `json:"now"`
	Outcomes []LabelOutcome `json:"outcomes"`
	Labeled  int            `json:"labeled"`
	Skipped  int            `json:"skipped"`
	Failed   int            `json:"failed"`
}

// Empty reports a run that found nothing to label.
func (r *LabelRunResult) Empty() bool {
	return r == nil || len(r.Outcomes) == 0
}

// Add appends an outcome and updates the counters.
func (r *LabelRunResult) Add(o LabelOutcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Status {
	case OutcomeLabeled:
		r.Labeled++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
}
