package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Feature map section names.
const (
	SectionFunding        = "funding"
	SectionOpenInterest   = "open_interest"
	SectionWhales         = "whales"
	SectionETF            = "etf"
	SectionSentiment      = "sentiment"
	SectionMicrostructure = "microstructure"
	SectionLiquidations   = "liquidations"
	SectionLongShort      = "long_short"
	SectionMomentum       = "momentum"

	FieldGeneratedAt = "generated_at"
	PathLastClose    = "microstructure.price.last_close"
)

// FeatureSections lists every section in scoring order.
var FeatureSections = []string{
	SectionFunding,
	SectionOpenInterest,
	SectionWhales,
	SectionETF,
	SectionSentiment,
	SectionMicrostructure,
	SectionLiquidations,
	SectionLongShort,
	SectionMomentum,
}

// FeatureMap is the raw nested payload produced by a feature source.
// Only the boundary code walks it by dotted path; scoring works on Features.
type FeatureMap map[string]any

// Lookup walks a dotted path ("microstructure.price.last_close") through nested maps.
func (fm FeatureMap) Lookup(path string) (any, bool) {
	if fm == nil || path == "" {
		return nil, false
	}
	var cur any = map[string]any(fm)
	for _, part := range strings.Split(path, ".") {
		node, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Float returns the numeric value at path or def when absent or non-numeric.
func (fm FeatureMap) Float(path string, def float64) float64 {
	v, ok := fm.Lookup(path)
	if !ok {
		return def
	}
	if f, ok := toFloat(v); ok {
		return f
	}
	return def
}

// HasSection reports whether a section is present and non-empty.
func (fm FeatureMap) HasSection(name string) bool {
	v, ok := fm[name]
	if !ok || v == nil {
		return false
	}
	if m, ok := asMap(v); ok {
		return len(m) > 0
	}
	if a, ok := v.([]any); ok {
		return len(a) > 0
	}
	return false
}

// MissingSections returns the absent or empty sections in scoring order.
func (fm FeatureMap) MissingSections() []string {
	var missing []string
	for _, s := range FeatureSections {
		if !fm.HasSection(s) {
			missing = append(missing, s)
		}
	}
	return missing
}

// IsMissingData is true when at least one section is absent or empty.
func (fm FeatureMap) IsMissingData() bool {
	return len(fm.MissingSections()) > 0
}

// GeneratedAt parses the generated_at field (RFC3339 string or unix millis).
func (fm FeatureMap) GeneratedAt() (time.Time, bool) {
	v, ok := fm[FieldGeneratedAt]
	if !ok || v == nil {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed.UTC(), true
	}
	if ms, ok := toFloat(v); ok && ms > 0 {
		return time.UnixMilli(int64(ms)).UTC(), true
	}
	return time.Time{}, false
}

// LastClose returns microstructure.price.last_close, 0 when unknown.
func (fm FeatureMap) LastClose() float64 {
	return fm.Float(PathLastClose, 0)
}

// Clone makes a deep copy through JSON so callers can mutate freely.
func (fm FeatureMap) Clone() FeatureMap {
	if fm == nil {
		return nil
	}
	b, err := json.Marshal(fm)
	if err != nil {
		return fm
	}
	var out FeatureMap
	if err := json.Unmarshal(b, &out); err != nil {
		return fm
	}
	return out
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case FeatureMap:
		return m, true
	default:
		return nil, false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// --- typed view ---

type FundingSection struct {
	Rate float64 // percent per funding interval
}

type OpenInterestSection struct {
	ChangePct24h float64
}

// WhalesSection: positive net flow means coins moving onto exchanges.
type WhalesSection struct {
	NetFlowUSD float64
	Transfers  int
}

type ETFSection struct {
	NetFlowUSD float64
}

type SentimentSection struct {
	FearGreed float64 // 0..100
}

type MicrostructureSection struct {
	Imbalance float64 // -1..1, bid-heavy positive
	SpreadBps float64
	LastClose float64
}

type LiquidationsSection struct {
	LongUSD  float64
	ShortUSD float64
}

type LongShortSection struct {
	Ratio float64
}

type MomentumSection struct {
	ChangePct1h  float64
	ChangePct24h float64
}

// Features is the typed view of a FeatureMap. A nil section was absent or empty.
type Features struct {
	Funding        *FundingSection
	OpenInterest   *OpenInterestSection
	Whales         *WhalesSection
	ETF            *ETFSection
	Sentiment      *SentimentSection
	Microstructure *MicrostructureSection
	Liquidations   *LiquidationsSection
	LongShort      *LongShortSection
	Momentum       *MomentumSection
}

// ParseFeatures converts the raw payload into typed sections.
func ParseFeatures(fm FeatureMap) Features {
	var f Features
	if fm.HasSection(SectionFunding) {
		f.Funding = &FundingSection{Rate: fm.Float("funding.rate", 0)}
	}
	if fm.HasSection(SectionOpenInterest) {
		f.OpenInterest = &OpenInterestSection{ChangePct24h: fm.Float("open_interest.change_pct_24h", 0)}
	}
	if fm.HasSection(SectionWhales) {
		f.Whales = parseWhales(fm[SectionWhales])
	}
	if fm.HasSection(SectionETF) {
		f.ETF = &ETFSection{NetFlowUSD: fm.Float("etf.net_flow_usd", 0)}
	}
	if fm.HasSection(SectionSentiment) {
		f.Sentiment = &SentimentSection{FearGreed: fm.Float("sentiment.fear_greed", 50)}
	}
	if fm.HasSection(SectionMicrostructure) {
		f.Microstructure = &MicrostructureSection{
			Imbalance: fm.Float("microstructure.orderbook.imbalance", 0),
			SpreadBps: fm.Float("microstructure.spread_bps", 0),
			LastClose: fm.Float(PathLastClose, 0),
		}
	}
	if fm.HasSection(SectionLiquidations) {
		f.Liquidations = &LiquidationsSection{
			LongUSD:  fm.Float("liquidations.long_usd", 0),
			ShortUSD: fm.Float("liquidations.short_usd", 0),
		}
	}
	if fm.HasSection(SectionLongShort) {
		f.LongShort = &LongShortSection{Ratio: fm.Float("long_short.ratio", 1)}
	}
	if fm.HasSection(SectionMomentum) {
		f.Momentum = &MomentumSection{
			ChangePct1h:  fm.Float("momentum.change_pct_1h", 0),
			ChangePct24h: fm.Float("momentum.change_pct_24h", 0),
		}
	}
	return f
}

// parseWhales accepts either a summary object or a list of transfers
// ({"amount_usd": ..., "direction": "inflow"|"outflow"}).
func parseWhales(v any) *WhalesSection {
	if m, ok := asMap(v); ok {
		return &WhalesSection{
			NetFlowUSD: FeatureMap(m).Float("net_flow_usd", 0),
			Transfers:  int(FeatureMap(m).Float("transfers", 0)),
		}
	}
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	w := &WhalesSection{}
	for _, item := range list {
		m, ok := asMap(item)
		if !ok {
			continue
		}
		amount, _ := toFloat(m["amount_usd"])
		switch m["direction"] {
		case "inflow":
			w.NetFlowUSD += amount
		case "outflow":
			w.NetFlowUSD -= amount
		default:
			continue
		}
		w.Transfers++
	}
	return w
}
