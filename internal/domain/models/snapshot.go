package models

import (
	"fmt"
	"strings"
	"time"
)

// LabelDirection is the realized outcome assigned to a snapshot. Empty means unlabeled.
type LabelDirection string

const (
	DirectionUp       LabelDirection = "UP"
	DirectionDown     LabelDirection = "DOWN"
	DirectionSideways LabelDirection = "SIDEWAYS"
)

// ParseDirection accepts FLAT as an alias of SIDEWAYS.
func ParseDirection(s string) (LabelDirection, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "UP":
		return DirectionUp, true
	case "DOWN":
		return DirectionDown, true
	case "SIDEWAYS", "FLAT":
		return DirectionSideways, true
	default:
		return "", false
	}
}

type SnapshotStatus string

const (
	StatusPending SnapshotStatus = "PENDING"
	StatusLabeled SnapshotStatus = "LABELED"
)

// Persisted snapshot field names.
const (
	FieldPriceNow       = "price_now"
	FieldPriceFuture    = "price_future"
	FieldLabelDirection = "label_direction"
	FieldLabelMagnitude = "label_magnitude"
	FieldLabeledAt      = "labeled_at"
)

// LabelFields is the field set written when a label is applied.
var LabelFields = []string{FieldPriceFuture, FieldLabelDirection, FieldLabelMagnitude, FieldLabeledAt}

var mutableFields = map[string]bool{
	FieldPriceNow:       true,
	FieldPriceFuture:    true,
	FieldLabelDirection: true,
	FieldLabelMagnitude: true,
	FieldLabeledAt:      true,
}

// SignalSnapshot is one recorded observation of features plus the live signal.
// Identity is (Symbol, Interval, GeneratedAt).
type SignalSnapshot struct {
	ID               int64          `json:"id,omitempty"`
	RunID            string         `json:"run_id"`
	Symbol           string         `json:"symbol"`
	Pair             string         `json:"pair"`
	Interval         string         `json:"interval"`
	GeneratedAt      time.Time      `json:"generated_at"`
	PriceNow         *float64       `json:"price_now"`
	SignalRule       Action         `json:"signal_rule"`
	SignalScore      float64        `json:"signal_score"`
	SignalConfidence float64        `json:"signal_confidence"`
	SignalReasons    []string       `json:"signal_reasons"`
	FeaturesPayload  FeatureMap     `json:"features_payload"`
	IsMissingData    bool           `json:"is_missing_data"`
	PriceFuture      *float64       `json:"price_future"`
	LabelDirection   LabelDirection `json:"label_direction,omitempty"`
	LabelMagnitude   *float64       `json:"label_magnitude"`
	LabeledAt        *time.Time     `json:"labeled_at"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Key is the claim and dedup key derived from the snapshot identity.
func (s *SignalSnapshot) Key() string {
	return SnapshotKey(s.Symbol, s.Interval, s.GeneratedAt)
}

func SnapshotKey(symbol, interval string, generatedAt time.Time) string {
	return fmt.Sprintf("%s|%s|%d", symbol, interval, generatedAt.UTC().UnixMilli())
}

func (s *SignalSnapshot) IsLabeled() bool {
	return s.PriceFuture != nil && s.LabelDirection != ""
}

func (s *SignalSnapshot) Status() SnapshotStatus {
	if s.IsLabeled() {
		return StatusLabeled
	}
	return StatusPending
}

// EligibleAt is the earliest instant the snapshot may be labeled for horizon.
func (s *SignalSnapshot) EligibleAt(horizon time.Duration) time.Time {
	return s.GeneratedAt.Add(horizon)
}

// CurrentPrice returns price_now when it is set and positive.
func (s *SignalSnapshot) CurrentPrice() (float64, bool) {
	if s.PriceNow == nil || *s.PriceNow <= 0 {
		return 0, false
	}
	return *s.PriceNow, true
}

// RealizedReturnPct is (price_future - price_now) / price_now * 100.
func (s *SignalSnapshot) RealizedReturnPct() (float64, bool) {
	cur, ok := s.CurrentPrice()
	if !ok || s.PriceFuture == nil {
		return 0, false
	}
	return ReturnPct(cur, *s.PriceFuture), true
}

// ReturnPct computes a percentage return; callers guarantee current > 0.
func ReturnPct(current, future float64) float64 {
	return (future - current) / current * 100
}

// ValidateUpdateFields rejects unknown or immutable fields and partial labels.
func ValidateUpdateFields(fields []string) error {
	if len(fields) == 0 {
		return fmt.Errorf("update: no fields given: %w", ErrInvalidConfiguration)
	}
	var hasFuture, hasDirection bool
	for _, f := range fields {
		if !mutableFields[f] {
			return fmt.Errorf("update: field %q is not mutable: %w", f, ErrInvalidConfiguration)
		}
		switch f {
		case FieldPriceFuture:
			hasFuture = true
		case FieldLabelDirection:
			hasDirection = true
		}
	}
	if hasFuture != hasDirection {
		return fmt.Errorf("update: price_future and label_direction must be written together: %w", ErrInvalidConfiguration)
	}
	return nil
}

// CheckPairing verifies price_future and label_direction are both set or both null.
func (s *SignalSnapshot) CheckPairing() error {
	if (s.PriceFuture != nil) != (s.LabelDirection != "") {
		return fmt.Errorf("snapshot %s: price_future and label_direction out of sync", s.Key())
	}
	return nil
}

func Float64Ptr(v float64) *float64 { return &v }

func TimePtr(t time.Time) *time.Time { return &t }
