package models

import "time"

const (
	EventSnapshotCreated = "snapshot.created"
	EventSnapshotLabeled = "snapshot.labeled"
)

// SnapshotEvent is published to Kafka when a snapshot is stored or labeled.
type SnapshotEvent struct {
	Type            string                 `json:"type"`
	Key             string                 `json:"key"`
	RunID           string                 `json:"run_id,omitempty"`
	Symbol          string                 `json:"symbol"`
	Interval        string                 `json:"interval"`
	GeneratedAt     time.Time              `json:"generated_at"`
	Action          Action                 `json:"action"`
	Score           float64                `json:"score"`
	Confidence      float64                `json:"confidence"`
	Direction       LabelDirection         `json:"direction,omitempty"`
	Magnitude       float64                `json:"magnitude,omitempty"`
	LabelConfidence float64                `json:"label_confidence,omitempty"`
	Votes           map[LabelDirection]int `json:"votes,omitempty"`
	EmittedAt       time.Time              `json:"emitted_at"`
}

// FeatureSnapshotMessage is an externally collected feature map delivered over Kafka.
type FeatureSnapshotMessage struct {
	Symbol      string     `json:"symbol"`
	Pair        string     `json:"pair"`
	Interval    string     `json:"interval"`
	GeneratedAt time.Time  `json:"generated_at"`
	Features    FeatureMap `json:"features"`
}

// NewCreatedEvent builds the event for a freshly stored snapshot.
func NewCreatedEvent(s *SignalSnapshot, at time.Time) SnapshotEvent {
	return SnapshotEvent{
		Type:        EventSnapshotCreated,
		Key:         s.Key(),
		RunID:       s.RunID,
		Symbol:      s.Symbol,
		Interval:    s.Interval,
		GeneratedAt: s.GeneratedAt,
		Action:      s.SignalRule,
		Score:       s.SignalScore,
		Confidence:  s.SignalConfidence,
		EmittedAt:   at,
	}
}

// NewLabeledEvent builds the event for an applied label.
func NewLabeledEvent(s *SignalSnapshot, label *EnsembleLabel, at time.Time) SnapshotEvent {
	ev := NewCreatedEvent(s, at)
	ev.Type = EventSnapshotLabeled
	if label != nil {
		ev.Direction = label.Direction
		ev.Magnitude = label.Magnitude
		ev.LabelConfidence = label.Confidence
		ev.Votes = label.Votes
	}
	return ev
}
