package models

import "time"

// TrainedModel holds logistic-regression weights. Immutable once stored.
type TrainedModel struct {
	Symbol       string    `json:"symbol"`
	Weights      []float64 `json:"weights"`
	Bias         float64   `json:"bias"`
	TrainedAt    time.Time `json:"trained_at"`
	FeatureCount int       `json:"feature_count"`
	Samples      int       `json:"samples"`
	Epochs       int       `json:"epochs"`
	LearningRate float64   `json:"learning_rate"`
	Accuracy     float64   `json:"accuracy"`
	Loss         float64   `json:"loss"`
}

// Sample is one (vector, label) training pair; Label is 1 for UP, 0 otherwise.
type Sample struct {
	Vector []float64
	Label  float64
}

// Prediction is the model's opinion on a feature map. A nil Prediction means no opinion.
type Prediction struct {
	Probability    float64        `json:"probability"`
	Decision       LabelDirection `json:"decision"`
	Confidence     float64        `json:"confidence"`
	AgreesWithRule bool           `json:"agrees_with_rule"`
}

// TrainReport summarizes a training run for callers.
type TrainReport struct {
	Symbol  string        `json:"symbol"`
	Loaded  int           `json:"loaded"`
	Usable  int           `json:"usable"`
	Skipped int           `json:"skipped"`
	Model   *TrainedModel `json:"model,omitempty"`
	NoModel bool          `json:"no_model"`
	Reason  string        `json:"reason,omitempty"`
}
