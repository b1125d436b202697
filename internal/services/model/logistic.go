package model

import (
	"fmt"
	"math"
	"time"

	"FinSignal/internal/domain/models"
)

const (
	// MinSamples is the smallest usable training set.
	MinSamples = 20
	// DecisionThreshold splits UP from not-UP.
	DecisionThreshold = 0.5

	lossEpsilon = 1e-12
)

// Trainer fits logistic regression with batch gradient descent from zero weights.
type Trainer struct {
	minSamples int
	now        func() time.Time
}

type TrainerOption func(*Trainer)

func WithMinSamples(n int) TrainerOption {
	return func(t *Trainer) { t.minSamples = n }
}

func WithClock(now func() time.Time) TrainerOption {
	return func(t *Trainer) { t.now = now }
}

func NewTrainer(opts ...TrainerOption) *Trainer {
	t := &Trainer{minSamples: MinSamples, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Train returns ErrInsufficientSamples when fewer than the minimum usable
// samples remain; no partial model is produced in that case.
func (t *Trainer) Train(samples []models.Sample, epochs int, lr float64) (*models.TrainedModel, error) {
	if epochs <= 0 || lr <= 0 || math.IsNaN(lr) || math.IsInf(lr, 0) {
		return nil, fmt.Errorf("epochs=%d learning_rate=%v: %w", epochs, lr, models.ErrInvalidConfiguration)
	}

	usable := make([]models.Sample, 0, len(samples))
	for _, s := range samples {
		if len(s.Vector) == FeatureCount {
			usable = append(usable, s)
		}
	}
	if len(usable) < t.minSamples {
		return nil, fmt.Errorf("%d usable samples, need %d: %w", len(usable), t.minSamples, models.ErrInsufficientSamples)
	}

	w, b := Fit(usable, epochs, lr)
	acc, loss := Evaluate(w, b, usable)

	return &models.TrainedModel{
		Weights:      w,
		Bias:         b,
		TrainedAt:    t.now().UTC(),
		FeatureCount: FeatureCount,
		Samples:      len(usable),
		Epochs:       epochs,
		LearningRate: lr,
		Accuracy:     acc,
		Loss:         loss,
	}, nil
}

// Fit runs full-batch gradient descent on binary cross-entropy.
func Fit(samples []models.Sample, epochs int, lr float64) ([]float64, float64) {
	dim := len(samples[0].Vector)
	w := make([]float64, dim)
	var b float64
	n := float64(len(samples))
	grad := make([]float64, dim)

	for epoch := 0; epoch < epochs; epoch++ {
		for i := range grad {
			grad[i] = 0
		}
		var gradB float64
		for _, s := range samples {
			diff := Sigmoid(dot(w, s.Vector)+b) - s.Label
			for i, x := range s.Vector {
				grad[i] += diff * x
			}
			gradB += diff
		}
		for i := range w {
			w[i] -= lr * grad[i] / n
		}
		b -= lr * gradB / n
	}
	return w, b
}

// Evaluate returns in-sample accuracy and mean log loss.
func Evaluate(w []float64, b float64, samples []models.Sample) (float64, float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	var correct int
	var loss float64
	for _, s := range samples {
		p := Sigmoid(dot(w, s.Vector) + b)
		if (p > DecisionThreshold) == (s.Label >= 0.5) {
			correct++
		}
		p = math.Min(math.Max(p, lossEpsilon), 1-lossEpsilon)
		loss += -(s.Label*math.Log(p) + (1-s.Label)*math.Log(1-p))
	}
	n := float64(len(samples))
	return float64(correct) / n, loss / n
}

// Predictor scores feature maps with a stored model.
type Predictor struct{}

func NewPredictor() *Predictor { return &Predictor{} }

// Predict returns nil when the model is missing or the vector cannot be extracted.
func (Predictor) Predict(m *models.TrainedModel, fm models.FeatureMap, live *models.Signal) *models.Prediction {
	if m == nil || len(m.Weights) == 0 {
		return nil
	}
	x := ExtractFeatureVector(fm)
	if x == nil || len(x) != len(m.Weights) {
		return nil
	}
	p := Sigmoid(dot(m.Weights, x) + m.Bias)

	pred := &models.Prediction{
		Probability: p,
		Decision:    models.DirectionDown,
		Confidence:  math.Abs(p-DecisionThreshold) * 2,
	}
	if p > DecisionThreshold {
		pred.Decision = models.DirectionUp
	}
	if live != nil {
		pred.AgreesWithRule = live.Action.ExpectedDirection() == pred.Decision
	}
	return pred
}

func Sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
