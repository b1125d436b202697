package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinSignal/internal/domain/models"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fullFeatures(momentum1h float64) models.FeatureMap {
	return models.FeatureMap{
		"funding":        map[string]any{"rate": 0.01},
		"open_interest":  map[string]any{"change_pct_24h": 2.0},
		"sentiment":      map[string]any{"fear_greed": 60.0},
		"microstructure": map[string]any{"orderbook": map[string]any{"imbalance": 0.1}, "spread_bps": 1.5},
		"momentum":       map[string]any{"change_pct_1h": momentum1h, "change_pct_24h": 1.0},
		"long_short":     map[string]any{"ratio": 1.2},
	}
}

// separable builds samples whose label follows the sign of 1h momentum.
func separable(n int) []models.Sample {
	out := make([]models.Sample, 0, n)
	for i := 0; i < n; i++ {
		m := float64(i%5+1) * 0.8
		label := 1.0
		if i%2 == 1 {
			m = -m
			label = 0
		}
		out = append(out, models.Sample{Vector: ExtractFeatureVector(fullFeatures(m)), Label: label})
	}
	return out
}

func TestExtractFeatureVector(t *testing.T) {
	v := ExtractFeatureVector(fullFeatures(2.5))
	require.Len(t, v, FeatureCount)
	assert.InDelta(t, 0.1, v[0], 1e-12)
	assert.InDelta(t, 0.2, v[2], 1e-12)
	assert.InDelta(t, 0.5, v[5], 1e-12)
	assert.InDelta(t, 0.2, v[7], 1e-12)

	fm := fullFeatures(1)
	delete(fm, "sentiment")
	assert.Nil(t, ExtractFeatureVector(fm))

	fm = fullFeatures(1)
	fm["momentum"] = map[string]any{}
	assert.Nil(t, ExtractFeatureVector(fm))
}

func TestTrain_InsufficientSamples(t *testing.T) {
	tr := NewTrainer(WithClock(func() time.Time { return fixedNow }))
	samples := separable(MinSamples - 1)
	samples = append(samples, models.Sample{Vector: []float64{1, 2}, Label: 1})

	m, err := tr.Train(samples, 100, 0.1)

	assert.Nil(t, m)
	assert.ErrorIs(t, err, models.ErrInsufficientSamples)
}

func TestTrain_InvalidParameters(t *testing.T) {
	tr := NewTrainer()

	_, err := tr.Train(separable(40), 0, 0.1)
	assert.ErrorIs(t, err, models.ErrInvalidConfiguration)

	_, err = tr.Train(separable(40), 10, -1)
	assert.ErrorIs(t, err, models.ErrInvalidConfiguration)
}

func TestTrain_LearnsAndIsDeterministic(t *testing.T) {
	tr := NewTrainer(WithClock(func() time.Time { return fixedNow }))
	samples := separable(40)

	a, err := tr.Train(samples, 500, 0.5)
	require.NoError(t, err)
	b, err := tr.Train(samples, 500, 0.5)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, FeatureCount, a.FeatureCount)
	assert.Equal(t, 40, a.Samples)
	assert.Equal(t, fixedNow, a.TrainedAt)
	assert.Equal(t, 1.0, a.Accuracy)
	assert.Greater(t, a.Weights[5], 0.0)
	assert.Less(t, a.Loss, 0.6931)
}

func TestFit_ZeroInitialWeights(t *testing.T) {
	samples := separable(20)
	w, b := Fit(samples, 1, 0.1)

	// one step from zero: gradient is mean((0.5 - y) * x)
	var want float64
	for _, s := range samples {
		want += (0.5 - s.Label) * s.Vector[5]
	}
	want = -0.1 * want / float64(len(samples))
	assert.InDelta(t, want, w[5], 1e-12)
	assert.InDelta(t, 0.0, b, 1e-12)
}

func TestPredict(t *testing.T) {
	tr := NewTrainer(WithClock(func() time.Time { return fixedNow }))
	m, err := tr.Train(separable(40), 500, 0.5)
	require.NoError(t, err)
	p := NewPredictor()

	buy := &models.Signal{Action: models.ActionBuy}
	up := p.Predict(m, fullFeatures(3), buy)
	require.NotNil(t, up)
	assert.Equal(t, models.DirectionUp, up.Decision)
	assert.Greater(t, up.Probability, 0.5)
	assert.InDelta(t, (up.Probability-0.5)*2, up.Confidence, 1e-12)
	assert.True(t, up.AgreesWithRule)

	down := p.Predict(m, fullFeatures(-3), buy)
	require.NotNil(t, down)
	assert.Equal(t, models.DirectionDown, down.Decision)
	assert.False(t, down.AgreesWithRule)

	assert.Nil(t, p.Predict(nil, fullFeatures(3), buy))
	assert.Nil(t, p.Predict(m, models.FeatureMap{}, buy))
}

func TestSigmoidStable(t *testing.T) {
	assert.InDelta(t, 0.5, Sigmoid(0), 1e-12)
	assert.InDelta(t, 1.0, Sigmoid(800), 1e-12)
	assert.InDelta(t, 0.0, Sigmoid(-800), 1e-12)
}
