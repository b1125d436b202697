package service

import (
	"FinSignal/internal/domain/models"
)

// SignalScorer turns a feature map into a live signal. Implementations must be pure.
type SignalScorer interface {
	Score(features models.FeatureMap) models.Signal
}

// Predictor gives an optional model opinion; nil means no opinion.
type Predictor interface {
	Predict(m *models.TrainedModel, features models.FeatureMap, live *models.Signal) *models.Prediction
}
