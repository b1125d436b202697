package model

import (
	"FinSignal/internal/domain/models"
)

// RequiredSections must all be present for a feature map to vectorize.
var RequiredSections = []string{
	models.SectionFunding,
	models.SectionOpenInterest,
	models.SectionSentiment,
	models.SectionMicrostructure,
	models.SectionMomentum,
	models.SectionLongShort,
}

// FeatureCount is the fixed vector length.
const FeatureCount = 8

// ExtractFeatureVector returns a fixed-length scaled vector, or nil when a
// required section is missing. Missing values are never imputed.
func ExtractFeatureVector(fm models.FeatureMap) []float64 {
	for _, s := range RequiredSections {
		if !fm.HasSection(s) {
			return nil
		}
	}
	f := models.ParseFeatures(fm)

	return []float64{
		f.Funding.Rate * 10,
		f.OpenInterest.ChangePct24h / 10,
		(f.Sentiment.FearGreed - 50) / 50,
		f.Microstructure.Imbalance,
		f.Microstructure.SpreadBps / 10,
		f.Momentum.ChangePct1h / 5,
		f.Momentum.ChangePct24h / 10,
		f.LongShort.Ratio - 1,
	}
}
