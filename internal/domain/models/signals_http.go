package models

// Requests for signal-lab HTTP endpoints. Defined in domain for consistency and reuse.

type ScoreRequest struct {
	Symbol   string     `json:"symbol"`
	Features FeatureMap `json:"features" validate:"required"`
}

type LabelRequest struct {
	Symbol      string   `json:"symbol" validate:"required"`
	Horizon     string   `json:"horizon" default:"24h" validate:"required,horizon"`
	Strategies  []string `json:"strategies" default:"[\"basic\"]" validate:"min=1,dive,required"`
	Force       bool     `json:"force"`
	SkipOnError *bool    `json:"skip_on_error"`
	Limit       int      `json:"limit" default:"500" validate:"gte=1,lte=10000"`
	ChunkSize   int      `json:"chunk_size" default:"100" validate:"gte=1,lte=1000"`
	Now         string   `json:"now"`
}

type BacktestRequest struct {
	Symbol          string  `query:"symbol" json:"symbol" validate:"required"`
	Start           string  `query:"start" json:"start" validate:"required"`
	End             string  `query:"end" json:"end" validate:"required"`
	MinAIConfidence float64 `query:"min_ai_confidence" json:"min_ai_confidence" validate:"gte=0,lte=1"`
	IncludeTrades   bool    `query:"include_trades" json:"include_trades"`
}

type TrainRequest struct {
	Symbol       string  `json:"symbol" validate:"required"`
	Start        string  `json:"start" validate:"required"`
	End          string  `json:"end" validate:"required"`
	Epochs       int     `json:"epochs" default:"500" validate:"gte=1,lte=100000"`
	LearningRate float64 `json:"learning_rate" default:"0.1" validate:"gt=0,lte=10"`
}

type PredictRequest struct {
	Symbol   string     `json:"symbol" validate:"required"`
	Features FeatureMap `json:"features" validate:"required"`
	Signal   *Signal    `json:"signal"`
}
