package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FinSignal/internal/domain/models"
	drepo "FinSignal/internal/domain/repository"
	domsvc "FinSignal/internal/domain/service"
	"FinSignal/internal/services/model"
	applogger "FinSignal/pkg/logger"
)

// TrainerConfig holds gradient descent defaults and the training window.
type TrainerConfig struct {
	Epochs       int
	LearningRate float64
	Window       time.Duration
}

// ModelTrainer fits one model per symbol from labeled snapshots.
type ModelTrainer struct {
	repo      drepo.SnapshotRepository
	store     drepo.ModelStore
	trainer   *model.Trainer
	scorer    domsvc.SignalScorer
	predictor domsvc.Predictor
	metrics   drepo.Metrics
	cfg       TrainerConfig
	l         *applogger.Logger
}

func NewModelTrainer(
	repo drepo.SnapshotRepository,
	store drepo.ModelStore,
	trainer *model.Trainer,
	scorer domsvc.SignalScorer,
	predictor domsvc.Predictor,
	metrics drepo.Metrics,
	cfg TrainerConfig,
	l *applogger.Logger,
) *ModelTrainer {
	if cfg.Window <= 0 {
		cfg.Window = 90 * 24 * time.Hour
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &ModelTrainer{
		repo:      repo,
		store:     store,
		trainer:   trainer,
		scorer:    scorer,
		predictor: predictor,
		metrics:   metrics,
		cfg:       cfg,
		l:         l,
	}
}

// TrainSymbol trains on the configured window ending at now.
func (t *ModelTrainer) TrainSymbol(ctx context.Context, symbol string, now time.Time) (*models.TrainReport, error) {
	return t.Train(ctx, symbol, now.Add(-t.cfg.Window), now, t.cfg.Epochs, t.cfg.LearningRate)
}

// Train fits and stores a model from labeled snapshots in [start, end].
// ErrInsufficientSamples comes back with a report marked NoModel and
// nothing is stored.
func (t *ModelTrainer) Train(ctx context.Context, symbol string, start, end time.Time, epochs int, lr float64) (*models.TrainReport, error) {
	if symbol == "" {
		return nil, fmt.Errorf("train: symbol is required: %w", models.ErrInvalidConfiguration)
	}
	began := time.Now()
	snaps, err := t.repo.QueryRange(ctx, symbol, start, end, true)
	if err != nil {
		t.metrics.RecordError("train_query")
		return nil, fmt.Errorf("train %s: %w", symbol, err)
	}

	rep := &models.TrainReport{Symbol: symbol, Loaded: len(snaps)}
	samples := make([]models.Sample, 0, len(snaps))
	for _, s := range snaps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v := model.ExtractFeatureVector(s.FeaturesPayload)
		if v == nil {
			rep.Skipped++
			continue
		}
		samples = append(samples, models.Sample{Vector: v, Label: upLabel(s.LabelDirection)})
	}
	rep.Usable = len(samples)

	m, err := t.trainer.Train(samples, epochs, lr)
	if errors.Is(err, models.ErrInsufficientSamples) {
		rep.NoModel = true
		rep.Reason = err.Error()
		t.l.Info("no model produced",
			applogger.String("symbol", symbol),
			applogger.Int("usable", rep.Usable),
			applogger.Int("skipped", rep.Skipped),
		)
		return rep, fmt.Errorf("train %s: %w", symbol, err)
	}
	if err != nil {
		return nil, fmt.Errorf("train %s: %w", symbol, err)
	}
	m.Symbol = symbol

	if err := t.store.Save(ctx, m); err != nil {
		t.metrics.RecordError("model_save")
		return nil, err
	}
	rep.Model = m

	t.metrics.RecordModelTrained(symbol, m.Samples, m.Accuracy)
	t.metrics.RecordLatency("train", time.Since(began).Seconds())
	t.l.Info("model trained",
		applogger.String("symbol", symbol),
		applogger.Int("samples", m.Samples),
		applogger.Float64("accuracy", m.Accuracy),
		applogger.Float64("loss", m.Loss),
	)
	return rep, nil
}

// Predict scores features with the rule engine and the stored model. A nil
// prediction means the model has no opinion.
func (t *ModelTrainer) Predict(ctx context.Context, symbol string, fm models.FeatureMap, live *models.Signal) (*models.Prediction, models.Signal, error) {
	sig := t.scorer.Score(fm)
	if live == nil {
		live = &sig
	}
	m, err := t.store.Load(ctx, symbol)
	if errors.Is(err, models.ErrModelNotFound) {
		return nil, sig, nil
	}
	if err != nil {
		return nil, sig, err
	}
	return t.predictor.Predict(m, fm, live), sig, nil
}

func upLabel(d models.LabelDirection) float64 {
	if d == models.DirectionUp {
		return 1
	}
	return 0
}
