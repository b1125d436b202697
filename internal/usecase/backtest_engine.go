package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FinSignal/internal/domain/models"
	drepo "FinSignal/internal/domain/repository"
	domsvc "FinSignal/internal/domain/service"
	"FinSignal/internal/services/backtest"
	applogger "FinSignal/pkg/logger"
)

// BacktestEngine replays labeled snapshots as trades. Read-only.
type BacktestEngine struct {
	repo      drepo.SnapshotRepository
	models    drepo.ModelStore
	predictor domsvc.Predictor
	metrics   drepo.Metrics
	minAIConf float64
	l         *applogger.Logger
}

// NewBacktestEngine wires the engine; store and predictor may be nil, in
// which case no model opinion is attached.
func NewBacktestEngine(repo drepo.SnapshotRepository, store drepo.ModelStore, predictor domsvc.Predictor, metrics drepo.Metrics, minAIConf float64, l *applogger.Logger) *BacktestEngine {
	if l == nil {
		l = applogger.Nop()
	}
	return &BacktestEngine{repo: repo, models: store, predictor: predictor, metrics: metrics, minAIConf: minAIConf, l: l}
}

// Run evaluates symbol over [start, end] with the configured AI gate.
func (e *BacktestEngine) Run(ctx context.Context, symbol string, start, end time.Time) (*models.BacktestReport, error) {
	return e.RunWithOptions(ctx, symbol, start, end, backtest.Options{MinAIConfidence: e.minAIConf})
}

func (e *BacktestEngine) RunWithOptions(ctx context.Context, symbol string, start, end time.Time, opts backtest.Options) (*models.BacktestReport, error) {
	if symbol == "" {
		return nil, fmt.Errorf("backtest: symbol is required: %w", models.ErrInvalidConfiguration)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("backtest: end %s before start %s: %w", end.Format(time.RFC3339), start.Format(time.RFC3339), models.ErrInvalidConfiguration)
	}
	began := time.Now()

	snaps, err := e.repo.QueryRange(ctx, symbol, start, end, true)
	if err != nil {
		e.metrics.RecordError("backtest_query")
		return nil, fmt.Errorf("backtest %s: %w", symbol, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opinion, err := e.opinion(ctx, symbol)
	if err != nil {
		return nil, err
	}
	rep := backtest.Report(symbol, start, end, snaps, opinion, opts)

	e.metrics.RecordBacktest(symbol, rep.Trades, rep.WinRate)
	e.metrics.RecordLatency("backtest", time.Since(began).Seconds())
	e.l.Debug("backtest finished",
		applogger.String("symbol", symbol),
		applogger.Int("snapshots", len(snaps)),
		applogger.Int("trades", rep.Trades),
		applogger.Float64("win_rate", rep.WinRate),
	)
	return rep, nil
}

// opinion loads the symbol's model once. A missing model means no opinion.
func (e *BacktestEngine) opinion(ctx context.Context, symbol string) (backtest.OpinionFunc, error) {
	if e.models == nil || e.predictor == nil {
		return nil, nil
	}
	m, err := e.models.Load(ctx, symbol)
	if errors.Is(err, models.ErrModelNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("backtest %s: %w", symbol, err)
	}
	return func(s *models.SignalSnapshot) *models.Prediction {
		live := &models.Signal{Action: s.SignalRule, Score: s.SignalScore, Confidence: s.SignalConfidence}
		return e.predictor.Predict(m, s.FeaturesPayload, live)
	}, nil
}
