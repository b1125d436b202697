package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"FinSignal/internal/domain/models"
	applogger "FinSignal/pkg/logger"
	"FinSignal/pkg/queue"
	"FinSignal/pkg/util"
)

const (
	JobTypeLabelPending = "label_pending"
	JobTypeTrainModel   = "train_model"
)

// LabelPayload is the queue message for a labeling run. Empty fields fall
// back to the job defaults.
type LabelPayload struct {
	Symbol     string   `json:"symbol"`
	Horizon    string   `json:"horizon,omitempty"`
	Strategies []string `json:"strategies,omitempty"`
	Force      bool     `json:"force,omitempty"`
}

type TrainPayload struct {
	Symbol string `json:"symbol"`
}

// LabelDefaults are applied to payloads that leave a field empty.
type LabelDefaults struct {
	Horizon     time.Duration
	Strategies  []models.LabelStrategy
	SkipOnError bool
}

// LabelJob runs OutcomeLabeler.LabelPending for one symbol.
type LabelJob struct {
	labeler  *OutcomeLabeler
	defaults LabelDefaults
	now      func() time.Time
	l        *applogger.Logger
}

func NewLabelJob(labeler *OutcomeLabeler, defaults LabelDefaults, l *applogger.Logger) *LabelJob {
	if l == nil {
		l = applogger.Nop()
	}
	return &LabelJob{labeler: labeler, defaults: defaults, now: time.Now, l: l}
}

func (j *LabelJob) Name() string { return "label-pending" }

func (j *LabelJob) Defaults() LabelDefaults { return j.defaults }

func (j *LabelJob) Type() string { return JobTypeLabelPending }

func (j *LabelJob) Handle(ctx context.Context, payload json.RawMessage) error {
	p, err := queue.ParsePayload[LabelPayload](payload)
	if err != nil {
		return err
	}
	opts, err := j.options(*p)
	if err != nil {
		return permanent(err)
	}
	res, err := j.labeler.LabelPending(ctx, opts, j.now())
	if err != nil {
		if errors.Is(err, models.ErrInvalidConfiguration) {
			return permanent(err)
		}
		return err
	}
	j.l.Debug("label job done",
		applogger.String("symbol", opts.Symbol),
		applogger.Int("labeled", res.Labeled),
		applogger.Int("failed", res.Failed),
	)
	return nil
}

// options resolves a payload against the job defaults.
func (j *LabelJob) options(p LabelPayload) (models.LabelOptions, error) {
	opts := models.LabelOptions{
		Symbol:      p.Symbol,
		Horizon:     j.defaults.Horizon,
		Strategies:  j.defaults.Strategies,
		Force:       p.Force,
		SkipOnError: j.defaults.SkipOnError,
	}
	if p.Horizon != "" {
		d, err := util.ParseHorizon(p.Horizon)
		if err != nil {
			return opts, fmt.Errorf("horizon %q: %v: %w", p.Horizon, err, models.ErrInvalidConfiguration)
		}
		opts.Horizon = d
	}
	if len(p.Strategies) > 0 {
		list, err := models.ParseStrategies(p.Strategies)
		if err != nil {
			return opts, err
		}
		opts.Strategies = list
	}
	return opts, opts.Validate()
}

// TrainJob retrains the model of one symbol.
type TrainJob struct {
	trainer *ModelTrainer
	now     func() time.Time
	l       *applogger.Logger
}

func NewTrainJob(trainer *ModelTrainer, l *applogger.Logger) *TrainJob {
	if l == nil {
		l = applogger.Nop()
	}
	return &TrainJob{trainer: trainer, now: time.Now, l: l}
}

func (j *TrainJob) Name() string { return "train-model" }

func (j *TrainJob) Type() string { return JobTypeTrainModel }

// Handle treats too few samples as a normal outcome; the next run retries.
func (j *TrainJob) Handle(ctx context.Context, payload json.RawMessage) error {
	p, err := queue.ParsePayload[TrainPayload](payload)
	if err != nil {
		return err
	}
	_, err = j.trainer.TrainSymbol(ctx, p.Symbol, j.now())
	switch {
	case err == nil, errors.Is(err, models.ErrInsufficientSamples):
		return nil
	case errors.Is(err, models.ErrInvalidConfiguration):
		return permanent(err)
	default:
		return err
	}
}

func permanent(err error) error {
	return fmt.Errorf("%w: %v", queue.ErrPermanent, err)
}

var (
	_ queue.Job = (*LabelJob)(nil)
	_ queue.Job = (*TrainJob)(nil)
)
