package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"FinSignal/internal/domain/models"
	drepo "FinSignal/internal/domain/repository"
	"FinSignal/internal/services/labeling"
	applogger "FinSignal/pkg/logger"
	"FinSignal/pkg/util"
)

// LabelerConfig holds labeling policy and pool settings.
type LabelerConfig struct {
	Thresholds labeling.Thresholds
	Workers    int
	ClaimTTL   time.Duration
	Limit      int
	ChunkSize  int
}

// OutcomeLabeler applies realized outcomes to snapshots whose horizon elapsed.
type OutcomeLabeler struct {
	repo    drepo.SnapshotRepository
	prices  drepo.PriceSource
	claims  drepo.ClaimLocker
	events  drepo.EventPublisher
	metrics drepo.Metrics
	cfg     LabelerConfig
	l       *applogger.Logger
}

// NewOutcomeLabeler wires the labeler. claims and events may be nil.
func NewOutcomeLabeler(
	repo drepo.SnapshotRepository,
	prices drepo.PriceSource,
	claims drepo.ClaimLocker,
	events drepo.EventPublisher,
	metrics drepo.Metrics,
	cfg LabelerConfig,
	l *applogger.Logger,
) *OutcomeLabeler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 2 * time.Minute
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 1000
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 100
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &OutcomeLabeler{
		repo:    repo,
		prices:  prices,
		claims:  claims,
		events:  events,
		metrics: metrics,
		cfg:     cfg,
		l:       l,
	}
}

// LabelPending labels every eligible snapshot of opts.Symbol as of now.
// Configuration errors fail before any read or write. Per-snapshot failures
// are reported as outcomes; with SkipOnError unset the first failure stops
// the run and is returned alongside the partial result.
func (u *OutcomeLabeler) LabelPending(ctx context.Context, opts models.LabelOptions, now time.Time) (*models.LabelRunResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := u.cfg.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if opts.Limit == 0 {
		opts.Limit = u.cfg.Limit
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = u.cfg.ChunkSize
	}

	start := time.Now()
	now = now.UTC()
	res := &models.LabelRunResult{Symbol: opts.Symbol, Horizon: util.FormatHorizon(opts.Horizon), Now: now}

	cutoff := now.Add(-opts.Horizon)
	snaps, err := u.repo.FindEligibleForLabeling(ctx, opts.Symbol, cutoff, opts.Force, opts.Limit)
	if err != nil {
		u.metrics.RecordError("label_find")
		return nil, fmt.Errorf("label pending %s: %w", opts.Symbol, err)
	}

	for i := 0; i < len(snaps); i += opts.ChunkSize {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		end := i + opts.ChunkSize
		if end > len(snaps) {
			end = len(snaps)
		}
		if err := u.labelChunk(ctx, snaps[i:end], opts, now, res); err != nil {
			return res, err
		}
	}

	u.metrics.RecordLatency("label_pending", time.Since(start).Seconds())
	if !res.Empty() {
		u.l.Info("labeling run finished",
			applogger.String("symbol", opts.Symbol),
			applogger.String("horizon", res.Horizon),
			applogger.Int("labeled", res.Labeled),
			applogger.Int("skipped", res.Skipped),
			applogger.Int("failed", res.Failed),
		)
	}
	return res, nil
}

// labelChunk runs one chunk on the worker pool and appends outcomes in input order.
func (u *OutcomeLabeler) labelChunk(ctx context.Context, chunk []*models.SignalSnapshot, opts models.LabelOptions, now time.Time, res *models.LabelRunResult) error {
	if !opts.SkipOnError {
		for _, s := range chunk {
			o, err := u.LabelSnapshot(ctx, s, opts, now)
			res.Add(o)
			if err != nil {
				return err
			}
		}
		return nil
	}

	outcomes := make([]models.LabelOutcome, len(chunk))
	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := u.cfg.Workers
	if workers > len(chunk) {
		workers = len(chunk)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				outcomes[idx], _ = u.LabelSnapshot(ctx, chunk[idx], opts, now)
			}
		}()
	}
	for i := range chunk {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for _, o := range outcomes {
		res.Add(o)
	}
	return nil
}

// LabelSnapshot labels one snapshot. The returned error is set only for
// failed outcomes.
func (u *OutcomeLabeler) LabelSnapshot(ctx context.Context, s *models.SignalSnapshot, opts models.LabelOptions, now time.Time) (models.LabelOutcome, error) {
	o := models.LabelOutcome{
		Key:         s.Key(),
		Symbol:      s.Symbol,
		Interval:    s.Interval,
		GeneratedAt: s.GeneratedAt,
	}

	if err := ctx.Err(); err != nil {
		return u.finish(o, models.OutcomeSkipped, models.ReasonCanceled, nil), nil
	}
	if s.IsLabeled() && !opts.Force {
		return u.finish(o, models.OutcomeSkipped, models.ReasonAlreadyLabeled, nil), nil
	}
	target := s.EligibleAt(opts.Horizon)
	if now.Before(target) {
		return u.finish(o, models.OutcomeSkipped, models.ReasonFutureNotReached, nil), nil
	}

	if u.claims != nil {
		ok, err := u.claims.TryLock(ctx, o.Key, u.cfg.ClaimTTL)
		if err != nil {
			err = fmt.Errorf("claim %s: %w", o.Key, err)
			return u.finish(o, models.OutcomeFailed, models.ReasonClaimError, err), err
		}
		if !ok {
			return u.finish(o, models.OutcomeSkipped, models.ReasonClaimedElsewhere, nil), nil
		}
		defer func() {
			if err := u.claims.Unlock(context.WithoutCancel(ctx), o.Key); err != nil {
				u.l.Warn("release claim failed", applogger.String("key", o.Key), applogger.Error(err))
			}
		}()
	}

	current, ok := s.CurrentPrice()
	if !ok {
		p, err := u.resolvePrice(ctx, s, s.GeneratedAt)
		if err != nil {
			return u.finish(o, models.OutcomeFailed, models.ReasonPriceUnavailable, err), err
		}
		s.PriceNow = models.Float64Ptr(p)
		if err := u.repo.Update(ctx, s, models.FieldPriceNow); err != nil {
			if errors.Is(err, models.ErrConcurrentLabelConflict) {
				return u.finish(o, models.OutcomeSkipped, models.ReasonClaimedElsewhere, nil), nil
			}
			err = fmt.Errorf("backfill price_now %s: %w", o.Key, err)
			return u.finish(o, models.OutcomeFailed, models.ReasonPersistFailed, err), err
		}
		current = p
		o.Backfilled = true
	}
	o.PriceNow = current

	future, err := u.resolvePrice(ctx, s, target)
	if err != nil {
		return u.finish(o, models.OutcomeFailed, models.ReasonPriceUnavailable, err), err
	}
	o.PriceFuture = future

	in := labeling.NewInput(current, future, s)
	o.ReturnPct = in.ReturnPct
	label, err := labeling.Label(opts.Strategies, in, u.cfg.Thresholds)
	if err != nil {
		return u.finish(o, models.OutcomeFailed, "", err), err
	}

	s.PriceFuture = models.Float64Ptr(future)
	s.LabelDirection = label.Direction
	s.LabelMagnitude = models.Float64Ptr(label.Magnitude)
	s.LabeledAt = models.TimePtr(now)
	if err := u.repo.Update(ctx, s, models.LabelFields...); err != nil {
		if errors.Is(err, models.ErrConcurrentLabelConflict) {
			return u.finish(o, models.OutcomeSkipped, models.ReasonClaimedElsewhere, nil), nil
		}
		err = fmt.Errorf("apply label %s: %w", o.Key, err)
		return u.finish(o, models.OutcomeFailed, models.ReasonPersistFailed, err), err
	}
	o.Label = label

	if u.events != nil {
		if err := u.events.PublishSnapshotEvent(ctx, models.NewLabeledEvent(s, label, now)); err != nil {
			u.metrics.RecordError("publish_labeled")
			u.l.Warn("publish labeled event failed", applogger.String("key", o.Key), applogger.Error(err))
		}
	}
	return u.finish(o, models.OutcomeLabeled, "", nil), nil
}

func (u *OutcomeLabeler) resolvePrice(ctx context.Context, s *models.SignalSnapshot, at time.Time) (float64, error) {
	p, ok, err := u.prices.PriceAt(ctx, s.Pair, at.UnixMilli(), s.Interval)
	if err != nil {
		return 0, fmt.Errorf("price %s at %s: %v: %w", s.Pair, at.Format(time.RFC3339), err, models.ErrDataUnavailable)
	}
	if !ok || p <= 0 {
		return 0, fmt.Errorf("price %s at %s: %w", s.Pair, at.Format(time.RFC3339), models.ErrDataUnavailable)
	}
	return p, nil
}

func (u *OutcomeLabeler) finish(o models.LabelOutcome, status models.OutcomeStatus, reason string, err error) models.LabelOutcome {
	o.Status = status
	o.Reason = reason
	if err != nil {
		o.Error = err.Error()
		if !errors.Is(err, models.ErrDataUnavailable) {
			u.l.Error("label snapshot failed",
				applogger.String("key", o.Key),
				applogger.String("reason", reason),
				applogger.Error(err),
			)
		}
	}
	u.metrics.RecordLabelOutcome(o.Symbol, status, reason)
	return o
}
