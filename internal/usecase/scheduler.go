package usecase

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	drepo "FinSignal/internal/domain/repository"
	applogger "FinSignal/pkg/logger"
	"FinSignal/pkg/queue"
)

// SchedulerConfig sets how often each periodic task runs. Zero disables a task.
type SchedulerConfig struct {
	CollectInterval time.Duration
	LabelInterval   time.Duration
	TrainInterval   time.Duration
}

// Scheduler drives snapshot collection and dispatches labeling and training
// per symbol. With a queue publisher the jobs are enqueued, otherwise they run inline.
type Scheduler struct {
	collector *SnapshotCollector
	labelJob  queue.Job
	trainJob  queue.Job
	pub       queue.Publisher
	metrics   drepo.Metrics
	cfg       SchedulerConfig
	now       func() time.Time
	l         *applogger.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once
}

func NewScheduler(
	collector *SnapshotCollector,
	labelJob *LabelJob,
	trainJob *TrainJob,
	pub queue.Publisher,
	metrics drepo.Metrics,
	cfg SchedulerConfig,
	l *applogger.Logger,
) *Scheduler {
	if l == nil {
		l = applogger.Nop()
	}
	s := &Scheduler{
		collector: collector,
		pub:       pub,
		metrics:   metrics,
		cfg:       cfg,
		now:       time.Now,
		l:         l,
	}
	if labelJob != nil {
		s.labelJob = labelJob
	}
	if trainJob != nil {
		s.trainJob = trainJob
	}
	return s
}

// Start launches one loop per enabled task.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.every(ctx, "collect", s.cfg.CollectInterval, s.CollectAll)
	s.every(ctx, "label", s.cfg.LabelInterval, func(ctx context.Context) {
		s.DispatchAll(ctx, s.labelJob, func(symbol string) any { return LabelPayload{Symbol: symbol} })
	})
	s.every(ctx, "train", s.cfg.TrainInterval, func(ctx context.Context) {
		s.DispatchAll(ctx, s.trainJob, func(symbol string) any { return TrainPayload{Symbol: symbol} })
	})
}

// Stop cancels the loops and waits for in-flight ticks.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

func (s *Scheduler) every(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		s.l.Info("scheduler task started", applogger.String("task", name), applogger.Duration("interval", interval))
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

// CollectAll stores one live snapshot per configured symbol.
func (s *Scheduler) CollectAll(ctx context.Context) {
	now := s.now()
	for _, sym := range s.collector.Symbols() {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.collector.Collect(ctx, sym.Symbol, now); err != nil {
			s.metrics.RecordError("scheduler_collect")
			s.l.Warn("scheduled collect failed", applogger.String("symbol", sym.Symbol), applogger.Error(err))
		}
	}
}

// DispatchAll enqueues or runs job once per configured symbol.
func (s *Scheduler) DispatchAll(ctx context.Context, job queue.Job, payload func(symbol string) any) {
	if job == nil {
		return
	}
	for _, sym := range s.collector.Symbols() {
		if ctx.Err() != nil {
			return
		}
		if err := s.dispatch(ctx, job, payload(sym.Symbol)); err != nil {
			s.metrics.RecordError("scheduler_" + job.Type())
			s.l.Warn("scheduled job failed",
				applogger.String("job", job.Name()),
				applogger.String("symbol", sym.Symbol),
				applogger.Error(err),
			)
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, job queue.Job, payload any) error {
	if s.pub != nil {
		return s.pub.PublishMessage(ctx, job.Type(), payload)
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return job.Handle(ctx, b)
}
