package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"FinSignal/internal/domain/models"
	drepo "FinSignal/internal/domain/repository"
	domsvc "FinSignal/internal/domain/service"
	applogger "FinSignal/pkg/logger"
)

// TrackedSymbol names the exchange pair and snapshot interval of a symbol.
type TrackedSymbol struct {
	Symbol   string
	Pair     string
	Interval string
}

// SnapshotCollector scores feature maps and records them as snapshots.
type SnapshotCollector struct {
	source  drepo.FeatureSource
	scorer  domsvc.SignalScorer
	repo    drepo.SnapshotRepository
	events  drepo.EventPublisher
	metrics drepo.Metrics
	symbols map[string]TrackedSymbol
	order   []TrackedSymbol
	newID   func() string
	l       *applogger.Logger
}

func NewSnapshotCollector(
	source drepo.FeatureSource,
	scorer domsvc.SignalScorer,
	repo drepo.SnapshotRepository,
	events drepo.EventPublisher,
	metrics drepo.Metrics,
	symbols []TrackedSymbol,
	l *applogger.Logger,
) *SnapshotCollector {
	if l == nil {
		l = applogger.Nop()
	}
	c := &SnapshotCollector{
		source:  source,
		scorer:  scorer,
		repo:    repo,
		events:  events,
		metrics: metrics,
		symbols: make(map[string]TrackedSymbol, len(symbols)),
		newID:   func() string { return uuid.NewString() },
		l:       l,
	}
	for _, s := range symbols {
		key := strings.ToUpper(s.Symbol)
		if _, dup := c.symbols[key]; dup {
			continue
		}
		c.symbols[key] = s
		c.order = append(c.order, s)
	}
	return c
}

// Symbols lists the configured symbols in configuration order.
func (c *SnapshotCollector) Symbols() []TrackedSymbol {
	return append([]TrackedSymbol(nil), c.order...)
}

func (c *SnapshotCollector) tracked(symbol string) (TrackedSymbol, error) {
	s, ok := c.symbols[strings.ToUpper(symbol)]
	if !ok {
		return TrackedSymbol{}, fmt.Errorf("symbol %q is not configured: %w", symbol, models.ErrInvalidConfiguration)
	}
	return s, nil
}

// Collect builds live features for symbol and stores the scored snapshot.
func (c *SnapshotCollector) Collect(ctx context.Context, symbol string, now time.Time) (*models.SignalSnapshot, error) {
	return c.collectAt(ctx, symbol, now, nil)
}

// Replay stores historical snapshots every step over [from, to]. Instants with
// no data are skipped; the first other error stops the replay.
func (c *SnapshotCollector) Replay(ctx context.Context, symbol string, from, to time.Time, step time.Duration) (int, error) {
	if step <= 0 || to.Before(from) {
		return 0, fmt.Errorf("replay %s: step=%s window=[%s, %s]: %w",
			symbol, step, from.Format(time.RFC3339), to.Format(time.RFC3339), models.ErrInvalidConfiguration)
	}
	var stored int
	for at := from; !at.After(to); at = at.Add(step) {
		if err := ctx.Err(); err != nil {
			return stored, err
		}
		asOf := at
		if _, err := c.collectAt(ctx, symbol, at, &asOf); err != nil {
			if isDataUnavailable(err) {
				c.l.Debug("replay gap", applogger.String("symbol", symbol), applogger.Time("at", at))
				continue
			}
			return stored, err
		}
		stored++
	}
	return stored, nil
}

func (c *SnapshotCollector) collectAt(ctx context.Context, symbol string, now time.Time, asOf *time.Time) (*models.SignalSnapshot, error) {
	sym, err := c.tracked(symbol)
	if err != nil {
		return nil, err
	}
	fm, err := c.source.Build(ctx, sym.Symbol, sym.Pair, sym.Interval, asOf)
	if err != nil {
		c.metrics.RecordError("feature_build")
		return nil, fmt.Errorf("collect %s: %w", sym.Symbol, err)
	}
	return c.CollectFromFeatures(ctx, sym, fm, now)
}

// CollectFromFeatures scores fm and persists it. A snapshot already stored
// under the same identity is returned unchanged.
func (c *SnapshotCollector) CollectFromFeatures(ctx context.Context, sym TrackedSymbol, fm models.FeatureMap, now time.Time) (*models.SignalSnapshot, error) {
	if fm == nil {
		return nil, fmt.Errorf("collect %s: empty feature map: %w", sym.Symbol, models.ErrDataUnavailable)
	}
	sig := c.scorer.Score(fm)

	generatedAt, ok := fm.GeneratedAt()
	if !ok {
		generatedAt = now.UTC()
	}
	s := &models.SignalSnapshot{
		RunID:            c.newID(),
		Symbol:           strings.ToUpper(sym.Symbol),
		Pair:             sym.Pair,
		Interval:         sym.Interval,
		GeneratedAt:      generatedAt.Truncate(time.Millisecond),
		SignalRule:       sig.Action,
		SignalScore:      sig.Score,
		SignalConfidence: sig.Confidence,
		SignalReasons:    sig.Factors,
		FeaturesPayload:  fm,
		IsMissingData:    fm.IsMissingData(),
	}
	if p := fm.LastClose(); p > 0 {
		s.PriceNow = models.Float64Ptr(p)
		c.metrics.RecordLastPrice(s.Symbol, p)
	}

	runID := s.RunID
	if err := c.repo.Save(ctx, s); err != nil {
		c.metrics.RecordError("snapshot_save")
		return nil, fmt.Errorf("collect %s: %w", s.Symbol, err)
	}
	c.metrics.RecordSignal(s.Symbol, s.SignalRule)

	if c.events != nil && s.RunID == runID {
		if err := c.events.PublishSnapshotEvent(ctx, models.NewCreatedEvent(s, now.UTC())); err != nil {
			c.metrics.RecordError("publish_created")
			c.l.Warn("publish created event failed", applogger.String("key", s.Key()), applogger.Error(err))
		}
	}
	c.l.Debug("snapshot stored",
		applogger.String("key", s.Key()),
		applogger.String("action", string(s.SignalRule)),
		applogger.Float64("score", s.SignalScore),
		applogger.Bool("missing_data", s.IsMissingData),
	)
	return s, nil
}

func isDataUnavailable(err error) bool {
	return errors.Is(err, models.ErrDataUnavailable)
}
