package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinSignal/internal/domain/models"
	"FinSignal/internal/repository"
	"FinSignal/internal/services/signal"
	pkgkafka "FinSignal/pkg/kafka"
	"FinSignal/pkg/metrics"
)

type stubFeatures struct {
	mu    sync.Mutex
	maps  map[int64]models.FeatureMap
	live  models.FeatureMap
	err   error
	calls int
}

func (s *stubFeatures) Build(_ context.Context, _, _, _ string, asOf *time.Time) (models.FeatureMap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if asOf == nil {
		return s.live.Clone(), nil
	}
	fm, ok := s.maps[asOf.UnixMilli()]
	if !ok {
		return nil, fmt.Errorf("no features at %s: %w", asOf, models.ErrDataUnavailable)
	}
	return fm.Clone(), nil
}

func liveFeatures(at time.Time, lastClose float64) models.FeatureMap {
	return models.FeatureMap{
		"generated_at":   at.Format(time.RFC3339),
		"funding":        map[string]any{"rate": -0.02},
		"microstructure": map[string]any{"price": map[string]any{"last_close": lastClose}},
	}
}

func newCollector(src *stubFeatures, repo *repository.MemorySnapshotRepository, events *recordingEvents) *SnapshotCollector {
	c := NewSnapshotCollector(src, signal.NewEngine(signal.DefaultRules()), repo, nil, metrics.Nop{},
		[]TrackedSymbol{{Symbol: "BTC", Pair: "BTCUSDT", Interval: "1h"}, {Symbol: "ETH", Pair: "ETHUSDT", Interval: "1h"}}, nil)
	if events != nil {
		c.events = events
	}
	n := 0
	c.newID = func() string { n++; return fmt.Sprintf("run-%d", n) }
	return c
}

func TestSnapshotCollector_Collect(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemorySnapshotRepository()
	events := &recordingEvents{}
	src := &stubFeatures{live: liveFeatures(t0, 100)}

	s, err := newCollector(src, repo, events).Collect(ctx, "btc", t0.Add(time.Minute))
	require.NoError(t, err)

	want := signal.NewEngine(signal.DefaultRules()).Score(src.live)
	assert.Equal(t, "BTC", s.Symbol)
	assert.Equal(t, "BTCUSDT", s.Pair)
	assert.Equal(t, t0, s.GeneratedAt)
	assert.Equal(t, want.Action, s.SignalRule)
	assert.Equal(t, want.Score, s.SignalScore)
	assert.Equal(t, want.Factors, s.SignalReasons)
	require.NotNil(t, s.PriceNow)
	assert.Equal(t, 100.0, *s.PriceNow)
	assert.True(t, s.IsMissingData)
	assert.Equal(t, models.StatusPending, s.Status())
	assert.Equal(t, "run-1", s.RunID)

	require.Len(t, events.events, 1)
	assert.Equal(t, models.EventSnapshotCreated, events.events[0].Type)
	assert.Equal(t, s.Key(), events.events[0].Key)
}

func TestSnapshotCollector_IdempotentOnIdentity(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemorySnapshotRepository()
	events := &recordingEvents{}
	c := newCollector(&stubFeatures{live: liveFeatures(t0, 100)}, repo, events)

	a, err := c.Collect(ctx, "BTC", t0)
	require.NoError(t, err)
	b, err := c.Collect(ctx, "BTC", t0.Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, 1, repo.Len())
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, "run-1", b.RunID)
	assert.Len(t, events.events, 1)
}

func TestSnapshotCollector_MissingGeneratedAtUsesNow(t *testing.T) {
	fm := liveFeatures(t0, 0)
	delete(fm, "generated_at")
	c := newCollector(&stubFeatures{live: fm}, repository.NewMemorySnapshotRepository(), nil)

	s, err := c.Collect(context.Background(), "ETH", t0.Add(90*time.Second))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(90*time.Second), s.GeneratedAt)
	assert.Nil(t, s.PriceNow)
}

func TestSnapshotCollector_Errors(t *testing.T) {
	repo := repository.NewMemorySnapshotRepository()

	_, err := newCollector(&stubFeatures{}, repo, nil).Collect(context.Background(), "DOGE", t0)
	assert.ErrorIs(t, err, models.ErrInvalidConfiguration)

	src := &stubFeatures{err: fmt.Errorf("upstream: %w", models.ErrDataUnavailable)}
	_, err = newCollector(src, repo, nil).Collect(context.Background(), "BTC", t0)
	assert.ErrorIs(t, err, models.ErrDataUnavailable)
	assert.Zero(t, repo.Len())
}

func TestSnapshotCollector_Replay(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemorySnapshotRepository()
	src := &stubFeatures{maps: map[int64]models.FeatureMap{}}
	for i := 0; i < 4; i++ {
		if i == 2 {
			continue
		}
		at := t0.Add(time.Duration(i) * time.Hour)
		src.maps[at.UnixMilli()] = liveFeatures(at, 100+float64(i))
	}

	n, err := newCollector(src, repo, nil).Replay(ctx, "BTC", t0, t0.Add(3*time.Hour), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 4, src.calls)

	stored, err := repo.QueryRange(ctx, "BTC", t0, t0.Add(3*time.Hour), false)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, t0.Add(3*time.Hour), stored[2].GeneratedAt)
	assert.Equal(t, 103.0, *stored[2].PriceNow)

	_, err = newCollector(src, repo, nil).Replay(ctx, "BTC", t0, t0, 0)
	assert.ErrorIs(t, err, models.ErrInvalidConfiguration)
}

func TestFeatureSnapshotHandler(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemorySnapshotRepository()
	h := NewFeatureSnapshotHandler("features", newCollector(&stubFeatures{}, repo, nil), metrics.Nop{})
	assert.Equal(t, "features", h.Topic())

	fm := liveFeatures(t0, 100)
	delete(fm, "generated_at")
	b, err := json.Marshal(models.FeatureSnapshotMessage{Symbol: "btc", Interval: "4h", GeneratedAt: t0, Features: fm})
	require.NoError(t, err)
	require.NoError(t, h.Handle(ctx, b))

	stored, err := repo.QueryRange(ctx, "BTC", t0, t0, false)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "4h", stored[0].Interval)
	assert.Equal(t, "BTCUSDT", stored[0].Pair)

	var he *pkgkafka.HookError
	err = h.Handle(ctx, []byte("{"))
	require.True(t, errors.As(err, &he))
	assert.Equal(t, "ERR_DECODE", he.Code)

	b, _ = json.Marshal(models.FeatureSnapshotMessage{Symbol: "DOGE", Features: fm})
	err = h.Handle(ctx, b)
	require.True(t, errors.As(err, &he))
	assert.Equal(t, "ERR_VALIDATION", he.Code)
}
