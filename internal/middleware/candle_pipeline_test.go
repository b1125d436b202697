package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinSignal/internal/domain/models"
	"FinSignal/pkg/metrics"
)

type memSink struct {
	mu      sync.Mutex
	batches [][]*models.Candle
	failN   int
}

func (s *memSink) StoreBatch(_ context.Context, candles []*models.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failN > 0 {
		s.failN--
		return errors.New("clickhouse down")
	}
	s.batches = append(s.batches, candles)
	return nil
}

func (s *memSink) stored() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

var bucket = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func candle(pair string, i int) *models.Candle {
	return &models.Candle{
		Pair:   pair,
		Bucket: bucket.Add(time.Duration(i) * time.Minute),
		Open:   100, High: 101, Low: 99, Close: 100.5, Volume: 3,
	}
}

func TestCandlePipeline_BatchesBySize(t *testing.T) {
	sink := &memSink{}
	p := NewCandlePipeline(sink, metrics.Nop{}, WithBatchSize(2), WithMaxRPS(1000))
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, candle("BTCUSDT", 0)))
	assert.Equal(t, 1, p.Pending())
	require.NoError(t, p.Process(ctx, candle("ETHUSDT", 0)))
	assert.Equal(t, 0, p.Pending())
	require.Len(t, sink.batches, 1)
	assert.Len(t, sink.batches[0], 2)
}

func TestCandlePipeline_RejectsInvalid(t *testing.T) {
	p := NewCandlePipeline(&memSink{}, metrics.Nop{})
	ctx := context.Background()

	assert.Error(t, p.Process(ctx, nil))
	assert.Error(t, p.Process(ctx, &models.Candle{Bucket: bucket, Close: 1}))
	assert.Error(t, p.Process(ctx, &models.Candle{Pair: "BTCUSDT", Close: 1}))
	bad := candle("BTCUSDT", 0)
	bad.High = 90
	assert.Error(t, p.Process(ctx, bad))
	zero := candle("BTCUSDT", 0)
	zero.Close = 0
	assert.Error(t, p.Process(ctx, zero))
	assert.Zero(t, p.Pending())
}

func TestCandlePipeline_ThrottlesPerPair(t *testing.T) {
	p := NewCandlePipeline(&memSink{}, metrics.Nop{}, WithMaxRPS(1), WithBatchSize(100))
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, candle("BTCUSDT", 0)))
	require.NoError(t, p.Process(ctx, candle("BTCUSDT", 1)))
	require.NoError(t, p.Process(ctx, candle("ETHUSDT", 0)))
	assert.Equal(t, 2, p.Pending())
}

func TestCandlePipeline_TransformRunsFirst(t *testing.T) {
	p := NewCandlePipeline(&memSink{}, metrics.Nop{}, WithTransform(func(c *models.Candle) *models.Candle {
		c.Pair = "BTCUSDT"
		return c
	}))
	c := candle("", 0)
	require.NoError(t, p.Process(context.Background(), c))
	assert.Equal(t, 1, p.Pending())
}

func TestCandlePipeline_RetriesFailedBatch(t *testing.T) {
	sink := &memSink{failN: 1}
	p := NewCandlePipeline(sink, metrics.Nop{}, WithBatchSize(1), WithFlushInterval(time.Hour))
	ctx := context.Background()
	p.Start(ctx)

	err := p.Process(ctx, candle("BTCUSDT", 0))
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return sink.stored() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, p.Stop(ctx))
}

func TestCandlePipeline_StopFlushesPartialBatch(t *testing.T) {
	sink := &memSink{}
	p := NewCandlePipeline(sink, metrics.Nop{}, WithBatchSize(10), WithFlushInterval(time.Hour))
	ctx := context.Background()
	p.Start(ctx)

	require.NoError(t, p.Process(ctx, candle("BTCUSDT", 0)))
	require.NoError(t, p.Process(ctx, candle("ETHUSDT", 0)))
	require.NoError(t, p.Stop(ctx))
	assert.Equal(t, 2, sink.stored())
	require.NoError(t, p.Stop(ctx))
}
