package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinSignal/internal/domain/models"
	mid "FinSignal/internal/middleware"
	"FinSignal/pkg/metrics"
)

type fakeStream struct {
	mu         sync.Mutex
	connected  bool
	reconnects int
	feeds      []chan *models.Candle
	errs       []chan error
}

func (s *fakeStream) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

func (s *fakeStream) Subscribe(context.Context) error { return nil }

func (s *fakeStream) Read(context.Context) (<-chan *models.Candle, <-chan error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, e := make(chan *models.Candle, 8), make(chan error, 1)
	s.feeds = append(s.feeds, c)
	s.errs = append(s.errs, e)
	return c, e
}

func (s *fakeStream) Reconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

func (s *fakeStream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeStream) reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.feeds)
}

func (s *fakeStream) feed(i int) chan *models.Candle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feeds[i]
}

func (s *fakeStream) errCh(i int) chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs[i]
}

func (s *fakeStream) reconnectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}

type countingSink struct {
	mu    sync.Mutex
	pairs []string
}

func (s *countingSink) StoreBatch(_ context.Context, candles []*models.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range candles {
		s.pairs = append(s.pairs, c.Pair)
	}
	return nil
}

func (s *countingSink) stored() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.pairs...)
}

func TestPriceFeedCollector_StoresAndReconnects(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := &fakeStream{}
	sink := &countingSink{}
	pipe := mid.NewCandlePipeline(sink, metrics.Nop{}, mid.WithBatchSize(1), mid.WithFlushInterval(time.Hour))
	c := NewPriceFeedCollector(stream, pipe, metrics.Nop{}, nil)

	require.NoError(t, c.Start(ctx))
	assert.True(t, c.IsConnected())

	stream.feed(0) <- &models.Candle{Pair: "BTCUSDT", Bucket: t0, Open: 1, High: 2, Low: 1, Close: 2}
	assert.Eventually(t, func() bool { return len(sink.stored()) == 1 }, time.Second, 5*time.Millisecond)

	stream.errCh(0) <- errors.New("socket closed")
	assert.Eventually(t, func() bool { return stream.reads() == 2 }, time.Second, 5*time.Millisecond)

	stream.feed(1) <- &models.Candle{Pair: "ETHUSDT", Bucket: t0, Open: 1, High: 2, Low: 1, Close: 2}
	assert.Eventually(t, func() bool { return len(sink.stored()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, sink.stored())
	assert.Equal(t, 1, stream.reconnectCount())

	require.NoError(t, c.Shutdown(context.Background()))
	assert.False(t, c.IsConnected())
}
