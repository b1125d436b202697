package usecase

import (
	"context"
	"sync/atomic"

	"FinSignal/internal/domain/models"
	drepo "FinSignal/internal/domain/repository"
	mid "FinSignal/internal/middleware"
	applogger "FinSignal/pkg/logger"
)

// PriceFeedCollector streams closed candles from the exchange into candle storage.
type PriceFeedCollector struct {
	stream  drepo.MarketStream
	pipe    *mid.CandlePipeline
	metrics drepo.Metrics
	l       *applogger.Logger
	done    chan struct{}
	cancel  context.CancelFunc
	closing atomic.Bool
}

func NewPriceFeedCollector(stream drepo.MarketStream, pipe *mid.CandlePipeline, metrics drepo.Metrics, l *applogger.Logger) *PriceFeedCollector {
	if l == nil {
		l = applogger.Nop()
	}
	return &PriceFeedCollector{stream: stream, pipe: pipe, metrics: metrics, l: l}
}

func (c *PriceFeedCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *PriceFeedCollector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	c.pipe.Start(ctx)
	candles, errs := c.stream.Read(ctx)
	c.done = make(chan struct{})
	go c.consume(ctx, candles, errs)
	return nil
}

func (c *PriceFeedCollector) consume(ctx context.Context, candles <-chan *models.Candle, errs <-chan error) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if c.closing.Load() {
				return
			}
			if ok && err == nil {
				continue
			}
			c.metrics.RecordError("stream")
			c.l.Warn("price stream lost, reconnecting", applogger.Error(err))
			if !c.reconnect(ctx) {
				return
			}
			candles, errs = c.stream.Read(ctx)
		case k, ok := <-candles:
			if !ok {
				candles = nil
				continue
			}
			if err := c.pipe.Process(ctx, k); err != nil {
				c.l.Debug("candle rejected", applogger.String("pair", pairOf(k)), applogger.Error(err))
				continue
			}
			c.metrics.RecordLastPrice(k.Pair, k.Close)
		}
	}
}

// reconnect retries until the stream is back or ctx ends.
func (c *PriceFeedCollector) reconnect(ctx context.Context) bool {
	for {
		err := c.stream.Reconnect(ctx)
		if err == nil {
			return true
		}
		if ctx.Err() != nil || c.closing.Load() {
			return false
		}
		c.metrics.RecordError("stream_reconnect")
		c.l.Error("price stream reconnect failed", applogger.Error(err))
	}
}

// Shutdown flushes the pipeline and closes the stream.
func (c *PriceFeedCollector) Shutdown(ctx context.Context) error {
	c.closing.Store(true)
	if c.cancel != nil {
		c.cancel()
	}
	err := c.stream.Close()
	if c.done != nil {
		select {
		case <-c.done:
		case <-ctx.Done():
		}
	}
	if perr := c.pipe.Stop(ctx); perr != nil && err == nil {
		err = perr
	}
	return err
}

func pairOf(k *models.Candle) string {
	if k == nil {
		return ""
	}
	return k.Pair
}
