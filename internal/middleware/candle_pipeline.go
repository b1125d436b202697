package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"FinSignal/internal/domain/models"
	domrepo "FinSignal/internal/domain/repository"
	"FinSignal/internal/service/ratelimit"
)

// Sink is the minimal storage interface the pipeline needs.
type Sink interface {
	StoreBatch(ctx context.Context, candles []*models.Candle) error
}

// CandlePipeline sits between the exchange stream and candle storage.
// It validates, throttles per pair, batches, and re-queues failed batches.
type CandlePipeline struct {
	sink      Sink
	metrics   domrepo.Metrics
	limiter   *ratelimit.Limiter
	batchSize int
	flushIvl  time.Duration
	bufSize   int
	transform func(*models.Candle) *models.Candle

	mu      sync.Mutex
	batch   []*models.Candle
	retryCh chan []*models.Candle
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

type PipelineOption func(*CandlePipeline)

// WithMaxRPS caps accepted candles per second per pair.
func WithMaxRPS(n int) PipelineOption {
	return func(p *CandlePipeline) {
		if n > 0 {
			p.limiter = ratelimit.New(float64(n), n)
		}
	}
}

// WithBatchSize sets how many candles are written per StoreBatch call.
func WithBatchSize(n int) PipelineOption {
	return func(p *CandlePipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithFlushInterval flushes a partial batch at least this often.
func WithFlushInterval(d time.Duration) PipelineOption {
	return func(p *CandlePipeline) {
		if d > 0 {
			p.flushIvl = d
		}
	}
}

// WithBufferSize sets how many failed batches are held for retry.
func WithBufferSize(n int) PipelineOption {
	return func(p *CandlePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithTransform sets a hook applied to every candle before validation.
func WithTransform(fn func(*models.Candle) *models.Candle) PipelineOption {
	return func(p *CandlePipeline) { p.transform = fn }
}

func NewCandlePipeline(sink Sink, metrics domrepo.Metrics, opts ...PipelineOption) *CandlePipeline {
	p := &CandlePipeline{
		sink:      sink,
		metrics:   metrics,
		limiter:   ratelimit.New(20, 20),
		batchSize: 100,
		flushIvl:  5 * time.Second,
		bufSize:   64,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.retryCh = make(chan []*models.Candle, p.bufSize)
	return p
}

// Start launches the periodic flush and the retry loop.
func (p *CandlePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.loop(ctx)
}

func (p *CandlePipeline) loop(ctx context.Context) {
	defer close(p.doneCh)
	ticker := time.NewTicker(p.flushIvl)
	defer ticker.Stop()
	backoff := 50 * time.Millisecond

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = p.Flush(ctx)
		case batch := <-p.retryCh:
			if err := p.sink.StoreBatch(ctx, batch); err != nil {
				if backoff < 2*time.Second {
					backoff *= 2
				}
				p.metrics.RecordError("pipeline_flush")
				time.Sleep(backoff)
				p.requeue(batch)
				continue
			}
			backoff = 50 * time.Millisecond
			p.recordStored(batch)
		}
	}
}

// Stop ends background work and writes whatever is still batched.
func (p *CandlePipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	close(p.stopCh)
	done := p.doneCh
	p.mu.Unlock()
	<-done
	return p.Flush(ctx)
}

// Process validates, throttles and batches one closed candle.
func (p *CandlePipeline) Process(ctx context.Context, c *models.Candle) error {
	if p.transform != nil {
		c = p.transform(c)
	}
	if err := validateCandle(c); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if p.limiter != nil && !p.limiter.Allow(c.Pair) {
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}

	p.mu.Lock()
	p.batch = append(p.batch, c)
	full := len(p.batch) >= p.batchSize
	p.mu.Unlock()

	if full {
		return p.Flush(ctx)
	}
	return nil
}

// Flush writes the pending batch. A failed batch is kept for retry.
func (p *CandlePipeline) Flush(ctx context.Context) error {
	p.mu.Lock()
	batch := p.batch
	p.batch = nil
	p.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	if err := p.sink.StoreBatch(ctx, batch); err != nil {
		p.metrics.RecordError("pipeline_process")
		p.requeue(batch)
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_flush", time.Since(start).Seconds())
	p.recordStored(batch)
	return nil
}

// Pending returns the number of candles waiting in the current batch.
func (p *CandlePipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.batch)
}

func (p *CandlePipeline) requeue(batch []*models.Candle) {
	select {
	case p.retryCh <- batch:
		p.metrics.RecordLatency("pipeline_buffer_depth", float64(len(p.retryCh)))
	default:
		p.metrics.RecordError("pipeline_buffer_full")
	}
}

func (p *CandlePipeline) recordStored(batch []*models.Candle) {
	for _, c := range batch {
		p.metrics.RecordCandleStored(c.Pair)
	}
}

func validateCandle(c *models.Candle) error {
	if c == nil {
		return fmt.Errorf("candle nil")
	}
	if c.Pair == "" {
		return fmt.Errorf("pair empty")
	}
	if c.Bucket.IsZero() {
		return fmt.Errorf("bucket missing")
	}
	if c.Close <= 0 || c.Open < 0 || c.High < 0 || c.Low < 0 || c.Volume < 0 {
		return fmt.Errorf("candle %s: invalid price/volume", c.Pair)
	}
	if c.High < c.Low {
		return fmt.Errorf("candle %s: high below low", c.Pair)
	}
	return nil
}
