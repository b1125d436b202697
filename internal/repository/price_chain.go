package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	domrepo "FinSignal/internal/domain/repository"
	"FinSignal/internal/service/ratelimit"
)

// ChainPriceSource asks each source in order; the first resolved price wins.
// Errors are remembered and returned only when no source resolves.
type ChainPriceSource struct {
	sources []domrepo.PriceSource
}

func NewChainPriceSource(sources ...domrepo.PriceSource) *ChainPriceSource {
	return &ChainPriceSource{sources: sources}
}

func (c *ChainPriceSource) PriceAt(ctx context.Context, pair string, tsMs int64, interval string) (float64, bool, error) {
	var errs []error
	for _, src := range c.sources {
		price, ok, err := src.PriceAt(ctx, pair, tsMs, interval)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return price, true, nil
		}
	}
	return 0, false, errors.Join(errs...)
}

// BreakerConfig guards an upstream price source.
type BreakerConfig struct {
	Name        string
	Failures    uint32
	Timeout     time.Duration
	RateLimiter *ratelimit.Limiter
}

// BreakerPriceSource wraps a source with a per-pair rate limit and a circuit
// breaker. An open breaker reports the price as an error so callers can skip.
type BreakerPriceSource struct {
	next    domrepo.PriceSource
	cb      *gobreaker.CircuitBreaker
	limiter *ratelimit.Limiter
}

func NewBreakerPriceSource(next domrepo.PriceSource, cfg BreakerConfig) *BreakerPriceSource {
	failures := cfg.Failures
	if failures == 0 {
		failures = 5
	}
	name := cfg.Name
	if name == "" {
		name = "price_source"
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
	})
	return &BreakerPriceSource{next: next, cb: cb, limiter: cfg.RateLimiter}
}

type priceResult struct {
	price float64
	ok    bool
}

func (b *BreakerPriceSource) PriceAt(ctx context.Context, pair string, tsMs int64, interval string) (float64, bool, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx, pair); err != nil {
			return 0, false, fmt.Errorf("price rate limit: %w", err)
		}
	}
	res, err := b.cb.Execute(func() (interface{}, error) {
		price, ok, err := b.next.PriceAt(ctx, pair, tsMs, interval)
		if err != nil {
			return nil, err
		}
		return priceResult{price: price, ok: ok}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return 0, false, fmt.Errorf("price source %s: %w", b.cb.Name(), err)
		}
		return 0, false, err
	}
	r := res.(priceResult)
	return r.price, r.ok, nil
}

// State exposes the breaker state for health reporting.
func (b *BreakerPriceSource) State() gobreaker.State {
	return b.cb.State()
}
