package repository

import (
	"context"
	"time"

	domrepo "FinSignal/internal/domain/repository"
)

// CHPriceSource resolves historical prices from streamed candles.
type CHPriceSource struct {
	store        *CHCandleStore
	maxStaleness time.Duration
}

func NewCHPriceSource(store *CHCandleStore, maxStaleness time.Duration) *CHPriceSource {
	return &CHPriceSource{store: store, maxStaleness: maxStaleness}
}

var _ domrepo.PriceSource = (*CHPriceSource)(nil)

// PriceAt returns the close of the last candle that finished at or before
// tsMs. A candle older than max(maxStaleness, interval) counts as unavailable.
func (p *CHPriceSource) PriceAt(ctx context.Context, pair string, tsMs int64, interval string) (float64, bool, error) {
	ts := time.UnixMilli(tsMs).UTC()
	bucket, price, ok, err := p.store.lastClose(ctx, pair, ts)
	if err != nil || !ok {
		return 0, false, err
	}
	if price <= 0 {
		return 0, false, nil
	}
	limit := p.maxStaleness
	if d := domrepo.NormalizeInterval(interval).Duration(); d > limit {
		limit = d
	}
	closedAt := bucket.Add(p.store.feed.Duration())
	if limit > 0 && ts.Sub(closedAt) > limit {
		return 0, false, nil
	}
	return price, true, nil
}
