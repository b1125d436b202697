package repository

import (
	"context"
	"time"

	"FinSignal/internal/domain/models"
)

// CandleStore provides read-only access to stored candles.
type CandleStore interface {
	GetCandles(ctx context.Context, pair string, from, to time.Time, iv Interval) ([]models.Candle, error)
	GetLatestNCandles(ctx context.Context, pair string, n int, iv Interval, asOf time.Time) ([]models.Candle, error)
}
