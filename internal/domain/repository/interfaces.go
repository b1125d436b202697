package repository

import (
	"context"
	"time"

	"FinSignal/internal/domain/models"
)

// FeatureSource supplies a feature map for a symbol, as of now or a historical instant.
type FeatureSource interface {
	Build(ctx context.Context, symbol, pair, interval string, asOf *time.Time) (models.FeatureMap, error)
}

// PriceSource returns the best-known close at or before tsMs. ok=false means genuinely unavailable.
type PriceSource interface {
	PriceAt(ctx context.Context, pair string, tsMs int64, interval string) (price float64, ok bool, err error)
}

// SnapshotRepository persists signal snapshots keyed by (symbol, interval, generated_at).
type SnapshotRepository interface {
	FindEligibleForLabeling(ctx context.Context, symbol string, cutoff time.Time, force bool, limit int) ([]*models.SignalSnapshot, error)
	Save(ctx context.Context, s *models.SignalSnapshot) error
	// Update writes only the named mutable fields; a field set that splits
	// price_future from label_direction is rejected.
	Update(ctx context.Context, s *models.SignalSnapshot, fields ...string) error
	QueryRange(ctx context.Context, symbol string, start, end time.Time, onlyLabeled bool) ([]*models.SignalSnapshot, error)
}

// ModelStore keeps one trained model per symbol.
type ModelStore interface {
	Save(ctx context.Context, m *models.TrainedModel) error
	Load(ctx context.Context, symbol string) (*models.TrainedModel, error)
}

// ClaimLocker grants exclusive per-key claims to labeling workers.
type ClaimLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// EventPublisher emits snapshot lifecycle events.
type EventPublisher interface {
	PublishSnapshotEvent(ctx context.Context, ev models.SnapshotEvent) error
	Close() error
}

// CandleStorage persists streamed candles used by the price source.
type CandleStorage interface {
	Init(ctx context.Context) error
	StoreBatch(ctx context.Context, candles []*models.Candle) error
	Health(ctx context.Context) error
	Close() error
}

// MarketStream yields closed candles from an exchange stream.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Candle, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

type Metrics interface {
	RecordSignal(symbol string, action models.Action)
	RecordLabelOutcome(symbol string, status models.OutcomeStatus, reason string)
	RecordBacktest(symbol string, trades int, winRate float64)
	RecordModelTrained(symbol string, samples int, accuracy float64)
	RecordCandleStored(pair string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
}
