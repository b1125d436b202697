package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"FinSignal/internal/domain/models"
	domrepo "FinSignal/internal/domain/repository"
	pkgch "FinSignal/pkg/clickhouse"
	applogger "FinSignal/pkg/logger"
)

const candlesTable = "price_candles"

// CandleSchema is the ClickHouse DDL for streamed candles.
var CandleSchema = []string{
	`CREATE TABLE IF NOT EXISTS price_candles (
    pair          LowCardinality(String),
    feed_interval LowCardinality(String),
    bucket        DateTime64(3, 'UTC'),
    open          Float64,
    high          Float64,
    low           Float64,
    close         Float64,
    volume        Float64,
    source        LowCardinality(String),
    inserted_at   DateTime64(3, 'UTC') DEFAULT now64(3)
) ENGINE = ReplacingMergeTree(inserted_at)
ORDER BY (pair, feed_interval, bucket)`,
}

// CHCandleStore persists feed candles and serves them re-aggregated to
// coarser intervals.
type CHCandleStore struct {
	ch   *pkgch.Client
	db   *sql.DB
	feed domrepo.Interval
	l    *applogger.Logger
}

// NewCHCandleStore stores candles at the feed interval (normally 1m).
func NewCHCandleStore(ch *pkgch.Client, feed domrepo.Interval) *CHCandleStore {
	if !domrepo.IsValidInterval(feed) {
		feed = domrepo.Interval1m
	}
	return &CHCandleStore{ch: ch, db: ch.DB(), feed: feed}
}

var (
	_ domrepo.CandleStorage = (*CHCandleStore)(nil)
	_ domrepo.CandleStore   = (*CHCandleStore)(nil)
)

// SetLogger injects a structured logger.
func (s *CHCandleStore) SetLogger(l *applogger.Logger) { s.l = l }

// FeedInterval is the resolution candles are stored at.
func (s *CHCandleStore) FeedInterval() domrepo.Interval { return s.feed }

func (s *CHCandleStore) Init(ctx context.Context) error {
	return s.ch.InitSchema(ctx, CandleSchema)
}

func (s *CHCandleStore) Health(ctx context.Context) error {
	return s.ch.Health(ctx)
}

func (s *CHCandleStore) Close() error {
	return nil // pool owned by pkg/clickhouse
}

// StoreBatch inserts candles with multi-row VALUES, chunked.
func (s *CHCandleStore) StoreBatch(ctx context.Context, candles []*models.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	const chunkSize = 2000
	for start := 0; start < len(candles); start += chunkSize {
		end := start + chunkSize
		if end > len(candles) {
			end = len(candles)
		}
		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*9)
		for _, c := range candles[start:end] {
			if c == nil || c.Pair == "" || c.Bucket.IsZero() {
				continue
			}
			iv := c.Interval
			if iv == "" {
				iv = string(s.feed)
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args, c.Pair, iv, c.Bucket.UTC(), c.Open, c.High, c.Low, c.Close, c.Volume, c.Source)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (pair, feed_interval, bucket, open, high, low, close, volume, source) VALUES %s",
			candlesTable, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			if s.l != nil {
				s.l.Error("clickhouse store candles error", applogger.Int("rows", len(values)), applogger.Error(err))
			}
			return fmt.Errorf("store candles: %w", err)
		}
	}
	return nil
}

const aggregateTpl = `
        SELECT toStartOfInterval(bucket, INTERVAL %d SECOND) AS b,
               argMin(open, bucket), max(high), min(low), argMax(close, bucket), sum(volume)
        FROM %s FINAL
        WHERE pair = ? AND feed_interval = ? AND bucket >= ? AND bucket <= ?
        GROUP BY b
        ORDER BY b %s
        %s
    `

// GetCandles returns candles in [from, to] aggregated to iv, oldest first.
func (s *CHCandleStore) GetCandles(ctx context.Context, pair string, from, to time.Time, iv domrepo.Interval) ([]models.Candle, error) {
	secs, err := s.bucketSeconds(iv)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(aggregateTpl, secs, candlesTable, "ASC", "")
	return s.query(ctx, q, pair, iv, from.UTC(), to.UTC())
}

// GetLatestNCandles returns the n most recent complete iv candles closed by
// asOf, oldest first.
func (s *CHCandleStore) GetLatestNCandles(ctx context.Context, pair string, n int, iv domrepo.Interval, asOf time.Time) ([]models.Candle, error) {
	if n <= 0 {
		return nil, nil
	}
	secs, err := s.bucketSeconds(iv)
	if err != nil {
		return nil, err
	}
	// only buckets whose iv window has fully closed by asOf; from is aligned
	// so the oldest bucket is never partial
	open := iv.Bucket(asOf)
	end := open.Add(-s.feed.Duration())
	from := open.Add(-time.Duration(n) * iv.Duration())
	q := fmt.Sprintf(aggregateTpl, secs, candlesTable, "DESC", fmt.Sprintf("LIMIT %d", n))
	out, err := s.query(ctx, q, pair, iv, from, end)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *CHCandleStore) bucketSeconds(iv domrepo.Interval) (int64, error) {
	if !domrepo.IsValidInterval(iv) {
		return 0, fmt.Errorf("unsupported interval %q: %w", iv, models.ErrInvalidConfiguration)
	}
	if iv.Duration() < s.feed.Duration() {
		return 0, fmt.Errorf("interval %s finer than feed %s: %w", iv, s.feed, models.ErrInvalidConfiguration)
	}
	return int64(iv.Duration() / time.Second), nil
}

func (s *CHCandleStore) query(ctx context.Context, q, pair string, iv domrepo.Interval, from, to time.Time) ([]models.Candle, error) {
	rows, err := s.db.QueryContext(ctx, q, pair, string(s.feed), from, to)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse get_candles query error",
				applogger.String("pair", pair),
				applogger.String("interval", string(iv)),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("get candles: %w", err)
	}
	defer rows.Close()

	out := make([]models.Candle, 0, 256)
	for rows.Next() {
		c := models.Candle{Pair: pair, Interval: string(iv), Source: candlesTable}
		if err := rows.Scan(&c.Bucket, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Bucket = c.Bucket.UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// lastClose returns the newest feed candle whose close time is at or before ts.
func (s *CHCandleStore) lastClose(ctx context.Context, pair string, ts time.Time) (time.Time, float64, bool, error) {
	q := fmt.Sprintf(`SELECT bucket, close FROM %s FINAL
        WHERE pair = ? AND feed_interval = ? AND bucket <= ?
        ORDER BY bucket DESC
        LIMIT 1`, candlesTable)
	var (
		bucket time.Time
		closeP float64
	)
	err := s.db.QueryRowContext(ctx, q, pair, string(s.feed), ts.Add(-s.feed.Duration()).UTC()).Scan(&bucket, &closeP)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, 0, false, nil
	}
	if err != nil {
		return time.Time{}, 0, false, fmt.Errorf("last close: %w", err)
	}
	return bucket.UTC(), closeP, true, nil
}
