package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	domrepo "FinSignal/internal/domain/repository"
	pkghttp "FinSignal/pkg/http"
)

// KlinePriceSource resolves historical closes from the public klines endpoint.
// It backs up the stored-candle source for instants before the feed started.
type KlinePriceSource struct {
	client  *pkghttp.Client
	baseURL string
	feed    domrepo.Interval
}

func NewKlinePriceSource(client *pkghttp.Client, baseURL string, feed domrepo.Interval) *KlinePriceSource {
	if !domrepo.IsValidInterval(feed) {
		feed = domrepo.Interval1m
	}
	return &KlinePriceSource{client: client, baseURL: strings.TrimRight(baseURL, "/"), feed: feed}
}

var _ domrepo.PriceSource = (*KlinePriceSource)(nil)

// PriceAt returns the close of the last feed kline that closed at or before tsMs.
func (s *KlinePriceSource) PriceAt(ctx context.Context, pair string, tsMs int64, _ string) (float64, bool, error) {
	var rows [][]json.RawMessage
	err := s.client.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method: http.MethodGet,
		URL:    s.baseURL + "/api/v3/klines",
		QueryParams: map[string][]string{
			"symbol":   {strings.ToUpper(pair)},
			"interval": {string(s.feed)},
			"endTime":  {strconv.FormatInt(tsMs, 10)},
			"limit":    {"2"},
		},
	}, &rows)
	if pkghttp.IsStatus(err, http.StatusBadRequest) {
		// unknown symbol
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("binance klines %s: %w", pair, err)
	}

	for i := len(rows) - 1; i >= 0; i-- {
		closeTime, price, err := parseKlineRow(rows[i])
		if err != nil {
			return 0, false, fmt.Errorf("binance klines %s: %w", pair, err)
		}
		if closeTime <= tsMs && price > 0 {
			return price, true, nil
		}
	}
	return 0, false, nil
}

// parseKlineRow reads close time (index 6) and close price (index 4).
func parseKlineRow(row []json.RawMessage) (int64, float64, error) {
	if len(row) < 7 {
		return 0, 0, fmt.Errorf("short kline row (%d fields)", len(row))
	}
	var closeStr string
	if err := json.Unmarshal(row[4], &closeStr); err != nil {
		return 0, 0, fmt.Errorf("close price: %w", err)
	}
	price, err := strconv.ParseFloat(closeStr, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("close price: %w", err)
	}
	var closeTime int64
	if err := json.Unmarshal(row[6], &closeTime); err != nil {
		return 0, 0, fmt.Errorf("close time: %w", err)
	}
	// close time is the last millisecond of the bar
	return closeTime + 1, price, nil
}

// FeedDuration is the kline resolution queried.
func (s *KlinePriceSource) FeedDuration() time.Duration { return s.feed.Duration() }
