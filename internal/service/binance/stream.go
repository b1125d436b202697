package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"FinSignal/internal/domain/models"
	drepo "FinSignal/internal/domain/repository"
	applogger "FinSignal/pkg/logger"
)

const sourceName = "binance"

// KlineStream implements MarketStream over the Binance combined kline stream.
// Only closed klines are emitted.
type KlineStream struct {
	websocketURL   string
	pairs          []string
	interval       string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	l              *applogger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	reqID     int
}

// New creates a kline stream for pairs (e.g. BTCUSDT) at interval (e.g. 1m).
func New(websocketURL string, pairs []string, interval string, reconnectDelay, pingInterval time.Duration, l *applogger.Logger) drepo.MarketStream {
	if l == nil {
		l = applogger.Nop()
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &KlineStream{
		websocketURL:   websocketURL,
		pairs:          pairs,
		interval:       interval,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		l:              l,
	}
}

// Connect establishes the WebSocket connection.
func (c *KlineStream) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.websocketURL, nil)
	if err != nil {
		return fmt.Errorf("binance connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.l.Info("binance: connected", applogger.String("url", c.websocketURL))
	return nil
}

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// Subscribe requests <pair>@kline_<interval> for every configured pair.
func (c *KlineStream) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || !c.connected {
		return fmt.Errorf("binance not connected")
	}
	c.reqID++
	req := subscribeRequest{Method: "SUBSCRIBE", Params: StreamNames(c.pairs, c.interval), ID: c.reqID}
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("subscribe %v: %w", req.Params, err)
	}
	c.l.Info("binance: subscribed", applogger.Strings("streams", req.Params))
	return nil
}

// StreamNames builds the stream identifiers for pairs.
func StreamNames(pairs []string, interval string) []string {
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, fmt.Sprintf("%s@kline_%s", strings.ToLower(p), interval))
	}
	return out
}

// Upper-case keys need their own fields; encoding/json matches names
// case-insensitively.
type klineData struct {
	Start       int64  `json:"t"`
	Close       int64  `json:"T"`
	Symbol      string `json:"s"`
	Interval    string `json:"i"`
	FirstTrade  int64  `json:"f"`
	LastTrade   int64  `json:"L"`
	Open        string `json:"o"`
	CloseP      string `json:"c"`
	High        string `json:"h"`
	Low         string `json:"l"`
	Volume      string `json:"v"`
	Trades      int64  `json:"n"`
	Closed      bool   `json:"x"`
	QuoteVolume string `json:"q"`
	TakerBase   string `json:"V"`
	TakerQuote  string `json:"Q"`
}

type klineEvent struct {
	Event     string    `json:"e"`
	EventTime int64     `json:"E"`
	Symbol    string    `json:"s"`
	Kline     klineData `json:"k"`
}

type combinedMessage struct {
	Stream string     `json:"stream"`
	Data   klineEvent `json:"data"`
}

// ParseKline decodes a combined-stream or raw kline frame. ok=false for
// frames that are not closed klines.
func ParseKline(b []byte) (*models.Candle, bool, error) {
	var m combinedMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, false, err
	}
	ev := m.Data
	if m.Stream == "" {
		if err := json.Unmarshal(b, &ev); err != nil {
			return nil, false, err
		}
	}
	if ev.Event != "kline" || !ev.Kline.Closed {
		return nil, false, nil
	}
	k := ev.Kline
	vals := make([]float64, 5)
	for i, s := range []string{k.Open, k.High, k.Low, k.CloseP, k.Volume} {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, false, fmt.Errorf("kline %s field %d: %w", k.Symbol, i, err)
		}
		vals[i] = v
	}
	return &models.Candle{
		Bucket:   time.UnixMilli(k.Start).UTC(),
		Pair:     strings.ToUpper(k.Symbol),
		Interval: k.Interval,
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
		Source:   sourceName,
	}, true, nil
}

// Read streams closed candles and errors until ctx ends or the socket fails.
func (c *KlineStream) Read(ctx context.Context) (<-chan *models.Candle, <-chan error) {
	candles := make(chan *models.Candle, 1024)
	errs := make(chan error, 1)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	readDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-readDone:
				return
			case <-ticker.C:
				if conn != nil {
					_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				}
			}
		}
	}()

	go func() {
		defer close(readDone)
		defer close(candles)
		defer close(errs)
		if conn == nil {
			errs <- fmt.Errorf("binance conn nil")
			return
		}
		// unblock ReadMessage on cancellation
		stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
		defer stop()

		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				errs <- fmt.Errorf("binance read: %w", err)
				return
			}
			candle, ok, err := ParseKline(b)
			if err != nil {
				c.l.Debug("binance: skip frame", applogger.Error(err))
				continue
			}
			if !ok {
				continue
			}
			select {
			case candles <- candle:
			case <-ctx.Done():
				return
			default:
				c.l.Warn("binance: dropped candle on backpressure", applogger.String("pair", candle.Pair))
			}
		}
	}()

	return candles, errs
}

// Reconnect closes, waits reconnectDelay and subscribes again.
func (c *KlineStream) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-time.After(c.reconnectDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the WS connection.
func (c *KlineStream) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// IsConnected indicates status.
func (c *KlineStream) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
