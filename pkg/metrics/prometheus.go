package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"FinSignal/internal/domain/models"
	"FinSignal/internal/domain/repository"
)

var _ repository.Metrics = (*Recorder)(nil)

// Recorder implements repository.Metrics using Prometheus.
type Recorder struct {
	signals        *prometheus.CounterVec
	labelOutcomes  *prometheus.CounterVec
	backtestTrades *prometheus.GaugeVec
	backtestWin    *prometheus.GaugeVec
	modelSamples   *prometheus.GaugeVec
	modelAccuracy  *prometheus.GaugeVec
	candlesStored  *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	lastPrice      *prometheus.GaugeVec
	latency        *prometheus.HistogramVec
}

// New registers the collectors on reg, or the default registry when reg is nil.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "finsignal_signals_total",
			Help: "Rule signals generated, by action",
		}, []string{"symbol", "action"}),
		labelOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "finsignal_label_outcomes_total",
			Help: "Labeling outcomes by status and reason",
		}, []string{"symbol", "status", "reason"}),
		backtestTrades: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "finsignal_backtest_trades",
			Help: "Trades in the last backtest run",
		}, []string{"symbol"}),
		backtestWin: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "finsignal_backtest_win_rate",
			Help: "Win rate of the last backtest run",
		}, []string{"symbol"}),
		modelSamples: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "finsignal_model_samples",
			Help: "Samples used by the current model",
		}, []string{"symbol"}),
		modelAccuracy: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "finsignal_model_training_accuracy",
			Help: "In-sample accuracy of the current model",
		}, []string{"symbol"}),
		candlesStored: f.NewCounterVec(prometheus.CounterOpts{
			Name: "finsignal_candles_stored_total",
			Help: "Closed candles written to storage",
		}, []string{"pair"}),
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "finsignal_errors_total",
			Help: "Errors by kind",
		}, []string{"type"}),
		lastPrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "finsignal_last_price",
			Help: "Last streamed close per pair",
		}, []string{"symbol"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "finsignal_operation_duration_seconds",
			Help:    "Duration of operations in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

func (r *Recorder) RecordSignal(symbol string, action models.Action) {
	r.signals.WithLabelValues(symbol, string(action)).Inc()
}

func (r *Recorder) RecordLabelOutcome(symbol string, status models.OutcomeStatus, reason string) {
	r.labelOutcomes.WithLabelValues(symbol, string(status), reason).Inc()
}

func (r *Recorder) RecordBacktest(symbol string, trades int, winRate float64) {
	r.backtestTrades.WithLabelValues(symbol).Set(float64(trades))
	r.backtestWin.WithLabelValues(symbol).Set(winRate)
}

func (r *Recorder) RecordModelTrained(symbol string, samples int, accuracy float64) {
	r.modelSamples.WithLabelValues(symbol).Set(float64(samples))
	r.modelAccuracy.WithLabelValues(symbol).Set(accuracy)
}

func (r *Recorder) RecordCandleStored(pair string) {
	r.candlesStored.WithLabelValues(pair).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards everything.
type Nop struct{}

var _ repository.Metrics = Nop{}

func (Nop) RecordSignal(string, models.Action) {}

func (Nop) RecordLabelOutcome(string, models.OutcomeStatus, string) {}

func (Nop) RecordBacktest(string, int, float64) {}

func (Nop) RecordModelTrained(string, int, float64) {}

func (Nop) RecordCandleStored(string) {}

func (Nop) RecordError(string) {}

func (Nop) RecordLastPrice(string, float64) {}

func (Nop) RecordLatency(string, float64) {}
