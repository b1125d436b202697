package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"FinSignal/internal/domain/models"
)

func TestRecorder(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.RecordSignal("BTC", models.ActionBuy)
	r.RecordSignal("BTC", models.ActionBuy)
	r.RecordLabelOutcome("BTC", models.OutcomeSkipped, models.ReasonPriceUnavailable)
	r.RecordBacktest("BTC", 12, 0.75)
	r.RecordModelTrained("ETH", 40, 0.9)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.signals.WithLabelValues("BTC", "BUY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.labelOutcomes.WithLabelValues("BTC", "skipped", models.ReasonPriceUnavailable)))
	assert.Equal(t, 0.75, testutil.ToFloat64(r.backtestWin.WithLabelValues("BTC")))
	assert.Equal(t, 40.0, testutil.ToFloat64(r.modelSamples.WithLabelValues("ETH")))
}
