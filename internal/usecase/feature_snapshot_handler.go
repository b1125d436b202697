package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"FinSignal/internal/domain/models"
	drepo "FinSignal/internal/domain/repository"
	pkgkafka "FinSignal/pkg/kafka"
)

// FeatureSnapshotHandler records feature maps collected by an external
// producer and delivered over Kafka.
type FeatureSnapshotHandler struct {
	topic     string
	collector *SnapshotCollector
	metrics   drepo.Metrics
	now       func() time.Time
}

func NewFeatureSnapshotHandler(topic string, collector *SnapshotCollector, metrics drepo.Metrics) *FeatureSnapshotHandler {
	return &FeatureSnapshotHandler{topic: topic, collector: collector, metrics: metrics, now: time.Now}
}

func (h *FeatureSnapshotHandler) Topic() string { return h.topic }

// Handle decodes one message. Malformed payloads and unknown symbols are
// rejected without retry.
func (h *FeatureSnapshotHandler) Handle(ctx context.Context, b []byte) error {
	var m models.FeatureSnapshotMessage
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return &pkgkafka.HookError{Code: "ERR_DECODE", Err: err}
	}
	if len(m.Features) == 0 {
		return &pkgkafka.HookError{Code: "ERR_VALIDATION", Err: fmt.Errorf("symbol %q: empty features", m.Symbol)}
	}

	sym, err := h.collector.tracked(m.Symbol)
	if err != nil {
		return &pkgkafka.HookError{Code: "ERR_VALIDATION", Err: err}
	}
	if m.Pair != "" {
		sym.Pair = m.Pair
	}
	if m.Interval != "" {
		sym.Interval = m.Interval
	}
	if _, ok := m.Features.GeneratedAt(); !ok && !m.GeneratedAt.IsZero() {
		m.Features[models.FieldGeneratedAt] = m.GeneratedAt.UTC().Format(time.RFC3339Nano)
	}

	now := h.now()
	if at, ok := m.Features.GeneratedAt(); ok {
		h.metrics.RecordLatency("feature_ingest_lag", now.Sub(at).Seconds())
	}
	_, err = h.collector.CollectFromFeatures(ctx, sym, m.Features, now)
	if errors.Is(err, models.ErrInvalidConfiguration) {
		return &pkgkafka.HookError{Code: "ERR_VALIDATION", Err: err}
	}
	return err
}

var _ pkgkafka.MessageHandler = (*FeatureSnapshotHandler)(nil)
