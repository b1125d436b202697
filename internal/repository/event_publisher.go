package repository

import (
	"context"

	"FinSignal/internal/domain/models"
	domrepo "FinSignal/internal/domain/repository"
	pkgkafka "FinSignal/pkg/kafka"
)

// KafkaEventPublisher writes snapshot events keyed by snapshot identity so
// one snapshot's events stay ordered on a partition.
type KafkaEventPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaEventPublisher(producer *pkgkafka.Producer, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

var _ domrepo.EventPublisher = (*KafkaEventPublisher)(nil)

func (p *KafkaEventPublisher) PublishSnapshotEvent(ctx context.Context, ev models.SnapshotEvent) error {
	return p.producer.Publish(ctx, p.topic, []byte(ev.Key), ev)
}

func (p *KafkaEventPublisher) Close() error {
	return p.producer.Close()
}

// NopEventPublisher drops events; used when Kafka is disabled.
type NopEventPublisher struct{}

func (NopEventPublisher) PublishSnapshotEvent(context.Context, models.SnapshotEvent) error {
	return nil
}

func (NopEventPublisher) Close() error { return nil }
