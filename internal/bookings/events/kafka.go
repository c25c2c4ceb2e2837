package events

import (
	"context"
	"fmt"

	"slotkeeper/pkg/kafka"
)

// messageProducer is the part of *kafka.Producer used here.
type messageProducer interface {
	Publish(ctx context.Context, msg kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	producer messageProducer
}

func NewKafkaPublisher(producer messageProducer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	msg, err := ToKafkaMessage(event)
	if err != nil {
		return err
	}
	return p.producer.Publish(ctx, msg)
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

func ToKafkaMessage(event Event) (kafka.Message, error) {
	msg, err := kafka.NewMessage().
		WithKey(event.Key()).
		WithValue(event).
		WithEventID(event.ID).
		WithEventType(event.Type).
		WithSchemaVersion(SchemaVersion).
		WithSource(Source).
		WithTimestamp(event.OccurredAt).
		Build()
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to build %s message: %w", event.Type, err)
	}
	return msg, nil
}

// FromKafkaMessage decodes an event published by KafkaPublisher.
func FromKafkaMessage(msg kafka.Message) (Event, error) {
	var event Event
	if err := msg.DecodeValue(&event); err != nil {
		return Event{}, fmt.Errorf("failed to decode event %s: %w", msg.GetEventID(), err)
	}
	return event, nil
}
