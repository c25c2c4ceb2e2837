// Command booking-audit tails booking lifecycle events and writes one
// structured log line per event.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"slotkeeper/internal/bookings/events"
	"slotkeeper/pkg/config"
	"slotkeeper/pkg/kafka"
	kafka_config "slotkeeper/pkg/kafka/config"
	kafka_middleware "slotkeeper/pkg/kafka/middleware"
	"slotkeeper/pkg/logger"
)

const ServiceName = "booking-audit"

const rabbitMQQueue = "booking-audit"

func main() {
	cfg := config.Load(ServiceName)
	log := cfg.Log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cfg.EventsDriver {
	case config.EventsKafka:
		err = consumeKafka(ctx, log)
	case config.EventsRabbitMQ:
		log.Info("Consuming booking events from RabbitMQ", "exchange", cfg.RabbitMQExchange, "queue", rabbitMQQueue)
		err = events.ConsumeRabbitMQ(ctx, cfg.RabbitMQURL, cfg.RabbitMQExchange, rabbitMQQueue, auditHandler(log), log)
	default:
		log.Fatal("booking-audit needs EVENTS_DRIVER set to kafka or rabbitmq", "events_driver", cfg.EventsDriver)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("Audit consumer stopped", "error", err)
	}
	log.Info("Audit consumer stopped")
}

func consumeKafka(ctx context.Context, log *logger.Logger) error {
	kafkaCfg, err := kafka_config.Load()
	if err != nil {
		return err
	}
	kafkaCfg.LogConfiguration(log)

	handle := auditHandler(log)
	consumer, err := kafka.NewConsumer(
		kafkaCfg,
		kafkaCfg.Topics.BookingEvents,
		kafkaCfg.AuditGroupID,
		kafkaCfg.Topics.BookingEventsDLQ,
		func(ctx context.Context, msg kafka.Message) error {
			event, err := events.FromKafkaMessage(msg)
			if err != nil {
				return kafka.NewPermanentError("undecodable booking event", err)
			}
			return handle(ctx, event)
		},
		log,
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := consumer.Close(); err != nil {
			log.Error("Failed to close Kafka consumer", "error", err)
		}
	}()

	if kafkaCfg.EnableMiddleware {
		consumer.Use(kafka_middleware.LoggingConsumerMiddleware(log))
	}
	return consumer.Start(ctx)
}

func auditHandler(log *logger.Logger) func(context.Context, events.Event) error {
	audit := log.Component("audit")
	return func(_ context.Context, event events.Event) error {
		if event.Booking == nil {
			audit.Warn("Booking event without payload", "event_id", event.ID, "type", event.Type)
			return nil
		}
		audit.Info("Booking event",
			"event_id", event.ID,
			"type", event.Type,
			"occurred_at", event.OccurredAt,
			"actor_id", event.ActorID,
			"booking_id", event.Booking.ID,
			"resource_id", event.Booking.ResourceID,
			"status", event.Booking.Status,
			"start_at", event.Booking.StartAt,
			"end_at", event.Booking.EndAt,
		)
		return nil
	}
}
