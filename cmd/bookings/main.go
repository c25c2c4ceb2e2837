package main

import (
	"context"
	"flag"
	"time"

	"slotkeeper/internal/bookings/events"
	"slotkeeper/internal/bookings/handler"
	"slotkeeper/internal/bookings/repository"
	"slotkeeper/internal/bookings/service"
	"slotkeeper/pkg/app"
	"slotkeeper/pkg/auth"
	"slotkeeper/pkg/clock"
	"slotkeeper/pkg/config"
	"slotkeeper/pkg/kafka"
	kafka_config "slotkeeper/pkg/kafka/config"
	kafka_middleware "slotkeeper/pkg/kafka/middleware"
	"slotkeeper/pkg/middleware"
	"slotkeeper/pkg/model"
)

const ServiceName = "bookings"

func main() {
	var seeds model.ResourceFlags
	flag.Var(&seeds, "seed-resource", "resource to create at startup as id:name:owner (repeatable)")
	flag.Parse()

	cfg := config.Load(ServiceName)
	cfg.ConnectStore()
	cfg.ConnectRedis()

	cfg.Log.Info("Starting Bookings service", "store", cfg.StoreDriver, "events", cfg.EventsDriver)

	store, err := repository.Open(cfg)
	if err != nil {
		cfg.Log.Fatal("Failed to open booking store", "error", err)
	}
	seedResources(store, seeds, cfg)
	publisher := initPublisher(cfg)
	bookingService := service.NewBookingService(
		store,
		publisher,
		clock.System{},
		cfg.Log.Component("booking-service"),
		service.Options{
			MinDuration:    cfg.MinBookingDuration,
			PublishTimeout: cfg.PublishTimeout,
		},
	)

	serverApp := app.NewApplication(cfg)
	serverApp.OnShutdown(func() {
		if err := publisher.Close(); err != nil {
			cfg.Log.Error("Failed to close event publisher", "error", err)
		}
	})
	serverApp.SetApp(
		handler.NewBookingHandler(bookingService, cfg.Log),
		handler.NewHealthHandler(store, cfg.Log),
		auth.NewVerifier(cfg.JWTSecret, cfg.JWTTTL, clock.System{}),
		initIdempotencyStore(cfg),
	)
	serverApp.Run()
}

func initPublisher(cfg *config.Config) events.Publisher {
	switch cfg.EventsDriver {
	case config.EventsKafka:
		kafkaCfg, err := kafka_config.Load()
		if err != nil {
			cfg.Log.Fatal("Invalid Kafka configuration", "error", err)
		}
		kafkaCfg.LogConfiguration(cfg.Log)

		producer, err := kafka.NewProducer(kafkaCfg, kafkaCfg.Topics.BookingEvents, kafkaCfg.Topics.BookingEventsDLQ, cfg.Log)
		if err != nil {
			cfg.Log.Fatal("Failed to create Kafka producer", "error", err)
		}
		if kafkaCfg.EnableMiddleware {
			producer.Use(kafka_middleware.LoggingProducerMiddleware(cfg.Log))
		}
		return events.NewKafkaPublisher(producer)

	case config.EventsRabbitMQ:
		publisher, err := events.NewRabbitMQPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange)
		if err != nil {
			cfg.Log.Fatal("Failed to connect to RabbitMQ", "error", err)
		}
		cfg.Log.Info("Publishing booking events to RabbitMQ", "exchange", cfg.RabbitMQExchange)
		return publisher

	default:
		return events.Nop()
	}
}

func initIdempotencyStore(cfg *config.Config) middleware.IdempotencyStore {
	if cfg.Client.Redis != nil {
		cfg.Log.Info("Idempotency keys stored in Redis", "ttl", cfg.IdempotencyTTL)
		return middleware.NewRedisIdempotencyStore(cfg.Client.Redis, cfg.IdempotencyTTL)
	}
	return middleware.NewInMemoryIdempotencyStore(cfg.IdempotencyTTL)
}

// seedResources is mostly useful with the memory store, which starts empty.
func seedResources(store repository.ResourceRepository, flags model.ResourceFlags, cfg *config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, raw := range flags {
		resource, err := model.ParseResourceFlag(raw, time.Now())
		if err != nil {
			cfg.Log.Fatal("Invalid -seed-resource", "error", err)
		}
		if err := store.CreateResource(ctx, resource); err != nil {
			cfg.Log.Warn("Resource not seeded", "resource_id", resource.ID, "error", err)
			continue
		}
		cfg.Log.Info("Resource seeded", "resource_id", resource.ID)
	}
}
