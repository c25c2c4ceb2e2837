package kafka_config

import (
	"strings"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Brokers) != 1 || cfg.Brokers[0] != DefaultKafkaBrokers {
		t.Errorf("brokers = %v", cfg.Brokers)
	}
	if cfg.Topics.BookingEvents != DefaultBookingEventsTopic || cfg.Topics.BookingEventsDLQ != DefaultBookingEventsDLQTopic {
		t.Errorf("topics = %+v", cfg.Topics)
	}
	if cfg.Consumer.StartOffset != -2 {
		t.Errorf("start offset = %d", cfg.Consumer.StartOffset)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv(EnvKafkaBrokers, " k1:9092, ,k2:9092 ")
	t.Setenv(EnvKafkaBookingEventsTopic, "bookings.v1")
	t.Setenv(EnvKafkaBookingEventsDLQTopic, "")
	t.Setenv(EnvKafkaProducerCompression, "zstd")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(cfg.Brokers, ",") != "k1:9092,k2:9092" {
		t.Errorf("brokers = %v", cfg.Brokers)
	}
	if cfg.Topics.BookingEvents != "bookings.v1" {
		t.Errorf("topic = %q", cfg.Topics.BookingEvents)
	}
	// An empty variable falls back to the default rather than disabling the DLQ.
	if cfg.Topics.BookingEventsDLQ != DefaultBookingEventsDLQTopic {
		t.Errorf("dlq = %q", cfg.Topics.BookingEventsDLQ)
	}
	if cfg.Producer.Compression != "zstd" {
		t.Errorf("compression = %q", cfg.Producer.Compression)
	}
}

func TestLoad_ReportsEveryProblem(t *testing.T) {
	t.Setenv(EnvKafkaProducerMaxAttempts, "three")
	t.Setenv(EnvKafkaProducerCompression, "brotli")
	t.Setenv(EnvKafkaConsumerMaxWait, "-1s")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{
		EnvKafkaProducerMaxAttempts + `="three" is not a valid integer`,
		`got "brotli"`,
		"consumer max wait must be positive",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestValidate_DLQMustDiffer(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.Topics.BookingEventsDLQ = cfg.Topics.BookingEvents
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when DLQ equals the main topic")
	}
}
