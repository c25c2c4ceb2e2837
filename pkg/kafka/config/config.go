package kafka_config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"slotkeeper/pkg/logger"
)

type Topics struct {
	BookingEvents string
	// BookingEventsDLQ receives messages that exhausted their retries.
	// Empty disables the dead letter queue.
	BookingEventsDLQ string
}

type ProducerConfig struct {
	MaxAttempts  int
	BatchTimeout time.Duration
	RequireAcks  int    // -1 all, 0 none, 1 leader
	Compression  string // none, gzip, snappy, lz4, zstd
	Async        bool
}

type ConsumerConfig struct {
	StartOffset       int64 // -1 newest, -2 oldest
	MinBytes          int
	MaxBytes          int
	MaxWait           time.Duration
	CommitInterval    time.Duration
	HeartbeatInterval time.Duration
	SessionTimeout    time.Duration
	RebalanceTimeout  time.Duration
	MaxRetries        int
}

type Config struct {
	Brokers          []string
	Topics           Topics
	AuditGroupID     string
	Producer         ProducerConfig
	Consumer         ConsumerConfig
	EnableMiddleware bool
}

// Load reads KAFKA_* variables. Unparseable values are reported together with
// the validation problems instead of silently falling back to defaults.
func Load() (*Config, error) {
	env := &envReader{lookup: os.LookupEnv}

	cfg := &Config{
		Brokers: splitBrokers(env.str(EnvKafkaBrokers, DefaultKafkaBrokers)),
		Topics: Topics{
			BookingEvents:    env.str(EnvKafkaBookingEventsTopic, DefaultBookingEventsTopic),
			BookingEventsDLQ: env.str(EnvKafkaBookingEventsDLQTopic, DefaultBookingEventsDLQTopic),
		},
		AuditGroupID: env.str(EnvKafkaAuditGroupID, DefaultAuditGroupID),
		Producer: ProducerConfig{
			MaxAttempts:  env.int(EnvKafkaProducerMaxAttempts, DefaultProducerMaxAttempts),
			BatchTimeout: env.duration(EnvKafkaProducerBatchTimeout, DefaultProducerBatchTimeout),
			RequireAcks:  env.int(EnvKafkaProducerRequireAcks, DefaultProducerRequireAcks),
			Compression:  env.str(EnvKafkaProducerCompression, DefaultProducerCompression),
			Async:        env.bool(EnvKafkaProducerAsync, DefaultProducerAsync),
		},
		Consumer: ConsumerConfig{
			StartOffset:       int64(env.int(EnvKafkaConsumerStartOffset, DefaultConsumerStartOffset)),
			MinBytes:          env.int(EnvKafkaConsumerMinBytes, DefaultConsumerMinBytes),
			MaxBytes:          env.int(EnvKafkaConsumerMaxBytes, DefaultConsumerMaxBytes),
			MaxWait:           env.duration(EnvKafkaConsumerMaxWait, DefaultConsumerMaxWait),
			CommitInterval:    env.duration(EnvKafkaConsumerCommitInterval, DefaultConsumerCommitInterval),
			HeartbeatInterval: env.duration(EnvKafkaConsumerHeartbeatInterval, DefaultConsumerHeartbeatInterval),
			SessionTimeout:    env.duration(EnvKafkaConsumerSessionTimeout, DefaultConsumerSessionTimeout),
			RebalanceTimeout:  env.duration(EnvKafkaConsumerRebalanceTimeout, DefaultConsumerRebalanceTimeout),
			MaxRetries:        env.int(EnvKafkaConsumerMaxRetries, DefaultConsumerMaxRetries),
		},
		EnableMiddleware: env.bool(EnvKafkaEnableMiddleware, DefaultEnableMiddleware),
	}

	problems := append(env.problems, cfg.problems()...)
	if len(problems) > 0 {
		return nil, validationError(problems)
	}
	return cfg, nil
}

func (cfg *Config) Validate() error {
	if problems := cfg.problems(); len(problems) > 0 {
		return validationError(problems)
	}
	return nil
}

var (
	validCompressions = map[string]bool{"none": true, "gzip": true, "snappy": true, "lz4": true, "zstd": true}
	validAcks         = map[int]bool{-1: true, 0: true, 1: true}
)

func (cfg *Config) problems() []string {
	var out []string
	add := func(format string, args ...any) { out = append(out, fmt.Sprintf(format, args...)) }

	if len(cfg.Brokers) == 0 {
		add("at least one Kafka broker is required")
	}
	if cfg.Topics.BookingEvents == "" {
		add("booking events topic cannot be empty")
	}
	if cfg.Topics.BookingEventsDLQ != "" && cfg.Topics.BookingEventsDLQ == cfg.Topics.BookingEvents {
		add("dead letter topic must differ from %q", cfg.Topics.BookingEvents)
	}

	p := cfg.Producer
	if p.MaxAttempts <= 0 {
		add("producer max attempts must be positive, got %d", p.MaxAttempts)
	}
	if p.BatchTimeout <= 0 {
		add("producer batch timeout must be positive, got %s", p.BatchTimeout)
	}
	if !validCompressions[p.Compression] {
		add("producer compression must be one of none, gzip, snappy, lz4, zstd; got %q", p.Compression)
	}
	if !validAcks[p.RequireAcks] {
		add("producer required acks must be -1, 0 or 1, got %d", p.RequireAcks)
	}

	c := cfg.Consumer
	if c.StartOffset != -1 && c.StartOffset != -2 {
		add("consumer start offset must be -1 (newest) or -2 (oldest), got %d", c.StartOffset)
	}
	if c.MinBytes <= 0 || c.MaxBytes < c.MinBytes {
		add("consumer min/max bytes invalid: %d/%d", c.MinBytes, c.MaxBytes)
	}
	for name, d := range map[string]time.Duration{
		"max wait":           c.MaxWait,
		"commit interval":    c.CommitInterval,
		"heartbeat interval": c.HeartbeatInterval,
		"session timeout":    c.SessionTimeout,
		"rebalance timeout":  c.RebalanceTimeout,
	} {
		if d <= 0 {
			add("consumer %s must be positive, got %s", name, d)
		}
	}
	if c.MaxRetries < 0 {
		add("consumer max retries cannot be negative, got %d", c.MaxRetries)
	}
	return out
}

func validationError(problems []string) error {
	var b strings.Builder
	b.WriteString("kafka configuration invalid:")
	for i, p := range problems {
		fmt.Fprintf(&b, "\n  %d. %s", i+1, p)
	}
	return fmt.Errorf("%s", b.String())
}

func (cfg *Config) LogConfiguration(log *logger.Logger) {
	log.Info("Kafka configuration loaded",
		"brokers", cfg.Brokers,
		"booking_events_topic", cfg.Topics.BookingEvents,
		"booking_events_dlq_topic", cfg.Topics.BookingEventsDLQ,
		"audit_group_id", cfg.AuditGroupID,
		"producer_max_attempts", cfg.Producer.MaxAttempts,
		"producer_require_acks", cfg.Producer.RequireAcks,
		"producer_compression", cfg.Producer.Compression,
		"producer_async", cfg.Producer.Async,
		"consumer_start_offset", cfg.Consumer.StartOffset,
		"consumer_max_retries", cfg.Consumer.MaxRetries,
		"enable_middleware", cfg.EnableMiddleware,
	)
}

func splitBrokers(raw string) []string {
	var brokers []string
	for _, broker := range strings.Split(raw, ",") {
		if b := strings.TrimSpace(broker); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// envReader records every variable it could not parse.
type envReader struct {
	lookup   func(string) (string, bool)
	problems []string
}

func (e *envReader) raw(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) fail(key, value, kind string) {
	e.problems = append(e.problems, fmt.Sprintf("%s=%q is not a valid %s", key, value, kind))
}

func (e *envReader) str(key, fallback string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return fallback
}

func (e *envReader) int(key string, fallback int) int {
	v, ok := e.raw(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, "integer")
		return fallback
	}
	return n
}

func (e *envReader) bool(key string, fallback bool) bool {
	v, ok := e.raw(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, "boolean")
		return fallback
	}
	return b
}

func (e *envReader) duration(key string, fallback time.Duration) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, "duration")
		return fallback
	}
	return d
}
