package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"slotkeeper/pkg/client"
	"slotkeeper/pkg/logger"

	"github.com/joho/godotenv"
)

type Config struct {
	ServiceName string
	Port        string

	StoreDriver string

	MongoURI          string
	MongoDatabaseName string
	MongoConnTimeout  time.Duration

	PostgresDSN        string
	MySQLDSN           string
	SQLMaxOpenConns    int
	SQLMaxIdleConns    int
	SQLConnMaxLifetime time.Duration

	LockTimeout        time.Duration
	MinBookingDuration time.Duration

	JWTSecret string
	JWTTTL    time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	EventsDriver     string
	RabbitMQURL      string
	RabbitMQExchange string
	PublishTimeout   time.Duration

	RateLimitRequests int
	RateLimitWindow   time.Duration

	RequestTimeout time.Duration
	IdempotencyTTL time.Duration
	MaxRequestSize int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	Log    *logger.Logger
	Client *client.Client
}

// Load reads a .env file when present, then the process environment. Invalid
// configuration is fatal.
func Load(serviceName string) *Config {
	_ = godotenv.Load()

	cfg := FromEnv(serviceName)
	cfg.Log = logger.New(logger.Config{
		Level:     getEnvStr(EnvLogLevel, DefaultLogLevel),
		Format:    getEnvStr(EnvLogFormat, DefaultLogFormat),
		AddSource: true,
		Service:   serviceName,
	})
	cfg.Client = client.NewClient()

	if err := cfg.Validate(); err != nil {
		cfg.Log.Fatal(err.Error())
	}
	cfg.LogConfiguration()
	return cfg
}

// FromEnv builds a Config from environment variables without validating it
// or attaching a logger.
func FromEnv(serviceName string) *Config {
	return &Config{
		ServiceName: serviceName,
		Port:        getEnvStr(EnvPort, DefaultPort),

		StoreDriver: getEnvStr(EnvStoreDriver, DefaultStoreDriver),

		MongoURI:          getEnvStr(EnvMongoURI, DefaultMongoURI),
		MongoDatabaseName: getEnvStr(EnvMongoDatabaseName, DefaultMongoDatabaseName),
		MongoConnTimeout:  getEnvDuration(EnvMongoConnTimeout, DefaultMongoConnTimeout),

		PostgresDSN:        os.Getenv(EnvPostgresDSN),
		MySQLDSN:           os.Getenv(EnvMySQLDSN),
		SQLMaxOpenConns:    getEnvNum(EnvSQLMaxOpenConns, DefaultSQLMaxOpenConns),
		SQLMaxIdleConns:    getEnvNum(EnvSQLMaxIdleConns, DefaultSQLMaxIdleConns),
		SQLConnMaxLifetime: getEnvDuration(EnvSQLConnMaxLifetime, DefaultSQLConnMaxLifetime),

		LockTimeout:        getEnvDuration(EnvLockTimeout, DefaultLockTimeout),
		MinBookingDuration: getEnvDuration(EnvMinBookingDuration, DefaultMinBookingDuration),

		JWTSecret: os.Getenv(EnvJWTSecret),
		JWTTTL:    getEnvDuration(EnvJWTTTL, DefaultJWTTTL),

		RedisAddr:     os.Getenv(EnvRedisAddr),
		RedisPassword: os.Getenv(EnvRedisPassword),
		RedisDB:       getEnvNum(EnvRedisDB, DefaultRedisDB),

		EventsDriver:     getEnvStr(EnvEventsDriver, DefaultEventsDriver),
		RabbitMQURL:      getEnvStr(EnvRabbitMQURL, DefaultRabbitMQURL),
		RabbitMQExchange: getEnvStr(EnvRabbitMQExchange, DefaultRabbitMQExchange),
		PublishTimeout:   getEnvDuration(EnvPublishTimeout, DefaultPublishTimeout),

		RateLimitRequests: getEnvNum(EnvRateLimitRequests, DefaultRateLimitRequests),
		RateLimitWindow:   getEnvDuration(EnvRateLimitWindow, DefaultRateLimitWindow),

		RequestTimeout: getEnvDuration(EnvRequestTimeout, DefaultRequestTimeout),
		IdempotencyTTL: getEnvDuration(EnvIdempotencyTTL, DefaultIdempotencyTTL),
		MaxRequestSize: getEnvNum(EnvMaxRequestSize, DefaultMaxRequestSize),

		ReadTimeout:     getEnvDuration(EnvReadTimeout, DefaultReadTimeout),
		WriteTimeout:    getEnvDuration(EnvWriteTimeout, DefaultWriteTimeout),
		IdleTimeout:     getEnvDuration(EnvIdleTimeout, DefaultIdleTimeout),
		ShutdownTimeout: getEnvDuration(EnvShutdownTimeout, DefaultShutdownTimeout),
	}
}

// ConnectStore opens the connection the configured store driver needs.
func (cfg *Config) ConnectStore() {
	switch cfg.StoreDriver {
	case StoreMongo:
		cfg.Client.SetMongo(cfg.Log, cfg.MongoURI, cfg.MongoConnTimeout)
	case StorePostgres:
		cfg.Client.SetSQL(cfg.Log, client.DriverPostgres, cfg.PostgresDSN, cfg.sqlPool())
	case StoreMySQL:
		cfg.Client.SetSQL(cfg.Log, client.DriverMySQL, cfg.MySQLDSN, cfg.sqlPool())
	}
}

// ConnectRedis opens the Redis client when REDIS_ADDR is set.
func (cfg *Config) ConnectRedis() {
	if cfg.RedisAddr == "" {
		return
	}
	cfg.Client.SetRedis(cfg.Log, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
}

func (cfg *Config) sqlPool() client.SQLPool {
	return client.SQLPool{
		MaxOpenConns:    cfg.SQLMaxOpenConns,
		MaxIdleConns:    cfg.SQLMaxIdleConns,
		ConnMaxLifetime: cfg.SQLConnMaxLifetime,
		ConnectTimeout:  cfg.MongoConnTimeout,
	}
}

var mongoURIRegex = regexp.MustCompile(`^mongodb(\+srv)?://`)

func (cfg *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("Port must be between 1 and 65535, got: %s", cfg.Port))
	}

	switch cfg.StoreDriver {
	case StoreMemory:
	case StoreMongo:
		if !mongoURIRegex.MatchString(cfg.MongoURI) {
			errors = append(errors, fmt.Sprintf("MongoURI must start with 'mongodb://' or 'mongodb+srv://', got: %s", redactMongoURI(cfg.MongoURI)))
		}
		if cfg.MongoDatabaseName == "" {
			errors = append(errors, "MongoDatabaseName cannot be empty")
		}
	case StorePostgres:
		if cfg.PostgresDSN == "" {
			errors = append(errors, "PostgresDSN is required when StoreDriver is postgres")
		}
	case StoreMySQL:
		if cfg.MySQLDSN == "" {
			errors = append(errors, "MySQLDSN is required when StoreDriver is mysql")
		}
	default:
		errors = append(errors, fmt.Sprintf("StoreDriver must be one of [memory, mongo, postgres, mysql], got: %s", cfg.StoreDriver))
	}

	switch cfg.EventsDriver {
	case EventsNone, EventsKafka:
	case EventsRabbitMQ:
		if cfg.RabbitMQURL == "" || cfg.RabbitMQExchange == "" {
			errors = append(errors, "RabbitMQURL and RabbitMQExchange are required when EventsDriver is rabbitmq")
		}
	default:
		errors = append(errors, fmt.Sprintf("EventsDriver must be one of [none, kafka, rabbitmq], got: %s", cfg.EventsDriver))
	}

	if len(cfg.JWTSecret) < 16 {
		errors = append(errors, "JWTSecret must be at least 16 characters")
	}
	if cfg.JWTTTL <= 0 {
		errors = append(errors, fmt.Sprintf("JWTTTL must be positive, got: %s", cfg.JWTTTL))
	}
	if cfg.MinBookingDuration <= 0 {
		errors = append(errors, fmt.Sprintf("MinBookingDuration must be positive, got: %s", cfg.MinBookingDuration))
	}
	if cfg.MinBookingDuration%time.Minute != 0 {
		errors = append(errors, fmt.Sprintf("MinBookingDuration must be a whole number of minutes, got: %s", cfg.MinBookingDuration))
	}
	if cfg.LockTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("LockTimeout must be positive, got: %s", cfg.LockTimeout))
	}
	if cfg.LockTimeout >= cfg.RequestTimeout {
		errors = append(errors, fmt.Sprintf("LockTimeout (%s) must be shorter than RequestTimeout (%s)", cfg.LockTimeout, cfg.RequestTimeout))
	}
	if cfg.PublishTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("PublishTimeout must be positive, got: %s", cfg.PublishTimeout))
	}
	if cfg.LockTimeout+cfg.PublishTimeout >= cfg.RequestTimeout {
		errors = append(errors, fmt.Sprintf("LockTimeout + PublishTimeout (%s) must be shorter than RequestTimeout (%s)", cfg.LockTimeout+cfg.PublishTimeout, cfg.RequestTimeout))
	}
	if cfg.MongoConnTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("MongoConnTimeout must be positive, got: %s", cfg.MongoConnTimeout))
	}
	if cfg.SQLMaxOpenConns <= 0 {
		errors = append(errors, fmt.Sprintf("SQLMaxOpenConns must be positive, got: %d", cfg.SQLMaxOpenConns))
	}
	if cfg.RedisDB < 0 {
		errors = append(errors, fmt.Sprintf("RedisDB cannot be negative, got: %d", cfg.RedisDB))
	}
	if cfg.RateLimitRequests <= 0 {
		errors = append(errors, fmt.Sprintf("RateLimitRequests must be positive, got: %d", cfg.RateLimitRequests))
	}
	if cfg.RateLimitWindow <= 0 {
		errors = append(errors, fmt.Sprintf("RateLimitWindow must be positive, got: %s", cfg.RateLimitWindow))
	}
	if cfg.RequestTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("RequestTimeout must be positive, got: %s", cfg.RequestTimeout))
	}
	if cfg.IdempotencyTTL <= 0 {
		errors = append(errors, fmt.Sprintf("IdempotencyTTL must be positive, got: %s", cfg.IdempotencyTTL))
	}
	if cfg.MaxRequestSize <= 0 {
		errors = append(errors, fmt.Sprintf("MaxRequestSize must be positive, got: %d", cfg.MaxRequestSize))
	}
	if cfg.ReadTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("ReadTimeout must be positive, got: %s", cfg.ReadTimeout))
	}
	if cfg.WriteTimeout <= cfg.RequestTimeout {
		errors = append(errors, fmt.Sprintf("WriteTimeout (%s) must exceed RequestTimeout (%s)", cfg.WriteTimeout, cfg.RequestTimeout))
	}
	if cfg.IdleTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("IdleTimeout must be positive, got: %s", cfg.IdleTimeout))
	}
	if cfg.ShutdownTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("ShutdownTimeout must be positive, got: %s", cfg.ShutdownTimeout))
	}

	if len(errors) > 0 {
		errMsg := "Configuration validation failed:\n"
		for i, err := range errors {
			errMsg += fmt.Sprintf("  %d. %s\n", i+1, err)
		}
		return fmt.Errorf("%s", errMsg)
	}

	return nil
}

func (cfg *Config) LogConfiguration() {
	cfg.Log.Info("Configuration loaded successfully",
		"port", cfg.Port,
		"store_driver", cfg.StoreDriver,
		"mongo_uri", redactMongoURI(cfg.MongoURI),
		"mongo_database", cfg.MongoDatabaseName,
		"postgres_dsn", redactDSN(cfg.PostgresDSN),
		"mysql_dsn", redactDSN(cfg.MySQLDSN),
		"lock_timeout", cfg.LockTimeout,
		"min_booking_duration", cfg.MinBookingDuration,
		"jwt_secret_set", cfg.JWTSecret != "",
		"redis_addr", cfg.RedisAddr,
		"events_driver", cfg.EventsDriver,
		"rabbitmq_exchange", cfg.RabbitMQExchange,
		"publish_timeout", cfg.PublishTimeout,
		"rate_limit_requests", cfg.RateLimitRequests,
		"rate_limit_window", cfg.RateLimitWindow,
		"request_timeout", cfg.RequestTimeout,
		"idempotency_ttl", cfg.IdempotencyTTL,
		"max_request_size", cfg.MaxRequestSize,
		"read_timeout", cfg.ReadTimeout,
		"write_timeout", cfg.WriteTimeout,
		"idle_timeout", cfg.IdleTimeout,
		"shutdown_timeout", cfg.ShutdownTimeout,
	)
}

var (
	mongoCredentialRegex = regexp.MustCompile(`(mongodb(\+srv)?://)[^:]+:[^@]+@`)
	urlCredentialRegex   = regexp.MustCompile(`(://)[^:/@]+:[^@]+@`)
	mysqlCredentialRegex = regexp.MustCompile(`^[^:/@]+:[^@]*@`)
)

func redactMongoURI(uri string) string {
	return mongoCredentialRegex.ReplaceAllString(uri, "${1}***:***@")
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	if urlCredentialRegex.MatchString(dsn) {
		return urlCredentialRegex.ReplaceAllString(dsn, "${1}***:***@")
	}
	return mysqlCredentialRegex.ReplaceAllString(dsn, "***:***@")
}

func getEnvStr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvNum(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func (cfg *Config) GracefulShutdown() {
	cfg.Client.GracefulShutdown(cfg.Log)
}
