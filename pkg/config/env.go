package config

const (
	EnvPort      = "PORT"
	EnvLogLevel  = "LOG_LEVEL"
	EnvLogFormat = "LOG_FORMAT"

	EnvStoreDriver = "STORE_DRIVER"

	EnvMongoURI          = "MONGO_URI"
	EnvMongoDatabaseName = "MONGO_DATABASE_NAME"
	EnvMongoConnTimeout  = "MONGO_CONN_TIMEOUT"

	EnvPostgresDSN        = "POSTGRES_DSN"
	EnvMySQLDSN           = "MYSQL_DSN"
	EnvSQLMaxOpenConns    = "SQL_MAX_OPEN_CONNS"
	EnvSQLMaxIdleConns    = "SQL_MAX_IDLE_CONNS"
	EnvSQLConnMaxLifetime = "SQL_CONN_MAX_LIFETIME"

	EnvLockTimeout        = "LOCK_TIMEOUT"
	EnvMinBookingDuration = "MIN_BOOKING_DURATION"

	EnvJWTSecret = "JWT_SECRET"
	EnvJWTTTL    = "JWT_TTL"

	EnvRedisAddr     = "REDIS_ADDR"
	EnvRedisPassword = "REDIS_PASSWORD"
	EnvRedisDB       = "REDIS_DB"

	EnvEventsDriver     = "EVENTS_DRIVER"
	EnvRabbitMQURL      = "RABBITMQ_URL"
	EnvRabbitMQExchange = "RABBITMQ_EXCHANGE"
	EnvPublishTimeout   = "EVENTS_PUBLISH_TIMEOUT"

	EnvRateLimitRequests = "RATE_LIMIT_REQUESTS"
	EnvRateLimitWindow   = "RATE_LIMIT_WINDOW"

	EnvRequestTimeout = "REQUEST_TIMEOUT"
	EnvIdempotencyTTL = "IDEMPOTENCY_TTL"
	EnvMaxRequestSize = "MAX_REQUEST_SIZE"

	EnvReadTimeout     = "READ_TIMEOUT"
	EnvWriteTimeout    = "WRITE_TIMEOUT"
	EnvIdleTimeout     = "IDLE_TIMEOUT"
	EnvShutdownTimeout = "SHUTDOWN_TIMEOUT"
)
