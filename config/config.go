package config

import "time"

type Config struct {
	AppName            string `env:"APP_NAME" env-default:"clover"`
	LogLevel           string `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs         bool   `env:"PRETTY_LOGS" env-default:"false"`
	StartupMaxAttempts int    `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Database driver
	DatabaseDriver string `env:"DB_DRIVER" env-default:"postgres"`
	// Database host
	DatabaseHost string `env:"DB_HOST" env-default:""`
	// Database port
	DatabasePort string `env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" env-default:""`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" env-default:""`
	// Database name
	DatabaseName string `env:"DB_NAME" env-default:"clover"`
	// Database SSL Mode
	DatabaseSSLMode string `env:"DB_SSL_MODE" env-default:"disable"`
	// Max Open Conns
	DatabaseMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	// Max Idle Conns
	DatabaseMaxIdleConns int `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	// Conn Max Lifetime
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	// Migration Folder Path
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	// Database Migration Version
	DatabaseMigrationVersion int `env:"DB_MIGRATION_VERSION" env-default:"0"`
	// Database Migration Force
	DatabaseMigrationForce int `env:"DB_MIGRATION_FORCE" env-default:"0"`

	// Redis host
	RedisHost string `env:"REDIS_HOST" env-default:"localhost"`
	// Redis port
	RedisPort int `env:"REDIS_PORT" env-default:"6379"`
	// Redis password
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	// Redis database number
	RedisDB int `env:"REDIS_DB" env-default:"0"`
	// Timeout for individual cache commands; failures degrade, never block ingestion
	RedisCommandTimeout time.Duration `env:"REDIS_COMMAND_TIMEOUT" env-default:"2s"`

	// Kafka brokers (comma-separated)
	KafkaBrokers string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	// Kafka topic carrying inbound review batches
	KafkaReviewTopic string `env:"KAFKA_REVIEW_TOPIC" env-default:"clover.reviews.in"`
	// Kafka consumer group for the batch consumer
	KafkaConsumerGroup string `env:"KAFKA_CONSUMER_GROUP" env-default:"clover-ingest"`
	// Kafka topic for ingestion/analysis lifecycle events
	KafkaEventTopic string `env:"KAFKA_EVENT_TOPIC" env-default:"clover.events"`

	// Ingestion settings
	// Sliding TTL for the per-product seen-id set
	SeenSetTTL time.Duration `env:"SEEN_SET_TTL" env-default:"2160h"` // 90 days
	// Stored metadata shorter than this is treated as a placeholder and replaced
	MetadataMinLength int `env:"METADATA_MIN_LENGTH" env-default:"8"`
	// Incoming metadata must exceed stored length by this factor to replace it
	MetadataRichnessMargin float64 `env:"METADATA_RICHNESS_MARGIN" env-default:"1.5"`

	// Analysis settings
	// How long a completed analysis result stays servable from cache
	AnalysisCacheValidity time.Duration `env:"ANALYSIS_CACHE_VALIDITY" env-default:"168h"` // 7 days
	// New-review count at or below which a re-run may be incremental
	AnalysisIncrementalThreshold int `env:"ANALYSIS_INCREMENTAL_THRESHOLD" env-default:"50"`
	// Processing locks older than this are reclaimed as expired
	AnalysisReclaimTimeout time.Duration `env:"ANALYSIS_RECLAIM_TIMEOUT" env-default:"30m"`
	// How often the reclaimer sweeps for orphaned locks
	AnalysisReclaimInterval time.Duration `env:"ANALYSIS_RECLAIM_INTERVAL" env-default:"5m"`
	// Enable/disable the reclaim sweeper
	ReclaimerEnabled bool `env:"RECLAIMER_ENABLED" env-default:"true"`

	// Tracing settings
	// Enable OTLP tracing export (set to true to send traces to collector)
	OTLPEnabled bool `env:"OTLP_ENABLED" env-default:"false"`
	// OTLP collector endpoint
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure bool `env:"OTLP_INSECURE" env-default:"true"`
}
