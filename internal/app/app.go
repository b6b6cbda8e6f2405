// Package app wires the service together: config, logging, tracing, storage,
// cache, messaging, and the ingestion and analysis services on top of them.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"

	"github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/internal/repositories/analysislock"
	"github.com/Ramsey-B/clover/internal/repositories/contribution"
	"github.com/Ramsey-B/clover/internal/repositories/product"
	"github.com/Ramsey-B/clover/internal/repositories/review"
	"github.com/Ramsey-B/clover/pkg/analysis"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/dedup"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/ingest"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/merge"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/startup"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/Ramsey-B/clover/pkg/tracing/exporters"
)

// App is the composed service
type App struct {
	Config *config.Config
	Logger ectologger.Logger

	// Services, exposed for tests and alternate entrypoints
	Pipeline    *ingest.Pipeline
	Coordinator *analysis.Coordinator

	db             database.DB
	redisClient    *redis.Client
	consumer       *kafka.Consumer
	producer       *kafka.Producer
	reclaimer      *analysis.Reclaimer
	handler        *ingest.BatchHandler
	tracerProvider *sdktrace.TracerProvider
	startup        *startup.Startup
}

// New loads configuration and constructs the service without starting
// anything. Dependencies that require a connection come up in Run.
func New(ctx context.Context) (*App, error) {
	// Missing .env is fine; containers set the environment directly.
	_ = godotenv.Load()

	cfg := &config.Config{}
	if err := ectoenv.BindEnv(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to bind configuration")
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initTracing(ctx); err != nil {
		return nil, err
	}

	return app, nil
}

// Run starts every dependency in order and blocks until the context is
// cancelled, then shuts down in reverse.
func (a *App) Run(ctx context.Context) error {
	a.startup = startup.New(a.Logger, a.Config.StartupMaxAttempts)

	a.startup.Add(&startup.Func{
		Name:    "database",
		StartFn: a.startDatabase,
		StopFn: func(ctx context.Context) error {
			if a.db == nil {
				return nil
			}
			return a.db.Close()
		},
	})
	a.startup.Add(&startup.Func{
		Name:    "redis",
		StartFn: a.startRedis,
		StopFn: func(ctx context.Context) error {
			if a.redisClient == nil {
				return nil
			}
			return a.redisClient.Close()
		},
	})
	a.startup.Add(&startup.Func{
		Name:    "producer",
		Needs:   []string{"database"},
		StartFn: a.startProducer,
		StopFn: func(ctx context.Context) error {
			if a.producer == nil {
				return nil
			}
			return a.producer.Close()
		},
	})
	a.startup.Add(&startup.Func{
		Name:    "services",
		Needs:   []string{"database", "redis", "producer"},
		StartFn: a.buildServices,
	})
	a.startup.Add(&startup.Func{
		Name:    "reclaimer",
		Needs:   []string{"services"},
		StartFn: a.startReclaimer,
		StopFn: func(ctx context.Context) error {
			if a.reclaimer == nil {
				return nil
			}
			return a.reclaimer.Stop(ctx)
		},
	})
	a.startup.Add(&startup.Func{
		Name:    "consumer",
		Needs:   []string{"services"},
		StartFn: a.startConsumer,
		StopFn: func(ctx context.Context) error {
			if a.consumer == nil {
				return nil
			}
			return a.consumer.Stop()
		},
	})

	if err := a.startup.Start(ctx); err != nil {
		return err
	}

	a.Logger.WithContext(ctx).Infof("%s is running", a.Config.AppName)

	<-ctx.Done()

	// Shutdown gets a fresh context; the run context is already cancelled.
	stopCtx := context.Background()
	if err := a.startup.Stop(stopCtx); err != nil {
		return err
	}
	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(stopCtx); err != nil {
			a.Logger.WithError(err).Warn("Failed to shut down tracer provider")
		}
	}

	return nil
}

func newLogger(cfg *config.Config) (ectologger.Logger, error) {
	var zapCfg zap.Config
	if cfg.PrettyLogs {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	zapLogger, err := zapCfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build logger")
	}

	return zapadapter.NewZapEctoLogger(zapLogger, nil), nil
}

func (a *App) initTracing(ctx context.Context) error {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(sdkresource.NewSchemaless(
			attribute.String("service.name", a.Config.AppName),
		)),
	}

	if a.Config.OTLPEnabled {
		exporter, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
			Endpoint: a.Config.OTLPEndpoint,
			Protocol: a.Config.OTLPProtocol,
			Insecure: a.Config.OTLPInsecure,
			Timeout:  exporters.DefaultOTLPConfig().Timeout,
		})
		if err != nil {
			return errors.Wrap(err, "failed to create OTLP exporter")
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	tracing.SetTracer(tp.Tracer(a.Config.AppName))
	a.tracerProvider = tp

	return nil
}

func (a *App) startDatabase(ctx context.Context) error {
	cfg := a.Config
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName, cfg.DatabasePassword, cfg.DatabaseName, cfg.DatabaseSSLMode,
	)

	db, err := sqlx.ConnectContext(ctx, cfg.DatabaseDriver, dsn)
	if err != nil {
		return errors.Wrap(err, "failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	db.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)

	a.db = database.NewDatabaseInstance(db, a.Logger)

	driver, err := migratepg.WithInstance(db.DB, &migratepg.Config{})
	if err != nil {
		return errors.Wrap(err, "failed to create migration driver")
	}

	migrations := database.NewMigrationService(a.Logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
	})

	return migrations.Migrate(cfg.DatabaseName, driver)
}

func (a *App) startRedis(ctx context.Context) error {
	client, err := redis.NewClient(redis.Config{
		Host:           a.Config.RedisHost,
		Port:           a.Config.RedisPort,
		Password:       a.Config.RedisPassword,
		DB:             a.Config.RedisDB,
		CommandTimeout: a.Config.RedisCommandTimeout,
	}, a.Logger)
	if err != nil {
		return errors.Wrap(err, "failed to connect to redis")
	}

	a.redisClient = client
	return nil
}

func (a *App) startProducer(ctx context.Context) error {
	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      strings.Split(a.Config.KafkaBrokers, ","),
		Topic:        a.Config.KafkaEventTopic,
		BatchSize:    100,
		RequiredAcks: 1,
	}, a.Logger)
	if err != nil {
		return errors.Wrap(err, "failed to create kafka producer")
	}

	a.producer = producer
	return nil
}

func (a *App) buildServices(ctx context.Context) error {
	cfg := a.Config

	productRepo := product.NewRepository(a.db, a.Logger)
	reviewRepo := review.NewRepository(a.db, a.Logger)
	contributionRepo := contribution.NewRepository(a.db, a.Logger)
	lockRepo := analysislock.NewRepository(a.db, a.Logger)

	seenSet := redis.NewSeenSet(a.redisClient, cfg.SeenSetTTL, a.Logger)
	aggregates := redis.NewAggregateCache(a.redisClient, a.Logger)
	deduplicator := dedup.NewDeduplicator(seenSet, reviewRepo, a.Logger)

	emitter := events.NewEmitter(a.producer, a.Logger)

	a.Pipeline = ingest.NewPipeline(
		productRepo,
		reviewRepo,
		contributionRepo,
		deduplicator,
		aggregates,
		merge.Policy{
			MinLength:      cfg.MetadataMinLength,
			RichnessMargin: cfg.MetadataRichnessMargin,
		},
		a.Logger,
	)
	a.handler = ingest.NewBatchHandler(a.Pipeline, emitter, a.Logger)

	a.Coordinator = analysis.NewCoordinator(lockRepo, reviewRepo, emitter, analysis.Config{
		CacheValidity:        cfg.AnalysisCacheValidity,
		IncrementalThreshold: cfg.AnalysisIncrementalThreshold,
		ReclaimTimeout:       cfg.AnalysisReclaimTimeout,
	}, a.Logger)

	return nil
}

func (a *App) startReclaimer(ctx context.Context) error {
	if !a.Config.ReclaimerEnabled {
		a.Logger.Info("Lock reclaimer disabled by configuration")
		return nil
	}

	a.reclaimer = analysis.NewReclaimer(a.Coordinator, a.Config.AnalysisReclaimInterval, a.Logger)
	return a.reclaimer.Start(ctx)
}

func (a *App) startConsumer(ctx context.Context) error {
	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: strings.Split(a.Config.KafkaBrokers, ","),
		Topic:   a.Config.KafkaReviewTopic,
		GroupID: a.Config.KafkaConsumerGroup,
	}, a.Logger)
	if err != nil {
		return errors.Wrap(err, "failed to create kafka consumer")
	}

	a.consumer = consumer
	return a.consumer.Start(ctx, a.handler.Handle)
}
