// Package app wires the service together: it is constructed once at process
// start by the embedding presentation layer, which then calls the use cases
// directly. No transport is mounted here.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	mongoadapter "github.com/treelistings/publication-service/adapter/mongo"
	natsadapter "github.com/treelistings/publication-service/adapter/nats"
	redisadapter "github.com/treelistings/publication-service/adapter/redis"
	miniostorage "github.com/treelistings/publication-service/adapter/storage/minio"
	"github.com/treelistings/publication-service/app/config"
	"github.com/treelistings/publication-service/mailer"
	"github.com/treelistings/publication-service/platform/logger"
	"github.com/treelistings/publication-service/platform/metrics"
	"github.com/treelistings/publication-service/platform/tracer"
	"github.com/treelistings/publication-service/usecase"
)

const serviceName = "publication_service"

type App struct {
	Publish *usecase.PublishUsecase
	Feed    *usecase.FeedUsecase
	Metrics *metrics.Manager

	cfg            *config.Config
	log            *zap.Logger
	mongoClient    *mongo.Client
	redisClient    *redis.Client
	natsPublisher  *natsadapter.Publisher
	tracerProvider *sdktrace.TracerProvider
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logger.New(cfg.Logger)
	log.Info("Logger initialized", zap.String("env", cfg.Env))

	var tracerProvider *sdktrace.TracerProvider
	if cfg.Tracing.Enabled {
		tp, err := tracer.Init(ctx, serviceName, cfg.Tracing)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		tracerProvider = tp
		log.Info("Tracer initialized", zap.String("endpoint", cfg.Tracing.Endpoint))
	}

	mongoClient, err := mongoadapter.NewClient(ctx, cfg.Mongo)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MongoDB client: %w", err)
	}
	log.Info("MongoDB client initialized", zap.String("database", cfg.Mongo.Database))
	store := mongoadapter.NewStore(mongoClient, cfg.Mongo.Database, log)

	redisClient, err := redisadapter.NewClient(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Redis client: %w", err)
	}
	listingCache := redisadapter.NewListingCache(redisClient, cfg.Cache.ListingTTL)
	log.Info("Redis listing cache initialized", zap.Duration("ttl", cfg.Cache.ListingTTL))

	assets, err := miniostorage.NewUploader(ctx, cfg.MinIO, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize asset storage: %w", err)
	}
	log.Info("Asset storage initialized", zap.String("bucket", cfg.MinIO.Bucket))

	natsPublisher, err := natsadapter.NewPublisher(cfg.NATS, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize NATS publisher: %w", err)
	}
	log.Info("NATS publisher initialized", zap.String("url", cfg.NATS.URL))

	var notifier usecase.SellerNotifier
	if cfg.SMTP.Enabled {
		notifier = mailer.New(cfg.SMTP)
		log.Info("Seller mail notifications enabled", zap.String("host", cfg.SMTP.Host))
	}

	metricsManager := metrics.NewManager(serviceName)

	publishUC := usecase.NewPublishUsecase(usecase.PublishUsecaseParams{
		Store:         store,
		Assets:        assets,
		Cache:         listingCache,
		Events:        natsPublisher,
		Notifier:      notifier,
		Metrics:       metricsManager,
		MaxTxAttempts: cfg.Publish.MaxTxAttempts,
		Logger:        log,
	})
	feedUC := usecase.NewFeedUsecase(store, listingCache, log)

	return &App{
		Publish:        publishUC,
		Feed:           feedUC,
		Metrics:        metricsManager,
		cfg:            cfg,
		log:            log,
		mongoClient:    mongoClient,
		redisClient:    redisClient,
		natsPublisher:  natsPublisher,
		tracerProvider: tracerProvider,
	}, nil
}

func (a *App) Logger() *zap.Logger {
	return a.log
}

func (a *App) Close(ctx context.Context) {
	a.natsPublisher.Close()

	if err := a.redisClient.Close(); err != nil {
		a.log.Error("Failed to close Redis client", zap.Error(err))
	}
	if err := a.mongoClient.Disconnect(ctx); err != nil {
		a.log.Error("Failed to disconnect MongoDB client", zap.Error(err))
	}
	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			a.log.Error("Failed to shut down tracer provider", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}
