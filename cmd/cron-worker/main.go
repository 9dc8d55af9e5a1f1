package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/geniolibre/publisher-backend/internal/cron"
	"github.com/geniolibre/publisher-backend/internal/platforms"
	"github.com/geniolibre/publisher-backend/internal/platforms/facebook"
	"github.com/geniolibre/publisher-backend/internal/platforms/instagram"
	"github.com/geniolibre/publisher-backend/internal/platforms/linkedin"
	"github.com/geniolibre/publisher-backend/internal/platforms/tiktok"
	"github.com/geniolibre/publisher-backend/internal/publications"
	"github.com/geniolibre/publisher-backend/internal/staging"
	"github.com/geniolibre/publisher-backend/pkg/config"
	"github.com/geniolibre/publisher-backend/pkg/db"
	"github.com/geniolibre/publisher-backend/pkg/enums"
	"github.com/geniolibre/publisher-backend/pkg/logger"
	"github.com/geniolibre/publisher-backend/pkg/metrics"
	"github.com/geniolibre/publisher-backend/pkg/migrate"
	"github.com/geniolibre/publisher-backend/pkg/outbox"
	"github.com/geniolibre/publisher-backend/pkg/redis"
	"github.com/geniolibre/publisher-backend/pkg/storage/s3"
)

const lockKeyFormat = "glpub:cron-worker:lock:%s"

type creatorInfoProvider interface {
	CreatorInfo(ctx context.Context) (*tiktok.CreatorInfo, error)
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	s3Client, err := s3.NewClient(context.Background(), cfg.S3, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap media storage", err)
		os.Exit(1)
	}

	stagingService, err := staging.NewService(s3Client, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create staging service", err)
		os.Exit(1)
	}

	clients, tiktokClient, err := platformClients(cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to build platform clients", err)
		os.Exit(1)
	}
	var creator creatorInfoProvider
	if tiktokClient != nil {
		creator = tiktokClient
	}

	outboxRepo := outbox.NewRepository(dbClient.DB())
	emitter := outbox.NewService(outboxRepo, logg)
	publishMetrics := metrics.NewPublishMetrics(prometheus.DefaultRegisterer)

	publicationsService, err := publications.NewService(
		publications.NewRepository(dbClient.DB()),
		stagingService,
		redisClient,
		clients,
		creator,
		emitter,
		dbClient,
		publishMetrics,
		cfg.Publisher,
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create publications service", err)
		os.Exit(1)
	}

	reconcileJob, err := cron.NewPublicationReconcileJob(cron.PublicationReconcileJobParams{
		Logger:  logg,
		Sweeper: publicationsService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile job", err)
		os.Exit(1)
	}

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(reconcileJob, retentionJob)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Publisher.ReconcileInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}

func platformClients(cfg *config.Config, logg *logger.Logger) (map[enums.Platform]platforms.Client, *tiktok.Client, error) {
	clients := map[enums.Platform]platforms.Client{}

	if cfg.Facebook.PageID != "" && cfg.Facebook.PageAccessToken != "" {
		client, err := facebook.NewClient(cfg.Facebook, logg)
		if err != nil {
			return nil, nil, err
		}
		clients[enums.PlatformFacebook] = client
	}
	if cfg.Instagram.BusinessAccountID != "" && cfg.Instagram.AccessToken != "" {
		client, err := instagram.NewClient(cfg.Instagram, logg)
		if err != nil {
			return nil, nil, err
		}
		clients[enums.PlatformInstagram] = client
	}
	var tiktokClient *tiktok.Client
	if cfg.TikTok.AccessToken != "" {
		client, err := tiktok.NewClient(cfg.TikTok, logg)
		if err != nil {
			return nil, nil, err
		}
		tiktokClient = client
		clients[enums.PlatformTikTok] = client
	}
	if cfg.LinkedIn.AccessToken != "" && cfg.LinkedIn.OrganizationID != "" {
		client, err := linkedin.NewClient(cfg.LinkedIn, logg)
		if err != nil {
			return nil, nil, err
		}
		clients[enums.PlatformLinkedIn] = client
	}

	return clients, tiktokClient, nil
}
