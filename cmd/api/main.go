package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/geniolibre/publisher-backend/api/controllers"
	"github.com/geniolibre/publisher-backend/api/routes"
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

type creatorInfoProvider interface {
	CreatorInfo(ctx context.Context) (*tiktok.CreatorInfo, error)
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	emitter := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
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

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, publicationsService,
			controllers.ReadyCheck{Name: "database", Pinger: dbClient},
			controllers.ReadyCheck{Name: "redis", Pinger: redisClient},
			controllers.ReadyCheck{Name: "storage", Pinger: s3Client},
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
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
