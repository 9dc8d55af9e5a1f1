package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	S3           S3Config
	Facebook     FacebookConfig
	Instagram    InstagramConfig
	TikTok       TikTokConfig
	LinkedIn     LinkedInConfig
	Publisher    PublisherConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"GLPUB_APP_ENV" required:"true"`
	Port         string `envconfig:"GLPUB_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"GLPUB_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"GLPUB_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"GLPUB_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"GLPUB_DB_DSN"`
	Driver string `envconfig:"GLPUB_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"GLPUB_DB_HOST"`
	LegacyPort     int    `envconfig:"GLPUB_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"GLPUB_DB_USER"`
	LegacyPassword string `envconfig:"GLPUB_DB_PASSWORD"`
	LegacyName     string `envconfig:"GLPUB_DB_NAME"`
	LegacySSLMode  string `envconfig:"GLPUB_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"GLPUB_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"GLPUB_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"GLPUB_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"GLPUB_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"GLPUB_REDIS_URL" required:"true"`
	Address      string        `envconfig:"GLPUB_REDIS_ADDR"`
	Password     string        `envconfig:"GLPUB_REDIS_PASSWORD"`
	DB           int           `envconfig:"GLPUB_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"GLPUB_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"GLPUB_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"GLPUB_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"GLPUB_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"GLPUB_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"GLPUB_AUTO_MIGRATE" default:"false"`
}

// S3Config targets any S3-compatible store used for public media staging.
type S3Config struct {
	Endpoint  string `envconfig:"GLPUB_S3_ENDPOINT" required:"true"`
	Region    string `envconfig:"GLPUB_S3_REGION" default:"us-east-1"`
	AccessKey string `envconfig:"GLPUB_S3_ACCESS_KEY" required:"true"`
	SecretKey string `envconfig:"GLPUB_S3_SECRET_KEY" required:"true"`
	Bucket    string `envconfig:"GLPUB_S3_BUCKET" required:"true"`
	PublicURL string `envconfig:"GLPUB_S3_PUBLIC_URL"`
}

type FacebookConfig struct {
	APIVersion      string `envconfig:"GLPUB_FACEBOOK_API_VERSION" default:"v21.0"`
	PageID          string `envconfig:"GLPUB_FACEBOOK_PAGE_ID"`
	PageAccessToken string `envconfig:"GLPUB_FACEBOOK_PAGE_ACCESS_TOKEN"`
}

type InstagramConfig struct {
	APIVersion        string `envconfig:"GLPUB_INSTAGRAM_API_VERSION" default:"v21.0"`
	BusinessAccountID string `envconfig:"GLPUB_INSTAGRAM_BUSINESS_ACCOUNT_ID"`
	AccessToken       string `envconfig:"GLPUB_INSTAGRAM_ACCESS_TOKEN"`
}

type TikTokConfig struct {
	BaseURL      string `envconfig:"GLPUB_TIKTOK_BASE_URL" default:"https://open.tiktokapis.com"`
	AccessToken  string `envconfig:"GLPUB_TIKTOK_ACCESS_TOKEN"`
	PrivacyLevel string `envconfig:"GLPUB_TIKTOK_PRIVACY_LEVEL" default:"PUBLIC_TO_EVERYONE"`
}

type LinkedInConfig struct {
	AccessToken    string `envconfig:"GLPUB_LINKEDIN_ACCESS_TOKEN"`
	OrganizationID string `envconfig:"GLPUB_LINKEDIN_ORGANIZATION_ID"`
	APIVersion     string `envconfig:"GLPUB_LINKEDIN_API_VERSION" default:"202505"`
}

// PublisherConfig tunes the reconcile sweep.
type PublisherConfig struct {
	ReconcileInterval time.Duration `envconfig:"GLPUB_PUBLISHER_RECONCILE_INTERVAL" default:"10m"`
	SweepLimit        int           `envconfig:"GLPUB_PUBLISHER_SWEEP_LIMIT" default:"100"`
	SweepConcurrency  int           `envconfig:"GLPUB_PUBLISHER_SWEEP_CONCURRENCY" default:"4"`
	EntityLockTTL     time.Duration `envconfig:"GLPUB_PUBLISHER_ENTITY_LOCK_TTL" default:"2m"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"GLPUB_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"GLPUB_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"GLPUB_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	NotificationTopic        string `envconfig:"GLPUB_PUBSUB_NOTIFICATION_TOPIC" required:"true"`
	NotificationSubscription string `envconfig:"GLPUB_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"GLPUB_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"GLPUB_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"GLPUB_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
