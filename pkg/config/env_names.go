package config

// EnvPrefix is empty because every field spells out its full variable name.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "production"
)

const (
	EnvAppEnv = "GLPUB_APP_ENV"
	EnvPort   = "GLPUB_APP_PORT"

	EnvDBDSN  = "GLPUB_DB_DSN"
	EnvDBHost = "GLPUB_DB_HOST"
	EnvDBUser = "GLPUB_DB_USER"
	EnvDBName = "GLPUB_DB_NAME"

	EnvRedisURL = "GLPUB_REDIS_URL"

	EnvS3Endpoint  = "GLPUB_S3_ENDPOINT"
	EnvS3AccessKey = "GLPUB_S3_ACCESS_KEY"
	EnvS3SecretKey = "GLPUB_S3_SECRET_KEY"
	EnvS3Bucket    = "GLPUB_S3_BUCKET"

	EnvGCPProjectID         = "GLPUB_GCP_PROJECT_ID"
	EnvPubSubNotifTopic     = "GLPUB_PUBSUB_NOTIFICATION_TOPIC"
	EnvPubSubNotifSub       = "GLPUB_PUBSUB_NOTIFICATION_SUBSCRIPTION"
	EnvFacebookPageID       = "GLPUB_FACEBOOK_PAGE_ID"
	EnvFacebookPageToken    = "GLPUB_FACEBOOK_PAGE_ACCESS_TOKEN"
	EnvInstagramBusinessID  = "GLPUB_INSTAGRAM_BUSINESS_ACCOUNT_ID"
	EnvInstagramAccessToken = "GLPUB_INSTAGRAM_ACCESS_TOKEN"
	EnvTikTokAccessToken    = "GLPUB_TIKTOK_ACCESS_TOKEN"
	EnvLinkedInAccessToken  = "GLPUB_LINKEDIN_ACCESS_TOKEN"
	EnvLinkedInOrgID        = "GLPUB_LINKEDIN_ORGANIZATION_ID"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
