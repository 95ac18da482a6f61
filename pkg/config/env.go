package config

const EnvPrefix = "WISHSPACE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

const (
	EnvAppEnv        = "WISHSPACE_APP_ENV"
	EnvPort          = "WISHSPACE_APP_PORT"
	EnvLogLevel      = "WISHSPACE_LOG_LEVEL"
	EnvCORSOrigins   = "WISHSPACE_CORS_ORIGINS"
	EnvDBDSN         = "WISHSPACE_DB_DSN"
	EnvDBDriver      = "WISHSPACE_DB_DRIVER"
	EnvDBHost        = "WISHSPACE_DB_HOST"
	EnvDBPort        = "WISHSPACE_DB_PORT"
	EnvDBUser        = "WISHSPACE_DB_USER"
	EnvDBPassword    = "WISHSPACE_DB_PASSWORD"
	EnvDBName        = "WISHSPACE_DB_NAME"
	EnvDBSSLMode     = "WISHSPACE_DB_SSLMODE"
	EnvRedisURL      = "WISHSPACE_REDIS_URL"
	EnvJWTSecret     = "WISHSPACE_JWT_SECRET"
	EnvJWTIssuer     = "WISHSPACE_JWT_ISSUER"
	EnvLikeAttempts  = "WISHSPACE_LIKE_MAX_ATTEMPTS"
	EnvFeedQueueSize = "WISHSPACE_FEED_QUEUE_SIZE"
	EnvFeedGap       = "WISHSPACE_FEED_GAP_TIMEOUT"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
