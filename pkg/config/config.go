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
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Ledger       LedgerConfig
	Likes        LikesConfig
	Feed         FeedConfig
	Stream       StreamConfig
	FeatureFlags FeatureFlagsConfig
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
	Env          string   `envconfig:"WISHSPACE_APP_ENV" required:"true"`
	Port         string   `envconfig:"WISHSPACE_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"WISHSPACE_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"WISHSPACE_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"WISHSPACE_CORS_ORIGINS" default:"http://localhost:5173"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"WISHSPACE_DB_DSN"`
	Driver string `envconfig:"WISHSPACE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"WISHSPACE_DB_HOST"`
	LegacyPort     int    `envconfig:"WISHSPACE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"WISHSPACE_DB_USER"`
	LegacyPassword string `envconfig:"WISHSPACE_DB_PASSWORD"`
	LegacyName     string `envconfig:"WISHSPACE_DB_NAME"`
	LegacySSLMode  string `envconfig:"WISHSPACE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"WISHSPACE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"WISHSPACE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"WISHSPACE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"WISHSPACE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the configured driver is the embedded SQLite engine.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

// RedisConfig is optional; the cross-instance feed relay only starts when URL or Address is set.
type RedisConfig struct {
	URL          string        `envconfig:"WISHSPACE_REDIS_URL"`
	Address      string        `envconfig:"WISHSPACE_REDIS_ADDR"`
	Password     string        `envconfig:"WISHSPACE_REDIS_PASSWORD"`
	DB           int           `envconfig:"WISHSPACE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"WISHSPACE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"WISHSPACE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"WISHSPACE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"WISHSPACE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"WISHSPACE_REDIS_WRITE_TIMEOUT" default:"5s"`
	FeedChannel  string        `envconfig:"WISHSPACE_REDIS_FEED_CHANNEL" default:"feed"`
}

// Enabled reports whether a redis endpoint has been configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type JWTConfig struct {
	Secret            string `envconfig:"WISHSPACE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"WISHSPACE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"WISHSPACE_JWT_EXPIRATION_MINUTES" default:"60"`
}

// LedgerConfig bounds the backoff applied to Unavailable ledger errors.
type LedgerConfig struct {
	RetryAttempts  int           `envconfig:"WISHSPACE_LEDGER_RETRY_ATTEMPTS" default:"4"`
	RetryBaseDelay time.Duration `envconfig:"WISHSPACE_LEDGER_RETRY_BASE_DELAY" default:"50ms"`
	RetryMaxDelay  time.Duration `envconfig:"WISHSPACE_LEDGER_RETRY_MAX_DELAY" default:"1s"`
}

// LikesConfig bounds the transaction retries performed by the like coordinator.
type LikesConfig struct {
	MaxAttempts int           `envconfig:"WISHSPACE_LIKE_MAX_ATTEMPTS" default:"5"`
	BackoffBase time.Duration `envconfig:"WISHSPACE_LIKE_BACKOFF_BASE" default:"5ms"`
	BackoffMax  time.Duration `envconfig:"WISHSPACE_LIKE_BACKOFF_MAX" default:"100ms"`
}

type FeedConfig struct {
	QueueSize   int           `envconfig:"WISHSPACE_FEED_QUEUE_SIZE" default:"256"`
	GapTimeout  time.Duration `envconfig:"WISHSPACE_FEED_GAP_TIMEOUT" default:"200ms"`
	RelayBuffer int           `envconfig:"WISHSPACE_FEED_RELAY_BUFFER" default:"1024"`
}

type StreamConfig struct {
	WriteTimeout time.Duration `envconfig:"WISHSPACE_STREAM_WRITE_TIMEOUT" default:"10s"`
	PingInterval time.Duration `envconfig:"WISHSPACE_STREAM_PING_INTERVAL" default:"30s"`
	ReadLimit    int64         `envconfig:"WISHSPACE_STREAM_READ_LIMIT" default:"4096"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"WISHSPACE_AUTO_MIGRATE" default:"false"`
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
