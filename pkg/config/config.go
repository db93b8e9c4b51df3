package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Ledger       LedgerConfig
	Production   ProductionConfig
	Reconcile    ReconcileConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Reconcile.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MFGLEDGER_APP_ENV" required:"true"`
	Port         string `envconfig:"MFGLEDGER_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"MFGLEDGER_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MFGLEDGER_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"MFGLEDGER_LOG_FORMAT" default:"json"`
	// CORSOrigins is a comma separated allow-list for the operator console.
	CORSOrigins []string `envconfig:"MFGLEDGER_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MFGLEDGER_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"MFGLEDGER_DB_DSN"`
	Driver string `envconfig:"MFGLEDGER_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MFGLEDGER_DB_HOST"`
	LegacyPort     int    `envconfig:"MFGLEDGER_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MFGLEDGER_DB_USER"`
	LegacyPassword string `envconfig:"MFGLEDGER_DB_PASSWORD"`
	LegacyName     string `envconfig:"MFGLEDGER_DB_NAME"`
	LegacySSLMode  string `envconfig:"MFGLEDGER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MFGLEDGER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MFGLEDGER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MFGLEDGER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MFGLEDGER_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	LockTimeout     time.Duration `envconfig:"MFGLEDGER_DB_LOCK_TIMEOUT" default:"5s"`
	SlowQuery       time.Duration `envconfig:"MFGLEDGER_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MFGLEDGER_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MFGLEDGER_REDIS_ADDR"`
	Password     string        `envconfig:"MFGLEDGER_REDIS_PASSWORD"`
	DB           int           `envconfig:"MFGLEDGER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MFGLEDGER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MFGLEDGER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MFGLEDGER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MFGLEDGER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MFGLEDGER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"MFGLEDGER_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"MFGLEDGER_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	ConsumerIdempotencyTTL time.Duration `envconfig:"MFGLEDGER_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	HTTPIdempotencyTTL     time.Duration `envconfig:"MFGLEDGER_HTTP_IDEMPOTENCY_TTL" default:"24h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"MFGLEDGER_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"MFGLEDGER_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"MFGLEDGER_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	ProductionTopic        string `envconfig:"MFGLEDGER_PUBSUB_PRODUCTION_TOPIC" default:"mfg-production-events"`
	ProductionSubscription string `envconfig:"MFGLEDGER_PUBSUB_PRODUCTION_SUBSCRIPTION" default:"mfg-production-events-ledger"`
	LedgerTopic            string `envconfig:"MFGLEDGER_PUBSUB_LEDGER_TOPIC" default:"mfg-ledger-events"`
	MaxOutstanding         int    `envconfig:"MFGLEDGER_PUBSUB_MAX_OUTSTANDING" default:"16"`
	// EmulatorHost points the client at a local Pub/Sub emulator without credentials.
	EmulatorHost string `envconfig:"MFGLEDGER_PUBSUB_EMULATOR_HOST"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"MFGLEDGER_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"MFGLEDGER_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"MFGLEDGER_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"MFGLEDGER_OUTBOX_RETENTION" default:"720h"`
}

// LedgerConfig controls how stock movements are posted.
type LedgerConfig struct {
	AllowNegativeStock bool `envconfig:"MFGLEDGER_LEDGER_ALLOW_NEGATIVE_STOCK" default:"true"`
	// InlineApply applies production events in the request transaction instead of
	// handing them to the worker through the outbox.
	InlineApply bool `envconfig:"MFGLEDGER_LEDGER_INLINE_APPLY" default:"true"`
}

type ProductionConfig struct {
	RetryConcurrency int           `envconfig:"MFGLEDGER_PRODUCTION_RETRY_CONCURRENCY" default:"4"`
	RetryMaxAttempts int           `envconfig:"MFGLEDGER_PRODUCTION_RETRY_MAX_ATTEMPTS" default:"8"`
	RetryGrace       time.Duration `envconfig:"MFGLEDGER_PRODUCTION_RETRY_GRACE" default:"2m"`
	RetryBatchSize   int           `envconfig:"MFGLEDGER_PRODUCTION_RETRY_BATCH_SIZE" default:"100"`
}

type ReconcileConfig struct {
	Limit           int           `envconfig:"MFGLEDGER_RECONCILE_LIMIT" default:"250"`
	Lookback        time.Duration `envconfig:"MFGLEDGER_RECONCILE_LOOKBACK" default:"168h"`
	Grace           time.Duration `envconfig:"MFGLEDGER_RECONCILE_GRACE" default:"5m"`
	LinkLegacy      bool          `envconfig:"MFGLEDGER_RECONCILE_LINK_LEGACY" default:"false"`
	LegacyWindow    time.Duration `envconfig:"MFGLEDGER_RECONCILE_LEGACY_WINDOW" default:"10m"`
	LegacyTolerance string        `envconfig:"MFGLEDGER_RECONCILE_LEGACY_TOLERANCE" default:"0.01"`
}

// CronConfig sets the cadence of each scheduled job in the cron worker.
type CronConfig struct {
	ReconcileEvery       time.Duration `envconfig:"MFGLEDGER_CRON_RECONCILE_EVERY" default:"15m"`
	ProductionRetryEvery time.Duration `envconfig:"MFGLEDGER_CRON_PRODUCTION_RETRY_EVERY" default:"1m"`
	OutboxRetentionEvery time.Duration `envconfig:"MFGLEDGER_CRON_OUTBOX_RETENTION_EVERY" default:"1h"`
}

// Tolerance parses LegacyTolerance; validate has already rejected bad values.
func (r ReconcileConfig) Tolerance() decimal.Decimal {
	tol, err := decimal.NewFromString(strings.TrimSpace(r.LegacyTolerance))
	if err != nil {
		return decimal.Zero
	}
	return tol
}

func (r ReconcileConfig) validate() error {
	if strings.TrimSpace(r.LegacyTolerance) == "" {
		return nil
	}
	tol, err := decimal.NewFromString(strings.TrimSpace(r.LegacyTolerance))
	if err != nil {
		return fmt.Errorf("%s: %w", EnvReconcileLegacyTolerance, err)
	}
	if tol.IsNegative() {
		return fmt.Errorf("%s must not be negative", EnvReconcileLegacyTolerance)
	}
	return nil
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" {
		return nil
	}
	if useSQLite {
		db.DSN = defaultSQLiteDSN
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
