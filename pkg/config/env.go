package config

const (
	EnvPrefix = "MFGLEDGER"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "MFGLEDGER_APP_ENV"
	EnvPort     = "MFGLEDGER_APP_PORT"
	EnvLogLevel = "MFGLEDGER_LOG_LEVEL"

	EnvDBDSN  = "MFGLEDGER_DB_DSN"
	EnvDBHost = "MFGLEDGER_DB_HOST"
	EnvDBUser = "MFGLEDGER_DB_USER"
	EnvDBName = "MFGLEDGER_DB_NAME"

	EnvRedisURL  = "MFGLEDGER_REDIS_URL"
	EnvUseSQLite = "MFGLEDGER_USE_SQLITE"

	EnvLedgerAllowNegative = "MFGLEDGER_LEDGER_ALLOW_NEGATIVE_STOCK"
	EnvLedgerInlineApply   = "MFGLEDGER_LEDGER_INLINE_APPLY"

	EnvReconcileLimit           = "MFGLEDGER_RECONCILE_LIMIT"
	EnvReconcileLegacyTolerance = "MFGLEDGER_RECONCILE_LEGACY_TOLERANCE"

	EnvPubSubProductionTopic = "MFGLEDGER_PUBSUB_PRODUCTION_TOPIC"
	EnvPubSubProductionSub   = "MFGLEDGER_PUBSUB_PRODUCTION_SUBSCRIPTION"

	defaultSQLiteDSN = "file:mfg_ledger.db?cache=shared"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
