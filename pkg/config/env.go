package config

const (
	EnvPrefix = "SHOPCORE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	TransportPubSub = "pubsub"
	TransportKafka  = "kafka"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	EnvAppEnv             = "SHOPCORE_APP_ENV"
	EnvPort               = "SHOPCORE_APP_PORT"
	EnvLogLevel           = "SHOPCORE_LOG_LEVEL"
	EnvDBDSN              = "SHOPCORE_DB_DSN"
	EnvDBHost             = "SHOPCORE_DB_HOST"
	EnvDBPort             = "SHOPCORE_DB_PORT"
	EnvDBUser             = "SHOPCORE_DB_USER"
	EnvDBPassword         = "SHOPCORE_DB_PASSWORD"
	EnvDBName             = "SHOPCORE_DB_NAME"
	EnvRedisURL           = "SHOPCORE_REDIS_URL"
	EnvJWTSecret          = "SHOPCORE_JWT_SECRET"
	EnvJWTIssuer          = "SHOPCORE_JWT_ISSUER"
	EnvUseSQLite          = "SHOPCORE_USE_SQLITE"
	EnvEventingTransport  = "SHOPCORE_EVENTING_TRANSPORT"
	EnvGCPProjectID       = "SHOPCORE_GCP_PROJECT_ID"
	EnvKafkaBrokers       = "SHOPCORE_KAFKA_BROKERS"
	EnvMonnifyAPIKey      = "SHOPCORE_MONNIFY_API_KEY"
	EnvMonnifySecretKey   = "SHOPCORE_MONNIFY_SECRET_KEY"
	EnvMonnifyWebhook     = "SHOPCORE_MONNIFY_WEBHOOK_SECRET"
	EnvMonnifyTimeout     = "SHOPCORE_MONNIFY_REQUEST_TIMEOUT"
	EnvReservationCartTTL = "SHOPCORE_RESERVATION_CART_TTL"
	EnvSettlementShare    = "SHOPCORE_SETTLEMENT_DEFAULT_REVENUE_SHARE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
