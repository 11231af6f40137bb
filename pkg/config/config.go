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
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Kafka        KafkaConfig
	Outbox       OutboxConfig
	Monnify      MonnifyConfig
	Wallet       WalletConfig
	Reservation  ReservationConfig
	Abandonment  AbandonmentConfig
	Settlement   SettlementConfig
	Payments     PaymentsConfig
	RateLimit    RateLimitConfig
	Telemetry    TelemetryConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Eventing.validate(); err != nil {
		return nil, err
	}
	if cfg.App.IsProd() {
		if err := cfg.hardenForProd(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// hardenForProd keeps logs machine-readable and refuses to accept payment
// webhooks without a signing secret.
func (c *Config) hardenForProd() error {
	c.App.LogFormat = "json"
	if c.Monnify.SigningSecret() == "" {
		return fmt.Errorf("%s or %s is required in %s", EnvMonnifyWebhook, EnvMonnifySecretKey, AppEnvProd)
	}
	return nil
}

type AppConfig struct {
	Env          string `envconfig:"SHOPCORE_APP_ENV" required:"true"`
	Port         string `envconfig:"SHOPCORE_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"SHOPCORE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SHOPCORE_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"SHOPCORE_LOG_FORMAT" default:"json"`

	CORSOrigins []string `envconfig:"SHOPCORE_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SHOPCORE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SHOPCORE_DB_DSN"`
	Driver string `envconfig:"SHOPCORE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SHOPCORE_DB_HOST"`
	LegacyPort     int    `envconfig:"SHOPCORE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SHOPCORE_DB_USER"`
	LegacyPassword string `envconfig:"SHOPCORE_DB_PASSWORD"`
	LegacyName     string `envconfig:"SHOPCORE_DB_NAME"`
	LegacySSLMode  string `envconfig:"SHOPCORE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SHOPCORE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SHOPCORE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SHOPCORE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SHOPCORE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SHOPCORE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SHOPCORE_REDIS_ADDR"`
	Password     string        `envconfig:"SHOPCORE_REDIS_PASSWORD"`
	DB           int           `envconfig:"SHOPCORE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SHOPCORE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SHOPCORE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SHOPCORE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SHOPCORE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SHOPCORE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies tokens minted by the external identity service.
type JWTConfig struct {
	Secret            string `envconfig:"SHOPCORE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"SHOPCORE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"SHOPCORE_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SHOPCORE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SHOPCORE_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	Transport            string        `envconfig:"SHOPCORE_EVENTING_TRANSPORT" default:"pubsub"`
	OutboxIdempotencyTTL time.Duration `envconfig:"SHOPCORE_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

// UsesKafka reports whether the outbox publisher ships events to Kafka instead of Pub/Sub.
func (e EventingConfig) UsesKafka() bool {
	return strings.EqualFold(strings.TrimSpace(e.Transport), TransportKafka)
}

func (e EventingConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(e.Transport)) {
	case TransportPubSub, TransportKafka:
		return nil
	}
	return fmt.Errorf("%s must be one of %s|%s", EnvEventingTransport, TransportPubSub, TransportKafka)
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SHOPCORE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"SHOPCORE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SHOPCORE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic            string `envconfig:"SHOPCORE_PUBSUB_ORDERS_TOPIC" default:"sc-order-events"`
	PaymentsTopic          string `envconfig:"SHOPCORE_PUBSUB_PAYMENTS_TOPIC" default:"sc-payment-events"`
	InventoryTopic         string `envconfig:"SHOPCORE_PUBSUB_INVENTORY_TOPIC" default:"sc-inventory-events"`
	NotificationTopic      string `envconfig:"SHOPCORE_PUBSUB_NOTIFICATION_TOPIC" default:"sc-notification-events"`
	SettlementSubscription string `envconfig:"SHOPCORE_PUBSUB_SETTLEMENT_SUBSCRIPTION" default:"sc-settlement-worker"`
}

type KafkaConfig struct {
	Brokers      []string      `envconfig:"SHOPCORE_KAFKA_BROKERS"`
	ClientID     string        `envconfig:"SHOPCORE_KAFKA_CLIENT_ID" default:"shopcore"`
	BatchTimeout time.Duration `envconfig:"SHOPCORE_KAFKA_BATCH_TIMEOUT" default:"100ms"`
	// SettlementGroupID is the consumer group used by the settlement worker.
	SettlementGroupID string `envconfig:"SHOPCORE_KAFKA_SETTLEMENT_GROUP_ID" default:"sc-settlement-worker"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"SHOPCORE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"SHOPCORE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"SHOPCORE_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"SHOPCORE_OUTBOX_RETENTION_DAYS" default:"30"`
}

// MonnifyConfig holds the payment gateway credentials.
type MonnifyConfig struct {
	BaseURL        string        `envconfig:"SHOPCORE_MONNIFY_BASE_URL" default:"https://sandbox.monnify.com"`
	APIKey         string        `envconfig:"SHOPCORE_MONNIFY_API_KEY"`
	SecretKey      string        `envconfig:"SHOPCORE_MONNIFY_SECRET_KEY"`
	ContractCode   string        `envconfig:"SHOPCORE_MONNIFY_CONTRACT_CODE"`
	WebhookSecret  string        `envconfig:"SHOPCORE_MONNIFY_WEBHOOK_SECRET"`
	RequestTimeout time.Duration `envconfig:"SHOPCORE_MONNIFY_REQUEST_TIMEOUT" default:"15s"`
	TokenLeeway    time.Duration `envconfig:"SHOPCORE_MONNIFY_TOKEN_LEEWAY" default:"60s"`
	CurrencyCode   string        `envconfig:"SHOPCORE_MONNIFY_CURRENCY" default:"NGN"`
}

// SigningSecret returns the secret used to verify inbound webhooks. Monnify signs
// with the client secret key unless a dedicated webhook secret is configured.
func (m MonnifyConfig) SigningSecret() string {
	if secret := strings.TrimSpace(m.WebhookSecret); secret != "" {
		return secret
	}
	return strings.TrimSpace(m.SecretKey)
}

type WalletConfig struct {
	BaseURL        string        `envconfig:"SHOPCORE_WALLET_BASE_URL" default:"http://localhost:8090"`
	APIKey         string        `envconfig:"SHOPCORE_WALLET_API_KEY"`
	RequestTimeout time.Duration `envconfig:"SHOPCORE_WALLET_REQUEST_TIMEOUT" default:"10s"`
}

type ReservationConfig struct {
	CartTTL           time.Duration `envconfig:"SHOPCORE_RESERVATION_CART_TTL" default:"15m"`
	CheckoutExtension time.Duration `envconfig:"SHOPCORE_RESERVATION_CHECKOUT_EXTENSION" default:"30m"`
	SweepInterval     time.Duration `envconfig:"SHOPCORE_RESERVATION_SWEEP_INTERVAL" default:"1m"`
	SweepBatchSize    int           `envconfig:"SHOPCORE_RESERVATION_SWEEP_BATCH_SIZE" default:"200"`
}

type AbandonmentConfig struct {
	Interval        time.Duration `envconfig:"SHOPCORE_ABANDONMENT_INTERVAL" default:"1h"`
	IdleThreshold   time.Duration `envconfig:"SHOPCORE_ABANDONMENT_IDLE_THRESHOLD" default:"1h"`
	ReminderSpacing time.Duration `envconfig:"SHOPCORE_ABANDONMENT_REMINDER_SPACING" default:"24h"`
	Retention       time.Duration `envconfig:"SHOPCORE_ABANDONMENT_RETENTION" default:"168h"`
	BatchSize       int           `envconfig:"SHOPCORE_ABANDONMENT_BATCH_SIZE" default:"100"`
}

type SettlementConfig struct {
	DefaultRevenueSharePercent float64 `envconfig:"SHOPCORE_SETTLEMENT_DEFAULT_REVENUE_SHARE" default:"95"`
	// RevenueShareOverrides maps business ids to their negotiated share, e.g. "<uuid>:97.5".
	RevenueShareOverrides map[string]float64 `envconfig:"SHOPCORE_SETTLEMENT_REVENUE_SHARE_OVERRIDES"`
}

type PaymentsConfig struct {
	StaleReconcileAge  time.Duration `envconfig:"SHOPCORE_PAYMENTS_STALE_RECONCILE_AGE" default:"30m"`
	ReconcileBatchSize int           `envconfig:"SHOPCORE_PAYMENTS_RECONCILE_BATCH_SIZE" default:"50"`
	WebhookWorkers     int           `envconfig:"SHOPCORE_PAYMENTS_WEBHOOK_WORKERS" default:"4"`
	WebhookQueueSize   int           `envconfig:"SHOPCORE_PAYMENTS_WEBHOOK_QUEUE_SIZE" default:"256"`
	WebhookTimeout     time.Duration `envconfig:"SHOPCORE_PAYMENTS_WEBHOOK_TIMEOUT" default:"30s"`
	WebhookDedupTTL    time.Duration `envconfig:"SHOPCORE_PAYMENTS_WEBHOOK_DEDUP_TTL" default:"168h"`
	WebhookMaxReplays  int           `envconfig:"SHOPCORE_PAYMENTS_WEBHOOK_MAX_REPLAYS" default:"5"`
}

// RateLimitConfig throttles the routes that fan out to the payment gateway.
// A zero limit disables that scope.
type RateLimitConfig struct {
	Window             time.Duration `envconfig:"SHOPCORE_RATE_LIMIT_WINDOW" default:"1m"`
	PaymentsIPLimit    int           `envconfig:"SHOPCORE_RATE_LIMIT_PAYMENTS_IP" default:"120"`
	PaymentsActorLimit int           `envconfig:"SHOPCORE_RATE_LIMIT_PAYMENTS_ACTOR" default:"20"`
}

type TelemetryConfig struct {
	Enabled      bool   `envconfig:"SHOPCORE_OTEL_ENABLED" default:"false"`
	OTLPEndpoint string `envconfig:"SHOPCORE_OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4317"`
	Version      string `envconfig:"SHOPCORE_SERVICE_VERSION" default:"dev"`
}

func (db *DBConfig) ensureDSN(sqlite bool) error {
	if sqlite {
		db.Driver = DriverSQLite
		if db.DSN == "" {
			db.DSN = "file:shopcore.db?cache=shared"
		}
		return nil
	}
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
