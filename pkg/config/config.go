package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/tavolahq/tavola-backend/pkg/enums"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Stripe       StripeConfig
	DoorDash     DoorDashConfig
	GoogleMaps   GoogleMapsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Loyalty      LoyaltyConfig
	Pickup       PickupLocation
	Orders       OrdersConfig
	Cron         CronConfig
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
	Env          string `envconfig:"TAVOLA_APP_ENV" required:"true"`
	Port         string `envconfig:"TAVOLA_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"TAVOLA_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TAVOLA_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"TAVOLA_DB_DSN"`
	Driver string `envconfig:"TAVOLA_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"TAVOLA_DB_HOST"`
	LegacyPort     int    `envconfig:"TAVOLA_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"TAVOLA_DB_USER"`
	LegacyPassword string `envconfig:"TAVOLA_DB_PASSWORD"`
	LegacyName     string `envconfig:"TAVOLA_DB_NAME"`
	LegacySSLMode  string `envconfig:"TAVOLA_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TAVOLA_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TAVOLA_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TAVOLA_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TAVOLA_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"TAVOLA_REDIS_URL" required:"true"`
	Address      string        `envconfig:"TAVOLA_REDIS_ADDR"`
	Password     string        `envconfig:"TAVOLA_REDIS_PASSWORD"`
	DB           int           `envconfig:"TAVOLA_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TAVOLA_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TAVOLA_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TAVOLA_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TAVOLA_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TAVOLA_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// StripeConfig carries both credential pairs; the environment used for a
// given request is chosen per request, never from a stored default.
type StripeConfig struct {
	LiveAPIKey        string `envconfig:"TAVOLA_STRIPE_LIVE_API_KEY"`
	TestAPIKey        string `envconfig:"TAVOLA_STRIPE_TEST_API_KEY"`
	LiveWebhookSecret string `envconfig:"TAVOLA_STRIPE_LIVE_WEBHOOK_SECRET"`
	TestWebhookSecret string `envconfig:"TAVOLA_STRIPE_TEST_WEBHOOK_SECRET"`
	ConnectAccountID  string `envconfig:"TAVOLA_STRIPE_CONNECT_ACCOUNT_ID"`
	ApplicationFeeBPS int    `envconfig:"TAVOLA_STRIPE_APPLICATION_FEE_BPS" default:"0"`
}

// APIKey returns the secret key for the requested environment.
func (s StripeConfig) APIKey(environment enums.Environment) string {
	if environment.IsProduction() {
		return s.LiveAPIKey
	}
	return s.TestAPIKey
}

// WebhookSecrets returns the signing secrets in verification order:
// production first, then test.
func (s StripeConfig) WebhookSecrets() []EnvironmentSecret {
	return environmentSecrets(s.LiveWebhookSecret, s.TestWebhookSecret)
}

// DoorDashConfig holds the Drive API credentials for both modes.
type DoorDashConfig struct {
	DeveloperID             string        `envconfig:"TAVOLA_DOORDASH_DEVELOPER_ID"`
	ProductionKeyID         string        `envconfig:"TAVOLA_DOORDASH_PRODUCTION_KEY_ID"`
	ProductionSigningSecret string        `envconfig:"TAVOLA_DOORDASH_PRODUCTION_SIGNING_SECRET"`
	SandboxKeyID            string        `envconfig:"TAVOLA_DOORDASH_SANDBOX_KEY_ID"`
	SandboxSigningSecret    string        `envconfig:"TAVOLA_DOORDASH_SANDBOX_SIGNING_SECRET"`
	ProductionWebhookSecret string        `envconfig:"TAVOLA_DOORDASH_PRODUCTION_WEBHOOK_SECRET"`
	TestWebhookSecret       string        `envconfig:"TAVOLA_DOORDASH_TEST_WEBHOOK_SECRET"`
	BaseURL                 string        `envconfig:"TAVOLA_DOORDASH_BASE_URL" default:"https://openapi.doordash.com/drive/v2"`
	RequestTimeout          time.Duration `envconfig:"TAVOLA_DOORDASH_REQUEST_TIMEOUT" default:"10s"`
}

// Credentials returns the key id and signing secret for the requested mode.
func (d DoorDashConfig) Credentials(environment enums.Environment) (keyID, signingSecret string) {
	if environment.IsProduction() {
		return d.ProductionKeyID, d.ProductionSigningSecret
	}
	return d.SandboxKeyID, d.SandboxSigningSecret
}

// WebhookSecrets returns the webhook secrets in verification order:
// production first, then test.
func (d DoorDashConfig) WebhookSecrets() []EnvironmentSecret {
	return environmentSecrets(d.ProductionWebhookSecret, d.TestWebhookSecret)
}

// EnvironmentSecret pairs a webhook secret with the environment it selects.
type EnvironmentSecret struct {
	Environment enums.Environment
	Secret      string
}

func environmentSecrets(production, test string) []EnvironmentSecret {
	secrets := []EnvironmentSecret{}
	if strings.TrimSpace(production) != "" {
		secrets = append(secrets, EnvironmentSecret{Environment: enums.EnvironmentProduction, Secret: production})
	}
	if strings.TrimSpace(test) != "" {
		secrets = append(secrets, EnvironmentSecret{Environment: enums.EnvironmentTest, Secret: test})
	}
	return secrets
}

type GoogleMapsConfig struct {
	APIKey  string `envconfig:"TAVOLA_GOOGLE_MAPS_API_KEY"`
	Country string `envconfig:"TAVOLA_GOOGLE_MAPS_COUNTRY" default:"US"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"TAVOLA_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"TAVOLA_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	NotificationTopic string `envconfig:"TAVOLA_PUBSUB_NOTIFICATION_TOPIC" default:"tv-order-notifications"`
}

type LoyaltyConfig struct {
	StarRate string `envconfig:"TAVOLA_LOYALTY_STAR_RATE" default:"1"`
}

// PickupLocation is the restaurant's pickup point handed to the courier
// provider on every dispatch.
type PickupLocation struct {
	BusinessName string `envconfig:"TAVOLA_PICKUP_BUSINESS_NAME"`
	Address      string `envconfig:"TAVOLA_PICKUP_ADDRESS"`
	Phone        string `envconfig:"TAVOLA_PICKUP_PHONE"`
	Instructions string `envconfig:"TAVOLA_PICKUP_INSTRUCTIONS"`
}

type OrdersConfig struct {
	CustomerCancelWindow time.Duration `envconfig:"TAVOLA_ORDERS_CUSTOMER_CANCEL_WINDOW" default:"3m"`
	TimerMaxDelay        time.Duration `envconfig:"TAVOLA_ORDERS_TIMER_MAX_DELAY" default:"2h"`
	QuoteTTL             time.Duration `envconfig:"TAVOLA_ORDERS_QUOTE_TTL" default:"10m"`
	SessionIntentTTL     time.Duration `envconfig:"TAVOLA_ORDERS_SESSION_INTENT_TTL" default:"1h"`
	StalePollAfter       time.Duration `envconfig:"TAVOLA_ORDERS_STALE_POLL_AFTER" default:"60s"`
}

type CronConfig struct {
	SharedSecret  string        `envconfig:"TAVOLA_CRON_SHARED_SECRET"`
	Interval      time.Duration `envconfig:"TAVOLA_CRON_INTERVAL" default:"1m"`
	SweepWindow   time.Duration `envconfig:"TAVOLA_CRON_SWEEP_WINDOW" default:"24h"`
	SweepPageSize int           `envconfig:"TAVOLA_CRON_SWEEP_PAGE_SIZE" default:"100"`
	WebhookGuard  time.Duration `envconfig:"TAVOLA_CRON_WEBHOOK_GUARD_TTL" default:"72h"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"TAVOLA_AUTO_MIGRATE" default:"false"`
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
