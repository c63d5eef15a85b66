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
	FeatureFlags FeatureFlagsConfig
	MoMo         MoMoConfig
	Frontend     FrontendConfig
	Payments     PaymentsConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.MoMo.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"MUSICX_APP_ENV" required:"true"`
	Port         string   `envconfig:"MUSICX_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"MUSICX_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"MUSICX_LOG_WARN_STACK" default:"false"`
	LogFormat    string   `envconfig:"MUSICX_LOG_FORMAT" default:"json"`
	CORSOrigins  []string `envconfig:"MUSICX_CORS_ALLOWED_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev) || strings.EqualFold(a.Env, "development")
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type DBConfig struct {
	DSN    string `envconfig:"MUSICX_DB_DSN"`
	Driver string `envconfig:"MUSICX_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"MUSICX_DB_HOST"`
	Port     int    `envconfig:"MUSICX_DB_PORT" default:"5432"`
	User     string `envconfig:"MUSICX_DB_USER"`
	Password string `envconfig:"MUSICX_DB_PASSWORD"`
	Name     string `envconfig:"MUSICX_DB_NAME"`
	SSLMode  string `envconfig:"MUSICX_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MUSICX_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MUSICX_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MUSICX_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MUSICX_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"MUSICX_DB_SLOW_QUERY_THRESHOLD" default:"250ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MUSICX_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MUSICX_REDIS_ADDR"`
	Password     string        `envconfig:"MUSICX_REDIS_PASSWORD"`
	DB           int           `envconfig:"MUSICX_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MUSICX_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MUSICX_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MUSICX_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MUSICX_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MUSICX_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"MUSICX_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"MUSICX_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"MUSICX_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"MUSICX_AUTO_MIGRATE" default:"false"`
}

// MoMoConfig holds the credentials and callback URLs of the payment gateway.
type MoMoConfig struct {
	PartnerCode      string        `envconfig:"MUSICX_MOMO_PARTNER_CODE"`
	AccessKey        string        `envconfig:"MUSICX_MOMO_ACCESS_KEY"`
	SecretKey        string        `envconfig:"MUSICX_MOMO_SECRET_KEY"`
	APIURL           string        `envconfig:"MUSICX_MOMO_API_URL" default:"https://test-payment.momo.vn/v2/gateway/api/create"`
	ReturnURL        string        `envconfig:"MUSICX_MOMO_RETURN_URL"`
	NotifyURL        string        `envconfig:"MUSICX_MOMO_NOTIFY_URL"`
	RequestType      string        `envconfig:"MUSICX_MOMO_REQUEST_TYPE" default:"captureWallet"`
	Lang             string        `envconfig:"MUSICX_MOMO_LANG" default:"vi"`
	RequestTimeout   time.Duration `envconfig:"MUSICX_MOMO_REQUEST_TIMEOUT" default:"10s"`
	RequireSignature bool          `envconfig:"MUSICX_MOMO_REQUIRE_SIGNATURE" default:"true"`
}

// Enabled reports whether enough credentials are configured to talk to the gateway.
func (m MoMoConfig) Enabled() bool {
	return m.PartnerCode != "" && m.AccessKey != "" && m.SecretKey != ""
}

func (m MoMoConfig) validate() error {
	if !m.Enabled() {
		return nil
	}
	missing := []string{}
	if strings.TrimSpace(m.ReturnURL) == "" {
		missing = append(missing, EnvMoMoReturnURL)
	}
	if strings.TrimSpace(m.NotifyURL) == "" {
		missing = append(missing, EnvMoMoNotifyURL)
	}
	if len(missing) > 0 {
		return fmt.Errorf("momo gateway configured but %s missing", strings.Join(missing, ", "))
	}
	return nil
}

type FrontendConfig struct {
	ReturnURL string `envconfig:"MUSICX_FRONTEND_RETURN_URL" default:"http://localhost:3000/payment-result"`
}

type PaymentsConfig struct {
	PendingPaymentTTL       time.Duration `envconfig:"MUSICX_PAYMENTS_PENDING_TTL" default:"30m"`
	NotifyDedupeTTL         time.Duration `envconfig:"MUSICX_PAYMENTS_NOTIFY_DEDUPE_TTL" default:"72h"`
	NotifyReplayMaxAttempts int           `envconfig:"MUSICX_PAYMENTS_NOTIFY_REPLAY_MAX_ATTEMPTS" default:"5"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"MUSICX_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"MUSICX_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"MUSICX_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"MUSICX_OUTBOX_RETENTION_DAYS" default:"30"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"MUSICX_CRON_INTERVAL" default:"1m"`
	LockTTL  time.Duration `envconfig:"MUSICX_CRON_LOCK_TTL" default:"5m"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"MUSICX_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"MUSICX_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	OrdersTopic string `envconfig:"MUSICX_PUBSUB_ORDERS_TOPIC" default:"musicx-order-events"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range discreteDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
