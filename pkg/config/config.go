package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "shoplane"

	AppEnvDev  = "development"
	AppEnvProd = "production"

	EnvAppEnv = "SHOPLANE_APP_ENV"
	EnvPort   = "SHOPLANE_APP_PORT"
	EnvDBDSN  = "SHOPLANE_DB_DSN"
	EnvDBHost = "SHOPLANE_DB_HOST"
	EnvDBUser = "SHOPLANE_DB_USER"
	EnvDBName = "SHOPLANE_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Stripe       StripeConfig
	Checkout     CheckoutConfig
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
	Env          string `envconfig:"SHOPLANE_APP_ENV" required:"true"`
	Port         string `envconfig:"SHOPLANE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SHOPLANE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SHOPLANE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"SHOPLANE_DB_DSN"`
	Driver string `envconfig:"SHOPLANE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SHOPLANE_DB_HOST"`
	LegacyPort     int    `envconfig:"SHOPLANE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SHOPLANE_DB_USER"`
	LegacyPassword string `envconfig:"SHOPLANE_DB_PASSWORD"`
	LegacyName     string `envconfig:"SHOPLANE_DB_NAME"`
	LegacySSLMode  string `envconfig:"SHOPLANE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SHOPLANE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SHOPLANE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SHOPLANE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SHOPLANE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SHOPLANE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SHOPLANE_REDIS_ADDR"`
	Password     string        `envconfig:"SHOPLANE_REDIS_PASSWORD"`
	DB           int           `envconfig:"SHOPLANE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SHOPLANE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SHOPLANE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SHOPLANE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SHOPLANE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SHOPLANE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"SHOPLANE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"SHOPLANE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"SHOPLANE_JWT_EXPIRATION_MINUTES" default:"60"`
}

type StripeConfig struct {
	APIKey string `envconfig:"SHOPLANE_STRIPE_API_KEY"`
	Env    string `envconfig:"SHOPLANE_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type CheckoutConfig struct {
	Currency        string `envconfig:"SHOPLANE_CHECKOUT_CURRENCY" default:"usd"`
	RestockOnCancel bool   `envconfig:"SHOPLANE_CHECKOUT_RESTOCK_ON_CANCEL" default:"false"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"SHOPLANE_AUTO_MIGRATE" default:"false"`
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
