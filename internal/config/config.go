package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds configuration for the gateway.
type Config struct {
	HTTPPort         string `envconfig:"HTTP_PORT" default:"8080"`
	LogLevel         string `envconfig:"LOG_LEVEL" default:"info"`
	CredentialSecret string `envconfig:"CREDENTIAL_SECRET"`
	CallerJWTSecret  string `envconfig:"CALLER_JWT_SECRET"`
	OnlyListedModels bool   `envconfig:"ONLY_LISTED_MODELS" default:"false"`
	CatalogFile      string `envconfig:"CATALOG_FILE"`
	RateLimitPerMin  int    `envconfig:"RATE_LIMIT_PER_MINUTE" default:"0"`

	Database DatabaseConfig `envconfig:"DATABASE"`
	Cache    CacheConfig    `envconfig:"CACHE"`
	Redis    RedisConfig    `envconfig:"REDIS"`
	Provider ProviderConfig `envconfig:"PROVIDER"`
	Billing  BillingConfig  `envconfig:"BILLING"`
	Recorder RecorderConfig `envconfig:"RECORDER"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string        `envconfig:"DRIVER" default:"postgres"`
	URL             string        `envconfig:"URL"`
	MaxOpenConns    int           `envconfig:"MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"CONN_MAX_LIFETIME" default:"5m"`
	ConnMaxIdleTime time.Duration `envconfig:"CONN_MAX_IDLE_TIME" default:"1m"`
	AutoMigrate     bool          `envconfig:"AUTO_MIGRATE" default:"true"`
}

// CacheConfig holds cache settings
type CacheConfig struct {
	Size          int           `envconfig:"SIZE" default:"1000"`
	CredentialTTL time.Duration `envconfig:"CREDENTIAL_TTL" default:"5m"`
	ProviderTTL   time.Duration `envconfig:"PROVIDER_TTL" default:"5m"`
	ModelRateTTL  time.Duration `envconfig:"MODEL_RATE_TTL" default:"10m"`
	CreditTTL     time.Duration `envconfig:"CREDIT_TTL" default:"1m"`
	MeterTTL      time.Duration `envconfig:"METER_TTL" default:"30m"`
	SweepSchedule string        `envconfig:"SWEEP_SCHEDULE" default:"@every 1m"`
}

// RedisConfig holds Redis connection settings. An empty Address disables Redis.
type RedisConfig struct {
	Address      string        `envconfig:"ADDRESS"`
	Password     string        `envconfig:"PASSWORD"`
	DB           int           `envconfig:"DB" default:"0"`
	PoolSize     int           `envconfig:"POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"3s"`
}

// ProviderConfig holds provider-related settings
type ProviderConfig struct {
	MaxRetries     int           `envconfig:"MAX_RETRIES" default:"3"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"60s"`
	// StreamIdleTimeout bounds the silence between two chunks of a stream.
	StreamIdleTimeout time.Duration `envconfig:"STREAM_IDLE_TIMEOUT" default:"60s"`
}

// BillingConfig controls the credit gate and the ledger client.
type BillingConfig struct {
	Enabled       bool          `envconfig:"ENABLED" default:"false"`
	BasePrice     float64       `envconfig:"BASE_PRICE" default:"1"`
	LedgerURL     string        `envconfig:"LEDGER_URL"`
	LedgerAPIKey  string        `envconfig:"LEDGER_API_KEY"`
	LedgerTimeout time.Duration `envconfig:"LEDGER_TIMEOUT" default:"10s"`
	MeterName     string        `envconfig:"METER_NAME" default:"ai-credits"`
}

// RecorderConfig tunes the usage, call and meter queue workers.
type RecorderConfig struct {
	QueueSize      int           `envconfig:"QUEUE_SIZE" default:"10000"`
	BatchSize      int           `envconfig:"BATCH_SIZE" default:"100"`
	MaxRetries     int           `envconfig:"MAX_RETRIES" default:"3"`
	RetryBackoff   time.Duration `envconfig:"RETRY_BACKOFF" default:"500ms"`
	EnqueueTimeout time.Duration `envconfig:"ENQUEUE_TIMEOUT" default:"1s"`
	ProcessTimeout time.Duration `envconfig:"PROCESS_TIMEOUT" default:"5s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	switch strings.ToLower(c.Database.Driver) {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.Database.Driver)
	}
	if c.CredentialSecret == "" {
		return fmt.Errorf("CREDENTIAL_SECRET is required")
	}
	if c.Billing.Enabled && c.Billing.LedgerURL == "" {
		return fmt.Errorf("BILLING_LEDGER_URL is required when BILLING_ENABLED is set")
	}
	if c.Provider.MaxRetries < 1 {
		return fmt.Errorf("PROVIDER_MAX_RETRIES must be at least 1")
	}
	return nil
}
