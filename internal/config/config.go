package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Server
	Port        int    `envconfig:"PORT" default:"3000" validate:"min=1,max=65535"`
	Environment string `envconfig:"ENV" default:"development"`

	// Database
	DatabaseURL         string        `envconfig:"DATABASE_URL" required:"true"`
	DatabaseMaxConns    int32         `envconfig:"DATABASE_MAX_CONNS" default:"25" validate:"min=1"`
	DatabaseLockTimeout time.Duration `envconfig:"DATABASE_LOCK_TIMEOUT" default:"2s"`

	// Security
	AdminJWTSecret string        `envconfig:"ADMIN_JWT_SECRET" required:"true" validate:"min=16"`
	AdminJWTIssuer string        `envconfig:"ADMIN_JWT_ISSUER" default:"hookgate"`
	AdminTokenTTL  time.Duration `envconfig:"ADMIN_TOKEN_TTL" default:"12h"`

	// Admission
	SourcesFile    string `envconfig:"SOURCES_FILE" default:"config/sources.toml"`
	RateLimitStore string `envconfig:"RATE_LIMIT_STORE" default:"postgres" validate:"oneof=postgres memory"`

	// Events
	NATSURL string `envconfig:"NATS_URL"`

	// Alerting
	AlertWebhookURL    string `envconfig:"ALERT_WEBHOOK_URL" validate:"omitempty,url"`
	AlertWebhookSecret string `envconfig:"ALERT_WEBHOOK_SECRET" validate:"required_with=AlertWebhookURL"`

	// Archive
	ArchiveS3Bucket   string `envconfig:"ARCHIVE_S3_BUCKET"`
	ArchiveS3Region   string `envconfig:"ARCHIVE_S3_REGION" default:"us-east-1"`
	ArchiveS3Endpoint string `envconfig:"ARCHIVE_S3_ENDPOINT" validate:"omitempty,url"`
	ArchiveS3Prefix   string `envconfig:"ARCHIVE_S3_PREFIX"`

	// Admin API
	StatsCacheTTL time.Duration `envconfig:"STATS_CACHE_TTL" default:"30s"`
}

// Load reads an optional env file (ENV_FILE, default .env) and then the
// process environment. Variables already set are never overridden by the file.
func Load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// DatabaseConfig is the subset of Config needed by cmd/migrate
type DatabaseConfig struct {
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
}

// LoadDatabase reads only DATABASE_URL, so migrations run without the
// service secrets
func LoadDatabase() (*DatabaseConfig, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}

	var cfg DatabaseConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

func loadEnvFile() error {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", envFile, err)
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ArchiveEnabled reports whether ledger rows are archived before purge
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveS3Bucket != ""
}

// AlertsEnabled reports whether alerts are posted to a webhook
func (c *Config) AlertsEnabled() bool {
	return c.AlertWebhookURL != ""
}
