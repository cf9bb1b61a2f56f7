package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	Port                  string        `mapstructure:"PORT"`
	Env                   string        `mapstructure:"ENV"`
	LogLevel              string        `mapstructure:"LOG_LEVEL"`
	Storage               string        `mapstructure:"STORAGE"`
	DatabaseURL           string        `mapstructure:"DATABASE_URL"`
	DBMaxConns            int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns            int32         `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir         string        `mapstructure:"MIGRATIONS_DIR"`
	RedisURL              string        `mapstructure:"REDIS_URL"`
	KafkaBrokers          []string      `mapstructure:"KAFKA_BROKERS"`
	ReferralEventsTopic   string        `mapstructure:"REFERRAL_EVENTS_TOPIC"`
	AuthIssuer            string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL           string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience          string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey        string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins           []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS          float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst        int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit             string        `mapstructure:"BODY_LIMIT"`
	RequestTimeout        time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	SyncProviderTimeout   time.Duration `mapstructure:"SYNC_PROVIDER_TIMEOUT"`
	VerificationStaleDays int           `mapstructure:"VERIFICATION_STALE_DAYS"`
	SandboxSeedResources  int           `mapstructure:"SANDBOX_SEED_RESOURCES"`

	FindhelpAPIKey     string `mapstructure:"FINDHELP_API_KEY"`
	FindhelpAPIURL     string `mapstructure:"FINDHELP_API_URL"`
	FindhelpProviderID string `mapstructure:"FINDHELP_PROVIDER_ID"`

	TwoOneOneAPIKey         string `mapstructure:"TWOONEONE_API_KEY"`
	TwoOneOneAPIURL         string `mapstructure:"TWOONEONE_API_URL"`
	TwoOneOneOrganizationID string `mapstructure:"TWOONEONE_ORGANIZATION_ID"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "STORAGE",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "MIGRATIONS_DIR",
	"REDIS_URL", "KAFKA_BROKERS", "REFERRAL_EVENTS_TOPIC",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT",
	"REQUEST_TIMEOUT", "SYNC_PROVIDER_TIMEOUT", "VERIFICATION_STALE_DAYS",
	"SANDBOX_SEED_RESOURCES",
	"FINDHELP_API_KEY", "FINDHELP_API_URL", "FINDHELP_PROVIDER_ID",
	"TWOONEONE_API_KEY", "TWOONEONE_API_URL", "TWOONEONE_ORGANIZATION_ID",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORAGE", "") // "" -> postgres when DATABASE_URL is set, memory otherwise
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("REFERRAL_EVENTS_TOPIC", "sdoh.referral.events")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("SYNC_PROVIDER_TIMEOUT", "2m")
	v.SetDefault("VERIFICATION_STALE_DAYS", 90)
	v.SetDefault("FINDHELP_API_URL", "https://api.findhelp.com/v1")
	v.SetDefault("TWOONEONE_API_URL", "https://api.211.org/resources/v2")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers, v.GetString("KAFKA_BROKERS"))

	if cfg.Storage == "" {
		cfg.Storage = StorageMemory
		if cfg.DatabaseURL != "" {
			cfg.Storage = StoragePostgres
		}
	}

	return cfg, nil
}

// splitList trims a comma separated list. The raw string is used when
// viper decoded nothing.
func splitList(parsed []string, raw string) []string {
	joined := strings.Join(parsed, ",")
	if joined == "" {
		joined = raw
	}
	var out []string
	for _, s := range strings.Split(joined, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// UsePostgres reports whether repositories are backed by Postgres.
func (c *Config) UsePostgres() bool {
	return c.Storage == StoragePostgres
}

// Validate checks that the configuration is safe to run. Outside development
// a token verification source is required, and production refuses the
// shared-secret signing key.
func (c *Config) Validate() error {
	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE is %q", StoragePostgres)
		}
	default:
		return fmt.Errorf("STORAGE must be %q or %q, got %q", StorageMemory, StoragePostgres, c.Storage)
	}

	if !c.IsDev() && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
		return fmt.Errorf(
			"AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when ENV=%q. "+
				"Refusing to start without authentication configuration", c.Env)
	}
	if c.IsProduction() && c.AuthSigningKey != "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is for development and testing only; use AUTH_JWKS_URL in production")
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if c.SyncProviderTimeout <= 0 {
		return fmt.Errorf("SYNC_PROVIDER_TIMEOUT must be positive, got %s", c.SyncProviderTimeout)
	}
	if c.VerificationStaleDays <= 0 {
		return fmt.Errorf("VERIFICATION_STALE_DAYS must be positive, got %d", c.VerificationStaleDays)
	}
	if c.SandboxSeedResources < 0 {
		return fmt.Errorf("SANDBOX_SEED_RESOURCES must not be negative, got %d", c.SandboxSeedResources)
	}
	if c.SandboxSeedResources > 0 && !c.IsDev() {
		return fmt.Errorf("SANDBOX_SEED_RESOURCES is only allowed when ENV=development")
	}

	return nil
}
