// Package config defines the top-level configuration for the harvest daemon
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by HARVESTD_* environment variables.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Ingest   IngestConfig   `toml:"ingest"`
	Harvest  HarvestConfig  `toml:"harvest"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds object storage parameters for report archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// IngestConfig holds transfer-event ingestion parameters.
type IngestConfig struct {
	Enabled          bool     `toml:"enabled"`
	UserID           string   `toml:"user_id"`
	Addresses        []string `toml:"addresses"` // watched wallet addresses (hex)
	PrimaryProvider  string   `toml:"primary_provider"` // "alchemy" or "moralis"
	AlchemyAPIKey    string   `toml:"alchemy_api_key"`
	MoralisAPIKey    string   `toml:"moralis_api_key"`
	Chains           []string `toml:"chains"`
	WebhookSecret    string   `toml:"webhook_secret"` // enables signed transfer pushes when set
	BackfillDays     int      `toml:"backfill_days"`
	RateLimitPerSec  int      `toml:"rate_limit_per_sec"`
	RetryBaseSeconds float64  `toml:"retry_base_seconds"`
	RetryMaxSeconds  float64  `toml:"retry_max_seconds"`
	RetryMaxAttempts int      `toml:"retry_max_attempts"`
	StreamLag        duration `toml:"stream_lag"`
}

// HarvestConfig holds the injectable pipeline parameters: eligibility
// thresholds, tax rate, and tier cutoffs. None of these are hard-coded in the
// engine because jurisdictional and per-user variation is a first-class
// requirement.
type HarvestConfig struct {
	TaxRate            float64 `toml:"tax_rate"`
	MinLossUSD         float64 `toml:"min_loss_usd"`
	MinLiquidity       int     `toml:"min_liquidity"`
	MinRiskScore       int     `toml:"min_risk_score"`
	MarginalCutoffUSD  float64 `toml:"marginal_cutoff_usd"`
	LongTermDays       int     `toml:"long_term_days"`
	WashSaleWindowDays int     `toml:"wash_sale_window_days"`
	Parallelism        int     `toml:"parallelism"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	APIKey          string   `toml:"api_key"`
	CORSOrigins     []string `toml:"cors_origins"`
	RateLimitPerSec int      `toml:"rate_limit_per_sec"` // 0 disables rate limiting
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "harvestd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "harvestd-reports",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Ingest: IngestConfig{
			Enabled:          false,
			PrimaryProvider:  "alchemy",
			Chains:           []string{"ethereum"},
			BackfillDays:     7,
			RateLimitPerSec:  10,
			RetryBaseSeconds: 0.5,
			RetryMaxSeconds:  30,
			RetryMaxAttempts: 5,
			StreamLag:        duration{15 * time.Second},
		},
		Harvest: HarvestConfig{
			TaxRate:            0.24,
			MinLossUSD:         20,
			MinLiquidity:       50,
			MinRiskScore:       3,
			MarginalCutoffUSD:  10,
			LongTermDays:       365,
			WashSaleWindowDays: 30,
			Parallelism:        4,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8080,
			RateLimitPerSec: 0,
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// Validate checks the configuration for fatal errors. Configuration errors
// are rejected here, at the call boundary, before any computation starts.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "serve", "ingest", "harvest", "full":
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}

	if c.Harvest.TaxRate < 0 || c.Harvest.TaxRate > 1 {
		return fmt.Errorf("config: harvest.tax_rate must be in [0,1], got %g", c.Harvest.TaxRate)
	}
	if c.Harvest.MinLossUSD < 0 {
		return fmt.Errorf("config: harvest.min_loss_usd must not be negative, got %g", c.Harvest.MinLossUSD)
	}
	if c.Harvest.MinLiquidity < 0 || c.Harvest.MinLiquidity > 100 {
		return fmt.Errorf("config: harvest.min_liquidity must be in [0,100], got %d", c.Harvest.MinLiquidity)
	}
	if c.Harvest.MinRiskScore < 0 || c.Harvest.MinRiskScore > 10 {
		return fmt.Errorf("config: harvest.min_risk_score must be in [0,10], got %d", c.Harvest.MinRiskScore)
	}
	if c.Harvest.MarginalCutoffUSD < 0 {
		return fmt.Errorf("config: harvest.marginal_cutoff_usd must not be negative, got %g", c.Harvest.MarginalCutoffUSD)
	}
	if c.Harvest.LongTermDays < 0 {
		return fmt.Errorf("config: harvest.long_term_days must not be negative, got %d", c.Harvest.LongTermDays)
	}

	if c.Ingest.Enabled {
		switch c.Ingest.PrimaryProvider {
		case "alchemy", "moralis":
		default:
			return fmt.Errorf("config: ingest.primary_provider must be alchemy or moralis, got %q", c.Ingest.PrimaryProvider)
		}
		if len(c.Ingest.Chains) == 0 {
			return fmt.Errorf("config: ingest.chains must not be empty when ingest is enabled")
		}
		if c.Ingest.UserID == "" {
			return fmt.Errorf("config: ingest.user_id is required when ingest is enabled")
		}
		if len(c.Ingest.Addresses) == 0 {
			return fmt.Errorf("config: ingest.addresses must not be empty when ingest is enabled")
		}
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("config: server.port must be in (0,65535], got %d", c.Server.Port)
	}

	return nil
}
