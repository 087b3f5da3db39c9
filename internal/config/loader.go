package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies HARVESTD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known HARVESTD_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This lets
// operators inject secrets at deploy time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.DSN, "HARVESTD_DATABASE_DSN")
	setStr(&cfg.Database.Host, "HARVESTD_DATABASE_HOST")
	setInt(&cfg.Database.Port, "HARVESTD_DATABASE_PORT")
	setStr(&cfg.Database.Database, "HARVESTD_DATABASE_NAME")
	setStr(&cfg.Database.User, "HARVESTD_DATABASE_USER")
	setStr(&cfg.Database.Password, "HARVESTD_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "HARVESTD_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "HARVESTD_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "HARVESTD_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "HARVESTD_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "HARVESTD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "HARVESTD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "HARVESTD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "HARVESTD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "HARVESTD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "HARVESTD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "HARVESTD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "HARVESTD_S3_REGION")
	setStr(&cfg.S3.Bucket, "HARVESTD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "HARVESTD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "HARVESTD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "HARVESTD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "HARVESTD_S3_FORCE_PATH_STYLE")

	// ── Ingest ──
	setBool(&cfg.Ingest.Enabled, "HARVESTD_INGEST_ENABLED")
	setStr(&cfg.Ingest.UserID, "HARVESTD_INGEST_USER_ID")
	setStringSlice(&cfg.Ingest.Addresses, "HARVESTD_INGEST_ADDRESSES")
	setStr(&cfg.Ingest.PrimaryProvider, "HARVESTD_INGEST_PRIMARY_PROVIDER")
	setStr(&cfg.Ingest.AlchemyAPIKey, "HARVESTD_INGEST_ALCHEMY_API_KEY")
	setStr(&cfg.Ingest.MoralisAPIKey, "HARVESTD_INGEST_MORALIS_API_KEY")
	setStr(&cfg.Ingest.WebhookSecret, "HARVESTD_INGEST_WEBHOOK_SECRET")
	setStringSlice(&cfg.Ingest.Chains, "HARVESTD_INGEST_CHAINS")
	setInt(&cfg.Ingest.BackfillDays, "HARVESTD_INGEST_BACKFILL_DAYS")
	setInt(&cfg.Ingest.RateLimitPerSec, "HARVESTD_INGEST_RATE_LIMIT_PER_SEC")

	// ── Harvest ──
	setFloat64(&cfg.Harvest.TaxRate, "HARVESTD_HARVEST_TAX_RATE")
	setFloat64(&cfg.Harvest.MinLossUSD, "HARVESTD_HARVEST_MIN_LOSS_USD")
	setInt(&cfg.Harvest.MinLiquidity, "HARVESTD_HARVEST_MIN_LIQUIDITY")
	setInt(&cfg.Harvest.MinRiskScore, "HARVESTD_HARVEST_MIN_RISK_SCORE")
	setFloat64(&cfg.Harvest.MarginalCutoffUSD, "HARVESTD_HARVEST_MARGINAL_CUTOFF_USD")
	setInt(&cfg.Harvest.LongTermDays, "HARVESTD_HARVEST_LONG_TERM_DAYS")
	setInt(&cfg.Harvest.WashSaleWindowDays, "HARVESTD_HARVEST_WASH_SALE_WINDOW_DAYS")
	setInt(&cfg.Harvest.Parallelism, "HARVESTD_HARVEST_PARALLELISM")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "HARVESTD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "HARVESTD_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "HARVESTD_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "HARVESTD_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimitPerSec, "HARVESTD_SERVER_RATE_LIMIT_PER_SEC")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "HARVESTD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "HARVESTD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "HARVESTD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "HARVESTD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "HARVESTD_MODE")
	setStr(&cfg.LogLevel, "HARVESTD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
