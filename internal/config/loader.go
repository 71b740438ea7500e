package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CONCORD_* environment variable overrides, and
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

// applyEnvOverrides reads well-known CONCORD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "CONCORD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CONCORD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CONCORD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CONCORD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CONCORD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CONCORD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CONCORD_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CONCORD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CONCORD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CONCORD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CONCORD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CONCORD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CONCORD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CONCORD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CONCORD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CONCORD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "CONCORD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CONCORD_S3_REGION")
	setStr(&cfg.S3.Bucket, "CONCORD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CONCORD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CONCORD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CONCORD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CONCORD_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CONCORD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CONCORD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CONCORD_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "CONCORD_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "CONCORD_SERVER_RATE_WINDOW")

	// ── Market ──
	setStr(&cfg.Market.MinStake, "CONCORD_MARKET_MIN_STAKE")
	setInt64(&cfg.Market.FeeRateBp, "CONCORD_MARKET_FEE_RATE_BP")

	// ── Consensus ──
	setDuration(&cfg.Consensus.Staleness, "CONCORD_CONSENSUS_STALENESS")
	setInt64(&cfg.Consensus.OutlierBp, "CONCORD_CONSENSUS_OUTLIER_BP")
	setDuration(&cfg.Consensus.RefreshInterval, "CONCORD_CONSENSUS_REFRESH_INTERVAL")

	// ── Feeds ──
	setBool(&cfg.Feeds.Enabled, "CONCORD_FEEDS_ENABLED")
	setDuration(&cfg.Feeds.PollInterval, "CONCORD_FEEDS_POLL_INTERVAL")
	setStr(&cfg.Feeds.CoingeckoHost, "CONCORD_FEEDS_COINGECKO_HOST")
	setStringSlice(&cfg.Feeds.CoingeckoCoins, "CONCORD_FEEDS_COINGECKO_COINS")
	setStr(&cfg.Feeds.ExchangeRateHost, "CONCORD_FEEDS_EXCHANGERATE_HOST")
	setStr(&cfg.Feeds.ExchangeRateBase, "CONCORD_FEEDS_EXCHANGERATE_BASE")
	setStringSlice(&cfg.Feeds.FiatSymbols, "CONCORD_FEEDS_FIAT_SYMBOLS")
	setStr(&cfg.Feeds.ReporterAddress, "CONCORD_FEEDS_REPORTER_ADDRESS")

	// ── Pipeline ──
	setBool(&cfg.Pipeline.Enabled, "CONCORD_PIPELINE_ENABLED")
	setStr(&cfg.Pipeline.ExpirySweepCron, "CONCORD_PIPELINE_EXPIRY_SWEEP_CRON")
	setStr(&cfg.Pipeline.ArchiveCron, "CONCORD_PIPELINE_ARCHIVE_CRON")
	setInt(&cfg.Pipeline.ArchiveRetentionDays, "CONCORD_PIPELINE_ARCHIVE_RETENTION_DAYS")

	// ── Auth ──
	setStringSlice(&cfg.Auth.Admins, "CONCORD_AUTH_ADMINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CONCORD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CONCORD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CONCORD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CONCORD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "CONCORD_MODE")
	setStr(&cfg.LogLevel, "CONCORD_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
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

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
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
