// Package config defines the top-level configuration for the concord server
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CONCORD_* environment variables.
type Config struct {
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Market    MarketConfig    `toml:"market"`
	Consensus ConsensusConfig `toml:"consensus"`
	Feeds     FeedsConfig     `toml:"feeds"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Auth      AuthConfig      `toml:"auth"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// S3Config holds S3-compatible object storage parameters for audit archives.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled       bool     `toml:"enabled"`
	Port          int      `toml:"port"`
	CORSOrigins   []string `toml:"cors_origins"`
	RateLimit     int      `toml:"rate_limit"`
	RateWindow    duration `toml:"rate_window"`
	ReadTimeout   duration `toml:"read_timeout"`
	WriteTimeout  duration `toml:"write_timeout"`
	ShutdownGrace duration `toml:"shutdown_grace"`
}

// MarketConfig holds market and payout parameters. Amounts are decimal
// strings in whole tokens.
type MarketConfig struct {
	MinStake  string `toml:"min_stake"`
	FeeRateBp int64  `toml:"fee_rate_bp"`
}

// ConsensusConfig holds sample aggregation parameters.
type ConsensusConfig struct {
	Staleness       duration `toml:"staleness"`
	OutlierBp       int64    `toml:"outlier_bp"`
	RefreshInterval duration `toml:"refresh_interval"`
}

// FeedsConfig holds the external price poller parameters. The pollers
// submit samples on behalf of a configured reporter address.
type FeedsConfig struct {
	Enabled          bool     `toml:"enabled"`
	PollInterval     duration `toml:"poll_interval"`
	CoingeckoHost    string   `toml:"coingecko_host"`
	CoingeckoCoins   []string `toml:"coingecko_coins"`
	ExchangeRateHost string   `toml:"exchangerate_host"`
	ExchangeRateBase string   `toml:"exchangerate_base"`
	FiatSymbols      []string `toml:"fiat_symbols"`
	ReporterAddress  string   `toml:"reporter_address"`
	RequestTimeout   duration `toml:"request_timeout"`
}

// PipelineConfig holds background job schedules.
type PipelineConfig struct {
	Enabled              bool   `toml:"enabled"`
	ExpirySweepCron      string `toml:"expiry_sweep_cron"`
	ArchiveCron          string `toml:"archive_cron"`
	ArchiveRetentionDays int    `toml:"archive_retention_days"`
}

// AuthConfig holds operator credentials. Admins are hex addresses; ApiKeys
// maps an operator address to a pbkdf2 hash of its API key.
type AuthConfig struct {
	Admins  []string          `toml:"admins"`
	ApiKeys map[string]string `toml:"api_keys"`
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
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "concord",
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
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "concord-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:       true,
			Port:          8000,
			CORSOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:     60,
			RateWindow:    duration{time.Minute},
			ReadTimeout:   duration{15 * time.Second},
			WriteTimeout:  duration{30 * time.Second},
			ShutdownGrace: duration{10 * time.Second},
		},
		Market: MarketConfig{
			MinStake:  "1",
			FeeRateBp: 200,
		},
		Consensus: ConsensusConfig{
			Staleness:       duration{5 * time.Minute},
			OutlierBp:       2000,
			RefreshInterval: duration{time.Minute},
		},
		Feeds: FeedsConfig{
			Enabled:          false,
			PollInterval:     duration{2 * time.Minute},
			CoingeckoHost:    "https://api.coingecko.com",
			CoingeckoCoins:   []string{"bitcoin", "ethereum"},
			ExchangeRateHost: "https://open.er-api.com",
			ExchangeRateBase: "USD",
			FiatSymbols:      []string{"EUR", "GBP", "JPY"},
			RequestTimeout:   duration{10 * time.Second},
		},
		Pipeline: PipelineConfig{
			Enabled:              true,
			ExpirySweepCron:      "*/5 * * * *",
			ArchiveCron:          "0 3 * * *",
			ArchiveRetentionDays: 90,
		},
		Auth: AuthConfig{
			ApiKeys: map[string]string{},
		},
		Notify: NotifyConfig{
			Events: []string{"market_settled", "reward_claimed", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":   true,
	"pipeline": true,
	"dev":      true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, pipeline, dev, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres and redis are not needed in dev mode, which runs on the
	// in-memory store.
	if c.Mode != "dev" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}

		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}

		if c.Pipeline.Enabled {
			if c.S3.Endpoint == "" {
				errs = append(errs, "s3: endpoint must not be empty")
			}
			if c.S3.Bucket == "" {
				errs = append(errs, "s3: bucket must not be empty")
			}
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 1 {
			errs = append(errs, "server: rate_limit must be >= 1")
		}
		if c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive")
		}
	}

	if c.Market.FeeRateBp < 0 || c.Market.FeeRateBp > 10000 {
		errs = append(errs, fmt.Sprintf("market: fee_rate_bp must be 0-10000, got %d", c.Market.FeeRateBp))
	}
	if strings.TrimSpace(c.Market.MinStake) == "" {
		errs = append(errs, "market: min_stake must not be empty")
	}

	if c.Consensus.Staleness.Duration <= 0 {
		errs = append(errs, "consensus: staleness must be positive")
	}
	if c.Consensus.OutlierBp <= 0 || c.Consensus.OutlierBp > 10000 {
		errs = append(errs, fmt.Sprintf("consensus: outlier_bp must be 1-10000, got %d", c.Consensus.OutlierBp))
	}

	if c.Feeds.Enabled {
		if c.Feeds.PollInterval.Duration <= 0 {
			errs = append(errs, "feeds: poll_interval must be positive")
		}
		if !common.IsHexAddress(c.Feeds.ReporterAddress) {
			errs = append(errs, fmt.Sprintf("feeds: reporter_address %q is not a hex address", c.Feeds.ReporterAddress))
		}
	}

	if len(c.Auth.Admins) == 0 {
		errs = append(errs, "auth: at least one admin address is required")
	}
	for _, a := range c.Auth.Admins {
		if !common.IsHexAddress(a) {
			errs = append(errs, fmt.Sprintf("auth: admin %q is not a hex address", a))
		}
	}
	for addr := range c.Auth.ApiKeys {
		if !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Sprintf("auth: api_keys key %q is not a hex address", addr))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// AdminAddresses parses Auth.Admins into addresses. Call Validate first; bad
// entries are skipped here.
func (c *Config) AdminAddresses() []common.Address {
	out := make([]common.Address, 0, len(c.Auth.Admins))
	for _, a := range c.Auth.Admins {
		if common.IsHexAddress(a) {
			out = append(out, common.HexToAddress(a))
		}
	}
	return out
}
