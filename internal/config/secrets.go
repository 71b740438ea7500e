package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices and maps so callers cannot mutate the original through the
	// redacted copy.
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	}
	if cfg.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	}
	if cfg.Auth.Admins != nil {
		out.Auth.Admins = append([]string(nil), cfg.Auth.Admins...)
	}
	if cfg.Auth.ApiKeys != nil {
		out.Auth.ApiKeys = make(map[string]string, len(cfg.Auth.ApiKeys))
		for addr := range cfg.Auth.ApiKeys {
			out.Auth.ApiKeys[addr] = redacted
		}
	}
	if cfg.Feeds.CoingeckoCoins != nil {
		out.Feeds.CoingeckoCoins = append([]string(nil), cfg.Feeds.CoingeckoCoins...)
	}
	if cfg.Feeds.FiatSymbols != nil {
		out.Feeds.FiatSymbols = append([]string(nil), cfg.Feeds.FiatSymbols...)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
