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
// built-in defaults, applies IQSESSION_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known IQSESSION_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Broker ──
	setStr(&cfg.Broker.Host, "IQSESSION_BROKER_HOST")
	setStr(&cfg.Broker.Username, "IQSESSION_BROKER_USERNAME")
	setStr(&cfg.Broker.Password, "IQSESSION_BROKER_PASSWORD")
	setStr(&cfg.Broker.EncryptedPasswordPath, "IQSESSION_BROKER_ENCRYPTED_PASSWORD_PATH")
	setStr(&cfg.Broker.PasswordKey, "IQSESSION_BROKER_PASSWORD_KEY")
	setInt(&cfg.Broker.ClientPlatformID, "IQSESSION_BROKER_CLIENT_PLATFORM_ID")
	setStr(&cfg.Broker.Account, "IQSESSION_BROKER_ACCOUNT")

	// ── Session ──
	setStringSlice(&cfg.Session.InstrumentTypes, "IQSESSION_SESSION_INSTRUMENT_TYPES")
	setStringSlice(&cfg.Session.TopAssetTypes, "IQSESSION_SESSION_TOP_ASSET_TYPES")
	setDuration(&cfg.Session.HandshakeTimeout, "IQSESSION_SESSION_HANDSHAKE_TIMEOUT")
	setDuration(&cfg.Session.WriteWait, "IQSESSION_SESSION_WRITE_WAIT")
	setDuration(&cfg.Session.StopLossThrottle, "IQSESSION_SESSION_STOPLOSS_THROTTLE")
	setDuration(&cfg.Session.LockTTL, "IQSESSION_SESSION_LOCK_TTL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "IQSESSION_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Postgres.DSN, "IQSESSION_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "IQSESSION_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "IQSESSION_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "IQSESSION_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "IQSESSION_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "IQSESSION_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "IQSESSION_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "IQSESSION_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "IQSESSION_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "IQSESSION_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "IQSESSION_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "IQSESSION_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "IQSESSION_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "IQSESSION_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "IQSESSION_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "IQSESSION_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "IQSESSION_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.TickTTL, "IQSESSION_REDIS_TICK_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "IQSESSION_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "IQSESSION_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "IQSESSION_S3_REGION")
	setStr(&cfg.S3.Bucket, "IQSESSION_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "IQSESSION_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "IQSESSION_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "IQSESSION_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "IQSESSION_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "IQSESSION_S3_PREFIX")
	setDuration(&cfg.S3.ArchiveInterval, "IQSESSION_S3_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "IQSESSION_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "IQSESSION_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "IQSESSION_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "IQSESSION_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "IQSESSION_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "IQSESSION_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "IQSESSION_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "IQSESSION_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "IQSESSION_MODE")
	setStr(&cfg.LogLevel, "IQSESSION_LOG_LEVEL")
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
