// Package config defines the top-level configuration for the trading session
// client and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by IQSESSION_* environment variables.
type Config struct {
	Broker   BrokerConfig   `toml:"broker"`
	Session  SessionConfig  `toml:"session"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// BrokerConfig holds the broker host and account credentials.
type BrokerConfig struct {
	Host                  string `toml:"host"`
	Username              string `toml:"username"`
	Password              string `toml:"password"`
	EncryptedPasswordPath string `toml:"encrypted_password_path"`
	PasswordKey           string `toml:"password_key"`
	ClientPlatformID      int    `toml:"client_platform_id"`
	// Account selects "real" or "practice"; empty keeps the server's choice.
	Account string `toml:"account"`
}

// SessionConfig holds session protocol parameters.
type SessionConfig struct {
	InstrumentTypes  []string `toml:"instrument_types"`
	TopAssetTypes    []string `toml:"top_asset_types"`
	HandshakeTimeout duration `toml:"handshake_timeout"`
	WriteWait        duration `toml:"write_wait"`
	StopLossThrottle duration `toml:"stoploss_throttle"`
	// LockTTL bounds how long the single-session lock survives a crash.
	LockTTL duration `toml:"lock_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	TickTTL    duration `toml:"tick_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
	// ArchiveInterval is the period between closed-position uploads.
	ArchiveInterval duration `toml:"archive_interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "500ms", "30s").
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Broker: BrokerConfig{
			Host:             "iqoption.com",
			ClientPlatformID: 9,
		},
		Session: SessionConfig{
			InstrumentTypes:  []string{"cfd", "forex", "crypto", "digital-option"},
			TopAssetTypes:    []string{"forex", "crypto", "binary"},
			HandshakeTimeout: duration{15 * time.Second},
			WriteWait:        duration{10 * time.Second},
			StopLossThrottle: duration{500 * time.Millisecond},
			LockTTL:          duration{time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			TickTTL:    duration{10 * time.Minute},
		},
		S3: S3Config{
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "iqsession-data",
			ForcePathStyle:  true,
			Prefix:          "archive",
			ArchiveInterval: duration{time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"position_closed", "error"},
		},
		Mode:     "session",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"session": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validInstrumentTypes = map[string]bool{
	"forex":          true,
	"crypto":         true,
	"cfd":            true,
	"digital-option": true,
	"binary":         true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: session, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Broker
	if c.Broker.Host == "" {
		errs = append(errs, "broker: host must not be empty")
	}
	if c.Broker.Username == "" {
		errs = append(errs, "broker: username must not be empty")
	}
	if c.Broker.Password == "" && c.Broker.EncryptedPasswordPath == "" {
		errs = append(errs, "broker: either password or encrypted_password_path must be set")
	}
	if c.Broker.EncryptedPasswordPath != "" && c.Broker.PasswordKey == "" {
		errs = append(errs, "broker: password_key is required when encrypted_password_path is set")
	}
	switch strings.ToLower(c.Broker.Account) {
	case "", "real", "practice":
	default:
		errs = append(errs, fmt.Sprintf("broker: account must be real or practice, got %q", c.Broker.Account))
	}

	// Session
	for _, t := range c.Session.InstrumentTypes {
		if !validInstrumentTypes[t] {
			errs = append(errs, fmt.Sprintf("session: unknown instrument type %q", t))
		}
	}
	for _, t := range c.Session.TopAssetTypes {
		if !validInstrumentTypes[t] {
			errs = append(errs, fmt.Sprintf("session: unknown top asset type %q", t))
		}
	}
	if c.Session.StopLossThrottle.Duration < 0 {
		errs = append(errs, "session: stoploss_throttle must be >= 0")
	}
	if c.Session.HandshakeTimeout.Duration <= 0 {
		errs = append(errs, "session: handshake_timeout must be > 0")
	}

	// Postgres
	if c.Postgres.Enabled {
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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.ArchiveInterval.Duration <= 0 {
			errs = append(errs, "s3: archive_interval must be > 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
