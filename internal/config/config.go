// Package config defines the engine's configuration and validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/pulsemarkets/pulse/internal/domain"
)

// Config is the root configuration. Fields are populated from a TOML file
// and then optionally overridden by PULSE_* environment variables.
type Config struct {
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	Chain      ChainConfig      `toml:"chain"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Trading    TradingConfig    `toml:"trading"`
	Fees       FeesConfig       `toml:"fees"`
	Impact     ImpactConfig     `toml:"impact"`
	Settlement SettlementConfig `toml:"settlement"`
	Archive    ArchiveConfig    `toml:"archive"`
	Notify     NotifyConfig     `toml:"notify"`
	Store      string           `toml:"store"` // "memory" or "postgres"
	LogLevel   string           `toml:"log_level"`
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

// RedisConfig holds Redis connection parameters. When disabled, the engine
// runs without distributed locks, mark-price caching, or pub/sub fan-out.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// ChainConfig holds settlement-chain endpoint and signing key parameters.
type ChainConfig struct {
	BaseURL          string   `toml:"base_url"`
	ChainID          int64    `toml:"chain_id"`
	PrivateKey       string   `toml:"private_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	Timeout          duration `toml:"timeout"`
}

// S3Config holds S3-compatible object storage parameters.
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
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// TradingConfig holds ledger execution parameters.
type TradingConfig struct {
	MaxLeverage          float64  `toml:"max_leverage"`
	LiquidationThreshold float64  `toml:"liquidation_threshold"`
	PlatformPoolID       string   `toml:"platform_pool_id"`
	LockTTL              duration `toml:"lock_ttl"`
}

// FeesConfig holds the fee engine parameters.
type FeesConfig struct {
	Rate          float64 `toml:"rate"`
	ReferrerShare float64 `toml:"referrer_share"`
	MinimumFee    float64 `toml:"minimum_fee"`
}

// ImpactConfig holds the trade-impact aggregation parameters.
type ImpactConfig struct {
	VolumeNormalizer float64  `toml:"volume_normalizer"`
	MaxImpact        float64  `toml:"max_impact"`
	Interval         duration `toml:"interval"`
}

// SettlementConfig selects the settlement mode and batch parameters.
type SettlementConfig struct {
	Mode      string `toml:"mode"` // "offchain", "onchain", "hybrid"
	BatchSize int    `toml:"batch_size"`
	Cron      string `toml:"cron"` // hybrid batch sweep schedule
}

// ArchiveConfig holds the trade-history archive job parameters.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration with TOML string decoding ("5m", "30s").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the values from
// config.example.toml.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "pulse",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		Chain: ChainConfig{
			ChainID: 137,
			Timeout: duration{15 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "pulse-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Trading: TradingConfig{
			MaxLeverage:          20,
			LiquidationThreshold: 0.2,
			LockTTL:              duration{10 * time.Second},
		},
		Fees: FeesConfig{
			Rate:          0.001,
			ReferrerShare: 0.5,
			MinimumFee:    0.01,
		},
		Impact: ImpactConfig{
			VolumeNormalizer: 100_000,
			MaxImpact:        0.05,
			Interval:         duration{30 * time.Second},
		},
		Settlement: SettlementConfig{
			Mode:      "offchain",
			BatchSize: 50,
			Cron:      "*/5 * * * *",
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Cron:          "0 3 1 * *",
		},
		Store:    "memory",
		LogLevel: "info",
	}
}

var validStores = map[string]bool{
	"memory":   true,
	"postgres": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the Config and returns a combined error describing every
// problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validStores[strings.ToLower(c.Store)] {
		errs = append(errs, fmt.Sprintf("unknown store %q (valid: memory, postgres)", c.Store))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if strings.ToLower(c.Store) == "postgres" {
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns < 0 || c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	mode, err := domain.ParseSettlementMode(c.Settlement.Mode)
	if err != nil {
		errs = append(errs, fmt.Sprintf("settlement: %v", err))
	} else if mode != domain.SettlementOffchain {
		if c.Chain.BaseURL == "" {
			errs = append(errs, "chain: base_url is required for settlement mode "+string(mode))
		}
		if c.Chain.PrivateKey == "" && c.Chain.EncryptedKeyPath == "" {
			errs = append(errs, "chain: either private_key or encrypted_key_path must be set for settlement mode "+string(mode))
		}
		if c.Chain.EncryptedKeyPath != "" && c.Chain.KeyPassword == "" {
			errs = append(errs, "chain: key_password is required when encrypted_key_path is set")
		}
		if c.Chain.ChainID <= 0 {
			errs = append(errs, "chain: chain_id must be positive")
		}
	}
	if c.Settlement.BatchSize < 1 {
		errs = append(errs, "settlement: batch_size must be >= 1")
	}

	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archiving is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Cron == "" {
			errs = append(errs, "archive: cron must not be empty when archiving is enabled")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if c.Trading.MaxLeverage < 1 {
		errs = append(errs, "trading: max_leverage must be >= 1")
	}
	if c.Trading.LiquidationThreshold <= 0 || c.Trading.LiquidationThreshold >= 1 {
		errs = append(errs, "trading: liquidation_threshold must be in (0, 1)")
	}

	if c.Fees.Rate < 0 || c.Fees.Rate >= 1 {
		errs = append(errs, "fees: rate must be in [0, 1)")
	}
	if c.Fees.ReferrerShare < 0 || c.Fees.ReferrerShare > 1 {
		errs = append(errs, "fees: referrer_share must be in [0, 1]")
	}
	if c.Fees.MinimumFee < 0 {
		errs = append(errs, "fees: minimum_fee must not be negative")
	}

	if c.Impact.VolumeNormalizer <= 0 {
		errs = append(errs, "impact: volume_normalizer must be positive")
	}
	if c.Impact.MaxImpact <= 0 || c.Impact.MaxImpact >= 1 {
		errs = append(errs, "impact: max_impact must be in (0, 1)")
	}
	if c.Impact.Interval.Duration <= 0 {
		errs = append(errs, "impact: interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
