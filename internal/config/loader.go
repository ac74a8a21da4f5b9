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
// built-in defaults, and applies PULSE_* environment variable overrides.
// The returned Config has NOT been validated; call Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env if present; missing files are fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields from well-known PULSE_*
// environment variables so operators can inject secrets at deploy time
// without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Database.DSN, "PULSE_DATABASE_DSN")
	setStr(&cfg.Database.Host, "PULSE_DATABASE_HOST")
	setInt(&cfg.Database.Port, "PULSE_DATABASE_PORT")
	setStr(&cfg.Database.Database, "PULSE_DATABASE_NAME")
	setStr(&cfg.Database.User, "PULSE_DATABASE_USER")
	setStr(&cfg.Database.Password, "PULSE_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "PULSE_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "PULSE_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "PULSE_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "PULSE_DATABASE_RUN_MIGRATIONS")

	setBool(&cfg.Redis.Enabled, "PULSE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PULSE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PULSE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PULSE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PULSE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PULSE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PULSE_REDIS_TLS_ENABLED")

	setStr(&cfg.Chain.BaseURL, "PULSE_CHAIN_BASE_URL")
	setInt64(&cfg.Chain.ChainID, "PULSE_CHAIN_ID")
	setStr(&cfg.Chain.PrivateKey, "PULSE_CHAIN_PRIVATE_KEY")
	setStr(&cfg.Chain.EncryptedKeyPath, "PULSE_CHAIN_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Chain.KeyPassword, "PULSE_CHAIN_KEY_PASSWORD")
	setDuration(&cfg.Chain.Timeout, "PULSE_CHAIN_TIMEOUT")

	setStr(&cfg.S3.Endpoint, "PULSE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PULSE_S3_REGION")
	setStr(&cfg.S3.Bucket, "PULSE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PULSE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PULSE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PULSE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PULSE_S3_FORCE_PATH_STYLE")

	setBool(&cfg.Server.Enabled, "PULSE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PULSE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PULSE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PULSE_SERVER_API_KEY")

	setFloat64(&cfg.Trading.MaxLeverage, "PULSE_TRADING_MAX_LEVERAGE")
	setFloat64(&cfg.Trading.LiquidationThreshold, "PULSE_TRADING_LIQUIDATION_THRESHOLD")
	setStr(&cfg.Trading.PlatformPoolID, "PULSE_TRADING_PLATFORM_POOL_ID")
	setDuration(&cfg.Trading.LockTTL, "PULSE_TRADING_LOCK_TTL")

	setFloat64(&cfg.Fees.Rate, "PULSE_FEES_RATE")
	setFloat64(&cfg.Fees.ReferrerShare, "PULSE_FEES_REFERRER_SHARE")
	setFloat64(&cfg.Fees.MinimumFee, "PULSE_FEES_MINIMUM_FEE")

	setFloat64(&cfg.Impact.VolumeNormalizer, "PULSE_IMPACT_VOLUME_NORMALIZER")
	setFloat64(&cfg.Impact.MaxImpact, "PULSE_IMPACT_MAX_IMPACT")
	setDuration(&cfg.Impact.Interval, "PULSE_IMPACT_INTERVAL")

	setStr(&cfg.Settlement.Mode, "PULSE_SETTLEMENT_MODE")
	setInt(&cfg.Settlement.BatchSize, "PULSE_SETTLEMENT_BATCH_SIZE")
	setStr(&cfg.Settlement.Cron, "PULSE_SETTLEMENT_CRON")

	setBool(&cfg.Archive.Enabled, "PULSE_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "PULSE_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "PULSE_ARCHIVE_CRON")

	setStr(&cfg.Notify.TelegramToken, "PULSE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PULSE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PULSE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PULSE_NOTIFY_EVENTS")

	setStr(&cfg.Store, "PULSE_STORE")
	setStr(&cfg.LogLevel, "PULSE_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the variable is
// present and non-empty.

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
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
