package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/pulsemarkets/pulse/internal/blob/s3"
	"github.com/pulsemarkets/pulse/internal/cache/redis"
	"github.com/pulsemarkets/pulse/internal/chain"
	"github.com/pulsemarkets/pulse/internal/config"
	"github.com/pulsemarkets/pulse/internal/domain"
	"github.com/pulsemarkets/pulse/internal/notify"
	"github.com/pulsemarkets/pulse/internal/settlement"
	"github.com/pulsemarkets/pulse/internal/store/memory"
	"github.com/pulsemarkets/pulse/internal/store/postgres"
)

// Dependencies bundles every infrastructure-level dependency the engine
// needs. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	Store domain.Store

	// Redis-backed; nil when redis is disabled. The engine degrades to
	// single-instance operation without them.
	PriceCache  domain.PriceCache
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	Bridge   *settlement.Bridge
	Archiver *s3blob.Archiver
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// releases resources in reverse construction order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Primary store ---
	switch strings.ToLower(cfg.Store) {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Store = postgres.NewStore(pgClient)
	default:
		deps.Store = memory.New()
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	}

	// --- Settlement bridge ---
	mode, err := domain.ParseSettlementMode(cfg.Settlement.Mode)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %w", err)
	}

	var chainLedger domain.ChainLedger
	if mode != domain.SettlementOffchain {
		key, err := chain.LoadKey(chain.KeyConfig{
			RawPrivateKey:    cfg.Chain.PrivateKey,
			EncryptedKeyPath: cfg.Chain.EncryptedKeyPath,
			KeyPassword:      cfg.Chain.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: chain key: %w", err)
		}
		signer, err := chain.NewSigner(key, cfg.Chain.ChainID)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: chain signer: %w", err)
		}
		chainLedger, err = chain.NewClient(chain.ClientConfig{
			BaseURL: cfg.Chain.BaseURL,
			Timeout: cfg.Chain.Timeout.Duration,
		}, signer, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: chain client: %w", err)
		}
	}

	deps.Bridge, err = settlement.NewBridge(mode, deps.Store, chainLedger, cfg.Settlement.BatchSize, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: settlement bridge: %w", err)
	}

	// --- S3 archive ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Store, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
