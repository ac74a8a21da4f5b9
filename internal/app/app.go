// Package app provides top-level application lifecycle management for the
// trading engine. It wires stores, caches, the settlement bridge, services,
// the HTTP/WebSocket API, the impact worker, and scheduled jobs, then runs
// them until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/pulsemarkets/pulse/internal/broadcast"
	"github.com/pulsemarkets/pulse/internal/config"
	"github.com/pulsemarkets/pulse/internal/domain"
	"github.com/pulsemarkets/pulse/internal/fees"
	"github.com/pulsemarkets/pulse/internal/impact"
	"github.com/pulsemarkets/pulse/internal/ledger"
	"github.com/pulsemarkets/pulse/internal/server"
	"github.com/pulsemarkets/pulse/internal/server/handler"
	"github.com/pulsemarkets/pulse/internal/server/ws"
)

// settlementAlertAttempts is the attempt count at which a stuck hybrid
// settlement record triggers a one-time operator alert.
const settlementAlertAttempts = 3

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, builds the services, starts the long-running
// goroutines, and blocks until the context is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting engine",
		slog.String("store", a.cfg.Store),
		slog.String("settlement_mode", a.cfg.Settlement.Mode),
		slog.Bool("redis", a.cfg.Redis.Enabled),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	feeEngine, err := fees.NewEngine(a.cfg.Fees.Rate, a.cfg.Fees.ReferrerShare, a.cfg.Fees.MinimumFee)
	if err != nil {
		return fmt.Errorf("app: fee engine: %w", err)
	}
	agg := impact.NewAggregator(a.cfg.Impact.VolumeNormalizer, a.cfg.Impact.MaxImpact)

	ledgerOpts := []ledger.Option{ledger.WithBridge(deps.Bridge)}
	if deps.LockManager != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithLocks(deps.LockManager))
	}
	if deps.PriceCache != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithPriceCache(deps.PriceCache))
	}
	if deps.SignalBus != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithSignalBus(deps.SignalBus))
	}
	ledgerSvc := ledger.NewService(deps.Store, feeEngine, ledger.Config{
		MaxLeverage:          a.cfg.Trading.MaxLeverage,
		LiquidationThreshold: a.cfg.Trading.LiquidationThreshold,
		PlatformPoolID:       a.cfg.Trading.PlatformPoolID,
		LockTTL:              a.cfg.Trading.LockTTL.Duration,
	}, a.logger, ledgerOpts...)

	broadcastOpts := []broadcast.Option{broadcast.WithSettler(deps.Bridge)}
	if deps.PriceCache != nil {
		broadcastOpts = append(broadcastOpts, broadcast.WithPriceCache(deps.PriceCache))
	}
	if deps.SignalBus != nil {
		broadcastOpts = append(broadcastOpts, broadcast.WithSignalBus(deps.SignalBus))
	}
	broadcastSvc := broadcast.NewService(deps.Store, agg, a.logger, broadcastOpts...)

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, ledgerSvc, broadcastSvc)
	}

	worker := newImpactWorker(
		deps.Store, ledgerSvc, broadcastSvc, agg,
		deps.SignalBus, deps.Notifier,
		a.cfg.Impact.Interval.Duration, a.logger,
	)
	g.Go(func() error {
		return worker.Run(ctx)
	})

	if err := a.startCron(ctx, g, deps); err != nil {
		return err
	}

	return g.Wait()
}

// Close tears down all resources in reverse registration order. Safe to call
// multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down engine")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// startHTTPServer adds the API server goroutines to the errgroup: the
// WebSocket hub when a signal bus is wired, the listener itself, and a
// shutdown watcher that drains connections on context cancellation.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	ledgerSvc *ledger.Service,
	broadcastSvc *broadcast.Service,
) {
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(a.cfg.Settlement.Mode, time.Now().UTC(), a.logger),
		Markets:     handler.NewMarketHandler(deps.Store.Markets(), deps.Store.Prices(), broadcastSvc, a.logger),
		Predictions: handler.NewPredictionHandler(deps.Store.Predictions(), a.cfg.Fees.Rate, a.logger),
		Positions:   handler.NewPositionHandler(ledgerSvc, deps.Store.Positions(), a.logger),
		Trades:      handler.NewTradeHandler(deps.Store.Trades(), a.logger),
		Pools:       handler.NewPoolHandler(deps.Store.Pools(), a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.InfoContext(ctx, "HTTP server shutting down")
		return srv.Shutdown(shutCtx)
	})
}

// startCron registers the scheduled jobs: the hybrid settlement sweep and
// the history archive. The scheduler only starts when at least one job is
// registered.
func (a *App) startCron(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	c := cron.New()

	if deps.Bridge.Mode() == domain.SettlementHybrid {
		if _, err := c.AddFunc(a.cfg.Settlement.Cron, func() {
			a.settlementSweep(ctx, deps)
		}); err != nil {
			return fmt.Errorf("app: settlement cron %q: %w", a.cfg.Settlement.Cron, err)
		}
	}

	if deps.Archiver != nil {
		retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
		if _, err := c.AddFunc(a.cfg.Archive.Cron, func() {
			if err := deps.Archiver.Run(ctx, retention); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}); err != nil {
			return fmt.Errorf("app: archive cron %q: %w", a.cfg.Archive.Cron, err)
		}
	}

	if len(c.Entries()) == 0 {
		return nil
	}

	c.Start()
	g.Go(func() error {
		<-ctx.Done()
		<-c.Stop().Done()
		return ctx.Err()
	})
	return nil
}

// settlementSweep drains one batch of unsettled records and alerts on
// records whose attempt count just crossed the alert threshold. Alerting on
// the exact threshold keeps a permanently stuck record from paging every
// sweep.
func (a *App) settlementSweep(ctx context.Context, deps *Dependencies) {
	settled, err := deps.Bridge.RunBatch(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "settlement sweep failed", slog.String("error", err.Error()))
		return
	}
	if settled > 0 {
		a.logger.InfoContext(ctx, "settlement sweep completed", slog.Int("settled", settled))
	}

	pending, err := deps.Store.Settlements().ListUnsettled(ctx, a.cfg.Settlement.BatchSize)
	if err != nil {
		a.logger.WarnContext(ctx, "unsettled listing failed", slog.String("error", err.Error()))
		return
	}
	for _, rec := range pending {
		if rec.Attempts != settlementAlertAttempts {
			continue
		}
		if err := deps.Notifier.SettlementFailureAlert(ctx, rec); err != nil {
			a.logger.WarnContext(ctx, "settlement failure alert failed",
				slog.String("position_id", rec.PositionID),
				slog.String("error", err.Error()))
		}
	}
}
