package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/pulsemarkets/pulse/internal/broadcast"
	"github.com/pulsemarkets/pulse/internal/domain"
	"github.com/pulsemarkets/pulse/internal/impact"
	"github.com/pulsemarkets/pulse/internal/ledger"
	"github.com/pulsemarkets/pulse/internal/notify"
)

const streamReadBatch = 256

// impactWorker periodically folds newly executed trades into per-market
// price pressure, commits the resulting price moves, and force-closes
// positions whose liquidation price the new mark crossed.
//
// With a signal bus the worker consumes the durable trade stream; without
// one it falls back to polling the trade store per active market.
type impactWorker struct {
	store     domain.Store
	ledger    *ledger.Service
	broadcast *broadcast.Service
	agg       *impact.Aggregator
	bus       domain.SignalBus
	notifier  *notify.Notifier
	interval  time.Duration
	logger    *slog.Logger

	lastStreamID string
	lastPoll     time.Time
}

func newImpactWorker(
	store domain.Store,
	ledgerSvc *ledger.Service,
	broadcastSvc *broadcast.Service,
	agg *impact.Aggregator,
	bus domain.SignalBus,
	notifier *notify.Notifier,
	interval time.Duration,
	logger *slog.Logger,
) *impactWorker {
	return &impactWorker{
		store:     store,
		ledger:    ledgerSvc,
		broadcast: broadcastSvc,
		agg:       agg,
		bus:       bus,
		notifier:  notifier,
		interval:  interval,
		logger:    logger.With(slog.String("component", "impact_worker")),
	}
}

// Run processes one batch per interval until the context is cancelled.
func (w *impactWorker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "impact worker started",
		slog.Duration("interval", w.interval),
		slog.Bool("streaming", w.bus != nil),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *impactWorker) tick(ctx context.Context) {
	trades, err := w.collect(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "trade collection failed", slog.String("error", err.Error()))
		return
	}
	if len(trades) == 0 {
		return
	}

	impacts := w.agg.Aggregate(trades)
	updates, candidates, err := w.broadcast.ApplyImpact(ctx, impacts)
	if err != nil {
		w.logger.ErrorContext(ctx, "impact apply failed", slog.String("error", err.Error()))
		return
	}

	w.logger.InfoContext(ctx, "impact batch applied",
		slog.Int("trades", len(trades)),
		slog.Int("markets", len(updates)),
		slog.Int("liquidation_candidates", len(candidates)),
	)

	for _, pos := range candidates {
		w.liquidate(ctx, pos)
	}
}

func (w *impactWorker) liquidate(ctx context.Context, pos domain.Position) {
	closed, err := w.ledger.LiquidatePosition(ctx, pos.ID, pos.CurrentPrice)
	if err != nil {
		// Another instance may have closed it between the mark update and
		// this call.
		if errors.Is(err, domain.ErrAlreadyClosed) || errors.Is(err, domain.ErrNotFound) {
			return
		}
		w.logger.ErrorContext(ctx, "liquidation failed",
			slog.String("position_id", pos.ID),
			slog.Float64("mark", pos.CurrentPrice),
			slog.String("error", err.Error()))
		return
	}

	if err := w.notifier.LiquidationAlert(ctx, closed); err != nil {
		w.logger.WarnContext(ctx, "liquidation alert failed",
			slog.String("position_id", closed.ID),
			slog.String("error", err.Error()))
	}
}

func (w *impactWorker) collect(ctx context.Context) ([]domain.TradeRecord, error) {
	if w.bus != nil {
		return w.collectStream(ctx)
	}
	return w.collectPoll(ctx)
}

// collectStream drains the trade stream past the cursor. The first call only
// primes the cursor so entries that predate this worker are not replayed.
func (w *impactWorker) collectStream(ctx context.Context) ([]domain.TradeRecord, error) {
	if w.lastStreamID == "" {
		return nil, w.primeCursor(ctx)
	}

	var trades []domain.TradeRecord
	for {
		msgs, err := w.bus.StreamRead(ctx, ledger.StreamTrades, w.lastStreamID, streamReadBatch)
		if err != nil {
			return nil, err
		}
		if len(msgs) == 0 {
			break
		}
		for _, msg := range msgs {
			w.lastStreamID = msg.ID
			var tr domain.TradeRecord
			if err := json.Unmarshal(msg.Payload, &tr); err != nil {
				w.logger.WarnContext(ctx, "malformed trade stream entry",
					slog.String("stream_id", msg.ID),
					slog.String("error", err.Error()))
				continue
			}
			trades = append(trades, tr)
		}
		if len(msgs) < streamReadBatch {
			break
		}
	}
	return trades, nil
}

func (w *impactWorker) primeCursor(ctx context.Context) error {
	last := "0"
	for {
		msgs, err := w.bus.StreamRead(ctx, ledger.StreamTrades, last, streamReadBatch)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			break
		}
		last = msgs[len(msgs)-1].ID
		if len(msgs) < streamReadBatch {
			break
		}
	}
	w.lastStreamID = last
	return nil
}

// collectPoll gathers trades executed since the previous tick across all
// active markets. Used when no signal bus is wired.
func (w *impactWorker) collectPoll(ctx context.Context) ([]domain.TradeRecord, error) {
	now := time.Now().UTC()
	if w.lastPoll.IsZero() {
		w.lastPoll = now.Add(-w.interval)
	}
	since := w.lastPoll

	markets, err := w.store.Markets().ListActive(ctx)
	if err != nil {
		return nil, err
	}

	var trades []domain.TradeRecord
	for _, m := range markets {
		batch, err := w.store.Trades().ListByMarket(ctx, m.ID, domain.ListOpts{Since: &since})
		if err != nil {
			return nil, err
		}
		trades = append(trades, batch...)
	}

	w.lastPoll = now
	return trades, nil
}
