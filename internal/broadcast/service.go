// Package broadcast applies aggregated trade impact to market prices,
// refreshes open position marks, and fans the resulting updates out to the
// price cache, the signal bus, and the settlement bridge.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pulsemarkets/pulse/internal/domain"
	"github.com/pulsemarkets/pulse/internal/impact"
	"github.com/pulsemarkets/pulse/internal/pricing"
)

const ChannelPrices = "prices"

const (
	SourceImpact = "impact"
	SourceFeed   = "feed"
	SourceManual = "manual"
)

// PriceSettler pushes applied price updates toward the external ledger.
type PriceSettler interface {
	SettlePriceBatch(ctx context.Context, updates []domain.PriceUpdate) error
}

// Service is the price broadcast pipeline. One instance processes updates at
// a time per deployment, which keeps updates for a given market ordered.
type Service struct {
	store   domain.Store
	agg     *impact.Aggregator
	cache   domain.PriceCache
	bus     domain.SignalBus
	settler PriceSettler
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Service)

func WithPriceCache(pc domain.PriceCache) Option { return func(s *Service) { s.cache = pc } }
func WithSignalBus(bus domain.SignalBus) Option  { return func(s *Service) { s.bus = bus } }
func WithSettler(ps PriceSettler) Option         { return func(s *Service) { s.settler = ps } }
func WithClock(now func() time.Time) Option      { return func(s *Service) { s.now = now } }

func NewService(store domain.Store, agg *impact.Aggregator, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		agg:    agg,
		logger: logger.With(slog.String("component", "broadcast")),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ApplyImpact converts a batch of market impacts into committed price
// updates. Each market's update runs in its own transaction: the market
// price, the history row, and every open position's mark move together.
// Positions whose liquidation price is crossed by the new mark are returned
// for the caller to force-close.
func (s *Service) ApplyImpact(ctx context.Context, impacts []impact.MarketImpact) ([]domain.PriceUpdate, []domain.Position, error) {
	var (
		updates    []domain.PriceUpdate
		candidates []domain.Position
	)
	for _, mi := range impacts {
		if mi.Kind != domain.PositionKindPerp {
			continue
		}
		update, liq, err := s.applyMarket(ctx, mi)
		if err != nil {
			s.logger.ErrorContext(ctx, "impact apply failed",
				slog.String("market_id", mi.MarketID),
				slog.String("error", err.Error()))
			continue
		}
		updates = append(updates, update)
		candidates = append(candidates, liq...)
	}
	if len(updates) > 0 {
		s.fanOut(ctx, updates)
	}
	return updates, candidates, nil
}

// ApplyPrice applies an externally sourced price (feed or manual override)
// to a single market.
func (s *Service) ApplyPrice(ctx context.Context, marketID string, newPrice float64, source string) (domain.PriceUpdate, error) {
	if newPrice <= 0 {
		return domain.PriceUpdate{}, fmt.Errorf("broadcast: price must be positive: %w", domain.ErrRejectedTrade)
	}
	var (
		update domain.PriceUpdate
		liq    []domain.Position
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Store) error {
		market, err := tx.Markets().GetByID(ctx, marketID)
		if err != nil {
			return err
		}
		update, liq, err = s.commitPrice(ctx, tx, market, newPrice, source)
		return err
	})
	if err != nil {
		return domain.PriceUpdate{}, err
	}
	s.fanOut(ctx, []domain.PriceUpdate{update})
	if len(liq) > 0 {
		s.logger.WarnContext(ctx, "price update crossed liquidation thresholds",
			slog.String("market_id", marketID),
			slog.Int("positions", len(liq)))
	}
	return update, nil
}

func (s *Service) applyMarket(ctx context.Context, mi impact.MarketImpact) (domain.PriceUpdate, []domain.Position, error) {
	var (
		update domain.PriceUpdate
		liq    []domain.Position
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Store) error {
		market, err := tx.Markets().GetByID(ctx, mi.MarketID)
		if err != nil {
			return err
		}
		newPrice := s.agg.Apply(market.CurrentPrice, mi)
		update, liq, err = s.commitPrice(ctx, tx, market, newPrice, SourceImpact)
		return err
	})
	return update, liq, err
}

// commitPrice moves one market to newPrice inside the given transaction and
// refreshes every open position's mark. Returns the history row and the
// positions now past their liquidation price.
func (s *Service) commitPrice(ctx context.Context, tx domain.Store, market domain.Market, newPrice float64, source string) (domain.PriceUpdate, []domain.Position, error) {
	old := market.CurrentPrice
	if err := tx.Markets().UpdatePrice(ctx, market.ID, newPrice); err != nil {
		return domain.PriceUpdate{}, nil, err
	}

	update := domain.PriceUpdate{
		ID:        uuid.NewString(),
		MarketID:  market.ID,
		OldPrice:  old,
		NewPrice:  newPrice,
		Change:    newPrice - old,
		Source:    source,
		CreatedAt: s.now(),
	}
	if old > 0 {
		update.ChangePercent = (newPrice - old) / old * 100
	}
	if err := tx.Prices().Insert(ctx, update); err != nil {
		return domain.PriceUpdate{}, nil, err
	}

	open, err := tx.Positions().ListOpenByMarket(ctx, market.ID)
	if err != nil {
		return domain.PriceUpdate{}, nil, err
	}
	var liq []domain.Position
	for _, pos := range open {
		if pos.Kind != domain.PositionKindPerp {
			continue
		}
		pnl := pricing.PerpPnL(pos.EntryPrice, newPrice, pos.Size, pos.Side)
		if err := tx.Positions().UpdateMark(ctx, pos.ID, newPrice, pnl); err != nil {
			return domain.PriceUpdate{}, nil, err
		}
		if pos.Liquidatable(newPrice) {
			pos.CurrentPrice = newPrice
			pos.UnrealizedPnL = pnl
			liq = append(liq, pos)
		}
	}
	return update, liq, nil
}

// fanOut pushes committed updates to the cache, the bus, and the settlement
// bridge. All three are best effort: the committed state is authoritative.
func (s *Service) fanOut(ctx context.Context, updates []domain.PriceUpdate) {
	for _, u := range updates {
		if s.cache != nil {
			if err := s.cache.SetPrice(ctx, u.MarketID, u.NewPrice, u.CreatedAt); err != nil {
				s.logger.WarnContext(ctx, "price cache set failed",
					slog.String("market_id", u.MarketID),
					slog.String("error", err.Error()))
			}
		}
		if s.bus != nil {
			if payload, err := json.Marshal(u); err == nil {
				if err := s.bus.Publish(ctx, ChannelPrices, payload); err != nil {
					s.logger.WarnContext(ctx, "price publish failed",
						slog.String("market_id", u.MarketID),
						slog.String("error", err.Error()))
				}
			}
		}
	}
	if s.settler != nil {
		if err := s.settler.SettlePriceBatch(ctx, updates); err != nil {
			s.logger.WarnContext(ctx, "price batch settlement failed",
				slog.Int("updates", len(updates)),
				slog.String("error", err.Error()))
		}
	}
}
