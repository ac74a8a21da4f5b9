// Package ledger orchestrates every balance-changing operation: opening and
// closing perpetual and prediction positions, and liquidations. Each
// operation runs inside a single storage transaction guarded by a per-pool
// lock; chain settlement happens strictly after commit.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/pulsemarkets/pulse/internal/domain"
	"github.com/pulsemarkets/pulse/internal/fees"
	"github.com/pulsemarkets/pulse/internal/pricing"
)

const (
	ChannelTrades    = "trades"
	ChannelPositions = "positions"
	StreamTrades     = "stream:trades"
)

// SettlementBridge pushes committed position transitions toward the external
// ledger. A nil bridge behaves like offchain settlement.
type SettlementBridge interface {
	SettlePositionOpen(ctx context.Context, pos domain.Position) error
	SettlePositionClose(ctx context.Context, pos domain.Position) error
}

// Config bounds what the ledger accepts.
type Config struct {
	MaxLeverage          float64
	LiquidationThreshold float64
	PlatformPoolID       string
	LockTTL              time.Duration
}

func (c *Config) defaults() {
	if c.MaxLeverage <= 0 {
		c.MaxLeverage = 20
	}
	if c.LiquidationThreshold <= 0 || c.LiquidationThreshold >= 1 {
		c.LiquidationThreshold = pricing.DefaultLiquidationThreshold
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 10 * time.Second
	}
}

// Service is the trade execution ledger.
type Service struct {
	store  domain.Store
	fees   *fees.Engine
	locks  domain.LockManager
	cache  domain.PriceCache
	bus    domain.SignalBus
	bridge SettlementBridge
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store domain.Store, feeEngine *fees.Engine, cfg Config, logger *slog.Logger, opts ...Option) *Service {
	cfg.defaults()
	s := &Service{
		store:  store,
		fees:   feeEngine,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "ledger")),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Option wires optional infrastructure into the service.
type Option func(*Service)

func WithLocks(lm domain.LockManager) Option     { return func(s *Service) { s.locks = lm } }
func WithPriceCache(pc domain.PriceCache) Option { return func(s *Service) { s.cache = pc } }
func WithSignalBus(bus domain.SignalBus) Option  { return func(s *Service) { s.bus = bus } }
func WithBridge(bridge SettlementBridge) Option  { return func(s *Service) { s.bridge = bridge } }
func WithClock(now func() time.Time) Option      { return func(s *Service) { s.now = now } }

// OpenPerpRequest opens a leveraged position on an organization market.
// Market is a free-form query resolved via ResolveMarket.
type OpenPerpRequest struct {
	PoolID    string
	Market    string
	Side      domain.Side
	Margin    float64
	Leverage  float64
	Sentiment float64
	Reasoning string
}

// OpenPerpPosition debits margin plus fee from the pool and opens a
// leveraged position at the current mark price. The pool pays
// margin + fee(margin*leverage); the position's size is the notional.
func (s *Service) OpenPerpPosition(ctx context.Context, req OpenPerpRequest) (domain.Position, error) {
	if !req.Side.Valid(domain.PositionKindPerp) {
		return domain.Position{}, fmt.Errorf("ledger: side %q is not a perp side: %w", req.Side, domain.ErrRejectedTrade)
	}
	if req.Margin <= 0 || !isFinite(req.Margin) {
		return domain.Position{}, fmt.Errorf("ledger: margin must be positive: %w", domain.ErrRejectedTrade)
	}
	if req.Leverage < 1 || req.Leverage > s.cfg.MaxLeverage {
		return domain.Position{}, fmt.Errorf("ledger: leverage %.2f outside [1, %.0f]: %w",
			req.Leverage, s.cfg.MaxLeverage, domain.ErrPositionOutOfBounds)
	}

	unlock, err := s.lockPool(ctx, req.PoolID)
	if err != nil {
		return domain.Position{}, err
	}
	defer unlock()

	var (
		pos   domain.Position
		trade domain.TradeRecord
		dist  domain.FeeDistribution
		total float64
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Store) error {
		pool, err := tx.Pools().GetByID(ctx, req.PoolID)
		if err != nil {
			return err
		}
		market, err := ResolveMarket(ctx, tx.Markets(), req.Market)
		if err != nil {
			return err
		}
		entry := s.markPrice(ctx, market)
		if entry <= 0 {
			return fmt.Errorf("ledger: market %s has no price: %w", market.ID, domain.ErrRejectedTrade)
		}

		size := pricing.Notional(req.Margin, req.Leverage)
		dist = s.fees.Calculate(size, pool.ReferrerID)
		total = req.Margin + dist.FeeAmount

		if err := tx.Pools().Debit(ctx, pool.ID, total, "perp open"); err != nil {
			return err
		}
		if err := s.applyFees(ctx, tx, pool.ID, dist); err != nil {
			return err
		}

		liq, err := pricing.LiquidationPrice(entry, req.Side, s.cfg.LiquidationThreshold)
		if err != nil {
			return err
		}

		now := s.now()
		pos = domain.Position{
			ID:               uuid.NewString(),
			PoolID:           pool.ID,
			MarketID:         market.ID,
			Kind:             domain.PositionKindPerp,
			Side:             req.Side,
			EntryPrice:       entry,
			CurrentPrice:     entry,
			Size:             size,
			Leverage:         req.Leverage,
			LiquidationPrice: liq,
			Status:           domain.PositionStatusOpen,
			OpenedAt:         now,
		}
		if err := tx.Positions().Create(ctx, pos); err != nil {
			return err
		}

		trade = domain.TradeRecord{
			ID:         uuid.NewString(),
			PoolID:     pool.ID,
			MarketID:   market.ID,
			MarketKind: domain.PositionKindPerp,
			PositionID: pos.ID,
			Action:     domain.TradeActionOpen,
			Side:       req.Side,
			Amount:     size,
			Price:      entry,
			Fee:        dist.FeeAmount,
			Sentiment:  req.Sentiment,
			Reasoning:  req.Reasoning,
			CreatedAt:  now,
		}
		if err := tx.Trades().Insert(ctx, trade); err != nil {
			return err
		}
		s.audit(ctx, tx, "perp_open", map[string]any{
			"position_id": pos.ID, "pool_id": pool.ID, "market_id": market.ID,
			"side": string(req.Side), "margin": req.Margin, "leverage": req.Leverage,
			"entry": entry, "fee": dist.FeeAmount,
		})
		return nil
	})
	if err != nil {
		return domain.Position{}, err
	}

	if err := s.settleOpen(ctx, pos, total, dist); err != nil {
		return domain.Position{}, err
	}

	s.publishTrade(ctx, trade)
	s.publishPosition(ctx, pos, "opened")
	s.logger.InfoContext(ctx, "perp position opened",
		slog.String("position_id", pos.ID),
		slog.String("market_id", pos.MarketID),
		slog.String("side", string(pos.Side)),
		slog.Float64("size", pos.Size),
		slog.Float64("entry", pos.EntryPrice))
	return pos, nil
}

// ClosePerpPosition closes an open perpetual position and credits the pool
// with max(0, margin + pnl - fee). The exit price falls back through the
// caller's hint, the live price cache, the position's last mark, the market
// price, and finally the entry price. When settlement of the committed close
// fails, the closed position is returned together with an error wrapping
// ErrSettlementFailed.
func (s *Service) ClosePerpPosition(ctx context.Context, positionID string, exitHint *float64) (domain.Position, error) {
	pos, err := s.store.Positions().GetByID(ctx, positionID)
	if err != nil {
		return domain.Position{}, err
	}
	if pos.Kind != domain.PositionKindPerp {
		return domain.Position{}, fmt.Errorf("ledger: position %s is not a perp: %w", positionID, domain.ErrRejectedTrade)
	}

	unlock, err := s.lockPool(ctx, pos.PoolID)
	if err != nil {
		return domain.Position{}, err
	}
	defer unlock()

	var trade domain.TradeRecord
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Store) error {
		pos, err = tx.Positions().GetByID(ctx, positionID)
		if err != nil {
			return err
		}
		if pos.Status != domain.PositionStatusOpen {
			return fmt.Errorf("ledger: position %s: %w", positionID, domain.ErrAlreadyClosed)
		}
		pool, err := tx.Pools().GetByID(ctx, pos.PoolID)
		if err != nil {
			return err
		}

		exit := s.resolveExitPrice(ctx, tx, pos, exitHint)
		pnl := pricing.PerpPnL(pos.EntryPrice, exit, pos.Size, pos.Side)
		dist := s.fees.Calculate(pos.Size, pool.ReferrerID)
		credit := math.Max(0, pos.Margin()+pnl-dist.FeeAmount)

		now := s.now()
		if err := tx.Positions().Close(ctx, pos.ID, exit, pnl, now); err != nil {
			return err
		}
		if credit > 0 {
			if err := tx.Pools().Credit(ctx, pos.PoolID, credit, "perp close"); err != nil {
				return err
			}
		}
		if err := tx.Pools().RecordPnL(ctx, pos.PoolID, pnl); err != nil {
			return err
		}
		if err := s.applyFees(ctx, tx, pos.PoolID, dist); err != nil {
			return err
		}

		trade = domain.TradeRecord{
			ID:         uuid.NewString(),
			PoolID:     pos.PoolID,
			MarketID:   pos.MarketID,
			MarketKind: domain.PositionKindPerp,
			PositionID: pos.ID,
			Action:     domain.TradeActionClose,
			Side:       pos.Side,
			Amount:     credit,
			Price:      exit,
			Fee:        dist.FeeAmount,
			CreatedAt:  now,
		}
		if err := tx.Trades().Insert(ctx, trade); err != nil {
			return err
		}
		s.audit(ctx, tx, "perp_close", map[string]any{
			"position_id": pos.ID, "pool_id": pos.PoolID, "exit": exit,
			"pnl": pnl, "credit": credit, "fee": dist.FeeAmount,
		})

		pos.Status = domain.PositionStatusClosed
		pos.ExitPrice = &exit
		pos.RealizedPnL = &pnl
		pos.ClosedAt = &now
		return nil
	})
	if err != nil {
		return domain.Position{}, err
	}

	settleErr := s.settleClose(ctx, pos)
	s.publishTrade(ctx, trade)
	s.publishPosition(ctx, pos, "closed")
	if settleErr != nil {
		// The close is committed; the caller may retry the settlement.
		return pos, settleErr
	}
	s.logger.InfoContext(ctx, "perp position closed",
		slog.String("position_id", pos.ID),
		slog.Float64("exit", *pos.ExitPrice),
		slog.Float64("pnl", *pos.RealizedPnL))
	return pos, nil
}

// OpenPredictionRequest buys outcome shares in a binary prediction market.
type OpenPredictionRequest struct {
	PoolID    string
	Market    string
	Side      domain.Side
	Amount    float64
	Sentiment float64
	Reasoning string
}

// OpenPredictionPosition debits the gross amount from the pool, routes the
// net (post-fee) amount through the constant-product pool, and records a
// share position. The position's size is the net cost basis.
func (s *Service) OpenPredictionPosition(ctx context.Context, req OpenPredictionRequest) (domain.Position, error) {
	if !req.Side.Valid(domain.PositionKindPrediction) {
		return domain.Position{}, fmt.Errorf("ledger: side %q is not a prediction side: %w", req.Side, domain.ErrRejectedTrade)
	}
	if req.Amount <= 0 || !isFinite(req.Amount) {
		return domain.Position{}, fmt.Errorf("ledger: amount must be positive: %w", domain.ErrRejectedTrade)
	}

	unlock, err := s.lockPool(ctx, req.PoolID)
	if err != nil {
		return domain.Position{}, err
	}
	defer unlock()

	var (
		pos   domain.Position
		trade domain.TradeRecord
		total float64
		dist  domain.FeeDistribution
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Store) error {
		pool, err := tx.Pools().GetByID(ctx, req.PoolID)
		if err != nil {
			return err
		}
		market, err := ResolvePredictionMarket(ctx, tx.Predictions(), req.Market)
		if err != nil {
			return err
		}
		if market.Resolved {
			return fmt.Errorf("ledger: market %s: %w", market.ID, domain.ErrMarketResolved)
		}
		if market.Expired(s.now()) {
			return fmt.Errorf("ledger: market %s: %w", market.ID, domain.ErrMarketExpired)
		}

		dist = s.fees.Calculate(req.Amount, pool.ReferrerID)
		rate := s.fees.Rate()
		if dist.Skipped() {
			rate = 0
		}
		quote, err := pricing.QuoteBuy(market.YesShares, market.NoShares, req.Amount, rate, req.Side)
		if err != nil {
			return err
		}

		total = req.Amount
		if err := tx.Pools().Debit(ctx, pool.ID, total, "prediction open"); err != nil {
			return err
		}
		if err := s.applyFees(ctx, tx, pool.ID, dist); err != nil {
			return err
		}
		if err := tx.Predictions().UpdateReserves(ctx, market.ID, quote.NewYes, quote.NewNo, market.Liquidity+quote.Net); err != nil {
			return err
		}

		now := s.now()
		pos = domain.Position{
			ID:           uuid.NewString(),
			PoolID:       pool.ID,
			MarketID:     market.ID,
			Kind:         domain.PositionKindPrediction,
			Side:         req.Side,
			EntryPrice:   quote.AvgPrice,
			CurrentPrice: quote.AvgPrice,
			Size:         quote.Net,
			Shares:       quote.SharesOut,
			Status:       domain.PositionStatusOpen,
			OpenedAt:     now,
		}
		if err := tx.Positions().Create(ctx, pos); err != nil {
			return err
		}

		trade = domain.TradeRecord{
			ID:         uuid.NewString(),
			PoolID:     pool.ID,
			MarketID:   market.ID,
			MarketKind: domain.PositionKindPrediction,
			PositionID: pos.ID,
			Action:     domain.TradeActionOpen,
			Side:       req.Side,
			Amount:     req.Amount,
			Price:      quote.AvgPrice,
			Fee:        dist.FeeAmount,
			Sentiment:  req.Sentiment,
			Reasoning:  req.Reasoning,
			CreatedAt:  now,
		}
		if err := tx.Trades().Insert(ctx, trade); err != nil {
			return err
		}
		s.audit(ctx, tx, "prediction_open", map[string]any{
			"position_id": pos.ID, "pool_id": pool.ID, "market_id": market.ID,
			"side": string(req.Side), "amount": req.Amount, "shares": quote.SharesOut,
			"avg_price": quote.AvgPrice, "fee": dist.FeeAmount,
		})
		return nil
	})
	if err != nil {
		return domain.Position{}, err
	}

	if err := s.settleOpen(ctx, pos, total, dist); err != nil {
		return domain.Position{}, err
	}

	s.publishTrade(ctx, trade)
	s.publishPosition(ctx, pos, "opened")
	s.logger.InfoContext(ctx, "prediction position opened",
		slog.String("position_id", pos.ID),
		slog.String("market_id", pos.MarketID),
		slog.String("side", string(pos.Side)),
		slog.Float64("shares", pos.Shares))
	return pos, nil
}

// ClosePredictionPosition sells the position's shares back to the pool and
// credits the net proceeds. Closing against a resolved or expired market is
// rejected. When settlement of the committed close fails, the closed
// position is returned together with an error wrapping ErrSettlementFailed.
func (s *Service) ClosePredictionPosition(ctx context.Context, positionID string) (domain.Position, error) {
	pos, err := s.store.Positions().GetByID(ctx, positionID)
	if err != nil {
		return domain.Position{}, err
	}
	if pos.Kind != domain.PositionKindPrediction {
		return domain.Position{}, fmt.Errorf("ledger: position %s is not a prediction position: %w", positionID, domain.ErrRejectedTrade)
	}

	unlock, err := s.lockPool(ctx, pos.PoolID)
	if err != nil {
		return domain.Position{}, err
	}
	defer unlock()

	var trade domain.TradeRecord
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Store) error {
		pos, err = tx.Positions().GetByID(ctx, positionID)
		if err != nil {
			return err
		}
		if pos.Status != domain.PositionStatusOpen {
			return fmt.Errorf("ledger: position %s: %w", positionID, domain.ErrAlreadyClosed)
		}
		pool, err := tx.Pools().GetByID(ctx, pos.PoolID)
		if err != nil {
			return err
		}
		market, err := tx.Predictions().GetByID(ctx, pos.MarketID)
		if err != nil {
			return err
		}
		if market.Resolved {
			return fmt.Errorf("ledger: market %s: %w", market.ID, domain.ErrMarketResolved)
		}
		if market.Expired(s.now()) {
			return fmt.Errorf("ledger: market %s: %w", market.ID, domain.ErrMarketExpired)
		}

		// Reserves move on the gross swap; the fee comes out of proceeds.
		quote, err := pricing.QuoteSell(market.YesShares, market.NoShares, pos.Shares, 0, pos.Side)
		if err != nil {
			return err
		}
		dist := s.fees.Calculate(quote.GrossProceeds, pool.ReferrerID)
		net := dist.NetAmount
		pnl := net - pos.Size

		if err := tx.Predictions().UpdateReserves(ctx, market.ID, quote.NewYes, quote.NewNo, market.Liquidity-quote.GrossProceeds); err != nil {
			return err
		}

		now := s.now()
		exit := quote.AvgPrice
		if err := tx.Positions().Close(ctx, pos.ID, exit, pnl, now); err != nil {
			return err
		}
		if err := tx.Pools().Credit(ctx, pos.PoolID, net, "prediction close"); err != nil {
			return err
		}
		if err := tx.Pools().RecordPnL(ctx, pos.PoolID, pnl); err != nil {
			return err
		}
		if err := s.applyFees(ctx, tx, pos.PoolID, dist); err != nil {
			return err
		}

		trade = domain.TradeRecord{
			ID:         uuid.NewString(),
			PoolID:     pos.PoolID,
			MarketID:   pos.MarketID,
			MarketKind: domain.PositionKindPrediction,
			PositionID: pos.ID,
			Action:     domain.TradeActionClose,
			Side:       pos.Side,
			Amount:     net,
			Price:      exit,
			Fee:        dist.FeeAmount,
			CreatedAt:  now,
		}
		if err := tx.Trades().Insert(ctx, trade); err != nil {
			return err
		}
		s.audit(ctx, tx, "prediction_close", map[string]any{
			"position_id": pos.ID, "pool_id": pos.PoolID, "proceeds": net,
			"pnl": pnl, "fee": dist.FeeAmount,
		})

		pos.Status = domain.PositionStatusClosed
		pos.ExitPrice = &exit
		pos.RealizedPnL = &pnl
		pos.ClosedAt = &now
		return nil
	})
	if err != nil {
		return domain.Position{}, err
	}

	settleErr := s.settleClose(ctx, pos)
	s.publishTrade(ctx, trade)
	s.publishPosition(ctx, pos, "closed")
	if settleErr != nil {
		// The close is committed; the caller may retry the settlement.
		return pos, settleErr
	}
	s.logger.InfoContext(ctx, "prediction position closed",
		slog.String("position_id", pos.ID),
		slog.Float64("pnl", *pos.RealizedPnL))
	return pos, nil
}

// LiquidatePosition force-closes an open perpetual whose liquidation price
// has been crossed by the given mark. The loss is bounded by the margin; any
// remainder above the loss is returned to the pool. No fee is charged.
func (s *Service) LiquidatePosition(ctx context.Context, positionID string, mark float64) (domain.Position, error) {
	pos, err := s.store.Positions().GetByID(ctx, positionID)
	if err != nil {
		return domain.Position{}, err
	}

	unlock, err := s.lockPool(ctx, pos.PoolID)
	if err != nil {
		return domain.Position{}, err
	}
	defer unlock()

	var trade domain.TradeRecord
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Store) error {
		pos, err = tx.Positions().GetByID(ctx, positionID)
		if err != nil {
			return err
		}
		if pos.Status != domain.PositionStatusOpen {
			return fmt.Errorf("ledger: position %s: %w", positionID, domain.ErrAlreadyClosed)
		}
		if !pos.Liquidatable(mark) {
			return fmt.Errorf("ledger: position %s not liquidatable at %.6f: %w", positionID, mark, domain.ErrRejectedTrade)
		}

		margin := pos.Margin()
		pnl := pricing.PerpPnL(pos.EntryPrice, mark, pos.Size, pos.Side)
		credit := math.Max(0, margin+pnl)
		realized := credit - margin

		now := s.now()
		if err := tx.Positions().Close(ctx, pos.ID, mark, realized, now); err != nil {
			return err
		}
		if credit > 0 {
			if err := tx.Pools().Credit(ctx, pos.PoolID, credit, "liquidation remainder"); err != nil {
				return err
			}
		}
		if err := tx.Pools().RecordPnL(ctx, pos.PoolID, realized); err != nil {
			return err
		}

		trade = domain.TradeRecord{
			ID:         uuid.NewString(),
			PoolID:     pos.PoolID,
			MarketID:   pos.MarketID,
			MarketKind: domain.PositionKindPerp,
			PositionID: pos.ID,
			Action:     domain.TradeActionLiquidate,
			Side:       pos.Side,
			Amount:     credit,
			Price:      mark,
			CreatedAt:  now,
		}
		if err := tx.Trades().Insert(ctx, trade); err != nil {
			return err
		}
		s.audit(ctx, tx, "liquidation", map[string]any{
			"position_id": pos.ID, "pool_id": pos.PoolID, "mark": mark,
			"realized": realized, "credit": credit,
		})

		pos.Status = domain.PositionStatusClosed
		pos.ExitPrice = &mark
		pos.RealizedPnL = &realized
		pos.ClosedAt = &now
		return nil
	})
	if err != nil {
		return domain.Position{}, err
	}

	// A forced close has no caller positioned to retry settlement; the
	// failure is logged and the record stays queued.
	_ = s.settleClose(ctx, pos)
	s.publishTrade(ctx, trade)
	s.publishPosition(ctx, pos, "liquidated")
	s.logger.WarnContext(ctx, "position liquidated",
		slog.String("position_id", pos.ID),
		slog.String("pool_id", pos.PoolID),
		slog.Float64("mark", mark),
		slog.Float64("realized", *pos.RealizedPnL))
	return pos, nil
}

// --- internals ---

func (s *Service) lockPool(ctx context.Context, poolID string) (func(), error) {
	if s.locks == nil {
		return func() {}, nil
	}
	unlock, err := s.locks.Acquire(ctx, "pool:"+poolID, s.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("ledger: lock pool %s: %w", poolID, err)
	}
	return unlock, nil
}

// applyFees distributes a computed fee: the payer's running total is bumped,
// the referrer is credited their share, and the platform pool (when
// configured) receives the remainder.
func (s *Service) applyFees(ctx context.Context, tx domain.Store, payerID string, dist domain.FeeDistribution) error {
	if dist.Skipped() {
		return nil
	}
	if err := tx.Pools().AddFeesPaid(ctx, payerID, dist.FeeAmount); err != nil {
		return err
	}
	if dist.ReferrerID != nil && dist.ReferrerShare > 0 {
		if err := tx.Pools().Credit(ctx, *dist.ReferrerID, dist.ReferrerShare, "referral fee"); err != nil {
			return err
		}
		if err := tx.Pools().AddFeesCollected(ctx, *dist.ReferrerID, dist.ReferrerShare); err != nil {
			return err
		}
	}
	if s.cfg.PlatformPoolID != "" && dist.PlatformShare > 0 {
		if err := tx.Pools().Credit(ctx, s.cfg.PlatformPoolID, dist.PlatformShare, "platform fee"); err != nil {
			return err
		}
		if err := tx.Pools().AddFeesCollected(ctx, s.cfg.PlatformPoolID, dist.PlatformShare); err != nil {
			return err
		}
	}
	return nil
}

// markPrice prefers the live cache over the stored market price.
func (s *Service) markPrice(ctx context.Context, market domain.Market) float64 {
	if s.cache != nil {
		if price, _, err := s.cache.GetPrice(ctx, market.ID); err == nil && price > 0 && isFinite(price) {
			return price
		}
	}
	return market.CurrentPrice
}

// resolveExitPrice walks the fallback chain: caller hint, live cache, the
// position's last mark, the market's stored price, and finally the entry
// price. The first finite positive candidate wins.
func (s *Service) resolveExitPrice(ctx context.Context, tx domain.Store, pos domain.Position, hint *float64) float64 {
	if hint != nil && *hint > 0 && isFinite(*hint) {
		return *hint
	}
	if s.cache != nil {
		if price, _, err := s.cache.GetPrice(ctx, pos.MarketID); err == nil && price > 0 && isFinite(price) {
			return price
		}
	}
	if pos.CurrentPrice > 0 && isFinite(pos.CurrentPrice) {
		return pos.CurrentPrice
	}
	if market, err := tx.Markets().GetByID(ctx, pos.MarketID); err == nil &&
		market.CurrentPrice > 0 && isFinite(market.CurrentPrice) {
		return market.CurrentPrice
	}
	return pos.EntryPrice
}

// settleOpen pushes a freshly committed open to the bridge. A settlement
// failure triggers a compensating close that refunds the debit and reverses
// the fee distribution, so the operation fails atomically from the caller's
// point of view.
func (s *Service) settleOpen(ctx context.Context, pos domain.Position, totalDebited float64, dist domain.FeeDistribution) error {
	if s.bridge == nil {
		return nil
	}
	err := s.bridge.SettlePositionOpen(ctx, pos)
	if err == nil {
		return nil
	}

	s.logger.ErrorContext(ctx, "open settlement failed, compensating",
		slog.String("position_id", pos.ID),
		slog.String("error", err.Error()))

	compErr := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Store) error {
		if err := tx.Positions().Close(ctx, pos.ID, pos.EntryPrice, 0, s.now()); err != nil {
			return err
		}
		if err := tx.Pools().Credit(ctx, pos.PoolID, totalDebited, "settlement compensation"); err != nil {
			return err
		}
		if !dist.Skipped() {
			if err := tx.Pools().AddFeesPaid(ctx, pos.PoolID, -dist.FeeAmount); err != nil {
				return err
			}
			if dist.ReferrerID != nil && dist.ReferrerShare > 0 {
				if err := tx.Pools().Debit(ctx, *dist.ReferrerID, dist.ReferrerShare, "settlement compensation"); err != nil {
					return err
				}
				if err := tx.Pools().AddFeesCollected(ctx, *dist.ReferrerID, -dist.ReferrerShare); err != nil {
					return err
				}
			}
			if s.cfg.PlatformPoolID != "" && dist.PlatformShare > 0 {
				if err := tx.Pools().Debit(ctx, s.cfg.PlatformPoolID, dist.PlatformShare, "settlement compensation"); err != nil {
					return err
				}
				if err := tx.Pools().AddFeesCollected(ctx, s.cfg.PlatformPoolID, -dist.PlatformShare); err != nil {
					return err
				}
			}
		}
		s.audit(ctx, tx, "settlement_compensation", map[string]any{
			"position_id": pos.ID, "pool_id": pos.PoolID, "refund": totalDebited,
			"cause": err.Error(),
		})
		return nil
	})
	if compErr != nil {
		s.logger.ErrorContext(ctx, "compensating close failed",
			slog.String("position_id", pos.ID),
			slog.String("error", compErr.Error()))
	}
	return fmt.Errorf("ledger: open position %s: %w: %w", pos.ID, domain.ErrSettlementFailed, err)
}

// settleClose pushes a committed close to the bridge. The close itself
// stands regardless: the unsettled record stays queued for the batch worker
// (hybrid) or a caller retry (onchain). The returned error carries
// ErrSettlementFailed so callers can distinguish it from a failed close.
func (s *Service) settleClose(ctx context.Context, pos domain.Position) error {
	if s.bridge == nil {
		return nil
	}
	if err := s.bridge.SettlePositionClose(ctx, pos); err != nil {
		s.logger.ErrorContext(ctx, "close settlement failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()))
		return fmt.Errorf("ledger: close position %s: %w: %w", pos.ID, domain.ErrSettlementFailed, err)
	}
	return nil
}

func (s *Service) audit(ctx context.Context, tx domain.Store, event string, detail map[string]any) {
	if err := tx.Audit().Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()))
	}
}

func (s *Service) publishTrade(ctx context.Context, trade domain.TradeRecord) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(trade)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, ChannelTrades, payload); err != nil {
		s.logger.WarnContext(ctx, "trade publish failed", slog.String("error", err.Error()))
	}
	if err := s.bus.StreamAppend(ctx, StreamTrades, payload); err != nil {
		s.logger.WarnContext(ctx, "trade stream append failed", slog.String("error", err.Error()))
	}
}

type positionEvent struct {
	Event    string          `json:"event"`
	Position domain.Position `json:"position"`
}

func (s *Service) publishPosition(ctx context.Context, pos domain.Position, event string) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(positionEvent{Event: event, Position: pos})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, ChannelPositions, payload); err != nil {
		s.logger.WarnContext(ctx, "position publish failed", slog.String("error", err.Error()))
	}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
