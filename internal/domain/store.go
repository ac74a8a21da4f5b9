package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PoolStore persists agent balance pools. Debit enforces the non-negative
// balance invariant and returns ErrInsufficientFunds without mutating when
// the balance would go below zero.
type PoolStore interface {
	Create(ctx context.Context, pool Pool) error
	GetByID(ctx context.Context, id string) (Pool, error)
	Debit(ctx context.Context, id string, amount float64, reason string) error
	Credit(ctx context.Context, id string, amount float64, reason string) error
	RecordPnL(ctx context.Context, id string, pnl float64) error
	AddFeesPaid(ctx context.Context, id string, amount float64) error
	AddFeesCollected(ctx context.Context, id string, amount float64) error
}

// PositionStore persists positions.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	UpdateMark(ctx context.Context, id string, currentPrice, unrealizedPnL float64) error
	Close(ctx context.Context, id string, exitPrice, realizedPnL float64, closedAt time.Time) error
	ListOpenByPool(ctx context.Context, poolID string) ([]Position, error)
	ListOpenByMarket(ctx context.Context, marketID string) ([]Position, error)
	ListHistory(ctx context.Context, poolID string, opts ListOpts) ([]Position, error)
}

// MarketStore persists organization markets.
type MarketStore interface {
	Create(ctx context.Context, m Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	ListActive(ctx context.Context) ([]Market, error)
	UpdatePrice(ctx context.Context, id string, price float64) error
}

// PredictionMarketStore persists binary prediction markets and their CPMM
// reserves.
type PredictionMarketStore interface {
	Create(ctx context.Context, m PredictionMarket) error
	GetByID(ctx context.Context, id string) (PredictionMarket, error)
	ListOpen(ctx context.Context) ([]PredictionMarket, error)
	UpdateReserves(ctx context.Context, id string, yesShares, noShares, liquidity float64) error
	MarkResolved(ctx context.Context, id string, outcome bool) error
}

// TradeStore persists the append-only trade history.
type TradeStore interface {
	Insert(ctx context.Context, t TradeRecord) error
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]TradeRecord, error)
	ListByPool(ctx context.Context, poolID string, opts ListOpts) ([]TradeRecord, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]TradeRecord, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PriceHistoryStore persists applied price updates.
type PriceHistoryStore interface {
	Insert(ctx context.Context, u PriceUpdate) error
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]PriceUpdate, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]PriceUpdate, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SettlementStore persists per-position settlement status. MarkSettled is the
// only transition to the settled state and is never reversed.
type SettlementStore interface {
	Upsert(ctx context.Context, rec SettlementRecord) error
	Get(ctx context.Context, positionID string, kind SettlementKind) (SettlementRecord, error)
	ListUnsettled(ctx context.Context, limit int) ([]SettlementRecord, error)
	MarkSettled(ctx context.Context, positionID string, kind SettlementKind, txHash string, at time.Time) error
	RecordFailure(ctx context.Context, positionID string, kind SettlementKind, cause string) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log. Not part of the correctness
// contract; failures are logged and otherwise ignored.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// Store bundles every persistence interface plus transactional execution.
// WithinTx runs fn against a Store view bound to a single atomic unit:
// either every mutation made through the view commits, or none do.
type Store interface {
	Pools() PoolStore
	Positions() PositionStore
	Markets() MarketStore
	Predictions() PredictionMarketStore
	Trades() TradeStore
	Prices() PriceHistoryStore
	Settlements() SettlementStore
	Audit() AuditStore

	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
