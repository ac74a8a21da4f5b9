package domain

import "time"

// TradeAction is the state-changing operation a trade record documents.
type TradeAction string

const (
	TradeActionOpen      TradeAction = "open"
	TradeActionClose     TradeAction = "close"
	TradeActionLiquidate TradeAction = "liquidate"
)

// TradeRecord is an append-only record of an executed trade. Records are
// immutable once written: never updated, never deleted (only archived).
// One record is created per state-changing Ledger operation, inside the same
// transaction as the balance and position mutations it documents.
type TradeRecord struct {
	ID         string
	PoolID     string
	MarketID   string
	MarketKind PositionKind
	PositionID string
	Action     TradeAction
	Side       Side
	Amount     float64 // gross amount for opens, proceeds for closes
	Price      float64 // execution price
	Fee        float64
	Sentiment  float64 // directional weight in [-1, 1]
	Reasoning  string
	CreatedAt  time.Time
}
