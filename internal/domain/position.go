package domain

import "time"

// PositionKind discriminates leveraged perpetual positions from prediction
// market share positions.
type PositionKind string

const (
	PositionKindPerp       PositionKind = "perp"
	PositionKindPrediction PositionKind = "prediction"
)

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// Side is the direction of a position: long/short for perpetuals,
// yes/no for prediction markets.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
	SideYes   Side = "yes"
	SideNo    Side = "no"
)

// Valid reports whether the side is allowed for the given position kind.
func (s Side) Valid(kind PositionKind) bool {
	switch kind {
	case PositionKindPerp:
		return s == SideLong || s == SideShort
	case PositionKindPrediction:
		return s == SideYes || s == SideNo
	}
	return false
}

// Position is an open or historical position. Size is the economic cost
// basis committed to the trade: the post-fee amount injected for prediction
// positions, and the notional (margin x leverage) for perpetuals.
//
// ClosedAt transitions nil -> set exactly once; a closed position is never
// re-opened or re-closed.
type Position struct {
	ID               string
	PoolID           string
	MarketID         string
	Kind             PositionKind
	Side             Side
	EntryPrice       float64
	CurrentPrice     float64
	Size             float64
	Leverage         float64  // perp only
	LiquidationPrice float64  // perp only
	Shares           float64  // prediction only
	UnrealizedPnL    float64
	RealizedPnL      *float64 // set only at close
	Status           PositionStatus
	OpenedAt         time.Time
	ClosedAt         *time.Time
	ExitPrice        *float64
}

// Margin returns the collateral backing a perpetual position.
func (p Position) Margin() float64 {
	if p.Kind != PositionKindPerp || p.Leverage <= 0 {
		return p.Size
	}
	return p.Size / p.Leverage
}

// Liquidatable reports whether the mark price has crossed the liquidation
// price for an open perpetual position.
func (p Position) Liquidatable(mark float64) bool {
	if p.Kind != PositionKindPerp || p.Status != PositionStatusOpen {
		return false
	}
	switch p.Side {
	case SideLong:
		return mark <= p.LiquidationPrice
	case SideShort:
		return mark >= p.LiquidationPrice
	}
	return false
}
