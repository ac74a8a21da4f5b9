package notify

import (
	"context"
	"fmt"

	"github.com/pulsemarkets/pulse/internal/domain"
)

// Event types recognized by the notification filter.
const (
	EventLiquidation       = "liquidation"
	EventSettlementFailure = "settlement_failure"
	EventMarketResolved    = "market_resolved"
)

// LiquidationAlert notifies operators that a position was force-closed at
// its liquidation price.
func (n *Notifier) LiquidationAlert(ctx context.Context, pos domain.Position) error {
	realized := 0.0
	if pos.RealizedPnL != nil {
		realized = *pos.RealizedPnL
	}
	return n.Notify(ctx, EventLiquidation,
		"Position liquidated",
		fmt.Sprintf("position %s (%s %s on %s) liquidated at %.4f, realized PnL %.2f",
			pos.ID, pos.Side, pos.Kind, pos.MarketID, pos.LiquidationPrice, realized),
	)
}

// SettlementFailureAlert notifies operators that a chain submission failed
// and is awaiting retry.
func (n *Notifier) SettlementFailureAlert(ctx context.Context, rec domain.SettlementRecord) error {
	cause := "unknown"
	if rec.LastError != nil {
		cause = *rec.LastError
	}
	return n.Notify(ctx, EventSettlementFailure,
		"Settlement failed",
		fmt.Sprintf("settlement %s/%s failed after %d attempt(s): %s",
			rec.PositionID, rec.Kind, rec.Attempts, cause),
	)
}

// MarketResolvedAlert notifies operators that a prediction market resolved.
func (n *Notifier) MarketResolvedAlert(ctx context.Context, market domain.PredictionMarket) error {
	outcome := "unknown"
	if market.Outcome != nil {
		if *market.Outcome {
			outcome = "yes"
		} else {
			outcome = "no"
		}
	}
	return n.Notify(ctx, EventMarketResolved,
		"Prediction market resolved",
		fmt.Sprintf("market %s (%q) resolved %s", market.ID, market.Question, outcome),
	)
}
