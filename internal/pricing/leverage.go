package pricing

import (
	"fmt"

	"github.com/pulsemarkets/pulse/internal/domain"
)

// DefaultLiquidationThreshold is the adverse-move fraction at which a
// leveraged position is forcibly closed: entry*0.8 for longs, entry*1.2 for
// shorts. A fixed distance rather than a margin-ratio derivation; the
// threshold is configurable so a maintenance-margin model can replace it.
const DefaultLiquidationThreshold = 0.2

// Notional returns the economic size of a perpetual position.
func Notional(margin, leverage float64) float64 {
	return margin * leverage
}

// LiquidationPrice returns the mark price at which a perpetual position is
// forcibly closed. Longs liquidate below entry, shorts above.
func LiquidationPrice(entry float64, side domain.Side, threshold float64) (float64, error) {
	if entry <= 0 || !isFinite(entry) {
		return 0, fmt.Errorf("pricing: entry price must be positive: %w", domain.ErrRejectedTrade)
	}
	if threshold <= 0 || threshold >= 1 {
		threshold = DefaultLiquidationThreshold
	}
	switch side {
	case domain.SideLong:
		return entry * (1 - threshold), nil
	case domain.SideShort:
		return entry * (1 + threshold), nil
	}
	return 0, fmt.Errorf("pricing: invalid perp side %q: %w", side, domain.ErrRejectedTrade)
}

// PerpPnL returns the profit or loss of a perpetual position of the given
// notional size between entry and current price. Longs gain as price rises;
// shorts negate.
func PerpPnL(entry, current, size float64, side domain.Side) float64 {
	if entry <= 0 {
		return 0
	}
	pnl := (current - entry) / entry * size
	if side == domain.SideShort {
		pnl = -pnl
	}
	return pnl
}
