package pricing

import (
	"errors"
	"testing"

	"github.com/pulsemarkets/pulse/internal/domain"
)

func TestNotional(t *testing.T) {
	if got := Notional(1000, 5); got != 5000 {
		t.Errorf("Notional(1000, 5) = %f, want 5000", got)
	}
}

func TestLiquidationPrice_Long(t *testing.T) {
	lp, err := LiquidationPrice(100, domain.SideLong, 0.2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lp != 80 {
		t.Errorf("long liquidation = %f, want 80", lp)
	}
	if lp >= 100 {
		t.Errorf("long liquidation price must be below entry")
	}
}

func TestLiquidationPrice_Short(t *testing.T) {
	lp, err := LiquidationPrice(100, domain.SideShort, 0.2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lp != 120 {
		t.Errorf("short liquidation = %f, want 120", lp)
	}
	if lp <= 100 {
		t.Errorf("short liquidation price must be above entry")
	}
}

func TestLiquidationPrice_BadThresholdFallsBack(t *testing.T) {
	lp, err := LiquidationPrice(100, domain.SideLong, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lp != 100*(1-DefaultLiquidationThreshold) {
		t.Errorf("expected default threshold, got %f", lp)
	}
}

func TestLiquidationPrice_InvalidInputs(t *testing.T) {
	if _, err := LiquidationPrice(0, domain.SideLong, 0.2); !errors.Is(err, domain.ErrRejectedTrade) {
		t.Errorf("zero entry should be rejected, got %v", err)
	}
	if _, err := LiquidationPrice(100, domain.SideYes, 0.2); !errors.Is(err, domain.ErrRejectedTrade) {
		t.Errorf("prediction side should be rejected, got %v", err)
	}
}

func TestPerpPnL(t *testing.T) {
	tests := []struct {
		name           string
		entry, current float64
		size           float64
		side           domain.Side
		want           float64
	}{
		{"long gain", 100, 110, 5000, domain.SideLong, 500},
		{"long loss", 100, 90, 5000, domain.SideLong, -500},
		{"short gain", 100, 90, 5000, domain.SideShort, 500},
		{"short loss", 100, 110, 5000, domain.SideShort, -500},
		{"flat", 100, 100, 5000, domain.SideLong, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PerpPnL(tt.entry, tt.current, tt.size, tt.side); !almostEqual(got, tt.want) {
				t.Errorf("PerpPnL = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestPositionLiquidatable(t *testing.T) {
	long := domain.Position{
		Kind:             domain.PositionKindPerp,
		Side:             domain.SideLong,
		Status:           domain.PositionStatusOpen,
		EntryPrice:       100,
		LiquidationPrice: 80,
	}
	if long.Liquidatable(85) {
		t.Errorf("long at 85 with liq 80 must not liquidate")
	}
	if !long.Liquidatable(80) {
		t.Errorf("long at 80 with liq 80 must liquidate")
	}

	short := long
	short.Side = domain.SideShort
	short.LiquidationPrice = 120
	if short.Liquidatable(115) {
		t.Errorf("short at 115 with liq 120 must not liquidate")
	}
	if !short.Liquidatable(121) {
		t.Errorf("short at 121 with liq 120 must liquidate")
	}

	closed := long
	closed.Status = domain.PositionStatusClosed
	if closed.Liquidatable(10) {
		t.Errorf("closed positions never liquidate")
	}
}
