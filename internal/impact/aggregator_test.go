package impact

import (
	"math"
	"testing"

	"github.com/pulsemarkets/pulse/internal/domain"
)

func perpTrade(market string, side domain.Side, amount float64) domain.TradeRecord {
	return domain.TradeRecord{
		MarketID:   market,
		MarketKind: domain.PositionKindPerp,
		Side:       side,
		Amount:     amount,
		Action:     domain.TradeActionOpen,
	}
}

func TestAggregate_PerpSentiment(t *testing.T) {
	// 6000 long vs 4000 short: sentiment (6000-4000)/10000 = 0.2.
	trades := []domain.TradeRecord{
		perpTrade("m1", domain.SideLong, 6000),
		perpTrade("m1", domain.SideShort, 4000),
	}
	a := NewAggregator(100000, 0.05)
	impacts := a.Aggregate(trades)
	if len(impacts) != 1 {
		t.Fatalf("got %d impacts, want 1", len(impacts))
	}
	mi := impacts[0]
	if mi.NetSentiment != 0.2 {
		t.Errorf("sentiment = %f, want 0.2", mi.NetSentiment)
	}
	if mi.TotalVolume != 10000 {
		t.Errorf("volume = %f, want 10000", mi.TotalVolume)
	}

	// volumeImpact = min(10000/100000, 0.05) = 0.05; change = 0.2*0.05 = 0.01.
	if got := a.PriceChange(mi); math.Abs(got-0.01) > 1e-12 {
		t.Errorf("price change = %f, want 0.01", got)
	}
	if got := a.Apply(100, mi); math.Abs(got-101) > 1e-9 {
		t.Errorf("new price = %f, want 101", got)
	}
}

func TestAggregate_PredictionSentiment(t *testing.T) {
	trades := []domain.TradeRecord{
		{MarketID: "p1", MarketKind: domain.PositionKindPrediction, Side: domain.SideYes, Amount: 300},
		{MarketID: "p1", MarketKind: domain.PositionKindPrediction, Side: domain.SideNo, Amount: 100},
	}
	impacts := NewAggregator(0, 0).Aggregate(trades)
	if len(impacts) != 1 {
		t.Fatalf("got %d impacts, want 1", len(impacts))
	}
	if impacts[0].NetSentiment != 0.5 {
		t.Errorf("sentiment = %f, want 0.5", impacts[0].NetSentiment)
	}
}

func TestAggregate_GroupsAndOrdersByMarket(t *testing.T) {
	trades := []domain.TradeRecord{
		perpTrade("zeta", domain.SideLong, 100),
		perpTrade("alpha", domain.SideShort, 200),
		perpTrade("zeta", domain.SideLong, 50),
	}
	impacts := NewAggregator(0, 0).Aggregate(trades)
	if len(impacts) != 2 {
		t.Fatalf("got %d impacts, want 2", len(impacts))
	}
	if impacts[0].MarketID != "alpha" || impacts[1].MarketID != "zeta" {
		t.Errorf("impacts not ordered by market ID: %s, %s", impacts[0].MarketID, impacts[1].MarketID)
	}
	if impacts[1].TotalVolume != 150 || impacts[1].Trades != 2 {
		t.Errorf("zeta volume = %f trades = %d, want 150 / 2", impacts[1].TotalVolume, impacts[1].Trades)
	}
}

func TestAggregate_Idempotent(t *testing.T) {
	trades := []domain.TradeRecord{
		perpTrade("m1", domain.SideLong, 123.45),
		perpTrade("m2", domain.SideShort, 678.9),
		perpTrade("m1", domain.SideShort, 11.1),
	}
	a := NewAggregator(50000, 0.03)
	first := a.Aggregate(trades)
	second := a.Aggregate(trades)
	if len(first) != len(second) {
		t.Fatalf("length mismatch")
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("impact %d differs between runs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestAggregate_IgnoresBadRecords(t *testing.T) {
	trades := []domain.TradeRecord{
		perpTrade("m1", domain.SideLong, 0),
		perpTrade("", domain.SideLong, 100),
		perpTrade("m1", domain.SideLong, -5),
	}
	if impacts := NewAggregator(0, 0).Aggregate(trades); len(impacts) != 0 {
		t.Errorf("expected no impacts, got %+v", impacts)
	}
}

func TestPriceChange_CappedBothDirections(t *testing.T) {
	a := NewAggregator(1000, 0.05)
	up := MarketImpact{Kind: domain.PositionKindPerp, LongVolume: 1e9, TotalVolume: 1e9, NetSentiment: 1}
	down := MarketImpact{Kind: domain.PositionKindPerp, ShortVolume: 1e9, TotalVolume: 1e9, NetSentiment: -1}
	if got := a.PriceChange(up); got > 0.05 {
		t.Errorf("upward change %f exceeds cap", got)
	}
	if got := a.PriceChange(down); got < -0.05 {
		t.Errorf("downward change %f exceeds cap", got)
	}
}

func TestApply_NeverNonPositive(t *testing.T) {
	a := NewAggregator(1, 0.99)
	mi := MarketImpact{Kind: domain.PositionKindPerp, TotalVolume: 1e12, NetSentiment: -1}
	if got := a.Apply(0.0001, mi); got <= 0 {
		t.Errorf("price went non-positive: %f", got)
	}
}
