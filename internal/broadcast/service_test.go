package broadcast

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/pulsemarkets/pulse/internal/domain"
	"github.com/pulsemarkets/pulse/internal/impact"
	"github.com/pulsemarkets/pulse/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, opts ...Option) (*Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	agg := impact.NewAggregator(100000, 0.05)
	return NewService(st, agg, testLogger(), opts...), st
}

func seedMarket(t *testing.T, st *memory.Store, id string, price float64) {
	t.Helper()
	err := st.Markets().Create(context.Background(), domain.Market{
		ID: id, Name: "Market " + id, Ticker: id, CurrentPrice: price, Active: true,
	})
	if err != nil {
		t.Fatalf("seed market: %v", err)
	}
}

func TestApplyImpact(t *testing.T) {
	ctx := context.Background()
	svc, st := newFixture(t)
	seedMarket(t, st, "m1", 100)

	// Sentiment 0.2, saturated volume: change = 0.2*0.05 = +1%.
	impacts := []impact.MarketImpact{{
		MarketID: "m1", Kind: domain.PositionKindPerp,
		LongVolume: 6000, ShortVolume: 4000, TotalVolume: 10000, NetSentiment: 0.2, Trades: 2,
	}}
	updates, liq, err := svc.ApplyImpact(ctx, impacts)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(updates) != 1 || len(liq) != 0 {
		t.Fatalf("got %d updates %d candidates, want 1 / 0", len(updates), len(liq))
	}
	if math.Abs(updates[0].NewPrice-101) > 1e-9 {
		t.Errorf("new price = %f, want 101", updates[0].NewPrice)
	}
	if math.Abs(updates[0].ChangePercent-1) > 1e-9 {
		t.Errorf("change pct = %f, want 1", updates[0].ChangePercent)
	}

	market, _ := st.Markets().GetByID(ctx, "m1")
	if math.Abs(market.CurrentPrice-101) > 1e-9 {
		t.Errorf("market price = %f, want 101", market.CurrentPrice)
	}
	history, _ := st.Prices().ListByMarket(ctx, "m1", domain.ListOpts{})
	if len(history) != 1 || history[0].Source != SourceImpact {
		t.Errorf("history row missing or wrong source: %+v", history)
	}
}

func TestApplyImpactBoundedDelta(t *testing.T) {
	ctx := context.Background()
	svc, st := newFixture(t)
	seedMarket(t, st, "m1", 100)

	// Full one-sided sentiment and enormous volume still caps at 5%.
	impacts := []impact.MarketImpact{{
		MarketID: "m1", Kind: domain.PositionKindPerp,
		LongVolume: 1e9, TotalVolume: 1e9, NetSentiment: 1, Trades: 1000,
	}}
	updates, _, err := svc.ApplyImpact(ctx, impacts)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if updates[0].NewPrice > 105+1e-9 {
		t.Errorf("price %f exceeds 5%% cap", updates[0].NewPrice)
	}
}

func TestApplyImpactRefreshesMarksAndFlagsLiquidations(t *testing.T) {
	ctx := context.Background()
	svc, st := newFixture(t)
	seedMarket(t, st, "m1", 81)

	// Long from entry 100 with liquidation at 80: a 2% drop from 81 crosses it.
	pos := domain.Position{
		ID: "pos1", PoolID: "p1", MarketID: "m1", Kind: domain.PositionKindPerp,
		Side: domain.SideLong, EntryPrice: 100, CurrentPrice: 81, Size: 5000,
		Leverage: 5, LiquidationPrice: 80, Status: domain.PositionStatusOpen,
	}
	if err := st.Positions().Create(ctx, pos); err != nil {
		t.Fatalf("seed position: %v", err)
	}
	safe := pos
	safe.ID = "pos2"
	safe.Side = domain.SideShort
	safe.LiquidationPrice = 120
	if err := st.Positions().Create(ctx, safe); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	impacts := []impact.MarketImpact{{
		MarketID: "m1", Kind: domain.PositionKindPerp,
		ShortVolume: 1e9, TotalVolume: 1e9, NetSentiment: -1, Trades: 10,
	}}
	updates, liq, err := svc.ApplyImpact(ctx, impacts)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	newPrice := updates[0].NewPrice
	if newPrice > 80 {
		t.Fatalf("price %f did not cross the liquidation threshold", newPrice)
	}
	if len(liq) != 1 || liq[0].ID != "pos1" {
		t.Fatalf("liquidation candidates = %+v, want pos1 only", liq)
	}

	got, _ := st.Positions().GetByID(ctx, "pos1")
	if got.CurrentPrice != newPrice {
		t.Errorf("mark not refreshed: %f", got.CurrentPrice)
	}
	wantPnL := (newPrice - 100) / 100 * 5000
	if math.Abs(got.UnrealizedPnL-wantPnL) > 1e-9 {
		t.Errorf("unrealized = %f, want %f", got.UnrealizedPnL, wantPnL)
	}
}

func TestApplyImpactSkipsPredictionMarkets(t *testing.T) {
	ctx := context.Background()
	svc, _ := newFixture(t)
	impacts := []impact.MarketImpact{{
		MarketID: "pm1", Kind: domain.PositionKindPrediction,
		YesVolume: 500, TotalVolume: 500, NetSentiment: 1,
	}}
	updates, _, err := svc.ApplyImpact(ctx, impacts)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(updates) != 0 {
		t.Errorf("prediction markets are priced by their own reserves, got %+v", updates)
	}
}

func TestApplyPrice(t *testing.T) {
	ctx := context.Background()
	svc, st := newFixture(t)
	seedMarket(t, st, "m1", 100)

	update, err := svc.ApplyPrice(ctx, "m1", 97.5, SourceManual)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if update.NewPrice != 97.5 || update.OldPrice != 100 || update.Source != SourceManual {
		t.Errorf("update = %+v", update)
	}
	market, _ := st.Markets().GetByID(ctx, "m1")
	if market.CurrentPrice != 97.5 {
		t.Errorf("market price = %f", market.CurrentPrice)
	}

	if _, err := svc.ApplyPrice(ctx, "m1", 0, SourceManual); !errors.Is(err, domain.ErrRejectedTrade) {
		t.Errorf("non-positive price must be rejected, got %v", err)
	}
	if _, err := svc.ApplyPrice(ctx, "missing", 10, SourceFeed); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown market must fail, got %v", err)
	}
}

type captureSettler struct {
	batches [][]domain.PriceUpdate
}

func (c *captureSettler) SettlePriceBatch(ctx context.Context, updates []domain.PriceUpdate) error {
	c.batches = append(c.batches, updates)
	return nil
}

func TestFanOutReachesSettler(t *testing.T) {
	ctx := context.Background()
	settler := &captureSettler{}
	svc, st := newFixture(t, WithSettler(settler))
	seedMarket(t, st, "m1", 100)
	seedMarket(t, st, "m2", 50)

	impacts := []impact.MarketImpact{
		{MarketID: "m1", Kind: domain.PositionKindPerp, LongVolume: 100, TotalVolume: 100, NetSentiment: 1, Trades: 1},
		{MarketID: "m2", Kind: domain.PositionKindPerp, ShortVolume: 100, TotalVolume: 100, NetSentiment: -1, Trades: 1},
	}
	if _, _, err := svc.ApplyImpact(ctx, impacts); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(settler.batches) != 1 || len(settler.batches[0]) != 2 {
		t.Fatalf("settler saw %+v, want one batch of two updates", settler.batches)
	}
}
