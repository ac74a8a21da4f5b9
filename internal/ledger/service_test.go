package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/pulsemarkets/pulse/internal/domain"
	"github.com/pulsemarkets/pulse/internal/fees"
	"github.com/pulsemarkets/pulse/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, opts ...Option) (*Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	engine, err := fees.NewEngine(0.001, 0.5, 0.01)
	if err != nil {
		t.Fatalf("fee engine: %v", err)
	}
	svc := NewService(st, engine, Config{MaxLeverage: 20}, testLogger(), opts...)
	return svc, st
}

func seedPool(t *testing.T, st *memory.Store, id string, balance float64, referrer *string) {
	t.Helper()
	err := st.Pools().Create(context.Background(), domain.Pool{
		ID: id, OwnerID: "owner-" + id, AvailableBalance: balance, ReferrerID: referrer, Active: true,
	})
	if err != nil {
		t.Fatalf("seed pool: %v", err)
	}
}

func seedMarket(t *testing.T, st *memory.Store, id, name, ticker string, price float64) {
	t.Helper()
	err := st.Markets().Create(context.Background(), domain.Market{
		ID: id, Name: name, Ticker: ticker, CurrentPrice: price, Active: true,
	})
	if err != nil {
		t.Fatalf("seed market: %v", err)
	}
}

func seedPrediction(t *testing.T, st *memory.Store, id, question string, yes, no float64) {
	t.Helper()
	err := st.Predictions().Create(context.Background(), domain.PredictionMarket{
		ID: id, Question: question, YesShares: yes, NoShares: no,
		EndDate: time.Now().Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("seed prediction market: %v", err)
	}
}

func TestOpenPerpPosition(t *testing.T) {
	ctx := context.Background()
	svc, st := newFixture(t)
	seedPool(t, st, "p1", 2000, nil)
	seedMarket(t, st, "m1", "Acme Corp", "ACME", 100)

	pos, err := svc.OpenPerpPosition(ctx, OpenPerpRequest{
		PoolID: "p1", Market: "ACME", Side: domain.SideLong, Margin: 1000, Leverage: 5,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if pos.Size != 5000 {
		t.Errorf("size = %f, want 5000", pos.Size)
	}
	if pos.EntryPrice != 100 {
		t.Errorf("entry = %f, want 100", pos.EntryPrice)
	}
	if pos.LiquidationPrice != 80 {
		t.Errorf("liquidation = %f, want 80", pos.LiquidationPrice)
	}

	// Debit = margin + fee(notional) = 1000 + 5.
	pool, _ := st.Pools().GetByID(ctx, "p1")
	if pool.AvailableBalance != 995 {
		t.Errorf("balance = %f, want 995", pool.AvailableBalance)
	}
	if pool.TotalFeesPaid != 5 {
		t.Errorf("fees paid = %f, want 5", pool.TotalFeesPaid)
	}

	trades, _ := st.Trades().ListByPool(ctx, "p1", domain.ListOpts{})
	if len(trades) != 1 || trades[0].Action != domain.TradeActionOpen || trades[0].Fee != 5 {
		t.Errorf("trade record wrong: %+v", trades)
	}
}

func TestOpenPerpInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	svc, st := newFixture(t)
	seedPool(t, st, "p1", 500, nil)
	seedMarket(t, st, "m1", "Acme Corp", "ACME", 100)

	_, err := svc.OpenPerpPosition(ctx, OpenPerpRequest{
		PoolID: "p1", Market: "m1", Side: domain.SideLong, Margin: 1000, Leverage: 5,
	})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	pool, _ := st.Pools().GetByID(ctx, "p1")
	if pool.AvailableBalance != 500 {
		t.Errorf("rejected open touched the balance: %f", pool.AvailableBalance)
	}
	if positions, _ := st.Positions().ListOpenByPool(ctx, "p1"); len(positions) != 0 {
		t.Errorf("rejected open created a position")
	}
}

func TestOpenPerpValidation(t *testing.T) {
	ctx := context.Background()
	svc, st := newFixture(t)
	seedPool(t, st, "p1", 10000, nil)
	seedMarket(t, st, "m1", "Acme Corp", "ACME", 100)

	tests := []struct {
		name string
		req  OpenPerpRequest
		want error
	}{
		{"prediction side", OpenPerpRequest{PoolID: "p1", Market: "m1", Side: domain.SideYes, Margin: 100, Leverage: 2}, domain.ErrRejectedTrade},
		{"zero margin", OpenPerpRequest{PoolID: "p1", Market: "m1", Side: domain.SideLong, Margin: 0, Leverage: 2}, domain.ErrRejectedTrade},
		{"leverage below one", OpenPerpRequest{PoolID: "p1", Market: "m1", Side: domain.SideLong, Margin: 100, Leverage: 0.5}, domain.ErrPositionOutOfBounds},
		{"leverage above max", OpenPerpRequest{PoolID: "p1", Market: "m1", Side: domain.SideLong, Margin: 100, Leverage: 21}, domain.ErrPositionOutOfBounds},
		{"unknown market", OpenPerpRequest{PoolID: "p1", Market: "nope", Side: domain.SideLong, Margin: 100, Leverage: 2}, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.OpenPerpPosition(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestClosePerpPosition(t *testing.T) {
	ctx := context.Background()
	svc, st := newFixture(t)
	seedPool(t, st, "p1", 2000, nil)
	seedMarket(t, st, "m1", "Acme Corp", "ACME", 100)

	pos, err := svc.OpenPerpPosition(ctx, OpenPerpRequest{
		PoolID: "p1", Market: "m1", Side: domain.SideLong, Margin: 1000, Leverage: 5,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	exit := 110.0
	closed, err := svc.ClosePerpPosition(ctx, pos.ID, &exit)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	// pnl = 10% of 5000 = 500; fee on notional = 5; credit = 1000 + 500 - 5.
	if closed.RealizedPnL == nil || *closed.RealizedPnL != 500 {
		t.Errorf("pnl = %v, want 500", closed.RealizedPnL)
	}

	pool, _ := st.Pools().GetByID(ctx, "p1")
	// 2000 - 1005 (open) + 1495 (close).
	if math.Abs(pool.AvailableBalance-2490) > 1e-9 {
		t.Errorf("balance = %f, want 2490", pool.AvailableBalance)
	}
	if pool.LifetimePnL != 500 {
		t.Errorf("lifetime pnl = %f, want 500", pool.LifetimePnL)
	}
	if pool.TotalFeesPaid != 10 {
		t.Errorf("fees paid = %f, want 10", pool.TotalFeesPaid)
	}
}

func TestClosePerpIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, st := newFixture(t)
	seedPool(t, st, "p1", 2000, nil)
	seedMarket(t, st, "m1", "Acme Corp", "ACME", 100)

	pos, _ := svc.OpenPerpPosition(ctx, OpenPerpRequest{
		PoolID: "p1", Market: "m1", Side: domain.SideLong, Margin: 500, Leverage: 2,
	})
	exit := 105.0
	if _, err := svc.ClosePerpPosition(ctx, pos.ID, &exit); err != nil {
		t.Fatalf("close: %v", err)
	}
	pool, _ := st.Pools().GetByID(ctx, "p1")
	balance := pool.AvailableBalance

	if _, err := svc.ClosePerpPosition(ctx, pos.ID, &exit); !errors.Is(err, domain.ErrAlreadyClosed) {
		t.Fatalf("second close must fail with ErrAlreadyClosed, got %v", err)
	}
	pool, _ = st.Pools().GetByID(ctx, "p1")
	if pool.AvailableBalance != balance {
		t.Errorf("second close moved money: %f -> %f", balance, pool.AvailableBalance)
	}
}

func TestClosePerpLossBoundedByMargin(t *testing.T) {
	ctx := context.Background()
	svc, st := newFixture(t)
	seedPool(t, st, "p1", 2000, nil)
	seedMarket(t, st, "m1", "Acme Corp", "ACME", 100)

	pos, _ := svc.OpenPerpPosition(ctx, OpenPerpRequest{
		PoolID: "p1", Market: "m1", Side: domain.SideLong, Margin: 1000, Leverage: 5,
	})
	// 30% drop: pnl = -1500, margin 1000 exhausted, credit clamps at 0.
	exit := 70.0
	if _, err := svc.ClosePerpPosition(ctx, pos.ID, &exit); err != nil {
		t.Fatalf("close: %v", err)
	}

	pool, _ := st.Pools().GetByID(ctx, "p1")
	if pool.AvailableBalance != 995 {
		t.Errorf("balance = %f, want 995 (no credit on wiped margin)", pool.AvailableBalance)
	}
	if pool.AvailableBalance < 0 {
		t.Errorf("balance went negative")
	}
}

func TestClosePerpExitFallbackChain(t *testing.T) {
	ctx := context.Background()
	svc, st := newFixture(t)
	seedPool(t, st, "p1", 2000, nil)
	seedMarket(t, st, "m1", "Acme Corp", "ACME", 100)

	pos, _ := svc.OpenPerpPosition(ctx, OpenPerpRequest{
		PoolID: "p1", Market: "m1", Side: domain.SideLong, Margin: 100, Leverage: 2,
	})

	// No hint, no cache: the position's refreshed mark wins over the market
	// store price.
	if err := st.Positions().UpdateMark(ctx, pos.ID, 108, 16); err != nil {
		t.Fatalf("update mark: %v", err)
	}
	if err := st.Markets().UpdatePrice(ctx, "m1", 104); err != nil {
		t.Fatalf("update price: %v", err)
	}

	closed, err := svc.ClosePerpPosition(ctx, pos.ID, nil)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.ExitPrice == nil || *closed.ExitPrice != 108 {
		t.Errorf("exit = %v, want mark 108", closed.ExitPrice)
	}
}

func TestOpenPredictionPosition(t *testing.T) {
	ctx := context.Background()
	svc, st := newFixture(t)
	seedPool(t, st, "p1", 500, nil)
	seedPrediction(t, st, "pm1", "Will it ship this year?", 1000, 1000)

	pos, err := svc.OpenPredictionPosition(ctx, OpenPredictionRequest{
		PoolID: "p1", Market: "pm1", Side: domain.SideYes, Amount: 100,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// fee = 0.1, below the 0.01 minimum? No: 100 * 0.001 = 0.1 >= 0.01, so
	// it applies. net = 99.9.
	if math.Abs(pos.Size-99.9) > 1e-9 {
		t.Errorf("size = %f, want net 99.9", pos.Size)
	}
	if pos.Shares <= 0 {
		t.Errorf("no shares acquired")
	}

	market, _ := st.Predictions().GetByID(ctx, "pm1")
	if math.Abs(market.YesShares*market.NoShares-1000*1000) > 1e-6 {
		t.Errorf("constant product drifted")
	}
	if math.Abs(market.Liquidity-99.9) > 1e-9 {
		t.Errorf("liquidity = %f, want 99.9", market.Liquidity)
	}

	pool, _ := st.Pools().GetByID(ctx, "p1")
	if pool.AvailableBalance != 400 {
		t.Errorf("balance = %f, want 400", pool.AvailableBalance)
	}
}

func TestPredictionRoundTripConservesMoney(t *testing.T) {
	ctx := context.Background()
	svc, st := newFixture(t)
	seedPool(t, st, "p1", 1000, nil)
	seedPrediction(t, st, "pm1", "Will it rain?", 1000, 1000)

	pos, err := svc.OpenPredictionPosition(ctx, OpenPredictionRequest{
		PoolID: "p1", Market: "pm1", Side: domain.SideYes, Amount: 200,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	closed, err := svc.ClosePredictionPosition(ctx, pos.ID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	pool, _ := st.Pools().GetByID(ctx, "p1")
	market, _ := st.Predictions().GetByID(ctx, "pm1")

	// Everything the pool lost is held by the market or was destroyed as fees.
	lost := 1000 - pool.AvailableBalance
	if diff := math.Abs(lost - (market.Liquidity + pool.TotalFeesPaid)); diff > 1e-9 {
		t.Errorf("money leaked: pool lost %f, market holds %f, fees %f", lost, market.Liquidity, pool.TotalFeesPaid)
	}
	if closed.RealizedPnL == nil {
		t.Fatalf("realized pnl not set")
	}
	// Round trip through fees is a small loss, never a gain.
	if *closed.RealizedPnL > 0 {
		t.Errorf("round trip produced a profit: %f", *closed.RealizedPnL)
	}
}

func TestOpenPredictionRejectsResolvedAndExpired(t *testing.T) {
	ctx := context.Background()
	svc, st := newFixture(t)
	seedPool(t, st, "p1", 1000, nil)

	seedPrediction(t, st, "pm1", "resolved one", 1000, 1000)
	if err := st.Predictions().MarkResolved(ctx, "pm1", true); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	_, err := svc.OpenPredictionPosition(ctx, OpenPredictionRequest{
		PoolID: "p1", Market: "pm1", Side: domain.SideYes, Amount: 100,
	})
	if !errors.Is(err, domain.ErrMarketResolved) {
		t.Errorf("expected ErrMarketResolved, got %v", err)
	}

	if err := st.Predictions().Create(ctx, domain.PredictionMarket{
		ID: "pm2", Question: "expired one", YesShares: 1000, NoShares: 1000,
		EndDate: time.Now().Add(-time.Hour),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err = svc.OpenPredictionPosition(ctx, OpenPredictionRequest{
		PoolID: "p1", Market: "pm2", Side: domain.SideNo, Amount: 100,
	})
	if !errors.Is(err, domain.ErrMarketExpired) {
		t.Errorf("expected ErrMarketExpired, got %v", err)
	}
}

func TestLiquidatePosition(t *testing.T) {
	ctx := context.Background()
	svc, st := newFixture(t)
	seedPool(t, st, "p1", 2000, nil)
	seedMarket(t, st, "m1", "Acme Corp", "ACME", 100)

	pos, _ := svc.OpenPerpPosition(ctx, OpenPerpRequest{
		PoolID: "p1", Market: "m1", Side: domain.SideLong, Margin: 1000, Leverage: 5,
	})

	// Above the liquidation price nothing happens.
	if _, err := svc.LiquidatePosition(ctx, pos.ID, 85); !errors.Is(err, domain.ErrRejectedTrade) {
		t.Fatalf("liquidation above threshold must be rejected, got %v", err)
	}

	// At mark 80 the pnl is exactly -margin: full wipe, zero credit.
	closed, err := svc.LiquidatePosition(ctx, pos.ID, 80)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if closed.RealizedPnL == nil || *closed.RealizedPnL != -1000 {
		t.Errorf("realized = %v, want -1000", closed.RealizedPnL)
	}

	pool, _ := st.Pools().GetByID(ctx, "p1")
	if pool.AvailableBalance != 995 {
		t.Errorf("balance = %f, want 995", pool.AvailableBalance)
	}
	if pool.AvailableBalance < 0 {
		t.Errorf("balance went negative")
	}

	trades, _ := st.Trades().ListByPool(ctx, "p1", domain.ListOpts{})
	var liq int
	for _, tr := range trades {
		if tr.Action == domain.TradeActionLiquidate {
			liq++
		}
	}
	if liq != 1 {
		t.Errorf("got %d liquidation trades, want 1", liq)
	}

	// A liquidated position cannot be liquidated or closed again.
	if _, err := svc.LiquidatePosition(ctx, pos.ID, 80); !errors.Is(err, domain.ErrAlreadyClosed) {
		t.Errorf("second liquidation must fail, got %v", err)
	}
	if _, err := svc.ClosePerpPosition(ctx, pos.ID, nil); !errors.Is(err, domain.ErrAlreadyClosed) {
		t.Errorf("close after liquidation must fail, got %v", err)
	}
}

func TestLiquidatePartialRemainder(t *testing.T) {
	ctx := context.Background()
	svc, st := newFixture(t)
	seedPool(t, st, "p1", 2000, nil)
	seedMarket(t, st, "m1", "Acme Corp", "ACME", 100)

	// 2x leverage: at mark 80 the pnl is -20% of 2000 = -400, less than the
	// 1000 margin, so 600 comes back.
	pos, _ := svc.OpenPerpPosition(ctx, OpenPerpRequest{
		PoolID: "p1", Market: "m1", Side: domain.SideLong, Margin: 1000, Leverage: 2,
	})
	closed, err := svc.LiquidatePosition(ctx, pos.ID, 80)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if closed.RealizedPnL == nil || *closed.RealizedPnL != -400 {
		t.Errorf("realized = %v, want -400", closed.RealizedPnL)
	}
	pool, _ := st.Pools().GetByID(ctx, "p1")
	// 2000 - 1002 (open with 2 fee) + 600.
	if math.Abs(pool.AvailableBalance-1598) > 1e-9 {
		t.Errorf("balance = %f, want 1598", pool.AvailableBalance)
	}
}

func TestReferrerFeeSplit(t *testing.T) {
	ctx := context.Background()
	svc, st := newFixture(t)
	ref := "referrer"
	seedPool(t, st, "referrer", 0, nil)
	seedPool(t, st, "p1", 2000, &ref)
	seedMarket(t, st, "m1", "Acme Corp", "ACME", 100)

	_, err := svc.OpenPerpPosition(ctx, OpenPerpRequest{
		PoolID: "p1", Market: "m1", Side: domain.SideLong, Margin: 1000, Leverage: 5,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// Fee 5, split 50/50 with the referrer.
	refPool, _ := st.Pools().GetByID(ctx, "referrer")
	if refPool.AvailableBalance != 2.5 || refPool.TotalFeesCollected != 2.5 {
		t.Errorf("referrer got %f (collected %f), want 2.5", refPool.AvailableBalance, refPool.TotalFeesCollected)
	}
	payer, _ := st.Pools().GetByID(ctx, "p1")
	if payer.TotalFeesPaid != 5 {
		t.Errorf("payer fees paid = %f, want 5", payer.TotalFeesPaid)
	}
}

type failingBridge struct {
	openErr  error
	closeErr error
}

func (b failingBridge) SettlePositionOpen(ctx context.Context, pos domain.Position) error {
	return b.openErr
}
func (b failingBridge) SettlePositionClose(ctx context.Context, pos domain.Position) error {
	return b.closeErr
}

func TestOpenSettlementFailureCompensates(t *testing.T) {
	ctx := context.Background()
	bridge := failingBridge{openErr: errors.New("chain unavailable")}
	svc, st := newFixture(t, WithBridge(bridge))
	ref := "referrer"
	seedPool(t, st, "referrer", 0, nil)
	seedPool(t, st, "p1", 2000, &ref)
	seedMarket(t, st, "m1", "Acme Corp", "ACME", 100)

	_, err := svc.OpenPerpPosition(ctx, OpenPerpRequest{
		PoolID: "p1", Market: "m1", Side: domain.SideLong, Margin: 1000, Leverage: 5,
	})
	if !errors.Is(err, domain.ErrSettlementFailed) {
		t.Fatalf("expected ErrSettlementFailed, got %v", err)
	}

	// The compensating close refunds the debit and reverses the fee split.
	pool, _ := st.Pools().GetByID(ctx, "p1")
	if pool.AvailableBalance != 2000 {
		t.Errorf("balance = %f, want refunded 2000", pool.AvailableBalance)
	}
	if pool.TotalFeesPaid != 0 {
		t.Errorf("fees paid = %f, want 0 after reversal", pool.TotalFeesPaid)
	}
	refPool, _ := st.Pools().GetByID(ctx, "referrer")
	if refPool.AvailableBalance != 0 {
		t.Errorf("referrer kept %f from a compensated trade", refPool.AvailableBalance)
	}
	if open, _ := st.Positions().ListOpenByPool(ctx, "p1"); len(open) != 0 {
		t.Errorf("compensated position still open")
	}
}

func TestCloseSettlementFailureKeepsCloseAndSurfaces(t *testing.T) {
	ctx := context.Background()
	bridge := failingBridge{closeErr: errors.New("chain unavailable")}
	svc, st := newFixture(t, WithBridge(bridge))
	seedPool(t, st, "p1", 2000, nil)
	seedMarket(t, st, "m1", "Acme Corp", "ACME", 100)

	pos, err := svc.OpenPerpPosition(ctx, OpenPerpRequest{
		PoolID: "p1", Market: "m1", Side: domain.SideLong, Margin: 500, Leverage: 2,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	afterOpen, _ := st.Pools().GetByID(ctx, "p1")

	// The close commits locally even when the bridge rejects it, and the
	// failure surfaces so the caller can retry the settlement.
	exit := 110.0
	closed, err := svc.ClosePerpPosition(ctx, pos.ID, &exit)
	if !errors.Is(err, domain.ErrSettlementFailed) {
		t.Fatalf("close err = %v, want ErrSettlementFailed", err)
	}
	if closed.Status != domain.PositionStatusClosed {
		t.Errorf("returned position not closed")
	}

	stored, err := st.Positions().GetByID(ctx, pos.ID)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if stored.Status != domain.PositionStatusClosed {
		t.Errorf("stored position still open after settlement failure")
	}
	pool, _ := st.Pools().GetByID(ctx, "p1")
	if pool.AvailableBalance <= afterOpen.AvailableBalance {
		t.Errorf("pool not credited: %f -> %f", afterOpen.AvailableBalance, pool.AvailableBalance)
	}

	// The close does not re-run on retry of the operation itself.
	if _, err := svc.ClosePerpPosition(ctx, pos.ID, &exit); !errors.Is(err, domain.ErrAlreadyClosed) {
		t.Errorf("re-close err = %v, want ErrAlreadyClosed", err)
	}
}

func TestPredictionCloseSettlementFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	bridge := failingBridge{closeErr: errors.New("chain unavailable")}
	svc, st := newFixture(t, WithBridge(bridge))
	seedPool(t, st, "p1", 2000, nil)
	seedPrediction(t, st, "pm1", "Will it ship?", 1000, 1000)

	pos, err := svc.OpenPredictionPosition(ctx, OpenPredictionRequest{
		PoolID: "p1", Market: "pm1", Side: domain.SideYes, Amount: 100,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	closed, err := svc.ClosePredictionPosition(ctx, pos.ID)
	if !errors.Is(err, domain.ErrSettlementFailed) {
		t.Fatalf("close err = %v, want ErrSettlementFailed", err)
	}
	if closed.Status != domain.PositionStatusClosed {
		t.Errorf("returned position not closed")
	}
}

// Liquidations are system initiated; a settlement failure there is logged
// and queued but never blocks the forced close.
func TestLiquidationSettlementFailureStillCloses(t *testing.T) {
	ctx := context.Background()
	bridge := failingBridge{closeErr: errors.New("chain unavailable")}
	svc, st := newFixture(t, WithBridge(bridge))
	seedPool(t, st, "p1", 2000, nil)
	seedMarket(t, st, "m1", "Acme Corp", "ACME", 100)

	pos, err := svc.OpenPerpPosition(ctx, OpenPerpRequest{
		PoolID: "p1", Market: "m1", Side: domain.SideLong, Margin: 500, Leverage: 2,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	liq, err := svc.LiquidatePosition(ctx, pos.ID, pos.LiquidationPrice*0.99)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if liq.Status != domain.PositionStatusClosed {
		t.Errorf("liquidated position not closed")
	}
}

type fakeCache struct {
	prices map[string]float64
}

func (c fakeCache) SetPrice(ctx context.Context, marketID string, price float64, ts time.Time) error {
	c.prices[marketID] = price
	return nil
}

func (c fakeCache) GetPrice(ctx context.Context, marketID string) (float64, time.Time, error) {
	p, ok := c.prices[marketID]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p, time.Now(), nil
}

func (c fakeCache) GetPrices(ctx context.Context, marketIDs []string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, id := range marketIDs {
		if p, ok := c.prices[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func TestLiveCachePreferredForEntryAndExit(t *testing.T) {
	ctx := context.Background()
	cache := fakeCache{prices: map[string]float64{"m1": 102}}
	svc, st := newFixture(t, WithPriceCache(cache))
	seedPool(t, st, "p1", 2000, nil)
	seedMarket(t, st, "m1", "Acme Corp", "ACME", 100)

	pos, err := svc.OpenPerpPosition(ctx, OpenPerpRequest{
		PoolID: "p1", Market: "m1", Side: domain.SideLong, Margin: 500, Leverage: 2,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if pos.EntryPrice != 102 {
		t.Errorf("entry = %f, want cached 102", pos.EntryPrice)
	}

	cache.prices["m1"] = 110
	closed, err := svc.ClosePerpPosition(ctx, pos.ID, nil)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.ExitPrice == nil || *closed.ExitPrice != 110 {
		t.Errorf("exit = %v, want cached 110", closed.ExitPrice)
	}
}
