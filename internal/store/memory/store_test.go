package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pulsemarkets/pulse/internal/domain"
)

func TestPoolDebitInsufficient(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Pools().Create(ctx, domain.Pool{ID: "p1", AvailableBalance: 100, Active: true}); err != nil {
		t.Fatalf("create: %v", err)
	}

	err := s.Pools().Debit(ctx, "p1", 150, "test")
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// A rejected debit must not touch the balance.
	pool, err := s.Pools().GetByID(ctx, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if pool.AvailableBalance != 100 {
		t.Errorf("balance = %f, want 100", pool.AvailableBalance)
	}

	if err := s.Pools().Debit(ctx, "p1", 100, "test"); err != nil {
		t.Fatalf("exact debit should succeed: %v", err)
	}
}

func TestWithinTxRollback(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Pools().Create(ctx, domain.Pool{ID: "p1", AvailableBalance: 1000, Active: true}); err != nil {
		t.Fatalf("create: %v", err)
	}

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context, tx domain.Store) error {
		if err := tx.Pools().Debit(ctx, "p1", 400, "partial"); err != nil {
			return err
		}
		if err := tx.Positions().Create(ctx, domain.Position{ID: "pos1", PoolID: "p1", Status: domain.PositionStatusOpen}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	pool, _ := s.Pools().GetByID(ctx, "p1")
	if pool.AvailableBalance != 1000 {
		t.Errorf("balance = %f after rollback, want 1000", pool.AvailableBalance)
	}
	if _, err := s.Positions().GetByID(ctx, "pos1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("position must not survive rollback, got %v", err)
	}
}

func TestWithinTxCommit(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Pools().Create(ctx, domain.Pool{ID: "p1", AvailableBalance: 1000, Active: true}); err != nil {
		t.Fatalf("create: %v", err)
	}

	err := s.WithinTx(ctx, func(ctx context.Context, tx domain.Store) error {
		if err := tx.Pools().Debit(ctx, "p1", 400, "open"); err != nil {
			return err
		}
		return tx.Trades().Insert(ctx, domain.TradeRecord{ID: "t1", PoolID: "p1", MarketID: "m1", Side: domain.SideLong, Amount: 400})
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	pool, _ := s.Pools().GetByID(ctx, "p1")
	if pool.AvailableBalance != 600 {
		t.Errorf("balance = %f, want 600", pool.AvailableBalance)
	}
	trades, _ := s.Trades().ListByPool(ctx, "p1", domain.ListOpts{})
	if len(trades) != 1 {
		t.Errorf("got %d trades, want 1", len(trades))
	}
}

func TestPositionCloseIsTerminal(t *testing.T) {
	ctx := context.Background()
	s := New()
	pos := domain.Position{ID: "pos1", PoolID: "p1", MarketID: "m1", Kind: domain.PositionKindPerp,
		Side: domain.SideLong, EntryPrice: 100, Size: 5000, Leverage: 5, Status: domain.PositionStatusOpen}
	if err := s.Positions().Create(ctx, pos); err != nil {
		t.Fatalf("create: %v", err)
	}

	now := time.Now().UTC()
	if err := s.Positions().Close(ctx, "pos1", 110, 500, now); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Positions().Close(ctx, "pos1", 120, 999, now); !errors.Is(err, domain.ErrAlreadyClosed) {
		t.Fatalf("second close must fail with ErrAlreadyClosed, got %v", err)
	}
	if err := s.Positions().UpdateMark(ctx, "pos1", 120, 1); !errors.Is(err, domain.ErrAlreadyClosed) {
		t.Fatalf("mark update on closed position must fail, got %v", err)
	}

	got, _ := s.Positions().GetByID(ctx, "pos1")
	if got.RealizedPnL == nil || *got.RealizedPnL != 500 {
		t.Errorf("realized pnl not recorded: %+v", got.RealizedPnL)
	}
	if got.ExitPrice == nil || *got.ExitPrice != 110 {
		t.Errorf("exit price not recorded: %+v", got.ExitPrice)
	}
}

func TestSettlementLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	rec := domain.SettlementRecord{ID: "s1", PositionID: "pos1", Kind: domain.SettlementKindOpen}
	if err := s.Settlements().Upsert(ctx, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := s.Settlements().RecordFailure(ctx, "pos1", domain.SettlementKindOpen, "rpc timeout"); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	got, _ := s.Settlements().Get(ctx, "pos1", domain.SettlementKindOpen)
	if got.Attempts != 1 || got.LastError == nil {
		t.Errorf("failure not recorded: %+v", got)
	}

	unsettled, _ := s.Settlements().ListUnsettled(ctx, 10)
	if len(unsettled) != 1 {
		t.Fatalf("got %d unsettled, want 1", len(unsettled))
	}

	now := time.Now().UTC()
	if err := s.Settlements().MarkSettled(ctx, "pos1", domain.SettlementKindOpen, "0xabc", now); err != nil {
		t.Fatalf("mark settled: %v", err)
	}
	got, _ = s.Settlements().Get(ctx, "pos1", domain.SettlementKindOpen)
	if !got.SettledToChain || got.SettlementTxHash == nil || *got.SettlementTxHash != "0xabc" {
		t.Errorf("not settled: %+v", got)
	}
	if got.LastError != nil {
		t.Errorf("last error should clear on settle")
	}

	// Settled is terminal: a later failure or re-upsert never reverts it.
	if err := s.Settlements().RecordFailure(ctx, "pos1", domain.SettlementKindOpen, "late"); err != nil {
		t.Fatalf("record failure after settle: %v", err)
	}
	if err := s.Settlements().Upsert(ctx, domain.SettlementRecord{ID: "s2", PositionID: "pos1", Kind: domain.SettlementKindOpen}); err != nil {
		t.Fatalf("upsert after settle: %v", err)
	}
	got, _ = s.Settlements().Get(ctx, "pos1", domain.SettlementKindOpen)
	if !got.SettledToChain {
		t.Errorf("settled state was reverted")
	}

	if unsettled, _ = s.Settlements().ListUnsettled(ctx, 10); len(unsettled) != 0 {
		t.Errorf("settled record still listed as unsettled")
	}
}

func TestTradeArchivalQueries(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		err := s.Trades().Insert(ctx, domain.TradeRecord{
			ID: string(rune('a' + i)), PoolID: "p1", MarketID: "m1",
			Side: domain.SideLong, Amount: 10, CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	cutoff := base.Add(3 * time.Hour)
	old, err := s.Trades().ListBefore(ctx, cutoff, 0)
	if err != nil {
		t.Fatalf("list before: %v", err)
	}
	if len(old) != 3 {
		t.Errorf("got %d old trades, want 3", len(old))
	}

	removed, err := s.Trades().DeleteBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("delete before: %v", err)
	}
	if removed != 3 {
		t.Errorf("removed %d, want 3", removed)
	}
	left, _ := s.Trades().ListByPool(ctx, "p1", domain.ListOpts{})
	if len(left) != 2 {
		t.Errorf("got %d remaining trades, want 2", len(left))
	}
}

func TestMarkResolvedOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	mk := domain.PredictionMarket{ID: "pm1", Question: "?", YesShares: 1000, NoShares: 1000,
		EndDate: time.Now().Add(24 * time.Hour)}
	if err := s.Predictions().Create(ctx, mk); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Predictions().MarkResolved(ctx, "pm1", true); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := s.Predictions().MarkResolved(ctx, "pm1", false); !errors.Is(err, domain.ErrMarketResolved) {
		t.Fatalf("second resolve must fail, got %v", err)
	}
	if err := s.Predictions().UpdateReserves(ctx, "pm1", 1, 1, 1); !errors.Is(err, domain.ErrMarketResolved) {
		t.Fatalf("reserve update on resolved market must fail, got %v", err)
	}
}

func TestListPagination(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		_ = s.Trades().Insert(ctx, domain.TradeRecord{
			ID: string(rune('a' + i)), PoolID: "p1", MarketID: "m1",
			Side: domain.SideLong, Amount: 1, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	page, _ := s.Trades().ListByPool(ctx, "p1", domain.ListOpts{Limit: 3, Offset: 2})
	if len(page) != 3 {
		t.Fatalf("got %d, want 3", len(page))
	}
	// Newest first: offset 2 of descending order starts at the 8th insert.
	if page[0].ID != "h" {
		t.Errorf("page starts at %s, want h", page[0].ID)
	}
}
