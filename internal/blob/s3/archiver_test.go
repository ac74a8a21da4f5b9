package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/pulsemarkets/pulse/internal/domain"
	"github.com/pulsemarkets/pulse/internal/store/memory"
)

type fakeWriter struct {
	puts map[string][]byte
	fail bool
}

func (f *fakeWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if f.fail {
		return errors.New("upload refused")
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(data); err != nil {
		return err
	}
	if f.puts == nil {
		f.puts = make(map[string][]byte)
	}
	f.puts[path] = buf.Bytes()
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedTrades(t *testing.T, store domain.Store, cutoff time.Time) {
	t.Helper()
	ctx := context.Background()

	old := domain.TradeRecord{
		ID: "t-old", PoolID: "p1", MarketID: "m1",
		MarketKind: domain.PositionKindPerp, PositionID: "pos1",
		Action: domain.TradeActionOpen, Side: domain.SideLong,
		Amount: 100, Price: 50, CreatedAt: cutoff.Add(-time.Hour),
	}
	recent := old
	recent.ID = "t-new"
	recent.CreatedAt = cutoff.Add(time.Hour)

	for _, tr := range []domain.TradeRecord{old, recent} {
		if err := store.Trades().Insert(ctx, tr); err != nil {
			t.Fatalf("insert trade: %v", err)
		}
	}
}

func TestArchiveTradesUploadsAndPrunes(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	cutoff := time.Now().UTC()
	seedTrades(t, store, cutoff)

	w := &fakeWriter{}
	a := NewArchiver(w, store, testLogger())

	n, err := a.ArchiveTrades(ctx, cutoff)
	if err != nil {
		t.Fatalf("ArchiveTrades: %v", err)
	}
	if n != 1 {
		t.Fatalf("archived %d records, want 1", n)
	}

	path := archivePath("trades", cutoff)
	data, ok := w.puts[path]
	if !ok {
		t.Fatalf("no upload at %s, got %v", path, w.puts)
	}
	if !strings.Contains(string(data), "t-old") {
		t.Errorf("archive missing old trade: %s", data)
	}
	if strings.Contains(string(data), "t-new") {
		t.Errorf("archive contains trade newer than cutoff")
	}

	remaining, err := store.Trades().ListByPool(ctx, "p1", domain.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("ListByPool: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != "t-new" {
		t.Fatalf("remaining trades = %+v, want only t-new", remaining)
	}
}

func TestArchiveTradesFailedUploadKeepsData(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	cutoff := time.Now().UTC()
	seedTrades(t, store, cutoff)

	a := NewArchiver(&fakeWriter{fail: true}, store, testLogger())

	if _, err := a.ArchiveTrades(ctx, cutoff); err == nil {
		t.Fatal("expected upload error")
	}

	remaining, err := store.Trades().ListByPool(ctx, "p1", domain.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("ListByPool: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("got %d trades after failed upload, want 2", len(remaining))
	}
}

func TestArchiveTradesEmptyWindowIsNoop(t *testing.T) {
	store := memory.New()
	w := &fakeWriter{}
	a := NewArchiver(w, store, testLogger())

	n, err := a.ArchiveTrades(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ArchiveTrades: %v", err)
	}
	if n != 0 || len(w.puts) != 0 {
		t.Fatalf("expected no uploads, got n=%d puts=%v", n, w.puts)
	}
}

func TestArchivePriceHistory(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	cutoff := time.Now().UTC()

	old := domain.PriceUpdate{
		ID: "u-old", MarketID: "m1", OldPrice: 100, NewPrice: 101,
		Change: 1, ChangePercent: 1, Source: "impact",
		CreatedAt: cutoff.Add(-time.Hour),
	}
	if err := store.Prices().Insert(ctx, old); err != nil {
		t.Fatalf("insert price update: %v", err)
	}

	w := &fakeWriter{}
	a := NewArchiver(w, store, testLogger())

	n, err := a.ArchivePriceHistory(ctx, cutoff)
	if err != nil {
		t.Fatalf("ArchivePriceHistory: %v", err)
	}
	if n != 1 {
		t.Fatalf("archived %d records, want 1", n)
	}
	if _, ok := w.puts[archivePath("price_history", cutoff)]; !ok {
		t.Fatalf("missing price history upload, got %v", w.puts)
	}
}
