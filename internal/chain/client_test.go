package chain

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pulsemarkets/pulse/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	signer, err := NewSigner(testKey, 137)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	c, err := NewClient(ClientConfig{BaseURL: srv.URL, Timeout: 2 * time.Second}, signer, testLogger())
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return c
}

func TestSubmitPositionOpen(t *testing.T) {
	var got positionSubmission
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/settlements/positions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_ = json.NewEncoder(w).Encode(submitResponse{TxHash: "0xdeadbeef"})
	})

	txHash, err := c.SubmitPositionOpen(context.Background(), testPosition())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if txHash != "0xdeadbeef" {
		t.Errorf("tx hash = %s", txHash)
	}
	if got.PositionID != "pos-1" || got.Kind != "open" || got.Signature == "" || got.Sender == "" {
		t.Errorf("submission incomplete: %+v", got)
	}
	if got.Price != 100 {
		t.Errorf("open must submit the entry price, got %f", got.Price)
	}
}

func TestSubmitPositionCloseUsesExitPrice(t *testing.T) {
	var got positionSubmission
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(submitResponse{TxHash: "0x1"})
	})

	pos := testPosition()
	exit := 112.5
	pos.ExitPrice = &exit
	if _, err := c.SubmitPositionClose(context.Background(), pos); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.Kind != "close" || got.Price != 112.5 {
		t.Errorf("close submission wrong: %+v", got)
	}
}

func TestSubmitRelayerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(submitResponse{Error: "chain congested"})
	})

	if _, err := c.SubmitPositionOpen(context.Background(), testPosition()); err == nil {
		t.Fatalf("expected error from relayer rejection")
	}
}

func TestSubmitPriceBatch(t *testing.T) {
	var got priceBatchSubmission
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/settlements/prices" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(submitResponse{TxHash: "0xbatch"})
	})

	updates := []domain.PriceUpdate{
		{MarketID: "m1", NewPrice: 101, CreatedAt: time.Now().UTC()},
		{MarketID: "m2", NewPrice: 49, CreatedAt: time.Now().UTC()},
	}
	txHash, err := c.SubmitPriceBatch(context.Background(), updates)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if txHash != "0xbatch" || got.Count != 2 || len(got.Updates) != 2 {
		t.Errorf("batch submission wrong: hash=%s %+v", txHash, got)
	}

	// Empty batches never hit the wire.
	if txHash, err := c.SubmitPriceBatch(context.Background(), nil); err != nil || txHash != "" {
		t.Errorf("empty batch should be a no-op, got %s %v", txHash, err)
	}
}
