package pricing

import (
	"errors"
	"math"
	"testing"

	"github.com/pulsemarkets/pulse/internal/domain"
)

const tolerance = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= tolerance*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func TestQuoteBuy_WorkedExample(t *testing.T) {
	// yes=1000, no=1000, buy YES with amount=100 at 1% fee.
	q, err := QuoteBuy(1000, 1000, 100, 0.01, domain.SideYes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(q.Fee, 1) {
		t.Errorf("fee = %f, want 1", q.Fee)
	}
	if !almostEqual(q.Net, 99) {
		t.Errorf("net = %f, want 99", q.Net)
	}

	// Conservation: newYes*newNo must equal the original product.
	kBefore := 1000.0 * 1000.0
	kAfter := q.NewYes * q.NewNo
	if math.Abs(kAfter-kBefore) > 1e-6 {
		t.Errorf("constant product drifted: before=%f after=%f", kBefore, kAfter)
	}

	// sharesOut = yes - k/(no+net)
	wantShares := 1000 - kBefore/(1000+99)
	if !almostEqual(q.SharesOut, wantShares) {
		t.Errorf("sharesOut = %f, want %f", q.SharesOut, wantShares)
	}
	if !almostEqual(q.AvgPrice, q.Net/q.SharesOut) {
		t.Errorf("avgPrice = %f, want net/shares = %f", q.AvgPrice, q.Net/q.SharesOut)
	}
}

func TestQuoteBuy_NoSide(t *testing.T) {
	q, err := QuoteBuy(800, 1200, 50, 0.01, domain.SideNo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Net goes to the YES reserve, NO reserve shrinks.
	if q.NewYes <= 800 {
		t.Errorf("yes reserve should grow, got %f", q.NewYes)
	}
	if q.NewNo >= 1200 {
		t.Errorf("no reserve should shrink, got %f", q.NewNo)
	}
	if math.Abs(q.NewYes*q.NewNo-800*1200) > 1e-6 {
		t.Errorf("constant product drifted")
	}
}

func TestQuoteBuy_FeeConsumesAmount(t *testing.T) {
	// 100% fee rate leaves net <= 0: rejected, not a zero trade.
	_, err := QuoteBuy(1000, 1000, 100, 1.0, domain.SideYes)
	if !errors.Is(err, domain.ErrRejectedTrade) {
		t.Errorf("expected ErrRejectedTrade, got %v", err)
	}
}

func TestQuoteBuy_InvalidInputs(t *testing.T) {
	tests := []struct {
		name            string
		yes, no, amount float64
		side            domain.Side
	}{
		{"zero amount", 1000, 1000, 0, domain.SideYes},
		{"negative amount", 1000, 1000, -5, domain.SideYes},
		{"zero yes reserve", 0, 1000, 100, domain.SideYes},
		{"negative no reserve", 1000, -1, 100, domain.SideYes},
		{"perp side", 1000, 1000, 100, domain.SideLong},
		{"nan amount", 1000, 1000, math.NaN(), domain.SideYes},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := QuoteBuy(tt.yes, tt.no, tt.amount, 0.01, tt.side); !errors.Is(err, domain.ErrRejectedTrade) {
				t.Errorf("expected ErrRejectedTrade, got %v", err)
			}
		})
	}
}

func TestQuoteSell_MirrorsBuy(t *testing.T) {
	// Buy then immediately sell the same shares at zero fee: proceeds equal
	// the amount paid and the reserves return to their starting point.
	buy, err := QuoteBuy(1000, 1000, 100, 0, domain.SideYes)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	sell, err := QuoteSell(buy.NewYes, buy.NewNo, buy.SharesOut, 0, domain.SideYes)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if !almostEqual(sell.GrossProceeds, 100) {
		t.Errorf("round trip proceeds = %f, want 100", sell.GrossProceeds)
	}
	if !almostEqual(sell.NewYes, 1000) || !almostEqual(sell.NewNo, 1000) {
		t.Errorf("reserves did not return: yes=%f no=%f", sell.NewYes, sell.NewNo)
	}
}

func TestQuoteSell_FeeFromGross(t *testing.T) {
	buy, _ := QuoteBuy(1000, 1000, 200, 0, domain.SideYes)
	sell, err := QuoteSell(buy.NewYes, buy.NewNo, buy.SharesOut, 0.02, domain.SideYes)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if !almostEqual(sell.Fee, sell.GrossProceeds*0.02) {
		t.Errorf("fee = %f, want 2%% of gross %f", sell.Fee, sell.GrossProceeds)
	}
	if !almostEqual(sell.NetProceeds, sell.GrossProceeds-sell.Fee) {
		t.Errorf("net = %f, want gross-fee", sell.NetProceeds)
	}
}

func TestQuoteSell_ConservesProduct(t *testing.T) {
	sell, err := QuoteSell(900, 1100, 50, 0.01, domain.SideNo)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if math.Abs(sell.NewYes*sell.NewNo-900*1100) > 1e-6 {
		t.Errorf("constant product drifted: %f vs %f", sell.NewYes*sell.NewNo, 900.0*1100.0)
	}
}

func TestOutcomePrices_SumToOne(t *testing.T) {
	tests := []struct{ yes, no float64 }{
		{1000, 1000},
		{100, 900},
		{12345, 1},
		{0.5, 0.5},
	}
	for _, tt := range tests {
		pYes, pNo := OutcomePrices(tt.yes, tt.no)
		if !almostEqual(pYes+pNo, 1) {
			t.Errorf("prices for (%f,%f) sum to %f", tt.yes, tt.no, pYes+pNo)
		}
	}
}

func TestOutcomePrices_SkewTowardScarceSide(t *testing.T) {
	// Fewer YES shares left in the pool means YES has been bought up, so the
	// YES price must exceed the NO price.
	pYes, pNo := OutcomePrices(400, 1600)
	if pYes <= pNo {
		t.Errorf("expected yes price > no price, got yes=%f no=%f", pYes, pNo)
	}
}

func TestBuySequence_PricesStaySane(t *testing.T) {
	yes, no := 1000.0, 1000.0
	for i := 0; i < 50; i++ {
		q, err := QuoteBuy(yes, no, 100, 0.01, domain.SideYes)
		if err != nil {
			t.Fatalf("buy %d: %v", i, err)
		}
		yes, no = q.NewYes, q.NewNo
		pYes, pNo := OutcomePrices(yes, no)
		if pYes <= 0 || pYes >= 1 || !almostEqual(pYes+pNo, 1) {
			t.Fatalf("buy %d: prices out of range yes=%f no=%f", i, pYes, pNo)
		}
	}
	if yes <= 0 || no <= 0 {
		t.Fatalf("reserves must stay positive: yes=%f no=%f", yes, no)
	}
}
