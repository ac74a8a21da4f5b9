// Package pricing implements the pure trade math: constant-product
// market-maker quotes for binary prediction markets and leverage /
// liquidation math for perpetual positions. Nothing in this package touches
// storage or the network.
package pricing

import (
	"fmt"
	"math"

	"github.com/pulsemarkets/pulse/internal/domain"
)

// Epsilon is the tolerance used when comparing monetary values. All invariant
// checks in this package and its callers compare against this bound.
const Epsilon = 1e-9

// BuyQuote is the result of pricing a CPMM buy. The net (post-fee) amount is
// added to the opposite reserve and the bought side's reserve shrinks to
// restore the constant product, so k grows by exactly the net injection's
// contribution.
type BuyQuote struct {
	SharesOut float64
	AvgPrice  float64
	Fee       float64
	Net       float64
	NewYes    float64
	NewNo     float64
}

// SellQuote is the result of pricing a CPMM sell. GrossProceeds is drawn from
// the opposite reserve before the fee is deducted.
type SellQuote struct {
	GrossProceeds float64
	NetProceeds   float64
	Fee           float64
	AvgPrice      float64
	NewYes        float64
	NewNo         float64
}

// QuoteBuy prices buying outcome `side` with gross `amount` against reserves
// (yes, no). The fee leaves the system before the swap, so the reserve
// product after the trade equals yes*no computed with the net amount added
// to the opposite reserve.
//
// A net amount of zero or less (fee >= amount) is a rejected trade, not a
// zero trade.
func QuoteBuy(yes, no, amount, feeRate float64, side domain.Side) (BuyQuote, error) {
	if err := checkReserves(yes, no); err != nil {
		return BuyQuote{}, err
	}
	if !(side == domain.SideYes || side == domain.SideNo) {
		return BuyQuote{}, fmt.Errorf("pricing: invalid prediction side %q: %w", side, domain.ErrRejectedTrade)
	}
	if amount <= 0 || !isFinite(amount) {
		return BuyQuote{}, fmt.Errorf("pricing: buy amount must be positive: %w", domain.ErrRejectedTrade)
	}

	fee := amount * feeRate
	net := amount - fee
	if net <= 0 {
		return BuyQuote{}, fmt.Errorf("pricing: fee %.6f consumes amount %.6f: %w", fee, amount, domain.ErrRejectedTrade)
	}

	k := yes * no
	var newYes, newNo, sharesOut float64
	if side == domain.SideYes {
		newNo = no + net
		newYes = k / newNo
		sharesOut = yes - newYes
	} else {
		newYes = yes + net
		newNo = k / newYes
		sharesOut = no - newNo
	}

	if sharesOut <= Epsilon {
		return BuyQuote{}, fmt.Errorf("pricing: buy yields no shares: %w", domain.ErrRejectedTrade)
	}

	return BuyQuote{
		SharesOut: sharesOut,
		AvgPrice:  net / sharesOut,
		Fee:       fee,
		Net:       net,
		NewYes:    newYes,
		NewNo:     newNo,
	}, nil
}

// QuoteSell prices returning `shares` of outcome `side` to the pool. The
// shares are added back to the side's reserve, the opposite reserve shrinks
// to restore k, and the fee is taken from the gross proceeds before anything
// is credited.
func QuoteSell(yes, no, shares, feeRate float64, side domain.Side) (SellQuote, error) {
	if err := checkReserves(yes, no); err != nil {
		return SellQuote{}, err
	}
	if !(side == domain.SideYes || side == domain.SideNo) {
		return SellQuote{}, fmt.Errorf("pricing: invalid prediction side %q: %w", side, domain.ErrRejectedTrade)
	}
	if shares <= 0 || !isFinite(shares) {
		return SellQuote{}, fmt.Errorf("pricing: sell shares must be positive: %w", domain.ErrRejectedTrade)
	}

	k := yes * no
	var newYes, newNo, gross float64
	if side == domain.SideYes {
		newYes = yes + shares
		newNo = k / newYes
		gross = no - newNo
	} else {
		newNo = no + shares
		newYes = k / newNo
		gross = yes - newYes
	}

	if gross <= Epsilon {
		return SellQuote{}, fmt.Errorf("pricing: sell yields no proceeds: %w", domain.ErrRejectedTrade)
	}

	fee := gross * feeRate
	net := gross - fee
	if net <= 0 {
		return SellQuote{}, fmt.Errorf("pricing: fee %.6f consumes proceeds %.6f: %w", fee, gross, domain.ErrRejectedTrade)
	}

	return SellQuote{
		GrossProceeds: gross,
		NetProceeds:   net,
		Fee:           fee,
		AvgPrice:      gross / shares,
		NewYes:        newYes,
		NewNo:         newNo,
	}, nil
}

// OutcomePrices returns the instantaneous prices of the yes and no outcomes.
// Each outcome is priced by the opposite reserve's share of the total, so
// the two prices always sum to 1.
func OutcomePrices(yes, no float64) (priceYes, priceNo float64) {
	total := yes + no
	if total <= 0 {
		return 0.5, 0.5
	}
	return no / total, yes / total
}

func checkReserves(yes, no float64) error {
	if yes <= 0 || no <= 0 || !isFinite(yes) || !isFinite(no) {
		return fmt.Errorf("pricing: reserves must be positive (yes=%.6f no=%.6f): %w", yes, no, domain.ErrRejectedTrade)
	}
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
