// Package fees computes trading fees and splits them between the platform
// and referrers.
package fees

import (
	"fmt"

	"github.com/pulsemarkets/pulse/internal/domain"
)

const (
	DefaultRate          = 0.001
	DefaultReferrerShare = 0.5
	DefaultMinimumFee    = 0.01
)

// Engine applies a flat fee rate to trade notionals. Fees below the minimum
// are skipped entirely: no charge, no distribution.
type Engine struct {
	rate          float64
	referrerShare float64
	minimumFee    float64
}

func NewEngine(rate, referrerShare, minimumFee float64) (*Engine, error) {
	if rate < 0 || rate >= 1 {
		return nil, fmt.Errorf("fees: rate %.6f out of range [0, 1)", rate)
	}
	if referrerShare < 0 || referrerShare > 1 {
		return nil, fmt.Errorf("fees: referrer share %.6f out of range [0, 1]", referrerShare)
	}
	if minimumFee < 0 {
		return nil, fmt.Errorf("fees: minimum fee %.6f must not be negative", minimumFee)
	}
	return &Engine{rate: rate, referrerShare: referrerShare, minimumFee: minimumFee}, nil
}

// Rate returns the flat fee rate applied to notionals.
func (e *Engine) Rate() float64 { return e.rate }

// Calculate computes the fee on a notional and splits it. When the pool has
// a referrer the referrer receives their configured share and the platform
// keeps the remainder; otherwise the platform keeps everything. The split is
// exact: PlatformShare + ReferrerShare == FeeAmount.
func (e *Engine) Calculate(notional float64, referrerID *string) domain.FeeDistribution {
	fee := notional * e.rate
	if fee < e.minimumFee {
		return domain.FeeDistribution{NetAmount: notional}
	}

	d := domain.FeeDistribution{
		FeeAmount: fee,
		NetAmount: notional - fee,
	}
	if referrerID != nil && *referrerID != "" {
		d.ReferrerID = referrerID
		d.ReferrerShare = fee * e.referrerShare
		d.PlatformShare = fee - d.ReferrerShare
	} else {
		d.PlatformShare = fee
	}
	return d
}
