package domain

// FeeDistribution is the outcome of fee computation for a single trade.
// Invariant: PlatformShare + ReferrerShare == FeeAmount (within rounding
// tolerance). A zero-valued distribution means the fee was below the
// configured minimum and was skipped entirely.
type FeeDistribution struct {
	FeeAmount     float64
	NetAmount     float64
	PlatformShare float64
	ReferrerShare float64
	ReferrerID    *string
}

// Skipped reports whether the fee fell below the minimum threshold and no
// fee was charged.
func (d FeeDistribution) Skipped() bool {
	return d.FeeAmount == 0
}
