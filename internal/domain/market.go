package domain

import "time"

// Market is a synthetic organization traded via leveraged perpetuals.
type Market struct {
	ID           string
	Name         string
	Ticker       string
	CurrentPrice float64
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PredictionMarket is a binary constant-product market. YesShares and
// NoShares are the CPMM reserves and are always positive; Liquidity tracks
// the net cash held by the market. A resolved market rejects new trades.
type PredictionMarket struct {
	ID        string
	Question  string
	YesShares float64
	NoShares  float64
	Liquidity float64
	Resolved  bool
	Outcome   *bool
	EndDate   time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether the market's trading window has ended.
func (m PredictionMarket) Expired(now time.Time) bool {
	return !m.EndDate.IsZero() && now.After(m.EndDate)
}
