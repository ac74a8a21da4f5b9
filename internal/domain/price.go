package domain

import "time"

// PriceUpdate is produced exactly once per applied mark-price change and
// persisted as history.
type PriceUpdate struct {
	ID            string
	MarketID      string
	OldPrice      float64
	NewPrice      float64
	Change        float64
	ChangePercent float64
	Source        string // "impact", "feed", "manual"
	CreatedAt     time.Time
}
