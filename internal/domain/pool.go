package domain

import "time"

// Pool is an agent's trading balance. All mutations go through PoolStore
// inside a Ledger transaction; AvailableBalance never goes below zero on a
// committed operation.
type Pool struct {
	ID                 string
	OwnerID            string
	AvailableBalance   float64
	LifetimePnL        float64
	TotalFeesCollected float64
	TotalFeesPaid      float64
	ReferrerID         *string
	Active             bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
