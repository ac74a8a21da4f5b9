package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrMarketResolved      = errors.New("market already resolved")
	ErrMarketExpired       = errors.New("market expired")
	ErrPositionOutOfBounds = errors.New("position size out of bounds")
	ErrAlreadyClosed       = errors.New("position already closed")
	ErrRejectedTrade       = errors.New("trade rejected")
	ErrSettlementFailed    = errors.New("settlement failed")
	ErrLockHeld            = errors.New("lock already held")
	ErrContextDone         = errors.New("context cancelled")
)
