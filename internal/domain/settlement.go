package domain

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// SettlementMode governs when and how position state is pushed to the
// external authoritative ledger.
type SettlementMode string

const (
	// SettlementOffchain makes settlement a no-op that reports success
	// immediately. Used when no external ledger is configured.
	SettlementOffchain SettlementMode = "offchain"
	// SettlementOnchain settles every open/close synchronously before the
	// operation returns; a failure surfaces as a settlement error.
	SettlementOnchain SettlementMode = "onchain"
	// SettlementHybrid marks positions unsettled and drains them in
	// periodic batches, decoupling trade latency from chain latency.
	SettlementHybrid SettlementMode = "hybrid"
)

// ParseSettlementMode validates a mode string from configuration.
func ParseSettlementMode(s string) (SettlementMode, error) {
	switch SettlementMode(strings.ToLower(strings.TrimSpace(s))) {
	case SettlementOffchain:
		return SettlementOffchain, nil
	case SettlementOnchain:
		return SettlementOnchain, nil
	case SettlementHybrid:
		return SettlementHybrid, nil
	}
	return "", fmt.Errorf("unknown settlement mode %q (valid: offchain, onchain, hybrid)", s)
}

// SettlementKind identifies which state transition a settlement record covers.
type SettlementKind string

const (
	SettlementKindOpen  SettlementKind = "open"
	SettlementKindClose SettlementKind = "close"
)

// SettlementRecord tracks per-position settlement status toward the external
// ledger. SettledToChain transitions false -> true at most once and is never
// reset.
type SettlementRecord struct {
	ID               string
	PositionID       string
	Kind             SettlementKind
	SettledToChain   bool
	SettlementTxHash *string
	SettledAt        *time.Time
	Attempts         int
	LastError        *string
	CreatedAt        time.Time
}

// ChainLedger is the write-append interface toward the external authoritative
// ledger. Implementations block until confirmation or timeout and return a
// transaction reference on success.
type ChainLedger interface {
	SubmitPositionOpen(ctx context.Context, pos Position) (txHash string, err error)
	SubmitPositionClose(ctx context.Context, pos Position) (txHash string, err error)
	SubmitPriceBatch(ctx context.Context, updates []PriceUpdate) (txHash string, err error)
}
