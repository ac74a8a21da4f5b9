// Package settlement bridges committed position transitions to the external
// authoritative ledger. Three modes: offchain records success immediately,
// onchain settles synchronously, hybrid queues records for a periodic batch
// worker.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pulsemarkets/pulse/internal/domain"
)

const DefaultBatchSize = 50

// Bridge routes settlements according to the configured mode. Every
// transition is settled at most once: the settlement store's settled state is
// terminal and re-settling is a no-op.
type Bridge struct {
	mode      domain.SettlementMode
	store     domain.Store
	chain     domain.ChainLedger
	batchSize int
	logger    *slog.Logger
	now       func() time.Time
}

func NewBridge(mode domain.SettlementMode, store domain.Store, chain domain.ChainLedger, batchSize int, logger *slog.Logger) (*Bridge, error) {
	if mode != domain.SettlementOffchain && chain == nil {
		return nil, fmt.Errorf("settlement: mode %s requires a chain ledger", mode)
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Bridge{
		mode:      mode,
		store:     store,
		chain:     chain,
		batchSize: batchSize,
		logger:    logger.With(slog.String("component", "settlement")),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Mode returns the bridge's settlement mode.
func (b *Bridge) Mode() domain.SettlementMode { return b.mode }

func (b *Bridge) SettlePositionOpen(ctx context.Context, pos domain.Position) error {
	return b.settle(ctx, pos, domain.SettlementKindOpen)
}

func (b *Bridge) SettlePositionClose(ctx context.Context, pos domain.Position) error {
	return b.settle(ctx, pos, domain.SettlementKindClose)
}

// SettlePriceBatch forwards applied price updates to the chain. Offchain mode
// drops them; price submissions are best effort in every mode and are never
// retried.
func (b *Bridge) SettlePriceBatch(ctx context.Context, updates []domain.PriceUpdate) error {
	if b.mode == domain.SettlementOffchain || len(updates) == 0 {
		return nil
	}
	txHash, err := b.chain.SubmitPriceBatch(ctx, updates)
	if err != nil {
		return fmt.Errorf("settlement: price batch: %w", err)
	}
	b.logger.InfoContext(ctx, "price batch settled",
		slog.Int("updates", len(updates)),
		slog.String("tx_hash", txHash))
	return nil
}

func (b *Bridge) settle(ctx context.Context, pos domain.Position, kind domain.SettlementKind) error {
	switch b.mode {
	case domain.SettlementOffchain:
		now := b.now()
		return b.store.Settlements().Upsert(ctx, domain.SettlementRecord{
			ID:             uuid.NewString(),
			PositionID:     pos.ID,
			Kind:           kind,
			SettledToChain: true,
			SettledAt:      &now,
			CreatedAt:      now,
		})

	case domain.SettlementHybrid:
		return b.store.Settlements().Upsert(ctx, domain.SettlementRecord{
			ID:         uuid.NewString(),
			PositionID: pos.ID,
			Kind:       kind,
			CreatedAt:  b.now(),
		})

	case domain.SettlementOnchain:
		if err := b.store.Settlements().Upsert(ctx, domain.SettlementRecord{
			ID:         uuid.NewString(),
			PositionID: pos.ID,
			Kind:       kind,
			CreatedAt:  b.now(),
		}); err != nil {
			return err
		}
		return b.submit(ctx, pos, kind)
	}
	return fmt.Errorf("settlement: unknown mode %q", b.mode)
}

// submit pushes one transition to the chain and records the outcome.
func (b *Bridge) submit(ctx context.Context, pos domain.Position, kind domain.SettlementKind) error {
	var (
		txHash string
		err    error
	)
	switch kind {
	case domain.SettlementKindOpen:
		txHash, err = b.chain.SubmitPositionOpen(ctx, pos)
	default:
		txHash, err = b.chain.SubmitPositionClose(ctx, pos)
	}
	if err != nil {
		if recErr := b.store.Settlements().RecordFailure(ctx, pos.ID, kind, err.Error()); recErr != nil {
			b.logger.ErrorContext(ctx, "settlement failure not recorded",
				slog.String("position_id", pos.ID),
				slog.String("error", recErr.Error()))
		}
		return fmt.Errorf("settlement: position %s %s: %w: %w", pos.ID, kind, domain.ErrSettlementFailed, err)
	}
	if err := b.store.Settlements().MarkSettled(ctx, pos.ID, kind, txHash, b.now()); err != nil {
		return fmt.Errorf("settlement: mark settled %s %s: %w", pos.ID, kind, err)
	}
	b.logger.InfoContext(ctx, "position settled",
		slog.String("position_id", pos.ID),
		slog.String("kind", string(kind)),
		slog.String("tx_hash", txHash))
	return nil
}

// RunBatch drains up to batchSize unsettled records. Failed submissions stay
// queued with their attempt count bumped and are retried on the next run.
// Returns the number of records settled.
func (b *Bridge) RunBatch(ctx context.Context) (int, error) {
	if b.mode != domain.SettlementHybrid {
		return 0, nil
	}
	pending, err := b.store.Settlements().ListUnsettled(ctx, b.batchSize)
	if err != nil {
		return 0, fmt.Errorf("settlement: list unsettled: %w", err)
	}

	var settled int
	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			return settled, fmt.Errorf("settlement: %w: %w", domain.ErrContextDone, err)
		}
		pos, err := b.store.Positions().GetByID(ctx, rec.PositionID)
		if err != nil {
			b.logger.ErrorContext(ctx, "unsettled record without position",
				slog.String("position_id", rec.PositionID),
				slog.String("error", err.Error()))
			continue
		}
		if err := b.submit(ctx, pos, rec.Kind); err != nil {
			b.logger.WarnContext(ctx, "batch settlement attempt failed",
				slog.String("position_id", rec.PositionID),
				slog.String("kind", string(rec.Kind)),
				slog.Int("attempts", rec.Attempts+1),
				slog.String("error", err.Error()))
			continue
		}
		settled++
	}
	if len(pending) > 0 {
		b.logger.InfoContext(ctx, "settlement batch complete",
			slog.Int("pending", len(pending)),
			slog.Int("settled", settled))
	}
	return settled, nil
}
