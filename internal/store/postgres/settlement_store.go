package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pulsemarkets/pulse/internal/domain"
)

// SettlementStore implements domain.SettlementStore. (position_id, kind) is
// unique; the settled state is terminal and every transition guards on
// NOT settled_to_chain.
type SettlementStore struct {
	db querier
}

var _ domain.SettlementStore = (*SettlementStore)(nil)

const settlementSelectCols = `id, position_id, kind, settled_to_chain,
	settlement_tx_hash, settled_at, attempts, last_error, created_at`

func scanSettlement(row pgx.Row) (domain.SettlementRecord, error) {
	var r domain.SettlementRecord
	var kind string
	err := row.Scan(
		&r.ID, &r.PositionID, &kind, &r.SettledToChain,
		&r.SettlementTxHash, &r.SettledAt, &r.Attempts, &r.LastError, &r.CreatedAt,
	)
	if err != nil {
		return domain.SettlementRecord{}, err
	}
	r.Kind = domain.SettlementKind(kind)
	return r, nil
}

func (s *SettlementStore) Upsert(ctx context.Context, rec domain.SettlementRecord) error {
	const query = `
		INSERT INTO settlements (
			id, position_id, kind, settled_to_chain,
			settlement_tx_hash, settled_at, attempts, last_error, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (position_id, kind) DO UPDATE
		SET settled_to_chain = EXCLUDED.settled_to_chain,
			settlement_tx_hash = EXCLUDED.settlement_tx_hash,
			settled_at = EXCLUDED.settled_at,
			last_error = EXCLUDED.last_error
		WHERE NOT settlements.settled_to_chain`

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, query,
		rec.ID, rec.PositionID, string(rec.Kind), rec.SettledToChain,
		rec.SettlementTxHash, rec.SettledAt, rec.Attempts, rec.LastError, createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert settlement %s/%s: %w", rec.PositionID, rec.Kind, err)
	}
	return nil
}

func (s *SettlementStore) Get(ctx context.Context, positionID string, kind domain.SettlementKind) (domain.SettlementRecord, error) {
	query := `SELECT ` + settlementSelectCols + `
		FROM settlements WHERE position_id = $1 AND kind = $2`

	rec, err := scanSettlement(s.db.QueryRow(ctx, query, positionID, string(kind)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SettlementRecord{}, fmt.Errorf("postgres: settlement %s/%s: %w", positionID, kind, domain.ErrNotFound)
		}
		return domain.SettlementRecord{}, fmt.Errorf("postgres: get settlement %s/%s: %w", positionID, kind, err)
	}
	return rec, nil
}

func (s *SettlementStore) ListUnsettled(ctx context.Context, limit int) ([]domain.SettlementRecord, error) {
	query := `SELECT ` + settlementSelectCols + `
		FROM settlements WHERE NOT settled_to_chain
		ORDER BY created_at, position_id, kind`
	args := []any{}
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $1"
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unsettled: %w", err)
	}
	defer rows.Close()

	var out []domain.SettlementRecord
	for rows.Next() {
		rec, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan settlement: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SettlementStore) MarkSettled(ctx context.Context, positionID string, kind domain.SettlementKind, txHash string, at time.Time) error {
	const query = `
		UPDATE settlements
		SET settled_to_chain = TRUE, settlement_tx_hash = $3,
			settled_at = $4, last_error = NULL
		WHERE position_id = $1 AND kind = $2 AND NOT settled_to_chain`

	tag, err := s.db.Exec(ctx, query, positionID, string(kind), txHash, at)
	if err != nil {
		return fmt.Errorf("postgres: mark settled %s/%s: %w", positionID, kind, err)
	}
	if tag.RowsAffected() == 0 {
		// Already settled or missing; settled is terminal so a repeat is fine.
		if _, err := s.Get(ctx, positionID, kind); err != nil {
			return err
		}
	}
	return nil
}

func (s *SettlementStore) RecordFailure(ctx context.Context, positionID string, kind domain.SettlementKind, cause string) error {
	const query = `
		UPDATE settlements
		SET attempts = attempts + 1, last_error = $3
		WHERE position_id = $1 AND kind = $2 AND NOT settled_to_chain`

	tag, err := s.db.Exec(ctx, query, positionID, string(kind), cause)
	if err != nil {
		return fmt.Errorf("postgres: record settlement failure %s/%s: %w", positionID, kind, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, positionID, kind); err != nil {
			return err
		}
	}
	return nil
}
