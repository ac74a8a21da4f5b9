package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pulsemarkets/pulse/internal/domain"
)

// PoolStore implements domain.PoolStore.
type PoolStore struct {
	db querier
}

var _ domain.PoolStore = (*PoolStore)(nil)

func (s *PoolStore) Create(ctx context.Context, p domain.Pool) error {
	const query = `
		INSERT INTO pools (
			id, owner_id, available_balance, lifetime_pnl,
			total_fees_collected, total_fees_paid, referrer_id, active,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())`

	_, err := s.db.Exec(ctx, query,
		p.ID, p.OwnerID, p.AvailableBalance, p.LifetimePnL,
		p.TotalFeesCollected, p.TotalFeesPaid, p.ReferrerID, p.Active,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: pool %s: %w", p.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create pool %s: %w", p.ID, err)
	}
	return nil
}

func (s *PoolStore) GetByID(ctx context.Context, id string) (domain.Pool, error) {
	const query = `
		SELECT id, owner_id, available_balance, lifetime_pnl,
			total_fees_collected, total_fees_paid, referrer_id, active,
			created_at, updated_at
		FROM pools WHERE id = $1`

	var p domain.Pool
	err := s.db.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.OwnerID, &p.AvailableBalance, &p.LifetimePnL,
		&p.TotalFeesCollected, &p.TotalFeesPaid, &p.ReferrerID, &p.Active,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Pool{}, fmt.Errorf("postgres: pool %s: %w", id, domain.ErrNotFound)
		}
		return domain.Pool{}, fmt.Errorf("postgres: get pool %s: %w", id, err)
	}
	return p, nil
}

// Debit subtracts from the balance only when it stays non-negative; the
// guard is part of the UPDATE so concurrent debits cannot overdraw.
func (s *PoolStore) Debit(ctx context.Context, id string, amount float64, reason string) error {
	const query = `
		UPDATE pools
		SET available_balance = available_balance - $2, updated_at = NOW()
		WHERE id = $1 AND available_balance >= $2`

	tag, err := s.db.Exec(ctx, query, id, amount)
	if err != nil {
		return fmt.Errorf("postgres: debit pool %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("postgres: debit %.6f from pool %s (%s): %w",
			amount, id, reason, domain.ErrInsufficientFunds)
	}
	return nil
}

func (s *PoolStore) Credit(ctx context.Context, id string, amount float64, reason string) error {
	const query = `
		UPDATE pools
		SET available_balance = available_balance + $2, updated_at = NOW()
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, id, amount)
	if err != nil {
		return fmt.Errorf("postgres: credit pool %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: pool %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *PoolStore) RecordPnL(ctx context.Context, id string, pnl float64) error {
	const query = `
		UPDATE pools SET lifetime_pnl = lifetime_pnl + $2, updated_at = NOW()
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, id, pnl)
	if err != nil {
		return fmt.Errorf("postgres: record pnl pool %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: pool %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *PoolStore) AddFeesPaid(ctx context.Context, id string, amount float64) error {
	const query = `
		UPDATE pools SET total_fees_paid = total_fees_paid + $2, updated_at = NOW()
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, id, amount)
	if err != nil {
		return fmt.Errorf("postgres: add fees paid pool %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: pool %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *PoolStore) AddFeesCollected(ctx context.Context, id string, amount float64) error {
	const query = `
		UPDATE pools SET total_fees_collected = total_fees_collected + $2, updated_at = NOW()
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, id, amount)
	if err != nil {
		return fmt.Errorf("postgres: add fees collected pool %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: pool %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
