package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pulsemarkets/pulse/internal/domain"
)

// PositionStore implements domain.PositionStore.
type PositionStore struct {
	db querier
}

var _ domain.PositionStore = (*PositionStore)(nil)

const positionSelectCols = `id, pool_id, market_id, kind, side,
	entry_price, current_price, size, leverage, liquidation_price, shares,
	unrealized_pnl, realized_pnl, status, opened_at, closed_at, exit_price`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var kind, side, status string

	err := row.Scan(
		&p.ID, &p.PoolID, &p.MarketID, &kind, &side,
		&p.EntryPrice, &p.CurrentPrice, &p.Size, &p.Leverage,
		&p.LiquidationPrice, &p.Shares,
		&p.UnrealizedPnL, &p.RealizedPnL, &status,
		&p.OpenedAt, &p.ClosedAt, &p.ExitPrice,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Kind = domain.PositionKind(kind)
	p.Side = domain.Side(side)
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	defer rows.Close()
	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, pool_id, market_id, kind, side,
			entry_price, current_price, size, leverage, liquidation_price, shares,
			unrealized_pnl, realized_pnl, status, opened_at, closed_at, exit_price
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17
		)`

	_, err := s.db.Exec(ctx, query,
		p.ID, p.PoolID, p.MarketID, string(p.Kind), string(p.Side),
		p.EntryPrice, p.CurrentPrice, p.Size, p.Leverage, p.LiquidationPrice, p.Shares,
		p.UnrealizedPnL, p.RealizedPnL, string(p.Status), p.OpenedAt, p.ClosedAt, p.ExitPrice,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: position %s: %w", p.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE id = $1`

	p, err := scanPosition(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("postgres: position %s: %w", id, domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

func (s *PositionStore) UpdateMark(ctx context.Context, id string, currentPrice, unrealizedPnL float64) error {
	const query = `
		UPDATE positions SET current_price = $2, unrealized_pnl = $3
		WHERE id = $1 AND status = 'open'`

	tag, err := s.db.Exec(ctx, query, id, currentPrice, unrealizedPnL)
	if err != nil {
		return fmt.Errorf("postgres: update mark %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("postgres: position %s: %w", id, domain.ErrAlreadyClosed)
	}
	return nil
}

// Close transitions open -> closed exactly once; the status guard in the
// WHERE clause is what makes a concurrent double close lose.
func (s *PositionStore) Close(ctx context.Context, id string, exitPrice, realizedPnL float64, closedAt time.Time) error {
	const query = `
		UPDATE positions
		SET status = 'closed', exit_price = $2, realized_pnl = $3,
			current_price = $2, unrealized_pnl = 0, closed_at = $4
		WHERE id = $1 AND status = 'open'`

	tag, err := s.db.Exec(ctx, query, id, exitPrice, realizedPnL, closedAt)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("postgres: position %s: %w", id, domain.ErrAlreadyClosed)
	}
	return nil
}

func (s *PositionStore) ListOpenByPool(ctx context.Context, poolID string) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + `
		FROM positions WHERE pool_id = $1 AND status = 'open'
		ORDER BY opened_at, id`

	rows, err := s.db.Query(ctx, query, poolID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open by pool %s: %w", poolID, err)
	}
	return scanPositions(rows)
}

func (s *PositionStore) ListOpenByMarket(ctx context.Context, marketID string) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + `
		FROM positions WHERE market_id = $1 AND status = 'open'
		ORDER BY opened_at, id`

	rows, err := s.db.Query(ctx, query, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open by market %s: %w", marketID, err)
	}
	return scanPositions(rows)
}

func (s *PositionStore) ListHistory(ctx context.Context, poolID string, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + `
		FROM positions WHERE pool_id = $1`
	args := []any{poolID}

	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND opened_at >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND opened_at <= $%d", len(args))
	}
	query += " ORDER BY opened_at DESC, id"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list history %s: %w", poolID, err)
	}
	return scanPositions(rows)
}
