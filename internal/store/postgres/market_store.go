package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pulsemarkets/pulse/internal/domain"
)

// MarketStore implements domain.MarketStore.
type MarketStore struct {
	db querier
}

var _ domain.MarketStore = (*MarketStore)(nil)

func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (id, name, ticker, current_price, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())`

	_, err := s.db.Exec(ctx, query, m.ID, m.Name, m.Ticker, m.CurrentPrice, m.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: market %s: %w", m.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	const query = `
		SELECT id, name, ticker, current_price, active, created_at, updated_at
		FROM markets WHERE id = $1`

	var m domain.Market
	err := s.db.QueryRow(ctx, query, id).Scan(
		&m.ID, &m.Name, &m.Ticker, &m.CurrentPrice, &m.Active, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, fmt.Errorf("postgres: market %s: %w", id, domain.ErrNotFound)
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

func (s *MarketStore) ListActive(ctx context.Context) ([]domain.Market, error) {
	const query = `
		SELECT id, name, ticker, current_price, active, created_at, updated_at
		FROM markets WHERE active ORDER BY lower(name), id`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active markets: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		var m domain.Market
		if err := rows.Scan(&m.ID, &m.Name, &m.Ticker, &m.CurrentPrice, &m.Active, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *MarketStore) UpdatePrice(ctx context.Context, id string, price float64) error {
	const query = `UPDATE markets SET current_price = $2, updated_at = NOW() WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, id, price)
	if err != nil {
		return fmt.Errorf("postgres: update market price %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: market %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// PredictionMarketStore implements domain.PredictionMarketStore.
type PredictionMarketStore struct {
	db querier
}

var _ domain.PredictionMarketStore = (*PredictionMarketStore)(nil)

func (s *PredictionMarketStore) Create(ctx context.Context, m domain.PredictionMarket) error {
	const query = `
		INSERT INTO prediction_markets (
			id, question, yes_shares, no_shares, liquidity,
			resolved, outcome, end_date, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())`

	_, err := s.db.Exec(ctx, query,
		m.ID, m.Question, m.YesShares, m.NoShares, m.Liquidity,
		m.Resolved, m.Outcome, m.EndDate,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: prediction market %s: %w", m.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create prediction market %s: %w", m.ID, err)
	}
	return nil
}

func (s *PredictionMarketStore) GetByID(ctx context.Context, id string) (domain.PredictionMarket, error) {
	const query = `
		SELECT id, question, yes_shares, no_shares, liquidity,
			resolved, outcome, end_date, created_at, updated_at
		FROM prediction_markets WHERE id = $1`

	var m domain.PredictionMarket
	err := s.db.QueryRow(ctx, query, id).Scan(
		&m.ID, &m.Question, &m.YesShares, &m.NoShares, &m.Liquidity,
		&m.Resolved, &m.Outcome, &m.EndDate, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PredictionMarket{}, fmt.Errorf("postgres: prediction market %s: %w", id, domain.ErrNotFound)
		}
		return domain.PredictionMarket{}, fmt.Errorf("postgres: get prediction market %s: %w", id, err)
	}
	return m, nil
}

func (s *PredictionMarketStore) ListOpen(ctx context.Context) ([]domain.PredictionMarket, error) {
	const query = `
		SELECT id, question, yes_shares, no_shares, liquidity,
			resolved, outcome, end_date, created_at, updated_at
		FROM prediction_markets
		WHERE NOT resolved AND end_date > NOW()
		ORDER BY id`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open prediction markets: %w", err)
	}
	defer rows.Close()

	var out []domain.PredictionMarket
	for rows.Next() {
		var m domain.PredictionMarket
		if err := rows.Scan(
			&m.ID, &m.Question, &m.YesShares, &m.NoShares, &m.Liquidity,
			&m.Resolved, &m.Outcome, &m.EndDate, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan prediction market: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PredictionMarketStore) UpdateReserves(ctx context.Context, id string, yesShares, noShares, liquidity float64) error {
	const query = `
		UPDATE prediction_markets
		SET yes_shares = $2, no_shares = $3, liquidity = $4, updated_at = NOW()
		WHERE id = $1 AND NOT resolved`

	tag, err := s.db.Exec(ctx, query, id, yesShares, noShares, liquidity)
	if err != nil {
		return fmt.Errorf("postgres: update reserves %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("postgres: prediction market %s: %w", id, domain.ErrMarketResolved)
	}
	return nil
}

// MarkResolved resolves a market exactly once.
func (s *PredictionMarketStore) MarkResolved(ctx context.Context, id string, outcome bool) error {
	const query = `
		UPDATE prediction_markets
		SET resolved = TRUE, outcome = $2, updated_at = NOW()
		WHERE id = $1 AND NOT resolved`

	tag, err := s.db.Exec(ctx, query, id, outcome)
	if err != nil {
		return fmt.Errorf("postgres: resolve prediction market %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("postgres: prediction market %s: %w", id, domain.ErrMarketResolved)
	}
	return nil
}
