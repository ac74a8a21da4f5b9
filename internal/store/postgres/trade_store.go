package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pulsemarkets/pulse/internal/domain"
)

// TradeStore implements domain.TradeStore. Trades are append-only: the only
// delete path is archival pruning via DeleteBefore.
type TradeStore struct {
	db querier
}

var _ domain.TradeStore = (*TradeStore)(nil)

const tradeSelectCols = `id, pool_id, market_id, market_kind, position_id,
	action, side, amount, price, fee, sentiment, reasoning, created_at`

func scanTrades(rows pgx.Rows) ([]domain.TradeRecord, error) {
	defer rows.Close()
	var out []domain.TradeRecord
	for rows.Next() {
		var t domain.TradeRecord
		var kind, action, side string
		if err := rows.Scan(
			&t.ID, &t.PoolID, &t.MarketID, &kind, &t.PositionID,
			&action, &side, &t.Amount, &t.Price, &t.Fee, &t.Sentiment,
			&t.Reasoning, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		t.MarketKind = domain.PositionKind(kind)
		t.Action = domain.TradeAction(action)
		t.Side = domain.Side(side)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *TradeStore) Insert(ctx context.Context, t domain.TradeRecord) error {
	const query = `
		INSERT INTO trades (
			id, pool_id, market_id, market_kind, position_id,
			action, side, amount, price, fee, sentiment, reasoning, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.db.Exec(ctx, query,
		t.ID, t.PoolID, t.MarketID, string(t.MarketKind), t.PositionID,
		string(t.Action), string(t.Side), t.Amount, t.Price, t.Fee,
		t.Sentiment, t.Reasoning, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

func (s *TradeStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	return s.list(ctx, "market_id", marketID, opts)
}

func (s *TradeStore) ListByPool(ctx context.Context, poolID string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	return s.list(ctx, "pool_id", poolID, opts)
}

func (s *TradeStore) list(ctx context.Context, col, val string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE ` + col + ` = $1`
	args := []any{val}

	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	query += " ORDER BY created_at DESC, id"
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
		return nil, fmt.Errorf("postgres: list trades by %s %s: %w", col, val, err)
	}
	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

func (s *TradeStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades
		WHERE created_at < $1 ORDER BY created_at, id`
	args := []any{cutoff}
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $2"
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %s: %w", cutoff, err)
	}
	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

func (s *TradeStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM trades WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before %s: %w", cutoff, err)
	}
	return tag.RowsAffected(), nil
}

// PriceHistoryStore implements domain.PriceHistoryStore.
type PriceHistoryStore struct {
	db querier
}

var _ domain.PriceHistoryStore = (*PriceHistoryStore)(nil)

const priceSelectCols = `id, market_id, old_price, new_price, change,
	change_percent, source, created_at`

func scanPriceUpdates(rows pgx.Rows) ([]domain.PriceUpdate, error) {
	defer rows.Close()
	var out []domain.PriceUpdate
	for rows.Next() {
		var u domain.PriceUpdate
		if err := rows.Scan(
			&u.ID, &u.MarketID, &u.OldPrice, &u.NewPrice, &u.Change,
			&u.ChangePercent, &u.Source, &u.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *PriceHistoryStore) Insert(ctx context.Context, u domain.PriceUpdate) error {
	const query = `
		INSERT INTO price_history (
			id, market_id, old_price, new_price, change,
			change_percent, source, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.Exec(ctx, query,
		u.ID, u.MarketID, u.OldPrice, u.NewPrice, u.Change,
		u.ChangePercent, u.Source, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert price update %s: %w", u.ID, err)
	}
	return nil
}

func (s *PriceHistoryStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.PriceUpdate, error) {
	query := `SELECT ` + priceSelectCols + ` FROM price_history WHERE market_id = $1`
	args := []any{marketID}

	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	query += " ORDER BY created_at DESC, id"
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
		return nil, fmt.Errorf("postgres: list price history %s: %w", marketID, err)
	}
	updates, err := scanPriceUpdates(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan price history: %w", err)
	}
	return updates, nil
}

func (s *PriceHistoryStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.PriceUpdate, error) {
	query := `SELECT ` + priceSelectCols + ` FROM price_history
		WHERE created_at < $1 ORDER BY created_at, id`
	args := []any{cutoff}
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $2"
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list price history before %s: %w", cutoff, err)
	}
	updates, err := scanPriceUpdates(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan price history: %w", err)
	}
	return updates, nil
}

func (s *PriceHistoryStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM price_history WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete price history before %s: %w", cutoff, err)
	}
	return tag.RowsAffected(), nil
}
