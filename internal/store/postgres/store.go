package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsemarkets/pulse/internal/domain"
)

// serialization_failure; serializable transactions that conflict are retried.
const sqlstateSerializationFailure = "40001"

const (
	txMaxAttempts = 3
	txBackoffBase = 25 * time.Millisecond
)

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so every
// store works identically inside and outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements domain.Store. The zero pool means this Store is a
// transaction-bound view and nested WithinTx calls join the open
// transaction.
type Store struct {
	db   querier
	pool *pgxpool.Pool
}

var _ domain.Store = (*Store)(nil)

func NewStore(client *Client) *Store {
	return &Store{db: client.Pool(), pool: client.Pool()}
}

func (s *Store) Pools() domain.PoolStore                   { return &PoolStore{db: s.db} }
func (s *Store) Positions() domain.PositionStore           { return &PositionStore{db: s.db} }
func (s *Store) Markets() domain.MarketStore               { return &MarketStore{db: s.db} }
func (s *Store) Predictions() domain.PredictionMarketStore { return &PredictionMarketStore{db: s.db} }
func (s *Store) Trades() domain.TradeStore                 { return &TradeStore{db: s.db} }
func (s *Store) Prices() domain.PriceHistoryStore          { return &PriceHistoryStore{db: s.db} }
func (s *Store) Settlements() domain.SettlementStore       { return &SettlementStore{db: s.db} }
func (s *Store) Audit() domain.AuditStore                  { return &AuditStore{db: s.db} }

// WithinTx runs fn in a serializable transaction, retrying up to three times
// on serialization failure with jittered backoff. fn must be safe to re-run:
// every ledger operation is, because it derives all writes from reads inside
// the same transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Store) error) error {
	if s.pool == nil {
		return fn(ctx, s)
	}

	var lastErr error
	for attempt := 1; attempt <= txMaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("postgres: %w: %w", domain.ErrContextDone, err)
		}

		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isSerializationFailure(err) {
			return err
		}
		lastErr = err

		if attempt < txMaxAttempts {
			backoff := time.Duration(attempt) * txBackoffBase
			backoff += time.Duration(rand.Int63n(int64(txBackoffBase)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return fmt.Errorf("postgres: %w: %w", domain.ErrContextDone, ctx.Err())
			}
		}
	}
	return fmt.Errorf("postgres: transaction retries exhausted: %w", lastErr)
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, tx domain.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}

	txStore := &Store{db: tx}
	if err := fn(ctx, txStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlstateSerializationFailure
}

// unique_violation
const sqlstateUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlstateUniqueViolation
}
