// Package memory implements domain.Store entirely in process memory. It is
// the storage backend for tests and for running the engine without Postgres;
// a single mutex serializes access and transactions roll back by restoring a
// deep copy of the state.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pulsemarkets/pulse/internal/domain"
)

type state struct {
	pools       map[string]domain.Pool
	positions   map[string]domain.Position
	markets     map[string]domain.Market
	predictions map[string]domain.PredictionMarket
	trades      []domain.TradeRecord
	prices      []domain.PriceUpdate
	settlements map[string]domain.SettlementRecord
	audit       []domain.AuditEntry
	auditSeq    int64
}

func newState() *state {
	return &state{
		pools:       make(map[string]domain.Pool),
		positions:   make(map[string]domain.Position),
		markets:     make(map[string]domain.Market),
		predictions: make(map[string]domain.PredictionMarket),
		settlements: make(map[string]domain.SettlementRecord),
	}
}

func (s *state) clone() *state {
	c := &state{
		pools:       make(map[string]domain.Pool, len(s.pools)),
		positions:   make(map[string]domain.Position, len(s.positions)),
		markets:     make(map[string]domain.Market, len(s.markets)),
		predictions: make(map[string]domain.PredictionMarket, len(s.predictions)),
		trades:      append([]domain.TradeRecord(nil), s.trades...),
		prices:      append([]domain.PriceUpdate(nil), s.prices...),
		settlements: make(map[string]domain.SettlementRecord, len(s.settlements)),
		audit:       append([]domain.AuditEntry(nil), s.audit...),
		auditSeq:    s.auditSeq,
	}
	for k, v := range s.pools {
		c.pools[k] = v
	}
	for k, v := range s.positions {
		c.positions[k] = v
	}
	for k, v := range s.markets {
		c.markets[k] = v
	}
	for k, v := range s.predictions {
		c.predictions[k] = v
	}
	for k, v := range s.settlements {
		c.settlements[k] = v
	}
	return c
}

// Store is the in-memory domain.Store.
type Store struct {
	mu sync.Mutex
	st *state
}

var _ domain.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: newState()}
}

// view is a Store bound to a locking strategy: the root view locks per
// operation, the transactional view assumes the root mutex is already held.
type view struct {
	root *Store
	inTx bool
}

func (v view) lock() func() {
	if v.inTx {
		return func() {}
	}
	v.root.mu.Lock()
	return v.root.mu.Unlock
}

func (s *Store) Pools() domain.PoolStore                   { return poolStore{view{s, false}} }
func (s *Store) Positions() domain.PositionStore           { return positionStore{view{s, false}} }
func (s *Store) Markets() domain.MarketStore               { return marketStore{view{s, false}} }
func (s *Store) Predictions() domain.PredictionMarketStore { return predictionStore{view{s, false}} }
func (s *Store) Trades() domain.TradeStore                 { return tradeStore{view{s, false}} }
func (s *Store) Prices() domain.PriceHistoryStore          { return priceStore{view{s, false}} }
func (s *Store) Settlements() domain.SettlementStore       { return settlementStore{view{s, false}} }
func (s *Store) Audit() domain.AuditStore                  { return auditStore{view{s, false}} }

// txStore is the view handed to WithinTx callbacks. The root mutex is held
// for the duration of the transaction.
type txStore struct {
	root *Store
}

var _ domain.Store = txStore{}

func (t txStore) Pools() domain.PoolStore                   { return poolStore{view{t.root, true}} }
func (t txStore) Positions() domain.PositionStore           { return positionStore{view{t.root, true}} }
func (t txStore) Markets() domain.MarketStore               { return marketStore{view{t.root, true}} }
func (t txStore) Predictions() domain.PredictionMarketStore { return predictionStore{view{t.root, true}} }
func (t txStore) Trades() domain.TradeStore                 { return tradeStore{view{t.root, true}} }
func (t txStore) Prices() domain.PriceHistoryStore          { return priceStore{view{t.root, true}} }
func (t txStore) Settlements() domain.SettlementStore       { return settlementStore{view{t.root, true}} }
func (t txStore) Audit() domain.AuditStore                  { return auditStore{view{t.root, true}} }

// Nested transactions join the enclosing one.
func (t txStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Store) error) error {
	return fn(ctx, t)
}

// WithinTx runs fn against a transactional view. On error the pre-transaction
// state is restored, so partial mutations never become visible.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Store) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory: %w: %w", domain.ErrContextDone, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(ctx, txStore{s}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// --- pools ---

type poolStore struct{ view }

var _ domain.PoolStore = poolStore{}

func (p poolStore) Create(ctx context.Context, pool domain.Pool) error {
	defer p.lock()()
	if _, ok := p.root.st.pools[pool.ID]; ok {
		return fmt.Errorf("memory: pool %s: %w", pool.ID, domain.ErrAlreadyExists)
	}
	if pool.CreatedAt.IsZero() {
		pool.CreatedAt = time.Now().UTC()
	}
	pool.UpdatedAt = pool.CreatedAt
	p.root.st.pools[pool.ID] = pool
	return nil
}

func (p poolStore) GetByID(ctx context.Context, id string) (domain.Pool, error) {
	defer p.lock()()
	pool, ok := p.root.st.pools[id]
	if !ok {
		return domain.Pool{}, fmt.Errorf("memory: pool %s: %w", id, domain.ErrNotFound)
	}
	return pool, nil
}

func (p poolStore) Debit(ctx context.Context, id string, amount float64, reason string) error {
	defer p.lock()()
	pool, ok := p.root.st.pools[id]
	if !ok {
		return fmt.Errorf("memory: pool %s: %w", id, domain.ErrNotFound)
	}
	if pool.AvailableBalance < amount {
		return fmt.Errorf("memory: debit %.6f from pool %s (balance %.6f, %s): %w",
			amount, id, pool.AvailableBalance, reason, domain.ErrInsufficientFunds)
	}
	pool.AvailableBalance -= amount
	pool.UpdatedAt = time.Now().UTC()
	p.root.st.pools[id] = pool
	return nil
}

func (p poolStore) Credit(ctx context.Context, id string, amount float64, reason string) error {
	defer p.lock()()
	pool, ok := p.root.st.pools[id]
	if !ok {
		return fmt.Errorf("memory: pool %s: %w", id, domain.ErrNotFound)
	}
	pool.AvailableBalance += amount
	pool.UpdatedAt = time.Now().UTC()
	p.root.st.pools[id] = pool
	return nil
}

func (p poolStore) RecordPnL(ctx context.Context, id string, pnl float64) error {
	defer p.lock()()
	pool, ok := p.root.st.pools[id]
	if !ok {
		return fmt.Errorf("memory: pool %s: %w", id, domain.ErrNotFound)
	}
	pool.LifetimePnL += pnl
	pool.UpdatedAt = time.Now().UTC()
	p.root.st.pools[id] = pool
	return nil
}

func (p poolStore) AddFeesPaid(ctx context.Context, id string, amount float64) error {
	defer p.lock()()
	pool, ok := p.root.st.pools[id]
	if !ok {
		return fmt.Errorf("memory: pool %s: %w", id, domain.ErrNotFound)
	}
	pool.TotalFeesPaid += amount
	pool.UpdatedAt = time.Now().UTC()
	p.root.st.pools[id] = pool
	return nil
}

func (p poolStore) AddFeesCollected(ctx context.Context, id string, amount float64) error {
	defer p.lock()()
	pool, ok := p.root.st.pools[id]
	if !ok {
		return fmt.Errorf("memory: pool %s: %w", id, domain.ErrNotFound)
	}
	pool.TotalFeesCollected += amount
	pool.UpdatedAt = time.Now().UTC()
	p.root.st.pools[id] = pool
	return nil
}

// --- positions ---

type positionStore struct{ view }

var _ domain.PositionStore = positionStore{}

func (p positionStore) Create(ctx context.Context, pos domain.Position) error {
	defer p.lock()()
	if _, ok := p.root.st.positions[pos.ID]; ok {
		return fmt.Errorf("memory: position %s: %w", pos.ID, domain.ErrAlreadyExists)
	}
	if pos.OpenedAt.IsZero() {
		pos.OpenedAt = time.Now().UTC()
	}
	p.root.st.positions[pos.ID] = pos
	return nil
}

func (p positionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	defer p.lock()()
	pos, ok := p.root.st.positions[id]
	if !ok {
		return domain.Position{}, fmt.Errorf("memory: position %s: %w", id, domain.ErrNotFound)
	}
	return pos, nil
}

func (p positionStore) UpdateMark(ctx context.Context, id string, currentPrice, unrealizedPnL float64) error {
	defer p.lock()()
	pos, ok := p.root.st.positions[id]
	if !ok {
		return fmt.Errorf("memory: position %s: %w", id, domain.ErrNotFound)
	}
	if pos.Status != domain.PositionStatusOpen {
		return fmt.Errorf("memory: position %s: %w", id, domain.ErrAlreadyClosed)
	}
	pos.CurrentPrice = currentPrice
	pos.UnrealizedPnL = unrealizedPnL
	p.root.st.positions[id] = pos
	return nil
}

func (p positionStore) Close(ctx context.Context, id string, exitPrice, realizedPnL float64, closedAt time.Time) error {
	defer p.lock()()
	pos, ok := p.root.st.positions[id]
	if !ok {
		return fmt.Errorf("memory: position %s: %w", id, domain.ErrNotFound)
	}
	if pos.Status != domain.PositionStatusOpen {
		return fmt.Errorf("memory: position %s: %w", id, domain.ErrAlreadyClosed)
	}
	pnl := realizedPnL
	price := exitPrice
	at := closedAt
	pos.Status = domain.PositionStatusClosed
	pos.RealizedPnL = &pnl
	pos.ExitPrice = &price
	pos.ClosedAt = &at
	pos.CurrentPrice = exitPrice
	pos.UnrealizedPnL = 0
	p.root.st.positions[id] = pos
	return nil
}

func (p positionStore) ListOpenByPool(ctx context.Context, poolID string) ([]domain.Position, error) {
	defer p.lock()()
	var out []domain.Position
	for _, pos := range p.root.st.positions {
		if pos.PoolID == poolID && pos.Status == domain.PositionStatusOpen {
			out = append(out, pos)
		}
	}
	sortPositions(out)
	return out, nil
}

func (p positionStore) ListOpenByMarket(ctx context.Context, marketID string) ([]domain.Position, error) {
	defer p.lock()()
	var out []domain.Position
	for _, pos := range p.root.st.positions {
		if pos.MarketID == marketID && pos.Status == domain.PositionStatusOpen {
			out = append(out, pos)
		}
	}
	sortPositions(out)
	return out, nil
}

func (p positionStore) ListHistory(ctx context.Context, poolID string, opts domain.ListOpts) ([]domain.Position, error) {
	defer p.lock()()
	var out []domain.Position
	for _, pos := range p.root.st.positions {
		if pos.PoolID != poolID {
			continue
		}
		if opts.Since != nil && pos.OpenedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && pos.OpenedAt.After(*opts.Until) {
			continue
		}
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.After(out[j].OpenedAt)
	})
	return paginate(out, opts), nil
}

func sortPositions(ps []domain.Position) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].OpenedAt.Equal(ps[j].OpenedAt) {
			return ps[i].ID < ps[j].ID
		}
		return ps[i].OpenedAt.Before(ps[j].OpenedAt)
	})
}

// --- markets ---

type marketStore struct{ view }

var _ domain.MarketStore = marketStore{}

func (m marketStore) Create(ctx context.Context, mk domain.Market) error {
	defer m.lock()()
	if _, ok := m.root.st.markets[mk.ID]; ok {
		return fmt.Errorf("memory: market %s: %w", mk.ID, domain.ErrAlreadyExists)
	}
	if mk.CreatedAt.IsZero() {
		mk.CreatedAt = time.Now().UTC()
	}
	mk.UpdatedAt = mk.CreatedAt
	m.root.st.markets[mk.ID] = mk
	return nil
}

func (m marketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	defer m.lock()()
	mk, ok := m.root.st.markets[id]
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: market %s: %w", id, domain.ErrNotFound)
	}
	return mk, nil
}

func (m marketStore) ListActive(ctx context.Context) ([]domain.Market, error) {
	defer m.lock()()
	var out []domain.Market
	for _, mk := range m.root.st.markets {
		if mk.Active {
			out = append(out, mk)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m marketStore) UpdatePrice(ctx context.Context, id string, price float64) error {
	defer m.lock()()
	mk, ok := m.root.st.markets[id]
	if !ok {
		return fmt.Errorf("memory: market %s: %w", id, domain.ErrNotFound)
	}
	mk.CurrentPrice = price
	mk.UpdatedAt = time.Now().UTC()
	m.root.st.markets[id] = mk
	return nil
}

// --- prediction markets ---

type predictionStore struct{ view }

var _ domain.PredictionMarketStore = predictionStore{}

func (p predictionStore) Create(ctx context.Context, mk domain.PredictionMarket) error {
	defer p.lock()()
	if _, ok := p.root.st.predictions[mk.ID]; ok {
		return fmt.Errorf("memory: prediction market %s: %w", mk.ID, domain.ErrAlreadyExists)
	}
	if mk.CreatedAt.IsZero() {
		mk.CreatedAt = time.Now().UTC()
	}
	mk.UpdatedAt = mk.CreatedAt
	p.root.st.predictions[mk.ID] = mk
	return nil
}

func (p predictionStore) GetByID(ctx context.Context, id string) (domain.PredictionMarket, error) {
	defer p.lock()()
	mk, ok := p.root.st.predictions[id]
	if !ok {
		return domain.PredictionMarket{}, fmt.Errorf("memory: prediction market %s: %w", id, domain.ErrNotFound)
	}
	return mk, nil
}

func (p predictionStore) ListOpen(ctx context.Context) ([]domain.PredictionMarket, error) {
	defer p.lock()()
	now := time.Now().UTC()
	var out []domain.PredictionMarket
	for _, mk := range p.root.st.predictions {
		if !mk.Resolved && !mk.Expired(now) {
			out = append(out, mk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (p predictionStore) UpdateReserves(ctx context.Context, id string, yesShares, noShares, liquidity float64) error {
	defer p.lock()()
	mk, ok := p.root.st.predictions[id]
	if !ok {
		return fmt.Errorf("memory: prediction market %s: %w", id, domain.ErrNotFound)
	}
	if mk.Resolved {
		return fmt.Errorf("memory: prediction market %s: %w", id, domain.ErrMarketResolved)
	}
	mk.YesShares = yesShares
	mk.NoShares = noShares
	mk.Liquidity = liquidity
	mk.UpdatedAt = time.Now().UTC()
	p.root.st.predictions[id] = mk
	return nil
}

func (p predictionStore) MarkResolved(ctx context.Context, id string, outcome bool) error {
	defer p.lock()()
	mk, ok := p.root.st.predictions[id]
	if !ok {
		return fmt.Errorf("memory: prediction market %s: %w", id, domain.ErrNotFound)
	}
	if mk.Resolved {
		return fmt.Errorf("memory: prediction market %s: %w", id, domain.ErrMarketResolved)
	}
	out := outcome
	mk.Resolved = true
	mk.Outcome = &out
	mk.UpdatedAt = time.Now().UTC()
	p.root.st.predictions[id] = mk
	return nil
}

// --- trades ---

type tradeStore struct{ view }

var _ domain.TradeStore = tradeStore{}

func (t tradeStore) Insert(ctx context.Context, tr domain.TradeRecord) error {
	defer t.lock()()
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now().UTC()
	}
	t.root.st.trades = append(t.root.st.trades, tr)
	return nil
}

func (t tradeStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	defer t.lock()()
	return filterTrades(t.root.st.trades, opts, func(tr domain.TradeRecord) bool {
		return tr.MarketID == marketID
	}), nil
}

func (t tradeStore) ListByPool(ctx context.Context, poolID string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	defer t.lock()()
	return filterTrades(t.root.st.trades, opts, func(tr domain.TradeRecord) bool {
		return tr.PoolID == poolID
	}), nil
}

func (t tradeStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.TradeRecord, error) {
	defer t.lock()()
	var out []domain.TradeRecord
	for _, tr := range t.root.st.trades {
		if tr.CreatedAt.Before(cutoff) {
			out = append(out, tr)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (t tradeStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	defer t.lock()()
	kept := t.root.st.trades[:0]
	var removed int64
	for _, tr := range t.root.st.trades {
		if tr.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, tr)
	}
	t.root.st.trades = kept
	return removed, nil
}

func filterTrades(trades []domain.TradeRecord, opts domain.ListOpts, keep func(domain.TradeRecord) bool) []domain.TradeRecord {
	var out []domain.TradeRecord
	for _, tr := range trades {
		if !keep(tr) {
			continue
		}
		if opts.Since != nil && tr.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && tr.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, tr)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, opts)
}

// --- price history ---

type priceStore struct{ view }

var _ domain.PriceHistoryStore = priceStore{}

func (p priceStore) Insert(ctx context.Context, u domain.PriceUpdate) error {
	defer p.lock()()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	p.root.st.prices = append(p.root.st.prices, u)
	return nil
}

func (p priceStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.PriceUpdate, error) {
	defer p.lock()()
	var out []domain.PriceUpdate
	for _, u := range p.root.st.prices {
		if u.MarketID != marketID {
			continue
		}
		if opts.Since != nil && u.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && u.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, opts), nil
}

func (p priceStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.PriceUpdate, error) {
	defer p.lock()()
	var out []domain.PriceUpdate
	for _, u := range p.root.st.prices {
		if u.CreatedAt.Before(cutoff) {
			out = append(out, u)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (p priceStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	defer p.lock()()
	kept := p.root.st.prices[:0]
	var removed int64
	for _, u := range p.root.st.prices {
		if u.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, u)
	}
	p.root.st.prices = kept
	return removed, nil
}

// --- settlements ---

type settlementStore struct{ view }

var _ domain.SettlementStore = settlementStore{}

func settlementKey(positionID string, kind domain.SettlementKind) string {
	return positionID + "/" + string(kind)
}

func (s settlementStore) Upsert(ctx context.Context, rec domain.SettlementRecord) error {
	defer s.lock()()
	key := settlementKey(rec.PositionID, rec.Kind)
	if existing, ok := s.root.st.settlements[key]; ok {
		// Settled records are terminal.
		if existing.SettledToChain {
			return nil
		}
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
		rec.Attempts = existing.Attempts
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.root.st.settlements[key] = rec
	return nil
}

func (s settlementStore) Get(ctx context.Context, positionID string, kind domain.SettlementKind) (domain.SettlementRecord, error) {
	defer s.lock()()
	rec, ok := s.root.st.settlements[settlementKey(positionID, kind)]
	if !ok {
		return domain.SettlementRecord{}, fmt.Errorf("memory: settlement %s/%s: %w", positionID, kind, domain.ErrNotFound)
	}
	return rec, nil
}

func (s settlementStore) ListUnsettled(ctx context.Context, limit int) ([]domain.SettlementRecord, error) {
	defer s.lock()()
	var out []domain.SettlementRecord
	for _, rec := range s.root.st.settlements {
		if !rec.SettledToChain {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return settlementKey(out[i].PositionID, out[i].Kind) < settlementKey(out[j].PositionID, out[j].Kind)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s settlementStore) MarkSettled(ctx context.Context, positionID string, kind domain.SettlementKind, txHash string, at time.Time) error {
	defer s.lock()()
	key := settlementKey(positionID, kind)
	rec, ok := s.root.st.settlements[key]
	if !ok {
		return fmt.Errorf("memory: settlement %s/%s: %w", positionID, kind, domain.ErrNotFound)
	}
	if rec.SettledToChain {
		return nil
	}
	hash := txHash
	when := at
	rec.SettledToChain = true
	rec.SettlementTxHash = &hash
	rec.SettledAt = &when
	rec.LastError = nil
	s.root.st.settlements[key] = rec
	return nil
}

func (s settlementStore) RecordFailure(ctx context.Context, positionID string, kind domain.SettlementKind, cause string) error {
	defer s.lock()()
	key := settlementKey(positionID, kind)
	rec, ok := s.root.st.settlements[key]
	if !ok {
		return fmt.Errorf("memory: settlement %s/%s: %w", positionID, kind, domain.ErrNotFound)
	}
	if rec.SettledToChain {
		return nil
	}
	msg := cause
	rec.Attempts++
	rec.LastError = &msg
	s.root.st.settlements[key] = rec
	return nil
}

// --- audit ---

type auditStore struct{ view }

var _ domain.AuditStore = auditStore{}

func (a auditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	defer a.lock()()
	a.root.st.auditSeq++
	copied := make(map[string]any, len(detail))
	for k, v := range detail {
		copied[k] = v
	}
	a.root.st.audit = append(a.root.st.audit, domain.AuditEntry{
		ID:        a.root.st.auditSeq,
		Event:     event,
		Detail:    copied,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (a auditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	defer a.lock()()
	out := append([]domain.AuditEntry(nil), a.root.st.audit...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return paginate(out, opts), nil
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}
