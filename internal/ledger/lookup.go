package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pulsemarkets/pulse/internal/domain"
)

// ResolveMarket finds an organization market by a free-form query. Resolution
// is two-phase: an exact ID match wins, otherwise the query is case-folded
// and matched against tickers (exact) and names (substring) of active
// markets. Candidates are ordered by (name, id) so the same query always
// resolves to the same market.
func ResolveMarket(ctx context.Context, markets domain.MarketStore, query string) (domain.Market, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return domain.Market{}, fmt.Errorf("ledger: empty market query: %w", domain.ErrNotFound)
	}

	if m, err := markets.GetByID(ctx, query); err == nil {
		return m, nil
	}

	active, err := markets.ListActive(ctx)
	if err != nil {
		return domain.Market{}, fmt.Errorf("ledger: list markets: %w", err)
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].Name != active[j].Name {
			return active[i].Name < active[j].Name
		}
		return active[i].ID < active[j].ID
	})

	folded := strings.ToLower(query)
	for _, m := range active {
		if strings.ToLower(m.Ticker) == folded {
			return m, nil
		}
	}
	for _, m := range active {
		if strings.Contains(strings.ToLower(m.Name), folded) {
			return m, nil
		}
	}
	return domain.Market{}, fmt.Errorf("ledger: no market matches %q: %w", query, domain.ErrNotFound)
}

// ResolvePredictionMarket finds a prediction market by ID or by a case-folded
// substring of its question, preferring the exact ID.
func ResolvePredictionMarket(ctx context.Context, predictions domain.PredictionMarketStore, query string) (domain.PredictionMarket, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return domain.PredictionMarket{}, fmt.Errorf("ledger: empty market query: %w", domain.ErrNotFound)
	}

	if m, err := predictions.GetByID(ctx, query); err == nil {
		return m, nil
	}

	open, err := predictions.ListOpen(ctx)
	if err != nil {
		return domain.PredictionMarket{}, fmt.Errorf("ledger: list prediction markets: %w", err)
	}
	sort.Slice(open, func(i, j int) bool { return open[i].ID < open[j].ID })

	folded := strings.ToLower(query)
	for _, m := range open {
		if strings.Contains(strings.ToLower(m.Question), folded) {
			return m, nil
		}
	}
	return domain.PredictionMarket{}, fmt.Errorf("ledger: no prediction market matches %q: %w", query, domain.ErrNotFound)
}
