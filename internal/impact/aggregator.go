// Package impact turns batches of executed trades into per-market price
// pressure. Aggregation is a pure fold over trade records: the same batch
// always produces the same impacts.
package impact

import (
	"math"
	"sort"

	"github.com/pulsemarkets/pulse/internal/domain"
)

const (
	DefaultVolumeNormalizer = 100000
	DefaultMaxImpact        = 0.05
)

// MarketImpact is the aggregated directional pressure one batch of trades
// puts on a single market.
type MarketImpact struct {
	MarketID     string
	Kind         domain.PositionKind
	LongVolume   float64
	ShortVolume  float64
	YesVolume    float64
	NoVolume     float64
	TotalVolume  float64
	NetSentiment float64 // in [-1, 1]
	Trades       int
}

// Aggregator folds trade batches into market impacts and converts an impact
// into a bounded price change.
type Aggregator struct {
	volumeNormalizer float64
	maxImpact        float64
}

func NewAggregator(volumeNormalizer, maxImpact float64) *Aggregator {
	if volumeNormalizer <= 0 {
		volumeNormalizer = DefaultVolumeNormalizer
	}
	if maxImpact <= 0 || maxImpact >= 1 {
		maxImpact = DefaultMaxImpact
	}
	return &Aggregator{volumeNormalizer: volumeNormalizer, maxImpact: maxImpact}
}

// Aggregate groups trades by market and computes each market's net sentiment
// from its directional volumes. Output order is deterministic (by market ID)
// so repeated runs over the same batch produce identical results.
func (a *Aggregator) Aggregate(trades []domain.TradeRecord) []MarketImpact {
	byMarket := make(map[string]*MarketImpact)
	for _, tr := range trades {
		if tr.Amount <= 0 || tr.MarketID == "" {
			continue
		}
		mi, ok := byMarket[tr.MarketID]
		if !ok {
			mi = &MarketImpact{MarketID: tr.MarketID, Kind: tr.MarketKind}
			byMarket[tr.MarketID] = mi
		}
		switch tr.Side {
		case domain.SideLong:
			mi.LongVolume += tr.Amount
		case domain.SideShort:
			mi.ShortVolume += tr.Amount
		case domain.SideYes:
			mi.YesVolume += tr.Amount
		case domain.SideNo:
			mi.NoVolume += tr.Amount
		default:
			continue
		}
		mi.TotalVolume += tr.Amount
		mi.Trades++
	}

	out := make([]MarketImpact, 0, len(byMarket))
	for _, mi := range byMarket {
		mi.NetSentiment = netSentiment(*mi)
		out = append(out, *mi)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out
}

// PriceChange converts an impact into a relative price change. Volume scales
// the sentiment but is capped, so one batch can never move a price by more
// than maxImpact in either direction.
func (a *Aggregator) PriceChange(mi MarketImpact) float64 {
	volumeImpact := math.Min(mi.TotalVolume/a.volumeNormalizer, a.maxImpact)
	return mi.NetSentiment * volumeImpact
}

// Apply returns the new price after an impact. The result never moves more
// than maxImpact relative to the old price and never goes non-positive.
func (a *Aggregator) Apply(oldPrice float64, mi MarketImpact) float64 {
	newPrice := oldPrice * (1 + a.PriceChange(mi))
	if newPrice <= 0 {
		return oldPrice
	}
	return newPrice
}

func netSentiment(mi MarketImpact) float64 {
	var pos, neg float64
	switch mi.Kind {
	case domain.PositionKindPrediction:
		pos, neg = mi.YesVolume, mi.NoVolume
	default:
		pos, neg = mi.LongVolume, mi.ShortVolume
	}
	total := pos + neg
	if total <= 0 {
		return 0
	}
	return (pos - neg) / total
}
