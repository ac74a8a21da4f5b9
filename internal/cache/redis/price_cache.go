package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulsemarkets/pulse/internal/domain"
)

// markTTL bounds how long a cached mark is served. A stale mark is worse
// than a miss: callers fall back to the stored market price.
const markTTL = 5 * time.Minute

// PriceCache implements domain.PriceCache on Redis hashes. Each market's
// mark lives at "mark:{marketID}" with fields "price" and "ts" (Unix
// nanoseconds).
type PriceCache struct {
	rdb *redis.Client
}

func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func markKey(marketID string) string {
	return "mark:" + marketID
}

// SetPrice stores the latest mark for a market and refreshes its TTL.
func (pc *PriceCache) SetPrice(ctx context.Context, marketID string, price float64, ts time.Time) error {
	key := markKey(marketID)
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, markTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set mark %s: %w", marketID, err)
	}
	return nil
}

// GetPrice returns the cached mark for a market, or domain.ErrNotFound when
// no fresh mark exists.
func (pc *PriceCache) GetPrice(ctx context.Context, marketID string) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, markKey(marketID)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get mark %s: %w", marketID, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	price, err := strconv.ParseFloat(vals["price"], 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse mark %s: %w", marketID, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse mark ts %s: %w", marketID, err)
	}
	return price, time.Unix(0, tsNano), nil
}

// GetPrices fetches marks for multiple markets in one pipeline. Markets
// without a cached mark are omitted from the result.
func (pc *PriceCache) GetPrices(ctx context.Context, marketIDs []string) (map[string]float64, error) {
	if len(marketIDs) == 0 {
		return map[string]float64{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(marketIDs))
	for _, id := range marketIDs {
		cmds[id] = pipe.HGetAll(ctx, markKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get marks pipeline: %w", err)
	}

	result := make(map[string]float64, len(marketIDs))
	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		price, err := strconv.ParseFloat(vals["price"], 64)
		if err != nil {
			continue
		}
		result[id] = price
	}
	return result, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
