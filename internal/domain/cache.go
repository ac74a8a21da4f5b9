package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest mark prices. This is the
// "live engine mark" source consulted first when resolving an exit price.
type PriceCache interface {
	SetPrice(ctx context.Context, marketID string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, marketID string) (float64, time.Time, error)
	GetPrices(ctx context.Context, marketIDs []string) (map[string]float64, error)
}

// LockManager provides distributed locking, used to serialize trades against
// the same pool across instances.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides fire-and-forget pub/sub for price and position events,
// plus durable ordered streams used to feed the impact aggregation worker.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
