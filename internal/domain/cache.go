package domain

import (
	"context"
	"time"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub fan-out of live events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// DeliveryLog keeps the most recent webhook delivery attempts per market,
// newest first.
type DeliveryLog interface {
	Append(ctx context.Context, rec DeliveryRecord) error
	List(ctx context.Context, marketID string) ([]DeliveryRecord, error)
}

// OracleLog keeps the most recent resolution attempts per market, newest
// first.
type OracleLog interface {
	Append(ctx context.Context, entry OracleLogEntry) error
	List(ctx context.Context, marketID string) ([]OracleLogEntry, error)
}
