package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/clawmarket/internal/domain"
)

// Default ring sizes.
const (
	DefaultDeliveryLogCap = 50
	DefaultOracleLogCap   = 20
)

// ringLog keeps the newest cap JSON entries of a list, newest first.
type ringLog[T any] struct {
	rdb *redis.Client
	cap int64
}

func (r ringLog[T]) push(ctx context.Context, key string, v T) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis: marshal %s entry: %w", key, err)
	}
	pipe := r.rdb.TxPipeline()
	pipe.LPush(ctx, key, b)
	pipe.LTrim(ctx, key, 0, r.cap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: append %s: %w", key, err)
	}
	return nil
}

func (r ringLog[T]) list(ctx context.Context, key string) ([]T, error) {
	raw, err := r.rdb.LRange(ctx, key, 0, r.cap-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list %s: %w", key, err)
	}
	out := make([]T, 0, len(raw))
	for _, s := range raw {
		var v T
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func capOrDefault(n, def int) int64 {
	if n <= 0 {
		return int64(def)
	}
	return int64(n)
}

// DeliveryLog implements domain.DeliveryLog with one capped list per market.
type DeliveryLog struct {
	ring ringLog[domain.DeliveryRecord]
}

// NewDeliveryLog keeps the newest size records per market.
func NewDeliveryLog(c *Client, size int) *DeliveryLog {
	return &DeliveryLog{ring: ringLog[domain.DeliveryRecord]{
		rdb: c.Underlying(),
		cap: capOrDefault(size, DefaultDeliveryLogCap),
	}}
}

func deliveryKey(marketID string) string {
	return "webhooks:" + marketID
}

// Append records one delivery attempt.
func (l *DeliveryLog) Append(ctx context.Context, rec domain.DeliveryRecord) error {
	return l.ring.push(ctx, deliveryKey(rec.MarketID), rec)
}

// List returns the market's records, newest first.
func (l *DeliveryLog) List(ctx context.Context, marketID string) ([]domain.DeliveryRecord, error) {
	return l.ring.list(ctx, deliveryKey(marketID))
}

// OracleLog implements domain.OracleLog with one capped list per market.
type OracleLog struct {
	ring ringLog[domain.OracleLogEntry]
}

func oracleKey(marketID string) string {
	return "oracle:log:" + marketID
}

// NewOracleLog keeps the newest size entries per market.
func NewOracleLog(c *Client, size int) *OracleLog {
	return &OracleLog{ring: ringLog[domain.OracleLogEntry]{
		rdb: c.Underlying(),
		cap: capOrDefault(size, DefaultOracleLogCap),
	}}
}

// Append records one resolution attempt.
func (l *OracleLog) Append(ctx context.Context, e domain.OracleLogEntry) error {
	return l.ring.push(ctx, oracleKey(e.MarketID), e)
}

// List returns the market's entries, newest first.
func (l *OracleLog) List(ctx context.Context, marketID string) ([]domain.OracleLogEntry, error) {
	return l.ring.list(ctx, oracleKey(marketID))
}

var (
	_ domain.DeliveryLog = (*DeliveryLog)(nil)
	_ domain.OracleLog   = (*OracleLog)(nil)
)
