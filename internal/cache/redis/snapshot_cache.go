package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/marketstate/internal/domain"
)

// DefaultSnapshotTTL bounds how long an untouched market stays cached.
const DefaultSnapshotTTL = 10 * time.Minute

// SnapshotCache implements domain.SnapshotCache with one hash per market.
//
// Key schema:
//
//	snapshot:{address} - hash with fields "data" (JSON) and "updated_at" (unix ms)
type SnapshotCache struct {
	c   *Client
	ttl time.Duration
}

// NewSnapshotCache creates a SnapshotCache backed by the given Client. A
// non-positive ttl selects DefaultSnapshotTTL.
func NewSnapshotCache(c *Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &SnapshotCache{c: c, ttl: ttl}
}

func (sc *SnapshotCache) snapshotKey(address string) string {
	return sc.c.key("snapshot:", strings.ToLower(address))
}

// Set stores snap and refreshes its TTL.
func (sc *SnapshotCache) Set(ctx context.Context, snap domain.MarketSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s: %w", snap.Address, err)
	}

	key := sc.snapshotKey(snap.Address)
	pipe := sc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data, "updated_at", time.Now().UnixMilli())
	pipe.Expire(ctx, key, sc.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", snap.Address, err)
	}
	return nil
}

// Get returns the cached snapshot or domain.ErrNotFound.
func (sc *SnapshotCache) Get(ctx context.Context, address string) (domain.MarketSnapshot, error) {
	data, err := sc.c.rdb.HGet(ctx, sc.snapshotKey(address), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketSnapshot{}, domain.ErrNotFound
		}
		return domain.MarketSnapshot{}, fmt.Errorf("redis: get snapshot %s: %w", address, err)
	}

	var snap domain.MarketSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: unmarshal snapshot %s: %w", address, err)
	}
	return snap, nil
}

// Invalidate removes a market's cached snapshot.
func (sc *SnapshotCache) Invalidate(ctx context.Context, address string) error {
	if err := sc.c.rdb.Del(ctx, sc.snapshotKey(address)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate snapshot %s: %w", address, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SnapshotCache = (*SnapshotCache)(nil)
