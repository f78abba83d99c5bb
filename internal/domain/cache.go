package domain

import (
	"context"
	"time"
)

// SnapshotCache keeps the most recently published merged snapshot per market
// so late subscribers can be primed without waiting for the next change.
type SnapshotCache interface {
	Set(ctx context.Context, snap MarketSnapshot) error
	Get(ctx context.Context, address string) (MarketSnapshot, error)
	Invalidate(ctx context.Context, address string) error
}

// SignalBus provides pub/sub fan-out of snapshot updates.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// MarketChannel is the bus channel carrying updates for one market.
func MarketChannel(address string) string {
	return "ch:market:" + address
}

// MarketChannelPattern matches every market channel.
const MarketChannelPattern = "ch:market:*"

// SnapshotUpdate is the envelope published on a market channel.
type SnapshotUpdate struct {
	Type      string          `json:"type"`
	Snapshot  *MarketSnapshot `json:"snapshot,omitempty"`
	Error     string          `json:"error,omitempty"`
	Stale     bool            `json:"stale"`
	Version   uint64          `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
}
