package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/marketstate/internal/domain"
)

// SignalBus implements domain.SignalBus using Redis Pub/Sub. Messages are
// ephemeral: a subscriber only sees what is published while it listens.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

// Publish sends a raw byte payload to a Redis Pub/Sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe creates a Redis Pub/Sub subscription and returns a read-only
// channel that emits raw byte payloads. The subscription is closed when the
// context is cancelled; the returned channel is closed at that point as well.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = sb.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = sb.rdb.Subscribe(ctx, channel)
	}

	// Verify the subscription is established by receiving the confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// hasPattern returns true when the Redis channel includes glob-style
// wildcards, in which case PSubscribe must be used instead of Subscribe.
func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// PublishUpdate encodes u and publishes it on bus under the market's
// channel.
func PublishUpdate(ctx context.Context, bus domain.SignalBus, u domain.SnapshotUpdate) error {
	if u.Snapshot == nil {
		return fmt.Errorf("redis: publish update: %w", domain.MissingField("snapshot"))
	}
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("redis: marshal update %s: %w", u.Snapshot.Address, err)
	}
	return bus.Publish(ctx, domain.MarketChannel(strings.ToLower(u.Snapshot.Address)), payload)
}

// DecodeUpdate parses a payload received from a market channel.
func DecodeUpdate(payload []byte) (domain.SnapshotUpdate, error) {
	var u domain.SnapshotUpdate
	if err := json.Unmarshal(payload, &u); err != nil {
		return domain.SnapshotUpdate{}, fmt.Errorf("redis: decode update: %w", err)
	}
	return u, nil
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
