package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// BroadcastChannel is the Redis channel shared by all relay instances.
const BroadcastChannel = "broadcast"

// RedisBus fans room events out over Redis pub/sub.
type RedisBus struct {
	rdb     *redis.Client
	channel string
	log     zerolog.Logger
}

func NewRedisBus(rdb *redis.Client, logger *zerolog.Logger) *RedisBus {
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &RedisBus{rdb: rdb, channel: BroadcastChannel, log: l.With().Str("component", "bus").Logger()}
}

func (b *RedisBus) Publish(ctx context.Context, m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("relay: encode message: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("relay: publish: %w", err)
	}
	return nil
}

// Subscribe forwards every message on the channel to the hub until ctx is
// cancelled. ready, if not nil, is closed once the subscription is active.
func (b *RedisBus) Subscribe(ctx context.Context, hub *Hub, ready chan<- struct{}) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("relay: subscribe %s: %w", b.channel, err)
	}
	if ready != nil {
		close(ready)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var m Message
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil || m.Type == "" {
				b.log.Warn().Err(err).Msg("malformed broadcast dropped")
				continue
			}
			if err := hub.Deliver(ctx, m); err != nil {
				return nil
			}
		}
	}
}
