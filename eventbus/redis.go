package eventbus

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/arloliu/jobline/types"
)

// DefaultRedisChannel prefixes Redis channels: <prefix>:<event type>.
const DefaultRedisChannel = "jobline:events"

// RedisBus publishes events with Redis PUBLISH.
type RedisBus struct {
	client goredis.Cmdable
	prefix string
	codec  Codec
}

var _ types.EventBus = (*RedisBus)(nil)

// NewRedisBus creates a bus on client.
//
// Example:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	bus, err := eventbus.NewRedisBus(client, "", eventbus.MsgpackCodec{})
func NewRedisBus(client goredis.Cmdable, channelPrefix string, codec Codec) (*RedisBus, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if channelPrefix == "" {
		channelPrefix = DefaultRedisChannel
	}
	if codec == nil {
		codec = JSONCodec{}
	}

	return &RedisBus{client: client, prefix: channelPrefix, codec: codec}, nil
}

// Channel returns the channel used for events of type t.
func (b *RedisBus) Channel(t types.EventType) string {
	return b.prefix + ":" + string(t)
}

// Publish encodes evt and publishes it.
func (b *RedisBus) Publish(ctx context.Context, evt types.JobEvent) error {
	data, err := b.codec.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", evt.ID, err)
	}

	if err := b.client.Publish(ctx, b.Channel(evt.Type), data).Err(); err != nil {
		return fmt.Errorf("jobline/redis: publish event %s: %w", evt.ID, err)
	}

	return nil
}
