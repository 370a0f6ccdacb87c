package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/casefold/grantflow/model"
)

// DefaultChannel is the Redis pub/sub channel used when none is configured.
const DefaultChannel = "grantflow:case-status-changed"

// RedisPublisher publishes status-changed payloads to a Redis pub/sub
// channel. Fire and forget: a payload published to a channel with no
// subscribers is dropped by Redis, which matches the at-most-once contract.
type RedisPublisher struct {
	client  redis.Cmdable
	channel string
}

// NewRedisPublisher creates a publisher on the given channel. An empty
// channel falls back to DefaultChannel.
func NewRedisPublisher(client redis.Cmdable, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

// Channel returns the pub/sub channel payloads go to.
func (p *RedisPublisher) Channel() string { return p.channel }

// HealthCheck pings the broker. Used by the readiness endpoint.
func (p *RedisPublisher) HealthCheck(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// PublishStatusChanged marshals the payload and publishes it.
func (p *RedisPublisher) PublishStatusChanged(ctx context.Context, payload model.StatusChanged) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal payload: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, raw).Err(); err != nil {
		return fmt.Errorf("notify: publish to %s: %w", p.channel, err)
	}
	return nil
}
