package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Quagm/ios-aquatics/internal/core/domain"
)

// RedisBroadcaster publishes events on a Redis pub/sub channel named after
// the topic. Redis keeps nothing: only connected subscribers see an event.
type RedisBroadcaster struct {
	client *redis.Client
}

func NewRedisBroadcaster(client *redis.Client) *RedisBroadcaster {
	return &RedisBroadcaster{client: client}
}

func (r *RedisBroadcaster) Name() string { return "redis" }

func (r *RedisBroadcaster) Broadcast(ctx context.Context, topic string, event domain.StatusEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, topic, body).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}
