package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	TopicSubscriptionActivated = "subscription.activated"
	TopicSubscriptionCancelled = "subscription.cancelled"
)

// Publisher publishes domain events to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, event interface{}) error
}

// SubscriptionEvent announces a subscription lifecycle change.
type SubscriptionEvent struct {
	Type           string     `json:"type"`
	UserID         string     `json:"user_id,omitempty"`
	SubscriptionID string     `json:"subscription_id,omitempty"`
	Email          string     `json:"email"`
	PlanType       string     `json:"plan_type,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at"`
	Provider       string     `json:"provider,omitempty"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

// RedisEventBus publishes events over Redis pub/sub.
type RedisEventBus struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisEventBus(client *redis.Client, logger *zap.Logger) *RedisEventBus {
	return &RedisEventBus{client: client, logger: logger.Named("eventbus")}
}

// Publish serializes event as JSON and publishes it on topic.
func (r *RedisEventBus) Publish(ctx context.Context, topic string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	result := r.client.Publish(ctx, topic, data)
	if result.Err() != nil {
		return fmt.Errorf("failed to publish event to Redis: %w", result.Err())
	}

	r.logger.Debug("Event published",
		zap.String("topic", topic),
		zap.Int64("recipients", result.Val()),
		zap.String("event_type", fmt.Sprintf("%T", event)))
	return nil
}

// NopPublisher drops events. Used when Redis is not configured.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, topic string, event interface{}) error { return nil }
