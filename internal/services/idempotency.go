package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	claimProcessing = "processing"
	claimCompleted  = "completed"
)

// IdempotencyGuard claims webhook deliveries in Redis so retried
// deliveries of the same provider transaction are processed once.
type IdempotencyGuard struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewIdempotencyGuard returns a guard. A nil client disables claiming.
func NewIdempotencyGuard(client *redis.Client, ttl time.Duration, logger *zap.Logger) *IdempotencyGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyGuard{client: client, ttl: ttl, logger: logger.Named("idempotency")}
}

func claimKey(provider, transactionID string) string {
	return fmt.Sprintf("processed_webhook:%s:%s", provider, transactionID)
}

// Claim reports whether the caller owns the delivery. Empty transaction
// ids cannot be deduplicated and are always claimed.
func (g *IdempotencyGuard) Claim(ctx context.Context, provider, transactionID string) (bool, error) {
	if g.client == nil || transactionID == "" {
		return true, nil
	}
	ok, err := g.client.SetNX(ctx, claimKey(provider, transactionID), claimProcessing, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim webhook: %w", err)
	}
	return ok, nil
}

// Complete marks a claimed delivery as done.
func (g *IdempotencyGuard) Complete(ctx context.Context, provider, transactionID string) error {
	if g.client == nil || transactionID == "" {
		return nil
	}
	if err := g.client.Set(ctx, claimKey(provider, transactionID), claimCompleted, g.ttl).Err(); err != nil {
		return fmt.Errorf("failed to complete webhook claim: %w", err)
	}
	return nil
}

// Release drops a claim so the provider's retry is processed again.
func (g *IdempotencyGuard) Release(ctx context.Context, provider, transactionID string) error {
	if g.client == nil || transactionID == "" {
		return nil
	}
	if err := g.client.Del(ctx, claimKey(provider, transactionID)).Err(); err != nil {
		return fmt.Errorf("failed to release webhook claim: %w", err)
	}
	return nil
}
