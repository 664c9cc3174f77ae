// Package repository persists subscriptions, transactions and webhook
// audit rows with gorm.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Minimalist03/fediversaopuzzle/internal/models"
)

var ErrNotFound = errors.New("repository: record not found")

// SubscriptionRepository stores one subscription row per user.
type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// UpsertActive activates sub for its user. An existing row for the user is
// refreshed in place: plan, window and email are overwritten and any
// cancellation is cleared.
func (r *SubscriptionRepository) UpsertActive(ctx context.Context, sub *models.Subscription) (*models.Subscription, error) {
	sub.Status = models.SubscriptionActive
	sub.CancelledAt = nil

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"email", "status", "plan_type", "started_at", "expires_at", "cancelled_at", "updated_at",
		}),
	}).Create(sub).Error
	if err != nil {
		return nil, fmt.Errorf("failed to upsert subscription: %w", err)
	}

	var stored models.Subscription
	if err := r.db.WithContext(ctx).Where("user_id = ?", sub.UserID).First(&stored).Error; err != nil {
		return nil, fmt.Errorf("failed to reload subscription: %w", err)
	}
	return &stored, nil
}

// UpdateStatusByEmail sets status on every subscription for email and
// returns how many rows changed. Cancellation also stamps cancelled_at.
func (r *SubscriptionRepository) UpdateStatusByEmail(ctx context.Context, email string, status models.SubscriptionStatus, at time.Time) (int64, error) {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": at,
	}
	if status == models.SubscriptionCancelled {
		updates["cancelled_at"] = at
	}

	result := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("email = ?", email).
		Updates(updates)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to update subscription status: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// FindLatestByEmail returns the most recently updated subscription for
// email.
func (r *SubscriptionRepository) FindLatestByEmail(ctx context.Context, email string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("email = ?", email).
		Order("updated_at DESC").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}
	return &sub, nil
}
