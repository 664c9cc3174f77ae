package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Minimalist03/fediversaopuzzle/internal/models"
)

// WebhookEventRepository records accepted webhook deliveries.
type WebhookEventRepository struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

func (r *WebhookEventRepository) Create(ctx context.Context, event *models.WebhookEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to store webhook event: %w", err)
	}
	return nil
}

// MarkProcessed stamps the outcome of processing. An empty processingErr
// means success.
func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, id uuid.UUID, processingErr string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processing_error": processingErr,
			"processed_at":     at,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByEmail returns deliveries for email, newest first.
func (r *WebhookEventRepository) ListByEmail(ctx context.Context, email string, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	q := r.db.WithContext(ctx).Where("email = ?", email).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list webhook events: %w", err)
	}
	return events, nil
}
