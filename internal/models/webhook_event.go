package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// WebhookEvent stores each accepted provider delivery with its
// classification and processing outcome.
type WebhookEvent struct {
	ID                    uuid.UUID             `json:"id" gorm:"type:uuid;primaryKey"`
	Provider              string                `json:"provider" gorm:"type:varchar(30);not null;index"`
	ProviderTransactionID string                `json:"provider_transaction_id" gorm:"type:varchar(191);index"`
	Email                 string                `json:"email" gorm:"type:varchar(255);index"`
	RawStatus             string                `json:"raw_status" gorm:"type:varchar(100)"`
	Classification        PaymentClassification `json:"classification" gorm:"type:varchar(20);not null"`
	Payload               datatypes.JSON        `json:"payload"`
	ProcessingError       string                `json:"processing_error" gorm:"type:text"`
	ProcessedAt           *time.Time            `json:"processed_at,omitempty"`
	CreatedAt             time.Time             `json:"created_at"`
}

func (w *WebhookEvent) TableName() string { return "webhook_events" }

func (w *WebhookEvent) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}

// All returns every persisted model, in dependency order.
func All() []interface{} {
	return []interface{}{
		&UserIdentity{},
		&PasswordReset{},
		&Subscription{},
		&Transaction{},
		&WebhookEvent{},
	}
}
