package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TransactionStatus is the settlement state recorded for a payment
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
	TransactionRefunded  TransactionStatus = "refunded"
)

// Transaction is an append-only audit record of a payment. SubscriptionID
// is nil when the payment could not be tied to a subscription.
type Transaction struct {
	ID                    uuid.UUID         `json:"id" gorm:"type:uuid;primaryKey"`
	UserID                string            `json:"user_id" gorm:"type:varchar(64);not null;index"`
	SubscriptionID        *uuid.UUID        `json:"subscription_id" gorm:"type:uuid;index"`
	Amount                decimal.Decimal   `json:"amount" gorm:"type:numeric(12,2);not null"`
	Currency              string            `json:"currency" gorm:"type:varchar(3);not null;default:'BRL'"`
	PaymentMethod         string            `json:"payment_method" gorm:"type:varchar(30)"`
	PaymentProvider       string            `json:"payment_provider" gorm:"type:varchar(30);not null"`
	ProviderTransactionID *string           `json:"provider_transaction_id" gorm:"type:varchar(191);index"`
	Status                TransactionStatus `json:"status" gorm:"type:varchar(20);not null"`
	Metadata              datatypes.JSON    `json:"metadata"`
	CreatedAt             time.Time         `json:"created_at"`
}

func (t *Transaction) TableName() string { return "transactions" }

func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
