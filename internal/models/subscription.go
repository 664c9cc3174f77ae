package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SubscriptionStatus is the lifecycle state of a subscription
type SubscriptionStatus string

const (
	SubscriptionPending   SubscriptionStatus = "pending"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Subscription grants game access to one user. A user owns at most one
// subscription row; later approvals refresh it in place.
type Subscription struct {
	ID          uuid.UUID          `json:"id" gorm:"type:uuid;primaryKey"`
	UserID      string             `json:"user_id" gorm:"type:varchar(64);not null;uniqueIndex"`
	Email       string             `json:"email" gorm:"type:varchar(255);not null;index"`
	Status      SubscriptionStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending'"`
	PlanType    PlanType           `json:"plan_type" gorm:"type:varchar(20);not null"`
	StartedAt   *time.Time         `json:"started_at"`
	ExpiresAt   *time.Time         `json:"expires_at"`
	CancelledAt *time.Time         `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

func (s *Subscription) TableName() string { return "subscriptions" }

func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// EffectiveStatus reports the status as seen at now: an active row whose
// window has closed is expired.
func (s *Subscription) EffectiveStatus(now time.Time) SubscriptionStatus {
	if s.Status == SubscriptionActive && s.ExpiresAt != nil && !s.ExpiresAt.After(now) {
		return SubscriptionExpired
	}
	return s.Status
}

// GrantsAccess reports whether the subscription allows play at now.
func (s *Subscription) GrantsAccess(now time.Time) bool {
	return s.EffectiveStatus(now) == SubscriptionActive
}
