package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserIdentity is the account a buyer signs in with. Emails are unique.
type UserIdentity struct {
	ID               string     `json:"id" gorm:"type:varchar(64);primaryKey"`
	Email            string     `json:"email" gorm:"type:varchar(255);not null;uniqueIndex"`
	FullName         string     `json:"full_name" gorm:"type:varchar(255)"`
	Phone            string     `json:"phone" gorm:"type:varchar(50)"`
	PasswordHash     string     `json:"-" gorm:"type:text"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// PasswordReset is a single-use credential recovery token. Only the SHA-256
// of the token is stored.
type PasswordReset struct {
	ID        uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	UserID    string     `json:"user_id" gorm:"type:varchar(64);not null;index"`
	TokenHash string     `json:"-" gorm:"type:varchar(64);not null;uniqueIndex"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func (u *UserIdentity) TableName() string  { return "users" }
func (p *PasswordReset) TableName() string { return "password_resets" }

func (u *UserIdentity) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

func (p *PasswordReset) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
