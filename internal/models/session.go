package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session tracks one issued access/refresh token pair.
type Session struct {
	ID               string     `gorm:"primaryKey;size:36" json:"id"`
	UserID           string     `gorm:"size:36;not null;index" json:"user_id"`
	AccessJTI        string     `gorm:"size:64;uniqueIndex;not null" json:"-"`
	RefreshJTI       *string    `gorm:"size:64;uniqueIndex" json:"-"`
	AccessExpiresAt  time.Time  `gorm:"not null;index" json:"access_expires_at"`
	RefreshExpiresAt *time.Time `gorm:"index" json:"refresh_expires_at,omitempty"`
	IPAddress        string     `gorm:"size:45" json:"ip_address"`
	UserAgent        string     `gorm:"size:512" json:"user_agent"`
	Revoked          bool       `gorm:"not null;index" json:"revoked"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	RevokedReason    string     `gorm:"size:100" json:"revoked_reason,omitempty"`
	ReplacedByID     *string    `gorm:"size:36" json:"replaced_by_id,omitempty"`
	LastUsedAt       time.Time  `json:"last_used_at"`
	CreatedAt        time.Time  `json:"created_at"`
}

// BeforeCreate assigns a UUID when the caller did not.
func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}
