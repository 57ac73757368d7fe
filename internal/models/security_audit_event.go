package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrAuditImmutable is returned when code attempts to change a written audit event.
var ErrAuditImmutable = errors.New("audit: events are append-only")

// SecurityAuditEvent is an append-only record of a security relevant event.
type SecurityAuditEvent struct {
	ID            string            `gorm:"primaryKey;size:36" json:"id"`
	UserID        *string           `gorm:"size:36;index" json:"user_id,omitempty"`
	EventType     string            `gorm:"size:50;not null;index" json:"event_type"`
	EventDetails  datatypes.JSONMap `json:"event_details,omitempty"`
	IPAddress     string            `gorm:"size:45" json:"ip_address,omitempty"`
	UserAgent     string            `gorm:"size:512" json:"user_agent,omitempty"`
	Success       bool              `gorm:"not null;index" json:"success"`
	FailureReason string            `gorm:"size:255" json:"failure_reason,omitempty"`
	Timestamp     time.Time         `gorm:"not null;index" json:"timestamp"`
}

// BeforeCreate assigns a UUID when the caller did not.
func (e *SecurityAuditEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// BeforeUpdate refuses every update.
func (e *SecurityAuditEvent) BeforeUpdate(tx *gorm.DB) error {
	return ErrAuditImmutable
}

// BeforeDelete refuses every delete.
func (e *SecurityAuditEvent) BeforeDelete(tx *gorm.DB) error {
	return ErrAuditImmutable
}
