package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BaseModel provides shared fields for persistent models. Rows are never soft
// deleted through gorm; deactivation is modelled explicitly where needed.
type BaseModel struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate ensures UUID identifiers are generated automatically.
func (m *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// ActorRefs records who created and last changed a row. The references are weak:
// plain user ids without foreign keys, so the first seeded account can carry nil.
type ActorRefs struct {
	CreatedBy *string `gorm:"size:36" json:"created_by,omitempty"`
	UpdatedBy *string `gorm:"size:36" json:"updated_by,omitempty"`
}
