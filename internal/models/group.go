package models

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// GroupSource tells where a group is managed.
type GroupSource string

const (
	GroupSourceLocal GroupSource = "local"
	GroupSourceSSO   GroupSource = "sso"
	GroupSourceSCIM  GroupSource = "scim"
)

var (
	errLocalGroupExternal   = errors.New("group: local groups cannot carry external identifiers")
	errExternalGroupMissing = errors.New("group: external groups require an external id and provider")
	errUnknownGroupSource   = errors.New("group: unknown source type")
)

// Group is a named collection of users that carries roles.
type Group struct {
	BaseModel
	ActorRefs

	Name         string      `gorm:"size:100;uniqueIndex;not null" json:"name"`
	DisplayName  string      `gorm:"size:200;not null" json:"display_name"`
	Description  string      `json:"description"`
	SourceType   GroupSource `gorm:"size:20;not null" json:"source_type"`
	ExternalID   *string     `gorm:"size:255;index" json:"external_id,omitempty"`
	ProviderName *string     `gorm:"size:100" json:"provider_name,omitempty"`
	LastSyncAt   *time.Time  `json:"last_sync_at,omitempty"`
}

// Validate enforces the source/external identifier invariant.
func (g *Group) Validate() error {
	switch g.SourceType {
	case GroupSourceLocal:
		if g.ExternalID != nil || g.ProviderName != nil {
			return errLocalGroupExternal
		}
	case GroupSourceSSO, GroupSourceSCIM:
		if g.ExternalID == nil || strings.TrimSpace(*g.ExternalID) == "" ||
			g.ProviderName == nil || strings.TrimSpace(*g.ProviderName) == "" {
			return errExternalGroupMissing
		}
	default:
		return errUnknownGroupSource
	}
	return nil
}

// BeforeCreate assigns the id and validates the source invariant.
func (g *Group) BeforeCreate(tx *gorm.DB) error {
	if err := g.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return g.Validate()
}

// UserGroup records membership of a user in a group.
type UserGroup struct {
	UserID   string    `gorm:"primaryKey;size:36" json:"user_id"`
	GroupID  string    `gorm:"primaryKey;size:36;index" json:"group_id"`
	JoinedAt time.Time `gorm:"not null" json:"joined_at"`
	AddedBy  *string   `gorm:"size:36" json:"added_by,omitempty"`
}
