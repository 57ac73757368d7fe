package models

import (
	"time"

	"gorm.io/datatypes"
)

// PermissionMap maps a resource name to the actions granted on it.
type PermissionMap map[string][]string

// Role is a named permission bundle.
type Role struct {
	BaseModel
	ActorRefs

	Name         string                            `gorm:"size:100;uniqueIndex;not null" json:"name"`
	DisplayName  string                            `gorm:"size:200;not null" json:"display_name"`
	Description  string                            `json:"description"`
	Permissions  datatypes.JSONType[PermissionMap] `json:"permissions"`
	IsSystemRole bool                              `gorm:"not null" json:"is_system_role"`
}

// PermissionMap returns the stored permissions, never nil.
func (r *Role) PermissionMap() PermissionMap {
	perms := r.Permissions.Data()
	if perms == nil {
		return PermissionMap{}
	}
	return perms
}

// UserRole assigns a role directly to a user.
type UserRole struct {
	UserID     string    `gorm:"primaryKey;size:36" json:"user_id"`
	RoleID     string    `gorm:"primaryKey;size:36;index" json:"role_id"`
	AssignedAt time.Time `gorm:"not null" json:"assigned_at"`
	AssignedBy *string   `gorm:"size:36" json:"assigned_by,omitempty"`
}

// GroupRole assigns a role to every member of a group.
type GroupRole struct {
	GroupID    string    `gorm:"primaryKey;size:36" json:"group_id"`
	RoleID     string    `gorm:"primaryKey;size:36;index" json:"role_id"`
	AssignedAt time.Time `gorm:"not null" json:"assigned_at"`
	AssignedBy *string   `gorm:"size:36" json:"assigned_by,omitempty"`
}
