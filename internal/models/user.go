package models

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// UserType identifies how a user authenticates.
type UserType string

const (
	UserTypeLocal UserType = "local"
	UserTypeSSO   UserType = "sso"
	UserTypeSCIM  UserType = "scim"
)

// Valid reports whether t is a known user type.
func (t UserType) Valid() bool {
	switch t {
	case UserTypeLocal, UserTypeSSO, UserTypeSCIM:
		return true
	default:
		return false
	}
}

var (
	errLocalUserPassword    = errors.New("user: local users require a password hash and expiry")
	errExternalUserPassword = errors.New("user: external users cannot carry a password hash")
	errExternalUserIdentity = errors.New("user: external users require an external id and provider")
	errUnknownUserType      = errors.New("user: unknown user type")
)

// User is the credential store record for an identity.
type User struct {
	BaseModel
	ActorRefs

	Username string   `gorm:"size:100;uniqueIndex;not null" json:"username"`
	Email    string   `gorm:"size:255;uniqueIndex;not null" json:"email"`
	UserType UserType `gorm:"size:20;not null;index" json:"user_type"`

	PasswordHash      *string    `gorm:"size:255" json:"-"`
	PasswordExpiresAt *time.Time `json:"password_expires_at,omitempty"`
	PasswordChangedAt *time.Time `json:"password_changed_at,omitempty"`

	FailedLoginAttempts int        `gorm:"not null" json:"-"`
	LockedUntil         *time.Time `json:"-"`

	// Reserved for external identity providers.
	ExternalID    *string    `gorm:"size:255;index" json:"external_id,omitempty"`
	ProviderName  *string    `gorm:"size:100" json:"provider_name,omitempty"`
	IsProvisioned bool       `gorm:"not null" json:"is_provisioned"`
	LastSyncAt    *time.Time `json:"last_sync_at,omitempty"`

	FirstName   string `gorm:"size:100" json:"first_name"`
	LastName    string `gorm:"size:100" json:"last_name"`
	DisplayName string `gorm:"size:200" json:"display_name"`
	Department  string `gorm:"size:100" json:"department"`
	Title       string `gorm:"size:100" json:"title"`
	Phone       string `gorm:"size:50" json:"phone"`

	IsActive    bool       `gorm:"not null;index" json:"is_active"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	LastLoginIP string     `gorm:"size:45" json:"last_login_ip,omitempty"`
}

// IsLocal reports whether the user authenticates with a local password.
func (u *User) IsLocal() bool {
	return u.UserType == UserTypeLocal
}

// IsLocked reports whether a lockout is in force at now.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

// PasswordExpired reports whether the local password has passed its expiry.
func (u *User) PasswordExpired(now time.Time) bool {
	return u.IsLocal() && u.PasswordExpiresAt != nil && !u.PasswordExpiresAt.After(now)
}

// Validate enforces the local/external credential invariant.
func (u *User) Validate() error {
	switch u.UserType {
	case UserTypeLocal:
		if u.PasswordHash == nil || strings.TrimSpace(*u.PasswordHash) == "" || u.PasswordExpiresAt == nil {
			return errLocalUserPassword
		}
	case UserTypeSSO, UserTypeSCIM:
		if u.PasswordHash != nil {
			return errExternalUserPassword
		}
		if u.ExternalID == nil || strings.TrimSpace(*u.ExternalID) == "" ||
			u.ProviderName == nil || strings.TrimSpace(*u.ProviderName) == "" {
			return errExternalUserIdentity
		}
	default:
		return errUnknownUserType
	}
	return nil
}

// BeforeCreate assigns the id and rejects rows that break the credential invariant.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if err := u.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return u.Validate()
}
