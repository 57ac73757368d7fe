package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/santaserver/santaserver/internal/models"
)

// BootstrapAdmin describes the first administrator account.
type BootstrapAdmin struct {
	Username          string
	Email             string
	PasswordHash      string
	PasswordExpiresAt time.Time
	Now               time.Time
}

// EnsureBootstrapAdmin inserts the administrator when no user holds the username or
// email yet and grants it the admin role. The insert relies on the unique constraints,
// so concurrent starts create at most one row. created reports whether this call
// inserted the account.
func EnsureBootstrapAdmin(ctx context.Context, db *gorm.DB, admin BootstrapAdmin) (user *models.User, created bool, err error) {
	if db == nil {
		return nil, false, errors.New("bootstrap admin: db is required")
	}
	username := strings.TrimSpace(admin.Username)
	email := strings.ToLower(strings.TrimSpace(admin.Email))
	if username == "" || email == "" || admin.PasswordHash == "" {
		return nil, false, errors.New("bootstrap admin: username, email and password are required")
	}

	now := admin.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	hash := admin.PasswordHash
	expires := admin.PasswordExpiresAt

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		candidate := &models.User{
			Username:          username,
			Email:             email,
			UserType:          models.UserTypeLocal,
			PasswordHash:      &hash,
			PasswordExpiresAt: &expires,
			PasswordChangedAt: &now,
			DisplayName:       "System Administrator",
			IsActive:          true,
		}

		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(candidate)
		if result.Error != nil {
			return fmt.Errorf("insert admin: %w", result.Error)
		}

		if result.RowsAffected == 0 {
			var existing models.User
			if err := tx.Where("username = ? OR email = ?", username, email).Take(&existing).Error; err != nil {
				return fmt.Errorf("load existing admin: %w", err)
			}
			user = &existing
			return nil
		}

		var role models.Role
		if err := tx.Where("name = ?", AdminRoleName).Take(&role).Error; err != nil {
			return fmt.Errorf("load admin role: %w", err)
		}
		if err := tx.Create(&models.UserRole{
			UserID:     candidate.ID,
			RoleID:     role.ID,
			AssignedAt: now,
		}).Error; err != nil {
			return fmt.Errorf("assign admin role: %w", err)
		}

		user = candidate
		created = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("bootstrap admin: %w", err)
	}
	return user, created, nil
}
