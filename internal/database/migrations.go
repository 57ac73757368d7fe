package database

import (
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/santaserver/santaserver/internal/models"
)

const (
	// AdminRoleName is the seeded role granted to the bootstrap administrator.
	AdminRoleName = "admin"
	// UserRoleName is the seeded baseline role.
	UserRoleName = "user"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Role{},
		&models.Group{},
		&models.UserRole{},
		&models.UserGroup{},
		&models.GroupRole{},
		&models.Session{},
		&models.SecurityAuditEvent{},
		&models.CacheEntry{},
	)
}

// DefaultRoles returns the system roles seeded on first start.
func DefaultRoles() []models.Role {
	return []models.Role{
		{
			Name:        AdminRoleName,
			DisplayName: "Administrator",
			Description: "Full system administrator access",
			Permissions: datatypes.NewJSONType(models.PermissionMap{
				"users":  {"create", "read", "update", "delete"},
				"groups": {"create", "read", "update", "delete"},
				"roles":  {"create", "read", "update", "delete"},
				"santa":  {"create", "read", "update", "delete", "approve"},
				"system": {"configure", "monitor", "audit"},
			}),
			IsSystemRole: true,
		},
		{
			Name:        UserRoleName,
			DisplayName: "Standard User",
			Description: "Standard user access",
			Permissions: datatypes.NewJSONType(models.PermissionMap{
				"santa":     {"read", "create", "update"},
				"approvals": {"request", "vote"},
				"profile":   {"read", "update"},
			}),
			IsSystemRole: true,
		},
	}
}

// SeedData inserts the system roles when absent. Existing rows are left untouched so
// repeated starts are idempotent.
func SeedData(db *gorm.DB) error {
	for _, role := range DefaultRoles() {
		role := role
		if err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoNothing: true,
		}).Create(&role).Error; err != nil {
			return err
		}
	}
	return nil
}
