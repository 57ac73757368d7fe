package permissions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/santaserver/santaserver/internal/models"
	"github.com/santaserver/santaserver/pkg/logger"
	"github.com/santaserver/santaserver/pkg/metrics"
)

// Resolver computes a user's effective permissions from direct and group role grants.
// Nothing is cached; every call reads the current assignments.
type Resolver struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewResolver constructs a resolver backed by the provided database.
func NewResolver(db *gorm.DB) (*Resolver, error) {
	if db == nil {
		return nil, errors.New("permission resolver: db is required")
	}
	return &Resolver{db: db, log: logger.WithModule("permissions")}, nil
}

// EffectivePermissions returns the union of every role granted to userID directly or via
// group membership. Stored entries that are not in the registry are skipped.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID string) (Set, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("permission resolver: user id is required")
	}

	direct := r.db.Model(&models.UserRole{}).Select("role_id").Where("user_id = ?", userID)
	viaGroups := r.db.Model(&models.GroupRole{}).
		Select("group_roles.role_id").
		Joins("JOIN user_groups ON user_groups.group_id = group_roles.group_id").
		Where("user_groups.user_id = ?", userID)

	var roles []models.Role
	if err := r.db.WithContext(ctx).
		Where("id IN (?)", direct).
		Or("id IN (?)", viaGroups).
		Find(&roles).Error; err != nil {
		return nil, fmt.Errorf("permission resolver: load roles: %w", err)
	}

	set := NewSet()
	for i := range roles {
		for resource, actions := range FromMap(roles[i].PermissionMap()) {
			for action := range actions {
				if !IsValid(resource, action) {
					r.log.Warn("ignoring unknown permission on role",
						zap.String("role", roles[i].Name),
						zap.String("resource", string(resource)),
						zap.String("action", string(action)))
					continue
				}
				set.Add(resource, action)
			}
		}
	}
	return set, nil
}

// HasPermission reports whether userID holds action on resource.
func (r *Resolver) HasPermission(ctx context.Context, userID string, resource Resource, action Action) (bool, error) {
	set, err := r.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}

	allowed := set.Has(resource, action)
	result := "denied"
	if allowed {
		result = "granted"
	}
	metrics.PermissionChecks.WithLabelValues(string(resource)+":"+string(action), result).Inc()
	return allowed, nil
}
