package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/santaserver/santaserver/internal/models"
	"github.com/santaserver/santaserver/internal/permissions"
	apperrors "github.com/santaserver/santaserver/pkg/errors"
)

// CreateRoleInput describes a custom role.
type CreateRoleInput struct {
	Name        string
	DisplayName string
	Description string
	Permissions models.PermissionMap
}

// RoleService manages role definitions.
type RoleService struct {
	db    *gorm.DB
	audit *AuditService
}

// NewRoleService constructs a RoleService.
func NewRoleService(db *gorm.DB, audit *AuditService) (*RoleService, error) {
	if db == nil {
		return nil, errors.New("role service: db is required")
	}
	return &RoleService{db: db, audit: audit}, nil
}

// List returns every role ordered by name.
func (s *RoleService) List(ctx context.Context) ([]models.Role, error) {
	var roles []models.Role
	if err := s.db.WithContext(ensureContext(ctx)).Order("name ASC").Find(&roles).Error; err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("role service: list roles: %w", err))
	}
	return roles, nil
}

// Get returns a role by id.
func (s *RoleService) Get(ctx context.Context, id string) (*models.Role, error) {
	var role models.Role
	err := s.db.WithContext(ensureContext(ctx)).Take(&role, "id = ?", strings.TrimSpace(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("role service: get role: %w", err))
	}
	return &role, nil
}

// Create stores a custom role. Permissions must reference registered resources and actions.
func (s *RoleService) Create(ctx context.Context, input CreateRoleInput) (*models.Role, error) {
	ctx = ensureContext(ctx)

	name := strings.ToLower(strings.TrimSpace(input.Name))
	if name == "" {
		return nil, apperrors.NewValidation("", apperrors.FieldError{Field: "name", Message: "name is required"})
	}
	if err := permissions.Validate(input.Permissions); err != nil {
		return nil, apperrors.NewValidation("Invalid permissions",
			apperrors.FieldError{Field: "permissions", Message: strings.TrimPrefix(err.Error(), permissions.ErrInvalidPermissions.Error()+": ")})
	}

	displayName := strings.TrimSpace(input.DisplayName)
	if displayName == "" {
		displayName = name
	}

	role := &models.Role{
		Name:        name,
		DisplayName: displayName,
		Description: strings.TrimSpace(input.Description),
		Permissions: datatypes.NewJSONType(permissions.Normalise(input.Permissions)),
	}
	role.CreatedBy = actorRef(ctx)
	role.UpdatedBy = role.CreatedBy

	if err := s.db.WithContext(ctx).Create(role).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.NewConflict("Role name already exists")
		}
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("role service: create role: %w", err))
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:    derefOr(role.CreatedBy, ""),
		EventType: EventRoleCreated,
		Success:   true,
		Details: map[string]any{
			"role_id":     role.ID,
			"name":        role.Name,
			"permissions": role.PermissionMap(),
		},
	})
	return role, nil
}
