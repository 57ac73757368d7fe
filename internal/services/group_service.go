package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/santaserver/santaserver/internal/models"
	apperrors "github.com/santaserver/santaserver/pkg/errors"
)

// CreateGroupInput describes a new group.
type CreateGroupInput struct {
	Name         string
	DisplayName  string
	Description  string
	SourceType   models.GroupSource
	ExternalID   string
	ProviderName string
}

// GroupView is a group with its member count and role names.
type GroupView struct {
	models.Group
	MemberCount int64    `json:"member_count"`
	Roles       []string `json:"roles"`
}

// GroupService manages groups, memberships and group role grants.
type GroupService struct {
	db    *gorm.DB
	audit *AuditService
	now   func() time.Time
}

// NewGroupService constructs a GroupService.
func NewGroupService(db *gorm.DB, audit *AuditService, clock func() time.Time) (*GroupService, error) {
	if db == nil {
		return nil, errors.New("group service: db is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &GroupService{db: db, audit: audit, now: clock}, nil
}

// Create stores a group. Local groups must not carry external identifiers and external
// groups must carry both.
func (s *GroupService) Create(ctx context.Context, input CreateGroupInput) (*GroupView, error) {
	ctx = ensureContext(ctx)

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.NewValidation("", apperrors.FieldError{Field: "name", Message: "name is required"})
	}
	source := input.SourceType
	if source == "" {
		source = models.GroupSourceLocal
	}

	group := &models.Group{
		Name:        name,
		DisplayName: strings.TrimSpace(input.DisplayName),
		Description: strings.TrimSpace(input.Description),
		SourceType:  source,
	}
	if group.DisplayName == "" {
		group.DisplayName = name
	}
	if v := strings.TrimSpace(input.ExternalID); v != "" {
		group.ExternalID = stringPtr(v)
	}
	if v := strings.TrimSpace(input.ProviderName); v != "" {
		group.ProviderName = stringPtr(v)
	}
	if err := group.Validate(); err != nil {
		return nil, apperrors.NewValidation("", apperrors.FieldError{Field: "source_type", Message: err.Error()})
	}
	group.CreatedBy = actorRef(ctx)
	group.UpdatedBy = group.CreatedBy

	if err := s.db.WithContext(ctx).Create(group).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.NewConflict("Group name already exists")
		}
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("group service: create group: %w", err))
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:    derefOr(group.CreatedBy, ""),
		EventType: EventGroupCreated,
		Success:   true,
		Details: map[string]any{
			"group_id":    group.ID,
			"name":        group.Name,
			"source_type": string(group.SourceType),
		},
	})
	return &GroupView{Group: *group, Roles: []string{}}, nil
}

// List returns every group with member counts and role names.
func (s *GroupService) List(ctx context.Context) ([]GroupView, error) {
	ctx = ensureContext(ctx)

	var groups []models.Group
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&groups).Error; err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("group service: list groups: %w", err))
	}
	views := make([]GroupView, len(groups))
	if len(groups) == 0 {
		return views, nil
	}

	ids := make([]string, len(groups))
	index := make(map[string]int, len(groups))
	for i, group := range groups {
		ids[i] = group.ID
		index[group.ID] = i
		views[i] = GroupView{Group: group, Roles: []string{}}
	}

	var counts []struct {
		GroupID string
		Total   int64
	}
	if err := s.db.WithContext(ctx).
		Model(&models.UserGroup{}).
		Select("group_id, COUNT(*) AS total").
		Where("group_id IN ?", ids).
		Group("group_id").
		Scan(&counts).Error; err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("group service: count members: %w", err))
	}
	for _, row := range counts {
		views[index[row.GroupID]].MemberCount = row.Total
	}

	var roles []struct {
		GroupID string
		Name    string
	}
	if err := s.db.WithContext(ctx).
		Table("group_roles").
		Select("group_roles.group_id AS group_id, roles.name AS name").
		Joins("JOIN roles ON roles.id = group_roles.role_id").
		Where("group_roles.group_id IN ?", ids).
		Order("roles.name").
		Scan(&roles).Error; err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("group service: load roles: %w", err))
	}
	for _, row := range roles {
		i := index[row.GroupID]
		views[i].Roles = append(views[i].Roles, row.Name)
	}
	return views, nil
}

// AddMember adds userID to the group. Adding an existing member succeeds without changes.
func (s *GroupService) AddMember(ctx context.Context, groupID, userID string) error {
	ctx = ensureContext(ctx)
	actor := actorRef(ctx)

	var added bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := findGroup(tx, groupID); err != nil {
			return err
		}
		var user models.User
		if err := tx.Select("id").Take(&user, "id = ?", strings.TrimSpace(userID)).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.UserGroup{
			UserID:   user.ID,
			GroupID:  strings.TrimSpace(groupID),
			JoinedAt: s.now().UTC(),
			AddedBy:  actor,
		})
		if result.Error != nil {
			return result.Error
		}
		added = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		return asAppError(err)
	}

	if added {
		recordAudit(s.audit, ctx, AuditEntry{
			UserID:    derefOr(actor, ""),
			EventType: EventGroupMemberAdded,
			Success:   true,
			Details:   map[string]any{"group_id": groupID, "target_user_id": userID},
		})
	}
	return nil
}

// AssignRole grants the named role to every member of the group.
func (s *GroupService) AssignRole(ctx context.Context, groupID, roleName string) error {
	ctx = ensureContext(ctx)
	actor := actorRef(ctx)
	name := strings.ToLower(strings.TrimSpace(roleName))

	var role models.Role
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		group, err := findGroup(tx, groupID)
		if err != nil {
			return err
		}
		if err := tx.Take(&role, "name = ?", name).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRoleNotFound
			}
			return err
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.GroupRole{
			GroupID:    group.ID,
			RoleID:     role.ID,
			AssignedAt: s.now().UTC(),
			AssignedBy: actor,
		}).Error
	})
	if err != nil {
		return asAppError(err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:    derefOr(actor, ""),
		EventType: EventGroupRoleAssigned,
		Success:   true,
		Details:   map[string]any{"group_id": groupID, "role": role.Name},
	})
	return nil
}

func findGroup(tx *gorm.DB, id string) (*models.Group, error) {
	var group models.Group
	err := tx.Take(&group, "id = ?", strings.TrimSpace(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, err
	}
	return &group, nil
}
