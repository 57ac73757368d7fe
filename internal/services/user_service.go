package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/santaserver/santaserver/internal/auth"
	"github.com/santaserver/santaserver/internal/database"
	"github.com/santaserver/santaserver/internal/models"
	apperrors "github.com/santaserver/santaserver/pkg/errors"
)

// Status filter values accepted by List.
const (
	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
	UserStatusAll      = "all"
)

// CreateUserInput describes the fields accepted when creating a user.
type CreateUserInput struct {
	Username     string
	Email        string
	Password     string
	UserType     models.UserType
	ExternalID   string
	ProviderName string
	FirstName    string
	LastName     string
	DisplayName  string
	Department   string
	Title        string
	Phone        string
	// Roles lists role names; the baseline user role is assigned when empty.
	Roles []string
}

// UpdateUserInput enumerates mutable user attributes. Nil fields are left unchanged.
type UpdateUserInput struct {
	Email       *string
	FirstName   *string
	LastName    *string
	DisplayName *string
	Department  *string
	Title       *string
	Phone       *string
	IsActive    *bool
}

// UserFilters captures listing filters.
type UserFilters struct {
	// Status is active (default), inactive or all.
	Status   string
	UserType models.UserType
	Search   string
}

// ListUsersOptions controls pagination for user listing.
type ListUsersOptions struct {
	Page    int
	PerPage int
	Filters UserFilters
}

// UserView is a user together with the names of its direct roles.
type UserView struct {
	models.User
	Roles []string `json:"roles"`
}

// UserService manages the administrative user lifecycle. Users are never hard-deleted.
type UserService struct {
	db       *gorm.DB
	policy   auth.PasswordPolicy
	sessions *auth.SessionService
	audit    *AuditService
	now      func() time.Time
}

// NewUserService constructs a UserService instance.
func NewUserService(db *gorm.DB, policy auth.PasswordPolicy, sessions *auth.SessionService, audit *AuditService, clock func() time.Time) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	if sessions == nil {
		return nil, errors.New("user service: session service is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &UserService{db: db, policy: policy, sessions: sessions, audit: audit, now: clock}, nil
}

// Create provisions a user. Local users need a password that passes the policy.
func (s *UserService) Create(ctx context.Context, input CreateUserInput) (*UserView, error) {
	ctx = ensureContext(ctx)

	username := strings.TrimSpace(input.Username)
	email := strings.ToLower(strings.TrimSpace(input.Email))
	userType := input.UserType
	if userType == "" {
		userType = models.UserTypeLocal
	}
	if !userType.Valid() {
		return nil, apperrors.NewValidation("", apperrors.FieldError{Field: "user_type", Message: "must be one of local, sso, scim"})
	}

	now := s.now().UTC()
	user := &models.User{
		Username:    username,
		Email:       email,
		UserType:    userType,
		FirstName:   strings.TrimSpace(input.FirstName),
		LastName:    strings.TrimSpace(input.LastName),
		DisplayName: strings.TrimSpace(input.DisplayName),
		Department:  strings.TrimSpace(input.Department),
		Title:       strings.TrimSpace(input.Title),
		Phone:       strings.TrimSpace(input.Phone),
		IsActive:    true,
	}
	user.CreatedBy = actorRef(ctx)
	user.UpdatedBy = user.CreatedBy

	if userType == models.UserTypeLocal {
		if input.Password == "" {
			return nil, apperrors.NewValidation("", apperrors.FieldError{Field: "password", Message: "password is required for local users"})
		}
		if violations := s.policy.Validate(input.Password); len(violations) > 0 {
			return nil, policyValidationError("password", violations)
		}
		digest, err := s.policy.Hash(input.Password)
		if err != nil {
			return nil, apperrors.ErrInternalServer.WithInternal(err)
		}
		expires := s.policy.ExpiresAt(now)
		user.PasswordHash = &digest
		user.PasswordExpiresAt = &expires
		user.PasswordChangedAt = &now
	} else {
		if input.Password != "" {
			return nil, apperrors.NewValidation("", apperrors.FieldError{Field: "password", Message: "external users cannot have a password"})
		}
		externalID := strings.TrimSpace(input.ExternalID)
		providerName := strings.TrimSpace(input.ProviderName)
		if externalID == "" || providerName == "" {
			return nil, apperrors.NewValidation("", apperrors.FieldError{Field: "external_id", Message: "external users require external_id and provider_name"})
		}
		user.ExternalID = &externalID
		user.ProviderName = &providerName
		user.IsProvisioned = true
	}

	roleNames := normaliseIDs(input.Roles)
	if len(roleNames) == 0 {
		roleNames = []string{database.UserRoleName}
	}

	var roles []models.Role
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkIdentityAvailable(tx, "", username, email); err != nil {
			return err
		}

		var err error
		roles, err = rolesByName(tx, roleNames)
		if err != nil {
			return err
		}

		if err := tx.Create(user).Error; err != nil {
			if isUniqueConstraintError(err) {
				return apperrors.NewConflict("Username or email already registered")
			}
			return err
		}
		return assignRoles(tx, user.ID, roles, user.CreatedBy, now)
	})
	if err != nil {
		return nil, asAppError(err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:    derefOr(user.CreatedBy, user.ID),
		EventType: EventUserCreated,
		Success:   true,
		Details: map[string]any{
			"target_user_id": user.ID,
			"username":       user.Username,
			"user_type":      string(user.UserType),
			"roles":          roleNamesOf(roles),
		},
	})

	return &UserView{User: *user, Roles: roleNamesOf(roles)}, nil
}

// List returns users filtered by status, type and a free-text search over username,
// email and names.
func (s *UserService) List(ctx context.Context, opts ListUsersOptions) ([]UserView, int64, error) {
	ctx = ensureContext(ctx)
	page, perPage := normalisePage(opts.Page, opts.PerPage)

	query := s.db.WithContext(ctx).Model(&models.User{})
	switch strings.ToLower(strings.TrimSpace(opts.Filters.Status)) {
	case UserStatusAll:
	case UserStatusInactive:
		query = query.Where("is_active = ?", false)
	default:
		query = query.Where("is_active = ?", true)
	}
	if opts.Filters.UserType != "" {
		query = query.Where("user_type = ?", opts.Filters.UserType)
	}
	if term := strings.ToLower(strings.TrimSpace(opts.Filters.Search)); term != "" {
		like := "%" + term + "%"
		query = query.Where(
			"LOWER(username) LIKE ? OR LOWER(email) LIKE ? OR LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ? OR LOWER(display_name) LIKE ?",
			like, like, like, like, like,
		)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("user service: count users: %w", err))
	}

	var users []models.User
	if err := query.
		Order("username ASC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&users).Error; err != nil {
		return nil, 0, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("user service: list users: %w", err))
	}

	views, err := s.withRoles(ctx, users)
	if err != nil {
		return nil, 0, err
	}
	return views, total, nil
}

// Get returns one user by id, active or not.
func (s *UserService) Get(ctx context.Context, id string) (*UserView, error) {
	ctx = ensureContext(ctx)

	user, err := s.find(s.db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	views, err := s.withRoles(ctx, []models.User{*user})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// Update applies a partial update. Setting IsActive to false follows the deactivation path.
func (s *UserService) Update(ctx context.Context, id string, input UpdateUserInput) (*UserView, error) {
	ctx = ensureContext(ctx)
	actor := actorRef(ctx)

	if input.IsActive != nil && !*input.IsActive && actor != nil && *actor == id {
		return nil, ErrSelfDeactivation
	}

	var (
		changed     []string
		revoked     []models.Session
		deactivated bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.find(tx, id)
		if err != nil {
			return err
		}

		updates := map[string]any{}
		if input.Email != nil {
			email := strings.ToLower(strings.TrimSpace(*input.Email))
			if email == "" {
				return apperrors.NewValidation("", apperrors.FieldError{Field: "email", Message: "email cannot be empty"})
			}
			if email != user.Email {
				if err := checkIdentityAvailable(tx, user.ID, "", email); err != nil {
					return err
				}
				updates["email"] = email
			}
		}
		setIfPresent(updates, "first_name", input.FirstName)
		setIfPresent(updates, "last_name", input.LastName)
		setIfPresent(updates, "display_name", input.DisplayName)
		setIfPresent(updates, "department", input.Department)
		setIfPresent(updates, "title", input.Title)
		setIfPresent(updates, "phone", input.Phone)

		if input.IsActive != nil && *input.IsActive != user.IsActive {
			updates["is_active"] = *input.IsActive
			if *input.IsActive {
				updates["failed_login_attempts"] = 0
				updates["locked_until"] = nil
			}
		}

		if len(updates) == 0 {
			return nil
		}
		for field := range updates {
			changed = append(changed, field)
		}
		updates["updated_by"] = actor

		if err := tx.Model(&models.User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
			if isUniqueConstraintError(err) {
				return ErrEmailTaken
			}
			return err
		}

		if input.IsActive != nil && !*input.IsActive && user.IsActive {
			deactivated = true
			revoked, err = s.sessions.RevokeUserSessionsTx(tx, user.ID, auth.RevokeReasonUserDeactivated, "")
			return err
		}
		return nil
	})
	if err != nil {
		return nil, asAppError(err)
	}

	s.sessions.PublishRevocations(ctx, revoked)
	if len(changed) > 0 {
		event := EventUserUpdated
		if deactivated {
			event = EventUserDeactivated
		}
		recordAudit(s.audit, ctx, AuditEntry{
			UserID:    derefOr(actor, id),
			EventType: event,
			Success:   true,
			Details: map[string]any{
				"target_user_id":   id,
				"fields":           sortedStrings(changed),
				"sessions_revoked": len(revoked),
			},
		})
	}

	return s.Get(ctx, id)
}

// Deactivate soft-deletes a user and revokes their sessions in the same transaction.
// Deactivating an inactive user succeeds without changes.
func (s *UserService) Deactivate(ctx context.Context, id string) (*UserView, error) {
	ctx = ensureContext(ctx)
	actor := actorRef(ctx)
	if actor != nil && *actor == id {
		return nil, ErrSelfDeactivation
	}

	var (
		revoked []models.Session
		changed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.find(tx, id)
		if err != nil {
			return err
		}
		if !user.IsActive {
			return nil
		}

		result := tx.Model(&models.User{}).
			Where("id = ? AND is_active = ?", user.ID, true).
			Updates(map[string]any{"is_active": false, "updated_by": actor})
		if result.Error != nil {
			return result.Error
		}
		changed = result.RowsAffected > 0

		revoked, err = s.sessions.RevokeUserSessionsTx(tx, user.ID, auth.RevokeReasonUserDeactivated, "")
		return err
	})
	if err != nil {
		return nil, asAppError(err)
	}

	s.sessions.PublishRevocations(ctx, revoked)
	if changed {
		recordAudit(s.audit, ctx, AuditEntry{
			UserID:    derefOr(actor, id),
			EventType: EventUserDeactivated,
			Success:   true,
			Details: map[string]any{
				"target_user_id":   id,
				"sessions_revoked": len(revoked),
			},
		})
	}

	return s.Get(ctx, id)
}

// AssignRoles replaces the user's direct roles with the named roles.
func (s *UserService) AssignRoles(ctx context.Context, id string, roleNames []string) (*UserView, error) {
	ctx = ensureContext(ctx)
	actor := actorRef(ctx)
	names := normaliseIDs(roleNames)

	var roles []models.Role
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.find(tx, id)
		if err != nil {
			return err
		}
		roles, err = rolesByName(tx, names)
		if err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.UserRole{}).Error; err != nil {
			return err
		}
		return assignRoles(tx, user.ID, roles, actor, s.now().UTC())
	})
	if err != nil {
		return nil, asAppError(err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:    derefOr(actor, id),
		EventType: EventRoleAssigned,
		Success:   true,
		Details: map[string]any{
			"target_user_id": id,
			"roles":          roleNamesOf(roles),
		},
	})
	return s.Get(ctx, id)
}

// find loads the user inside tx and holds its row lock until tx ends, serialising with
// session rotation which locks the same row.
func (s *UserService) find(tx *gorm.DB, id string) (*models.User, error) {
	var user models.User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&user, "id = ?", strings.TrimSpace(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: find user: %w", err)
	}
	return &user, nil
}

func (s *UserService) withRoles(ctx context.Context, users []models.User) ([]UserView, error) {
	views := make([]UserView, len(users))
	if len(users) == 0 {
		return views, nil
	}

	ids := make([]string, len(users))
	index := make(map[string]int, len(users))
	for i, user := range users {
		ids[i] = user.ID
		index[user.ID] = i
		views[i] = UserView{User: user, Roles: []string{}}
	}

	var rows []struct {
		UserID string
		Name   string
	}
	if err := s.db.WithContext(ctx).
		Table("user_roles").
		Select("user_roles.user_id AS user_id, roles.name AS name").
		Joins("JOIN roles ON roles.id = user_roles.role_id").
		Where("user_roles.user_id IN ?", ids).
		Order("roles.name").
		Scan(&rows).Error; err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("user service: load roles: %w", err))
	}
	for _, row := range rows {
		i := index[row.UserID]
		views[i].Roles = append(views[i].Roles, row.Name)
	}
	return views, nil
}

// checkIdentityAvailable reports a 409 when username or email is held by a different user.
func checkIdentityAvailable(tx *gorm.DB, exceptID, username, email string) error {
	if username != "" {
		var count int64
		query := tx.Model(&models.User{}).Where("LOWER(username) = ?", strings.ToLower(username))
		if exceptID != "" {
			query = query.Where("id <> ?", exceptID)
		}
		if err := query.Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrUsernameTaken
		}
	}
	if email != "" {
		var count int64
		query := tx.Model(&models.User{}).Where("LOWER(email) = ?", strings.ToLower(email))
		if exceptID != "" {
			query = query.Where("id <> ?", exceptID)
		}
		if err := query.Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrEmailTaken
		}
	}
	return nil
}

func rolesByName(tx *gorm.DB, names []string) ([]models.Role, error) {
	if len(names) == 0 {
		return nil, nil
	}
	var roles []models.Role
	if err := tx.Where("name IN ?", names).Order("name").Find(&roles).Error; err != nil {
		return nil, err
	}
	if len(roles) != len(names) {
		found := make(map[string]struct{}, len(roles))
		for _, role := range roles {
			found[role.Name] = struct{}{}
		}
		var missing []string
		for _, name := range names {
			if _, ok := found[name]; !ok {
				missing = append(missing, name)
			}
		}
		return nil, apperrors.NewValidation("", apperrors.FieldError{
			Field:   "roles",
			Message: "unknown roles: " + strings.Join(missing, ", "),
		})
	}
	return roles, nil
}

func assignRoles(tx *gorm.DB, userID string, roles []models.Role, by *string, at time.Time) error {
	for _, role := range roles {
		link := models.UserRole{UserID: userID, RoleID: role.ID, AssignedAt: at, AssignedBy: by}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error; err != nil {
			return err
		}
	}
	return nil
}

func roleNamesOf(roles []models.Role) []string {
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}
	return names
}

func derefOr(value *string, fallback string) string {
	if value == nil || *value == "" {
		return fallback
	}
	return *value
}

// asAppError passes AppErrors through and wraps everything else as a 500.
func asAppError(err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperrors.ErrInternalServer.WithInternal(err)
}
