package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/santaserver/santaserver/internal/auth"
	"github.com/santaserver/santaserver/internal/auth/providers"
	"github.com/santaserver/santaserver/internal/models"
	"github.com/santaserver/santaserver/internal/permissions"
	apperrors "github.com/santaserver/santaserver/pkg/errors"
	"github.com/santaserver/santaserver/pkg/metrics"
)

// AuthServiceConfig tunes the AuthService.
type AuthServiceConfig struct {
	// KeepCurrentSessionOnChange leaves the caller's session alive after a password change.
	KeepCurrentSessionOnChange bool
	Clock                      func() time.Time
}

// LoginInput is one login attempt.
type LoginInput struct {
	Identifier string
	Password   string
	IPAddress  string
	UserAgent  string
}

// LoginResult carries the issued tokens and the authenticated user.
type LoginResult struct {
	Tokens auth.TokenPair
	User   *models.User
}

// Profile is the caller's view of their own account.
type Profile struct {
	User            *models.User
	Roles           []string
	Permissions     models.PermissionMap
	PasswordExpired bool
}

// UpdateProfileInput lists the profile fields a user may change on their own account.
type UpdateProfileInput struct {
	FirstName   *string
	LastName    *string
	DisplayName *string
	Department  *string
	Title       *string
	Phone       *string
}

// ChangePasswordInput carries a password change request.
type ChangePasswordInput struct {
	UserID          string
	SessionID       string
	CurrentPassword string
	NewPassword     string
}

// AuthService orchestrates the login state machine and the self-service account operations.
type AuthService struct {
	db          *gorm.DB
	provider    *providers.LocalProvider
	sessions    *auth.SessionService
	policy      auth.PasswordPolicy
	resolver    *permissions.Resolver
	audit       *AuditService
	keepCurrent bool
	now         func() time.Time
}

// NewAuthService wires the authentication flow.
func NewAuthService(
	db *gorm.DB,
	provider *providers.LocalProvider,
	sessions *auth.SessionService,
	policy auth.PasswordPolicy,
	resolver *permissions.Resolver,
	audit *AuditService,
	cfg AuthServiceConfig,
) (*AuthService, error) {
	switch {
	case db == nil:
		return nil, errors.New("auth service: db is required")
	case provider == nil:
		return nil, errors.New("auth service: local provider is required")
	case sessions == nil:
		return nil, errors.New("auth service: session service is required")
	case resolver == nil:
		return nil, errors.New("auth service: permission resolver is required")
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &AuthService{
		db:          db,
		provider:    provider,
		sessions:    sessions,
		policy:      policy,
		resolver:    resolver,
		audit:       audit,
		keepCurrent: cfg.KeepCurrentSessionOnChange,
		now:         clock,
	}, nil
}

// AccessTTL exposes the access token lifetime for expires_in.
func (s *AuthService) AccessTTL() time.Duration {
	return s.sessions.AccessTTL()
}

// Login runs lockout check, credential verification and token issuance. Every branch
// writes an audit event before returning.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	ctx = ensureContext(ctx)
	identifier := strings.TrimSpace(input.Identifier)
	base := AuditEntry{
		IPAddress: input.IPAddress,
		UserAgent: input.UserAgent,
		Details:   map[string]any{"username": identifier},
	}

	outcome, err := s.provider.Authenticate(ctx, providers.AuthenticateInput{
		Identifier: identifier,
		Password:   input.Password,
		IPAddress:  input.IPAddress,
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("error").Inc()
		entry := base
		entry.EventType = EventLoginFailed
		entry.FailureReason = "internal_error"
		recordAudit(s.audit, ctx, entry)
		return nil, apperrors.ErrInternalServer.WithInternal(err)
	}

	entry := base
	if outcome.User != nil {
		entry.UserID = outcome.User.ID
	}

	switch outcome.Kind {
	case providers.OutcomeAccountLocked:
		metrics.AuthAttempts.WithLabelValues("locked").Inc()
		entry.EventType = EventLoginBlockedLocked
		entry.FailureReason = providers.ReasonAccountLocked
		if outcome.LockedUntil != nil {
			entry.Details["locked_until"] = outcome.LockedUntil.UTC().Format(time.RFC3339)
		}
		recordAudit(s.audit, ctx, entry)
		return nil, apperrors.ErrAccountLocked

	case providers.OutcomeBadCredentials, providers.OutcomeAccountInactive:
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		entry.EventType = EventLoginFailed
		entry.FailureReason = outcome.Reason
		if outcome.Reason == providers.ReasonInvalidPassword {
			entry.Details["failed_attempts"] = outcome.FailedAttempts
		}
		recordAudit(s.audit, ctx, entry)

		if outcome.LockedNow {
			lockEntry := base
			lockEntry.UserID = entry.UserID
			lockEntry.EventType = EventAccountLocked
			lockEntry.Details = map[string]any{
				"failed_attempts": outcome.FailedAttempts,
			}
			if outcome.LockedUntil != nil {
				lockEntry.Details["locked_until"] = outcome.LockedUntil.UTC().Format(time.RFC3339)
			}
			recordAudit(s.audit, ctx, lockEntry)
		}
		return nil, apperrors.ErrInvalidCredentials

	case providers.OutcomeSuccess:
	default:
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("auth service: unexpected outcome %s", outcome.Kind))
	}

	user := outcome.User
	tokens, session, err := s.sessions.CreateSession(ctx, user, auth.SessionMetadata{
		IPAddress: input.IPAddress,
		UserAgent: input.UserAgent,
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("error").Inc()
		entry.EventType = EventLoginFailed
		entry.FailureReason = "session_error"
		recordAudit(s.audit, ctx, entry)
		return nil, apperrors.ErrInternalServer.WithInternal(err)
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	entry.EventType = EventLoginSuccessful
	entry.Success = true
	entry.Details["session_id"] = session.ID
	if user.PasswordExpired(s.now()) {
		entry.Details["password_expired"] = true
	}
	recordAudit(s.audit, ctx, entry)
	recordAudit(s.audit, ctx, AuditEntry{
		UserID:    user.ID,
		EventType: EventSessionCreated,
		Success:   true,
		IPAddress: input.IPAddress,
		UserAgent: input.UserAgent,
		Details:   map[string]any{"session_id": session.ID},
	})

	return &LoginResult{Tokens: tokens, User: user}, nil
}

// Refresh rotates a refresh token. All failures surface as 401.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, meta auth.SessionMetadata) (auth.TokenPair, error) {
	ctx = ensureContext(ctx)

	tokens, session, err := s.sessions.RefreshSession(ctx, refreshToken, meta)
	if err != nil {
		var reuse *auth.RefreshReuseError
		if errors.As(err, &reuse) {
			recordAudit(s.audit, ctx, AuditEntry{
				UserID:        reuse.UserID,
				EventType:     EventRefreshTokenReuse,
				FailureReason: "refresh_token_reuse",
				IPAddress:     meta.IPAddress,
				UserAgent:     meta.UserAgent,
				Details:       map[string]any{"session_id": reuse.SessionID},
			})
			return auth.TokenPair{}, apperrors.ErrTokenInvalid
		}
		if isSessionError(err) {
			return auth.TokenPair{}, apperrors.ErrTokenInvalid
		}
		return auth.TokenPair{}, apperrors.ErrInternalServer.WithInternal(err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:    session.UserID,
		EventType: EventTokenRefreshed,
		Success:   true,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Details:   map[string]any{"session_id": session.ID},
	})
	return tokens, nil
}

// Logout revokes the session behind accessToken. A token whose session is already
// revoked or purged succeeds without effect.
func (s *AuthService) Logout(ctx context.Context, accessToken string) error {
	ctx = ensureContext(ctx)

	claims, err := s.sessions.ParseAccessToken(accessToken)
	if err != nil {
		return apperrors.ErrTokenInvalid
	}

	session, revoked, err := s.sessions.RevokeByAccessJTI(ctx, claims.ID, auth.RevokeReasonLogout)
	if errors.Is(err, auth.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return apperrors.ErrInternalServer.WithInternal(err)
	}
	if revoked {
		recordAudit(s.audit, ctx, AuditEntry{
			UserID:    claims.Subject,
			EventType: EventSessionRevoked,
			Success:   true,
			Details:   map[string]any{"session_id": session.ID, "reason": auth.RevokeReasonLogout},
		})
	}
	return nil
}

// LogoutAll revokes every session owned by userID.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) (int, error) {
	ctx = ensureContext(ctx)

	count, err := s.sessions.RevokeUserSessions(ctx, userID, auth.RevokeReasonLogoutAll, "")
	if err != nil {
		return 0, apperrors.ErrInternalServer.WithInternal(err)
	}
	recordAudit(s.audit, ctx, AuditEntry{
		UserID:    userID,
		EventType: EventAllSessionsRevoked,
		Success:   true,
		Details:   map[string]any{"sessions_revoked": count, "reason": auth.RevokeReasonLogoutAll},
	})
	return count, nil
}

// Profile loads the caller's account together with roles and effective permissions.
func (s *AuthService) Profile(ctx context.Context, userID string) (*Profile, error) {
	ctx = ensureContext(ctx)

	user, err := s.loadActiveUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var roles []string
	if err := s.db.WithContext(ctx).
		Model(&models.Role{}).
		Joins("JOIN user_roles ON user_roles.role_id = roles.id").
		Where("user_roles.user_id = ?", user.ID).
		Order("roles.name").
		Pluck("roles.name", &roles).Error; err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(err)
	}

	set, err := s.resolver.EffectivePermissions(ctx, user.ID)
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(err)
	}

	if roles == nil {
		roles = []string{}
	}
	return &Profile{
		User:            user,
		Roles:           roles,
		Permissions:     set.Map(),
		PasswordExpired: user.PasswordExpired(s.now()),
	}, nil
}

// UpdateProfile changes only the self-service profile fields.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, input UpdateProfileInput) (*Profile, error) {
	ctx = ensureContext(ctx)

	user, err := s.loadActiveUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	setIfPresent(updates, "first_name", input.FirstName)
	setIfPresent(updates, "last_name", input.LastName)
	setIfPresent(updates, "display_name", input.DisplayName)
	setIfPresent(updates, "department", input.Department)
	setIfPresent(updates, "title", input.Title)
	setIfPresent(updates, "phone", input.Phone)

	if len(updates) > 0 {
		fields := make([]string, 0, len(updates))
		for field := range updates {
			fields = append(fields, field)
		}
		updates["updated_by"] = user.ID

		if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
			return nil, apperrors.ErrInternalServer.WithInternal(err)
		}
		recordAudit(s.audit, ctx, AuditEntry{
			UserID:    user.ID,
			EventType: EventProfileUpdated,
			Success:   true,
			Details:   map[string]any{"fields": sortedStrings(fields)},
		})
	}

	return s.Profile(ctx, user.ID)
}

// ChangePassword verifies the current password, enforces the policy on the new one and
// revokes sessions in the same transaction as the hash update.
func (s *AuthService) ChangePassword(ctx context.Context, input ChangePasswordInput) error {
	ctx = ensureContext(ctx)

	user, err := s.loadActiveUser(ctx, input.UserID)
	if err != nil {
		return err
	}
	if !user.IsLocal() || user.PasswordHash == nil {
		return ErrExternalAccount
	}

	if !s.policy.Verify(input.CurrentPassword, *user.PasswordHash) {
		recordAudit(s.audit, ctx, AuditEntry{
			UserID:        user.ID,
			EventType:     EventPasswordChangeFail,
			FailureReason: "invalid_current_password",
		})
		return ErrInvalidCurrentPassword
	}

	if violations := s.policy.Validate(input.NewPassword); len(violations) > 0 {
		recordAudit(s.audit, ctx, AuditEntry{
			UserID:        user.ID,
			EventType:     EventPasswordChangeFail,
			FailureReason: "weak_password",
		})
		return policyValidationError("new_password", violations)
	}
	if input.NewPassword == input.CurrentPassword {
		return apperrors.NewValidation("New password must differ from the current password",
			apperrors.FieldError{Field: "new_password", Message: "New password must differ from the current password"})
	}

	digest, err := s.policy.Hash(input.NewPassword)
	if err != nil {
		return apperrors.ErrInternalServer.WithInternal(err)
	}

	now := s.now()
	except := ""
	if s.keepCurrent {
		except = input.SessionID
	}

	var revoked []models.Session
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.User{}).
			Where("id = ?", user.ID).
			Updates(map[string]any{
				"password_hash":       digest,
				"password_expires_at": s.policy.ExpiresAt(now),
				"password_changed_at": now,
				"updated_by":          user.ID,
			}).Error; err != nil {
			return fmt.Errorf("update password: %w", err)
		}
		var err error
		revoked, err = s.sessions.RevokeUserSessionsTx(tx, user.ID, auth.RevokeReasonPasswordChanged, except)
		return err
	})
	if err != nil {
		return apperrors.ErrInternalServer.WithInternal(err)
	}

	s.sessions.PublishRevocations(ctx, revoked)
	recordAudit(s.audit, ctx, AuditEntry{
		UserID:    user.ID,
		EventType: EventPasswordChanged,
		Success:   true,
		Details:   map[string]any{"sessions_revoked": len(revoked)},
	})
	return nil
}

// TokenVerification is a verified access token and the session it belongs to.
type TokenVerification struct {
	Claims  *auth.Claims
	Session *models.Session
}

// Verify checks an access token against its session and the owning account.
func (s *AuthService) Verify(ctx context.Context, accessToken string) (*TokenVerification, *models.User, error) {
	ctx = ensureContext(ctx)

	claims, session, err := s.sessions.VerifyAccessToken(ctx, accessToken)
	if err != nil {
		if isSessionError(err) {
			return nil, nil, apperrors.ErrTokenInvalid
		}
		return nil, nil, apperrors.ErrInternalServer.WithInternal(err)
	}
	user, err := s.loadActiveUser(ctx, claims.Subject)
	if err != nil {
		return nil, nil, err
	}
	return &TokenVerification{Claims: claims, Session: session}, user, nil
}

// ListSessions returns the caller's usable sessions.
func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]models.Session, error) {
	sessions, err := s.sessions.ListActiveSessions(ensureContext(ctx), userID)
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(err)
	}
	return sessions, nil
}

// RevokeOwnSession revokes one of the caller's sessions by id.
func (s *AuthService) RevokeOwnSession(ctx context.Context, userID, sessionID string) error {
	ctx = ensureContext(ctx)

	revoked, err := s.sessions.RevokeOwnedSession(ctx, userID, sessionID, auth.RevokeReasonUserRevoked)
	if errors.Is(err, auth.ErrSessionNotFound) || errors.Is(err, auth.ErrSessionInvalidToken) {
		return ErrSessionNotFound
	}
	if err != nil {
		return apperrors.ErrInternalServer.WithInternal(err)
	}
	if !revoked {
		return nil
	}
	recordAudit(s.audit, ctx, AuditEntry{
		UserID:    userID,
		EventType: EventSessionRevoked,
		Success:   true,
		Details:   map[string]any{"session_id": sessionID, "reason": auth.RevokeReasonUserRevoked},
	})
	return nil
}

func (s *AuthService) loadActiveUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrUnauthorized
	}
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(err)
	}
	if !user.IsActive {
		return nil, apperrors.ErrUnauthorized
	}
	return &user, nil
}

func isSessionError(err error) bool {
	return errors.Is(err, auth.ErrSessionNotFound) ||
		errors.Is(err, auth.ErrSessionRevoked) ||
		errors.Is(err, auth.ErrSessionExpired) ||
		errors.Is(err, auth.ErrSessionInvalidToken)
}

func policyValidationError(field string, violations []auth.PolicyViolation) *apperrors.AppError {
	fields := make([]apperrors.FieldError, 0, len(violations))
	for _, v := range violations {
		fields = append(fields, apperrors.FieldError{Field: field, Message: v.Message})
	}
	return apperrors.NewValidation("Password does not meet the password policy", fields...)
}

func setIfPresent(updates map[string]any, column string, value *string) {
	if value != nil {
		updates[column] = strings.TrimSpace(*value)
	}
}
