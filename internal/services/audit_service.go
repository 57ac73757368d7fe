package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/santaserver/santaserver/internal/auditctx"
	"github.com/santaserver/santaserver/internal/models"
	"github.com/santaserver/santaserver/pkg/logger"
)

// Security audit event types.
const (
	EventLoginFailed        = "login_failed"
	EventLoginBlockedLocked = "login_blocked_locked"
	EventAccountLocked      = "account_locked"
	EventLoginSuccessful    = "login_successful"
	EventSessionCreated     = "session_created"
	EventTokenRefreshed     = "token_refreshed"
	EventRefreshTokenReuse  = "refresh_token_reuse"
	EventSessionRevoked     = "session_revoked"
	EventAllSessionsRevoked = "all_sessions_revoked"
	EventPasswordChanged    = "password_changed"
	EventPasswordChangeFail = "password_change_failed"
	EventProfileUpdated     = "profile_updated"
	EventUserCreated        = "user_created"
	EventUserUpdated        = "user_updated"
	EventUserDeactivated    = "user_deactivated"
	EventRoleCreated        = "role_created"
	EventRoleAssigned       = "role_assigned"
	EventGroupCreated       = "group_created"
	EventGroupMemberAdded   = "group_member_added"
	EventGroupRoleAssigned  = "group_role_assigned"
	EventAdminBootstrapped  = "admin_bootstrapped"
)

// AuditEntry captures a single security event to persist. Empty IP and user agent
// values are filled from the request actor in the context.
type AuditEntry struct {
	UserID        string
	EventType     string
	Details       map[string]any
	Success       bool
	FailureReason string
	IPAddress     string
	UserAgent     string
}

// AuditFilters encapsulates optional filters when querying audit events.
type AuditFilters struct {
	UserID    string
	EventType string
	Success   *bool
	Since     *time.Time
	Until     *time.Time
}

// AuditListOptions controls pagination and filtering for audit queries.
type AuditListOptions struct {
	Page    int
	PerPage int
	Filters AuditFilters
}

// AuditOption customises an AuditService.
type AuditOption func(*AuditService)

// WithAuditClock overrides the event timestamp source.
func WithAuditClock(clock func() time.Time) AuditOption {
	return func(s *AuditService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// AuditService appends and queries security audit events. Events are never updated or deleted.
type AuditService struct {
	db  *gorm.DB
	now func() time.Time
	log *zap.Logger
}

// NewAuditService constructs an AuditService using the provided database handle.
func NewAuditService(db *gorm.DB, opts ...AuditOption) (*AuditService, error) {
	if db == nil {
		return nil, errors.New("audit service: db is required")
	}
	svc := &AuditService{db: db, now: time.Now, log: logger.WithModule("audit")}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Log persists entry.
func (s *AuditService) Log(ctx context.Context, entry AuditEntry) error {
	ctx = ensureContext(ctx)

	eventType := strings.TrimSpace(entry.EventType)
	if eventType == "" {
		return errors.New("audit service: event type is required")
	}

	actor, hasActor := auditctx.FromContext(ctx)
	if hasActor {
		if entry.IPAddress == "" {
			entry.IPAddress = actor.IPAddress
		}
		if entry.UserAgent == "" {
			entry.UserAgent = actor.UserAgent
		}
	}

	details := datatypes.JSONMap{}
	for k, v := range entry.Details {
		if k != "" {
			details[k] = v
		}
	}
	if hasActor {
		if actor.RequestID != "" {
			details["request_id"] = actor.RequestID
		}
		if actor.UserID != "" && actor.UserID != entry.UserID {
			details["actor_id"] = actor.UserID
		}
	}

	event := models.SecurityAuditEvent{
		EventType:     eventType,
		IPAddress:     truncate(strings.TrimSpace(entry.IPAddress), 45),
		UserAgent:     truncate(strings.TrimSpace(entry.UserAgent), 512),
		Success:       entry.Success,
		FailureReason: truncate(strings.TrimSpace(entry.FailureReason), 255),
		Timestamp:     s.now().UTC(),
	}
	if len(details) > 0 {
		event.EventDetails = details
	}
	if id := strings.TrimSpace(entry.UserID); id != "" {
		event.UserID = &id
	}

	if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
		return fmt.Errorf("audit service: write event: %w", err)
	}
	return nil
}

// List returns paginated audit events ordered by timestamp descending.
func (s *AuditService) List(ctx context.Context, opts AuditListOptions) ([]models.SecurityAuditEvent, int64, error) {
	ctx = ensureContext(ctx)
	page, perPage := normalisePage(opts.Page, opts.PerPage)

	var (
		results []models.SecurityAuditEvent
		total   int64
	)

	query := applyAuditFilters(s.db.WithContext(ctx).Model(&models.SecurityAuditEvent{}), opts.Filters)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: count events: %w", err)
	}

	if err := query.
		Order("timestamp DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&results).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: list events: %w", err)
	}

	return results, total, nil
}

func applyAuditFilters(query *gorm.DB, filters AuditFilters) *gorm.DB {
	if filters.UserID != "" {
		query = query.Where("user_id = ?", filters.UserID)
	}
	if filters.EventType != "" {
		query = query.Where("event_type = ?", filters.EventType)
	}
	if filters.Success != nil {
		query = query.Where("success = ?", *filters.Success)
	}
	if filters.Since != nil {
		query = query.Where("timestamp >= ?", filters.Since.UTC())
	}
	if filters.Until != nil {
		query = query.Where("timestamp <= ?", filters.Until.UTC())
	}
	return query
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
