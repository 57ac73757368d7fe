package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/santaserver/santaserver/internal/models"
	"github.com/santaserver/santaserver/pkg/logger"
	"github.com/santaserver/santaserver/pkg/metrics"
)

// Revocation reasons stored on the session row.
const (
	RevokeReasonLogout          = "logout"
	RevokeReasonLogoutAll       = "logout_all"
	RevokeReasonRotated         = "rotated"
	RevokeReasonPasswordChanged = "password_changed"
	RevokeReasonUserDeactivated = "user_deactivated"
	RevokeReasonUserRevoked     = "user_revoked"
)

// lastUsedResolution bounds how often verification writes LastUsedAt.
const lastUsedResolution = time.Minute

var (
	// ErrSessionNotFound indicates that no session matches the provided token or identifier.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSessionRevoked marks a session that has been revoked or rotated.
	ErrSessionRevoked = errors.New("session: revoked")
	// ErrSessionExpired signals that a token has reached its expiry.
	ErrSessionExpired = errors.New("session: expired")
	// ErrSessionInvalidToken is returned when the supplied token is malformed or of the wrong type.
	ErrSessionInvalidToken = errors.New("session: invalid token")
)

// RefreshReuseError is returned when a refresh token that was already rotated is presented again.
type RefreshReuseError struct {
	UserID    string
	SessionID string
}

func (e *RefreshReuseError) Error() string {
	return fmt.Sprintf("session: refresh token reused for session %s", e.SessionID)
}

func (e *RefreshReuseError) Unwrap() error {
	return ErrSessionRevoked
}

// SessionConfig describes tunable behaviour for the SessionService.
type SessionConfig struct {
	Clock       func() time.Time
	Revocations *RevocationCache
}

// SessionMetadata captures contextual information about the client.
type SessionMetadata struct {
	IPAddress string
	UserAgent string
}

// TokenPair is the access/refresh token pair issued for one session.
type TokenPair struct {
	SessionID        string
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// SessionService manages creation, rotation, verification and revocation of sessions.
type SessionService struct {
	db          *gorm.DB
	jwt         *JWTService
	now         func() time.Time
	revocations *RevocationCache
	log         *zap.Logger
}

// NewSessionService constructs a session manager backed by the provided database and JWT service.
func NewSessionService(db *gorm.DB, jwtService *JWTService, cfg SessionConfig) (*SessionService, error) {
	if db == nil {
		return nil, errors.New("session service: db is required")
	}
	if jwtService == nil {
		return nil, errors.New("session service: jwt service is required")
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &SessionService{
		db:          db,
		jwt:         jwtService,
		now:         clock,
		revocations: cfg.Revocations,
		log:         logger.WithModule("sessions"),
	}, nil
}

// AccessTTL exposes the access token lifetime for expires_in calculations.
func (s *SessionService) AccessTTL() time.Duration {
	return s.jwt.AccessTTL()
}

// CreateSession issues a token pair for user and persists the matching session row.
func (s *SessionService) CreateSession(ctx context.Context, user *models.User, meta SessionMetadata) (TokenPair, *models.Session, error) {
	var (
		pair    TokenPair
		session *models.Session
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		pair, session, err = s.createSession(tx, user, meta)
		return err
	})
	if err != nil {
		return TokenPair{}, nil, err
	}

	metrics.ActiveSessions.Inc()
	metrics.TokenOperations.WithLabelValues("issue").Inc()
	return pair, session, nil
}

func (s *SessionService) createSession(tx *gorm.DB, user *models.User, meta SessionMetadata) (TokenPair, *models.Session, error) {
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return TokenPair{}, nil, errors.New("session service: user is required")
	}

	input := TokenInput{
		UserID:   user.ID,
		Username: user.Username,
		Email:    user.Email,
		UserType: string(user.UserType),
	}
	access, err := s.jwt.Generate(TokenTypeAccess, input)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: generate access token: %w", err)
	}
	refresh, err := s.jwt.Generate(TokenTypeRefresh, input)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: generate refresh token: %w", err)
	}

	refreshJTI := refresh.JTI
	refreshExpiry := refresh.ExpiresAt
	session := &models.Session{
		UserID:           user.ID,
		AccessJTI:        access.JTI,
		RefreshJTI:       &refreshJTI,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: &refreshExpiry,
		IPAddress:        truncate(strings.TrimSpace(meta.IPAddress), 45),
		UserAgent:        truncate(strings.TrimSpace(meta.UserAgent), 512),
		LastUsedAt:       s.now(),
	}
	if err := tx.Create(session).Error; err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: create session: %w", err)
	}

	return TokenPair{
		SessionID:        session.ID,
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, session, nil
}

// ParseAccessToken checks signature, type and expiry without consulting session state.
func (s *SessionService) ParseAccessToken(token string) (*Claims, error) {
	claims, err := s.jwt.Parse(token, TokenTypeAccess)
	if err != nil {
		return nil, mapTokenError(err)
	}
	return claims, nil
}

// VerifyAccessToken validates the token and requires its session to exist and be unrevoked.
func (s *SessionService) VerifyAccessToken(ctx context.Context, token string) (*Claims, *models.Session, error) {
	claims, err := s.ParseAccessToken(token)
	if err != nil {
		metrics.TokenOperations.WithLabelValues("verify_failed").Inc()
		return nil, nil, err
	}

	if s.revocations != nil {
		revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			s.log.Warn("revocation cache lookup failed", zap.Error(err))
		} else if revoked {
			metrics.TokenOperations.WithLabelValues("verify_failed").Inc()
			return nil, nil, ErrSessionRevoked
		}
	}

	var session models.Session
	err = s.db.WithContext(ctx).Where("access_jti = ?", claims.ID).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.TokenOperations.WithLabelValues("verify_failed").Inc()
		return nil, nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("session service: find session: %w", err)
	}
	if session.Revoked {
		metrics.TokenOperations.WithLabelValues("verify_failed").Inc()
		return nil, nil, ErrSessionRevoked
	}
	if session.UserID != claims.Subject {
		return nil, nil, ErrSessionInvalidToken
	}

	now := s.now()
	if now.Sub(session.LastUsedAt) >= lastUsedResolution {
		if err := s.db.WithContext(ctx).Model(&models.Session{}).
			Where("id = ? AND revoked = ?", session.ID, false).
			UpdateColumn("last_used_at", now).Error; err != nil {
			s.log.Warn("failed to stamp session last use", zap.String("session_id", session.ID), zap.Error(err))
		} else {
			session.LastUsedAt = now
		}
	}

	return claims, &session, nil
}

// RefreshSession rotates a refresh token. The old session is revoked with reason
// "rotated" and the new session is created in the same transaction.
func (s *SessionService) RefreshSession(ctx context.Context, refreshToken string, meta SessionMetadata) (TokenPair, *models.Session, error) {
	claims, err := s.jwt.Parse(refreshToken, TokenTypeRefresh)
	if err != nil {
		metrics.TokenOperations.WithLabelValues("refresh_failed").Inc()
		return TokenPair{}, nil, mapTokenError(err)
	}

	var (
		pair     TokenPair
		session  *models.Session
		previous models.Session
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("refresh_jti = ?", claims.ID).Take(&previous).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("session service: find session: %w", err)
		}

		now := s.now()
		if previous.Revoked {
			if previous.RevokedReason == RevokeReasonRotated {
				return &RefreshReuseError{UserID: previous.UserID, SessionID: previous.ID}
			}
			return ErrSessionRevoked
		}
		if previous.RefreshExpiresAt == nil || !previous.RefreshExpiresAt.After(now) {
			return ErrSessionExpired
		}

		// Password changes and deactivation update the account row before revoking
		// sessions, so holding its lock orders this rotation strictly before or after them.
		var user models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&user, "id = ?", previous.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return fmt.Errorf("session service: load user: %w", err)
		}
		if !user.IsActive {
			return ErrSessionRevoked
		}

		if meta.IPAddress == "" {
			meta.IPAddress = previous.IPAddress
		}
		if meta.UserAgent == "" {
			meta.UserAgent = previous.UserAgent
		}
		pair, session, err = s.createSession(tx, &user, meta)
		if err != nil {
			return err
		}

		result := tx.Model(&models.Session{}).
			Where("id = ? AND revoked = ?", previous.ID, false).
			Updates(map[string]any{
				"revoked":        true,
				"revoked_at":     now,
				"revoked_reason": RevokeReasonRotated,
				"replaced_by_id": session.ID,
			})
		if result.Error != nil {
			return fmt.Errorf("session service: rotate session: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrSessionRevoked
		}
		return nil
	})
	if err != nil {
		metrics.TokenOperations.WithLabelValues("refresh_failed").Inc()
		return TokenPair{}, nil, err
	}

	s.publishRevocations(ctx, []models.Session{previous})
	metrics.TokenOperations.WithLabelValues("refresh").Inc()
	return pair, session, nil
}

// RevokeSession revokes one session by id. Revoking an already revoked session is a no-op.
func (s *SessionService) RevokeSession(ctx context.Context, sessionID, reason string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrSessionInvalidToken
	}
	_, _, err := s.revokeWhere(ctx, reason, "id = ?", sessionID)
	return err
}

// RevokeOwnedSession revokes sessionID only when it belongs to userID. It reports whether
// this call performed the revocation.
func (s *SessionService) RevokeOwnedSession(ctx context.Context, userID, sessionID, reason string) (bool, error) {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(userID) == "" {
		return false, ErrSessionInvalidToken
	}
	_, revoked, err := s.revokeWhere(ctx, reason, "id = ? AND user_id = ?", sessionID, userID)
	return revoked, err
}

// RevokeByAccessJTI revokes the session owning jti. It reports whether this call
// performed the revocation; a session that was already revoked returns false and no error.
func (s *SessionService) RevokeByAccessJTI(ctx context.Context, jti, reason string) (*models.Session, bool, error) {
	if strings.TrimSpace(jti) == "" {
		return nil, false, ErrSessionInvalidToken
	}
	return s.revokeWhere(ctx, reason, "access_jti = ?", jti)
}

func (s *SessionService) revokeWhere(ctx context.Context, reason string, query string, args ...any) (*models.Session, bool, error) {
	var session models.Session
	err := s.db.WithContext(ctx).Where(query, args...).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, ErrSessionNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("session service: find session: %w", err)
	}
	if session.Revoked {
		return &session, false, nil
	}

	now := s.now()
	result := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND revoked = ?", session.ID, false).
		Updates(map[string]any{
			"revoked":        true,
			"revoked_at":     now,
			"revoked_reason": reason,
		})
	if result.Error != nil {
		return nil, false, fmt.Errorf("session service: revoke session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &session, false, nil
	}

	session.Revoked = true
	session.RevokedAt = &now
	session.RevokedReason = reason
	s.publishRevocations(ctx, []models.Session{session})
	return &session, true, nil
}

// RevokeUserSessions revokes every active session belonging to userID except exceptID.
func (s *SessionService) RevokeUserSessions(ctx context.Context, userID, reason, exceptID string) (int, error) {
	revoked, err := s.RevokeUserSessionsTx(s.db.WithContext(ctx), userID, reason, exceptID)
	if err != nil {
		return 0, err
	}
	s.PublishRevocations(ctx, revoked)
	return len(revoked), nil
}

// RevokeUserSessionsTx revokes inside the caller's transaction and returns the revoked rows.
// The caller passes them to PublishRevocations once the transaction commits.
func (s *SessionService) RevokeUserSessionsTx(tx *gorm.DB, userID, reason, exceptID string) ([]models.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrSessionInvalidToken
	}

	query := tx.Model(&models.Session{}).Where("user_id = ? AND revoked = ?", userID, false)
	if exceptID != "" {
		query = query.Where("id <> ?", exceptID)
	}

	var sessions []models.Session
	if err := query.Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("session service: list sessions: %w", err)
	}
	if len(sessions) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(sessions))
	for _, session := range sessions {
		ids = append(ids, session.ID)
	}

	now := s.now()
	if err := tx.Model(&models.Session{}).
		Where("id IN ? AND revoked = ?", ids, false).
		Updates(map[string]any{
			"revoked":        true,
			"revoked_at":     now,
			"revoked_reason": reason,
		}).Error; err != nil {
		return nil, fmt.Errorf("session service: revoke sessions: %w", err)
	}

	for i := range sessions {
		sessions[i].Revoked = true
		sessions[i].RevokedAt = &now
		sessions[i].RevokedReason = reason
	}
	return sessions, nil
}

// PublishRevocations pushes revoked access identifiers to the revocation cache and
// updates the session gauges.
func (s *SessionService) PublishRevocations(ctx context.Context, sessions []models.Session) {
	s.publishRevocations(ctx, sessions)
}

func (s *SessionService) publishRevocations(ctx context.Context, sessions []models.Session) {
	if len(sessions) == 0 {
		return
	}
	metrics.ActiveSessions.Sub(float64(len(sessions)))
	metrics.TokenOperations.WithLabelValues("revoke").Add(float64(len(sessions)))

	if s.revocations == nil {
		return
	}
	for _, session := range sessions {
		if err := s.revocations.MarkRevoked(ctx, session.AccessJTI, session.AccessExpiresAt); err != nil {
			s.log.Warn("failed to cache revoked token", zap.String("session_id", session.ID), zap.Error(err))
		}
	}
}

// ListActiveSessions returns the user's unrevoked sessions that can still be used,
// newest first.
func (s *SessionService) ListActiveSessions(ctx context.Context, userID string) ([]models.Session, error) {
	var sessions []models.Session
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND revoked = ?", userID, false).
		Order("created_at DESC").
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("session service: list sessions: %w", err)
	}

	now := s.now()
	active := sessions[:0]
	for _, session := range sessions {
		if session.AccessExpiresAt.After(now) ||
			(session.RefreshExpiresAt != nil && session.RefreshExpiresAt.After(now)) {
			active = append(active, session)
		}
	}
	return active, nil
}

// CleanupExpired deletes sessions whose access and refresh tokens have both expired.
// Revoked sessions that could still present an unexpired token are kept.
func (s *SessionService) CleanupExpired(ctx context.Context) (int64, error) {
	now := s.now().UTC()

	var activeExpired int64
	if err := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("revoked = ? AND access_expires_at < ? AND (refresh_expires_at IS NULL OR refresh_expires_at < ?)", false, now, now).
		Count(&activeExpired).Error; err != nil {
		return 0, fmt.Errorf("session service: count expired sessions: %w", err)
	}

	result := s.db.WithContext(ctx).
		Where("access_expires_at < ? AND (refresh_expires_at IS NULL OR refresh_expires_at < ?)", now, now).
		Delete(&models.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("session service: cleanup expired sessions: %w", result.Error)
	}

	if activeExpired > 0 {
		metrics.ActiveSessions.Sub(float64(activeExpired))
	}
	return result.RowsAffected, nil
}

func mapTokenError(err error) error {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return ErrSessionExpired
	default:
		return fmt.Errorf("%w: %v", ErrSessionInvalidToken, err)
	}
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
