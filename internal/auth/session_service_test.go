package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/santaserver/santaserver/internal/cache"
	"github.com/santaserver/santaserver/internal/database/testutil"
	"github.com/santaserver/santaserver/internal/models"
)

func TestCreateSessionPersistsMatchingJTIs(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "alice")
	ctx := context.Background()

	pair, session, err := svc.CreateSession(ctx, user, SessionMetadata{IPAddress: " 10.0.0.1 ", UserAgent: "unit-test"})
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.Equal(t, session.ID, pair.SessionID)
	require.True(t, pair.AccessExpiresAt.Equal(clock.Now().Add(30*time.Minute)))
	require.True(t, pair.RefreshExpiresAt.Equal(clock.Now().Add(7*24*time.Hour)))

	claims, err := svc.ParseAccessToken(pair.AccessToken)
	require.NoError(t, err)

	var stored models.Session
	require.NoError(t, db.Take(&stored, "id = ?", session.ID).Error)
	require.Equal(t, claims.ID, stored.AccessJTI)
	require.NotNil(t, stored.RefreshJTI)
	require.Equal(t, "10.0.0.1", stored.IPAddress)
	require.Equal(t, "unit-test", stored.UserAgent)
	require.False(t, stored.Revoked)
}

func TestVerifyAccessTokenRejectsRevokedUnexpiredToken(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	user := createTestUser(t, db, "alice")
	ctx := context.Background()

	pair, session, err := svc.CreateSession(ctx, user, SessionMetadata{})
	require.NoError(t, err)

	claims, verified, err := svc.VerifyAccessToken(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, user.ID, claims.Subject)
	require.Equal(t, session.ID, verified.ID)

	require.NoError(t, svc.RevokeSession(ctx, session.ID, RevokeReasonLogout))

	_, _, err = svc.VerifyAccessToken(ctx, pair.AccessToken)
	require.ErrorIs(t, err, ErrSessionRevoked)

	// Still parseable: only session state rejects it.
	_, err = svc.ParseAccessToken(pair.AccessToken)
	require.NoError(t, err)
}

func TestVerifyAccessTokenExpired(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "alice")
	ctx := context.Background()

	pair, _, err := svc.CreateSession(ctx, user, SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(31 * time.Minute)
	_, _, err = svc.VerifyAccessToken(ctx, pair.AccessToken)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestVerifyAccessTokenRejectsRefreshToken(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	user := createTestUser(t, db, "alice")

	pair, _, err := svc.CreateSession(context.Background(), user, SessionMetadata{})
	require.NoError(t, err)

	_, _, err = svc.VerifyAccessToken(context.Background(), pair.RefreshToken)
	require.ErrorIs(t, err, ErrSessionInvalidToken)
}

func TestVerifyAccessTokenStampsLastUse(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "alice")
	ctx := context.Background()

	pair, session, err := svc.CreateSession(ctx, user, SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	_, _, err = svc.VerifyAccessToken(ctx, pair.AccessToken)
	require.NoError(t, err)

	var stored models.Session
	require.NoError(t, db.Take(&stored, "id = ?", session.ID).Error)
	require.True(t, stored.LastUsedAt.Equal(clock.Now()))
}

func TestRefreshSessionRotates(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "alice")
	ctx := context.Background()

	pair, original, err := svc.CreateSession(ctx, user, SessionMetadata{IPAddress: "10.0.0.1"})
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	rotated, session, err := svc.RefreshSession(ctx, pair.RefreshToken, SessionMetadata{})
	require.NoError(t, err)
	require.NotEqual(t, original.ID, session.ID)
	require.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)
	require.NotEqual(t, pair.AccessToken, rotated.AccessToken)
	require.Equal(t, "10.0.0.1", session.IPAddress)

	var old models.Session
	require.NoError(t, db.Take(&old, "id = ?", original.ID).Error)
	require.True(t, old.Revoked)
	require.Equal(t, RevokeReasonRotated, old.RevokedReason)
	require.NotNil(t, old.ReplacedByID)
	require.Equal(t, session.ID, *old.ReplacedByID)

	// The old access token dies with its session.
	_, _, err = svc.VerifyAccessToken(ctx, pair.AccessToken)
	require.ErrorIs(t, err, ErrSessionRevoked)

	_, _, err = svc.VerifyAccessToken(ctx, rotated.AccessToken)
	require.NoError(t, err)
}

func TestRefreshSessionReplayFails(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	user := createTestUser(t, db, "alice")
	ctx := context.Background()

	pair, original, err := svc.CreateSession(ctx, user, SessionMetadata{})
	require.NoError(t, err)

	_, _, err = svc.RefreshSession(ctx, pair.RefreshToken, SessionMetadata{})
	require.NoError(t, err)

	_, _, err = svc.RefreshSession(ctx, pair.RefreshToken, SessionMetadata{})
	require.ErrorIs(t, err, ErrSessionRevoked)

	var reuse *RefreshReuseError
	require.ErrorAs(t, err, &reuse)
	require.Equal(t, user.ID, reuse.UserID)
	require.Equal(t, original.ID, reuse.SessionID)
}

func TestRefreshSessionLosesToConcurrentPasswordChange(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	user := createTestUser(t, db, "alice")
	ctx := context.Background()

	pair, original, err := svc.CreateSession(ctx, user, SessionMetadata{})
	require.NoError(t, err)

	locked := onUserRowLock(t, db, func(tx *gorm.DB) {
		require.NoError(t, tx.Model(&models.Session{}).
			Where("user_id = ?", user.ID).
			Updates(map[string]any{"revoked": true, "revoked_reason": RevokeReasonPasswordChanged}).Error)
	})

	_, _, err = svc.RefreshSession(ctx, pair.RefreshToken, SessionMetadata{})
	require.ErrorIs(t, err, ErrSessionRevoked)
	require.EqualValues(t, 1, locked.Load())

	var sessions []models.Session
	require.NoError(t, db.Where("user_id = ?", user.ID).Find(&sessions).Error)
	require.Len(t, sessions, 1, "rotation must not leave a replacement session behind")
	require.Equal(t, original.ID, sessions[0].ID)
}

func TestRefreshSessionSeesConcurrentDeactivation(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	user := createTestUser(t, db, "alice")
	ctx := context.Background()

	pair, _, err := svc.CreateSession(ctx, user, SessionMetadata{})
	require.NoError(t, err)

	onUserRowLock(t, db, func(tx *gorm.DB) {
		require.NoError(t, tx.Model(&models.User{}).Where("id = ?", user.ID).Update("is_active", false).Error)
	})

	_, _, err = svc.RefreshSession(ctx, pair.RefreshToken, SessionMetadata{})
	require.ErrorIs(t, err, ErrSessionRevoked)

	var count int64
	require.NoError(t, db.Model(&models.Session{}).Where("user_id = ?", user.ID).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestRefreshSessionExpired(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "alice")
	ctx := context.Background()

	pair, _, err := svc.CreateSession(ctx, user, SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(8 * 24 * time.Hour)
	_, _, err = svc.RefreshSession(ctx, pair.RefreshToken, SessionMetadata{})
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestRefreshSessionRejectsAccessToken(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	user := createTestUser(t, db, "alice")

	pair, _, err := svc.CreateSession(context.Background(), user, SessionMetadata{})
	require.NoError(t, err)

	_, _, err = svc.RefreshSession(context.Background(), pair.AccessToken, SessionMetadata{})
	require.ErrorIs(t, err, ErrSessionInvalidToken)
}

func TestRefreshSessionAfterLogoutFails(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	user := createTestUser(t, db, "alice")
	ctx := context.Background()

	pair, session, err := svc.CreateSession(ctx, user, SessionMetadata{})
	require.NoError(t, err)
	require.NoError(t, svc.RevokeSession(ctx, session.ID, RevokeReasonLogout))

	_, _, err = svc.RefreshSession(ctx, pair.RefreshToken, SessionMetadata{})
	require.ErrorIs(t, err, ErrSessionRevoked)
	var reuse *RefreshReuseError
	require.False(t, errors.As(err, &reuse))
}

func TestRevokeByAccessJTIIsIdempotent(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	user := createTestUser(t, db, "alice")
	ctx := context.Background()

	pair, session, err := svc.CreateSession(ctx, user, SessionMetadata{})
	require.NoError(t, err)
	claims, err := svc.ParseAccessToken(pair.AccessToken)
	require.NoError(t, err)

	revokedSession, revoked, err := svc.RevokeByAccessJTI(ctx, claims.ID, RevokeReasonLogout)
	require.NoError(t, err)
	require.True(t, revoked)
	require.Equal(t, session.ID, revokedSession.ID)

	_, revoked, err = svc.RevokeByAccessJTI(ctx, claims.ID, RevokeReasonLogout)
	require.NoError(t, err)
	require.False(t, revoked)

	_, _, err = svc.RevokeByAccessJTI(ctx, "unknown", RevokeReasonLogout)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRevokeUserSessionsWithException(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	user := createTestUser(t, db, "alice")
	other := createTestUser(t, db, "bob")
	ctx := context.Background()

	keep, keepSession, err := svc.CreateSession(ctx, user, SessionMetadata{})
	require.NoError(t, err)
	drop, _, err := svc.CreateSession(ctx, user, SessionMetadata{})
	require.NoError(t, err)
	foreign, _, err := svc.CreateSession(ctx, other, SessionMetadata{})
	require.NoError(t, err)

	count, err := svc.RevokeUserSessions(ctx, user.ID, RevokeReasonPasswordChanged, keepSession.ID)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	_, _, err = svc.VerifyAccessToken(ctx, keep.AccessToken)
	require.NoError(t, err)
	_, _, err = svc.VerifyAccessToken(ctx, drop.AccessToken)
	require.ErrorIs(t, err, ErrSessionRevoked)
	_, _, err = svc.VerifyAccessToken(ctx, foreign.AccessToken)
	require.NoError(t, err)

	count, err = svc.RevokeUserSessions(ctx, user.ID, RevokeReasonLogoutAll, "")
	require.NoError(t, err)
	require.Equal(t, 1, count)
	_, _, err = svc.VerifyAccessToken(ctx, keep.AccessToken)
	require.ErrorIs(t, err, ErrSessionRevoked)
}

func TestRevokeOwnedSessionChecksOwner(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	alice := createTestUser(t, db, "alice")
	bob := createTestUser(t, db, "bob")
	ctx := context.Background()

	_, session, err := svc.CreateSession(ctx, alice, SessionMetadata{})
	require.NoError(t, err)

	_, err = svc.RevokeOwnedSession(ctx, bob.ID, session.ID, RevokeReasonUserRevoked)
	require.ErrorIs(t, err, ErrSessionNotFound)

	revoked, err := svc.RevokeOwnedSession(ctx, alice.ID, session.ID, RevokeReasonUserRevoked)
	require.NoError(t, err)
	require.True(t, revoked)

	revoked, err = svc.RevokeOwnedSession(ctx, alice.ID, session.ID, RevokeReasonUserRevoked)
	require.NoError(t, err)
	require.False(t, revoked)
}

func TestListActiveSessions(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "alice")
	ctx := context.Background()

	_, first, err := svc.CreateSession(ctx, user, SessionMetadata{})
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, second, err := svc.CreateSession(ctx, user, SessionMetadata{})
	require.NoError(t, err)
	require.NoError(t, svc.RevokeSession(ctx, first.ID, RevokeReasonLogout))

	sessions, err := svc.ListActiveSessions(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, second.ID, sessions[0].ID)

	clock.Advance(8 * 24 * time.Hour)
	sessions, err = svc.ListActiveSessions(ctx, user.ID)
	require.NoError(t, err)
	require.Empty(t, sessions)
}

func TestCleanupExpiredKeepsRevokedUnexpiredSessions(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "alice")
	ctx := context.Background()

	_, stale, err := svc.CreateSession(ctx, user, SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(7*24*time.Hour + time.Minute)
	_, fresh, err := svc.CreateSession(ctx, user, SessionMetadata{})
	require.NoError(t, err)
	require.NoError(t, svc.RevokeSession(ctx, fresh.ID, RevokeReasonLogout))

	purged, err := svc.CleanupExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, purged)

	var remaining []string
	require.NoError(t, db.Model(&models.Session{}).Pluck("id", &remaining).Error)
	require.Equal(t, []string{fresh.ID}, remaining)
	require.NotContains(t, remaining, stale.ID)
}

func TestRevocationCacheShortCircuitsVerify(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newTestClock()
	jwtSvc, err := NewJWTService(JWTConfig{Secret: "secret", Clock: clock.Now})
	require.NoError(t, err)

	store := cache.NewDatabaseStore(db, cache.WithClock(clock.Now))
	revocations := NewRevocationCache(store, clock.Now)
	svc, err := NewSessionService(db, jwtSvc, SessionConfig{Clock: clock.Now, Revocations: revocations})
	require.NoError(t, err)

	user := createTestUser(t, db, "alice")
	ctx := context.Background()
	pair, session, err := svc.CreateSession(ctx, user, SessionMetadata{})
	require.NoError(t, err)
	require.NoError(t, svc.RevokeSession(ctx, session.ID, RevokeReasonLogout))

	claims, err := svc.ParseAccessToken(pair.AccessToken)
	require.NoError(t, err)
	revoked, err := revocations.IsRevoked(ctx, claims.ID)
	require.NoError(t, err)
	require.True(t, revoked)

	_, _, err = svc.VerifyAccessToken(ctx, pair.AccessToken)
	require.ErrorIs(t, err, ErrSessionRevoked)

	// The marker expires with the token.
	clock.Advance(31 * time.Minute)
	revoked, err = revocations.IsRevoked(ctx, claims.ID)
	require.NoError(t, err)
	require.False(t, revoked)
}

func TestRevocationCacheNilIsNoop(t *testing.T) {
	var revocations *RevocationCache
	require.Nil(t, NewRevocationCache(nil, nil))
	require.NoError(t, revocations.MarkRevoked(context.Background(), "jti", time.Now().Add(time.Hour)))
	revoked, err := revocations.IsRevoked(context.Background(), "jti")
	require.NoError(t, err)
	require.False(t, revoked)
}
