package auth

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/santaserver/santaserver/internal/database/testutil"
	"github.com/santaserver/santaserver/internal/models"
)

type testClock struct {
	mu      sync.Mutex
	current time.Time
}

func newTestClock() *testClock {
	return &testClock{current: time.Date(2024, 12, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.mu.Unlock()
}

func setupSessionService(t *testing.T) (*gorm.DB, *SessionService, *testClock) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newTestClock()

	jwtSvc, err := NewJWTService(JWTConfig{
		Secret:          "session-secret",
		AccessTokenTTL:  30 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		Clock:           clock.Now,
	})
	require.NoError(t, err)

	svc, err := NewSessionService(db, jwtSvc, SessionConfig{Clock: clock.Now})
	require.NoError(t, err)

	return db, svc, clock
}

func createTestUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("Passw0rd!"), bcrypt.MinCost)
	require.NoError(t, err)
	digest := string(hash)
	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	user := &models.User{
		Username:          username,
		Email:             username + "@example.com",
		UserType:          models.UserTypeLocal,
		PasswordHash:      &digest,
		PasswordExpiresAt: &expires,
		IsActive:          true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// onUserRowLock runs fn inside the caller's transaction just before it reads an account
// row with a row lock. fn stands in for a writer that committed while the lock was being
// awaited. The returned counter reports how many locked account reads happened.
func onUserRowLock(t *testing.T, db *gorm.DB, fn func(tx *gorm.DB)) *atomic.Int32 {
	t.Helper()

	var locked atomic.Int32
	var once sync.Once
	err := db.Callback().Query().Before("gorm:query").Register("test:user_row_lock", func(tx *gorm.DB) {
		if tx.Statement.Table != "users" {
			return
		}
		if _, ok := tx.Statement.Clauses["FOR"]; !ok {
			return
		}
		locked.Add(1)
		if fn != nil {
			once.Do(func() { fn(tx.Session(&gorm.Session{NewDB: true})) })
		}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Callback().Query().Remove("test:user_row_lock") })
	return &locked
}
