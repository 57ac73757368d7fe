package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/santaserver/santaserver/internal/database/testutil"
	"github.com/santaserver/santaserver/internal/models"
)

func setupLockoutGuard(t *testing.T) (*gorm.DB, *LockoutGuard, *testClock) {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newTestClock()
	guard, err := NewLockoutGuard(db, LockoutConfig{Threshold: 3, Duration: 15 * time.Minute, Clock: clock.Now})
	require.NoError(t, err)
	return db, guard, clock
}

func TestRecordFailureLocksAtThreshold(t *testing.T) {
	db, guard, clock := setupLockoutGuard(t)
	user := createTestUser(t, db, "bob")
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		res, err := guard.RecordFailure(ctx, user.ID)
		require.NoError(t, err)
		require.Equal(t, i, res.Attempts)
		require.False(t, res.LockedNow)
		require.Nil(t, res.LockedUntil)
	}

	res, err := guard.RecordFailure(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, 3, res.Attempts)
	require.True(t, res.LockedNow)
	require.NotNil(t, res.LockedUntil)
	require.True(t, res.LockedUntil.Equal(clock.Now().Add(15*time.Minute)))

	// Further failures while locked never re-trigger the transition.
	res, err = guard.RecordFailure(ctx, user.ID)
	require.NoError(t, err)
	require.False(t, res.LockedNow)
	require.Equal(t, 4, res.Attempts)
}

func TestRecordFailureConcurrentSingleTransition(t *testing.T) {
	db, guard, _ := setupLockoutGuard(t)
	user := createTestUser(t, db, "racer")
	ctx := context.Background()

	const attempts = 10
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		transitions int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := guard.RecordFailure(ctx, user.ID)
			assert.NoError(t, err)
			if res.LockedNow {
				mu.Lock()
				transitions++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, transitions)

	var reloaded models.User
	require.NoError(t, db.Take(&reloaded, "id = ?", user.ID).Error)
	require.Equal(t, attempts, reloaded.FailedLoginAttempts)
	require.NotNil(t, reloaded.LockedUntil)
}

func TestCheckClearsElapsedLock(t *testing.T) {
	db, guard, clock := setupLockoutGuard(t)
	user := createTestUser(t, db, "carol")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := guard.RecordFailure(ctx, user.ID)
		require.NoError(t, err)
	}
	require.NoError(t, db.Take(user, "id = ?", user.ID).Error)

	state, err := guard.Check(ctx, user)
	require.NoError(t, err)
	require.True(t, state.Locked)

	clock.Advance(15*time.Minute + time.Second)
	state, err = guard.Check(ctx, user)
	require.NoError(t, err)
	require.False(t, state.Locked)
	require.True(t, state.Unlocked)
	require.Nil(t, user.LockedUntil)

	var reloaded models.User
	require.NoError(t, db.Take(&reloaded, "id = ?", user.ID).Error)
	require.Zero(t, reloaded.FailedLoginAttempts)
	require.Nil(t, reloaded.LockedUntil)
}

func TestRecordSuccessResetsCounters(t *testing.T) {
	db, guard, clock := setupLockoutGuard(t)
	user := createTestUser(t, db, "dave")
	ctx := context.Background()

	_, err := guard.RecordFailure(ctx, user.ID)
	require.NoError(t, err)
	require.NoError(t, guard.RecordSuccess(ctx, user.ID, " 10.1.1.1 "))

	var reloaded models.User
	require.NoError(t, db.Take(&reloaded, "id = ?", user.ID).Error)
	require.Zero(t, reloaded.FailedLoginAttempts)
	require.Equal(t, "10.1.1.1", reloaded.LastLoginIP)
	require.NotNil(t, reloaded.LastLoginAt)
	require.True(t, reloaded.LastLoginAt.Equal(clock.Now()))
}

func TestRecordFailureUnknownUser(t *testing.T) {
	_, guard, _ := setupLockoutGuard(t)
	_, err := guard.RecordFailure(context.Background(), "missing")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
