package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/santaserver/santaserver/internal/models"
	"github.com/santaserver/santaserver/pkg/metrics"
)

const (
	// DefaultLockoutThreshold is the number of consecutive failures that locks an account.
	DefaultLockoutThreshold = 5
	// DefaultLockoutDuration is how long a lock stays in force.
	DefaultLockoutDuration = 15 * time.Minute
)

// LockoutConfig tunes the LockoutGuard.
type LockoutConfig struct {
	Threshold int
	Duration  time.Duration
	Clock     func() time.Time
}

// LockState is the result of a pre-authentication lock check.
type LockState struct {
	Locked      bool
	LockedUntil *time.Time
	// Unlocked is set when an elapsed lock was cleared by this check.
	Unlocked bool
}

// FailureResult describes the counter after a failed attempt was recorded.
type FailureResult struct {
	Attempts    int
	LockedNow   bool
	LockedUntil *time.Time
}

// LockoutGuard tracks consecutive failures per account and enforces temporary locks.
type LockoutGuard struct {
	db        *gorm.DB
	threshold int
	duration  time.Duration
	now       func() time.Time
}

// NewLockoutGuard builds a guard over the users table.
func NewLockoutGuard(db *gorm.DB, cfg LockoutConfig) (*LockoutGuard, error) {
	if db == nil {
		return nil, errors.New("lockout guard: db is required")
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = DefaultLockoutThreshold
	}
	duration := cfg.Duration
	if duration <= 0 {
		duration = DefaultLockoutDuration
	}
	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}
	return &LockoutGuard{db: db, threshold: threshold, duration: duration, now: clock}, nil
}

// Threshold returns the configured failure threshold.
func (g *LockoutGuard) Threshold() int {
	return g.threshold
}

// Check reports whether user is currently locked. A lock whose deadline has passed is
// cleared together with the failure counter, and user is updated in place.
func (g *LockoutGuard) Check(ctx context.Context, user *models.User) (LockState, error) {
	if user == nil {
		return LockState{}, errors.New("lockout guard: user is required")
	}
	if user.LockedUntil == nil {
		return LockState{}, nil
	}

	now := g.now()
	if user.LockedUntil.After(now) {
		until := *user.LockedUntil
		return LockState{Locked: true, LockedUntil: &until}, nil
	}

	result := g.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND locked_until IS NOT NULL", user.ID).
		Updates(map[string]any{
			"failed_login_attempts": 0,
			"locked_until":          nil,
		})
	if result.Error != nil {
		return LockState{}, fmt.Errorf("lockout guard: clear elapsed lock: %w", result.Error)
	}

	user.LockedUntil = nil
	user.FailedLoginAttempts = 0
	return LockState{Unlocked: result.RowsAffected > 0}, nil
}

// RecordFailure increments the failure counter and applies a lock when the threshold is
// reached. Concurrent failures never lose increments and only one caller observes
// LockedNow for a given lock.
func (g *LockoutGuard) RecordFailure(ctx context.Context, userID string) (FailureResult, error) {
	if strings.TrimSpace(userID) == "" {
		return FailureResult{}, errors.New("lockout guard: user id is required")
	}

	var result FailureResult
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inc := tx.Model(&models.User{}).
			Where("id = ?", userID).
			UpdateColumn("failed_login_attempts", gorm.Expr("failed_login_attempts + ?", 1))
		if inc.Error != nil {
			return fmt.Errorf("increment failures: %w", inc.Error)
		}
		if inc.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		until := g.now().Add(g.duration)
		lock := tx.Model(&models.User{}).
			Where("id = ? AND failed_login_attempts >= ? AND locked_until IS NULL", userID, g.threshold).
			UpdateColumn("locked_until", until)
		if lock.Error != nil {
			return fmt.Errorf("apply lock: %w", lock.Error)
		}

		var current models.User
		if err := tx.Select("id", "failed_login_attempts", "locked_until").
			Take(&current, "id = ?", userID).Error; err != nil {
			return fmt.Errorf("reload counters: %w", err)
		}

		result.Attempts = current.FailedLoginAttempts
		result.LockedNow = lock.RowsAffected == 1
		result.LockedUntil = current.LockedUntil
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return FailureResult{}, err
		}
		return FailureResult{}, fmt.Errorf("lockout guard: record failure: %w", err)
	}

	if result.LockedNow {
		metrics.AccountLockouts.Inc()
	}
	return result, nil
}

// RecordSuccess resets the failure counter and stamps the login time and address.
func (g *LockoutGuard) RecordSuccess(ctx context.Context, userID, ip string) error {
	now := g.now()
	err := g.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumns(map[string]any{
			"failed_login_attempts": 0,
			"locked_until":          nil,
			"last_login_at":         now,
			"last_login_ip":         strings.TrimSpace(ip),
		}).Error
	if err != nil {
		return fmt.Errorf("lockout guard: record success: %w", err)
	}
	return nil
}
