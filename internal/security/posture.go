package security

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/santaserver/santaserver/internal/app"
	"github.com/santaserver/santaserver/internal/database"
	"github.com/santaserver/santaserver/internal/models"
)

// CheckStatus captures the outcome of a posture check.
type CheckStatus string

const (
	StatusPass CheckStatus = "pass"
	StatusWarn CheckStatus = "warn"
	StatusFail CheckStatus = "fail"
)

const (
	minJWTSecretBytes         = 32
	recommendedJWTSecretBytes = 48
	minPasswordLength         = 8
	minBcryptCost             = 10
	maxRefreshTTL             = 30 * 24 * time.Hour
	maxLockoutThreshold       = 10
)

// Check is the result of a single verification.
type Check struct {
	ID          string      `json:"id"`
	Status      CheckStatus `json:"status"`
	Message     string      `json:"message"`
	Remediation string      `json:"remediation,omitempty"`
	Details     any         `json:"details,omitempty"`
}

// Result aggregates all checks with a per-status count.
type Result struct {
	CheckedAt time.Time      `json:"checked_at"`
	Checks    []Check        `json:"checks"`
	Summary   map[string]int `json:"summary"`
}

// Failed returns the checks that did not pass.
func (r Result) Failed() []Check {
	var out []Check
	for _, check := range r.Checks {
		if check.Status != StatusPass {
			out = append(out, check)
		}
	}
	return out
}

// Auditor evaluates the authentication settings and the account store against
// baseline hardening rules.
type Auditor struct {
	db  *gorm.DB
	cfg app.AuthConfig
	now func() time.Time
}

// NewAuditor constructs an Auditor. A nil database degrades the account check to a warning.
func NewAuditor(db *gorm.DB, cfg app.AuthConfig, clock func() time.Time) *Auditor {
	if clock == nil {
		clock = time.Now
	}
	return &Auditor{db: db, cfg: cfg, now: clock}
}

// Run executes every check.
func (a *Auditor) Run(ctx context.Context) Result {
	checks := []Check{
		a.checkAdminAccount(ctx),
		a.checkJWTSecret(),
		a.checkPasswordPolicy(),
		a.checkLockout(),
		a.checkRefreshTTL(),
	}

	summary := map[string]int{
		string(StatusPass): 0,
		string(StatusWarn): 0,
		string(StatusFail): 0,
	}
	for _, check := range checks {
		summary[string(check.Status)]++
	}

	return Result{CheckedAt: a.now().UTC(), Checks: checks, Summary: summary}
}

func (a *Auditor) checkAdminAccount(ctx context.Context) Check {
	const id = "admin_account_present"
	if a.db == nil {
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     "Database unavailable; administrator presence not verified.",
			Remediation: "Restore database connectivity and re-run the check.",
		}
	}

	var count int64
	err := a.db.WithContext(ctx).
		Model(&models.User{}).
		Joins("JOIN user_roles ON user_roles.user_id = users.id").
		Joins("JOIN roles ON roles.id = user_roles.role_id").
		Where("roles.name = ? AND users.is_active = ?", database.AdminRoleName, true).
		Distinct("users.id").
		Count(&count).Error
	if err != nil {
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Could not count administrators: %v", err),
			Remediation: "Retry after resolving database errors.",
		}
	}

	if count == 0 {
		return Check{
			ID:          id,
			Status:      StatusFail,
			Message:     "No active administrator account.",
			Remediation: "Set bootstrap.admin.password and restart, or assign the admin role to an active user.",
		}
	}
	return Check{ID: id, Status: StatusPass, Message: "Active administrator present.", Details: map[string]any{"count": count}}
}

func (a *Auditor) checkJWTSecret() Check {
	const id = "jwt_secret_strength"
	length := len(a.cfg.JWT.Secret)

	switch {
	case length == 0:
		return Check{
			ID:          id,
			Status:      StatusFail,
			Message:     "JWT signing secret is missing.",
			Remediation: "Set SANTASERVER_AUTH_JWT_SECRET to a random value of at least 48 bytes.",
		}
	case length < minJWTSecretBytes:
		return Check{
			ID:          id,
			Status:      StatusFail,
			Message:     fmt.Sprintf("JWT signing secret is too short (%d bytes).", length),
			Remediation: "Use a randomly generated secret of at least 32 bytes.",
			Details:     map[string]any{"length": length},
		}
	case length < recommendedJWTSecretBytes:
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     fmt.Sprintf("JWT signing secret is %d bytes; 48 or more is recommended.", length),
			Remediation: "Rotate to a longer secret during the next maintenance window.",
			Details:     map[string]any{"length": length},
		}
	}
	return Check{ID: id, Status: StatusPass, Message: fmt.Sprintf("JWT signing secret is %d bytes.", length), Details: map[string]any{"length": length}}
}

func (a *Auditor) checkPasswordPolicy() Check {
	const id = "password_policy_strength"
	policy := a.cfg.PasswordPolicy()
	details := map[string]any{"min_length": policy.MinLength, "bcrypt_cost": policy.Cost}

	if policy.MinLength < minPasswordLength {
		return Check{
			ID:          id,
			Status:      StatusFail,
			Message:     fmt.Sprintf("Minimum password length %d is below %d.", policy.MinLength, minPasswordLength),
			Remediation: "Raise auth.password.min_length.",
			Details:     details,
		}
	}

	classes := 0
	for _, required := range []bool{policy.RequireUppercase, policy.RequireLowercase, policy.RequireDigit, policy.RequireSymbol} {
		if required {
			classes++
		}
	}
	details["character_classes"] = classes

	if classes < 3 || policy.Cost < minBcryptCost {
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     "Password policy is weaker than recommended.",
			Remediation: "Require at least three character classes and a bcrypt cost of 10 or more.",
			Details:     details,
		}
	}
	return Check{ID: id, Status: StatusPass, Message: "Password policy meets the baseline.", Details: details}
}

func (a *Auditor) checkLockout() Check {
	const id = "account_lockout"
	lockout := a.cfg.LockoutConfig(nil)
	details := map[string]any{"max_attempts": lockout.Threshold, "duration": lockout.Duration.String()}

	if lockout.Threshold > maxLockoutThreshold {
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Accounts lock only after %d failures.", lockout.Threshold),
			Remediation: "Lower auth.lockout.max_attempts to 10 or fewer.",
			Details:     details,
		}
	}
	return Check{ID: id, Status: StatusPass, Message: "Account lockout is enforced.", Details: details}
}

func (a *Auditor) checkRefreshTTL() Check {
	const id = "refresh_token_ttl"
	ttl := a.cfg.JWTServiceConfig(nil).RefreshTokenTTL
	details := map[string]any{"ttl": ttl.String()}

	if ttl > maxRefreshTTL {
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Refresh token lifetime %s exceeds %s.", ttl, maxRefreshTTL),
			Remediation: "Reduce auth.jwt.refresh_token_expire_days to 30 or lower.",
			Details:     details,
		}
	}
	return Check{ID: id, Status: StatusPass, Message: fmt.Sprintf("Refresh token lifetime is %s.", ttl), Details: details}
}
