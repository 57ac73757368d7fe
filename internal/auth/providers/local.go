package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/santaserver/santaserver/internal/auth"
	"github.com/santaserver/santaserver/internal/models"
	"github.com/santaserver/santaserver/pkg/crypto"
)

// OutcomeKind enumerates the results of a credential check.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeBadCredentials
	OutcomeAccountLocked
	OutcomeAccountInactive
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeBadCredentials:
		return "bad_credentials"
	case OutcomeAccountLocked:
		return "account_locked"
	case OutcomeAccountInactive:
		return "account_inactive"
	default:
		return "unknown"
	}
}

// Failure reasons recorded in the audit log. They never reach the response body.
const (
	ReasonUserNotFound    = "user_not_found"
	ReasonInvalidPassword = "invalid_password"
	ReasonNoPasswordSet   = "no_password_set"
	ReasonAccountInactive = "account_inactive"
	ReasonAccountLocked   = "account_locked"
)

// Outcome is the result of Authenticate. User is set whenever the identifier matched a row.
type Outcome struct {
	Kind           OutcomeKind
	User           *models.User
	Reason         string
	FailedAttempts int
	LockedNow      bool
	LockedUntil    *time.Time
}

// AuthenticateInput contains metadata required to authenticate a local user.
type AuthenticateInput struct {
	Identifier string
	Password   string
	IPAddress  string
}

// LocalProvider implements username/password authentication with account lockout controls.
type LocalProvider struct {
	db        *gorm.DB
	policy    auth.PasswordPolicy
	guard     *auth.LockoutGuard
	dummyHash string
}

// NewLocalProvider wires the credential check to the password policy and lockout guard.
func NewLocalProvider(db *gorm.DB, policy auth.PasswordPolicy, guard *auth.LockoutGuard) (*LocalProvider, error) {
	if db == nil {
		return nil, errors.New("local provider: db is required")
	}
	if guard == nil {
		return nil, errors.New("local provider: lockout guard is required")
	}

	// dummyHash is compared on every path without a stored digest so each failure costs
	// one bcrypt comparison at the policy cost.
	seed, err := crypto.GenerateToken(24)
	if err != nil {
		return nil, fmt.Errorf("local provider: seed dummy hash: %w", err)
	}
	dummy, err := policy.Hash(seed)
	if err != nil {
		return nil, fmt.Errorf("local provider: dummy hash: %w", err)
	}

	return &LocalProvider{db: db, policy: policy, guard: guard, dummyHash: dummy}, nil
}

// Authenticate checks the identifier (username or email) and password. The error return is
// reserved for store failures; every credential result is expressed in the Outcome.
func (p *LocalProvider) Authenticate(ctx context.Context, input AuthenticateInput) (Outcome, error) {
	identity := strings.ToLower(strings.TrimSpace(input.Identifier))
	if identity == "" {
		p.policy.Verify(input.Password, p.dummyHash)
		return Outcome{Kind: OutcomeBadCredentials, Reason: ReasonUserNotFound}, nil
	}

	var user models.User
	err := p.db.WithContext(ctx).
		Where("LOWER(username) = ? OR LOWER(email) = ?", identity, identity).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		p.policy.Verify(input.Password, p.dummyHash)
		return Outcome{Kind: OutcomeBadCredentials, Reason: ReasonUserNotFound}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("local provider: query user: %w", err)
	}

	if !user.IsActive {
		p.policy.Verify(input.Password, p.dummyHash)
		return Outcome{Kind: OutcomeAccountInactive, User: &user, Reason: ReasonAccountInactive}, nil
	}

	state, err := p.guard.Check(ctx, &user)
	if err != nil {
		return Outcome{}, err
	}
	if state.Locked {
		return Outcome{
			Kind:           OutcomeAccountLocked,
			User:           &user,
			Reason:         ReasonAccountLocked,
			FailedAttempts: user.FailedLoginAttempts,
			LockedUntil:    state.LockedUntil,
		}, nil
	}

	if !user.IsLocal() || user.PasswordHash == nil || *user.PasswordHash == "" {
		p.policy.Verify(input.Password, p.dummyHash)
		return Outcome{Kind: OutcomeBadCredentials, User: &user, Reason: ReasonNoPasswordSet}, nil
	}

	if !p.policy.Verify(input.Password, *user.PasswordHash) {
		failure, err := p.guard.RecordFailure(ctx, user.ID)
		if err != nil {
			return Outcome{}, err
		}
		user.FailedLoginAttempts = failure.Attempts
		user.LockedUntil = failure.LockedUntil
		return Outcome{
			Kind:           OutcomeBadCredentials,
			User:           &user,
			Reason:         ReasonInvalidPassword,
			FailedAttempts: failure.Attempts,
			LockedNow:      failure.LockedNow,
			LockedUntil:    failure.LockedUntil,
		}, nil
	}

	ip := strings.TrimSpace(input.IPAddress)
	if err := p.guard.RecordSuccess(ctx, user.ID, ip); err != nil {
		return Outcome{}, err
	}
	if err := p.db.WithContext(ctx).Take(&user, "id = ?", user.ID).Error; err != nil {
		return Outcome{}, fmt.Errorf("local provider: reload user: %w", err)
	}

	return Outcome{Kind: OutcomeSuccess, User: &user}, nil
}
