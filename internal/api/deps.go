package api

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/santaserver/santaserver/internal/app"
	"github.com/santaserver/santaserver/internal/auth"
	"github.com/santaserver/santaserver/internal/auth/providers"
	"github.com/santaserver/santaserver/internal/cache"
	"github.com/santaserver/santaserver/internal/middleware"
	"github.com/santaserver/santaserver/internal/monitoring"
	"github.com/santaserver/santaserver/internal/monitoring/checks"
	"github.com/santaserver/santaserver/internal/permissions"
	"github.com/santaserver/santaserver/internal/security"
	"github.com/santaserver/santaserver/internal/services"
)

// Options adjusts how Dependencies are assembled.
type Options struct {
	// Clock replaces time.Now in every time-sensitive component.
	Clock func() time.Time
	// Cache backs the revoked-token markers and login counters. Without it revocation
	// is checked against the database only and counters stay in process memory.
	Cache cache.Store
	// RateStore overrides the login counter backend.
	RateStore middleware.RateStore
	// PasswordPolicy overrides the policy derived from configuration.
	PasswordPolicy *auth.PasswordPolicy
}

// Dependencies is the wired service graph behind the HTTP API.
type Dependencies struct {
	DB        *gorm.DB
	Clock     func() time.Time
	Policy    auth.PasswordPolicy
	JWT       *auth.JWTService
	Sessions  *auth.SessionService
	Resolver  *permissions.Resolver
	Audit     *services.AuditService
	Auth      *services.AuthService
	Users     *services.UserService
	Roles     *services.RoleService
	Groups    *services.GroupService
	RateStore middleware.RateStore
	Health    *monitoring.HealthManager
	Posture   *security.Auditor
}

// NewDependencies builds the services from configuration.
func NewDependencies(db *gorm.DB, cfg *app.Config, opts Options) (*Dependencies, error) {
	if db == nil {
		return nil, errors.New("api: database handle must be provided")
	}
	if cfg == nil {
		return nil, errors.New("api: config must be provided")
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	policy := cfg.Auth.PasswordPolicy()
	if opts.PasswordPolicy != nil {
		policy = *opts.PasswordPolicy
	}

	jwtSvc, err := auth.NewJWTService(cfg.Auth.JWTServiceConfig(clock))
	if err != nil {
		return nil, fmt.Errorf("api: jwt service: %w", err)
	}

	var revocations *auth.RevocationCache
	if opts.Cache != nil {
		revocations = auth.NewRevocationCache(opts.Cache, clock)
	}
	sessions, err := auth.NewSessionService(db, jwtSvc, cfg.Auth.SessionServiceConfig(clock, revocations))
	if err != nil {
		return nil, fmt.Errorf("api: session service: %w", err)
	}

	guard, err := auth.NewLockoutGuard(db, cfg.Auth.LockoutConfig(clock))
	if err != nil {
		return nil, fmt.Errorf("api: lockout guard: %w", err)
	}
	provider, err := providers.NewLocalProvider(db, policy, guard)
	if err != nil {
		return nil, fmt.Errorf("api: local provider: %w", err)
	}
	resolver, err := permissions.NewResolver(db)
	if err != nil {
		return nil, fmt.Errorf("api: permission resolver: %w", err)
	}

	audit, err := services.NewAuditService(db, services.WithAuditClock(clock))
	if err != nil {
		return nil, err
	}
	authSvc, err := services.NewAuthService(db, provider, sessions, policy, resolver, audit, cfg.Auth.AuthServiceConfig(clock))
	if err != nil {
		return nil, err
	}
	users, err := services.NewUserService(db, policy, sessions, audit, clock)
	if err != nil {
		return nil, err
	}
	roles, err := services.NewRoleService(db, audit)
	if err != nil {
		return nil, err
	}
	groups, err := services.NewGroupService(db, audit, clock)
	if err != nil {
		return nil, err
	}

	return &Dependencies{
		DB:        db,
		Clock:     clock,
		Policy:    policy,
		JWT:       jwtSvc,
		Sessions:  sessions,
		Resolver:  resolver,
		Audit:     audit,
		Auth:      authSvc,
		Users:     users,
		Roles:     roles,
		Groups:    groups,
		RateStore: rateStore(opts, clock),
		Health:    healthManager(db, opts.Cache),
		Posture:   security.NewAuditor(db, cfg.Auth, clock),
	}, nil
}

func rateStore(opts Options, clock func() time.Time) middleware.RateStore {
	if opts.RateStore != nil {
		return opts.RateStore
	}
	if opts.Cache != nil {
		return middleware.NewStoreRateStore(opts.Cache)
	}
	return middleware.NewMemoryRateStore(middleware.WithRateClock(clock))
}

func healthManager(db *gorm.DB, store cache.Store) *monitoring.HealthManager {
	health := monitoring.NewHealthManager(checks.Database(db, 0))
	if pinger, ok := store.(checks.Pinger); ok {
		health.Register(checks.Redis(pinger, 0))
	}
	return health
}
