package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/santaserver/santaserver/internal/auditctx"
	"github.com/santaserver/santaserver/internal/auth"
	"github.com/santaserver/santaserver/internal/auth/providers"
	"github.com/santaserver/santaserver/internal/database"
	"github.com/santaserver/santaserver/internal/database/testutil"
	"github.com/santaserver/santaserver/internal/models"
	"github.com/santaserver/santaserver/internal/permissions"
)

const testPassword = "Passw0rd!"

type testClock struct {
	mu      sync.Mutex
	current time.Time
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

type serviceEnv struct {
	db       *gorm.DB
	clock    *testClock
	policy   auth.PasswordPolicy
	sessions *auth.SessionService
	audit    *AuditService
	auth     *AuthService
	users    *UserService
	roles    *RoleService
	groups   *GroupService
}

func newServiceEnv(t *testing.T) *serviceEnv {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	clock := &testClock{current: time.Date(2024, 12, 1, 9, 0, 0, 0, time.UTC)}

	policy := auth.DefaultPasswordPolicy()
	policy.Cost = bcrypt.MinCost

	jwtSvc, err := auth.NewJWTService(auth.JWTConfig{Secret: "services-secret", Clock: clock.Now})
	require.NoError(t, err)
	sessions, err := auth.NewSessionService(db, jwtSvc, auth.SessionConfig{Clock: clock.Now})
	require.NoError(t, err)
	guard, err := auth.NewLockoutGuard(db, auth.LockoutConfig{Clock: clock.Now})
	require.NoError(t, err)
	provider, err := providers.NewLocalProvider(db, policy, guard)
	require.NoError(t, err)
	resolver, err := permissions.NewResolver(db)
	require.NoError(t, err)
	audit, err := NewAuditService(db, WithAuditClock(clock.Now))
	require.NoError(t, err)

	authSvc, err := NewAuthService(db, provider, sessions, policy, resolver, audit, AuthServiceConfig{Clock: clock.Now})
	require.NoError(t, err)
	users, err := NewUserService(db, policy, sessions, audit, clock.Now)
	require.NoError(t, err)
	roles, err := NewRoleService(db, audit)
	require.NoError(t, err)
	groups, err := NewGroupService(db, audit, clock.Now)
	require.NoError(t, err)

	return &serviceEnv{
		db:       db,
		clock:    clock,
		policy:   policy,
		sessions: sessions,
		audit:    audit,
		auth:     authSvc,
		users:    users,
		roles:    roles,
		groups:   groups,
	}
}

// seedAdmin creates the bootstrap administrator and returns a context acting as them.
func (e *serviceEnv) seedAdmin(t *testing.T) (*models.User, context.Context) {
	t.Helper()

	digest, err := e.policy.Hash("Admin123!")
	require.NoError(t, err)
	admin, _, err := database.EnsureBootstrapAdmin(context.Background(), e.db, database.BootstrapAdmin{
		Username:          "admin",
		Email:             "admin@example.com",
		PasswordHash:      digest,
		PasswordExpiresAt: e.clock.Now().AddDate(0, 0, 90),
		Now:               e.clock.Now(),
	})
	require.NoError(t, err)

	ctx := auditctx.WithActor(context.Background(), auditctx.Actor{
		UserID:    admin.ID,
		Username:  admin.Username,
		IPAddress: "10.0.0.1",
		UserAgent: "admin-console",
		RequestID: "req-admin",
	})
	return admin, ctx
}

func (e *serviceEnv) createUser(t *testing.T, ctx context.Context, username string, roles ...string) *UserView {
	t.Helper()

	view, err := e.users.Create(ctx, CreateUserInput{
		Username: username,
		Email:    username + "@example.com",
		Password: testPassword,
		Roles:    roles,
	})
	require.NoError(t, err)
	return view
}

func (e *serviceEnv) auditEvents(t *testing.T, eventType string) []models.SecurityAuditEvent {
	t.Helper()

	var events []models.SecurityAuditEvent
	require.NoError(t, e.db.Where("event_type = ?", eventType).Order("timestamp ASC").Find(&events).Error)
	return events
}
