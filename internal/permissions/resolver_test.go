package permissions_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/santaserver/santaserver/internal/database"
	"github.com/santaserver/santaserver/internal/database/testutil"
	"github.com/santaserver/santaserver/internal/models"
	"github.com/santaserver/santaserver/internal/permissions"
)

func createUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("Passw0rd!"), bcrypt.MinCost)
	require.NoError(t, err)
	digest := string(hash)
	expires := time.Now().Add(time.Hour)
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

func roleByName(t *testing.T, db *gorm.DB, name string) models.Role {
	t.Helper()
	var role models.Role
	require.NoError(t, db.Take(&role, "name = ?", name).Error)
	return role
}

func TestEffectivePermissionsDirectRole(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	user := createUser(t, db, "admin-user")
	admin := roleByName(t, db, database.AdminRoleName)
	require.NoError(t, db.Create(&models.UserRole{UserID: user.ID, RoleID: admin.ID, AssignedAt: time.Now()}).Error)

	resolver, err := permissions.NewResolver(db)
	require.NoError(t, err)

	set, err := resolver.EffectivePermissions(context.Background(), user.ID)
	require.NoError(t, err)
	require.True(t, set.Has(permissions.ResourceUsers, permissions.ActionDelete))
	require.True(t, set.Has(permissions.ResourceSystem, permissions.ActionAudit))
	require.False(t, set.Has(permissions.ResourceApprovals, permissions.ActionVote))

	ok, err := resolver.HasPermission(context.Background(), user.ID, permissions.ResourceUsers, permissions.ActionCreate)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEffectivePermissionsUnionsGroupRoles(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	user := createUser(t, db, "member")
	baseline := roleByName(t, db, database.UserRoleName)
	require.NoError(t, db.Create(&models.UserRole{UserID: user.ID, RoleID: baseline.ID, AssignedAt: time.Now()}).Error)

	auditors := models.Role{
		Name:        "auditors",
		DisplayName: "Auditors",
		Permissions: datatypes.NewJSONType(models.PermissionMap{
			"system": {"audit"},
			"bogus":  {"read"},
		}),
	}
	require.NoError(t, db.Create(&auditors).Error)

	group := models.Group{Name: "security", SourceType: models.GroupSourceLocal}
	require.NoError(t, db.Create(&group).Error)
	require.NoError(t, db.Create(&models.GroupRole{GroupID: group.ID, RoleID: auditors.ID, AssignedAt: time.Now()}).Error)
	require.NoError(t, db.Create(&models.UserGroup{UserID: user.ID, GroupID: group.ID, JoinedAt: time.Now()}).Error)

	resolver, err := permissions.NewResolver(db)
	require.NoError(t, err)

	set, err := resolver.EffectivePermissions(context.Background(), user.ID)
	require.NoError(t, err)
	require.True(t, set.Has(permissions.ResourceApprovals, permissions.ActionVote))
	require.True(t, set.Has(permissions.ResourceSystem, permissions.ActionAudit))
	require.False(t, set.Has("bogus", permissions.ActionRead))
	require.False(t, set.Has(permissions.ResourceUsers, permissions.ActionRead))
}

func TestHasPermissionWithoutRoles(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	user := createUser(t, db, "nobody")

	resolver, err := permissions.NewResolver(db)
	require.NoError(t, err)

	ok, err := resolver.HasPermission(context.Background(), user.ID, permissions.ResourceUsers, permissions.ActionRead)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = resolver.EffectivePermissions(context.Background(), " ")
	require.Error(t, err)
}
