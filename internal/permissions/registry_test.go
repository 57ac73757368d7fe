package permissions

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/santaserver/santaserver/internal/models"
)

func TestCoreResourcesRegistered(t *testing.T) {
	def, ok := Get(ResourceUsers)
	require.True(t, ok)
	require.ElementsMatch(t, []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete}, def.Actions)

	require.True(t, IsValid(ResourceSystem, ActionAudit))
	require.False(t, IsValid(ResourceSystem, ActionDelete))
	require.False(t, IsValid("printers", ActionRead))
	require.Len(t, GetAll(), 8)
}

func TestRegisterRejectsDuplicatesAndEmptyDefinitions(t *testing.T) {
	require.Error(t, Register(nil))
	require.ErrorIs(t, Register(&Definition{Resource: " "}), errEmptyResource)
	require.ErrorIs(t, Register(&Definition{Resource: "widgets"}), errNoActions)
	require.ErrorIs(t, Register(&Definition{Resource: ResourceUsers, Actions: []Action{ActionRead}}), errDuplicateDefine)
}

func TestGetReturnsCopy(t *testing.T) {
	def, ok := Get(ResourceProfile)
	require.True(t, ok)
	def.Actions[0] = "mutated"

	again, _ := Get(ResourceProfile)
	require.NotEqual(t, Action("mutated"), again.Actions[0])
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(models.PermissionMap{
		"users": {"read", "UPDATE"},
		"santa": {"approve"},
	}))

	err := Validate(models.PermissionMap{
		"users":    {"read", "launch"},
		"printers": {"read"},
	})
	require.ErrorIs(t, err, ErrInvalidPermissions)
	require.ErrorContains(t, err, `unknown action "launch" on "users"`)
	require.ErrorContains(t, err, `unknown resource "printers"`)
}

func TestNormalise(t *testing.T) {
	got := Normalise(models.PermissionMap{
		" Users ": {"read", "read", "Create"},
		"santa":   {},
	})
	require.Equal(t, models.PermissionMap{"users": {"create", "read"}}, got)
}

func TestRegistryReset(t *testing.T) {
	saved := GetAll()
	t.Cleanup(func() {
		reset()
		for _, def := range saved {
			require.NoError(t, Register(def))
		}
	})

	reset()
	require.Empty(t, GetAll())
	require.NoError(t, Register(&Definition{Resource: "widgets", Actions: []Action{ActionRead, ActionRead}}))
	def, ok := Get("widgets")
	require.True(t, ok)
	require.Equal(t, []Action{ActionRead}, def.Actions)
}
