package permissions

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetOperations(t *testing.T) {
	set := NewSet()
	set.Add(ResourceUsers, ActionRead)
	set.Add("", ActionRead)
	set.Add(ResourceUsers, "")

	require.True(t, set.Has(ResourceUsers, ActionRead))
	require.False(t, set.Has(ResourceUsers, ActionDelete))
	require.False(t, set.Has(ResourceGroups, ActionRead))
	require.Len(t, set, 1)

	other := NewSet()
	other.Add(ResourceUsers, ActionDelete)
	other.Add(ResourceGroups, ActionRead)
	set.Merge(other)

	require.True(t, set.Has(ResourceUsers, ActionDelete))
	require.True(t, set.Has(ResourceGroups, ActionRead))
	require.Equal(t, []string{"delete", "read"}, set.Map()["users"])
}
