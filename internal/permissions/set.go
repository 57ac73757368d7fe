package permissions

import (
	"sort"

	"github.com/santaserver/santaserver/internal/models"
)

// Set is a resolved collection of resource/action grants.
type Set map[Resource]map[Action]struct{}

// NewSet returns an empty set.
func NewSet() Set {
	return make(Set)
}

// FromMap converts a stored permission map into a Set, normalising names.
func FromMap(perms models.PermissionMap) Set {
	set := NewSet()
	for resource, actions := range perms {
		for _, action := range actions {
			set.Add(Resource(normalise(resource)), Action(normalise(action)))
		}
	}
	return set
}

// Add grants action on resource. Empty names are ignored.
func (s Set) Add(resource Resource, action Action) {
	if resource == "" || action == "" {
		return
	}
	actions, ok := s[resource]
	if !ok {
		actions = make(map[Action]struct{})
		s[resource] = actions
	}
	actions[action] = struct{}{}
}

// Has reports whether action is granted on resource.
func (s Set) Has(resource Resource, action Action) bool {
	_, ok := s[resource][action]
	return ok
}

// Merge adds every grant in other to s.
func (s Set) Merge(other Set) {
	for resource, actions := range other {
		for action := range actions {
			s.Add(resource, action)
		}
	}
}

// Map renders the set as a permission map with sorted actions.
func (s Set) Map() models.PermissionMap {
	out := make(models.PermissionMap, len(s))
	for resource, actions := range s {
		list := make([]string, 0, len(actions))
		for action := range actions {
			list = append(list, string(action))
		}
		sort.Strings(list)
		out[string(resource)] = list
	}
	return out
}
