package permissions

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santaserver/santaserver/internal/models"
)

// Resource names a protected domain object.
type Resource string

// Action names an operation on a resource.
type Action string

const (
	ResourceUsers     Resource = "users"
	ResourceGroups    Resource = "groups"
	ResourceRoles     Resource = "roles"
	ResourceSanta     Resource = "santa"
	ResourceSystem    Resource = "system"
	ResourceApprovals Resource = "approvals"
	ResourceProfile   Resource = "profile"
	ResourceAudit     Resource = "audit"
)

const (
	ActionCreate    Action = "create"
	ActionRead      Action = "read"
	ActionUpdate    Action = "update"
	ActionDelete    Action = "delete"
	ActionApprove   Action = "approve"
	ActionConfigure Action = "configure"
	ActionMonitor   Action = "monitor"
	ActionAudit     Action = "audit"
	ActionRequest   Action = "request"
	ActionVote      Action = "vote"
)

// Definition declares a resource and the actions that may be granted on it.
type Definition struct {
	Resource    Resource
	Actions     []Action
	Description string
}

type resourceRegistry struct {
	mu        sync.RWMutex
	resources map[Resource]*Definition
}

var globalRegistry = &resourceRegistry{
	resources: make(map[Resource]*Definition),
}

var (
	errNilDefinition   = errors.New("permission: nil definition")
	errEmptyResource   = errors.New("permission: resource is required")
	errNoActions       = errors.New("permission: at least one action is required")
	errDuplicateDefine = errors.New("permission: resource already registered")

	// ErrInvalidPermissions is wrapped by Validate when a map names unknown resources or actions.
	ErrInvalidPermissions = errors.New("permission: invalid permissions")
)

// Register adds a resource definition to the global registry.
func Register(def *Definition) error {
	if def == nil {
		return errNilDefinition
	}

	resource := Resource(normalise(string(def.Resource)))
	if resource == "" {
		return errEmptyResource
	}

	actions := make([]Action, 0, len(def.Actions))
	seen := make(map[Action]struct{}, len(def.Actions))
	for _, action := range def.Actions {
		action = Action(normalise(string(action)))
		if action == "" {
			continue
		}
		if _, dup := seen[action]; dup {
			continue
		}
		seen[action] = struct{}{}
		actions = append(actions, action)
	}
	if len(actions) == 0 {
		return errNoActions
	}

	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	if _, exists := globalRegistry.resources[resource]; exists {
		return fmt.Errorf("%w: %s", errDuplicateDefine, resource)
	}

	globalRegistry.resources[resource] = &Definition{
		Resource:    resource,
		Actions:     actions,
		Description: def.Description,
	}
	return nil
}

// Get returns a copy of the resource definition when registered.
func Get(resource Resource) (*Definition, bool) {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	def, ok := globalRegistry.resources[resource]
	if !ok {
		return nil, false
	}
	return cloneDefinition(def), true
}

// GetAll returns every registered definition ordered by resource name.
func GetAll() []*Definition {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	out := make([]*Definition, 0, len(globalRegistry.resources))
	for _, def := range globalRegistry.resources {
		out = append(out, cloneDefinition(def))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Resource < out[j].Resource })
	return out
}

// IsValid reports whether action is registered for resource.
func IsValid(resource Resource, action Action) bool {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	def, ok := globalRegistry.resources[resource]
	if !ok {
		return false
	}
	for _, candidate := range def.Actions {
		if candidate == action {
			return true
		}
	}
	return false
}

// Validate checks every resource/action pair in perms against the registry and returns a
// single error naming each invalid entry.
func Validate(perms models.PermissionMap) error {
	var invalid []string
	for resource, actions := range perms {
		res := Resource(normalise(resource))
		if _, ok := Get(res); !ok {
			invalid = append(invalid, fmt.Sprintf("unknown resource %q", resource))
			continue
		}
		for _, action := range actions {
			if !IsValid(res, Action(normalise(action))) {
				invalid = append(invalid, fmt.Sprintf("unknown action %q on %q", action, resource))
			}
		}
	}
	if len(invalid) == 0 {
		return nil
	}
	sort.Strings(invalid)
	return fmt.Errorf("%w: %s", ErrInvalidPermissions, strings.Join(invalid, "; "))
}

// Normalise lower-cases, trims and de-duplicates a permission map. Empty entries are dropped.
func Normalise(perms models.PermissionMap) models.PermissionMap {
	return FromMap(perms).Map()
}

func cloneDefinition(def *Definition) *Definition {
	cp := *def
	cp.Actions = append([]Action(nil), def.Actions...)
	return &cp
}

func normalise(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// reset clears registry entries. Intended for testing only.
func reset() {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	globalRegistry.resources = make(map[Resource]*Definition)
}
