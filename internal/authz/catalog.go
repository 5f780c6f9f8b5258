package authz

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

// RoleStore reads the persisted roles.
type RoleStore interface {
	ListRoles(ctx context.Context) ([]Role, error)
}

// RoleCatalog caches the role to hierarchy mapping. Lookups never touch the store.
type RoleCatalog struct {
	store RoleStore
	group singleflight.Group

	mu    sync.RWMutex
	roles map[RoleName]Role
}

// NewRoleCatalog builds an empty catalog backed by store. Call Load before serving requests.
func NewRoleCatalog(store RoleStore) *RoleCatalog {
	return &RoleCatalog{store: store, roles: map[RoleName]Role{}}
}

// NewStaticRoleCatalog builds a catalog from a fixed role list.
func NewStaticRoleCatalog(roles []Role) (*RoleCatalog, error) {
	index, err := indexRoles(roles)
	if err != nil {
		return nil, err
	}
	return &RoleCatalog{roles: index}, nil
}

// Load refreshes the cache from the store. Concurrent calls share one query.
func (c *RoleCatalog) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	_, err, _ := c.group.Do("roles", func() (interface{}, error) {
		roles, err := c.store.ListRoles(ctx)
		if err != nil {
			return nil, fmt.Errorf("authz: load roles: %w", err)
		}
		index, err := indexRoles(roles)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.roles = index
		c.mu.Unlock()
		return nil, nil
	})
	return err
}

// HierarchyOf returns the hierarchy of role, or UnknownHierarchy when it is not catalogued.
func (c *RoleCatalog) HierarchyOf(role RoleName) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if r, ok := c.roles[role]; ok {
		return r.Hierarchy
	}
	return UnknownHierarchy
}

// Lookup returns the catalogued role.
func (c *RoleCatalog) Lookup(role RoleName) (Role, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.roles[role]
	return r, ok
}

// AllHierarchies returns a copy of the mapping.
func (c *RoleCatalog) AllHierarchies() map[RoleName]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[RoleName]int, len(c.roles))
	for name, r := range c.roles {
		out[name] = r.Hierarchy
	}
	return out
}

// Roles returns all roles ordered from most to least privileged.
func (c *RoleCatalog) Roles() []Role {
	c.mu.RLock()
	out := make([]Role, 0, len(c.roles))
	for _, r := range c.roles {
		out = append(out, r)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Hierarchy < out[j].Hierarchy })
	return out
}

func indexRoles(roles []Role) (map[RoleName]Role, error) {
	index := make(map[RoleName]Role, len(roles))
	seen := make(map[int]RoleName, len(roles))
	for _, r := range roles {
		if r.Name == "" {
			return nil, &ConfigurationError{Reason: "role without name"}
		}
		if r.Hierarchy < 0 {
			return nil, &ConfigurationError{Role: r.Name, Reason: "negative hierarchy"}
		}
		if _, dup := index[r.Name]; dup {
			return nil, &ConfigurationError{Role: r.Name, Reason: "duplicate role name"}
		}
		if other, dup := seen[r.Hierarchy]; dup {
			return nil, &ConfigurationError{Role: r.Name, Reason: fmt.Sprintf("hierarchy %d already used by %s", r.Hierarchy, other)}
		}
		index[r.Name] = r
		seen[r.Hierarchy] = r.Name
	}
	return index, nil
}
