package authz

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	calls atomic.Int32
	roles []Role
	err   error
}

func (s *countingStore) ListRoles(ctx context.Context) ([]Role, error) {
	s.calls.Add(1)
	return s.roles, s.err
}

func TestHierarchyOfUnknownRole(t *testing.T) {
	catalog, err := NewStaticRoleCatalog(seededRoles())
	require.NoError(t, err)

	assert.Equal(t, 30, catalog.HierarchyOf(RoleAdvisor))
	assert.Equal(t, UnknownHierarchy, catalog.HierarchyOf("janitor"))
	assert.Equal(t, UnknownHierarchy, catalog.HierarchyOf(""))
}

func TestAllHierarchiesReturnsCopy(t *testing.T) {
	catalog, err := NewStaticRoleCatalog(seededRoles())
	require.NoError(t, err)

	all := catalog.AllHierarchies()
	assert.Equal(t, map[RoleName]int{RoleNewcomer: 40, RoleAdvisor: 30, RoleManagingAdvisor: 20, RoleAdmin: 10}, all)
	all[RoleAdmin] = 99
	assert.Equal(t, 10, catalog.HierarchyOf(RoleAdmin))

	roles := catalog.Roles()
	require.Len(t, roles, 4)
	assert.Equal(t, RoleAdmin, roles[0].Name)
	assert.Equal(t, RoleNewcomer, roles[3].Name)
}

func TestCatalogRejectsInvalidRoles(t *testing.T) {
	cases := map[string][]Role{
		"duplicate name":      {{Name: RoleAdmin, Hierarchy: 1}, {Name: RoleAdmin, Hierarchy: 2}},
		"duplicate hierarchy": {{Name: RoleAdmin, Hierarchy: 1}, {Name: RoleAdvisor, Hierarchy: 1}},
		"negative":            {{Name: RoleAdmin, Hierarchy: -1}},
		"empty name":          {{Name: "", Hierarchy: 3}},
	}
	for name, roles := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewStaticRoleCatalog(roles)
			assert.True(t, IsConfigurationError(err))
		})
	}
}

func TestLoadSharesConcurrentQueries(t *testing.T) {
	store := &countingStore{roles: seededRoles()}
	catalog := NewRoleCatalog(store)
	assert.Equal(t, UnknownHierarchy, catalog.HierarchyOf(RoleAdmin))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, catalog.Load(context.Background()))
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, store.calls.Load(), int32(8))
	assert.Equal(t, 10, catalog.HierarchyOf(RoleAdmin))
}

func TestLoadKeepsPreviousRolesOnError(t *testing.T) {
	store := &countingStore{roles: seededRoles()}
	catalog := NewRoleCatalog(store)
	require.NoError(t, catalog.Load(context.Background()))

	store.err = errors.New("connection reset")
	err := catalog.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, 20, catalog.HierarchyOf(RoleManagingAdvisor))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Managing advisor", RoleManagingAdvisor.DisplayName())
	assert.Equal(t, "Team lead", RoleName("team_lead").DisplayName())
	assert.Equal(t, "", RoleName("").DisplayName())
}
