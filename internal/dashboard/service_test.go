package dashboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseflow/caseflow/internal/activity"
	"github.com/caseflow/caseflow/internal/authz"
	"github.com/caseflow/caseflow/internal/shared"
)

type memoryRepo struct {
	mu              sync.Mutex
	settings        map[int64]map[Panel]bool
	unassignedCalls int
	includeHidden   bool
	notesErr        error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{settings: map[int64]map[Panel]bool{}}
}

func (m *memoryRepo) Settings(_ context.Context, userID int64) (map[Panel]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[Panel]bool{}
	for k, v := range m.settings[userID] {
		out[k] = v
	}
	return out, nil
}

func (m *memoryRepo) SaveSetting(_ context.Context, userID int64, panel Panel, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settings[userID] == nil {
		m.settings[userID] = map[Panel]bool{}
	}
	m.settings[userID][panel] = enabled
	return nil
}

func (m *memoryRepo) UnassignedClients(context.Context, int) ([]ClientItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unassignedCalls++
	return []ClientItem{{ID: 11, Name: "Otto Open"}}, nil
}

func (m *memoryRepo) ClientsOf(_ context.Context, userID int64, _ int) ([]ClientItem, error) {
	if userID != 3 {
		return nil, nil
	}
	return []ClientItem{{ID: 10, Name: "Carla Client"}}, nil
}

func (m *memoryRepo) RecentlyAssigned(context.Context, time.Time, int) ([]ClientItem, error) {
	return []ClientItem{{ID: 10, Name: "Carla Client"}}, nil
}

func (m *memoryRepo) RecentNotes(_ context.Context, _ int64, includeHidden bool, _ int) ([]NoteItem, error) {
	m.mu.Lock()
	m.includeHidden = includeHidden
	m.mu.Unlock()
	if m.notesErr != nil {
		return nil, m.notesErr
	}
	return []NoteItem{{ID: 1, ClientID: 10, Message: "first call"}}, nil
}

type staticActivity []activity.Item

func (s staticActivity) Recent(context.Context, int) ([]activity.Item, error) {
	return s, nil
}

var (
	admin    = authz.Principal{UserID: 1, Role: authz.RoleAdmin}
	manager  = authz.Principal{UserID: 2, Role: authz.RoleManagingAdvisor}
	advisor  = authz.Principal{UserID: 3, Role: authz.RoleAdvisor}
	newcomer = authz.Principal{UserID: 4, Role: authz.RoleNewcomer}
)

func newTestService(t *testing.T, repo Repository, cache *Cache) *Service {
	t.Helper()
	catalog, err := authz.NewStaticRoleCatalog([]authz.Role{
		{ID: 1, Name: authz.RoleAdmin, Hierarchy: 10},
		{ID: 2, Name: authz.RoleManagingAdvisor, Hierarchy: 20},
		{ID: 3, Name: authz.RoleAdvisor, Hierarchy: 30},
		{ID: 4, Name: authz.RoleNewcomer, Hierarchy: 40},
	})
	require.NoError(t, err)
	evaluator := authz.NewEvaluator(catalog, authz.DefaultPolicies())
	return NewService(repo, evaluator, staticActivity{{ID: 7, Action: activity.ActionLogin, Table: "user"}}, cache, nil)
}

func TestLoadRespectsPanelRights(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, nil)
	ctx := context.Background()

	d, err := svc.Load(ctx, advisor)
	require.NoError(t, err)
	assert.False(t, d.Enabled(PanelUserActivity))
	assert.Nil(t, d.UserActivity)
	assert.Len(t, d.MyClients, 1)
	assert.Len(t, d.UnassignedClients, 1)
	assert.Len(t, d.RecentNotes, 1)
	assert.False(t, repo.includeHidden)

	d, err = svc.Load(ctx, manager)
	require.NoError(t, err)
	assert.True(t, d.Enabled(PanelUserActivity))
	require.Len(t, d.UserActivity, 1)
	assert.Equal(t, int64(7), d.UserActivity[0].ID)
	assert.True(t, repo.includeHidden)
}

func TestLoadSkipsDisabledPanels(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, nil)
	ctx := context.Background()

	require.NoError(t, svc.TogglePanel(ctx, newcomer, newcomer.UserID, PanelUnassignedClients, false))
	d, err := svc.Load(ctx, newcomer)
	require.NoError(t, err)
	assert.Nil(t, d.UnassignedClients)
	assert.Zero(t, repo.unassignedCalls)
	assert.False(t, d.Panels[0].Enabled)
	assert.True(t, d.Panels[0].Available)
}

func TestLoadPropagatesPanelErrors(t *testing.T) {
	repo := newMemoryRepo()
	repo.notesErr = errors.New("boom")
	svc := newTestService(t, repo, nil)

	_, err := svc.Load(context.Background(), advisor)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recent_notes")
}

func TestTogglePanelAuthorization(t *testing.T) {
	svc := newTestService(t, newMemoryRepo(), nil)
	ctx := context.Background()

	require.NoError(t, svc.TogglePanel(ctx, advisor, advisor.UserID, PanelMyClients, false))
	require.ErrorIs(t, svc.TogglePanel(ctx, manager, advisor.UserID, PanelMyClients, true), authz.ErrForbidden)
	require.NoError(t, svc.TogglePanel(ctx, admin, advisor.UserID, PanelMyClients, true))
	require.ErrorIs(t, svc.TogglePanel(ctx, advisor, advisor.UserID, Panel("weather"), true), shared.ErrInvalidInput)
}

func TestSharedPanelsAreCached(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newMemoryRepo()
	svc := newTestService(t, repo, NewCache(client, time.Minute))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := svc.Load(ctx, advisor)
		require.NoError(t, err)
		require.Len(t, d.UnassignedClients, 1)
		assert.Equal(t, "Otto Open", d.UnassignedClients[0].Name)
	}
	assert.Equal(t, 1, repo.unassignedCalls)

	require.NoError(t, svc.Invalidate(ctx))
	_, err := svc.Load(ctx, advisor)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.unassignedCalls)
}

func TestCacheFallsBackWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	repo := newMemoryRepo()
	svc := newTestService(t, repo, NewCache(client, time.Minute))
	d, err := svc.Load(context.Background(), advisor)
	require.NoError(t, err)
	assert.Len(t, d.UnassignedClients, 1)
}
