package notes

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseflow/caseflow/internal/authz"
	"github.com/caseflow/caseflow/internal/shared"
)

type memoryRepo struct {
	owners map[int64]*int64
	notes  map[int64]*Note
	nextID int64
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, m)
}

func (m *memoryRepo) ClientOwner(_ context.Context, clientID int64) (*int64, error) {
	owner, ok := m.owners[clientID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return owner, nil
}

func (m *memoryRepo) Get(_ context.Context, id int64) (*Note, error) {
	n, ok := m.notes[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *memoryRepo) ListForClient(_ context.Context, clientID int64) ([]Note, error) {
	var out []Note
	for _, n := range m.notes {
		if n.ClientID == clientID {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryRepo) MainNote(_ context.Context, clientID int64) (*Note, error) {
	for _, n := range m.notes {
		if n.ClientID == clientID && n.IsMain {
			cp := *n
			return &cp, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *memoryRepo) Create(_ context.Context, n Note) (int64, error) {
	m.nextID++
	n.ID = m.nextID
	n.CreatedAt = time.Now()
	m.notes[n.ID] = &n
	return n.ID, nil
}

func (m *memoryRepo) Update(_ context.Context, id int64, updates map[string]any) error {
	n, ok := m.notes[id]
	if !ok {
		return shared.ErrNotFound
	}
	if v, ok := updates["message"]; ok {
		n.Message = v.(string)
	}
	if v, ok := updates["hidden"]; ok {
		n.Hidden = v.(bool)
	}
	return nil
}

func (m *memoryRepo) SoftDelete(_ context.Context, id int64) error {
	delete(m.notes, id)
	return nil
}

var (
	manager  = authz.Principal{UserID: 2, Role: authz.RoleManagingAdvisor}
	advisor  = authz.Principal{UserID: 3, Role: authz.RoleAdvisor}
	newcomer = authz.Principal{UserID: 4, Role: authz.RoleNewcomer}
	newbie   = authz.Principal{UserID: 6, Role: authz.RoleNewcomer}
)

func newTestService(t *testing.T) (*Service, *memoryRepo) {
	t.Helper()
	advisorID := advisor.UserID
	repo := &memoryRepo{
		owners: map[int64]*int64{10: &advisorID, 11: nil},
		notes: map[int64]*Note{
			1: {ID: 1, ClientID: 10, UserID: 4, Message: "first call"},
			2: {ID: 2, ClientID: 10, UserID: 4, Message: "private remark", Hidden: true},
			3: {ID: 3, ClientID: 10, UserID: 3, Message: "summary", IsMain: true},
		},
		nextID: 10,
	}
	catalog, err := authz.NewStaticRoleCatalog([]authz.Role{
		{ID: 1, Name: authz.RoleAdmin, Hierarchy: 10},
		{ID: 2, Name: authz.RoleManagingAdvisor, Hierarchy: 20},
		{ID: 3, Name: authz.RoleAdvisor, Hierarchy: 30},
		{ID: 4, Name: authz.RoleNewcomer, Hierarchy: 40},
	})
	require.NoError(t, err)
	return NewService(repo, authz.NewEvaluator(catalog, authz.DefaultPolicies()), nil, nil), repo
}

func TestListMasksHiddenNotes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	views, err := svc.ListForClient(ctx, newbie, 10)
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.Equal(t, authz.PrivilegeRead, views[0].Privilege)
	assert.True(t, views[1].Masked)
	assert.Empty(t, views[1].Message)

	views, err = svc.ListForClient(ctx, newcomer, 10)
	require.NoError(t, err)
	assert.False(t, views[1].Masked, "authors read their hidden notes")
	assert.Equal(t, "private remark", views[1].Message)
	assert.Equal(t, authz.PrivilegeAll, views[0].Privilege, "authors may remove their notes")

	views, err = svc.ListForClient(ctx, advisor, 10)
	require.NoError(t, err)
	assert.True(t, views[1].Masked)
	assert.Equal(t, authz.PrivilegeAll, views[2].Privilege, "the client's advisor owns the main note")

	views, err = svc.ListForClient(ctx, manager, 10)
	require.NoError(t, err)
	assert.False(t, views[1].Masked)

	_, err = svc.ListForClient(ctx, manager, 99)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateNote(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	n, err := svc.Create(ctx, newbie, 11, CreateNoteRequest{Message: "  hello  "})
	require.NoError(t, err)
	assert.Equal(t, "hello", n.Message)
	assert.Equal(t, newbie.UserID, repo.notes[n.ID].UserID)

	_, err = svc.Create(ctx, newbie, 11, CreateNoteRequest{Message: "   "})
	require.Error(t, err)
	assert.Contains(t, shared.FieldErrors(err), "Message")
}

func TestUpsertMain(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	_, err := svc.UpsertMain(ctx, newcomer, 11, MainNoteRequest{Message: "x"})
	require.ErrorIs(t, err, authz.ErrForbidden)

	n, err := svc.UpsertMain(ctx, advisor, 10, MainNoteRequest{Message: "new summary"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n.ID, "the existing main note is updated")
	assert.Equal(t, "new summary", repo.notes[3].Message)

	n, err = svc.UpsertMain(ctx, advisor, 11, MainNoteRequest{Message: "fresh"})
	require.NoError(t, err)
	assert.True(t, n.IsMain)
	assert.Equal(t, int64(11), n.ClientID)
}

func TestUpdateAndDeleteNote(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	_, err := svc.Update(ctx, newbie, 1, UpdateNoteRequest{Message: ptr("changed")})
	require.ErrorIs(t, err, authz.ErrForbidden)

	n, err := svc.Update(ctx, newcomer, 1, UpdateNoteRequest{Message: ptr("changed"), Hidden: ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, "changed", n.Message)
	assert.True(t, n.Hidden)

	_, err = svc.Update(ctx, advisor, 2, UpdateNoteRequest{Message: ptr("peek")})
	require.ErrorIs(t, err, authz.ErrForbidden, "hidden notes stay closed to non-readers")

	_, err = svc.Update(ctx, newcomer, 3, UpdateNoteRequest{Message: ptr("main")})
	require.ErrorIs(t, err, authz.ErrForbidden)

	_, err = svc.Delete(ctx, newbie, 1)
	require.ErrorIs(t, err, authz.ErrForbidden)
	deleted, err := svc.Delete(ctx, newcomer, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), deleted.ClientID)
	assert.NotContains(t, repo.notes, int64(1))

	owner, ok, err := svc.OwnerOf(ctx, 3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, advisor.UserID, owner)
}

func ptr[T any](v T) *T { return &v }
