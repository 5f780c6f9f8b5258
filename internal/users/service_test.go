package users

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/caseflow/caseflow/internal/authz"
	"github.com/caseflow/caseflow/internal/roles"
	"github.com/caseflow/caseflow/internal/shared"
	"github.com/caseflow/caseflow/jobs"
)

type memoryRepo struct {
	users  map[int64]*User
	nextID int64
}

func newMemoryRepo(users ...User) *memoryRepo {
	m := &memoryRepo{users: map[int64]*User{}, nextID: 100}
	for i := range users {
		u := users[i]
		m.users[u.ID] = &u
	}
	return m
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, m)
}

func (m *memoryRepo) Get(_ context.Context, id int64) (*User, error) {
	u, ok := m.users[id]
	if !ok || u.DeletedAt != nil {
		return nil, shared.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memoryRepo) List(_ context.Context, req ListUsersRequest) ([]User, int, error) {
	var out []User
	for _, u := range m.users {
		if u.DeletedAt != nil || (req.OnlyID != 0 && u.ID != req.OnlyID) {
			continue
		}
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (m *memoryRepo) Create(_ context.Context, u User) (int64, error) {
	for _, existing := range m.users {
		if existing.Email == u.Email && existing.DeletedAt == nil {
			return 0, shared.ErrConflict
		}
	}
	m.nextID++
	u.ID = m.nextID
	m.users[u.ID] = &u
	return u.ID, nil
}

func (m *memoryRepo) Update(_ context.Context, id int64, updates map[string]any) error {
	u, ok := m.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	for col, v := range updates {
		switch col {
		case "first_name":
			u.FirstName = v.(string)
		case "surname":
			u.Surname = v.(string)
		case "email":
			u.Email = v.(string)
		case "theme":
			u.Theme = v.(string)
		case "language":
			u.Language = v.(string)
		case "status":
			u.Status = Status(v.(string))
		case "user_role_id":
			u.RoleID = v.(int64)
			u.Role = roleNames[u.RoleID]
		}
	}
	return nil
}

func (m *memoryRepo) SetPassword(_ context.Context, id int64, hash string) error {
	m.users[id].PasswordHash = hash
	return nil
}

func (m *memoryRepo) SoftDelete(_ context.Context, id int64) error {
	now := time.Now()
	m.users[id].DeletedAt = &now
	return nil
}

type recordingMailer struct{ sent []jobs.SendEmailPayload }

func (r *recordingMailer) EnqueueSendEmail(_ context.Context, p jobs.SendEmailPayload) (*asynq.TaskInfo, error) {
	r.sent = append(r.sent, p)
	return &asynq.TaskInfo{ID: "task"}, nil
}

type memoryGuard struct{ claimed map[string]bool }

func (g *memoryGuard) Claim(_ context.Context, key, scope string) error {
	if g.claimed[scope+key] {
		return shared.ErrIdempotencyConflict
	}
	g.claimed[scope+key] = true
	return nil
}

func (g *memoryGuard) Release(_ context.Context, key, scope string) error {
	delete(g.claimed, scope+key)
	return nil
}

var roleNames = map[int64]authz.RoleName{1: authz.RoleAdmin, 2: authz.RoleManagingAdvisor, 3: authz.RoleAdvisor, 4: authz.RoleNewcomer}

var (
	admin    = User{ID: 1, FirstName: "Ada", Surname: "Admin", Email: "admin@caseflow.local", RoleID: 1, Role: authz.RoleAdmin, Status: StatusActive}
	manager  = User{ID: 2, FirstName: "Mia", Surname: "Manager", Email: "mia@caseflow.local", RoleID: 2, Role: authz.RoleManagingAdvisor, Status: StatusActive}
	manager2 = User{ID: 5, FirstName: "Max", Surname: "Manager", Email: "max@caseflow.local", RoleID: 2, Role: authz.RoleManagingAdvisor, Status: StatusActive}
	advisor  = User{ID: 3, FirstName: "Avi", Surname: "Advisor", Email: "avi@caseflow.local", RoleID: 3, Role: authz.RoleAdvisor, Status: StatusActive}
	newcomer = User{ID: 4, FirstName: "Nia", Surname: "Newcomer", Email: "nia@caseflow.local", RoleID: 4, Role: authz.RoleNewcomer, Status: StatusActive}
)

func principal(u User) authz.Principal { return authz.Principal{UserID: u.ID, Role: u.Role} }

func newTestService(t *testing.T, repo Repository) (*Service, *recordingMailer) {
	t.Helper()
	catalog, err := authz.NewStaticRoleCatalog([]authz.Role{
		{ID: 1, Name: authz.RoleAdmin, Hierarchy: 10},
		{ID: 2, Name: authz.RoleManagingAdvisor, Hierarchy: 20},
		{ID: 3, Name: authz.RoleAdvisor, Hierarchy: 30},
		{ID: 4, Name: authz.RoleNewcomer, Hierarchy: 40},
	})
	require.NoError(t, err)
	evaluator := authz.NewEvaluator(catalog, authz.DefaultPolicies())
	mailer := &recordingMailer{}
	svc := NewService(repo, evaluator, roles.NewService(evaluator, nil), Options{
		Mailer:      mailer,
		Idempotency: &memoryGuard{claimed: map[string]bool{}},
		BaseURL:     "https://caseflow.test/",
		BcryptCost:  bcrypt.MinCost,
	})
	return svc, mailer
}

func TestListRestrictsReadersBelowThreshold(t *testing.T) {
	svc, _ := newTestService(t, newMemoryRepo(admin, manager, advisor, newcomer))
	ctx := context.Background()

	rows, pagination, err := svc.List(ctx, principal(advisor), ListUsersRequest{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, advisor.ID, rows[0].ID)
	assert.Equal(t, authz.PrivilegeAll, rows[0].Privilege, "owners may delete themselves")
	assert.Equal(t, 1, pagination.Total)

	rows, _, err = svc.List(ctx, principal(manager), ListUsersRequest{})
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, authz.PrivilegeRead, rows[0].Privilege, "admins are not managed by managers")
	assert.Equal(t, authz.PrivilegeAll, rows[1].Privilege)
	assert.Equal(t, authz.PrivilegeAll, rows[2].Privilege)

	rows, _, err = svc.List(ctx, principal(admin), ListUsersRequest{})
	require.NoError(t, err)
	assert.Equal(t, authz.PrivilegeAll, rows[1].Privilege)
}

func TestGetAffordances(t *testing.T) {
	svc, _ := newTestService(t, newMemoryRepo(admin, manager, manager2, advisor, newcomer))
	ctx := context.Background()

	detail, err := svc.Get(ctx, principal(manager), advisor.ID)
	require.NoError(t, err)
	assert.True(t, detail.CanChangeRole)
	assert.True(t, detail.CanChangeStatus)
	assert.True(t, detail.CanDelete)
	assert.NotEmpty(t, detail.AssignableRoles)

	detail, err = svc.Get(ctx, principal(manager), manager2.ID)
	require.NoError(t, err)
	assert.False(t, detail.CanChangeRole, "peers do not outrank each other")
	assert.False(t, detail.CanDelete)
	assert.Equal(t, authz.PrivilegeRead, detail.Privilege)

	detail, err = svc.Get(ctx, principal(manager), admin.ID)
	require.NoError(t, err)
	assert.False(t, detail.CanDelete)
	assert.Equal(t, authz.PrivilegeRead, detail.Privilege)

	detail, err = svc.Get(ctx, principal(manager), manager.ID)
	require.NoError(t, err)
	assert.False(t, detail.CanChangeRole)
	assert.True(t, detail.CanDelete)

	_, err = svc.Get(ctx, principal(newcomer), advisor.ID)
	assert.ErrorIs(t, err, authz.ErrForbidden)
}

func TestCreate(t *testing.T) {
	repo := newMemoryRepo(admin, manager, advisor)
	svc, mailer := newTestService(t, repo)
	ctx := context.Background()

	u, err := svc.Create(ctx, principal(manager), CreateUserRequest{
		FirstName: "Nick", Surname: "New", Email: " Nick@Example.com ", RoleID: 4, Password: "longenough", IdempotencyKey: "k1",
	})
	require.NoError(t, err)
	assert.Equal(t, "nick@example.com", u.Email)
	assert.Equal(t, StatusUnverified, u.Status)
	assert.Equal(t, authz.RoleNewcomer, u.Role)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.users[u.ID].PasswordHash), []byte("longenough")))
	require.Len(t, mailer.sent, 1)
	assert.Contains(t, mailer.sent[0].Body, "https://caseflow.test/auth/password-forgotten")

	_, err = svc.Create(ctx, principal(manager), CreateUserRequest{FirstName: "Nick", Surname: "New", Email: "other@example.com", RoleID: 4, IdempotencyKey: "k1"})
	assert.ErrorIs(t, err, shared.ErrIdempotencyConflict)

	_, err = svc.Create(ctx, principal(manager), CreateUserRequest{FirstName: "Al", Surname: "Up", Email: "al@example.com", RoleID: 1})
	assert.ErrorIs(t, err, authz.ErrForbidden, "managers cannot create admins")

	_, err = svc.Create(ctx, principal(advisor), CreateUserRequest{FirstName: "Al", Surname: "Up", Email: "al@example.com", RoleID: 4})
	assert.ErrorIs(t, err, authz.ErrForbidden)

	_, err = svc.Create(ctx, principal(manager), CreateUserRequest{FirstName: "Al", Email: "not-an-email", RoleID: 4})
	require.Error(t, err)
	assert.Contains(t, shared.FieldErrors(err), "Email")
	assert.Contains(t, shared.FieldErrors(err), "Surname")

	_, err = svc.Create(ctx, principal(manager), CreateUserRequest{FirstName: "Dup", Surname: "Dup", Email: "avi@caseflow.local", RoleID: 4, IdempotencyKey: "k2"})
	assert.ErrorIs(t, err, shared.ErrConflict)
	_, err = svc.Create(ctx, principal(manager), CreateUserRequest{FirstName: "Dup", Surname: "Dup", Email: "dup@caseflow.local", RoleID: 4, IdempotencyKey: "k2"})
	assert.NoError(t, err, "failed attempts release their key")
}

func ptr[T any](v T) *T { return &v }

func TestUpdateColumns(t *testing.T) {
	repo := newMemoryRepo(admin, manager, manager2, advisor, newcomer)
	svc, _ := newTestService(t, repo)
	ctx := context.Background()

	u, err := svc.Update(ctx, principal(newcomer), newcomer.ID, UpdateUserRequest{Theme: ptr("dark"), FirstName: ptr("Nina")})
	require.NoError(t, err)
	assert.Equal(t, "dark", u.Theme)
	assert.Equal(t, "Nina", u.FirstName)

	_, err = svc.Update(ctx, principal(newcomer), newcomer.ID, UpdateUserRequest{RoleID: ptr(int64(3))})
	assert.ErrorIs(t, err, authz.ErrForbidden, "owners cannot promote themselves")

	_, err = svc.Update(ctx, principal(newcomer), advisor.ID, UpdateUserRequest{FirstName: ptr("X")})
	assert.ErrorIs(t, err, authz.ErrForbidden)

	u, err = svc.Update(ctx, principal(manager), newcomer.ID, UpdateUserRequest{RoleID: ptr(int64(3)), Status: ptr(StatusLocked)})
	require.NoError(t, err)
	assert.Equal(t, authz.RoleAdvisor, u.Role)
	assert.Equal(t, StatusLocked, u.Status)

	_, err = svc.Update(ctx, principal(manager), advisor.ID, UpdateUserRequest{RoleID: ptr(int64(2))})
	assert.ErrorIs(t, err, authz.ErrForbidden, "the new role must be outranked too")

	_, err = svc.Update(ctx, principal(manager), manager2.ID, UpdateUserRequest{Status: ptr(StatusSuspended)})
	assert.ErrorIs(t, err, authz.ErrForbidden)

	u, err = svc.Update(ctx, principal(admin), manager2.ID, UpdateUserRequest{RoleID: ptr(int64(1))})
	require.NoError(t, err)
	assert.Equal(t, authz.RoleAdmin, u.Role)

	// Rejected changes leave the stored row untouched.
	_, err = svc.Update(ctx, principal(manager), advisor.ID, UpdateUserRequest{FirstName: ptr("Changed"), RoleID: ptr(int64(1))})
	assert.ErrorIs(t, err, authz.ErrForbidden)
	assert.Equal(t, "Avi", repo.users[advisor.ID].FirstName)
}

func TestUpdatePersonalInfoFollowsHierarchy(t *testing.T) {
	repo := newMemoryRepo(admin, manager, manager2, advisor, newcomer)
	svc, _ := newTestService(t, repo)
	ctx := context.Background()

	_, err := svc.Update(ctx, principal(manager), admin.ID, UpdateUserRequest{Email: ptr("taken@evil.test")})
	assert.ErrorIs(t, err, authz.ErrForbidden)
	assert.Equal(t, "admin@caseflow.local", repo.users[admin.ID].Email)

	_, err = svc.Update(ctx, principal(manager), manager2.ID, UpdateUserRequest{FirstName: ptr("Peer")})
	assert.ErrorIs(t, err, authz.ErrForbidden)
	assert.Equal(t, "Max", repo.users[manager2.ID].FirstName)

	u, err := svc.Update(ctx, principal(manager), advisor.ID, UpdateUserRequest{Email: ptr("Avi.New@caseflow.local")})
	require.NoError(t, err)
	assert.Equal(t, "avi.new@caseflow.local", u.Email)

	u, err = svc.Update(ctx, principal(manager), manager.ID, UpdateUserRequest{Surname: ptr("Self")})
	require.NoError(t, err)
	assert.Equal(t, "Self", u.Surname)

	u, err = svc.Update(ctx, principal(admin), manager2.ID, UpdateUserRequest{Language: ptr("de")})
	require.NoError(t, err)
	assert.Equal(t, "de", u.Language)
}

func TestChangePassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("old-secret"), bcrypt.MinCost)
	require.NoError(t, err)
	self := advisor
	self.PasswordHash = string(hash)
	repo := newMemoryRepo(manager, self, newcomer)
	svc, _ := newTestService(t, repo)
	ctx := context.Background()

	err = svc.ChangePassword(ctx, principal(self), self.ID, ChangePasswordRequest{OldPassword: "wrong", NewPassword: "new-secret"})
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)

	require.NoError(t, svc.ChangePassword(ctx, principal(self), self.ID, ChangePasswordRequest{OldPassword: "old-secret", NewPassword: "new-secret"}))
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.users[self.ID].PasswordHash), []byte("new-secret")))

	require.NoError(t, svc.ChangePassword(ctx, principal(manager), newcomer.ID, ChangePasswordRequest{NewPassword: "reset-by-manager"}))

	err = svc.ChangePassword(ctx, principal(newcomer), self.ID, ChangePasswordRequest{NewPassword: "hijacked-pass"})
	assert.ErrorIs(t, err, authz.ErrForbidden)

	err = svc.ChangePassword(ctx, principal(self), self.ID, ChangePasswordRequest{OldPassword: "new-secret", NewPassword: "short"})
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	repo := newMemoryRepo(admin, manager, manager2, advisor, newcomer)
	svc, _ := newTestService(t, repo)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Delete(ctx, principal(advisor), newcomer.ID), authz.ErrForbidden)
	assert.ErrorIs(t, svc.Delete(ctx, principal(manager), manager2.ID), authz.ErrForbidden)
	require.NoError(t, svc.Delete(ctx, principal(manager), advisor.ID))
	require.NoError(t, svc.Delete(ctx, principal(newcomer), newcomer.ID), "owners may delete their own account")

	_, err := svc.Get(ctx, principal(admin), advisor.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
