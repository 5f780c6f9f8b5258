package users

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/caseflow/caseflow/internal/activity"
	"github.com/caseflow/caseflow/internal/authz"
	"github.com/caseflow/caseflow/internal/roles"
	"github.com/caseflow/caseflow/internal/shared"
	"github.com/caseflow/caseflow/jobs"
)

// personalInfo is the column group of a user's own profile fields.
const personalInfo = "personal_info"

// Options holds optional collaborators of the Service.
type Options struct {
	Mailer      jobs.Enqueuer
	Recorder    *activity.Recorder
	Idempotency shared.IdempotencyGuard
	Logger      *slog.Logger
	BaseURL     string
	BcryptCost  int
}

// Service handles user business rules.
type Service struct {
	repo      Repository
	evaluator *authz.Evaluator
	roles     *roles.Service
	validate  *validator.Validate
	opts      Options
}

// NewService builds Service instance.
func NewService(repo Repository, evaluator *authz.Evaluator, roleService *roles.Service, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{repo: repo, evaluator: evaluator, roles: roleService, validate: validator.New(), opts: opts}
}

func resource(id int64) authz.Resource {
	return authz.OwnedBy(authz.KindUser, id, id)
}

// List returns the users the caller may read, each with its verdict. Callers below the read
// threshold only see their own account.
func (s *Service) List(ctx context.Context, p authz.Principal, req ListUsersRequest) ([]Listed, shared.Pagination, error) {
	readAll, err := s.evaluator.Allowed(p, authz.Can(authz.ActionRead), authz.Unowned(authz.KindUser, 0))
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	if !readAll {
		req.OnlyID = p.UserID
	}
	rows, total, err := s.repo.List(ctx, req)
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("list users: %w", err)
	}
	out := make([]Listed, 0, len(rows))
	for _, u := range rows {
		privilege, err := s.privilege(p, u)
		if err != nil {
			return nil, shared.Pagination{}, err
		}
		out = append(out, Listed{User: u, Privilege: privilege})
	}
	return out, shared.NewPagination(req.Page.Page, req.Page.Limit(), total), nil
}

// Get loads one user with the caller's affordances.
func (s *Service) Get(ctx context.Context, p authz.Principal, id int64) (*Detail, error) {
	u, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	res := resource(u.ID)
	if err := s.evaluator.Require(p, authz.Can(authz.ActionRead), res); err != nil {
		return nil, err
	}
	privilege, err := s.privilege(p, *u)
	if err != nil {
		return nil, err
	}
	detail := &Detail{User: *u, Privilege: privilege}
	if detail.CanChangeRole, err = s.mayManage(p, authz.CanColumn(authz.ActionUpdate, "user_role_id"), *u); err != nil {
		return nil, err
	}
	if detail.CanChangeStatus, err = s.mayManage(p, authz.CanColumn(authz.ActionUpdate, "status"), *u); err != nil {
		return nil, err
	}
	if detail.CanDelete, err = s.mayManage(p, authz.Can(authz.ActionDelete), *u); err != nil {
		return nil, err
	}
	if detail.CanChangeRole {
		detail.AssignableRoles = s.roles.AssignableRoles(p)
	}
	return detail, nil
}

// mayManage combines the capability with the hierarchy rule of user management: apart from
// admins and owner-granted rights, the caller must outrank the target.
func (s *Service) mayManage(p authz.Principal, c authz.Capability, target User) (bool, error) {
	res := resource(target.ID)
	ok, err := s.evaluator.Allowed(p, c, res)
	if err != nil || !ok {
		return false, err
	}
	if s.evaluator.AtLeast(p, authz.RoleAdmin) {
		return true, nil
	}
	if p.UserID == target.ID {
		// Owners keep their personal info; role and status stay with managers.
		return c.Column == "" || c.Column == personalInfo, nil
	}
	return s.evaluator.Outranks(p, target.Role), nil
}

// privilege narrows the evaluator verdict on a row by the hierarchy rule: update and delete
// of a peer or superior are refused even where the role rule grants them.
func (s *Service) privilege(p authz.Principal, target User) (authz.Privilege, error) {
	verdict, err := s.evaluator.Verdict(p, resource(target.ID), personalInfo)
	if err != nil || verdict < authz.PrivilegeCreateReadUpdate {
		return verdict, err
	}
	if verdict == authz.PrivilegeAll {
		ok, err := s.mayManage(p, authz.Can(authz.ActionDelete), target)
		if err != nil {
			return authz.PrivilegeNone, err
		}
		if ok {
			return verdict, nil
		}
	}
	ok, err := s.mayManage(p, authz.CanColumn(authz.ActionUpdate, personalInfo), target)
	if err != nil {
		return authz.PrivilegeNone, err
	}
	if ok {
		return authz.PrivilegeCreateReadUpdate, nil
	}
	return authz.PrivilegeRead, nil
}

func (s *Service) requireManage(p authz.Principal, c authz.Capability, target User) error {
	ok, err := s.mayManage(p, c, target)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s on user %d", authz.ErrForbidden, c, target.ID)
	}
	return nil
}

// Create registers an account. The role must be assignable by the caller.
func (s *Service) Create(ctx context.Context, p authz.Principal, req CreateUserRequest) (*User, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	if err := s.evaluator.Require(p, authz.Can(authz.ActionCreate), authz.Unowned(authz.KindUser, 0)); err != nil {
		return nil, err
	}
	role, ok := s.roles.ByID(req.RoleID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown role", shared.ErrInvalidInput)
	}
	if !s.roles.Assignable(p, role.Name) {
		return nil, fmt.Errorf("%w: role %s not assignable", authz.ErrForbidden, role.Name)
	}
	if req.IdempotencyKey != "" && s.opts.Idempotency != nil {
		if err := s.opts.Idempotency.Claim(ctx, req.IdempotencyKey, "users.create"); err != nil {
			return nil, err
		}
	}

	u := User{
		FirstName: strings.TrimSpace(req.FirstName),
		Surname:   strings.TrimSpace(req.Surname),
		Email:     req.Email,
		RoleID:    role.ID,
		Role:      role.Name,
		Status:    req.Status,
		Theme:     "light",
		Language:  req.Language,
	}
	if u.Status == "" {
		u.Status = StatusUnverified
	}
	if u.Language == "" {
		u.Language = "en"
	}
	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.opts.BcryptCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		u.PasswordHash = string(hash)
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		id, err := repo.Create(ctx, u)
		if err != nil {
			return err
		}
		u.ID = id
		return nil
	})
	if err != nil {
		if req.IdempotencyKey != "" && s.opts.Idempotency != nil {
			_ = s.opts.Idempotency.Release(ctx, req.IdempotencyKey, "users.create")
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.record(ctx, p, activity.ActionCreate, u.ID, map[string]any{"email": u.Email, "role": u.Role})
	s.sendWelcome(ctx, u)
	return &u, nil
}

// Update applies the changed columns, each authorized on its own. Any denied column rejects
// the whole change.
func (s *Service) Update(ctx context.Context, p authz.Principal, id int64, req UpdateUserRequest) (*User, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	updates := make(map[string]any)

	personal := false
	setString := func(col string, v *string, current string) {
		if v == nil {
			return
		}
		value := strings.TrimSpace(*v)
		if col == "email" {
			value = strings.ToLower(value)
		}
		if value != current {
			updates[col] = value
			personal = true
		}
	}
	setString("first_name", req.FirstName, existing.FirstName)
	setString("surname", req.Surname, existing.Surname)
	setString("email", req.Email, existing.Email)
	setString("theme", req.Theme, existing.Theme)
	setString("language", req.Language, existing.Language)
	if personal {
		if err := s.requireManage(p, authz.CanColumn(authz.ActionUpdate, personalInfo), *existing); err != nil {
			return nil, err
		}
	}

	if req.RoleID != nil && *req.RoleID != existing.RoleID {
		if err := s.requireManage(p, authz.CanColumn(authz.ActionUpdate, "user_role_id"), *existing); err != nil {
			return nil, err
		}
		role, ok := s.roles.ByID(*req.RoleID)
		if !ok {
			return nil, fmt.Errorf("%w: unknown role", shared.ErrInvalidInput)
		}
		if !s.evaluator.AtLeast(p, authz.RoleAdmin) && !s.evaluator.Outranks(p, role.Name) {
			return nil, fmt.Errorf("%w: role %s not assignable", authz.ErrForbidden, role.Name)
		}
		updates["user_role_id"] = role.ID
	}
	if req.Status != nil && *req.Status != existing.Status {
		if err := s.requireManage(p, authz.CanColumn(authz.ActionUpdate, "status"), *existing); err != nil {
			return nil, err
		}
		updates["status"] = string(*req.Status)
	}

	if len(updates) == 0 {
		return existing, nil
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		return repo.Update(ctx, id, updates)
	})
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	s.record(ctx, p, activity.ActionUpdate, id, updates)
	return s.repo.Get(ctx, id)
}

// ChangePassword lets owners change their password with the old one, and managers reset the
// password of users they outrank.
func (s *Service) ChangePassword(ctx context.Context, p authz.Principal, id int64, req ChangePasswordRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return err
	}
	target, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.UserID == target.ID {
		if target.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(target.PasswordHash), []byte(req.OldPassword)) != nil {
			return shared.ErrInvalidCredentials
		}
	} else if err := s.requireManage(p, authz.CanColumn(authz.ActionUpdate, "password"), *target); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), s.opts.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.repo.SetPassword(ctx, id, string(hash)); err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	s.record(ctx, p, activity.ActionUpdate, id, map[string]any{"password": "changed"})
	return nil
}

// Delete soft deletes an account. Owners may delete themselves; others must outrank the target.
func (s *Service) Delete(ctx context.Context, p authz.Principal, id int64) error {
	target, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.requireManage(p, authz.Can(authz.ActionDelete), *target); err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	s.record(ctx, p, activity.ActionDelete, id, nil)
	return nil
}

func (s *Service) record(ctx context.Context, p authz.Principal, action string, id int64, data map[string]any) {
	if s.opts.Recorder == nil {
		return
	}
	s.opts.Recorder.Log(ctx, activity.Entry{UserID: p.UserID, Action: action, Table: "user", RowID: id, Data: data})
}

func (s *Service) sendWelcome(ctx context.Context, u User) {
	if s.opts.Mailer == nil {
		return
	}
	body := fmt.Sprintf("Hello %s,\n\nan account was created for you. Choose your password at %s/auth/password-forgotten.\n",
		u.FirstName, strings.TrimRight(s.opts.BaseURL, "/"))
	if _, err := s.opts.Mailer.EnqueueSendEmail(ctx, jobs.SendEmailPayload{To: u.Email, Subject: "Welcome to caseflow", Body: body}); err != nil {
		s.opts.Logger.Warn("enqueue welcome email", slog.Int64("user_id", u.ID), slog.Any("error", err))
	}
}
