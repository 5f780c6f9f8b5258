package clients

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/caseflow/caseflow/internal/activity"
	"github.com/caseflow/caseflow/internal/authz"
	"github.com/caseflow/caseflow/internal/shared"
)

const dateLayout = "2006-01-02"

// ChangeListener is told after every committed client mutation.
type ChangeListener interface {
	Invalidate(ctx context.Context) error
}

// Options holds optional collaborators of the Service.
type Options struct {
	Recorder    *activity.Recorder
	Listener    ChangeListener
	Idempotency shared.IdempotencyGuard
	Logger      *slog.Logger
	Now         func() time.Time
}

// Service handles client business rules.
type Service struct {
	repo      Repository
	evaluator *authz.Evaluator
	validate  *validator.Validate
	opts      Options
}

// NewService builds Service instance.
func NewService(repo Repository, evaluator *authz.Evaluator, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{repo: repo, evaluator: evaluator, validate: validator.New(), opts: opts}
}

// OwnerOf resolves client ownership for the evaluator.
func (s *Service) OwnerOf(ctx context.Context, id int64) (int64, bool, error) {
	return s.repo.OwnerOf(ctx, id)
}

// Statuses lists the selectable client statuses.
func (s *Service) Statuses(ctx context.Context) ([]Status, error) {
	return s.repo.Statuses(ctx)
}

// List returns the filtered clients with the caller's verdict on each row. Listing removed
// clients needs the deleted_at read right.
func (s *Service) List(ctx context.Context, p authz.Principal, req ListClientsRequest) ([]Listed, shared.Pagination, error) {
	if err := s.evaluator.Require(p, authz.Can(authz.ActionRead), authz.Unowned(authz.KindClient, 0)); err != nil {
		return nil, shared.Pagination{}, err
	}
	if req.Deleted {
		if err := s.evaluator.Require(p, authz.CanColumn(authz.ActionRead, ColumnDeleted), authz.Unowned(authz.KindClient, 0)); err != nil {
			return nil, shared.Pagination{}, err
		}
	}
	rows, total, err := s.repo.List(ctx, req)
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("list clients: %w", err)
	}
	out := make([]Listed, 0, len(rows))
	for _, c := range rows {
		privilege, err := s.evaluator.Verdict(p, c.Resource(), ColumnPersonalInfo)
		if err != nil {
			return nil, shared.Pagination{}, err
		}
		out = append(out, Listed{Client: c, Privilege: privilege})
	}
	return out, shared.NewPagination(req.Page.Page, req.Page.Limit(), total), nil
}

// Get loads one client with its privileges. Removed clients are visible to callers allowed
// to read deleted_at.
func (s *Service) Get(ctx context.Context, p authz.Principal, id int64) (*Detail, error) {
	c, err := s.repo.Get(ctx, id, true)
	if err != nil {
		return nil, err
	}
	res := c.Resource()
	if err := s.evaluator.Require(p, authz.Can(authz.ActionRead), res); err != nil {
		return nil, err
	}
	if c.DeletedAt != nil {
		if ok, err := s.evaluator.Allowed(p, authz.CanColumn(authz.ActionRead, ColumnDeleted), res); err != nil {
			return nil, err
		} else if !ok {
			return nil, shared.ErrNotFound
		}
	}
	privileges, err := s.privileges(p, *c)
	if err != nil {
		return nil, err
	}
	return &Detail{Client: *c, Privileges: privileges}, nil
}

func (s *Service) privileges(p authz.Principal, c Client) (Privileges, error) {
	var (
		out Privileges
		err error
	)
	res := c.Resource()
	if out.PersonalInfo, err = s.evaluator.Verdict(p, res, ColumnPersonalInfo); err != nil {
		return out, err
	}
	if out.Status, err = s.evaluator.Verdict(p, res, ColumnStatus); err != nil {
		return out, err
	}
	if out.Assignment, err = s.evaluator.Verdict(p, res, ColumnAssignment); err != nil {
		return out, err
	}
	if out.Deleted, err = s.columnPrivilege(p, res, ColumnDeleted); err != nil {
		return out, err
	}
	// Notes of a client belong to its advisor.
	noteRes := authz.Unowned(authz.KindNote, 0)
	if c.UserID != nil {
		noteRes = authz.OwnedBy(authz.KindNote, 0, *c.UserID)
	}
	if ok, err := s.evaluator.Allowed(p, authz.Can(authz.ActionCreate), noteRes); err != nil {
		return out, err
	} else if ok {
		out.Notes = authz.PrivilegeCreateRead
	} else if ok, err := s.evaluator.Allowed(p, authz.Can(authz.ActionRead), noteRes); err != nil {
		return out, err
	} else if ok {
		out.Notes = authz.PrivilegeRead
	}
	return out, nil
}

// columnPrivilege is CRU when the column may be written, R when it may be read.
func (s *Service) columnPrivilege(p authz.Principal, res authz.Resource, column string) (authz.Privilege, error) {
	ok, err := s.evaluator.Allowed(p, authz.CanColumn(authz.ActionUpdate, column), res)
	if err != nil {
		return authz.PrivilegeNone, err
	}
	if ok {
		return authz.PrivilegeCreateReadUpdate, nil
	}
	ok, err = s.evaluator.Allowed(p, authz.CanColumn(authz.ActionRead, column), res)
	if err != nil {
		return authz.PrivilegeNone, err
	}
	if ok {
		return authz.PrivilegeRead, nil
	}
	return authz.PrivilegeNone, nil
}

func parseDate(v string) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return nil, fmt.Errorf("%w: date %q", shared.ErrInvalidInput, v)
	}
	return &t, nil
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

// Create registers a client. Owners may create clients assigned to themselves; assigning
// someone else needs the user_id right.
func (s *Service) Create(ctx context.Context, p authz.Principal, req CreateClientRequest) (*Client, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	res := authz.Unowned(authz.KindClient, 0)
	if req.UserID != nil {
		res = authz.OwnedBy(authz.KindClient, 0, *req.UserID)
	}
	if err := s.evaluator.Require(p, authz.Can(authz.ActionCreate), res); err != nil {
		return nil, err
	}
	if req.UserID != nil && *req.UserID != p.UserID {
		if err := s.evaluator.Require(p, authz.CanColumn(authz.ActionUpdate, ColumnAssignment), res); err != nil {
			return nil, err
		}
	}
	birthdate, err := parseDate(req.Birthdate)
	if err != nil {
		return nil, err
	}
	vulnerableSince, err := parseDate(req.VulnerableSince)
	if err != nil {
		return nil, err
	}

	c := Client{
		FirstName:       strings.TrimSpace(req.FirstName),
		LastName:        strings.TrimSpace(req.LastName),
		Birthdate:       birthdate,
		Location:        optional(req.Location),
		Phone:           optional(req.Phone),
		Email:           optional(req.Email),
		Sex:             optional(req.Sex),
		ClientMessage:   optional(req.ClientMessage),
		VulnerableSince: vulnerableSince,
		UserID:          req.UserID,
		ClientStatusID:  req.ClientStatusID,
	}
	if c.UserID != nil {
		now := s.opts.Now()
		c.AssignedAt = &now
	}

	if req.IdempotencyKey != "" && s.opts.Idempotency != nil {
		if err := s.opts.Idempotency.Claim(ctx, req.IdempotencyKey, "clients.create"); err != nil {
			return nil, err
		}
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		id, err := repo.Create(ctx, c)
		if err != nil {
			return err
		}
		c.ID = id
		return nil
	})
	if err != nil {
		if req.IdempotencyKey != "" && s.opts.Idempotency != nil {
			_ = s.opts.Idempotency.Release(ctx, req.IdempotencyKey, "clients.create")
		}
		return nil, fmt.Errorf("create client: %w", err)
	}
	s.record(ctx, p, activity.ActionCreate, c.ID, map[string]any{"first_name": c.FirstName, "last_name": c.LastName})
	return s.repo.Get(ctx, c.ID, false)
}

// Update applies the changed columns, each authorized on its own. Any denied column rejects
// the whole change.
func (s *Service) Update(ctx context.Context, p authz.Principal, id int64, req UpdateClientRequest) (*Client, error) {
	if req.Email != nil {
		v := strings.ToLower(strings.TrimSpace(*req.Email))
		req.Email = &v
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	existing, err := s.repo.Get(ctx, id, true)
	if err != nil {
		return nil, err
	}
	res := existing.Resource()
	if existing.DeletedAt != nil && !req.Restore {
		return nil, shared.ErrNotFound
	}
	updates := make(map[string]any)
	personal := false

	setRequired := func(col string, v *string, current string) {
		if v == nil {
			return
		}
		if value := strings.TrimSpace(*v); value != current {
			updates[col] = value
			personal = true
		}
	}
	setOptional := func(col string, v *string, current *string) {
		if v == nil {
			return
		}
		value := optional(*v)
		if !sameString(value, current) {
			updates[col] = value
			personal = true
		}
	}
	setDate := func(col string, v *string, current *time.Time) error {
		if v == nil {
			return nil
		}
		value, err := parseDate(*v)
		if err != nil {
			return err
		}
		if !sameDate(value, current) {
			updates[col] = value
			personal = true
		}
		return nil
	}
	setRequired("first_name", req.FirstName, existing.FirstName)
	setRequired("last_name", req.LastName, existing.LastName)
	setOptional("location", req.Location, existing.Location)
	setOptional("phone", req.Phone, existing.Phone)
	setOptional("email", req.Email, existing.Email)
	setOptional("sex", req.Sex, existing.Sex)
	setOptional("client_message", req.ClientMessage, existing.ClientMessage)
	if err := setDate("birthdate", req.Birthdate, existing.Birthdate); err != nil {
		return nil, err
	}
	if err := setDate("vulnerable_since", req.VulnerableSince, existing.VulnerableSince); err != nil {
		return nil, err
	}
	if personal {
		if err := s.evaluator.Require(p, authz.CanColumn(authz.ActionUpdate, ColumnPersonalInfo), res); err != nil {
			return nil, err
		}
	}

	if req.ClientStatusID != nil && !sameID(req.ClientStatusID, existing.ClientStatusID) {
		if err := s.evaluator.Require(p, authz.CanColumn(authz.ActionUpdate, ColumnStatus), res); err != nil {
			return nil, err
		}
		updates["client_status_id"] = *req.ClientStatusID
	}
	if req.UserID != nil {
		var owner *int64
		if *req.UserID != 0 {
			owner = req.UserID
		}
		if !sameID(owner, existing.UserID) {
			if err := s.evaluator.Require(p, authz.CanColumn(authz.ActionUpdate, ColumnAssignment), res); err != nil {
				return nil, err
			}
			updates["user_id"] = owner
			if owner != nil {
				updates["assigned_at"] = s.opts.Now()
			} else {
				updates["assigned_at"] = nil
			}
		}
	}
	if req.Restore && existing.DeletedAt != nil {
		if err := s.evaluator.Require(p, authz.CanColumn(authz.ActionUpdate, ColumnDeleted), res); err != nil {
			return nil, err
		}
		updates["deleted_at"] = nil
	}

	if len(updates) == 0 {
		return existing, nil
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		return repo.Update(ctx, id, updates)
	})
	if err != nil {
		return nil, fmt.Errorf("update client: %w", err)
	}
	action := activity.ActionUpdate
	if _, restored := updates["deleted_at"]; restored {
		action = activity.ActionRestore
	}
	s.record(ctx, p, action, id, updates)
	return s.repo.Get(ctx, id, false)
}

// Delete soft deletes a client.
func (s *Service) Delete(ctx context.Context, p authz.Principal, id int64) error {
	existing, err := s.repo.Get(ctx, id, false)
	if err != nil {
		return err
	}
	if err := s.evaluator.Require(p, authz.Can(authz.ActionDelete), existing.Resource()); err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return fmt.Errorf("delete client: %w", err)
	}
	s.record(ctx, p, activity.ActionDelete, id, nil)
	return nil
}

func (s *Service) record(ctx context.Context, p authz.Principal, action string, id int64, data map[string]any) {
	if s.opts.Listener != nil {
		if err := s.opts.Listener.Invalidate(ctx); err != nil {
			s.opts.Logger.Warn("notify client change", slog.Int64("client_id", id), slog.Any("error", err))
		}
	}
	if s.opts.Recorder == nil {
		return
	}
	s.opts.Recorder.Log(ctx, activity.Entry{UserID: p.UserID, Action: action, Table: "client", RowID: id, Data: data})
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Format(dateLayout) == b.Format(dateLayout)
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
