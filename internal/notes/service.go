package notes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/caseflow/caseflow/internal/activity"
	"github.com/caseflow/caseflow/internal/authz"
	"github.com/caseflow/caseflow/internal/shared"
)

// Service handles note business rules.
type Service struct {
	repo      Repository
	evaluator *authz.Evaluator
	recorder  *activity.Recorder
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewService builds Service instance. The recorder may be nil.
func NewService(repo Repository, evaluator *authz.Evaluator, recorder *activity.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, evaluator: evaluator, recorder: recorder, validate: validator.New(), logger: logger}
}

// clientResource is a note of the client as seen through the client's advisor. The main note
// and note creation are judged against it.
func clientResource(id int64, owner *int64) authz.Resource {
	if owner == nil {
		return authz.Unowned(authz.KindNote, id)
	}
	return authz.OwnedBy(authz.KindNote, id, *owner)
}

// ListForClient returns the notes of a client. Hidden notes are masked for callers who may
// not read them.
func (s *Service) ListForClient(ctx context.Context, p authz.Principal, clientID int64) ([]View, error) {
	owner, err := s.repo.ClientOwner(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if err := s.evaluator.Require(p, authz.Can(authz.ActionRead), clientResource(0, owner)); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListForClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	out := make([]View, 0, len(rows))
	for _, n := range rows {
		v, err := s.view(p, n, owner)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Service) view(p authz.Principal, n Note, owner *int64) (View, error) {
	if n.Hidden {
		ok, err := s.evaluator.Allowed(p, authz.CanColumn(authz.ActionRead, ColumnHidden), n.Resource())
		if err != nil {
			return View{}, err
		}
		if !ok {
			n.Message = ""
			n.Masked = true
			return View{Note: n, Privilege: authz.PrivilegeRead}, nil
		}
	}
	res, column := n.Resource(), ""
	if n.IsMain {
		res, column = clientResource(n.ID, owner), ColumnMain
	}
	privilege, err := s.evaluator.Verdict(p, res, column)
	if err != nil {
		return View{}, err
	}
	return View{Note: n, Privilege: privilege}, nil
}

// Create adds a note written by the caller.
func (s *Service) Create(ctx context.Context, p authz.Principal, clientID int64, req CreateNoteRequest) (*Note, error) {
	req.Message = strings.TrimSpace(req.Message)
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	owner, err := s.repo.ClientOwner(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if err := s.evaluator.Require(p, authz.Can(authz.ActionCreate), clientResource(0, owner)); err != nil {
		return nil, err
	}
	n := Note{ClientID: clientID, UserID: p.UserID, Message: req.Message, Hidden: req.Hidden}
	id, err := s.repo.Create(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("create note: %w", err)
	}
	s.record(ctx, p, activity.ActionCreate, id, map[string]any{"client_id": clientID, "hidden": req.Hidden})
	return s.repo.Get(ctx, id)
}

// UpsertMain writes the main note of a client, creating it on first use.
func (s *Service) UpsertMain(ctx context.Context, p authz.Principal, clientID int64, req MainNoteRequest) (*Note, error) {
	req.Message = strings.TrimSpace(req.Message)
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	owner, err := s.repo.ClientOwner(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if err := s.evaluator.Require(p, authz.CanColumn(authz.ActionUpdate, ColumnMain), clientResource(0, owner)); err != nil {
		return nil, err
	}
	var (
		id     int64
		action = activity.ActionUpdate
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		current, err := repo.MainNote(ctx, clientID)
		switch {
		case err == nil:
			id = current.ID
			return repo.Update(ctx, id, map[string]any{"message": req.Message})
		case errors.Is(err, shared.ErrNotFound):
			action = activity.ActionCreate
			id, err = repo.Create(ctx, Note{ClientID: clientID, UserID: p.UserID, Message: req.Message, IsMain: true})
			return err
		default:
			return err
		}
	})
	if err != nil {
		return nil, fmt.Errorf("upsert main note: %w", err)
	}
	s.record(ctx, p, action, id, map[string]any{"client_id": clientID, "is_main": true})
	return s.repo.Get(ctx, id)
}

// authorize checks the action on an existing note. Main notes fall under the is_main rule
// with the client's advisor as owner; hidden notes need the hidden read right first.
func (s *Service) authorize(ctx context.Context, p authz.Principal, n Note, action authz.Action) error {
	if n.Hidden {
		if err := s.evaluator.Require(p, authz.CanColumn(authz.ActionRead, ColumnHidden), n.Resource()); err != nil {
			return err
		}
	}
	if !n.IsMain {
		return s.evaluator.Require(p, authz.Can(action), n.Resource())
	}
	owner, err := s.repo.ClientOwner(ctx, n.ClientID)
	if err != nil {
		return err
	}
	c := authz.Can(action)
	if action == authz.ActionUpdate {
		c = authz.CanColumn(action, ColumnMain)
	}
	return s.evaluator.Require(p, c, clientResource(n.ID, owner))
}

// Update changes the message or visibility of a note.
func (s *Service) Update(ctx context.Context, p authz.Principal, id int64, req UpdateNoteRequest) (*Note, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	n, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, p, *n, authz.ActionUpdate); err != nil {
		return nil, err
	}
	updates := make(map[string]any)
	if req.Message != nil {
		if msg := strings.TrimSpace(*req.Message); msg != n.Message {
			updates["message"] = msg
		}
	}
	if req.Hidden != nil && *req.Hidden != n.Hidden {
		updates["hidden"] = *req.Hidden
	}
	if len(updates) == 0 {
		return n, nil
	}
	if err := s.repo.Update(ctx, id, updates); err != nil {
		return nil, fmt.Errorf("update note: %w", err)
	}
	s.record(ctx, p, activity.ActionUpdate, id, updates)
	return s.repo.Get(ctx, id)
}

// Delete soft deletes a note. Authors may remove their own notes.
func (s *Service) Delete(ctx context.Context, p authz.Principal, id int64) (*Note, error) {
	n, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, p, *n, authz.ActionDelete); err != nil {
		return nil, err
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return nil, fmt.Errorf("delete note: %w", err)
	}
	s.record(ctx, p, activity.ActionDelete, id, map[string]any{"client_id": n.ClientID})
	return n, nil
}

// OwnerOf resolves note ownership for the evaluator.
func (s *Service) OwnerOf(ctx context.Context, id int64) (int64, bool, error) {
	n, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return n.UserID, true, nil
}

func (s *Service) record(ctx context.Context, p authz.Principal, action string, id int64, data map[string]any) {
	if s.recorder == nil {
		return
	}
	s.recorder.Log(ctx, activity.Entry{UserID: p.UserID, Action: action, Table: "note", RowID: id, Data: data})
}
