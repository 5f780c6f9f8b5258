package roles

import (
	"context"
	"fmt"

	"github.com/caseflow/caseflow/internal/authz"
)

// Publisher broadcasts a catalog change to the other processes.
type Publisher interface {
	Publish(ctx context.Context, reason string) error
}

// Service answers which roles a principal may hand out.
type Service struct {
	evaluator *authz.Evaluator
	publisher Publisher
}

// NewService builds Service instance. publisher may be nil.
func NewService(evaluator *authz.Evaluator, publisher Publisher) *Service {
	return &Service{evaluator: evaluator, publisher: publisher}
}

// AssignableRoles lists the roles whose hierarchy is not above the caller's. Admins may
// assign every role.
func (s *Service) AssignableRoles(p authz.Principal) []Option {
	catalog := s.evaluator.Catalog()
	isAdmin := s.evaluator.AtLeast(p, authz.RoleAdmin)
	caller := catalog.HierarchyOf(p.Role)
	var out []Option
	for _, role := range catalog.Roles() {
		if isAdmin || role.Hierarchy >= caller {
			out = append(out, toOption(role))
		}
	}
	return out
}

// Assignable reports whether the principal may grant role.
func (s *Service) Assignable(p authz.Principal, role authz.RoleName) bool {
	for _, opt := range s.AssignableRoles(p) {
		if opt.Name == role {
			return true
		}
	}
	return false
}

// ByID finds a catalogued role by its row id.
func (s *Service) ByID(id int64) (authz.Role, bool) {
	for _, role := range s.evaluator.Catalog().Roles() {
		if role.ID == id {
			return role, true
		}
	}
	return authz.Role{}, false
}

// Reload refreshes the local catalog and tells the other processes to do the same.
func (s *Service) Reload(ctx context.Context) error {
	if err := s.evaluator.Catalog().Load(ctx); err != nil {
		return err
	}
	if s.publisher == nil {
		return nil
	}
	if err := s.publisher.Publish(ctx, "reload"); err != nil {
		return fmt.Errorf("roles: broadcast reload: %w", err)
	}
	return nil
}
