package rbac

import (
	"context"
	"fmt"
	"sort"

	"github.com/caseflow/caseflow/internal/authz"
	"github.com/caseflow/caseflow/internal/shared"
)

// MatrixRow is one capability of a resource kind with the verdict of every catalogued role,
// ignoring ownership.
type MatrixRow struct {
	Kind       authz.ResourceKind `json:"kind"`
	Capability string             `json:"capability"`
	Required   authz.RoleName     `json:"required"`
	Owner      string             `json:"owner"`
	Granted    []bool             `json:"granted"`
}

// Matrix is the roles by capabilities overview rendered on the permissions page.
type Matrix struct {
	Roles []authz.Role `json:"roles"`
	Rows  []MatrixRow  `json:"rows"`
}

// Grant is the privilege of the caller on one resource, used by pages to toggle controls.
type Grant struct {
	Kind      authz.ResourceKind `json:"kind"`
	ID        int64              `json:"id"`
	Column    string             `json:"column,omitempty"`
	Privilege authz.Privilege    `json:"privilege"`
}

// Service builds read models over the evaluator configuration.
type Service struct {
	evaluator *authz.Evaluator
}

// NewService constructs a Service.
func NewService(evaluator *authz.Evaluator) *Service {
	return &Service{evaluator: evaluator}
}

// PolicyMatrix evaluates every configured capability for every role.
func (s *Service) PolicyMatrix() Matrix {
	catalog := s.evaluator.Catalog()
	roles := catalog.Roles()
	policies := s.evaluator.Policies()

	kinds := make([]authz.ResourceKind, 0, len(policies))
	for kind := range policies {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	matrix := Matrix{Roles: roles}
	for _, kind := range kinds {
		policy := policies[kind]
		caps := make([]authz.Capability, 0, len(policy))
		for c := range policy {
			caps = append(caps, c)
		}
		sort.Slice(caps, func(i, j int) bool {
			if caps[i].Action != caps[j].Action {
				return caps[i].Action < caps[j].Action
			}
			return caps[i].Column < caps[j].Column
		})
		for _, c := range caps {
			rule := policy[c]
			required := catalog.HierarchyOf(rule.Required)
			row := MatrixRow{
				Kind:       kind,
				Capability: c.String(),
				Required:   rule.Required,
				Owner:      rule.Owner.String(),
				Granted:    make([]bool, len(roles)),
			}
			for i, role := range roles {
				row.Granted[i] = role.Hierarchy <= required
			}
			matrix.Rows = append(matrix.Rows, row)
		}
	}
	return matrix
}

// GrantFor resolves the owner of the resource and aggregates the caller's privilege on it.
// Kinds without an ownership resolver are unknown to callers.
func (s *Service) GrantFor(ctx context.Context, p authz.Principal, kind authz.ResourceKind, id int64, column string) (Grant, error) {
	if !s.evaluator.Resolves(kind) {
		return Grant{}, fmt.Errorf("%w: resource kind %s", shared.ErrNotFound, kind)
	}
	privilege, err := s.evaluator.VerdictFor(ctx, p, kind, id, column)
	if err != nil {
		return Grant{}, err
	}
	return Grant{Kind: kind, ID: id, Column: column, Privilege: privilege}, nil
}
