package authz

import (
	"context"
	"errors"
	"fmt"
)

// ErrForbidden is returned by Require when the principal lacks the capability.
var ErrForbidden = errors.New("authz: forbidden")

// VerdictObserver is notified of every aggregated verdict.
type VerdictObserver interface {
	ObserveVerdict(kind ResourceKind, privilege Privilege)
}

// Evaluator combines the role catalog, the policies and ownership into decisions.
// It is safe for concurrent use once configured.
type Evaluator struct {
	catalog   *RoleCatalog
	policies  Policies
	resolvers map[ResourceKind]OwnershipResolver
	observer  VerdictObserver
}

// NewEvaluator builds an Evaluator. Resolvers are registered with RegisterOwner.
func NewEvaluator(catalog *RoleCatalog, policies Policies) *Evaluator {
	return &Evaluator{
		catalog:   catalog,
		policies:  policies,
		resolvers: make(map[ResourceKind]OwnershipResolver),
	}
}

// RegisterOwner installs the ownership resolver of a resource kind.
func (e *Evaluator) RegisterOwner(kind ResourceKind, resolver OwnershipResolver) {
	e.resolvers[kind] = resolver
}

// Resolves reports whether ownership of kind can be resolved by id.
func (e *Evaluator) Resolves(kind ResourceKind) bool {
	_, ok := e.resolvers[kind]
	return ok
}

// SetObserver installs a verdict observer.
func (e *Evaluator) SetObserver(o VerdictObserver) {
	e.observer = o
}

// Catalog exposes the role catalog.
func (e *Evaluator) Catalog() *RoleCatalog {
	return e.catalog
}

// Policies returns a copy of the configured policies.
func (e *Evaluator) Policies() Policies {
	return e.policies.Clone()
}

// Allowed decides a single capability. A false result is a normal negative answer; errors
// are only returned for misconfiguration.
func (e *Evaluator) Allowed(p Principal, c Capability, r Resource) (bool, error) {
	policy, ok := e.policies[r.Kind]
	if !ok {
		return false, &ConfigurationError{Kind: r.Kind, Capability: c, Reason: "no policy for resource"}
	}
	rule, ok := policy.rule(c)
	if !ok {
		return false, &ConfigurationError{Kind: r.Kind, Capability: c, Reason: "no rule for capability"}
	}
	required, ok := e.catalog.Lookup(rule.Required)
	if !ok {
		return false, &ConfigurationError{Kind: r.Kind, Capability: c, Role: rule.Required, Reason: "rule requires unknown role"}
	}
	if p.IsZero() {
		return false, nil
	}
	if r.ownedBy(p.UserID) && rule.Owner.grants(c.Action) {
		return true, nil
	}
	return e.catalog.HierarchyOf(p.Role) <= required.Hierarchy, nil
}

// Require returns ErrForbidden when the capability is not granted.
func (e *Evaluator) Require(p Principal, c Capability, r Resource) error {
	ok, err := e.Allowed(p, c, r)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s on %s", ErrForbidden, c, r.Kind)
	}
	return nil
}

// Verdict aggregates rights into a privilege token. Delete is checked first since it implies
// every lesser right, then Update on column (only when a column is given), then Read.
func (e *Evaluator) Verdict(p Principal, r Resource, column string) (Privilege, error) {
	privilege, err := e.verdict(p, r, column)
	if err != nil {
		return PrivilegeNone, err
	}
	if e.observer != nil {
		e.observer.ObserveVerdict(r.Kind, privilege)
	}
	return privilege, nil
}

func (e *Evaluator) verdict(p Principal, r Resource, column string) (Privilege, error) {
	ok, err := e.Allowed(p, Can(ActionDelete), r)
	if err != nil {
		return PrivilegeNone, err
	}
	if ok {
		return PrivilegeAll, nil
	}
	if column != "" {
		ok, err = e.Allowed(p, CanColumn(ActionUpdate, column), r)
		if err != nil {
			return PrivilegeNone, err
		}
		if ok {
			return PrivilegeCreateReadUpdate, nil
		}
	}
	ok, err = e.Allowed(p, Can(ActionRead), r)
	if err != nil {
		return PrivilegeNone, err
	}
	if ok {
		return PrivilegeRead, nil
	}
	return PrivilegeNone, nil
}

// Resolve loads the owner of a resource through the registered resolver.
func (e *Evaluator) Resolve(ctx context.Context, kind ResourceKind, id int64) (Resource, error) {
	resolver, ok := e.resolvers[kind]
	if !ok {
		return Resource{}, &ConfigurationError{Kind: kind, Reason: "no ownership resolver"}
	}
	owner, found, err := resolver.OwnerOf(ctx, id)
	if err != nil {
		return Resource{}, fmt.Errorf("authz: resolve owner of %s %d: %w", kind, id, err)
	}
	if !found {
		return Unowned(kind, id), nil
	}
	return OwnedBy(kind, id, owner), nil
}

// VerdictFor resolves ownership then aggregates the verdict.
func (e *Evaluator) VerdictFor(ctx context.Context, p Principal, kind ResourceKind, id int64, column string) (Privilege, error) {
	r, err := e.Resolve(ctx, kind, id)
	if err != nil {
		return PrivilegeNone, err
	}
	return e.Verdict(p, r, column)
}

// Outranks reports whether the principal is strictly more privileged than role.
func (e *Evaluator) Outranks(p Principal, role RoleName) bool {
	return e.catalog.HierarchyOf(p.Role) < e.catalog.HierarchyOf(role)
}

// AtLeast reports whether the principal is at least as privileged as role.
func (e *Evaluator) AtLeast(p Principal, role RoleName) bool {
	if _, ok := e.catalog.Lookup(role); !ok {
		return false
	}
	return e.catalog.HierarchyOf(p.Role) <= e.catalog.HierarchyOf(role)
}
