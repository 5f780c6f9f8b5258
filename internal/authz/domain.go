// Package authz decides who may create, read, update or delete which resource based on the
// numeric role hierarchy and resource ownership.
package authz

import "strings"

// RoleName identifies a role in the user_role table.
type RoleName string

// Seeded roles, most privileged first.
const (
	RoleAdmin           RoleName = "admin"
	RoleManagingAdvisor RoleName = "managing_advisor"
	RoleAdvisor         RoleName = "advisor"
	RoleNewcomer        RoleName = "newcomer"
)

// UnknownHierarchy is returned for roles missing from the catalog. It loses every comparison.
const UnknownHierarchy = 1000

// Role is a named rank. Lower hierarchy means more privileged.
type Role struct {
	ID        int64
	Name      RoleName
	Hierarchy int
}

// Principal is the authenticated actor of a request.
type Principal struct {
	UserID int64
	Role   RoleName
}

// IsZero reports whether the principal is anonymous.
func (p Principal) IsZero() bool {
	return p.UserID == 0
}

// ResourceKind names a family of resources sharing one policy.
type ResourceKind string

const (
	KindClient    ResourceKind = "client"
	KindNote      ResourceKind = "note"
	KindUser      ResourceKind = "user"
	KindDashboard ResourceKind = "dashboard"
)

// Resource is the subject of an authorization decision.
type Resource struct {
	Kind    ResourceKind
	ID      int64
	OwnerID *int64
}

// OwnedBy builds a resource with the given owner.
func OwnedBy(kind ResourceKind, id, owner int64) Resource {
	return Resource{Kind: kind, ID: id, OwnerID: &owner}
}

// Unowned builds a resource without owner.
func Unowned(kind ResourceKind, id int64) Resource {
	return Resource{Kind: kind, ID: id}
}

func (r Resource) ownedBy(userID int64) bool {
	return r.OwnerID != nil && userID != 0 && *r.OwnerID == userID
}

// Action is one of the CRUD verbs.
type Action int

const (
	ActionCreate Action = iota + 1
	ActionRead
	ActionUpdate
	ActionDelete
)

var actionNames = map[Action]string{
	ActionCreate: "create",
	ActionRead:   "read",
	ActionUpdate: "update",
	ActionDelete: "delete",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown"
}

// ParseAction converts a lowercase verb into an Action.
func ParseAction(s string) (Action, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for action, name := range actionNames {
		if name == s {
			return action, true
		}
	}
	return 0, false
}

// Capability is an action optionally scoped to a column.
type Capability struct {
	Action Action
	Column string
}

// Can builds a capability on the general fields.
func Can(action Action) Capability {
	return Capability{Action: action}
}

// CanColumn builds a column scoped capability.
func CanColumn(action Action, column string) Capability {
	return Capability{Action: action, Column: column}
}

func (c Capability) String() string {
	if c.Column == "" {
		return c.Action.String()
	}
	return c.Action.String() + ":" + c.Column
}

// Privilege is the cumulative right rendered to the view layer.
type Privilege int

const (
	PrivilegeNone Privilege = iota
	PrivilegeRead
	PrivilegeCreateRead
	PrivilegeCreateReadUpdate
	PrivilegeAll
)

var privilegeTokens = map[Privilege]string{
	PrivilegeNone:             "N",
	PrivilegeRead:             "R",
	PrivilegeCreateRead:       "CR",
	PrivilegeCreateReadUpdate: "CRU",
	PrivilegeAll:              "CRUD",
}

// String renders the token consumed by templates and JSON payloads.
func (p Privilege) String() string {
	if token, ok := privilegeTokens[p]; ok {
		return token
	}
	return "N"
}

// MarshalText encodes the privilege as its token.
func (p Privilege) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ParsePrivilege converts a token back into a Privilege.
func ParsePrivilege(token string) (Privilege, bool) {
	for p, t := range privilegeTokens {
		if t == token {
			return p, true
		}
	}
	return PrivilegeNone, false
}

// Has reports whether the privilege includes the action.
func (p Privilege) Has(action Action) bool {
	switch action {
	case ActionRead:
		return p >= PrivilegeRead
	case ActionCreate:
		return p >= PrivilegeCreateRead
	case ActionUpdate:
		return p >= PrivilegeCreateReadUpdate
	case ActionDelete:
		return p == PrivilegeAll
	}
	return false
}
