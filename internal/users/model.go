package users

import (
	"time"

	"github.com/caseflow/caseflow/internal/authz"
	"github.com/caseflow/caseflow/internal/roles"
)

// Status is the lifecycle state of an account. Only active accounts may sign in.
type Status string

const (
	StatusUnverified Status = "unverified"
	StatusActive     Status = "active"
	StatusLocked     Status = "locked"
	StatusSuspended  Status = "suspended"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusUnverified, StatusActive, StatusLocked, StatusSuspended}

// User is an application account.
type User struct {
	ID           int64          `json:"id"`
	FirstName    string         `json:"first_name"`
	Surname      string         `json:"surname"`
	Email        string         `json:"email"`
	RoleID       int64          `json:"user_role_id"`
	Role         authz.RoleName `json:"role"`
	Status       Status         `json:"status"`
	Theme        string         `json:"theme"`
	Language     string         `json:"language"`
	PasswordHash string         `json:"-"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    *time.Time     `json:"deleted_at,omitempty"`
}

// FullName joins first name and surname.
func (u User) FullName() string {
	if u.Surname == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.Surname
}

// Listed is a user row with the caller's verdict on it.
type Listed struct {
	User
	Privilege authz.Privilege `json:"privilege"`
}

// Detail is the user page model.
type Detail struct {
	User            User            `json:"user"`
	Privilege       authz.Privilege `json:"privilege"`
	CanChangeRole   bool            `json:"can_change_role"`
	CanChangeStatus bool            `json:"can_change_status"`
	CanDelete       bool            `json:"can_delete"`
	AssignableRoles []roles.Option  `json:"assignable_roles,omitempty"`
}
