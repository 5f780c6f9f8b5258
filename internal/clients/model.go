package clients

import (
	"time"

	"github.com/caseflow/caseflow/internal/authz"
)

// Column groups authorized on their own.
const (
	ColumnPersonalInfo = "personal_info"
	ColumnStatus       = "client_status_id"
	ColumnAssignment   = "user_id"
	ColumnDeleted      = "deleted_at"
)

type Client struct {
	ID              int64      `json:"id"`
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	Birthdate       *time.Time `json:"birthdate,omitempty"`
	Location        *string    `json:"location,omitempty"`
	Phone           *string    `json:"phone,omitempty"`
	Email           *string    `json:"email,omitempty"`
	Sex             *string    `json:"sex,omitempty"`
	ClientMessage   *string    `json:"client_message,omitempty"`
	VulnerableSince *time.Time `json:"vulnerable_since,omitempty"`
	UserID          *int64     `json:"user_id,omitempty"`
	OwnerName       string     `json:"owner_name,omitempty"`
	ClientStatusID  *int64     `json:"client_status_id,omitempty"`
	StatusName      string     `json:"status_name,omitempty"`
	AssignedAt      *time.Time `json:"assigned_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
}

// FullName joins first and last name.
func (c Client) FullName() string {
	return c.FirstName + " " + c.LastName
}

// Resource is the authorization subject of the client.
func (c Client) Resource() authz.Resource {
	if c.UserID == nil {
		return authz.Unowned(authz.KindClient, c.ID)
	}
	return authz.OwnedBy(authz.KindClient, c.ID, *c.UserID)
}

type Status struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Listed is a client row with the caller's verdict on its personal info.
type Listed struct {
	Client
	Privilege authz.Privilege `json:"privilege"`
}

// Privileges holds the verdicts rendered on the client page.
type Privileges struct {
	PersonalInfo authz.Privilege `json:"personal_info"`
	Status       authz.Privilege `json:"status"`
	Assignment   authz.Privilege `json:"assignment"`
	Notes        authz.Privilege `json:"notes"`
	Deleted      authz.Privilege `json:"deleted"`
}

type Detail struct {
	Client     Client     `json:"client"`
	Privileges Privileges `json:"privileges"`
}
