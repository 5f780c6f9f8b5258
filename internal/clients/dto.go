package clients

import "github.com/caseflow/caseflow/internal/shared"

type CreateClientRequest struct {
	FirstName       string `json:"first_name" validate:"required,max=100"`
	LastName        string `json:"last_name" validate:"required,max=100"`
	Birthdate       string `json:"birthdate" validate:"omitempty,datetime=2006-01-02"`
	Location        string `json:"location" validate:"omitempty,max=200"`
	Phone           string `json:"phone" validate:"omitempty,max=50"`
	Email           string `json:"email" validate:"omitempty,email,max=254"`
	Sex             string `json:"sex" validate:"omitempty,oneof=M F O"`
	ClientMessage   string `json:"client_message" validate:"omitempty,max=2000"`
	VulnerableSince string `json:"vulnerable_since" validate:"omitempty,datetime=2006-01-02"`
	UserID          *int64 `json:"user_id,omitempty" validate:"omitempty,gt=0"`
	ClientStatusID  *int64 `json:"client_status_id,omitempty" validate:"omitempty,gt=0"`
	IdempotencyKey  string `json:"idempotency_key" validate:"omitempty,max=64"`
}

// UpdateClientRequest carries only the changed fields. An empty string clears an optional
// field; UserID 0 unassigns the client.
type UpdateClientRequest struct {
	FirstName       *string `json:"first_name,omitempty" validate:"omitempty,min=1,max=100"`
	LastName        *string `json:"last_name,omitempty" validate:"omitempty,min=1,max=100"`
	Birthdate       *string `json:"birthdate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Location        *string `json:"location,omitempty" validate:"omitempty,max=200"`
	Phone           *string `json:"phone,omitempty" validate:"omitempty,max=50"`
	Email           *string `json:"email,omitempty" validate:"omitempty,email,max=254"`
	Sex             *string `json:"sex,omitempty" validate:"omitempty,oneof=M F O"`
	ClientMessage   *string `json:"client_message,omitempty" validate:"omitempty,max=2000"`
	VulnerableSince *string `json:"vulnerable_since,omitempty" validate:"omitempty,datetime=2006-01-02"`
	UserID          *int64  `json:"user_id,omitempty" validate:"omitempty,gte=0"`
	ClientStatusID  *int64  `json:"client_status_id,omitempty" validate:"omitempty,gt=0"`
	Restore         bool    `json:"restore,omitempty"`
}

type ListClientsRequest struct {
	UserID     *int64
	StatusID   *int64
	Unassigned bool
	Deleted    bool
	Search     string
	Page       shared.PageRequest
}
