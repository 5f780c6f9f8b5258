package users

import "github.com/caseflow/caseflow/internal/shared"

type CreateUserRequest struct {
	FirstName      string `json:"first_name" validate:"required,max=100"`
	Surname        string `json:"surname" validate:"required,max=100"`
	Email          string `json:"email" validate:"required,email,max=254"`
	RoleID         int64  `json:"user_role_id" validate:"required,gt=0"`
	Status         Status `json:"status" validate:"omitempty,oneof=unverified active locked suspended"`
	Password       string `json:"password" validate:"omitempty,min=8,max=72"`
	Language       string `json:"language" validate:"omitempty,len=2"`
	IdempotencyKey string `json:"idempotency_key" validate:"omitempty,max=64"`
}

type UpdateUserRequest struct {
	FirstName *string `json:"first_name,omitempty" validate:"omitempty,min=1,max=100"`
	Surname   *string `json:"surname,omitempty" validate:"omitempty,min=1,max=100"`
	Email     *string `json:"email,omitempty" validate:"omitempty,email,max=254"`
	RoleID    *int64  `json:"user_role_id,omitempty" validate:"omitempty,gt=0"`
	Status    *Status `json:"status,omitempty" validate:"omitempty,oneof=unverified active locked suspended"`
	Theme     *string `json:"theme,omitempty" validate:"omitempty,oneof=light dark"`
	Language  *string `json:"language,omitempty" validate:"omitempty,len=2"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=72"`
}

type ListUsersRequest struct {
	Search string
	Status Status
	// OnlyID restricts the listing to one user, for callers that may only read themselves.
	OnlyID int64
	Page   shared.PageRequest
}
