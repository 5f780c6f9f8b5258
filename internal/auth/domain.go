package auth

import (
	"errors"
	"time"
)

// ResetTokenTTL is how long a password reset link stays valid.
const ResetTokenTTL = 2 * time.Hour

// ErrInvalidResetToken is returned for unknown, used or expired reset tokens.
var ErrInvalidResetToken = errors.New("invalid or expired reset token")

// Credentials is the login view of a user account.
type Credentials struct {
	UserID       int64
	Email        string
	FirstName    string
	PasswordHash string
	Status       string
}

// Active reports whether the account may sign in.
func (c Credentials) Active() bool {
	return c.Status == "active"
}

// CanReset reports whether the account may receive a reset link. Unverified accounts choose
// their first password through it.
func (c Credentials) CanReset() bool {
	return c.Status == "active" || c.Status == "unverified"
}

type LoginRequest struct {
	Email    string `validate:"required,email,max=254"`
	Password string `validate:"required,max=128"`
	Captcha  string
	IP       string
}

type ForgotPasswordRequest struct {
	Email   string `validate:"required,email,max=254"`
	Captcha string
	IP      string
}

type ResetPasswordRequest struct {
	Token           string `validate:"required,uuid"`
	Password        string `validate:"required,min=8,max=128"`
	PasswordConfirm string `validate:"required,eqfield=Password"`
}
