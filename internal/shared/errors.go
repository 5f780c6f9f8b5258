package shared

import (
	"errors"

	"github.com/go-playground/validator/v10"

	"github.com/caseflow/caseflow/internal/authz"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrForbidden indicates the principal lacks the privilege for an action.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict indicates a uniqueness violation.
	ErrConflict = errors.New("conflict")
	// ErrInvalidInput indicates a request failed validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)

// UserSafeMessage maps an error to text that can be shown to end users without leaking internals.
func UserSafeMessage(err error) string {
	var verrs validator.ValidationErrors
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verrs):
		return "Please check the highlighted fields."
	case errors.Is(err, ErrNotFound):
		return "The requested record does not exist."
	case errors.Is(err, ErrForbidden), errors.Is(err, authz.ErrForbidden):
		return "You are not allowed to perform this action."
	case errors.Is(err, ErrConflict), errors.Is(err, ErrIdempotencyConflict):
		return "This record was already submitted or conflicts with an existing one."
	case errors.Is(err, ErrInvalidInput):
		return "The submitted data is invalid."
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid email or password."
	default:
		return "Something went wrong. Please try again."
	}
}

// FieldErrors flattens validator errors into a field name to message map.
func FieldErrors(err error) map[string]string {
	out := make(map[string]string)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return out
	}
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			out[fe.Field()] = "This field is required."
		case "email":
			out[fe.Field()] = "Enter a valid email address."
		case "min":
			out[fe.Field()] = "Must be at least " + fe.Param() + " characters."
		case "max":
			out[fe.Field()] = "Must be at most " + fe.Param() + " characters."
		default:
			out[fe.Field()] = "Invalid value."
		}
	}
	return out
}
